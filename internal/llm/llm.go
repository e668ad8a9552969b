// Package llm exposes a single LLM capability — chat completions, and
// optionally file upload for PDF extraction — rather than one client per
// pipeline stage. Callers select the model per call via the request's Model
// field, so a relevance call and a summarization call can share one client
// even when configured with different model names.
package llm

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
)

// Client is the minimal interface needed to drive a chat model. Any
// OpenAI-compatible backend satisfies it.
type Client interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// FileUploader is an optional capability used by the PDF content fetcher.
// Callers use a type assertion to detect support; a Client that does not
// implement it simply can't serve PDF extraction, and the content resolver
// falls back to the next strategy. UploadFile takes a path on disk because
// the SDK's file API streams from a local file rather than an in-memory
// buffer.
type FileUploader interface {
	UploadFile(ctx context.Context, filePath string) (fileID string, err error)
	DeleteFile(ctx context.Context, fileID string) error
}

// OpenAIProvider adapts *openai.Client to Client and FileUploader.
type OpenAIProvider struct {
	Inner *openai.Client
}

func (p *OpenAIProvider) CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return p.Inner.CreateChatCompletion(ctx, request)
}

func (p *OpenAIProvider) UploadFile(ctx context.Context, filePath string) (string, error) {
	f, err := p.Inner.CreateFile(ctx, openai.FileRequest{
		FileName: filePath,
		FilePath: filePath,
		Purpose:  "assistants",
	})
	if err != nil {
		return "", err
	}
	return f.ID, nil
}

func (p *OpenAIProvider) DeleteFile(ctx context.Context, fileID string) error {
	return p.Inner.DeleteFile(ctx, fileID)
}

// New builds an *openai.Client configured against baseURL (empty keeps the
// SDK default).
func New(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}
