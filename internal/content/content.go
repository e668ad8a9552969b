// Package content resolves the best-effort plain-text rendering of a paper,
// trying strategies in order (rendered HTML, then PDF via the LLM file API,
// then the abstract) and bounding the result to a character budget.
package content

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/arxivdigest/internal/arxiv"
	"github.com/hyperifyio/arxivdigest/internal/extract"
	"github.com/hyperifyio/arxivdigest/internal/fetch"
	"github.com/hyperifyio/arxivdigest/internal/llm"
	"github.com/hyperifyio/arxivdigest/internal/robots"
)

// Kind tags which strategy produced a Source.
type Kind int

const (
	KindHTMLRendition Kind = iota
	KindPDFExtraction
	KindAbstractOnly
)

func (k Kind) String() string {
	switch k {
	case KindHTMLRendition:
		return "html_rendition"
	case KindPDFExtraction:
		return "pdf_extraction"
	default:
		return "abstract_only"
	}
}

// Source is the best-effort text content resolved for one paper.
type Source struct {
	Kind      Kind
	Text      string
	Truncated bool
}

const truncationMarker = "\n\n[content truncated]\n"

// Resolver tries each content strategy in order and returns the first one
// that yields non-empty text.
type Resolver struct {
	// HTMLBaseURL is the rendition service base, e.g. "https://arxiv.org/html/".
	HTMLBaseURL string
	HTTPClient  *fetch.Client
	// LLM is optional. PDF extraction is unavailable when nil or when it
	// does not implement llm.FileUploader.
	LLM   llm.Client
	Model string
	// CharBudget bounds the returned text length. Zero means 12,000.
	CharBudget int
	// Robots is optional. When set, HTML rendition fetches honor its
	// robots.txt rules for HTTPClient.UserAgent; nil means no robots check.
	Robots *robots.Manager
	// Extractor converts fetched HTML into a Document. Defaults to
	// extract.HeuristicExtractor{} when nil.
	Extractor extract.Extractor
}

func (r *Resolver) extractor() extract.Extractor {
	if r.Extractor == nil {
		return extract.HeuristicExtractor{}
	}
	return r.Extractor
}

func (r *Resolver) charBudget() int {
	if r.CharBudget <= 0 {
		return 12_000
	}
	return r.CharBudget
}

// Resolve returns the best available content for cand, falling back through
// HTML rendition, PDF extraction, and finally the abstract. It never returns
// an error: the AbstractOnly strategy always succeeds.
func (r *Resolver) Resolve(ctx context.Context, cand arxiv.PaperCandidate) Source {
	if text, ok := r.tryHTML(ctx, cand); ok {
		return r.finish(KindHTMLRendition, text)
	}
	if text, ok := r.tryPDF(ctx, cand); ok {
		return r.finish(KindPDFExtraction, text)
	}
	return r.finish(KindAbstractOnly, cand.Abstract)
}

func (r *Resolver) finish(kind Kind, text string) Source {
	text = collapseBlankRuns(strings.TrimSpace(text))
	budget := r.charBudget()
	if len(text) <= budget {
		return Source{Kind: kind, Text: text}
	}
	return Source{Kind: kind, Text: text[:budget] + truncationMarker, Truncated: true}
}

var blankRunRe = regexp.MustCompile(`\n{3,}`)

func collapseBlankRuns(s string) string {
	return blankRunRe.ReplaceAllString(s, "\n\n")
}

func (r *Resolver) tryHTML(ctx context.Context, cand arxiv.PaperCandidate) (string, bool) {
	if r.HTTPClient == nil || strings.TrimSpace(r.HTMLBaseURL) == "" {
		return "", false
	}
	url := strings.TrimRight(r.HTMLBaseURL, "/") + "/" + cand.ArxivID
	if !r.robotsAllow(ctx, url) {
		return "", false
	}
	body, _, err := r.HTTPClient.Get(ctx, url)
	if err != nil || len(body) == 0 {
		return "", false
	}
	doc := r.extractor().Extract(body)
	if strings.TrimSpace(doc.Text) == "" {
		return "", false
	}
	return doc.Text, true
}

// robotsAllow reports whether renditionURL may be fetched, consulting
// Robots when configured. It fails open: any error resolving robots.txt is
// treated as allowed, since a missing or unreachable robots.txt imposes no
// restriction under the standard.
func (r *Resolver) robotsAllow(ctx context.Context, renditionURL string) bool {
	if r.Robots == nil {
		return true
	}
	u, err := url.Parse(renditionURL)
	if err != nil {
		return true
	}
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
	rules, _, err := r.Robots.Get(ctx, robotsURL)
	if err != nil {
		return true
	}
	agent := "*"
	if r.HTTPClient != nil && r.HTTPClient.UserAgent != "" {
		agent = r.HTTPClient.UserAgent
	}
	return rules.IsAllowed(agent, u.Path)
}

func (r *Resolver) tryPDF(ctx context.Context, cand arxiv.PaperCandidate) (string, bool) {
	uploader, ok := r.LLM.(llm.FileUploader)
	if !ok || r.LLM == nil || strings.TrimSpace(cand.PdfURL) == "" || strings.TrimSpace(r.Model) == "" {
		return "", false
	}

	pdfClient := &fetch.Client{
		HTTPClient:          r.HTTPClient.HTTPClient,
		UserAgent:           r.HTTPClient.UserAgent,
		MaxAttempts:         r.HTTPClient.MaxAttempts,
		PerRequestTimeout:   30 * time.Second,
		AllowedContentTypes: []string{"application/pdf"},
	}
	body, _, err := pdfClient.Get(ctx, cand.PdfURL)
	if err != nil || len(body) == 0 {
		return "", false
	}

	tmp, err := os.CreateTemp("", cand.ArxivID+"-*.pdf")
	if err != nil {
		return "", false
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return "", false
	}
	if err := tmp.Close(); err != nil {
		return "", false
	}

	fileID, err := uploader.UploadFile(ctx, tmpPath)
	if err != nil {
		return "", false
	}
	defer func() { _ = uploader.DeleteFile(ctx, fileID) }()

	resp, err := r.LLM.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "Extract the full body text of the attached research paper as plain text, preserving section order. Output only the extracted text."},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("file_id=%s title=%q", fileID, cand.Title)},
		},
		Temperature: 0,
	})
	if err != nil || len(resp.Choices) == 0 {
		return "", false
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", false
	}
	return text, true
}
