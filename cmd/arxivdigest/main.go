package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/hyperifyio/arxivdigest/internal/arxiv"
	"github.com/hyperifyio/arxivdigest/internal/cache"
	"github.com/hyperifyio/arxivdigest/internal/config"
	"github.com/hyperifyio/arxivdigest/internal/content"
	"github.com/hyperifyio/arxivdigest/internal/digest"
	"github.com/hyperifyio/arxivdigest/internal/fetch"
	"github.com/hyperifyio/arxivdigest/internal/llm"
	"github.com/hyperifyio/arxivdigest/internal/orchestrator"
	"github.com/hyperifyio/arxivdigest/internal/rank"
	"github.com/hyperifyio/arxivdigest/internal/reading"
	"github.com/hyperifyio/arxivdigest/internal/report"
	"github.com/hyperifyio/arxivdigest/internal/robots"
	"github.com/hyperifyio/arxivdigest/internal/site"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if len(os.Args) < 2 || os.Args[1] != "run" {
		fmt.Fprintln(os.Stderr, "usage: arxivdigest run [flags]")
		os.Exit(2)
	}

	flags, err := parseRunFlags(os.Args[2:])
	if err != nil {
		log.Error().Err(err).Msg("invalid flags")
		os.Exit(2)
	}

	pipeline, err := loadConfig(flags)
	if err != nil {
		log.Error().Err(err).Msg("config validation failed")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runPipeline(ctx, pipeline); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn().Msg("run canceled; publishers ran over partial results")
			os.Exit(1)
		}
		log.Error().Err(err).Msg("run failed")
		os.Exit(1)
	}
}

type runFlags struct {
	configPath string
	mode       string
	paperLimit int
	emailSet   bool
	email      bool
}

func parseRunFlags(args []string) (runFlags, error) {
	flags := runFlags{configPath: "config/pipeline.yaml"}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				return flags, fmt.Errorf("--config requires a value")
			}
			flags.configPath = args[i]
		case "--mode":
			i++
			if i >= len(args) {
				return flags, fmt.Errorf("--mode requires a value")
			}
			flags.mode = args[i]
		case "--paper-limit":
			i++
			if i >= len(args) {
				return flags, fmt.Errorf("--paper-limit requires a value")
			}
			n, err := parseInt(args[i])
			if err != nil {
				return flags, fmt.Errorf("--paper-limit: %w", err)
			}
			flags.paperLimit = n
		case "--email":
			flags.emailSet, flags.email = true, true
		case "--no-email":
			flags.emailSet, flags.email = true, false
		default:
			return flags, fmt.Errorf("unknown flag %q", args[i])
		}
	}
	return flags, nil
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

func loadConfig(flags runFlags) (config.Pipeline, error) {
	var pipeline config.Pipeline

	data, err := os.ReadFile(flags.configPath)
	if err != nil {
		return pipeline, fmt.Errorf("read config %s: %w", flags.configPath, err)
	}
	if err := yaml.Unmarshal(data, &pipeline); err != nil {
		return pipeline, fmt.Errorf("parse config %s: %w", flags.configPath, err)
	}

	config.ExpandAll(&pipeline)

	if flags.mode != "" {
		pipeline.Runtime.Mode = config.Mode(flags.mode)
	}
	if flags.paperLimit > 0 {
		pipeline.Runtime.PaperLimit = flags.paperLimit
	}
	if flags.emailSet {
		pipeline.Email.Enabled = flags.email
	}

	if errs := config.Validate(pipeline); len(errs) > 0 {
		for _, e := range errs {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return pipeline, fmt.Errorf("%d configuration error(s)", len(errs))
	}
	return pipeline, nil
}

func runPipeline(ctx context.Context, pipeline config.Pipeline) error {
	var cacheDir string
	if pipeline.Runtime.CacheEnabled {
		cacheDir = pipeline.Runtime.CacheDir
		if cacheDir == "" {
			cacheDir = ".arxivdigest-cache"
		}
	}

	var llmCache *cache.LLMCache
	if cacheDir != "" {
		llmCache = &cache.LLMCache{Dir: cacheDir}
	}

	var llmClient llm.Client
	if pipeline.Runtime.Mode == config.ModeOnline {
		openaiClient := llm.New(pipeline.OpenAI.APIKey, pipeline.OpenAI.BaseURL)
		llmClient = &llm.OpenAIProvider{Inner: openaiClient}
	}

	httpClient := &fetch.Client{HTTPClient: &http.Client{Timeout: 30 * time.Second}, UserAgent: "arxivdigest/1.0"}

	archiveClient := &arxiv.Client{HTTPClient: httpClient.HTTPClient}

	var robotsCache *cache.HTTPCache
	if cacheDir != "" {
		robotsCache = &cache.HTTPCache{Dir: cacheDir}
	}
	robotsManager := &robots.Manager{
		HTTPClient: httpClient.HTTPClient,
		Cache:      robotsCache,
		UserAgent:  httpClient.UserAgent,
	}

	ranker := &rank.Ranker{
		Client:        llmClient,
		Cache:         llmCache,
		Model:         pipeline.OpenAI.RelevanceModel,
		PassThreshold: pipeline.Relevance.PassThreshold,
	}

	contentResolver := &content.Resolver{
		HTMLBaseURL: "https://arxiv.org/html/",
		HTTPClient:  httpClient,
		LLM:         llmClient,
		Model:       pipeline.OpenAI.SummarizationModel,
		Robots:      robotsManager,
	}

	readingEngine := &reading.Engine{
		Client:             llmClient,
		Cache:              llmCache,
		Model:              pipeline.OpenAI.SummarizationModel,
		TaskListSize:       pipeline.Summarization.TaskListSize,
		MaxQuestionRetries: pipeline.Summarization.MaxQuestionRetries,
	}

	reportBuilder := &report.Builder{}

	orch := &orchestrator.Orchestrator{
		Config:  pipeline,
		Archive: archiveClient,
		Content: contentResolver,
		Ranker:  ranker,
		Reading: readingEngine,
		Report:  reportBuilder,
		Site: &site.Publisher{
			OutputDir: pipeline.Site.OutputDir,
			BaseURL:   pipeline.Site.BaseURL,
		},
		Digest: &digest.Publisher{Config: pipeline.Email},
	}

	_, err := orch.Run(ctx)
	return err
}
