// Package orchestrator sequences the pipeline: for each configured topic it
// fetches candidates, ranks them, reads the selected papers, and builds their
// summaries, then hands the accumulated result to the static-site and email
// publishers. Ordering is deterministic; only the reading stage is allowed
// to run several papers concurrently, bounded by runtime.max_concurrency.
package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/arxivdigest/internal/arxiv"
	"github.com/hyperifyio/arxivdigest/internal/config"
	"github.com/hyperifyio/arxivdigest/internal/content"
	"github.com/hyperifyio/arxivdigest/internal/rank"
	"github.com/hyperifyio/arxivdigest/internal/reading"
	"github.com/hyperifyio/arxivdigest/internal/report"
)

// TopicResult is the accumulated, ranker-ordered output for one topic.
type TopicResult struct {
	Topic  config.Topic
	Papers []report.PaperSummary
}

// PipelineResult is the full run's output, in configured topic order.
type PipelineResult struct {
	Topics      []TopicResult
	GeneratedAt time.Time
	Canceled    bool
}

// SitePublisher writes the static site from a completed PipelineResult.
type SitePublisher interface {
	Publish(ctx context.Context, result PipelineResult) error
}

// DigestPublisher composes and sends the email digest. It must itself treat
// being disabled or misconfigured as a no-op, never an error.
type DigestPublisher interface {
	Publish(ctx context.Context, result PipelineResult) error
}

// Orchestrator wires every stage together for one run.
type Orchestrator struct {
	Config  config.Pipeline
	Archive *arxiv.Client
	Content *content.Resolver
	Ranker  *rank.Ranker
	Reading *reading.Engine
	Report  *report.Builder
	Site    SitePublisher
	Digest  DigestPublisher

	// Now is overridable for deterministic tests.
	Now func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UTC()
}

// Run executes the full pipeline. A non-nil error indicates the run was
// canceled or terminated early; PipelineResult still holds every summary
// completed before that point and publishers have already run over it.
func (o *Orchestrator) Run(ctx context.Context) (PipelineResult, error) {
	result := PipelineResult{GeneratedAt: o.now()}

	topics := o.Config.Topics
	for i, topic := range topics {
		if ctx.Err() != nil {
			result.Canceled = true
			break
		}
		log.Info().Msgf("(%d/%d) Fetching topic %s", i+1, len(topics), topic.Label)

		candidates := o.Archive.Fetch(ctx, topic, o.Config.Fetch)
		if len(candidates) == 0 && o.Config.Runtime.Mode == config.ModeOffline {
			candidates = []arxiv.PaperCandidate{demoCandidate(topic, o.now())}
		}
		log.Info().Str("topic", topic.Name).Int("count", len(candidates)).Msg("fetched candidates")

		if limit := o.Config.Runtime.PaperLimit; limit > 0 && len(candidates) > limit {
			candidates = candidates[:limit]
		}

		scored := o.Ranker.Score(ctx, topic, o.Config.Relevance.ScoringDimensions, candidates)
		selected := make([]rank.ScoredPaper, 0, len(scored))
		for _, s := range scored {
			if s.Include {
				selected = append(selected, s)
			}
		}
		log.Info().Str("topic", topic.Name).Int("count", len(selected)).Msg("selected above threshold")

		papers, topicCanceled := o.readTopic(ctx, topic, selected)
		result.Topics = append(result.Topics, TopicResult{Topic: topic, Papers: papers})
		if topicCanceled {
			result.Canceled = true
			break
		}
	}

	if o.Site != nil {
		if err := o.Site.Publish(ctx, result); err != nil {
			return result, fmt.Errorf("static site publish: %w", err)
		}
	}
	if o.Digest != nil {
		if err := o.Digest.Publish(ctx, result); err != nil {
			log.Warn().Err(err).Msg("email digest publish failed; continuing")
		}
	}

	if result.Canceled {
		return result, context.Canceled
	}
	return result, nil
}

// readTopic runs the reading engine and report builder over selected in
// ranker order, bounded by max_concurrency in-flight at once. It returns as
// soon as cancellation is observed, keeping whatever finished.
func (o *Orchestrator) readTopic(ctx context.Context, topic config.Topic, selected []rank.ScoredPaper) ([]report.PaperSummary, bool) {
	concurrency := o.Config.Runtime.MaxConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	summaries := make([]report.PaperSummary, len(selected))
	done := make([]bool, len(selected))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	canceled := false
	completed := 0

	for i, scored := range selected {
		if ctx.Err() != nil {
			mu.Lock()
			canceled = true
			mu.Unlock()
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, scored rank.ScoredPaper) {
			defer wg.Done()
			defer func() { <-sem }()

			text := o.resolveContent(ctx, scored.Paper)
			result := o.Reading.Read(ctx, topic, scored.Paper, text)
			summary := o.Report.Build(topic.Label, scored, result)

			mu.Lock()
			summaries[i] = summary
			done[i] = true
			completed++
			n := completed
			mu.Unlock()
			log.Info().Str("arxiv_id", scored.Paper.ArxivID).Str("title", scored.Paper.Title).Float64("score", scored.NormalizedScore).Int("completed", n).Msg("paper processed")
		}(i, scored)
	}
	wg.Wait()

	out := make([]report.PaperSummary, 0, len(selected))
	for i := range selected {
		if done[i] {
			out = append(out, summaries[i])
		}
	}
	return out, canceled
}

// resolveContent returns the best-effort text for p. With no resolver wired,
// it falls back to the abstract, matching content.Resolver's own last resort.
func (o *Orchestrator) resolveContent(ctx context.Context, p arxiv.PaperCandidate) string {
	if o.Content == nil {
		return p.Abstract
	}
	return o.Content.Resolve(ctx, p).Text
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonAlnum.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

func demoCandidate(topic config.Topic, now time.Time) arxiv.PaperCandidate {
	slug := slugify(topic.Label)
	if slug == "" {
		slug = slugify(topic.Name)
	}
	if slug == "" {
		slug = "topic"
	}
	id := fmt.Sprintf("demo-%s-%s", slug, now.Format("0102"))
	return arxiv.PaperCandidate{
		ArxivID:    id,
		Title:      fmt.Sprintf("A Synthetic Demonstration Paper for %s", topic.Label),
		Abstract:   fmt.Sprintf("This is a synthetic placeholder abstract generated because no live candidates were available for topic %q in offline mode. It stands in for demonstration purposes only.", topic.Label),
		Authors:    []string{"Demo Author"},
		Categories: topic.Query.Categories,
		Published:  now,
		Updated:    now,
		ArxivURL:   "https://arxiv.org/abs/" + id,
		PdfURL:     "",
	}
}
