package digest

import (
	"context"
	"testing"
	"time"

	"github.com/hyperifyio/arxivdigest/internal/arxiv"
	"github.com/hyperifyio/arxivdigest/internal/config"
	"github.com/hyperifyio/arxivdigest/internal/orchestrator"
	"github.com/hyperifyio/arxivdigest/internal/rank"
	"github.com/hyperifyio/arxivdigest/internal/report"
)

func TestPublish_NoOpWhenDisabled(t *testing.T) {
	p := &Publisher{Config: config.EmailConfig{Enabled: false}}
	if err := p.Publish(context.Background(), orchestrator.PipelineResult{}); err != nil {
		t.Fatalf("expected no-op, got error: %v", err)
	}
}

func TestPublish_NoOpWhenMissingRequiredFields(t *testing.T) {
	p := &Publisher{Config: config.EmailConfig{Enabled: true}}
	if err := p.Publish(context.Background(), orchestrator.PipelineResult{}); err != nil {
		t.Fatalf("expected no-op on missing config, got error: %v", err)
	}
}

func TestBuildView_CountsSelectedPapersAcrossTopics(t *testing.T) {
	result := orchestrator.PipelineResult{
		Topics: []orchestrator.TopicResult{
			{
				Topic: config.Topic{Name: "a", Label: "A"},
				Papers: []report.PaperSummary{
					{Scored: rank.ScoredPaper{Paper: arxiv.PaperCandidate{Title: "P1"}, NormalizedScore: 70}},
					{Scored: rank.ScoredPaper{Paper: arxiv.PaperCandidate{Title: "P2"}, NormalizedScore: 80}},
				},
			},
			{Topic: config.Topic{Name: "b", Label: "B"}},
		},
	}
	view, count := buildView(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), result)
	if count != 2 {
		t.Fatalf("expected 2 selected papers, got %d", count)
	}
	if view.PaperCount != 2 {
		t.Fatalf("expected view paper count 2, got %d", view.PaperCount)
	}
	if len(view.Topics) != 2 {
		t.Fatalf("expected 2 topic sections, got %d", len(view.Topics))
	}
}

func TestRenderSubject_SubstitutesPlaceholders(t *testing.T) {
	now := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	got := renderSubject("Digest for {run_date}: {paper_count} papers", now, 3)
	want := "Digest for 2024-01-15: 3 papers"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestRenderSubject_DefaultWhenTemplateEmpty(t *testing.T) {
	now := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	got := renderSubject("", now, 0)
	if got == "" {
		t.Fatalf("expected a non-empty default subject")
	}
}
