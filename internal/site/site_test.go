package site

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperifyio/arxivdigest/internal/arxiv"
	"github.com/hyperifyio/arxivdigest/internal/config"
	"github.com/hyperifyio/arxivdigest/internal/orchestrator"
	"github.com/hyperifyio/arxivdigest/internal/rank"
	"github.com/hyperifyio/arxivdigest/internal/report"
)

func TestPublish_WritesIndexAndManifestForEmptyTopic(t *testing.T) {
	dir := t.TempDir()
	p := &Publisher{OutputDir: dir, BaseURL: "https://example.com"}

	result := orchestrator.PipelineResult{
		GeneratedAt: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Topics: []orchestrator.TopicResult{
			{Topic: config.Topic{Name: "retrieval", Label: "Retrieval"}, Papers: nil},
		},
	}

	if err := p.Publish(context.Background(), result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	indexPath := filepath.Join(dir, "index.html")
	indexBytes, err := os.ReadFile(indexPath)
	if err != nil {
		t.Fatalf("expected index.html to exist: %v", err)
	}
	if !contains(string(indexBytes), "No papers met") {
		t.Fatalf("expected empty-state message in index, got: %s", indexBytes)
	}

	manifestBytes, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		t.Fatalf("expected manifest.json to exist: %v", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		t.Fatalf("invalid manifest json: %v", err)
	}
	if len(manifest.Topics["retrieval"]) != 0 {
		t.Fatalf("expected empty topic entry, got %+v", manifest.Topics)
	}
}

func TestPublish_WritesPerPaperPage(t *testing.T) {
	dir := t.TempDir()
	p := &Publisher{OutputDir: dir}

	summary := report.PaperSummary{
		Scored: rank.ScoredPaper{
			Paper: arxiv.PaperCandidate{ArxivID: "2401.00001", Title: "Test Paper"},
		},
		Markdown: "# Test Paper\n\nBody text.",
	}
	result := orchestrator.PipelineResult{
		Topics: []orchestrator.TopicResult{
			{Topic: config.Topic{Name: "retrieval", Label: "Retrieval"}, Papers: []report.PaperSummary{summary}},
		},
	}

	if err := p.Publish(context.Background(), result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pagePath := filepath.Join(dir, "topics", "retrieval", "2401.00001.html")
	if _, err := os.Stat(pagePath); err != nil {
		t.Fatalf("expected paper page to exist: %v", err)
	}

	manifestBytes, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		t.Fatalf("expected manifest.json: %v", err)
	}
	var manifest Manifest
	_ = json.Unmarshal(manifestBytes, &manifest)
	if len(manifest.Topics["retrieval"]) != 1 || manifest.Topics["retrieval"][0] != "2401.00001" {
		t.Fatalf("expected manifest to list the paper, got %+v", manifest.Topics)
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (indexOf(s, sub) >= 0)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
