package reading

import (
	"context"
	"testing"

	"github.com/hyperifyio/arxivdigest/internal/arxiv"
	"github.com/hyperifyio/arxivdigest/internal/config"
)

func TestRead_OfflineProducesFiveDefaultTasksAndNoCoreSummary(t *testing.T) {
	e := &Engine{}
	topic := config.Topic{Name: "retrieval", Label: "Retrieval"}
	cand := arxiv.PaperCandidate{
		ArxivID:  "demo-retrieval-0001",
		Title:    "A Synthetic Demonstration Paper",
		Abstract: "This is a short synthetic abstract used for offline demonstration.",
	}
	content := "This is a longer body of content. It has several sentences. Each one adds detail. The paper describes an approach. It evaluates the approach with experiments. It concludes with limitations."

	got := e.Read(context.Background(), topic, cand, content)

	if got.Core != nil {
		t.Fatalf("expected no core summary offline, got %+v", got.Core)
	}
	if len(got.TaskList) != 5 {
		t.Fatalf("expected 5 default tasks offline, got %d", len(got.TaskList))
	}
	if len(got.Findings) != len(got.TaskList) {
		t.Fatalf("expected findings aligned with task list: %d vs %d", len(got.Findings), len(got.TaskList))
	}
	for _, f := range got.Findings {
		if f.Answer == "" {
			t.Fatalf("expected every finding to have a non-empty answer")
		}
		if f.Confidence < 0 || f.Confidence > 1 {
			t.Fatalf("expected confidence in [0,1], got %v", f.Confidence)
		}
	}
	if got.BriefSummary == "" {
		t.Fatalf("expected a non-empty brief summary")
	}
	if got.Overview == "" {
		t.Fatalf("expected a non-empty overview")
	}
}

func TestHeuristicBrief_FallsBackToAbstractWhenContentEmpty(t *testing.T) {
	got := heuristicBrief("", "Just the abstract text.")
	if got != "Just the abstract text." {
		t.Fatalf("expected abstract fallback, got %q", got)
	}
}

func TestSplitSentences_BasicSplit(t *testing.T) {
	got := splitSentences("One. Two! Three?")
	want := []string{"One.", "Two!", "Three?"}
	if len(got) != len(want) {
		t.Fatalf("expected %d sentences, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sentence %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestTopUpTasks_ReachesMinimumOfThree(t *testing.T) {
	got := topUpTasks([]TaskItem{{Question: "Custom question?"}})
	if len(got) < 3 {
		t.Fatalf("expected top-up to reach at least 3 tasks, got %d", len(got))
	}
}
