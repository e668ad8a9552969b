// Package report assembles the per-paper Markdown document from a scored
// paper and the reading engine's output: a fixed section order, deterministic
// given its inputs except for the footer timestamp.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hyperifyio/arxivdigest/internal/rank"
	"github.com/hyperifyio/arxivdigest/internal/reading"
)

// PaperSummary is the rendered document for one paper within one topic.
type PaperSummary struct {
	TopicLabel string
	Scored     rank.ScoredPaper
	Markdown   string
	Partial    bool
	Result     reading.Result
}

// Builder renders PaperSummary values. Now defaults to time.Now and is
// overridable so tests can assert exact Markdown output.
type Builder struct {
	Now func() time.Time
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now().UTC()
}

// Build renders the canonical document for scored within topicLabel, given
// the reading engine's result for that paper.
func (b *Builder) Build(topicLabel string, scored rank.ScoredPaper, result reading.Result) PaperSummary {
	var sb strings.Builder

	p := scored.Paper
	sb.WriteString(fmt.Sprintf("# %s\n\n", p.Title))

	if strings.TrimSpace(result.BriefSummary) != "" {
		for _, line := range strings.Split(strings.TrimSpace(result.BriefSummary), "\n") {
			sb.WriteString("> ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf(
		"**Topic:** %s · **Archive:** [%s](%s) · **Authors:** %s · **Published:** %s · **Score:** %.1f/100\n\n",
		topicLabel,
		p.ArxivID,
		p.ArxivURL,
		strings.Join(p.Authors, ", "),
		p.Published.Format("2006-01-02"),
		scored.NormalizedScore,
	))

	sb.WriteString("**Relevance breakdown:**\n\n")
	for _, d := range scored.Dimensions {
		sb.WriteString(fmt.Sprintf("- %s: %.0f/100 (weight: %.2f)\n", d.Name, d.Value*100, d.Weight))
	}
	sb.WriteString("\n")

	if result.Core != nil {
		sb.WriteString("## Core summary\n\n")
		writeCoreField(&sb, "Problem", result.Core.Problem)
		writeCoreField(&sb, "Solution", result.Core.Solution)
		writeCoreField(&sb, "Methodology", result.Core.Methodology)
		writeCoreField(&sb, "Experiments", result.Core.Experiments)
		writeCoreField(&sb, "Conclusion", result.Core.Conclusion)
	}

	if len(result.TaskList) > 0 {
		sb.WriteString("## Questions explored\n\n")
		for i, t := range result.TaskList {
			sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, t.Question))
		}
		sb.WriteString("\n")
	}

	if len(result.Findings) > 0 {
		sb.WriteString("## Findings\n\n")
		for i, f := range result.Findings {
			sb.WriteString(fmt.Sprintf("### %d. %s\n\n", i+1, f.Task.Question))
			sb.WriteString(f.Answer)
			sb.WriteString(fmt.Sprintf("\n\n*Confidence: %.2f*\n\n", f.Confidence))
		}
	}

	if strings.TrimSpace(result.Overview) != "" {
		sb.WriteString("## Overview\n\n")
		sb.WriteString(strings.TrimSpace(result.Overview))
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Why recommended\n\n")
	sb.WriteString(whyRecommended(scored, result))
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("---\n_Generated %s UTC_\n", b.now().UTC().Format("2006-01-02 15:04:05")))

	return PaperSummary{
		TopicLabel: topicLabel,
		Scored:     scored,
		Markdown:   sb.String(),
		Partial:    result.Partial,
		Result:     result,
	}
}

func writeCoreField(sb *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	sb.WriteString(fmt.Sprintf("**%s:** %s\n\n", label, value))
}

func whyRecommended(scored rank.ScoredPaper, result reading.Result) string {
	top := topDimension(scored.Dimensions)
	var sb strings.Builder
	if top.Name != "" {
		sb.WriteString(fmt.Sprintf("This paper was surfaced primarily for its strength in %s (%.0f/100).", top.Name, top.Value*100))
	} else {
		sb.WriteString("This paper met the configured relevance threshold.")
	}
	if f := firstConfidentFinding(result.Findings); f != nil {
		sb.WriteString(fmt.Sprintf(" Notably, %s", lowerFirst(f.Answer)))
	}
	return sb.String()
}

func topDimension(dims []rank.DimensionScore) rank.DimensionScore {
	if len(dims) == 0 {
		return rank.DimensionScore{}
	}
	sorted := make([]rank.DimensionScore, len(dims))
	copy(sorted, dims)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Weight*sorted[i].Value > sorted[j].Weight*sorted[j].Value
	})
	return sorted[0]
}

func firstConfidentFinding(findings []reading.TaskFinding) *reading.TaskFinding {
	for i := range findings {
		if findings[i].Confidence > 0.6 {
			return &findings[i]
		}
	}
	return nil
}

func lowerFirst(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = []rune(strings.ToLower(string(r[0])))[0]
	return string(r)
}
