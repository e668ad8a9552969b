// Package rank assigns a normalized weighted relevance score to each
// candidate paper and decides include/skip against a configured threshold,
// either by asking the LLM to score each configured dimension or, offline,
// by a deterministic lexical heuristic.
package rank

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/arxivdigest/internal/arxiv"
	"github.com/hyperifyio/arxivdigest/internal/cache"
	"github.com/hyperifyio/arxivdigest/internal/config"
	"github.com/hyperifyio/arxivdigest/internal/llm"
)

// DimensionScore is one axis of relevance scoring for a single paper.
type DimensionScore struct {
	Name   string
	Weight float64
	Value  float64
	Reason string
}

// ScoredPaper pairs a candidate with its dimension breakdown and decision.
type ScoredPaper struct {
	Paper           arxiv.PaperCandidate
	Dimensions      []DimensionScore
	TotalScore      float64
	NormalizedScore float64
	Include         bool
}

// Ranker scores candidates against a topic's interest prompt.
type Ranker struct {
	Client        llm.Client
	Cache         *cache.LLMCache
	Model         string
	PassThreshold float64
}

var lowerCaser = cases.Lower(language.Und)

func toLower(s string) string { return lowerCaser.String(s) }

// Score ranks candidates in input order; it never reorders or filters — the
// orchestrator decides what to keep.
func (r *Ranker) Score(ctx context.Context, topic config.Topic, dimensions []config.ScoringDimension, candidates []arxiv.PaperCandidate) []ScoredPaper {
	out := make([]ScoredPaper, 0, len(candidates))
	for _, cand := range candidates {
		scores, err := r.scoreOnline(ctx, topic, dimensions, cand)
		if err != nil {
			if r.Client != nil {
				log.Warn().Err(err).Str("arxiv_id", cand.ArxivID).Msg("relevance LLM call failed; falling back to heuristic")
			}
			scores = scoreHeuristic(topic, dimensions, cand)
		}
		out = append(out, finalize(cand, scores, r.PassThreshold))
	}
	return out
}

func finalize(cand arxiv.PaperCandidate, scores []DimensionScore, threshold float64) ScoredPaper {
	var total, weightSum float64
	for _, d := range scores {
		total += d.Weight * d.Value
		weightSum += d.Weight
	}
	normalized := 0.0
	if weightSum > 0 {
		normalized = clip(total/weightSum*100, 0, 100)
	}
	return ScoredPaper{
		Paper:           cand,
		Dimensions:      scores,
		TotalScore:      total,
		NormalizedScore: normalized,
		Include:         normalized >= threshold,
	}
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// --- Online ---

type rankResponseEntry struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

func (r *Ranker) scoreOnline(ctx context.Context, topic config.Topic, dimensions []config.ScoringDimension, cand arxiv.PaperCandidate) ([]DimensionScore, error) {
	if r.Client == nil || strings.TrimSpace(r.Model) == "" {
		return nil, fmt.Errorf("ranker not configured for online scoring")
	}
	system := buildRankSystemMessage(dimensions)
	user := buildRankUserMessage(topic, cand)

	if r.Cache != nil {
		if raw, ok, _ := r.Cache.Get(ctx, cache.KeyFrom(r.Model, system+"\n\n"+user)); ok {
			if scores, err := parseRankResponse(string(raw), dimensions); err == nil {
				return scores, nil
			}
		}
	}

	resp, err := r.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0,
		N:           1,
	})
	if err != nil {
		return nil, fmt.Errorf("relevance call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices from relevance model")
	}
	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	scores, err := parseRankResponse(raw, dimensions)
	if err != nil {
		return nil, err
	}
	if r.Cache != nil {
		_ = r.Cache.Save(ctx, cache.KeyFrom(r.Model, system+"\n\n"+user), []byte(raw))
	}
	return scores, nil
}

func buildRankSystemMessage(dimensions []config.ScoringDimension) string {
	var sb strings.Builder
	sb.WriteString("You are a relevance scoring assistant. Respond with strict JSON only, no narration. ")
	sb.WriteString("The JSON schema is an object mapping each dimension name to {\"score\": integer 0-100, \"reason\": string}. ")
	sb.WriteString("Score every one of these dimensions:")
	for _, d := range dimensions {
		sb.WriteString(fmt.Sprintf("\n- %s: %s", d.Name, d.Description))
	}
	return sb.String()
}

func buildRankUserMessage(topic config.Topic, cand arxiv.PaperCandidate) string {
	var sb strings.Builder
	sb.WriteString("User interest: ")
	sb.WriteString(topic.InterestPrompt)
	sb.WriteString("\n\nPaper title: ")
	sb.WriteString(cand.Title)
	sb.WriteString("\nAbstract: ")
	sb.WriteString(cand.Abstract)
	sb.WriteString("\nCategories: ")
	sb.WriteString(strings.Join(cand.Categories, ", "))
	return sb.String()
}

func parseRankResponse(raw string, dimensions []config.ScoringDimension) ([]DimensionScore, error) {
	var parsed map[string]rankResponseEntry
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parse relevance json: %w", err)
	}
	scores := make([]DimensionScore, 0, len(dimensions))
	for _, d := range dimensions {
		entry, ok := parsed[d.Name]
		if !ok {
			return nil, fmt.Errorf("relevance response missing dimension %q", d.Name)
		}
		scores = append(scores, DimensionScore{
			Name:   d.Name,
			Weight: d.Weight,
			Value:  clip(entry.Score, 0, 100) / 100,
			Reason: entry.Reason,
		})
	}
	return scores, nil
}

// --- Offline heuristic ---

var methodologyVocab = []string{"method", "approach", "framework", "algorithm", "architecture", "technique", "pipeline", "model"}
var noveltyCues = []string{"novel", "new", "first", "unprecedented", "introduce", "propose"}
var experimentCues = []string{"experiment", "benchmark", "evaluate", "ablation", "dataset", "results", "empirical"}

func scoreHeuristic(topic config.Topic, dimensions []config.ScoringDimension, cand arxiv.PaperCandidate) []DimensionScore {
	text := toLower(cand.Title + " " + cand.Abstract)
	tokens := strings.Fields(text)
	tokenSet := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		tokenSet[strings.Trim(t, ".,;:()[]")] = true
	}

	scores := make([]DimensionScore, 0, len(dimensions))
	for _, d := range dimensions {
		var value float64
		switch d.Name {
		case "topic_alignment":
			value = topicAlignment(topic, tokenSet)
		case "methodology_fit":
			value = saturatingHitRatio(text, methodologyVocab, 5)
		case "novelty":
			value = 0.4 + saturatingHitRatio(text, noveltyCues, 5)*0.3
		case "experiment_depth", "experiment_coverage":
			value = saturatingHitRatio(text, experimentCues, 5)
		default:
			value = 0.5
		}
		scores = append(scores, DimensionScore{Name: d.Name, Weight: d.Weight, Value: clip(value, 0, 1)})
	}
	return scores
}

func topicAlignment(topic config.Topic, tokenSet map[string]bool) float64 {
	terms := make([]string, 0, len(topic.Query.IncludeKeywords)+8)
	for _, k := range topic.Query.IncludeKeywords {
		terms = append(terms, strings.Fields(toLower(k))...)
	}
	terms = append(terms, strings.Fields(toLower(topic.InterestPrompt))...)
	if len(terms) == 0 {
		return 0.5
	}
	hits := 0
	for _, term := range terms {
		if tokenSet[term] {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

func saturatingHitRatio(text string, vocab []string, saturateAt int) float64 {
	hits := 0
	for _, w := range vocab {
		if strings.Contains(text, w) {
			hits++
		}
	}
	if hits > saturateAt {
		hits = saturateAt
	}
	return float64(hits) / float64(saturateAt)
}
