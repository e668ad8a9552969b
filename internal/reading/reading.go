// Package reading implements the reading engine: a fixed five-stage protocol
// that drives an LLM (or, offline, a deterministic heuristic) through brief
// summary, structured core summary, interest-guided question generation,
// per-question evidential answers, and an overview.
//
// Every stage isolates its own failure: an LLM error degrades only that
// stage to its offline fallback and is logged, never aborting the paper.
package reading

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/arxivdigest/internal/arxiv"
	"github.com/hyperifyio/arxivdigest/internal/cache"
	"github.com/hyperifyio/arxivdigest/internal/config"
	"github.com/hyperifyio/arxivdigest/internal/llm"
)

// TaskItem is one interest-guided question the engine generated for a paper.
type TaskItem struct {
	Question string
	Reason   string
}

// TaskFinding is the evidential answer to one TaskItem.
type TaskFinding struct {
	Task       TaskItem
	Answer     string
	Confidence float64
}

// CoreSummary is the five-field structured view of a paper.
type CoreSummary struct {
	Problem     string
	Solution    string
	Methodology string
	Experiments string
	Conclusion  string
}

func (c *CoreSummary) fields() []*string {
	return []*string{&c.Problem, &c.Solution, &c.Methodology, &c.Experiments, &c.Conclusion}
}

// Result bundles every stage's output for one paper.
type Result struct {
	BriefSummary string
	Core         *CoreSummary
	TaskList     []TaskItem
	Findings     []TaskFinding
	Overview     string
	// Partial is set when both online core-summary attempts failed; Core then
	// holds corePlaceholder in every field, and the report builder renders it
	// like any other core summary.
	Partial bool
}

const corePlaceholder = "Not available from the source material."

var defaultTasks = []TaskItem{
	{Question: "What are the main contributions of this paper?", Reason: "Establishes the paper's core claims."},
	{Question: "How was the approach evaluated experimentally?", Reason: "Grounds claims in evidence."},
	{Question: "What are the key limitations acknowledged by the authors?", Reason: "Surfaces scope and caveats."},
	{Question: "How does this work compare to prior approaches?", Reason: "Situates the contribution in context."},
	{Question: "What are the practical implications of this work?", Reason: "Connects the paper to real-world use."},
}

// Engine drives the five-stage protocol for one paper at a time.
type Engine struct {
	Client             llm.Client
	Cache              *cache.LLMCache
	Model              string
	TaskListSize       int
	MaxQuestionRetries int
}

func (e *Engine) online() bool {
	return e.Client != nil && strings.TrimSpace(e.Model) != ""
}

// Read executes all five stages for cand, using content as the resolved
// source text (HTML rendition, PDF extraction, or abstract).
func (e *Engine) Read(ctx context.Context, topic config.Topic, cand arxiv.PaperCandidate, content string) Result {
	brief := e.stageBrief(ctx, cand, content)
	core, partial := e.stageCore(ctx, cand, content)
	tasks := e.stageTasks(ctx, topic, cand, core)
	findings := e.stageFindings(ctx, tasks, content)
	overview := stageOverview(findings, cand.Abstract)

	return Result{
		BriefSummary: brief,
		Core:         core,
		TaskList:     tasks,
		Findings:     findings,
		Overview:     overview,
		Partial:      partial,
	}
}

// --- Stage 1: brief summary ---

func (e *Engine) stageBrief(ctx context.Context, cand arxiv.PaperCandidate, content string) string {
	if e.online() {
		system := "You are a scientific writing assistant. In 1-2 short paragraphs (5-8 sentences total), explain in order: why this research is needed, what is proposed, and how it works or the headline outcome. Put a paragraph break between the context and the key insight. Output only the prose, no headings."
		user := fmt.Sprintf("Title: %s\n\nContent:\n%s", cand.Title, content)
		if text, err := e.call(ctx, "brief:"+cand.ArxivID, system, user); err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		} else if err != nil {
			log.Warn().Err(err).Str("arxiv_id", cand.ArxivID).Str("stage", "brief").Msg("LLM call failed; using heuristic fallback")
		}
	}
	return heuristicBrief(content, cand.Abstract)
}

func heuristicBrief(content, abstract string) string {
	source := content
	if strings.TrimSpace(source) == "" {
		source = abstract
	}
	sentences := splitSentences(source)
	if len(sentences) == 0 {
		return strings.TrimSpace(abstract)
	}
	first := joinSentences(sentences, 0, 3)
	second := joinSentences(sentences, 3, 6)
	if second == "" {
		return first
	}
	return first + "\n\n" + second
}

// --- Stage 2: core summary ---

type coreSummaryJSON struct {
	Problem     string `json:"problem"`
	Solution    string `json:"solution"`
	Methodology string `json:"methodology"`
	Experiments string `json:"experiments"`
	Conclusion  string `json:"conclusion"`
}

func (e *Engine) stageCore(ctx context.Context, cand arxiv.PaperCandidate, content string) (*CoreSummary, bool) {
	if !e.online() {
		return nil, false
	}
	system := "You are a scientific writing assistant. Respond with strict JSON only, no narration. The JSON schema is {\"problem\": string, \"solution\": string, \"methodology\": string, \"experiments\": string, \"conclusion\": string}. Each field is a 3-8 sentence narrative. Every field is required and must be non-empty."
	user := fmt.Sprintf("Title: %s\n\nContent:\n%s", cand.Title, content)

	core, err := e.requestCoreSummary(ctx, cand, system, user)
	if err != nil {
		log.Warn().Err(err).Str("arxiv_id", cand.ArxivID).Str("stage", "core_summary").Msg("first attempt failed; retrying once")
		core, err = e.requestCoreSummary(ctx, cand, system, user)
	}
	if err != nil {
		log.Warn().Err(err).Str("arxiv_id", cand.ArxivID).Str("stage", "core_summary").Msg("both attempts failed; filling placeholder and marking paper partial")
		return &CoreSummary{
			Problem:     corePlaceholder,
			Solution:    corePlaceholder,
			Methodology: corePlaceholder,
			Experiments: corePlaceholder,
			Conclusion:  corePlaceholder,
		}, true
	}
	return core, false
}

func (e *Engine) requestCoreSummary(ctx context.Context, cand arxiv.PaperCandidate, system, user string) (*CoreSummary, error) {
	raw, err := e.call(ctx, "core:"+cand.ArxivID, system, user)
	if err != nil {
		return nil, err
	}
	var parsed coreSummaryJSON
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("parse core summary json: %w", err)
	}
	core := CoreSummary{
		Problem:     strings.TrimSpace(parsed.Problem),
		Solution:    strings.TrimSpace(parsed.Solution),
		Methodology: strings.TrimSpace(parsed.Methodology),
		Experiments: strings.TrimSpace(parsed.Experiments),
		Conclusion:  strings.TrimSpace(parsed.Conclusion),
	}
	for _, f := range core.fields() {
		if *f == "" {
			return nil, fmt.Errorf("core summary field empty")
		}
	}
	return &core, nil
}

// --- Stage 3: interest-guided question generation ---

type taskListJSON struct {
	Tasks []struct {
		Question string `json:"question"`
		Reason   string `json:"reason"`
	} `json:"tasks"`
}

func (e *Engine) stageTasks(ctx context.Context, topic config.Topic, cand arxiv.PaperCandidate, core *CoreSummary) []TaskItem {
	if !e.online() || strings.TrimSpace(topic.InterestPrompt) == "" {
		return defaultTaskList(e.taskListSize())
	}

	system := "You are a research assistant generating questions tailored to a reader's stated interest. Respond with strict JSON only, no narration. The JSON schema is {\"tasks\": [{\"question\": string, \"reason\": string}, ...]} with 3 to 5 entries. Every question must be specific to the reader's interest and answerable from the paper."
	user := buildTaskUserMessage(topic, cand, core)

	raw, err := e.call(ctx, "tasks:"+cand.ArxivID, system, user)
	if err != nil {
		log.Warn().Err(err).Str("arxiv_id", cand.ArxivID).Str("stage", "tasks").Msg("LLM call failed; using default task list")
		return defaultTaskList(e.taskListSize())
	}
	var parsed taskListJSON
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
		log.Warn().Err(err).Str("arxiv_id", cand.ArxivID).Str("stage", "tasks").Msg("failed to parse task list; using default")
		return defaultTaskList(e.taskListSize())
	}

	tasks := make([]TaskItem, 0, len(parsed.Tasks))
	for _, t := range parsed.Tasks {
		q := strings.TrimSpace(t.Question)
		if q == "" {
			continue
		}
		tasks = append(tasks, TaskItem{Question: q, Reason: strings.TrimSpace(t.Reason)})
	}
	if len(tasks) < 3 {
		tasks = topUpTasks(tasks)
	}
	if len(tasks) > 5 {
		tasks = tasks[:5]
	}
	return tasks
}

func (e *Engine) taskListSize() int {
	if e.TaskListSize >= 3 && e.TaskListSize <= 5 {
		return e.TaskListSize
	}
	return 5
}

func defaultTaskList(n int) []TaskItem {
	if n < 3 {
		n = 3
	}
	if n > len(defaultTasks) {
		n = len(defaultTasks)
	}
	out := make([]TaskItem, n)
	copy(out, defaultTasks[:n])
	return out
}

func topUpTasks(tasks []TaskItem) []TaskItem {
	existing := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		existing[t.Question] = true
	}
	for _, d := range defaultTasks {
		if len(tasks) >= 3 {
			break
		}
		if existing[d.Question] {
			continue
		}
		tasks = append(tasks, d)
	}
	return tasks
}

func buildTaskUserMessage(topic config.Topic, cand arxiv.PaperCandidate, core *CoreSummary) string {
	var sb strings.Builder
	sb.WriteString("Reader's interest: ")
	sb.WriteString(topic.InterestPrompt)
	sb.WriteString("\n\nTitle: ")
	sb.WriteString(cand.Title)
	sb.WriteString("\nAbstract: ")
	sb.WriteString(cand.Abstract)
	if core != nil {
		sb.WriteString(fmt.Sprintf("\nProblem: %s", truncateChars(core.Problem, 300)))
		sb.WriteString(fmt.Sprintf("\nSolution: %s", truncateChars(core.Solution, 300)))
		sb.WriteString(fmt.Sprintf("\nMethodology: %s", truncateChars(core.Methodology, 300)))
		sb.WriteString(fmt.Sprintf("\nExperiments: %s", truncateChars(core.Experiments, 300)))
		sb.WriteString(fmt.Sprintf("\nConclusion: %s", truncateChars(core.Conclusion, 300)))
	}
	return sb.String()
}

func truncateChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// --- Stage 4: per-question evidential answer ---

type findingJSON struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
}

func (e *Engine) stageFindings(ctx context.Context, tasks []TaskItem, content string) []TaskFinding {
	findings := make([]TaskFinding, len(tasks))
	for i, task := range tasks {
		findings[i] = e.answerTask(ctx, task, content, i)
	}
	return findings
}

func (e *Engine) answerTask(ctx context.Context, task TaskItem, content string, index int) TaskFinding {
	if e.online() {
		system := "You answer a question about a research paper using only the provided content. Respond with strict JSON only: {\"answer\": string, \"confidence\": number 0-1}. The answer is 2-4 paragraphs of narrative that inlines direct quotations (in quotation marks) from the content and explains their significance. Do not answer with a bare list of quotes."
		user := fmt.Sprintf("Question: %s\nWhy this matters: %s\n\nContent:\n%s", task.Question, task.Reason, content)

		var lastErr error
		retries := e.MaxQuestionRetries
		if retries < 0 {
			retries = 0
		}
		for attempt := 0; attempt <= retries; attempt++ {
			raw, err := e.call(ctx, fmt.Sprintf("finding:%d:%s", index, task.Question), system, user)
			if err != nil {
				lastErr = err
				continue
			}
			var parsed findingJSON
			if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
				lastErr = fmt.Errorf("parse finding json: %w", err)
				continue
			}
			answer := strings.TrimSpace(parsed.Answer)
			if answer == "" {
				lastErr = fmt.Errorf("empty answer")
				continue
			}
			return TaskFinding{Task: task, Answer: answer, Confidence: clip01(parsed.Confidence)}
		}
		log.Warn().Err(lastErr).Str("stage", "findings").Str("question", task.Question).Msg("LLM call failed; using heuristic fallback")
	}
	return heuristicFinding(task, content)
}

func heuristicFinding(task TaskItem, content string) TaskFinding {
	sentences := splitSentences(content)
	keywords := strings.Fields(strings.ToLower(task.Question))
	var matched []string
	for _, s := range sentences {
		low := strings.ToLower(s)
		for _, k := range keywords {
			if len(k) > 3 && strings.Contains(low, k) {
				matched = append(matched, strings.TrimSpace(s))
				break
			}
		}
		if len(matched) >= 2 {
			break
		}
	}
	if len(matched) == 0 && len(sentences) > 0 {
		matched = append(matched, strings.TrimSpace(sentences[0]))
	}
	answer := strings.Join(matched, " ")
	if answer == "" {
		answer = "No directly relevant evidence was found in the available content."
	}
	confidence := clip01(0.4 + 0.3*float64(len(matched)))
	return TaskFinding{Task: task, Answer: answer, Confidence: confidence}
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// --- Stage 5: overview assembly ---

func stageOverview(findings []TaskFinding, abstract string) string {
	parts := make([]string, 0, len(findings))
	for _, f := range findings {
		if strings.TrimSpace(f.Answer) != "" {
			parts = append(parts, strings.TrimSpace(f.Answer))
		}
	}
	if len(parts) == 0 {
		return strings.TrimSpace(abstract)
	}
	return strings.Join(parts, "\n\n")
}

// --- LLM call helper (shared cache/dispatch for all stages) ---

func (e *Engine) call(ctx context.Context, cacheTag, system, user string) (string, error) {
	key := cache.KeyFrom(e.Model, cacheTag+"\n"+system+"\n\n"+user)
	if e.Cache != nil {
		if raw, ok, _ := e.Cache.Get(ctx, key); ok {
			return string(raw), nil
		}
	}
	resp, err := e.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.2,
		N:           1,
	})
	if err != nil {
		return "", fmt.Errorf("reading engine call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices from model")
	}
	out := resp.Choices[0].Message.Content
	if e.Cache != nil {
		_ = e.Cache.Save(ctx, key, []byte(out))
	}
	return out, nil
}

// --- shared sentence helpers ---

var sentenceSplitRe = regexp.MustCompile(`(?s)(.*?[.!?])(\s+|$)`)

func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	matches := sentenceSplitRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return []string{text}
	}
	out := make([]string, 0, len(matches))
	consumed := 0
	for _, m := range matches {
		s := strings.TrimSpace(m[1])
		if s != "" {
			out = append(out, s)
		}
		consumed += len(m[0])
	}
	if consumed < len(text) {
		rest := strings.TrimSpace(text[consumed:])
		if rest != "" {
			out = append(out, rest)
		}
	}
	return out
}

func joinSentences(sentences []string, from, to int) string {
	if from >= len(sentences) {
		return ""
	}
	if to > len(sentences) {
		to = len(sentences)
	}
	return strings.Join(sentences[from:to], " ")
}
