// Package site renders the output of a pipeline run into a static HTML site:
// an index page, one page per paper grouped by topic, and a machine-readable
// manifest. The directory is regenerated from scratch on every run.
package site

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"

	"github.com/hyperifyio/arxivdigest/internal/orchestrator"
	"github.com/hyperifyio/arxivdigest/internal/report"
)

// Manifest is the machine-readable description of a published run.
type Manifest struct {
	BaseURL   string              `json:"base_url"`
	Generated string              `json:"generated"`
	Topics    map[string][]string `json:"topics"`
}

// Publisher writes the static site for a completed pipeline run.
type Publisher struct {
	OutputDir string
	BaseURL   string
}

var indexTemplate = template.Must(template.New("index").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Research Digest — {{.Generated}}</title></head>
<body>
<h1>Research Digest</h1>
<p>Generated {{.Generated}} UTC</p>
{{range .Topics}}
<h2>{{.Label}}</h2>
{{if .Papers}}
<ul>
{{range .Papers}}<li><a href="{{.Href}}">{{.Title}}</a> — {{printf "%.1f" .Score}}/100</li>
{{end}}</ul>
{{else}}
<p><em>No papers met the relevance threshold this run.</em></p>
{{end}}
{{end}}
</body>
</html>
`))

var paperTemplate = template.Must(template.New("paper").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
{{.Body}}
</body>
</html>
`))

type indexTopicView struct {
	Label  string
	Papers []indexPaperView
}

type indexPaperView struct {
	Href  string
	Title string
	Score float64
}

type indexView struct {
	Generated string
	Topics    []indexTopicView
}

type paperPageView struct {
	Title string
	Body  template.HTML
}

// Publish regenerates OutputDir from scratch and writes index.html,
// topics/<name>/<arxiv_id>.html, and manifest.json. Individual paper pages
// that fail to render are logged and skipped; a failure to write the index
// itself is returned so the caller can treat the run as failed.
func (p *Publisher) Publish(ctx context.Context, result orchestrator.PipelineResult) error {
	if err := os.RemoveAll(p.OutputDir); err != nil {
		return fmt.Errorf("clear output dir: %w", err)
	}
	if err := os.MkdirAll(p.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	manifest := Manifest{
		BaseURL:   p.BaseURL,
		Generated: result.GeneratedAt.UTC().Format(time.RFC3339),
		Topics:    map[string][]string{},
	}
	view := indexView{Generated: result.GeneratedAt.UTC().Format(time.RFC3339)}

	for _, topicResult := range result.Topics {
		topicDir := filepath.Join(p.OutputDir, "topics", topicResult.Topic.Name)
		if err := os.MkdirAll(topicDir, 0o755); err != nil {
			log.Warn().Err(err).Str("topic", topicResult.Topic.Name).Msg("failed to create topic directory; skipping its pages")
			manifest.Topics[topicResult.Topic.Name] = []string{}
			view.Topics = append(view.Topics, indexTopicView{Label: topicResult.Topic.Label})
			continue
		}

		ids := make([]string, 0, len(topicResult.Papers))
		topicView := indexTopicView{Label: topicResult.Topic.Label}

		for _, paper := range topicResult.Papers {
			ids = append(ids, paper.Scored.Paper.ArxivID)
			href := fmt.Sprintf("topics/%s/%s.html", topicResult.Topic.Name, paper.Scored.Paper.ArxivID)
			topicView.Papers = append(topicView.Papers, indexPaperView{
				Href:  href,
				Title: paper.Scored.Paper.Title,
				Score: paper.Scored.NormalizedScore,
			})

			if err := p.writePaperPage(topicDir, paper); err != nil {
				log.Warn().Err(err).Str("arxiv_id", paper.Scored.Paper.ArxivID).Msg("failed to write paper page; skipping")
			}
		}

		manifest.Topics[topicResult.Topic.Name] = ids
		view.Topics = append(view.Topics, topicView)
	}

	if err := p.writeIndex(view); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if err := p.writeManifest(manifest); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func (p *Publisher) writeIndex(view indexView) error {
	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, view); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(p.OutputDir, "index.html"), buf.Bytes(), 0o644)
}

func (p *Publisher) writeManifest(m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(p.OutputDir, "manifest.json"), data, 0o644)
}

func (p *Publisher) writePaperPage(topicDir string, paper report.PaperSummary) error {
	var htmlBody bytes.Buffer
	if err := goldmark.Convert([]byte(paper.Markdown), &htmlBody); err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	var buf bytes.Buffer
	if err := paperTemplate.Execute(&buf, paperPageView{
		Title: paper.Scored.Paper.Title,
		Body:  template.HTML(htmlBody.String()), //nolint:gosec // content is our own generated markdown
	}); err != nil {
		return err
	}
	path := filepath.Join(topicDir, paper.Scored.Paper.ArxivID+".html")
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
