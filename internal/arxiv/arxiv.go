// Package arxiv implements the archive client: it translates a topic query
// into a boolean search expression in arXiv's query grammar, retrieves the
// matching Atom feed, and parses it into PaperCandidate values.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/arxivdigest/internal/config"
)

// PaperCandidate is a paper surfaced by the archive client, before scoring.
type PaperCandidate struct {
	ArxivID      string
	Title        string
	Abstract     string
	Authors      []string
	Affiliations []string
	Categories   []string
	Published    time.Time
	Updated      time.Time
	ArxivURL     string
	PdfURL       string
	Comment      string
}

// defaultCategories is the fallback query used when a topic declares neither
// keywords nor categories.
var defaultCategories = []string{"cs.AI", "cs.CL", "cs.LG", "cs.CV", "cs.IR"}

// Client fetches candidates from arXiv's Atom search endpoint.
type Client struct {
	HTTPClient *http.Client
	// BaseURL is the preferred (HTTPS) endpoint.
	BaseURL string
	// FallbackBaseURL is tried after any failure on BaseURL: a transport
	// error, a non-2xx status, or a feed that does not parse.
	FallbackBaseURL string
	UserAgent       string

	// Now is injectable for deterministic window-filter tests.
	Now func() time.Time

	lastRequest time.Time
}

// DefaultBaseURL is arXiv's HTTPS Atom API.
const DefaultBaseURL = "https://export.arxiv.org/api/query"

// DefaultFallbackBaseURL is tried when the HTTPS endpoint is unreachable.
const DefaultFallbackBaseURL = "http://export.arxiv.org/api/query"

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// Fetch returns candidates for topic within the configured window, newest
// first, capped at cfg.MaxPapersPerTopic. It never returns an error to the
// caller for transport or parse failures: persistent failure degrades to an
// empty list with a logged warning.
func (c *Client) Fetch(ctx context.Context, topic config.Topic, cfg config.FetchConfig) []PaperCandidate {
	c.throttle(cfg.RequestDelayMS)

	query := BuildQuery(topic.Query)
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	fallback := c.FallbackBaseURL
	if fallback == "" {
		fallback = DefaultFallbackBaseURL
	}

	maxResults := cfg.MaxPapersPerTopic
	if maxResults <= 0 {
		maxResults = 20
	}

	feed, err := c.fetchFeed(ctx, base, query, maxResults)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic.Name).Str("url", base).Msg("archive request failed, retrying via fallback scheme")
		feed, err = c.fetchFeed(ctx, fallback, query, maxResults)
		if err != nil {
			log.Warn().Err(err).Str("topic", topic.Name).Msg("archive request failed on both schemes; returning empty candidate list")
			return nil
		}
	}

	windowStart := c.now().AddDate(0, 0, -daysBack(cfg.DaysBack))
	now := c.now()

	candidates := make([]PaperCandidate, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		cand, ok := candidateFromEntry(e)
		if !ok {
			continue
		}
		if cand.Published.Before(windowStart) || cand.Published.After(now) {
			continue
		}
		if matchesExcludeKeyword(cand, topic.Query.ExcludeKeywords) {
			continue
		}
		candidates = append(candidates, cand)
	}

	sortByPublishedDesc(candidates)
	if len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}
	return candidates
}

func daysBack(n int) int {
	if n <= 0 {
		return 7
	}
	return n
}

func (c *Client) throttle(delayMS int) {
	if delayMS <= 0 {
		return
	}
	delay := time.Duration(delayMS) * time.Millisecond
	if !c.lastRequest.IsZero() {
		elapsed := time.Since(c.lastRequest)
		if elapsed < delay {
			time.Sleep(delay - elapsed)
		}
	}
	c.lastRequest = time.Now()
}

func (c *Client) fetchFeed(ctx context.Context, base, query string, maxResults int) (*atomFeed, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("search_query", query)
	q.Set("start", "0")
	q.Set("max_results", fmt.Sprintf("%d", maxResults))
	q.Set("sortBy", "submittedDate")
	q.Set("sortOrder", "descending")
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("archive request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("archive status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read archive body: %w", err)
	}
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("parse archive feed: %w", err)
	}
	return &feed, nil
}

// BuildQuery renders q in arXiv's boolean search grammar.
func BuildQuery(q config.TopicQuery) string {
	var groups []string

	if kw := keywordGroup(q.IncludeKeywords); kw != "" {
		groups = append(groups, kw)
	}
	if cat := categoryGroup(q.Categories); cat != "" {
		groups = append(groups, cat)
	}
	if len(groups) == 0 {
		groups = append(groups, categoryGroup(defaultCategories))
	}

	expr := strings.Join(groups, " AND ")
	if ex := negatedGroup(q.ExcludeKeywords); ex != "" {
		expr = expr + " ANDNOT " + ex
	}
	return expr
}

func keywordGroup(keywords []string) string {
	if len(keywords) == 0 {
		return ""
	}
	parts := make([]string, 0, len(keywords))
	for _, k := range keywords {
		parts = append(parts, keywordTerm(k))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// keywordTerm searches title and abstract for a single (possibly
// multi-word) keyword, using phrase search for multi-word terms.
func keywordTerm(keyword string) string {
	k := strings.TrimSpace(keyword)
	if strings.Contains(k, " ") {
		k = `"` + k + `"`
	}
	return fmt.Sprintf("(ti:%s OR abs:%s)", k, k)
}

func categoryGroup(categories []string) string {
	if len(categories) == 0 {
		return ""
	}
	parts := make([]string, 0, len(categories))
	for _, c := range categories {
		parts = append(parts, "cat:"+strings.TrimSpace(c))
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func negatedGroup(keywords []string) string {
	if len(keywords) == 0 {
		return ""
	}
	parts := make([]string, 0, len(keywords))
	for _, k := range keywords {
		parts = append(parts, keywordTerm(k))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// matchesExcludeKeyword is a post-filter fallback for archives that don't
// honor ANDNOT, and a double check against those that do.
func matchesExcludeKeyword(cand PaperCandidate, excludes []string) bool {
	if len(excludes) == 0 {
		return false
	}
	haystack := strings.ToLower(cand.Title + " " + cand.Abstract)
	for _, ex := range excludes {
		if strings.Contains(haystack, strings.ToLower(strings.TrimSpace(ex))) {
			return true
		}
	}
	return false
}

func sortByPublishedDesc(candidates []PaperCandidate) {
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].Published.After(candidates[j-1].Published); j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
}

// --- Atom feed structures ---

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string       `xml:"id"`
	Title     string       `xml:"title"`
	Summary   string       `xml:"summary"`
	Published string       `xml:"published"`
	Updated   string       `xml:"updated"`
	Authors   []atomAuthor `xml:"author"`
	Links     []atomLink   `xml:"link"`
	Categories []atomCategory `xml:"category"`
	Comment   string       `xml:"http://arxiv.org/schemas/atom comment"`
}

type atomAuthor struct {
	Name        string `xml:"name"`
	Affiliation string `xml:"http://arxiv.org/schemas/atom affiliation"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Rel   string `xml:"rel,attr"`
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

func candidateFromEntry(e atomEntry) (PaperCandidate, bool) {
	id := canonicalArxivID(e.ID)
	if id == "" {
		return PaperCandidate{}, false
	}
	published, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Published))
	if err != nil {
		return PaperCandidate{}, false
	}
	updated, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Updated))
	if err != nil {
		updated = published
	}

	authors := make([]string, 0, len(e.Authors))
	affiliations := make([]string, 0, len(e.Authors))
	for _, a := range e.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			authors = append(authors, name)
		}
		if aff := strings.TrimSpace(a.Affiliation); aff != "" {
			affiliations = append(affiliations, aff)
		}
	}

	categories := make([]string, 0, len(e.Categories))
	for _, c := range e.Categories {
		if t := strings.TrimSpace(c.Term); t != "" {
			categories = append(categories, t)
		}
	}

	var pdfURL, arxivURL string
	for _, l := range e.Links {
		switch {
		case l.Title == "pdf" || strings.Contains(l.Type, "pdf"):
			pdfURL = l.Href
		case l.Rel == "alternate":
			arxivURL = l.Href
		}
	}
	if arxivURL == "" {
		arxivURL = e.ID
	}
	if pdfURL == "" && arxivURL != "" {
		pdfURL = strings.Replace(arxivURL, "/abs/", "/pdf/", 1)
	}

	return PaperCandidate{
		ArxivID:      id,
		Title:        collapseWhitespace(e.Title),
		Abstract:     collapseWhitespace(e.Summary),
		Authors:      authors,
		Affiliations: affiliations,
		Categories:   categories,
		Published:    published,
		Updated:      updated,
		ArxivURL:     arxivURL,
		PdfURL:       pdfURL,
		Comment:      strings.TrimSpace(e.Comment),
	}, true
}

// canonicalArxivID extracts the last path segment of an Atom entry id and
// strips any trailing "vN" version suffix.
func canonicalArxivID(entryID string) string {
	id := strings.TrimSpace(entryID)
	if idx := strings.LastIndex(id, "/"); idx >= 0 {
		id = id[idx+1:]
	}
	if idx := strings.LastIndex(id, "v"); idx > 0 {
		isVersion := true
		for _, r := range id[idx+1:] {
			if r < '0' || r > '9' {
				isVersion = false
				break
			}
		}
		if isVersion && idx+1 < len(id) {
			id = id[:idx]
		}
	}
	return id
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
