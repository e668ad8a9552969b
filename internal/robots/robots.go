// Package robots fetches and caches a host's robots.txt and answers whether
// a given path may be fetched by a named user agent, so the HTML rendition
// fetcher stays a polite crawler of arxiv.org rather than ignoring it.
package robots

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hyperifyio/arxivdigest/internal/cache"
)

type Source int

const (
	SourceNetwork Source = iota
	SourceMemory
	SourceCache304
)

type Rules struct {
	Groups []Group
}

type Group struct {
	Agents     []string
	Allow      []string
	Disallow   []string
	CrawlDelay *time.Duration
}

type Manager struct {
	HTTPClient        *http.Client
	Cache             *cache.HTTPCache
	UserAgent         string
	EntryExpiry       time.Duration
	AllowPrivateHosts bool

	mu  sync.Mutex
	mem map[string]memEntry
	now func() time.Time
}

type memEntry struct {
	rules  Rules
	expiry time.Time
}

func (m *Manager) Get(ctx context.Context, robotsURL string) (Rules, Source, error) {
	if m.now == nil {
		m.now = time.Now
	}
	if m.mem == nil {
		m.mem = make(map[string]memEntry)
	}
	u, err := url.Parse(robotsURL)
	if err != nil {
		return Rules{}, SourceNetwork, fmt.Errorf("parse url: %w", err)
	}
	if u == nil || !isHTTPScheme(u) {
		return Rules{}, SourceNetwork, fmt.Errorf("unsupported url scheme: %q", robotsURL)
	}
	host := u.Hostname()
	if !m.AllowPrivateHosts && isLocalOrPrivateHost(host) {
		return Rules{}, SourceNetwork, fmt.Errorf("private host not allowed: %s", host)
	}

	m.mu.Lock()
	if ent, ok := m.mem[robotsURL]; ok && m.now().Before(ent.expiry) {
		r := ent.rules
		m.mu.Unlock()
		return r, SourceMemory, nil
	}
	m.mu.Unlock()

	var etag, lastMod string
	if m.Cache != nil {
		if meta, err := m.Cache.LoadMeta(ctx, robotsURL); err == nil && meta != nil {
			etag = meta.ETag
			lastMod = meta.LastModified
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return Rules{}, SourceNetwork, fmt.Errorf("new request: %w", err)
	}
	if m.UserAgent != "" {
		req.Header.Set("User-Agent", m.UserAgent)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastMod != "" {
		req.Header.Set("If-Modified-Since", lastMod)
	}
	client := m.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Rules{}, SourceNetwork, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && m.Cache != nil {
		body, err := m.Cache.LoadBody(ctx, robotsURL)
		if err != nil {
			return Rules{}, SourceCache304, fmt.Errorf("load cached robots: %w", err)
		}
		rules := parseRobots(string(body))
		m.storeMem(robotsURL, rules)
		return rules, SourceCache304, nil
	}
	// A missing robots.txt imposes no restriction by convention: treat it as
	// an empty, all-allowing ruleset rather than an error.
	if resp.StatusCode == http.StatusNotFound {
		rules := Rules{}
		m.storeMem(robotsURL, rules)
		return rules, SourceNetwork, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Rules{}, SourceNetwork, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Rules{}, SourceNetwork, fmt.Errorf("read robots: %w", err)
	}
	if m.Cache != nil {
		_ = m.Cache.Save(ctx, robotsURL, "text/plain", resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), data)
	}
	rules := parseRobots(string(data))
	m.storeMem(robotsURL, rules)
	return rules, SourceNetwork, nil
}

func (m *Manager) storeMem(key string, rules Rules) {
	exp := m.EntryExpiry
	if exp <= 0 {
		exp = 30 * time.Minute
	}
	m.mu.Lock()
	m.mem[key] = memEntry{rules: rules, expiry: m.now().Add(exp)}
	m.mu.Unlock()
}

func parseRobots(text string) Rules {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var groups []Group
	current := Group{}
	flush := func() {
		if len(current.Agents) == 0 && len(current.Allow) == 0 && len(current.Disallow) == 0 && current.CrawlDelay == nil {
			return
		}
		groups = append(groups, current)
		current = Group{}
	}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:colon]))
		val := strings.TrimSpace(line[colon+1:])
		switch key {
		case "user-agent", "useragent":
			if len(current.Agents) > 0 && (len(current.Allow) > 0 || len(current.Disallow) > 0 || current.CrawlDelay != nil) {
				flush()
			}
			current.Agents = append(current.Agents, strings.ToLower(val))
		case "allow":
			current.Allow = append(current.Allow, val)
		case "disallow":
			current.Disallow = append(current.Disallow, val)
		case "crawl-delay", "crawldelay":
			if s := strings.TrimSpace(val); s != "" {
				if d, err := time.ParseDuration(s + "s"); err == nil {
					dd := d
					current.CrawlDelay = &dd
				}
			}
		}
	}
	flush()
	return Rules{Groups: groups}
}

// IsAllowed reports whether path may be fetched by userAgent under r. A
// group whose name equals userAgent exactly takes precedence over the
// wildcard group; within the matched group the longest matching pattern
// wins, with Allow breaking ties over Disallow at equal length. A path is
// allowed when no group or no rule matches.
func (r Rules) IsAllowed(userAgent, path string) bool {
	group, ok := r.groupFor(userAgent)
	if !ok {
		return true
	}
	bestLen := -1
	allowed := true
	consider := func(pattern string, allow bool) {
		if pattern == "" && !allow {
			return
		}
		re := compilePattern(pattern)
		if re == nil || !re.MatchString(path) {
			return
		}
		if len(pattern) > bestLen || (len(pattern) == bestLen && allow) {
			bestLen = len(pattern)
			allowed = allow
		}
	}
	for _, p := range group.Disallow {
		consider(p, false)
	}
	for _, p := range group.Allow {
		consider(p, true)
	}
	return allowed
}

// CrawlDelayFor returns the crawl delay declared for userAgent's matched
// group, or nil when no group matches or the group declares none.
func (r Rules) CrawlDelayFor(userAgent string) *time.Duration {
	group, ok := r.groupFor(userAgent)
	if !ok {
		return nil
	}
	return group.CrawlDelay
}

func (r Rules) groupFor(userAgent string) (Group, bool) {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	var wildcard *Group
	for i := range r.Groups {
		for _, agent := range r.Groups[i].Agents {
			a := strings.ToLower(strings.TrimSpace(agent))
			if a == "*" {
				if wildcard == nil {
					wildcard = &r.Groups[i]
				}
				continue
			}
			if a == ua {
				return r.Groups[i], true
			}
		}
	}
	if wildcard != nil {
		return *wildcard, true
	}
	return Group{}, false
}

// compilePattern translates a robots.txt path pattern ('*' wildcard, a
// trailing '$' end anchor) into a prefix-matching regular expression.
func compilePattern(pattern string) *regexp.Regexp {
	endAnchor := strings.HasSuffix(pattern, "$")
	p := pattern
	if endAnchor {
		p = strings.TrimSuffix(p, "$")
	}
	escaped := strings.ReplaceAll(regexp.QuoteMeta(p), `\*`, `.*`)
	reStr := "^" + escaped
	if endAnchor {
		reStr += "$"
	}
	re, err := regexp.Compile(reStr)
	if err != nil {
		return nil
	}
	return re
}

func isHTTPScheme(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

func isLocalOrPrivateHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "localhost" || h == "localhost.localdomain" || h == "::1" || h == "[::1]" {
		return true
	}
	if ip := net.ParseIP(h); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return true
		}
	}
	return false
}
