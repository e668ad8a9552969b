// Package config holds the typed view of pipeline configuration. Decoding the
// YAML document, parsing CLI flags, and reporting validation diagnostics are
// treated as external collaborators: this package defines the shapes those
// collaborators produce, the single environment-variable expansion pass, and
// Validate, which collects field-level problems for the caller to report.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Mode selects whether the pipeline may call the external LLM.
type Mode string

const (
	ModeOnline  Mode = "online"
	ModeOffline Mode = "offline"
)

// TopicQuery selects the candidates an archive search should surface.
type TopicQuery struct {
	Categories      []string `yaml:"categories"`
	IncludeKeywords []string `yaml:"include"`
	ExcludeKeywords []string `yaml:"exclude"`
}

// Empty reports whether none of the three query facets were configured.
func (q TopicQuery) Empty() bool {
	return len(q.Categories) == 0 && len(q.IncludeKeywords) == 0 && len(q.ExcludeKeywords) == 0
}

// Topic is one configured research interest. It is immutable for the run.
type Topic struct {
	Name           string     `yaml:"name"`
	Label          string     `yaml:"label"`
	Query          TopicQuery `yaml:"query"`
	InterestPrompt string     `yaml:"interest_prompt"`
}

// ScoringDimension is one configured axis of relevance scoring.
type ScoringDimension struct {
	Name        string  `yaml:"name"`
	Weight      float64 `yaml:"weight"`
	Description string  `yaml:"description"`
}

// OpenAIConfig describes the LLM endpoint used by the ranker and reading engine.
type OpenAIConfig struct {
	APIKey              string  `yaml:"api_key"`
	BaseURL             string  `yaml:"base_url"`
	RelevanceModel      string  `yaml:"relevance_model"`
	SummarizationModel  string  `yaml:"summarization_model"`
	Temperature         float32 `yaml:"temperature"`
	Language            string  `yaml:"language"`
}

// FetchConfig bounds the archive client.
type FetchConfig struct {
	MaxPapersPerTopic int           `yaml:"max_papers_per_topic"`
	DaysBack          int           `yaml:"days_back"`
	RequestDelayMS    int           `yaml:"request_delay_ms"`
}

// RelevanceConfig configures the ranker.
type RelevanceConfig struct {
	ScoringDimensions []ScoringDimension `yaml:"scoring_dimensions"`
	PassThreshold     float64            `yaml:"pass_threshold"`
	MaxRetries        int                `yaml:"max_retries"`
}

// SummarizationConfig configures the reading engine.
type SummarizationConfig struct {
	TaskListSize      int `yaml:"task_list_size"`
	MaxSections       int `yaml:"max_sections"`
	MaxQuestionRetries int `yaml:"max_question_retries"`
}

// SiteConfig configures the static-site publisher.
type SiteConfig struct {
	OutputDir string `yaml:"output_dir"`
	BaseURL   string `yaml:"base_url"`
	Locale    string `yaml:"locale"`
}

// EmailConfig configures the digest publisher.
type EmailConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Sender          string   `yaml:"sender"`
	Recipients      []string `yaml:"recipients"`
	SMTPHost        string   `yaml:"smtp_host"`
	SMTPPort        int      `yaml:"smtp_port"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	UseTLS          bool     `yaml:"use_tls"`
	UseSSL          bool     `yaml:"use_ssl"`
	TimeoutSeconds  int      `yaml:"timeout"`
	SubjectTemplate string   `yaml:"subject_template"`
}

// RuntimeConfig controls the run-wide execution mode.
type RuntimeConfig struct {
	Mode           Mode   `yaml:"mode"`
	PaperLimit     int    `yaml:"paper_limit"`
	MaxConcurrency int    `yaml:"max_concurrency"`
	CacheEnabled   bool   `yaml:"cache_enabled"`
	CacheDir       string `yaml:"cache_dir"`
	ConsoleLevel   string `yaml:"console_level"`
}

// Pipeline is the fully decoded, environment-expanded configuration tree.
type Pipeline struct {
	OpenAI        OpenAIConfig         `yaml:"openai"`
	Fetch         FetchConfig          `yaml:"fetch"`
	Topics        []Topic              `yaml:"topics"`
	Relevance     RelevanceConfig      `yaml:"relevance"`
	Summarization SummarizationConfig  `yaml:"summarization"`
	Site          SiteConfig           `yaml:"site"`
	Email         EmailConfig          `yaml:"email"`
	Runtime       RuntimeConfig        `yaml:"runtime"`
}

// ValidationError is one field-level problem surfaced by Validate.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Message) }

var envPlaceholderRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces ${VAR} placeholders in s with the value of the named
// environment variable. Unresolved variables are left as an empty string;
// the caller is responsible for surfacing that as a validation error when
// the field is required. This is the single expansion pass: nothing
// downstream reads os.Getenv directly.
func ExpandEnv(s string) string {
	return envPlaceholderRe.ReplaceAllStringFunc(s, func(m string) string {
		name := envPlaceholderRe.FindStringSubmatch(m)[1]
		return os.Getenv(name)
	})
}

// ExpandAll walks every string field that commonly carries secrets or
// endpoints and expands ${VAR} placeholders in place.
func ExpandAll(p *Pipeline) {
	p.OpenAI.APIKey = ExpandEnv(p.OpenAI.APIKey)
	p.OpenAI.BaseURL = ExpandEnv(p.OpenAI.BaseURL)
	p.Email.SMTPHost = ExpandEnv(p.Email.SMTPHost)
	p.Email.Username = ExpandEnv(p.Email.Username)
	p.Email.Password = ExpandEnv(p.Email.Password)
	p.Email.Sender = ExpandEnv(p.Email.Sender)
}

// Validate collects every problem with p rather than stopping at the first,
// following the config validator of the system this pipeline replaces.
func Validate(p Pipeline) []ValidationError {
	var errs []ValidationError

	if len(p.Topics) == 0 {
		errs = append(errs, ValidationError{"topics", "at least one topic is required"})
	}
	seen := map[string]bool{}
	for i, t := range p.Topics {
		field := fmt.Sprintf("topics[%d]", i)
		if strings.TrimSpace(t.Name) == "" {
			errs = append(errs, ValidationError{field + ".name", "must not be empty"})
		} else if seen[t.Name] {
			errs = append(errs, ValidationError{field + ".name", "must be unique"})
		}
		seen[t.Name] = true
		if t.Query.Empty() {
			errs = append(errs, ValidationError{field + ".query", "at least one of categories, include, exclude is required"})
		}
	}

	if p.Runtime.Mode == ModeOnline && strings.TrimSpace(p.OpenAI.APIKey) == "" {
		errs = append(errs, ValidationError{"openai.api_key", "required when runtime.mode is online"})
	}
	if p.Runtime.Mode != ModeOnline && p.Runtime.Mode != ModeOffline {
		errs = append(errs, ValidationError{"runtime.mode", "must be online or offline"})
	}

	var weightSum float64
	for _, d := range p.Relevance.ScoringDimensions {
		weightSum += d.Weight
	}
	if len(p.Relevance.ScoringDimensions) > 0 && weightSum <= 0 {
		errs = append(errs, ValidationError{"relevance.scoring_dimensions", "weights must sum to a positive value"})
	}

	if p.Email.Enabled {
		if p.Email.Sender == "" || len(p.Email.Recipients) == 0 || p.Email.SMTPHost == "" {
			errs = append(errs, ValidationError{"email", "sender, recipients, and smtp_host are required when enabled"})
		}
	}

	return errs
}
