package config

import (
	"os"
	"testing"
)

func TestExpandEnv(t *testing.T) {
	os.Setenv("ARXIVDIGEST_TEST_VAR", "secret-value")
	defer os.Unsetenv("ARXIVDIGEST_TEST_VAR")

	got := ExpandEnv("prefix-${ARXIVDIGEST_TEST_VAR}-suffix")
	want := "prefix-secret-value-suffix"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestExpandEnv_UnresolvedBecomesEmpty(t *testing.T) {
	os.Unsetenv("ARXIVDIGEST_DOES_NOT_EXIST")
	got := ExpandEnv("${ARXIVDIGEST_DOES_NOT_EXIST}")
	if got != "" {
		t.Fatalf("expected empty string for unresolved var, got %q", got)
	}
}

func TestValidate_RequiresAtLeastOneTopic(t *testing.T) {
	p := Pipeline{Runtime: RuntimeConfig{Mode: ModeOffline}}
	errs := Validate(p)
	if len(errs) == 0 {
		t.Fatalf("expected a validation error for missing topics")
	}
}

func TestValidate_DuplicateTopicNames(t *testing.T) {
	p := Pipeline{
		Runtime: RuntimeConfig{Mode: ModeOffline},
		Topics: []Topic{
			{Name: "retrieval", Query: TopicQuery{Categories: []string{"cs.IR"}}},
			{Name: "retrieval", Query: TopicQuery{Categories: []string{"cs.IR"}}},
		},
	}
	errs := Validate(p)
	found := false
	for _, e := range errs {
		if e.Field == "topics[1].name" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a duplicate name error, got %+v", errs)
	}
}

func TestValidate_OnlineModeRequiresAPIKey(t *testing.T) {
	p := Pipeline{
		Runtime: RuntimeConfig{Mode: ModeOnline},
		Topics:  []Topic{{Name: "a", Query: TopicQuery{Categories: []string{"cs.AI"}}}},
	}
	errs := Validate(p)
	found := false
	for _, e := range errs {
		if e.Field == "openai.api_key" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an api_key error for online mode, got %+v", errs)
	}
}

func TestValidate_EmailEnabledRequiresFields(t *testing.T) {
	p := Pipeline{
		Runtime: RuntimeConfig{Mode: ModeOffline},
		Topics:  []Topic{{Name: "a", Query: TopicQuery{Categories: []string{"cs.AI"}}}},
		Email:   EmailConfig{Enabled: true},
	}
	errs := Validate(p)
	found := false
	for _, e := range errs {
		if e.Field == "email" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an email configuration error, got %+v", errs)
	}
}

func TestValidate_WeightsMustBePositive(t *testing.T) {
	p := Pipeline{
		Runtime: RuntimeConfig{Mode: ModeOffline},
		Topics:  []Topic{{Name: "a", Query: TopicQuery{Categories: []string{"cs.AI"}}}},
		Relevance: RelevanceConfig{
			ScoringDimensions: []ScoringDimension{{Name: "topic_alignment", Weight: 0}},
		},
	}
	errs := Validate(p)
	found := false
	for _, e := range errs {
		if e.Field == "relevance.scoring_dimensions" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a weights error, got %+v", errs)
	}
}

func TestValidate_ValidPipelineHasNoErrors(t *testing.T) {
	p := Pipeline{
		Runtime: RuntimeConfig{Mode: ModeOffline},
		Topics:  []Topic{{Name: "a", Query: TopicQuery{Categories: []string{"cs.AI"}}}},
		Relevance: RelevanceConfig{
			ScoringDimensions: []ScoringDimension{{Name: "topic_alignment", Weight: 1}},
		},
	}
	if errs := Validate(p); len(errs) != 0 {
		t.Fatalf("expected no errors, got %+v", errs)
	}
}
