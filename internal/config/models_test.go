package config

import (
	"strings"
	"testing"
	"time"
)

const sampleModelConfig = `
timeouts:
  openai: 45s
  anthropic: 90s

defaults:
  retry:
    max_attempts: 4
    initial_delay: 200ms
    max_delay: 5s
    base: 2.0
    jitter_fraction: 0.2
  breaker:
    failure_threshold: 5
    success_threshold: 2
    recovery_timeout: 30s

models:
  - id: gpt-4o
    provider: openai
    url: https://api.openai.com/v1
    upstream_name: gpt-4o
    api_key: test-key
    max_context_tokens: 128000
    tags: [flagship]
  - id: claude-sonnet
    provider: anthropic
    url: https://api.anthropic.com/v1
    upstream_name: claude-sonnet-4-20250514
  - id: disabled-model
    enable: "false"
    provider: openai
    url: https://example.com/v1
`

func TestParseModelBootstrap(t *testing.T) {
	bootstrap, err := ParseModelBootstrap([]byte(sampleModelConfig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if len(bootstrap.Entries) != 2 {
		t.Fatalf("expected 2 enabled models, got %d", len(bootstrap.Entries))
	}

	first := bootstrap.Entries[0]
	if first.ID != "gpt-4o" || first.Provider != "openai" || first.APIKey != "test-key" {
		t.Fatalf("unexpected first entry: %+v", first)
	}
	if first.MaxContextTokens != 128000 || len(first.Tags) != 1 {
		t.Fatalf("capability fields not parsed: %+v", first)
	}
	if !first.Streaming {
		t.Fatal("streaming should default to true")
	}

	second := bootstrap.Entries[1]
	if second.UpstreamName != "claude-sonnet-4-20250514" {
		t.Fatalf("unexpected upstream name %q", second.UpstreamName)
	}
	if second.DisplayName != "claude-sonnet" {
		t.Fatalf("display name should default to id, got %q", second.DisplayName)
	}
}

func TestParseModelBootstrapTimeoutTable(t *testing.T) {
	bootstrap, err := ParseModelBootstrap([]byte(sampleModelConfig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if got := bootstrap.TimeoutFor("openai", time.Minute); got != 45*time.Second {
		t.Fatalf("expected 45s for openai, got %s", got)
	}
	if got := bootstrap.TimeoutFor("anthropic", time.Minute); got != 90*time.Second {
		t.Fatalf("expected 90s for anthropic, got %s", got)
	}
	if got := bootstrap.TimeoutFor("mistral", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback for unknown provider, got %s", got)
	}
}

func TestParseModelBootstrapResilienceDefaults(t *testing.T) {
	bootstrap, err := ParseModelBootstrap([]byte(sampleModelConfig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if bootstrap.Retry.MaxAttempts != 4 || bootstrap.Retry.InitialDelay != 200*time.Millisecond || bootstrap.Retry.MaxDelay != 5*time.Second {
		t.Fatalf("unexpected retry config: %+v", bootstrap.Retry)
	}
	if bootstrap.Breaker.FailureThreshold != 5 || bootstrap.Breaker.SuccessThreshold != 2 || bootstrap.Breaker.RecoveryTimeout != 30*time.Second {
		t.Fatalf("unexpected breaker config: %+v", bootstrap.Breaker)
	}
}

func TestParseModelBootstrapRejectsDuplicates(t *testing.T) {
	doc := `
models:
  - id: gpt-4o
    provider: openai
    url: https://api.openai.com/v1
  - id: gpt-4o
    provider: openai
    url: https://api.openai.com/v1
`
	if _, err := ParseModelBootstrap([]byte(doc)); err == nil || !strings.Contains(err.Error(), "duplicate model id") {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}

func TestParseModelBootstrapRejectsEmpty(t *testing.T) {
	if _, err := ParseModelBootstrap([]byte("models: []")); err == nil {
		t.Fatal("expected error for empty model list")
	}

	doc := `
models:
  - id: broken
    provider: openai
`
	if _, err := ParseModelBootstrap([]byte(doc)); err == nil || !strings.Contains(err.Error(), "url is required") {
		t.Fatalf("expected url error, got %v", err)
	}
}
