package model

import (
	"time"
)

type ProviderKind string

const (
	ProviderOpenAI      ProviderKind = "openai"
	ProviderOpenRouter  ProviderKind = "openrouter"
	ProviderAnthropic   ProviderKind = "anthropic"
	ProviderGoogle      ProviderKind = "google"
	ProviderMistral     ProviderKind = "mistral"
	ProviderGroq        ProviderKind = "groq"
	ProviderCohere      ProviderKind = "cohere"
	ProviderAzureOpenAI ProviderKind = "azure_openai"
	ProviderOllama      ProviderKind = "ollama"
	ProviderCustom      ProviderKind = "custom" // any OpenAI-compatible endpoint
)

// Capabilities describes what a registered model can do. Tags are free-form
// labels used by descriptor filters and pipeline participant selection.
type Capabilities struct {
	MaxContextTokens  int      `json:"max_context_tokens"`
	SupportsStreaming bool     `json:"supports_streaming"`
	Tags              []string `json:"tags,omitempty"`
}

// HasTag reports whether the capability set carries the given tag.
func (c Capabilities) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ModelDescriptor identifies one registered model. Exactly one adapter
// instance exists per descriptor; the registry owns both.
type ModelDescriptor struct {
	ID           string       `json:"id"`
	Provider     ProviderKind `json:"provider"`
	DisplayName  string       `json:"display_name"`
	BaseURL      string       `json:"base_url"`
	UpstreamName string       `json:"upstream_name"` // model name on the provider side, e.g. gpt-4o
	Capabilities Capabilities `json:"capabilities"`
	RegisteredAt time.Time    `json:"registered_at"`
}

// CircuitState mirrors the resilient adapter's breaker state for reporting.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// HealthSnapshot is the per-model view returned by the health surface.
type HealthSnapshot struct {
	ModelID      string       `json:"model_id"`
	Provider     ProviderKind `json:"provider"`
	CircuitState CircuitState `json:"circuit_state"`
	FailureCount int          `json:"failure_count"`
	LastSuccess  *time.Time   `json:"last_success,omitempty"`
	LastFailure  *time.Time   `json:"last_failure,omitempty"`
}

// DescriptorFilter defines optional conditions for listing descriptors.
type DescriptorFilter struct {
	Provider          *ProviderKind
	Tag               *string
	SupportsStreaming *bool
	MinContextTokens  *int
}

// Matches reports whether the descriptor satisfies every set condition.
func (f DescriptorFilter) Matches(d ModelDescriptor) bool {
	if f.Provider != nil && d.Provider != *f.Provider {
		return false
	}
	if f.Tag != nil && !d.Capabilities.HasTag(*f.Tag) {
		return false
	}
	if f.SupportsStreaming != nil && d.Capabilities.SupportsStreaming != *f.SupportsStreaming {
		return false
	}
	if f.MinContextTokens != nil && d.Capabilities.MaxContextTokens < *f.MinContextTokens {
		return false
	}
	return true
}
