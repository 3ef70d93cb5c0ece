package model

import (
	"context"
	"time"
)

// GenerateRequest carries one prompt to a provider adapter.
type GenerateRequest struct {
	Prompt       string
	SystemPrompt string
	Temperature  float32
	MaxTokens    int
}

// GenerateResponse is the adapter-level result of a single completion call.
type GenerateResponse struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

func (r *GenerateResponse) TotalTokens() int {
	if r == nil {
		return 0
	}
	return r.PromptTokens + r.CompletionTokens
}

// ProviderAdapter is the contract every provider integration implements.
// Implementations must honour context cancellation on all calls.
type ProviderAdapter interface {
	// Name returns the registered model id the adapter serves.
	Name() string

	// Generate produces one completion for the request. Errors returned are
	// expected to be *ProviderError so the resilience layer can classify them.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)

	// TestConnection performs a cheap reachability probe against the provider.
	TestConnection(ctx context.Context) error

	// Capabilities reports the static capability metadata for the model.
	Capabilities() Capabilities
}

// AdapterMetrics is an atomic snapshot of one resilient adapter's counters.
type AdapterMetrics struct {
	Requests     uint64 `json:"requests"`
	Successes    uint64 `json:"successes"`
	Failures     uint64 `json:"failures"`
	Retries      uint64 `json:"retries"`
	CircuitOpens uint64 `json:"circuit_opens"`
}

// ResilientAdapter is a ProviderAdapter that additionally exposes breaker
// health and call metrics. The resilience layer provides the implementation.
type ResilientAdapter interface {
	ProviderAdapter
	Health() HealthSnapshot
	Metrics() AdapterMetrics
}
