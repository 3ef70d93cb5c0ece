package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Orchestrator metrics
var (
	// Provider call counters
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ultra",
			Subsystem: "orchestrator",
			Name:      "provider_requests_total",
			Help:      "Total provider generation calls, including retries",
		},
		[]string{"model", "provider"},
	)

	ProviderFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ultra",
			Subsystem: "orchestrator",
			Name:      "provider_failures_total",
			Help:      "Provider call failures by error class",
		},
		[]string{"model", "provider", "class"},
	)

	ProviderRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ultra",
			Subsystem: "orchestrator",
			Name:      "provider_retries_total",
			Help:      "Retry attempts issued by the resilience layer",
		},
		[]string{"model", "provider"},
	)

	// Circuit breaker
	CircuitOpensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ultra",
			Subsystem: "orchestrator",
			Name:      "circuit_opens_total",
			Help:      "Times a model's circuit breaker transitioned to open",
		},
		[]string{"model", "provider"},
	)

	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ultra",
			Subsystem: "orchestrator",
			Name:      "circuit_state",
			Help:      "Circuit state per model (0=closed, 1=half_open, 2=open)",
		},
		[]string{"model", "provider"},
	)

	// Provider call duration
	ProviderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ultra",
			Subsystem: "orchestrator",
			Name:      "provider_duration_seconds",
			Help:      "Provider generation call duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"model", "provider"},
	)

	// Pipeline stage duration
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ultra",
			Subsystem: "orchestrator",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	PipelinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ultra",
			Subsystem: "orchestrator",
			Name:      "pipelines_total",
			Help:      "Completed pipeline executions by outcome",
		},
		[]string{"outcome"},
	)

	// Token counters
	TokensPromptTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ultra",
			Subsystem: "orchestrator",
			Name:      "tokens_prompt_total",
			Help:      "Total prompt tokens consumed",
		},
		[]string{"model", "provider"},
	)

	TokensCompletionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ultra",
			Subsystem: "orchestrator",
			Name:      "tokens_completion_total",
			Help:      "Total completion tokens generated",
		},
		[]string{"model", "provider"},
	)

	// Provider health gauge, fed by the probe sweep
	ProviderHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ultra",
			Subsystem: "orchestrator",
			Name:      "provider_health",
			Help:      "Provider health status (1=healthy, 0=unhealthy)",
		},
		[]string{"model", "provider"},
	)
)

// RecordProviderCall records one provider call outcome with its duration.
func RecordProviderCall(model, provider string, durationSec float64) {
	ProviderRequestsTotal.WithLabelValues(model, provider).Inc()
	ProviderDuration.WithLabelValues(model, provider).Observe(durationSec)
}

// RecordProviderFailure records a classified provider failure.
func RecordProviderFailure(model, provider, class string) {
	ProviderFailuresTotal.WithLabelValues(model, provider, class).Inc()
}

// RecordRetry records one retry attempt.
func RecordRetry(model, provider string) {
	ProviderRetriesTotal.WithLabelValues(model, provider).Inc()
}

// RecordCircuitOpen records a closed/half-open to open transition.
func RecordCircuitOpen(model, provider string) {
	CircuitOpensTotal.WithLabelValues(model, provider).Inc()
}

// SetCircuitState publishes the current breaker state as a gauge.
func SetCircuitState(model, provider string, state string) {
	val := 0.0
	switch state {
	case "half_open":
		val = 1.0
	case "open":
		val = 2.0
	}
	CircuitState.WithLabelValues(model, provider).Set(val)
}

// RecordTokens records token usage for one completed call.
func RecordTokens(model, provider string, promptTokens, completionTokens int) {
	TokensPromptTotal.WithLabelValues(model, provider).Add(float64(promptTokens))
	TokensCompletionTotal.WithLabelValues(model, provider).Add(float64(completionTokens))
}

// RecordStageDuration records one pipeline stage's wall time.
func RecordStageDuration(stage string, durationSec float64) {
	StageDuration.WithLabelValues(stage).Observe(durationSec)
}

// RecordPipeline records one finished pipeline by outcome (done/failed/cancelled).
func RecordPipeline(outcome string) {
	PipelinesTotal.WithLabelValues(outcome).Inc()
}

// SetProviderHealth sets the health status of a model's provider endpoint.
func SetProviderHealth(model, provider string, healthy bool) {
	val := 0.0
	if healthy {
		val = 1.0
	}
	ProviderHealth.WithLabelValues(model, provider).Set(val)
}
