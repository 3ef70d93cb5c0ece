package resilience

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ultra-server/services/orchestrator-api/internal/domain/model"
	"ultra-server/services/orchestrator-api/internal/infrastructure/metrics"
)

// Settings bundles the per-model resilience configuration.
type Settings struct {
	Timeout time.Duration
	Retry   RetryPolicy
	Breaker BreakerSettings
}

// Adapter wraps a raw provider adapter with timeout, bounded retry and a
// circuit breaker. It implements model.ResilientAdapter.
type Adapter struct {
	base     model.ProviderAdapter
	modelID  string
	provider model.ProviderKind
	timeout  time.Duration
	retry    RetryPolicy
	breaker  *CircuitBreaker
	log      zerolog.Logger

	requests     atomic.Uint64
	successes    atomic.Uint64
	failures     atomic.Uint64
	retries      atomic.Uint64
	circuitOpens atomic.Uint64
}

func NewAdapter(base model.ProviderAdapter, descriptor model.ModelDescriptor, settings Settings, log zerolog.Logger) *Adapter {
	if settings.Timeout <= 0 {
		settings.Timeout = 60 * time.Second
	}
	a := &Adapter{
		base:     base,
		modelID:  descriptor.ID,
		provider: descriptor.Provider,
		timeout:  settings.Timeout,
		retry:    settings.Retry.normalized(),
		breaker:  NewCircuitBreaker(descriptor.ID, descriptor.Provider, settings.Breaker),
		log: log.With().
			Str("component", "resilient-adapter").
			Str("model_id", descriptor.ID).
			Str("provider", string(descriptor.Provider)).
			Logger(),
	}
	a.breaker.SetOnOpen(func() {
		a.circuitOpens.Add(1)
	})
	return a
}

func (a *Adapter) Name() string { return a.modelID }

func (a *Adapter) Capabilities() model.Capabilities { return a.base.Capabilities() }

// Generate performs one resilient completion call: breaker gate, per-call
// timeout, retries on transient failures only.
func (a *Adapter) Generate(ctx context.Context, req model.GenerateRequest) (*model.GenerateResponse, error) {
	a.requests.Add(1)

	var lastErr error
	for attempt := 0; attempt < a.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			a.retries.Add(1)
			metrics.RecordRetry(a.modelID, string(a.provider))
			delay := a.retry.Delay(attempt - 1)
			a.log.Debug().
				Int("attempt", attempt+1).
				Dur("backoff", delay).
				Msg("retrying provider call")
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		if err := a.breaker.Allow(); err != nil {
			a.failures.Add(1)
			metrics.RecordProviderFailure(a.modelID, string(a.provider), string(model.ErrorClassCircuitOpen))
			return nil, err
		}

		resp, err := a.callOnce(ctx, req)
		if err == nil {
			a.breaker.RecordSuccess()
			a.successes.Add(1)
			metrics.RecordTokens(a.modelID, string(a.provider), resp.PromptTokens, resp.CompletionTokens)
			return resp, nil
		}

		// Caller cancellation is not a provider failure, but the admitted
		// call must still release its half-open probe slot.
		if ctx.Err() != nil {
			a.breaker.ReleaseProbe()
			return nil, ctx.Err()
		}

		classified := a.classify(err)
		a.breaker.RecordFailure()
		a.failures.Add(1)
		metrics.RecordProviderFailure(a.modelID, string(a.provider), string(classified.Class))

		a.log.Warn().
			Err(classified).
			Int("attempt", attempt+1).
			Int("max_attempts", a.retry.MaxAttempts).
			Bool("retryable", classified.Retryable()).
			Msg("provider call failed")

		lastErr = classified
		if !classified.Retryable() {
			return nil, classified
		}
	}

	return nil, lastErr
}

// TestConnection probes the underlying provider with the call timeout. The
// probe bypasses retry and breaker accounting so health sweeps cannot trip
// circuits on their own.
func (a *Adapter) TestConnection(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.base.TestConnection(callCtx)
}

// Health returns the breaker's view of the model.
func (a *Adapter) Health() model.HealthSnapshot {
	return a.breaker.Snapshot()
}

// Metrics returns an atomic snapshot of the adapter's counters.
func (a *Adapter) Metrics() model.AdapterMetrics {
	return model.AdapterMetrics{
		Requests:     a.requests.Load(),
		Successes:    a.successes.Load(),
		Failures:     a.failures.Load(),
		Retries:      a.retries.Load(),
		CircuitOpens: a.circuitOpens.Load(),
	}
}

func (a *Adapter) callOnce(ctx context.Context, req model.GenerateRequest) (*model.GenerateResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	resp, err := a.base.Generate(callCtx, req)
	elapsed := time.Since(start)
	metrics.RecordProviderCall(a.modelID, string(a.provider), elapsed.Seconds())

	if err != nil {
		return nil, err
	}
	if resp.Latency == 0 {
		resp.Latency = elapsed
	}
	return resp, nil
}

// classify maps an arbitrary call error to a *model.ProviderError. Adapters
// already return classified errors for HTTP statuses; everything surfacing
// from the transport (timeouts, resets, refused connections) is transient.
func (a *Adapter) classify(err error) *model.ProviderError {
	var pe *model.ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewTransientError(a.modelID, a.provider, 0, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return model.NewTransientError(a.modelID, a.provider, 0, err)
	}

	// Unclassified errors at this layer come from the transport, not from an
	// HTTP status the adapter could map. Treat them as transient.
	return model.NewTransientError(a.modelID, a.provider, 0, err)
}
