package resilience

import (
	"sync"
	"time"

	"ultra-server/services/orchestrator-api/internal/domain/model"
	"ultra-server/services/orchestrator-api/internal/infrastructure/metrics"
)

// BreakerSettings configures one model's circuit breaker.
type BreakerSettings struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
}

// DefaultBreakerSettings matches the platform defaults.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
	}
}

// CircuitBreaker isolates one model's provider. State transitions:
// closed -> open after FailureThreshold consecutive failures, open ->
// half-open once RecoveryTimeout elapses, half-open -> closed after
// SuccessThreshold consecutive probe successes, half-open -> open on any
// probe failure (timer reset). At most one probe is in flight while
// half-open.
type CircuitBreaker struct {
	modelID  string
	provider model.ProviderKind
	settings BreakerSettings

	mu                   sync.Mutex
	state                model.CircuitState
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
	probeInFlight        bool
	lastSuccess          *time.Time
	lastFailure          *time.Time

	now    func() time.Time
	onOpen func()
}

func NewCircuitBreaker(modelID string, provider model.ProviderKind, settings BreakerSettings) *CircuitBreaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = DefaultBreakerSettings().FailureThreshold
	}
	if settings.SuccessThreshold <= 0 {
		settings.SuccessThreshold = DefaultBreakerSettings().SuccessThreshold
	}
	if settings.RecoveryTimeout <= 0 {
		settings.RecoveryTimeout = DefaultBreakerSettings().RecoveryTimeout
	}
	return &CircuitBreaker{
		modelID:  modelID,
		provider: provider,
		settings: settings,
		state:    model.CircuitClosed,
		now:      time.Now,
	}
}

// SetOnOpen registers a callback fired on every transition to open.
func (b *CircuitBreaker) SetOnOpen(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onOpen = fn
}

// Allow reports whether a call may proceed. While open it fails fast with
// *model.CircuitOpenError; while half-open it admits a single probe.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case model.CircuitClosed:
		return nil
	case model.CircuitOpen:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.settings.RecoveryTimeout {
			return &model.CircuitOpenError{
				ModelID:    b.modelID,
				Provider:   b.provider,
				RetryAfter: b.settings.RecoveryTimeout - elapsed,
			}
		}
		b.transition(model.CircuitHalfOpen)
		b.consecutiveSuccesses = 0
		b.probeInFlight = true
		return nil
	case model.CircuitHalfOpen:
		if b.probeInFlight {
			return &model.CircuitOpenError{
				ModelID:    b.modelID,
				Provider:   b.provider,
				RetryAfter: 0,
			}
		}
		b.probeInFlight = true
		return nil
	}
	return nil
}

// ReleaseProbe releases a call admitted by Allow that ended without a
// verdict, such as caller cancellation. A half-open probe slot must never
// leak: the breaker returns to open with the recovery timer restarted so the
// next probe is admitted after a full timeout. The abandoned call is not
// counted as a provider failure.
func (b *CircuitBreaker) ReleaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != model.CircuitHalfOpen || !b.probeInFlight {
		return
	}
	b.probeInFlight = false
	b.consecutiveSuccesses = 0
	b.openedAt = b.now()
	b.transition(model.CircuitOpen)
}

// RecordSuccess notes a successful call admitted by Allow.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.lastSuccess = &now
	b.consecutiveFailures = 0

	if b.state == model.CircuitHalfOpen {
		b.probeInFlight = false
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.settings.SuccessThreshold {
			b.transition(model.CircuitClosed)
			b.consecutiveSuccesses = 0
		}
	}
}

// RecordFailure notes a failed call admitted by Allow.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.lastFailure = &now

	switch b.state {
	case model.CircuitClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.settings.FailureThreshold {
			b.open(now)
		}
	case model.CircuitHalfOpen:
		// any half-open failure reopens and resets the timer
		b.probeInFlight = false
		b.consecutiveSuccesses = 0
		b.open(now)
	}
}

// Snapshot returns the current breaker state for the health surface.
func (b *CircuitBreaker) Snapshot() model.HealthSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return model.HealthSnapshot{
		ModelID:      b.modelID,
		Provider:     b.provider,
		CircuitState: b.state,
		FailureCount: b.consecutiveFailures,
		LastSuccess:  b.lastSuccess,
		LastFailure:  b.lastFailure,
	}
}

// State returns the current circuit state.
func (b *CircuitBreaker) State() model.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *CircuitBreaker) open(now time.Time) {
	b.openedAt = now
	b.transition(model.CircuitOpen)
	if b.onOpen != nil {
		b.onOpen()
	}
	metrics.RecordCircuitOpen(b.modelID, string(b.provider))
}

// transition must be called with the mutex held.
func (b *CircuitBreaker) transition(next model.CircuitState) {
	b.state = next
	metrics.SetCircuitState(b.modelID, string(b.provider), string(next))
}
