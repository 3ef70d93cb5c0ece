package resilience

import (
	"errors"
	"testing"
	"time"

	"ultra-server/services/orchestrator-api/internal/domain/model"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(settings BreakerSettings) (*CircuitBreaker, *fakeClock) {
	b := NewCircuitBreaker("model-a", model.ProviderOpenAI, settings)
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	b.now = clock.now
	return b, clock
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(BreakerSettings{FailureThreshold: 3, SuccessThreshold: 1, RecoveryTimeout: 30 * time.Second})

	for i := 0; i < 3; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("call %d should be allowed while closed: %v", i, err)
		}
		b.RecordFailure()
	}

	if b.State() != model.CircuitOpen {
		t.Fatalf("expected open after threshold, got %s", b.State())
	}

	err := b.Allow()
	var coe *model.CircuitOpenError
	if !errors.As(err, &coe) {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}
	if coe.ModelID != "model-a" {
		t.Fatalf("expected model-a in error, got %s", coe.ModelID)
	}
}

func TestBreakerFailureCountResetsOnSuccess(t *testing.T) {
	b, _ := newTestBreaker(BreakerSettings{FailureThreshold: 3, SuccessThreshold: 1, RecoveryTimeout: 30 * time.Second})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if b.State() != model.CircuitClosed {
		t.Fatalf("expected closed, success should reset the failure streak, got %s", b.State())
	}
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	b, clock := newTestBreaker(BreakerSettings{FailureThreshold: 1, SuccessThreshold: 2, RecoveryTimeout: 10 * time.Second})

	b.RecordFailure()
	if b.State() != model.CircuitOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	// Still open before the recovery timeout.
	clock.advance(9 * time.Second)
	if err := b.Allow(); err == nil {
		t.Fatal("expected fast-fail before recovery timeout")
	}

	clock.advance(2 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe to be admitted after recovery timeout: %v", err)
	}
	if b.State() != model.CircuitHalfOpen {
		t.Fatalf("expected half_open, got %s", b.State())
	}

	// Only one probe at a time.
	if err := b.Allow(); err == nil {
		t.Fatal("expected second concurrent probe to be rejected")
	}

	b.RecordSuccess()
	if b.State() != model.CircuitHalfOpen {
		t.Fatalf("one success below threshold must stay half_open, got %s", b.State())
	}

	if err := b.Allow(); err != nil {
		t.Fatalf("next probe should be admitted: %v", err)
	}
	b.RecordSuccess()
	if b.State() != model.CircuitClosed {
		t.Fatalf("expected closed after success threshold, got %s", b.State())
	}
}

func TestBreakerHalfOpenFailureReopensAndResetsTimer(t *testing.T) {
	b, clock := newTestBreaker(BreakerSettings{FailureThreshold: 1, SuccessThreshold: 1, RecoveryTimeout: 10 * time.Second})

	b.RecordFailure()
	clock.advance(11 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe should be admitted: %v", err)
	}
	b.RecordFailure()

	if b.State() != model.CircuitOpen {
		t.Fatalf("expected reopen on half-open failure, got %s", b.State())
	}

	// Timer restarted: the previous elapsed time must not count.
	clock.advance(9 * time.Second)
	if err := b.Allow(); err == nil {
		t.Fatal("expected fast-fail, recovery timer should have been reset")
	}
	clock.advance(2 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe after full recovery timeout: %v", err)
	}
}

func TestBreakerReleaseProbeDoesNotLeakSlot(t *testing.T) {
	b, clock := newTestBreaker(BreakerSettings{FailureThreshold: 1, SuccessThreshold: 1, RecoveryTimeout: 10 * time.Second})

	b.RecordFailure()
	clock.advance(11 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe should be admitted: %v", err)
	}

	// The admitted probe is abandoned without a verdict. The slot must be
	// released, not leaked: back to open with the timer restarted.
	b.ReleaseProbe()
	if b.State() != model.CircuitOpen {
		t.Fatalf("expected open after abandoned probe, got %s", b.State())
	}

	clock.advance(9 * time.Second)
	if err := b.Allow(); err == nil {
		t.Fatal("expected fast-fail, recovery timer should have been restarted")
	}
	clock.advance(2 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("next probe should be admitted after full recovery timeout: %v", err)
	}
	b.RecordSuccess()
	if b.State() != model.CircuitClosed {
		t.Fatalf("expected closed after successful probe, got %s", b.State())
	}
}

func TestBreakerReleaseProbeOutsideHalfOpenIsNoOp(t *testing.T) {
	b, _ := newTestBreaker(BreakerSettings{FailureThreshold: 2, SuccessThreshold: 1, RecoveryTimeout: 10 * time.Second})

	b.ReleaseProbe()
	if b.State() != model.CircuitClosed {
		t.Fatalf("release while closed must not change state, got %s", b.State())
	}

	b.RecordFailure()
	b.RecordFailure()
	b.ReleaseProbe()
	if b.State() != model.CircuitOpen {
		t.Fatalf("release while open must not change state, got %s", b.State())
	}
}

func TestBreakerSnapshot(t *testing.T) {
	b, _ := newTestBreaker(BreakerSettings{FailureThreshold: 5, SuccessThreshold: 1, RecoveryTimeout: time.Second})

	b.RecordFailure()
	b.RecordFailure()

	snap := b.Snapshot()
	if snap.CircuitState != model.CircuitClosed {
		t.Fatalf("expected closed, got %s", snap.CircuitState)
	}
	if snap.FailureCount != 2 {
		t.Fatalf("expected failure count 2, got %d", snap.FailureCount)
	}
	if snap.LastFailure == nil {
		t.Fatal("expected last failure timestamp")
	}
	if snap.LastSuccess != nil {
		t.Fatal("expected no last success timestamp")
	}
}

func TestBreakerOnOpenCallback(t *testing.T) {
	b, clock := newTestBreaker(BreakerSettings{FailureThreshold: 1, SuccessThreshold: 1, RecoveryTimeout: time.Second})

	opens := 0
	b.SetOnOpen(func() { opens++ })

	b.RecordFailure()
	clock.advance(2 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe: %v", err)
	}
	b.RecordFailure()

	if opens != 2 {
		t.Fatalf("expected 2 open transitions, got %d", opens)
	}
}
