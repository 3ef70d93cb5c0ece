package resilience

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ultra-server/services/orchestrator-api/internal/domain/model"
)

// scriptedAdapter fails a fixed number of times before succeeding.
type scriptedAdapter struct {
	calls    atomic.Int32
	failures int
	err      error
	delay    time.Duration
}

func (s *scriptedAdapter) Name() string { return "scripted" }

func (s *scriptedAdapter) Generate(ctx context.Context, req model.GenerateRequest) (*model.GenerateResponse, error) {
	n := s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if int(n) <= s.failures {
		return nil, s.err
	}
	return &model.GenerateResponse{Text: "answer", PromptTokens: 10, CompletionTokens: 20}, nil
}

func (s *scriptedAdapter) TestConnection(ctx context.Context) error { return nil }

func (s *scriptedAdapter) Capabilities() model.Capabilities { return model.Capabilities{} }

func testSettings() Settings {
	return Settings{
		Timeout: time.Second,
		Retry: RetryPolicy{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Base:         2.0,
		},
		Breaker: BreakerSettings{FailureThreshold: 10, SuccessThreshold: 1, RecoveryTimeout: time.Minute},
	}
}

func newScriptedResilient(base *scriptedAdapter, settings Settings) *Adapter {
	desc := model.ModelDescriptor{ID: "model-a", Provider: model.ProviderOpenAI}
	return NewAdapter(base, desc, settings, zerolog.Nop())
}

func TestAdapterRetriesTransientThenSucceeds(t *testing.T) {
	base := &scriptedAdapter{
		failures: 2,
		err:      model.NewTransientError("model-a", model.ProviderOpenAI, http.StatusBadGateway, errors.New("bad gateway")),
	}
	a := newScriptedResilient(base, testSettings())

	resp, err := a.Generate(context.Background(), model.GenerateRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	if resp.Text != "answer" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if got := base.calls.Load(); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}

	m := a.Metrics()
	if m.Requests != 1 || m.Successes != 1 || m.Failures != 2 || m.Retries != 2 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestAdapterExhaustsRetries(t *testing.T) {
	base := &scriptedAdapter{
		failures: 100,
		err:      model.NewTransientError("model-a", model.ProviderOpenAI, http.StatusTooManyRequests, errors.New("rate limited")),
	}
	a := newScriptedResilient(base, testSettings())

	_, err := a.Generate(context.Background(), model.GenerateRequest{Prompt: "hi"})
	if !model.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if got := base.calls.Load(); got != 3 {
		t.Fatalf("expected exactly max_attempts=3 calls, got %d", got)
	}
}

func TestAdapterNeverRetriesPermanent(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusNotFound} {
		base := &scriptedAdapter{
			failures: 100,
			err:      model.NewPermanentError("model-a", model.ProviderOpenAI, status, errors.New("nope")),
		}
		a := newScriptedResilient(base, testSettings())

		_, err := a.Generate(context.Background(), model.GenerateRequest{Prompt: "hi"})
		var pe *model.ProviderError
		if !errors.As(err, &pe) || pe.Class != model.ErrorClassPermanent {
			t.Fatalf("status %d: expected permanent error, got %v", status, err)
		}
		if got := base.calls.Load(); got != 1 {
			t.Fatalf("status %d: expected a single call, got %d", status, got)
		}
	}
}

func TestAdapterCircuitOpensAndFastFails(t *testing.T) {
	settings := testSettings()
	settings.Retry.MaxAttempts = 1
	settings.Breaker = BreakerSettings{FailureThreshold: 3, SuccessThreshold: 1, RecoveryTimeout: time.Hour}

	base := &scriptedAdapter{
		failures: 100,
		err:      model.NewTransientError("model-a", model.ProviderOpenAI, http.StatusServiceUnavailable, errors.New("down")),
	}
	a := newScriptedResilient(base, settings)

	for i := 0; i < 3; i++ {
		if _, err := a.Generate(context.Background(), model.GenerateRequest{Prompt: "hi"}); err == nil {
			t.Fatalf("call %d should fail", i)
		}
	}

	callsBefore := base.calls.Load()
	_, err := a.Generate(context.Background(), model.GenerateRequest{Prompt: "hi"})
	if !model.IsCircuitOpen(err) {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}
	if base.calls.Load() != callsBefore {
		t.Fatal("open circuit must not invoke the underlying provider")
	}

	if got := a.Metrics().CircuitOpens; got != 1 {
		t.Fatalf("expected 1 circuit open, got %d", got)
	}
	if a.Health().CircuitState != model.CircuitOpen {
		t.Fatalf("expected open health state, got %s", a.Health().CircuitState)
	}
}

func TestAdapterTimeoutClassifiedTransient(t *testing.T) {
	settings := testSettings()
	settings.Timeout = 10 * time.Millisecond
	settings.Retry.MaxAttempts = 2

	base := &scriptedAdapter{failures: 0, delay: 200 * time.Millisecond}
	a := newScriptedResilient(base, settings)

	_, err := a.Generate(context.Background(), model.GenerateRequest{Prompt: "hi"})
	if !model.IsTransient(err) {
		t.Fatalf("expected timeout classified transient, got %v", err)
	}
	if got := base.calls.Load(); got != 2 {
		t.Fatalf("expected timeout to be retried once, got %d calls", got)
	}
}

// halfOpenScript fails once to trip the breaker, blocks on the second call
// until its context is cancelled, then succeeds.
type halfOpenScript struct {
	calls atomic.Int32
}

func (s *halfOpenScript) Name() string { return "scripted" }

func (s *halfOpenScript) Generate(ctx context.Context, req model.GenerateRequest) (*model.GenerateResponse, error) {
	switch s.calls.Add(1) {
	case 1:
		return nil, model.NewTransientError("model-a", model.ProviderOpenAI, http.StatusServiceUnavailable, errors.New("down"))
	case 2:
		<-ctx.Done()
		return nil, ctx.Err()
	default:
		return &model.GenerateResponse{Text: "answer"}, nil
	}
}

func (s *halfOpenScript) TestConnection(ctx context.Context) error { return nil }

func (s *halfOpenScript) Capabilities() model.Capabilities { return model.Capabilities{} }

func TestAdapterRecoversAfterCancelledHalfOpenProbe(t *testing.T) {
	settings := testSettings()
	settings.Retry.MaxAttempts = 1
	settings.Breaker = BreakerSettings{FailureThreshold: 1, SuccessThreshold: 1, RecoveryTimeout: time.Minute}

	base := &halfOpenScript{}
	desc := model.ModelDescriptor{ID: "model-a", Provider: model.ProviderOpenAI}
	a := NewAdapter(base, desc, settings, zerolog.Nop())
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	a.breaker.now = clock.now

	// Trip the breaker.
	if _, err := a.Generate(context.Background(), model.GenerateRequest{Prompt: "hi"}); err == nil {
		t.Fatal("first call should fail")
	}
	if a.Health().CircuitState != model.CircuitOpen {
		t.Fatalf("expected open, got %s", a.Health().CircuitState)
	}

	// Admit the half-open probe, then cancel it mid-flight.
	clock.advance(2 * time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if _, err := a.Generate(ctx, model.GenerateRequest{Prompt: "hi"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// The probe slot must not leak: once the provider heals and the timer
	// elapses again, a call must reach the provider and close the circuit.
	for i := 0; i < 5; i++ {
		clock.advance(2 * time.Minute)
		resp, err := a.Generate(context.Background(), model.GenerateRequest{Prompt: "hi"})
		if err != nil {
			t.Fatalf("call %d after cancelled probe: %v", i, err)
		}
		if resp.Text != "answer" {
			t.Fatalf("call %d: unexpected text %q", i, resp.Text)
		}
	}
	if a.Health().CircuitState != model.CircuitClosed {
		t.Fatalf("expected closed after recovery, got %s", a.Health().CircuitState)
	}
	// Cancellation still must not count as a breaker failure.
	if a.Health().FailureCount != 0 {
		t.Fatalf("cancelled probe recorded as breaker failure: %+v", a.Health())
	}
}

func TestAdapterCallerCancellation(t *testing.T) {
	settings := testSettings()
	base := &scriptedAdapter{failures: 0, delay: time.Second}
	a := newScriptedResilient(base, settings)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := a.Generate(ctx, model.GenerateRequest{Prompt: "hi"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("cancellation took too long: %s", elapsed)
	}
	// Cancellation must not count against the breaker.
	if a.Health().FailureCount != 0 {
		t.Fatalf("cancellation recorded as breaker failure: %+v", a.Health())
	}
}
