package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy bounds retries for transient provider failures.
// MaxAttempts counts the first call, so MaxAttempts=3 means at most two
// retries.
type RetryPolicy struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialDelay   time.Duration `yaml:"initial_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	Base           float64       `yaml:"base"`
	JitterFraction float64       `yaml:"jitter_fraction"`
}

// DefaultRetryPolicy matches the platform defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialDelay:   250 * time.Millisecond,
		MaxDelay:       8 * time.Second,
		Base:           2.0,
		JitterFraction: 0.2,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Base < 1 {
		p.Base = def.Base
	}
	if p.JitterFraction < 0 || p.JitterFraction >= 1 {
		p.JitterFraction = def.JitterFraction
	}
	return p
}

// BaseDelay returns the exponential delay before retry number attempt
// (0-based), without jitter: min(initial * base^attempt, max).
func (p RetryPolicy) BaseDelay(attempt int) time.Duration {
	p = p.normalized()
	delay := float64(p.InitialDelay) * math.Pow(p.Base, float64(attempt))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Delay returns BaseDelay jittered by ±JitterFraction.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	p = p.normalized()
	base := p.BaseDelay(attempt)
	if p.JitterFraction == 0 {
		return base
	}
	// uniform in [-jitter, +jitter]
	jitter := (rand.Float64()*2 - 1) * p.JitterFraction
	delay := time.Duration(float64(base) * (1 + jitter))
	if delay < 0 {
		return 0
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
