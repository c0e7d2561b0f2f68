// Package retry provides the backoff primitive used around network calls.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/stockpulse/stock-monitor/internal/types"
)

// Policy controls how Do spaces repeated attempts of a failing operation.
type Policy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterRatio   float64
	// Retryable decides whether an error is worth another attempt.
	// Nil falls back to types.IsRetryable.
	Retryable func(error) bool
}

// DefaultPolicy returns the policy used for scan fetches.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		BaseDelay:     1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterRatio:   0.25,
		Retryable:     types.IsRetryable,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 1 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.BackoffFactor <= 0 {
		p.BackoffFactor = 2.0
	}
	if p.JitterRatio < 0 {
		p.JitterRatio = 0.25
	}
	if p.Retryable == nil {
		p.Retryable = types.IsRetryable
	}
	return p
}

// Backoff returns the sleep before the attempt after attempt k (1-indexed):
// min(max_delay, base_delay * factor^(k-1)) scaled by a jitter multiplier
// uniform in [1-jitter_ratio, 1+jitter_ratio].
func Backoff(attempt int, p Policy) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	exponential := float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(attempt-1))
	capped := math.Min(exponential, float64(p.MaxDelay))
	multiplier := 1 + p.JitterRatio*(2*rand.Float64()-1)
	return time.Duration(capped * multiplier)
}

// Do runs op until it succeeds, returns a non-retryable error, or exhausts
// MaxAttempts. The last error is returned on exhaustion. A server-provided
// Retry-After hint is honored as a lower bound on the computed backoff.
// All sleeps abort on context cancellation.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	p = p.withDefaults()
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		if err := sleep(ctx, delayFor(attempt, p, lastErr)); err != nil {
			return err
		}
	}
	return lastErr
}

func delayFor(attempt int, p Policy, err error) time.Duration {
	delay := Backoff(attempt, p)
	var limited *types.RateLimitedError
	if errors.As(err, &limited) && limited.RetryAfter > delay {
		delay = limited.RetryAfter
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
