package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
)

// RetryConfig tunes the exponential backoff between attempts.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration

	// Retryable decides whether an error is worth another attempt.
	// Nil means every error is retryable.
	Retryable func(error) bool

	// OnRetry is called before each backoff wait, for logging/metrics.
	OnRetry func(err error, attempt int, delay time.Duration)
}

// Retry re-invokes a function on retryable failure with exponential backoff.
type Retry struct {
	cfg RetryConfig
	clk clock.Clock
}

func NewRetry(cfg RetryConfig) (*Retry, error) {
	if cfg.MaxAttempts <= 0 {
		return nil, errors.New("retry: maxAttempts must be > 0")
	}
	if cfg.BaseDelay < 0 {
		return nil, errors.New("retry: baseDelay must be >= 0")
	}
	if cfg.Multiplier < 1 {
		return nil, errors.New("retry: multiplier must be >= 1")
	}
	return &Retry{cfg: cfg, clk: clock.New()}, nil
}

// WithClock swaps the wall clock, for tests.
func (r *Retry) WithClock(clk clock.Clock) *Retry {
	r.clk = clk
	return r
}

// Do invokes fn up to MaxAttempts times. Non-retryable errors and exhaustion
// both return the last error to the caller; backoff waits respect ctx.
func (r *Retry) Do(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if r.cfg.Retryable != nil && !r.cfg.Retryable(lastErr) {
			return lastErr
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}

		delay := r.delayFor(attempt)
		if r.cfg.OnRetry != nil {
			r.cfg.OnRetry(lastErr, attempt, delay)
		}
		if err := r.wait(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

func (r *Retry) delayFor(attempt int) time.Duration {
	d := r.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * r.cfg.Multiplier)
		if r.cfg.MaxDelay > 0 && d >= r.cfg.MaxDelay {
			return r.cfg.MaxDelay
		}
	}
	if r.cfg.MaxDelay > 0 && d > r.cfg.MaxDelay {
		d = r.cfg.MaxDelay
	}
	return d
}

func (r *Retry) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := r.clk.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
