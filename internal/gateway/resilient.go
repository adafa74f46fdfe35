package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/bulkwave/dispatch/internal/resilience"
)

// ResilientClient wraps a raw gateway client with a circuit breaker, a retry
// policy and a rate limiter. The breaker gates whether a retry sequence is
// attempted at all: an open circuit short-circuits every retry.
type ResilientClient struct {
	raw     Client
	breaker *resilience.Breaker
	retry   *resilience.Retry
	limiter *rate.Limiter
	log     *slog.Logger
}

func NewResilientClient(raw Client, breaker *resilience.Breaker, retry *resilience.Retry, limiter *rate.Limiter, log *slog.Logger) *ResilientClient {
	if log == nil {
		log = slog.Default()
	}
	return &ResilientClient{
		raw:     raw,
		breaker: breaker,
		retry:   retry,
		limiter: limiter,
		log:     log,
	}
}

func (c *ResilientClient) SendMessage(ctx context.Context, recipient, payload string) (string, error) {
	var id string
	err := c.call(ctx, "send_message", func() error {
		var err error
		id, err = c.raw.SendMessage(ctx, recipient, payload)
		return err
	}, "recipient", recipient)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		// A send must tell the caller the gateway is down, not that the
		// circuit tripped.
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return id, err
}

// Templates degrades gracefully: while the circuit is open a stale or empty
// template list beats a hard failure.
func (c *ResilientClient) Templates(ctx context.Context) ([]Template, error) {
	var out []Template
	err := c.call(ctx, "templates", func() error {
		var err error
		out, err = c.raw.Templates(ctx)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		c.log.Warn("gateway circuit open, returning empty template list")
		return []Template{}, nil
	}
	return out, err
}

func (c *ResilientClient) UploadMedia(ctx context.Context, contentType string, data []byte) (string, error) {
	var id string
	err := c.call(ctx, "upload_media", func() error {
		var err error
		id, err = c.raw.UploadMedia(ctx, contentType, data)
		return err
	}, "content_type", contentType)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return id, err
}

// call executes breaker(retry(timed raw invocation)).
func (c *ResilientClient) call(ctx context.Context, op string, fn func() error, attrs ...any) error {
	return c.breaker.Do(func() error {
		return c.retry.Do(ctx, func() error {
			if c.limiter != nil {
				if err := c.limiter.Wait(ctx); err != nil {
					return err
				}
			}

			start := time.Now()
			err := fn()

			args := append([]any{"op", op, "duration_ms", time.Since(start).Milliseconds()}, attrs...)
			if err != nil {
				c.log.Warn("gateway call failed", append(args, "err", err)...)
				return err
			}
			c.log.Debug("gateway call ok", args...)
			return nil
		})
	})
}
