// Package backoff implements the exponential-backoff retry loop shared
// by every carrier adapter. The sleep between attempts blocks only the
// goroutine running the operation, never the orchestrator.
package backoff

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

type Config struct {
	// Base is the delay before the first retry. Defaults to 1s.
	Base time.Duration
	// Max caps the exponential growth. Defaults to 30s.
	Max time.Duration
	// MaxRetries is the total number of attempts. Defaults to 3.
	MaxRetries int
	// Retryable decides whether a failure is worth another attempt.
	// A nil Retryable retries everything.
	Retryable func(error) bool
}

func (c Config) withDefaults() Config {
	if c.Base <= 0 {
		c.Base = time.Second
	}
	if c.Max <= 0 {
		c.Max = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	return c
}

// Delay computes the pause after 0-based attempt n:
// min(base*2^n, max) plus uniform jitter in [0, 0.1*delay].
func (c Config) Delay(n int) time.Duration {
	c = c.withDefaults()
	d := float64(c.Base) * math.Pow(2, float64(n))
	if d > float64(c.Max) {
		d = float64(c.Max)
	}
	return time.Duration(d + rand.Float64()*0.1*d)
}

// Do runs op up to MaxRetries times, sleeping between attempts. A
// failure the Retryable predicate declines is returned immediately
// without consuming a retry; on exhaustion the last failure is
// returned unchanged.
func Do(ctx context.Context, cfg Config, op func() error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		err := op()
		if err == nil {
			if attempt > 0 {
				slog.DebugContext(ctx, "succeeded after retry", "attempt", attempt+1)
			}
			return nil
		}
		lastErr = err

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}
		if attempt == cfg.MaxRetries-1 {
			break
		}

		delay := cfg.Delay(attempt)
		slog.DebugContext(ctx, "retrying after backoff",
			"attempt", attempt+1,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
			"err", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
