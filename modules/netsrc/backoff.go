package netsrc

import (
	"context"
	"time"
)

// BackoffConfig controls the accept-loop retry delay on temporary errors.
type BackoffConfig struct {
	Initial time.Duration // first delay (default: 5ms)
	Max     time.Duration // cap (default: 1s)
}

// DefaultBackoffConfig returns the accept backoff defaults.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial: 5 * time.Millisecond,
		Max:     time.Second,
	}
}

// backoff computes delay = initial * 2^(attempt-1), capped at max.
//
//   - Attempt 1: 5ms
//   - Attempt 2: 10ms
//   - Attempt 8: 640ms
//   - Attempt 9+: 1s
func backoff(attempt int, cfg BackoffConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return cfg.Max
	}
	delay := cfg.Initial * time.Duration(1<<uint(attempt-1))
	if delay > cfg.Max || delay <= 0 {
		delay = cfg.Max
	}
	return delay
}

// sleepCtx waits d or until ctx is done. It reports whether the full delay
// elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
