package http

import (
	"context"
	"math/rand/v2"
	"time"
)

const maxBackoff = 2 * time.Minute

// Backoff returns the wait before attempt n (1-based). The interval is
// constant unless exponential is set, in which case it doubles per attempt
// with 75%-125% jitter.
func Backoff(attempt int, base time.Duration, exponential bool) time.Duration {
	if !exponential || attempt <= 1 {
		return base
	}

	delay := base * (1 << uint(min(attempt-1, 16)))
	jitter := time.Duration(float64(delay) * (0.75 + 0.5*rand.Float64()))

	return min(jitter, maxBackoff)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
