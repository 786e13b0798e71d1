package sched

import (
	"context"
	"math/rand"
	"time"

	"bdt/errors"
)

// Backoff is a retry schedule of a fixed number of attempts with growing
// spacing. The stack's SynTunnel and SynProxy paths do not use it: they
// send the SYN once.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Factor     float64
	MaxRetries int
}

// Duration returns the delay before retry number attempt (0-based),
// capped at Max and jittered by +/-10% to avoid synchronized retry
// storms across many tunnels waking on the same tick.
func (b Backoff) Duration(attempt int) time.Duration {
	d := float64(b.Initial)
	for i := 0; i < attempt; i++ {
		d *= b.Factor
	}
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	jitter := 1 + (rand.Float64()*0.2 - 0.1)
	return time.Duration(d * jitter)
}

// Retry calls fn until it returns nil, ctx is done, or MaxRetries is
// exhausted, sleeping Duration(attempt) between tries.
func Retry(ctx context.Context, b Backoff, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 0; b.MaxRetries <= 0 || attempt < b.MaxRetries; attempt++ {
		if err := fn(attempt); err == nil {
			return nil
		} else {
			lastErr = err
		}
		timer := time.NewTimer(b.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(errors.Timeout, "retry cancelled", ctx.Err())
		case <-timer.C:
		}
	}
	return errors.Wrap(errors.Timeout, "retries exhausted", lastErr)
}
