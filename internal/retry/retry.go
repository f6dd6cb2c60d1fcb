package retry

import (
	"context"
	"time"
)

// Backoff computes exponential delays after consecutive failures
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// NewBackoff creates a new backoff policy
func NewBackoff(base, max time.Duration) Backoff {
	if max < base {
		max = base
	}
	return Backoff{Base: base, Max: max}
}

// Delay returns min(Max, Base * 2^failures)
func (b Backoff) Delay(failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}

	delay := b.Base
	for i := 0; i < failures; i++ {
		// Stop doubling once we hit the cap so large counts can't overflow
		if delay >= b.Max || delay > b.Max/2 {
			return b.Max
		}
		delay *= 2
	}

	if delay > b.Max {
		return b.Max
	}
	return delay
}

// Sleep waits for d or until ctx is done. Returns false if interrupted.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
