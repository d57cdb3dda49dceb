package chain

import (
	"context"
	"time"
)

const (
	defaultBackoffBase = 100 * time.Millisecond
	defaultBackoffMax  = 30 * time.Second
)

// Backoff retries an operation with exponentially growing delays.
type Backoff struct {
	// Retries is the number of attempts after the first one.
	Retries int
	// Base is the first delay; each later delay doubles, up to Max.
	Base time.Duration
	Max  time.Duration
	// Retryable, when set, ends the loop on errors it rejects.
	Retryable func(error) bool
}

// Do calls fn until it succeeds or the retries are spent, and returns the last error.
// Cancelling ctx while waiting returns ctx.Err().
func (b Backoff) Do(ctx context.Context, fn func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= b.Retries || (b.Retryable != nil && !b.Retryable(err)) {
			return err
		}

		timer := time.NewTimer(b.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Delay is the wait after the given zero-based failed attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	base, max := b.Base, b.Max
	if base <= 0 {
		base = defaultBackoffBase
	}
	if max <= 0 {
		max = defaultBackoffMax
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max || delay <= 0 {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
