// Package retry keeps listeners alive under pressure: binding a port is
// retried with a Backoff, and accepting is guarded by a CircuitBreaker
// so a process out of file descriptors pauses instead of spinning.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

const (
	defaultInitialDelay = time.Second
	defaultMaxDelay     = time.Minute
	defaultMultiplier   = 2.0
)

// ── Permanent errors ─────────────────────────────────────────────────

// PermanentError marks a failure that another attempt cannot fix, such
// as binding a privileged port without permission.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Backoff.Do gives up at once.  A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err, or anything it wraps, is permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ── Backoff ──────────────────────────────────────────────────────────

// Backoff retries an operation with a growing pause between attempts.
// Zero fields take defaults: 1s initial delay, 1m cap, factor 2.  A
// Multiplier of 1 gives a fixed pause, which is what the listeners use
// for --retry-pause.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// MaxAttempts counts the first try.  0 retries until ctx is done.
	MaxAttempts int
	// Jitter spreads each pause by up to 25% either way.
	Jitter bool
}

// Do calls fn until it returns nil, returns a Permanent error, runs out
// of attempts or ctx is cancelled.  attempt starts at 1.
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		switch {
		case err == nil:
			return nil
		case IsPermanent(err):
			return errors.Unwrap(err)
		case b.MaxAttempts > 0 && attempt >= b.MaxAttempts:
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}

		wait := b.Delay(attempt)
		if b.Jitter {
			wait = jitter(wait)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-t.C:
		}
	}
}

// Delay returns the pause that follows failed attempt number attempt,
// without jitter.
func (b *Backoff) Delay(attempt int) time.Duration {
	delay, ceiling, factor := b.InitialDelay, b.MaxDelay, b.Multiplier
	if delay <= 0 {
		delay = defaultInitialDelay
	}
	if ceiling <= 0 {
		ceiling = defaultMaxDelay
	}
	if factor <= 0 {
		factor = defaultMultiplier
	}
	for i := 1; i < attempt && delay < ceiling; i++ {
		delay = time.Duration(float64(delay) * factor)
	}
	return min(delay, ceiling)
}

func jitter(d time.Duration) time.Duration {
	spread := float64(d) / 4
	out := time.Duration(float64(d) + (rand.Float64()*2-1)*spread)
	return max(out, time.Millisecond)
}
