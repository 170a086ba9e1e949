// Package retry runs an operation a bounded number of times with a caller
// supplied backoff between attempts.
package retry

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// ErrBudgetExhausted is returned when the wall-clock budget ran out before
// an attempt could start.
var ErrBudgetExhausted = eris.New("retry budget exhausted")

type Policy struct {
	// MaxAttempts is the total number of attempts including the first one.
	MaxAttempts int

	// Backoff returns the wait before attempt n (n >= 1). Nil means no wait.
	Backoff func(attempt int) time.Duration

	// Budget stops the loop before an attempt once this much time has
	// elapsed since the first one. Zero disables the check.
	Budget time.Duration

	// ShouldRetry reports whether err is worth another attempt. Nil retries everything.
	ShouldRetry func(err error) bool

	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error)

	now func() time.Time
}

// Constant waits d before every retry.
func Constant(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// Linear waits base*n before attempt n.
func Linear(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration { return base * time.Duration(attempt) }
}

// Do calls fn until it succeeds, attempts run out, the budget expires or ctx
// is done. fn receives the zero-based attempt index. The number of attempts
// actually made is returned alongside the last error.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, int, error) {
	var zero T
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	now := p.now
	if now == nil {
		now = time.Now
	}

	start := now()
	var lastErr error
	attempts := 0
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if p.Budget > 0 && now().Sub(start) > p.Budget {
			if lastErr == nil {
				return zero, attempts, ErrBudgetExhausted
			}
			return zero, attempts, eris.Wrap(ErrBudgetExhausted, lastErr.Error())
		}
		if attempt > 0 && p.Backoff != nil {
			if err := Sleep(ctx, p.Backoff(attempt)); err != nil {
				return zero, attempts, lastErr
			}
		}

		attempts++
		val, err := fn(ctx, attempt)
		if err == nil {
			return val, attempts, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, attempts, lastErr
		}
		if p.ShouldRetry != nil && !p.ShouldRetry(err) {
			return zero, attempts, lastErr
		}
		if attempt < p.MaxAttempts-1 && p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
	}

	return zero, attempts, lastErr
}

// Sleep waits d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
