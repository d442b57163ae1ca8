package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Backoff computes the wait between retry attempts: exponential
// growth from Initial, capped at Max, with optional jitter to avoid
// synchronized reconnect storms.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  bool
}

// ForAttempt returns the wait before attempt n (0-based second try).
func (b Backoff) ForAttempt(n int) time.Duration {
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := float64(b.Initial)
	for i := 0; i < n; i++ {
		wait *= factor
		if b.Max > 0 && wait >= float64(b.Max) {
			wait = float64(b.Max)
			break
		}
	}
	if b.Jitter {
		wait += wait * 0.25 * rand.Float64()
	}
	if b.Max > 0 && wait > float64(b.Max) {
		wait = float64(b.Max)
	}
	return time.Duration(wait)
}

// Retrier runs an operation until it succeeds, its error is
// permanent, the attempt budget runs out, or the context ends.
type Retrier struct {
	Attempts int
	Backoff  Backoff

	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Do executes fn with retries.
func (r Retrier) Do(ctx context.Context, fn func() error) error {
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		if attempt == attempts-1 {
			break
		}

		wait := r.Backoff.ForAttempt(attempt)
		if r.OnRetry != nil {
			r.OnRetry(attempt+1, err, wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, lastErr)
}

// PermanentError stops a Retrier immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// transientFragments are error text markers for failures that tend to
// resolve on their own: dropped connections, timeouts, throttling.
var transientFragments = []string{
	"connection refused",
	"connection reset",
	"connection closed",
	"broken pipe",
	"network is unreachable",
	"no route to host",
	"websocket: close",
	"deadline exceeded",
	"timeout",
	"i/o timeout",
	"too many connections",
	"rate limit",
	"temporarily unavailable",
}

// IsTransient reports whether an error looks like a recoverable
// network fault.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	for _, fragment := range transientFragments {
		if strings.Contains(text, fragment) {
			return true
		}
	}
	return false
}
