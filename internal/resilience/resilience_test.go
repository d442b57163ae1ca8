package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker("test", 3, time.Minute)
	failing := errors.New("endpoint down")

	for i := 0; i < 3; i++ {
		if err := b.Do(func() error { return failing }); !errors.Is(err, failing) {
			t.Fatalf("call %d error = %v", i, err)
		}
	}

	if b.State() != BreakerOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("open breaker error = %v, want ErrBreakerOpen", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("test", 3, time.Minute)
	failing := errors.New("flaky")

	b.Do(func() error { return failing })
	b.Do(func() error { return failing })
	b.Do(func() error { return nil })
	b.Do(func() error { return failing })
	b.Do(func() error { return failing })

	if b.State() != BreakerClosed {
		t.Errorf("state = %v; interleaved successes must keep the breaker closed", b.State())
	}
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	b := NewBreaker("test", 1, 10*time.Millisecond)

	b.Do(func() error { return errors.New("down") })
	if b.State() != BreakerOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	// Probes are admitted after the cooldown; enough successes close
	// the breaker.
	for i := 0; i < probeQuota; i++ {
		if err := b.Do(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if b.State() != BreakerClosed {
		t.Errorf("state = %v, want closed after successful probes", b.State())
	}
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	b := NewBreaker("test", 1, 10*time.Millisecond)

	b.Do(func() error { return errors.New("down") })
	time.Sleep(20 * time.Millisecond)

	b.Do(func() error { return errors.New("still down") })
	if b.State() != BreakerOpen {
		t.Errorf("state = %v, want reopened after failed probe", b.State())
	}
}

func TestRetrierSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	r := Retrier{Attempts: 5, Backoff: Backoff{Initial: time.Millisecond}}

	err := r.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetrierExhaustsBudget(t *testing.T) {
	calls := 0
	r := Retrier{Attempts: 3, Backoff: Backoff{Initial: time.Millisecond}}

	sentinel := errors.New("never works")
	err := r.Do(context.Background(), func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("error = %v, want wrapped sentinel", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetrierStopsOnPermanentError(t *testing.T) {
	calls := 0
	r := Retrier{Attempts: 5, Backoff: Backoff{Initial: time.Millisecond}}

	sentinel := errors.New("bad credentials")
	err := r.Do(context.Background(), func() error {
		calls++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("error = %v, want sentinel", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetrierHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := Retrier{Attempts: 100, Backoff: Backoff{Initial: 50 * time.Millisecond}}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := r.Do(ctx, func() error { return errors.New("down") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestBackoffGrowthAndCap(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: 400 * time.Millisecond, Factor: 2}

	if got := b.ForAttempt(0); got != 100*time.Millisecond {
		t.Errorf("attempt 0 = %v", got)
	}
	if got := b.ForAttempt(1); got != 200*time.Millisecond {
		t.Errorf("attempt 1 = %v", got)
	}
	if got := b.ForAttempt(5); got != 400*time.Millisecond {
		t.Errorf("attempt 5 = %v, want cap", got)
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(errors.New("read tcp: connection reset by peer")) {
		t.Error("connection reset should be transient")
	}
	if !IsTransient(errors.New("context deadline exceeded")) {
		t.Error("deadline exceeded should be transient")
	}
	if IsTransient(errors.New("invalid API key")) {
		t.Error("auth failure is not transient")
	}
	if IsTransient(nil) {
		t.Error("nil is not transient")
	}
}
