package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/attentivai/meeting-gateway/internal/observability"
)

// ErrBreakerOpen is returned when the breaker rejects a call without
// attempting it.
var ErrBreakerOpen = errors.New("circuit breaker open")

// BreakerState is the circuit breaker phase.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // Normal operation
	BreakerOpen                         // Calls fail immediately
	BreakerHalfOpen                     // Probing for recovery
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// probeQuota is how many consecutive half-open successes close the
// breaker again.
const probeQuota = 3

// Breaker guards calls to a remote dependency. After maxFailures
// consecutive failures it opens and rejects calls until the cooldown
// elapses, then admits probes; probeQuota successes close it, any
// probe failure reopens it. State changes are reflected in the
// service's breaker metrics.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
}

// NewBreaker creates a closed breaker for the named dependency.
func NewBreaker(name string, maxFailures int, cooldown time.Duration) *Breaker {
	b := &Breaker{
		name:        name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		state:       BreakerClosed,
	}
	observability.UpdateCircuitBreakerState(name, int(BreakerClosed))
	return b
}

// Do runs fn under breaker protection, recording its outcome.
func (b *Breaker) Do(fn func() error) error {
	if !b.allow() {
		return ErrBreakerOpen
	}
	err := fn()
	b.Record(err == nil)
	return err
}

// Record feeds an externally observed outcome into the breaker, for
// callers that learn about failures asynchronously (e.g. a stream
// error callback) rather than from a single call's return value.
func (b *Breaker) Record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ok {
		b.onSuccess()
	} else {
		b.onFailure()
	}
	observability.UpdateCircuitBreakerState(b.name, int(b.state))
}

// State returns the current breaker phase.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if time.Since(b.openedAt) >= b.cooldown {
			b.state = BreakerHalfOpen
			b.successes = 0
			observability.UpdateCircuitBreakerState(b.name, int(b.state))
			return true
		}
		return false
	}
	return false
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= probeQuota {
			b.state = BreakerClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

func (b *Breaker) onFailure() {
	observability.IncrementCircuitBreakerFailures(b.name)

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.maxFailures {
			b.state = BreakerOpen
			b.openedAt = time.Now()
		}
	case BreakerHalfOpen:
		// A failed probe reopens immediately.
		b.state = BreakerOpen
		b.openedAt = time.Now()
		b.successes = 0
	}
}
