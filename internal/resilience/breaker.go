// Package resilience provides failure gating for outbound broker calls.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

// Breaker gates calls to an unreliable downstream. After maxFailures
// consecutive failures it opens and rejects calls until cooldown elapses,
// then admits a single probe call before deciding to close or re-open.
type Breaker struct {
	mu          sync.Mutex
	state       state
	failures    int
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time
	now         func() time.Time // for testing
}

// NewBreaker creates a breaker that opens after maxFailures consecutive
// failures and stays open for cooldown.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Execute runs fn unless the breaker is open, in which case it returns
// ErrCircuitOpen without invoking fn.
func (b *Breaker) Execute(fn func() error) error {
	if !b.admit() {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		if b.state == stateHalfOpen || b.failures >= b.maxFailures {
			b.state = stateOpen
			b.openedAt = b.now()
		}
		return err
	}

	b.failures = 0
	b.state = stateClosed
	return nil
}

func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = stateHalfOpen
		return true
	default:
		return true
	}
}
