package store

import (
	"sync"
	"time"
)

// Breaker states.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// Breaker tracks failures of a shared backend. While open, callers skip the
// backend and use local state until the cooldown elapses; the next call is
// then let through as a half-open trial.
type Breaker struct {
	mu          sync.Mutex
	threshold   int
	cooldown    time.Duration
	failures    int
	lastFailure time.Time
	state       string
	now         Clock
}

func NewBreaker(threshold int, cooldown time.Duration, now Clock) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		state:     StateClosed,
		now:       now,
	}
}

// Allow reports whether the backend should be tried.
func (b *Breaker) Allow() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.lastFailure) > b.cooldown {
			b.state = StateHalfOpen
			return true
		}
		return false
	}
	return true
}

// Failure records a backend error and opens the breaker once the threshold is reached.
// A failed half-open trial reopens immediately.
func (b *Breaker) Failure() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if now.Sub(b.lastFailure) > b.cooldown {
		b.failures = 0
	}
	b.failures++
	b.lastFailure = now

	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.state = StateOpen
	}
}

// Success records a backend success. A successful half-open trial closes the breaker.
func (b *Breaker) Success() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case b.state == StateHalfOpen:
		b.state = StateClosed
		b.failures = 0
	case b.state == StateClosed && b.failures > 0:
		b.failures--
	}
}

// State returns the current breaker state.
func (b *Breaker) State() string {
	if b == nil {
		return StateClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
