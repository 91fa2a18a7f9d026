package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_Transitions(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(2, time.Minute, clock.Now)

	assert.True(t, b.Allow())
	b.Failure()
	assert.Equal(t, StateClosed, b.State())
	b.Failure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())

	clock.Advance(time.Minute + time.Second)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())

	// failed trial reopens
	b.Failure()
	assert.Equal(t, StateOpen, b.State())

	clock.Advance(time.Minute + time.Second)
	assert.True(t, b.Allow())
	b.Success()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_FailuresDecay(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(2, time.Minute, clock.Now)

	b.Failure()
	clock.Advance(2 * time.Minute)
	b.Failure()
	assert.Equal(t, StateClosed, b.State(), "stale failures are forgotten")
}

func TestBreaker_Nil(t *testing.T) {
	var b *Breaker
	assert.True(t, b.Allow())
	b.Failure()
	b.Success()
	assert.Equal(t, StateClosed, b.State())
}
