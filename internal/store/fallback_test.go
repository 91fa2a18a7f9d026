package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorgomez09/jobguard/internal/auth/models"
)

var errDown = errors.New("connection refused")

// flaky wraps memory stores and fails every call while down is set.
type flaky struct {
	down  atomic.Bool
	calls atomic.Int32
}

func (f *flaky) check() error {
	f.calls.Add(1)
	if f.down.Load() {
		return errDown
	}
	return nil
}

type flakyBlacklist struct {
	*flaky
	inner *MemoryBlacklist
}

func (f flakyBlacklist) Add(ctx context.Context, id string, ttl time.Duration) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.inner.Add(ctx, id, ttl)
}

func (f flakyBlacklist) Contains(ctx context.Context, id string) (bool, error) {
	if err := f.check(); err != nil {
		return false, err
	}
	return f.inner.Contains(ctx, id)
}

type flakySessions struct {
	*flaky
	inner *MemorySessions
}

func (f flakySessions) Save(ctx context.Context, s models.Session, ttl time.Duration) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.inner.Save(ctx, s, ttl)
}

func (f flakySessions) Get(ctx context.Context, id string) (*models.Session, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return f.inner.Get(ctx, id)
}

func (f flakySessions) Touch(ctx context.Context, id string, at time.Time, ttl time.Duration) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.inner.Touch(ctx, id, at, ttl)
}

func (f flakySessions) Delete(ctx context.Context, id string) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.inner.Delete(ctx, id)
}

func (f flakySessions) DeleteUser(ctx context.Context, uid string) (int, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	return f.inner.DeleteUser(ctx, uid)
}

type flakyRateLimits struct {
	*flaky
	inner *MemoryRateLimits
}

func (f flakyRateLimits) Add(ctx context.Context, key string, at time.Time, window time.Duration) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.inner.Add(ctx, key, at, window)
}

func (f flakyRateLimits) Attempts(ctx context.Context, key string, since time.Time) ([]time.Time, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return f.inner.Attempts(ctx, key, since)
}

func (f flakyRateLimits) Reserve(ctx context.Context, key string, at time.Time, window time.Duration, limit int) ([]time.Time, bool, error) {
	if err := f.check(); err != nil {
		return nil, false, err
	}
	return f.inner.Reserve(ctx, key, at, window, limit)
}

func (f flakyRateLimits) Release(ctx context.Context, key string, at time.Time) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.inner.Release(ctx, key, at)
}

func (f flakyRateLimits) Reset(ctx context.Context, key string) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.inner.Reset(ctx, key)
}

func TestFallbackBlacklist_LocalHitDuringOutage(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	primary := flakyBlacklist{flaky: &flaky{}, inner: NewMemoryBlacklist(clock.Now)}
	var fallbacks atomic.Int32
	b := NewFallbackBlacklist(primary, NewMemoryBlacklist(clock.Now), FallbackOptions{
		OnFallback: func(string, string) { fallbacks.Add(1) },
	})

	primary.down.Store(true)
	require.NoError(t, b.Add(ctx, "jti", time.Hour))

	found, err := b.Contains(ctx, "jti")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int32(2), fallbacks.Load())

	// recovered primary never saw the write, the local copy still wins
	primary.down.Store(false)
	found, err = b.Contains(ctx, "jti")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestFallbackBlacklist_SharedHit(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	shared := NewMemoryBlacklist(clock.Now)
	primary := flakyBlacklist{flaky: &flaky{}, inner: shared}
	b := NewFallbackBlacklist(primary, NewMemoryBlacklist(clock.Now), FallbackOptions{})

	// revoked by another instance
	require.NoError(t, shared.Add(ctx, "jti", time.Hour))

	found, err := b.Contains(ctx, "jti")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestFallbackSessions_PrimaryIsAuthoritative(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	shared := NewMemorySessions(clock.Now)
	primary := flakySessions{flaky: &flaky{}, inner: shared}
	s := NewFallbackSessions(primary, NewMemorySessions(clock.Now), FallbackOptions{})

	sess := models.Session{ID: "s1", UserID: "u1", CreatedAt: clock.Now(), LastActivityAt: clock.Now()}
	require.NoError(t, s.Save(ctx, sess, time.Hour))

	// logged out elsewhere
	require.NoError(t, shared.Delete(ctx, "s1"))
	_, err := s.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFallbackSessions_Outage(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	primary := flakySessions{flaky: &flaky{}, inner: NewMemorySessions(clock.Now)}
	s := NewFallbackSessions(primary, NewMemorySessions(clock.Now), FallbackOptions{})

	sess := models.Session{ID: "s1", UserID: "u1", CreatedAt: clock.Now(), LastActivityAt: clock.Now()}
	primary.down.Store(true)
	require.NoError(t, s.Save(ctx, sess, time.Hour))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	require.NoError(t, s.Touch(ctx, "s1", clock.Now(), time.Hour))

	n, err := s.DeleteUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFallbackSessions_RevocationSurvivesOutage(t *testing.T) {
	tests := []struct {
		name   string
		revoke func(ctx context.Context, s *FallbackSessions) error
	}{
		{name: "delete", revoke: func(ctx context.Context, s *FallbackSessions) error {
			return s.Delete(ctx, "s1")
		}},
		{name: "delete user", revoke: func(ctx context.Context, s *FallbackSessions) error {
			n, err := s.DeleteUser(ctx, "u1")
			assert.Equal(t, 1, n)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			shared := NewMemorySessions(clock.Now)
			primary := flakySessions{flaky: &flaky{}, inner: shared}
			s := NewFallbackSessions(primary, NewMemorySessions(clock.Now), FallbackOptions{Clock: clock.Now})

			sess := models.Session{ID: "s1", UserID: "u1", CreatedAt: clock.Now(), LastActivityAt: clock.Now()}
			require.NoError(t, s.Save(ctx, sess, time.Hour))

			primary.down.Store(true)
			require.NoError(t, tt.revoke(ctx, s))
			assert.Equal(t, 1, s.Pending())

			primary.down.Store(false)
			_, err := s.Get(ctx, "s1")
			assert.ErrorIs(t, err, ErrNotFound, "revoked session stays dead after recovery")

			_, err = s.Replay(ctx)
			require.NoError(t, err)
			_, err = shared.Get(ctx, "s1")
			assert.ErrorIs(t, err, ErrNotFound, "deletion reached the shared store")
		})
	}
}

func TestFallbackSessions_UserTombstoneSparesNewSessions(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	primary := flakySessions{flaky: &flaky{}, inner: NewMemorySessions(clock.Now)}
	s := NewFallbackSessions(primary, NewMemorySessions(clock.Now), FallbackOptions{Clock: clock.Now})

	primary.down.Store(true)
	_, err := s.DeleteUser(ctx, "u1")
	require.NoError(t, err)

	clock.Advance(time.Second)
	primary.down.Store(false)
	fresh := models.Session{ID: "s2", UserID: "u1", CreatedAt: clock.Now(), LastActivityAt: clock.Now()}
	require.NoError(t, s.Save(ctx, fresh, time.Hour))

	got, err := s.Get(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
}

func TestFallbackSessions_TombstonesExpire(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	primary := flakySessions{flaky: &flaky{}, inner: NewMemorySessions(clock.Now)}
	s := NewFallbackSessions(primary, NewMemorySessions(clock.Now), FallbackOptions{
		Clock:        clock.Now,
		TombstoneTTL: time.Hour,
	})

	primary.down.Store(true)
	require.NoError(t, s.Delete(ctx, "s1"))
	_, err := s.DeleteUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, s.Pending())

	// still down: nothing applied, nothing forgotten
	n, err := s.Replay(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, s.Pending())

	clock.Advance(2 * time.Hour)
	_, err = s.Replay(ctx)
	require.NoError(t, err)
	assert.Zero(t, s.Pending())
}

func TestFallbackRateLimits_Reserve(t *testing.T) {
	ctx := context.Background()
	shared := NewMemoryRateLimits(nil)
	local := NewMemoryRateLimits(nil)
	primary := flakyRateLimits{flaky: &flaky{}, inner: shared}
	r := NewFallbackRateLimits(primary, local, FallbackOptions{})
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	_, ok, err := r.Reserve(ctx, "k", at, time.Minute, 2)
	require.NoError(t, err)
	require.True(t, ok)

	// mirrored locally so the outage path still sees it
	got, err := local.Attempts(ctx, "k", at.Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, got, 1)

	primary.down.Store(true)
	_, ok, err = r.Reserve(ctx, "k", at.Add(time.Second), time.Minute, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = r.Reserve(ctx, "k", at.Add(2*time.Second), time.Minute, 2)
	require.NoError(t, err)
	assert.False(t, ok, "local bucket enforces the limit during the outage")

	require.NoError(t, r.Release(ctx, "k", at.Add(time.Second)))
	got, err = local.Attempts(ctx, "k", at.Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestFallback_ConcurrentUse(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	breaker := NewBreaker(3, time.Minute, clock.Now)
	opts := FallbackOptions{Breaker: breaker, Clock: clock.Now}

	sessFlaky := &flaky{}
	sessions := NewFallbackSessions(flakySessions{flaky: sessFlaky, inner: NewMemorySessions(clock.Now)}, NewMemorySessions(clock.Now), opts)
	blacklist := NewFallbackBlacklist(flakyBlacklist{flaky: sessFlaky, inner: NewMemoryBlacklist(clock.Now)}, NewMemoryBlacklist(clock.Now), opts)
	limits := NewFallbackRateLimits(flakyRateLimits{flaky: sessFlaky, inner: NewMemoryRateLimits(clock.Now)}, NewMemoryRateLimits(clock.Now), opts)

	var (
		wg       sync.WaitGroup
		reserved atomic.Int32
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i == 20 {
				sessFlaky.down.Store(true)
			}
			id := fmt.Sprintf("s%d", i)
			sess := models.Session{ID: id, UserID: "u1", CreatedAt: clock.Now(), LastActivityAt: clock.Now()}
			assert.NoError(t, sessions.Save(ctx, sess, time.Hour))
			_, _ = sessions.Get(ctx, id)
			assert.NoError(t, sessions.Delete(ctx, id))
			assert.NoError(t, blacklist.Add(ctx, id, time.Hour))

			found, err := blacklist.Contains(ctx, id)
			assert.NoError(t, err)
			assert.True(t, found)

			_, ok, err := limits.Reserve(ctx, "user_attempts:u1", clock.Now(), time.Minute, 5)
			assert.NoError(t, err)
			if ok {
				reserved.Add(1)
			}
		}(i)
	}
	wg.Wait()

	// either store may have decided, but neither admits more than the limit
	assert.LessOrEqual(t, reserved.Load(), int32(10))
	for i := 0; i < 40; i++ {
		_, err := sessions.Get(ctx, fmt.Sprintf("s%d", i))
		assert.ErrorIs(t, err, ErrNotFound)
	}
}

func TestFallbackRateLimits_Outage(t *testing.T) {
	ctx := context.Background()
	primary := flakyRateLimits{flaky: &flaky{}, inner: NewMemoryRateLimits(nil)}
	r := NewFallbackRateLimits(primary, NewMemoryRateLimits(nil), FallbackOptions{})
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, r.Add(ctx, "user_attempts:u1", at, time.Minute))
	primary.down.Store(true)
	require.NoError(t, r.Add(ctx, "user_attempts:u1", at.Add(time.Second), time.Minute))

	got, err := r.Attempts(ctx, "user_attempts:u1", at.Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, got, 2, "local copy has both writes")

	require.NoError(t, r.Reset(ctx, "user_attempts:u1"))
	got, err = r.Attempts(ctx, "user_attempts:u1", at.Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFallback_BreakerSkipsPrimary(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	primary := flakyRateLimits{flaky: &flaky{}, inner: NewMemoryRateLimits(nil)}
	breaker := NewBreaker(2, time.Minute, clock.Now)
	r := NewFallbackRateLimits(primary, NewMemoryRateLimits(nil), FallbackOptions{Breaker: breaker})

	primary.down.Store(true)
	for i := 0; i < 2; i++ {
		_, err := r.Attempts(ctx, "k", time.Time{})
		require.NoError(t, err)
	}
	assert.Equal(t, StateOpen, breaker.State())
	calls := primary.calls.Load()

	_, err := r.Attempts(ctx, "k", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, calls, primary.calls.Load(), "open breaker does not reach the primary")

	primary.down.Store(false)
	clock.Advance(2 * time.Minute)
	_, err = r.Attempts(ctx, "k", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, breaker.State())
}
