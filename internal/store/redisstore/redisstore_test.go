package redisstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorgomez09/jobguard/internal/auth/models"
	"github.com/victorgomez09/jobguard/internal/store"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestOptions(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantAddr string
		wantDB   int
		wantErr  bool
	}{
		{name: "plain address", url: "localhost:6379", wantAddr: "localhost:6379"},
		{name: "url with db", url: "redis://cache:6380/2", wantAddr: "cache:6380", wantDB: 2},
		{name: "bad url", url: "redis://cache:6380/notadb", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt, err := Options(Config{URL: tt.url})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAddr, opt.Addr)
			assert.Equal(t, tt.wantDB, opt.DB)
			assert.Equal(t, 10, opt.PoolSize)
		})
	}
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), Config{URL: mr.Addr()}, nil)
	require.NoError(t, err)
	defer client.Close()

	_, err = Connect(context.Background(), Config{URL: "127.0.0.1:1", MaxRetries: 1, RetryInterval: time.Millisecond}, nil)
	assert.Error(t, err)
}

func TestBlacklist(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	b := NewBlacklist(client)

	require.NoError(t, b.Add(ctx, "jti-1", time.Minute))
	require.NoError(t, b.Add(ctx, "jti-zero", 0))

	found, err := b.Contains(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, mr.Exists("token_blacklist:jti-zero"))

	mr.FastForward(time.Minute)
	found, err = b.Contains(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBlacklist_Unavailable(t *testing.T) {
	mr, client := setupRedis(t)
	b := NewBlacklist(client)

	mr.SetError("LOADING")
	_, err := b.Contains(context.Background(), "jti")
	assert.Error(t, err)
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	s := NewSessions(client, time.Hour)
	now := time.Now().UTC().Truncate(time.Second)

	sess := models.Session{ID: "s1", UserID: "u1", CreatedAt: now, LastActivityAt: now}
	require.NoError(t, s.Save(ctx, sess, 30*time.Minute))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.True(t, got.CreatedAt.Equal(now))

	later := now.Add(10 * time.Minute)
	require.NoError(t, s.Touch(ctx, "s1", later, 30*time.Minute))
	got, err = s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.LastActivityAt.Equal(later))

	mr.FastForward(31 * time.Minute)
	_, err = s.Get(ctx, "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.Touch(ctx, "s1", later, time.Minute), store.ErrNotFound)
}

func TestSessions_DeleteAndDeleteUser(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	s := NewSessions(client, time.Hour)
	now := time.Now().UTC()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Save(ctx, models.Session{ID: id, UserID: "u1", LastActivityAt: now}, time.Hour))
	}
	require.NoError(t, s.Save(ctx, models.Session{ID: "d", UserID: "u2", LastActivityAt: now}, time.Hour))

	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "a"), "delete is idempotent")

	n, err := s.DeleteUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, mr.Exists("user_sessions:u1"))

	_, err = s.Get(ctx, "d")
	assert.NoError(t, err)

	n, err = s.DeleteUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRateLimits(t *testing.T) {
	ctx := context.Background()
	_, client := setupRedis(t)
	r := NewRateLimits(client)
	base := time.Now().Truncate(time.Second)
	window := 15 * time.Minute

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Add(ctx, "user_attempts:u1", base.Add(time.Duration(i)*time.Minute), window))
	}

	tests := []struct {
		name  string
		since time.Time
		want  int
	}{
		{name: "whole window", since: base.Add(-window), want: 3},
		{name: "last two", since: base.Add(30 * time.Second), want: 2},
		{name: "none", since: base.Add(5 * time.Minute), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Attempts(ctx, "user_attempts:u1", tt.since)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}

	got, err := r.Attempts(ctx, "user_attempts:u1", base.Add(-window))
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.WithinDuration(t, base, got[0], time.Millisecond)

	require.NoError(t, r.Reset(ctx, "user_attempts:u1"))
	got, err = r.Attempts(ctx, "user_attempts:u1", base.Add(-window))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRateLimits_AddTrimsAndExpires(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	r := NewRateLimits(client)
	base := time.Now().Truncate(time.Second)

	require.NoError(t, r.Add(ctx, "k", base, time.Minute))
	require.NoError(t, r.Add(ctx, "k", base.Add(2*time.Minute), time.Minute))

	members, err := mr.ZMembers("k")
	require.NoError(t, err)
	assert.Len(t, members, 1)

	mr.FastForward(time.Minute + time.Second)
	assert.False(t, mr.Exists("k"))
}

func TestRateLimits_ReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	_, client := setupRedis(t)
	r := NewRateLimits(client)
	base := time.Now().Truncate(time.Second)
	window := 15 * time.Minute

	for i := 0; i < 2; i++ {
		got, ok, err := r.Reserve(ctx, "k", base.Add(time.Duration(i)*time.Second), window, 2)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Len(t, got, i+1)
	}

	got, ok, err := r.Reserve(ctx, "k", base.Add(5*time.Second), window, 2)
	require.NoError(t, err)
	assert.False(t, ok, "full bucket is not written")
	require.Len(t, got, 2)
	assert.WithinDuration(t, base, got[0], time.Millisecond)

	require.NoError(t, r.Release(ctx, "k", base.Add(time.Second)))
	got, err = r.Attempts(ctx, "k", base.Add(-window))
	require.NoError(t, err)
	assert.Len(t, got, 1)

	// outside the window the bucket has room again
	_, ok, err = r.Reserve(ctx, "k", base.Add(window+time.Second), window, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimits_ReserveConcurrent(t *testing.T) {
	ctx := context.Background()
	_, client := setupRedis(t)
	r := NewRateLimits(client)
	base := time.Now()

	var (
		wg       sync.WaitGroup
		reserved atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok, err := r.Reserve(ctx, "k", base.Add(time.Duration(i)*time.Millisecond), time.Minute, 3)
			assert.NoError(t, err)
			if ok {
				reserved.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(3), reserved.Load())
	got, err := r.Attempts(ctx, "k", base.Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestAudit(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	a := NewAudit(client, 0)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	for _, typ := range []models.EventType{models.EventLoginFailed, models.EventLoginSuccess} {
		require.NoError(t, a.Append(ctx, models.AuditEvent{
			Timestamp: now,
			EventType: typ,
			UserID:    "u1",
			Severity:  models.SeverityOf(typ),
		}))
	}

	assert.True(t, mr.Exists("security_events:2024-03-01"))
	assert.Equal(t, DefaultAuditRetention, mr.TTL("security_events:2024-03-01"))

	events, err := a.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventLoginSuccess, events[0].EventType)

	events, err = a.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}
