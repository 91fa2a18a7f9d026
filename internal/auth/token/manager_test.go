package token

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierr "github.com/victorgomez09/jobguard/internal/auth"
	"github.com/victorgomez09/jobguard/internal/auth/models"
	"github.com/victorgomez09/jobguard/internal/store"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	mgr       *Manager
	clock     *clock
	sessions  *store.MemorySessions
	blacklist *store.MemoryBlacklist
	user      *models.User
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	c := &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	cfg := Config{
		Secret:         []byte("test-secret-key-with-enough-bytes"),
		Issuer:         "jobguard",
		AccessTTL:      time.Hour,
		RefreshTTL:     7 * 24 * time.Hour,
		SessionTimeout: 30 * time.Minute,
		Now:            c.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	sessions := store.NewMemorySessions(c.Now)
	blacklist := store.NewMemoryBlacklist(c.Now)
	mgr, err := NewManager(cfg, sessions, blacklist, nil, nil)
	require.NoError(t, err)

	return &fixture{
		mgr:       mgr,
		clock:     c,
		sessions:  sessions,
		blacklist: blacklist,
		user:      &models.User{ID: "u-1", Email: "alice@example.com", Role: models.RoleUser},
	}
}

func TestNewManager_RequiresSecret(t *testing.T) {
	_, err := NewManager(Config{}, store.NewMemorySessions(nil), store.NewMemoryBlacklist(nil), nil, nil)
	assert.Error(t, err)
}

func TestManager_RoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tok, err := f.mgr.IssueAccessToken(ctx, f.user, "s-1")
	require.NoError(t, err)
	assert.Len(t, strings.Split(tok, "."), 3)

	claims, err := f.mgr.VerifyAccess(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, models.RoleUser, claims.Role)
	assert.Equal(t, "s-1", claims.SessionID)
	assert.Equal(t, TypeAccess, claims.Type)
	assert.Equal(t, "jobguard", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestManager_ZeroTTLIsExpired(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.AccessTTL = 0 })
	ctx := context.Background()

	tok, err := f.mgr.IssueAccessToken(ctx, f.user, "s-1")
	require.NoError(t, err)

	_, err = f.mgr.Verify(ctx, tok)
	assert.ErrorIs(t, err, apierr.ErrExpiredToken)
	assert.NotErrorIs(t, err, apierr.ErrInvalidToken)
}

func TestManager_VerifyFailures(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture) string
		want  error
	}{
		{
			name: "garbage",
			setup: func(t *testing.T, f *fixture) string {
				return "not.a.token"
			},
			want: apierr.ErrInvalidToken,
		},
		{
			name: "tampered payload",
			setup: func(t *testing.T, f *fixture) string {
				tok, err := f.mgr.IssueAccessToken(ctx, f.user, "s-1")
				require.NoError(t, err)
				parts := strings.Split(tok, ".")
				other, err := f.mgr.IssueAccessToken(ctx, &models.User{ID: "u-2", Role: models.RoleAdmin}, "s-2")
				require.NoError(t, err)
				parts[1] = strings.Split(other, ".")[1]
				return strings.Join(parts, ".")
			},
			want: apierr.ErrInvalidToken,
		},
		{
			name: "other secret",
			setup: func(t *testing.T, f *fixture) string {
				other := newFixture(t, func(c *Config) { c.Secret = []byte("another-secret") })
				tok, err := other.mgr.IssueAccessToken(ctx, f.user, "s-1")
				require.NoError(t, err)
				return tok
			},
			want: apierr.ErrInvalidToken,
		},
		{
			name: "wrong algorithm",
			setup: func(t *testing.T, f *fixture) string {
				claims := Claims{UserID: "u-1", SessionID: "s-1", Type: TypeAccess}
				tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("test-secret-key-with-enough-bytes"))
				require.NoError(t, err)
				return tok
			},
			want: apierr.ErrInvalidToken,
		},
		{
			name: "expired",
			setup: func(t *testing.T, f *fixture) string {
				tok, err := f.mgr.IssueAccessToken(ctx, f.user, "s-1")
				require.NoError(t, err)
				f.clock.Advance(time.Hour)
				return tok
			},
			want: apierr.ErrExpiredToken,
		},
		{
			name: "revoked",
			setup: func(t *testing.T, f *fixture) string {
				tok, err := f.mgr.IssueAccessToken(ctx, f.user, "s-1")
				require.NoError(t, err)
				_, err = f.mgr.Revoke(ctx, tok)
				require.NoError(t, err)
				return tok
			},
			want: apierr.ErrRevokedToken,
		},
		{
			name: "session timed out",
			setup: func(t *testing.T, f *fixture) string {
				tok, err := f.mgr.IssueAccessToken(ctx, f.user, "s-1")
				require.NoError(t, err)
				f.clock.Advance(31 * time.Minute)
				return tok
			},
			want: apierr.ErrSessionExpired,
		},
		{
			name: "session deleted",
			setup: func(t *testing.T, f *fixture) string {
				tok, err := f.mgr.IssueAccessToken(ctx, f.user, "s-1")
				require.NoError(t, err)
				require.NoError(t, f.sessions.Delete(ctx, "s-1"))
				return tok
			},
			want: apierr.ErrSessionExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			tok := tt.setup(t, f)

			_, err := f.mgr.Verify(ctx, tok)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, apierr.IsTokenError(err))
		})
	}
}

func TestManager_VerifyTouchesSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tok, err := f.mgr.IssueAccessToken(ctx, f.user, "s-1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		f.clock.Advance(15 * time.Minute)
		_, err := f.mgr.Verify(ctx, tok)
		require.NoError(t, err, "activity keeps the session alive")
	}

	s, err := f.sessions.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), s.LastActivityAt)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), s.CreatedAt)
}

func TestManager_Refresh(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	access, err := f.mgr.IssueAccessToken(ctx, f.user, "s-1")
	require.NoError(t, err)
	refresh, err := f.mgr.IssueRefreshToken(ctx, f.user, "s-1")
	require.NoError(t, err)

	_, _, err = f.mgr.Refresh(ctx, access)
	assert.ErrorIs(t, err, apierr.ErrWrongTokenType)

	_, err = f.mgr.VerifyAccess(ctx, refresh)
	assert.ErrorIs(t, err, apierr.ErrWrongTokenType)

	f.clock.Advance(2 * time.Minute)
	newAccess, claims, err := f.mgr.Refresh(ctx, refresh)
	require.NoError(t, err)
	assert.Equal(t, TypeRefresh, claims.Type)

	verified, err := f.mgr.VerifyAccess(ctx, newAccess)
	require.NoError(t, err)
	assert.Equal(t, "s-1", verified.SessionID, "refresh keeps the session")
}

func TestManager_RevokeLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tok, err := f.mgr.IssueAccessToken(ctx, f.user, "s-1")
	require.NoError(t, err)

	_, err = f.mgr.Revoke(ctx, tok)
	require.NoError(t, err)
	_, err = f.mgr.Revoke(ctx, tok)
	require.NoError(t, err, "second revoke is a no-op")

	_, err = f.sessions.Get(ctx, "s-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.mgr.Verify(ctx, tok)
	assert.ErrorIs(t, err, apierr.ErrRevokedToken)

	// pruned once the token's own lifetime has passed
	f.clock.Advance(time.Hour)
	assert.Equal(t, 1, f.blacklist.Sweep())
	_, err = f.mgr.Verify(ctx, tok)
	assert.ErrorIs(t, err, apierr.ErrExpiredToken)
}

func TestManager_RevokeExpiredToken(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tok, err := f.mgr.IssueAccessToken(ctx, f.user, "s-1")
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)

	claims, err := f.mgr.Revoke(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "s-1", claims.SessionID)
	assert.Equal(t, 0, f.blacklist.Len(), "nothing left to blacklist")

	_, err = f.mgr.Revoke(ctx, "garbage")
	assert.ErrorIs(t, err, apierr.ErrInvalidToken)
}

func TestManager_RevokeUser(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	t1, err := f.mgr.IssueAccessToken(ctx, f.user, "s-1")
	require.NoError(t, err)
	_, err = f.mgr.IssueAccessToken(ctx, f.user, "s-2")
	require.NoError(t, err)

	n, err := f.mgr.RevokeUser(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = f.mgr.Verify(ctx, t1)
	assert.ErrorIs(t, err, apierr.ErrSessionExpired)
}

func TestManager_ConcurrentLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessionID := fmt.Sprintf("s-%d", i)
			access, err := f.mgr.IssueAccessToken(ctx, f.user, sessionID)
			if !assert.NoError(t, err) {
				return
			}
			refresh, err := f.mgr.IssueRefreshToken(ctx, f.user, sessionID)
			if !assert.NoError(t, err) {
				return
			}

			_, err = f.mgr.VerifyAccess(ctx, access)
			assert.NoError(t, err)
			_, _, err = f.mgr.Refresh(ctx, refresh)
			assert.NoError(t, err)

			_, err = f.mgr.Revoke(ctx, access)
			assert.NoError(t, err)
			_, err = f.mgr.Verify(ctx, access)
			assert.ErrorIs(t, err, apierr.ErrRevokedToken)
			_, err = f.mgr.Verify(ctx, refresh)
			assert.ErrorIs(t, err, apierr.ErrSessionExpired, "revoking one token ends its session")
		}(i)
	}
	wg.Wait()

	n, err := f.mgr.RevokeUser(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}
