package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierr "github.com/victorgomez09/jobguard/internal/auth"
	"github.com/victorgomez09/jobguard/internal/auth/audit"
	"github.com/victorgomez09/jobguard/internal/auth/database"
	"github.com/victorgomez09/jobguard/internal/auth/models"
	"github.com/victorgomez09/jobguard/internal/auth/password"
	"github.com/victorgomez09/jobguard/internal/auth/ratelimit"
	"github.com/victorgomez09/jobguard/internal/auth/token"
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
	sm      *SecurityManager
	db      *database.SQLiteDB
	clock   *clock
	auditor *audit.Auditor
}

const clientIP = "10.0.0.7"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

	db, err := database.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := token.NewManager(token.Config{
		Secret:         []byte("test-secret-key-with-enough-bytes"),
		AccessTTL:      time.Hour,
		RefreshTTL:     7 * 24 * time.Hour,
		SessionTimeout: 30 * time.Minute,
		Now:            c.Now,
	}, store.NewMemorySessions(c.Now), store.NewMemoryBlacklist(c.Now), nil, nil)
	require.NoError(t, err)

	limiter := ratelimit.New(ratelimit.Config{MaxAttempts: 3, Window: 15 * time.Minute, Now: c.Now},
		store.NewMemoryRateLimits(nil), nil, nil)

	auditor := audit.New(audit.Config{Now: c.Now}, nil, nil, nil, nil)
	t.Cleanup(func() { auditor.Close(context.Background()) })

	sm, err := NewSecurityManager(Config{PasswordHistory: 3, Now: c.Now},
		db, password.NewHasher(password.MinIterations), tokens, limiter, auditor, nil, nil)
	require.NoError(t, err)

	return &fixture{sm: sm, db: db, clock: c, auditor: auditor}
}

func (f *fixture) register(t *testing.T, email, pass string) *models.User {
	t.Helper()
	user, err := f.sm.Register(context.Background(), RegisterInput{
		Email:     email,
		Password:  pass,
		FirstName: "Alice",
		LastName:  "Smith",
	}, clientIP)
	require.NoError(t, err)
	return user
}

func (f *fixture) eventTypes(t *testing.T) []models.EventType {
	t.Helper()
	events, err := f.sm.RecentEvents(context.Background(), 0)
	require.NoError(t, err)
	out := make([]models.EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.EventType)
	}
	return out
}

func TestSecurityManager_LoginVerifyLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "Alice@Example.com", "Secret123!")
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, models.RoleUser, user.Role)

	res, err := f.sm.Authenticate(ctx, "  ALICE@example.com ", "Secret123!", clientIP)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", res.TokenType)
	assert.Equal(t, int64(3600), res.ExpiresIn)
	assert.NotEmpty(t, res.RefreshToken)
	require.NotNil(t, res.User.LastLoginAt)

	claims, err := f.sm.Verify(ctx, res.AccessToken, clientIP)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, models.RoleUser, claims.Role)

	_, err = f.sm.Verify(ctx, res.RefreshToken, clientIP)
	assert.ErrorIs(t, err, apierr.ErrWrongTokenType)

	require.NoError(t, f.sm.Logout(ctx, res.AccessToken, res.RefreshToken, clientIP))
	_, err = f.sm.Verify(ctx, res.AccessToken, clientIP)
	assert.True(t, apierr.IsTokenError(err))

	_, err = f.sm.Refresh(ctx, res.RefreshToken, clientIP)
	assert.True(t, apierr.IsTokenError(err))

	types := f.eventTypes(t)
	assert.Contains(t, types, models.EventUserRegistered)
	assert.Contains(t, types, models.EventLoginSuccess)
	assert.Contains(t, types, models.EventLogout)
	assert.Contains(t, types, models.EventTokenRevoked)
	assert.Contains(t, types, models.EventTokenInvalid)
}

func TestSecurityManager_FailedLoginsLockOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@example.com", "Secret123!")

	for i := 0; i < 3; i++ {
		_, err := f.sm.Authenticate(ctx, "alice@example.com", "wrong-password", clientIP)
		assert.ErrorIs(t, err, apierr.ErrInvalidCredentials, "attempt %d", i+1)
	}

	_, err := f.sm.Authenticate(ctx, "alice@example.com", "Secret123!", clientIP)
	require.ErrorIs(t, err, apierr.ErrRateLimited)
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 15*time.Minute, apiErr.RetryAfter)

	types := f.eventTypes(t)
	assert.Contains(t, types, models.EventAccountLocked)
	assert.Contains(t, types, models.EventLoginBlocked)

	f.clock.Advance(15*time.Minute + time.Second)
	_, err = f.sm.Authenticate(ctx, "alice@example.com", "Secret123!", clientIP)
	assert.NoError(t, err)
}

func TestSecurityManager_ParallelGuessesAreCapped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@example.com", "Secret123!")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		rejected int
		limited  int
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.sm.Authenticate(ctx, "alice@example.com", "wrong", clientIP)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, apierr.ErrRateLimited):
				limited++
			case errors.Is(err, apierr.ErrInvalidCredentials):
				rejected++
			default:
				t.Errorf("unexpected result: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, rejected, "only maxAttempts guesses reach the hasher")
	assert.Equal(t, 27, limited)
}

func TestSecurityManager_ConcurrentSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@example.com", "Secret123!")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.sm.Authenticate(ctx, "alice@example.com", "Secret123!", clientIP)
			if !assert.NoError(t, err) {
				return
			}
			_, err = f.sm.Verify(ctx, res.AccessToken, clientIP)
			assert.NoError(t, err)
			_, err = f.sm.Refresh(ctx, res.RefreshToken, clientIP)
			assert.NoError(t, err)
			assert.NoError(t, f.sm.Logout(ctx, res.AccessToken, res.RefreshToken, clientIP))

			_, err = f.sm.Verify(ctx, res.AccessToken, clientIP)
			assert.ErrorIs(t, err, apierr.ErrRevokedToken)
		}()
	}
	wg.Wait()
}

func TestSecurityManager_AuthenticateDoesNotRevealEmails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@example.com", "Secret123!")

	_, unknown := f.sm.Authenticate(ctx, "nobody@example.com", "Secret123!", clientIP)
	_, wrong := f.sm.Authenticate(ctx, "alice@example.com", "Secret124!", clientIP)
	_, invalid := f.sm.Authenticate(ctx, "not-an-email", "Secret123!", clientIP)

	for _, err := range []error{unknown, wrong, invalid} {
		assert.ErrorIs(t, err, apierr.ErrInvalidCredentials)
		assert.Equal(t, "invalid credentials", err.(*apierr.Error).Message)
	}
}

func TestSecurityManager_RegisterDuplicateAndWeak(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@example.com", "Secret123!")

	_, err := f.sm.Register(ctx, RegisterInput{Email: "ALICE@example.com", Password: "Another123!"}, clientIP)
	assert.ErrorIs(t, err, apierr.ErrEmailTaken)

	_, err = f.sm.Register(ctx, RegisterInput{Email: "bob@example.com", Password: "short"}, clientIP)
	assert.ErrorIs(t, err, apierr.ErrWeakPassword)
}

func TestSecurityManager_ChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "alice@example.com", "Secret123!")

	res, err := f.sm.Authenticate(ctx, "alice@example.com", "Secret123!", clientIP)
	require.NoError(t, err)

	err = f.sm.ChangePassword(ctx, user.ID, "nope", "Brand-new-9", clientIP)
	assert.ErrorIs(t, err, apierr.ErrInvalidCredentials)

	err = f.sm.ChangePassword(ctx, user.ID, "Secret123!", "Secret123!", clientIP)
	assert.ErrorIs(t, err, apierr.ErrWeakPassword)

	require.NoError(t, f.sm.ChangePassword(ctx, user.ID, "Secret123!", "Brand-new-9", clientIP))

	// every session of the user is gone
	_, err = f.sm.Verify(ctx, res.AccessToken, clientIP)
	assert.ErrorIs(t, err, apierr.ErrSessionExpired)

	// the old password sits in the history now
	err = f.sm.ChangePassword(ctx, user.ID, "Brand-new-9", "Secret123!", clientIP)
	assert.ErrorIs(t, err, apierr.ErrWeakPassword)

	_, err = f.sm.Authenticate(ctx, "alice@example.com", "Brand-new-9", clientIP)
	assert.NoError(t, err)
	assert.Contains(t, f.eventTypes(t), models.EventPasswordChanged)
}

func TestSecurityManager_UpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "alice@example.com", "Secret123!")

	company := "Acme"
	updated, err := f.sm.UpdateProfile(ctx, user.ID, ProfileUpdate{Company: &company})
	require.NoError(t, err)
	assert.Equal(t, "Acme", updated.Company)
	assert.Equal(t, "Alice", updated.FirstName)

	got, err := f.sm.Profile(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Company)

	_, err = f.sm.Profile(ctx, "missing")
	assert.ErrorIs(t, err, apierr.ErrUserNotFound)
}

func TestSecurityManager_SetUserActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "alice@example.com", "Secret123!")

	res, err := f.sm.Authenticate(ctx, "alice@example.com", "Secret123!", clientIP)
	require.NoError(t, err)

	require.NoError(t, f.sm.SetUserActive(ctx, "admin-1", user.ID, false, clientIP))
	_, err = f.sm.Verify(ctx, res.AccessToken, clientIP)
	assert.Error(t, err)

	_, err = f.sm.Authenticate(ctx, "alice@example.com", "Secret123!", clientIP)
	assert.ErrorIs(t, err, apierr.ErrInvalidCredentials)

	require.NoError(t, f.sm.SetUserActive(ctx, "admin-1", user.ID, true, clientIP))
	_, err = f.sm.Authenticate(ctx, "alice@example.com", "Secret123!", clientIP)
	assert.NoError(t, err)

	types := f.eventTypes(t)
	assert.Contains(t, types, models.EventAccountLocked)
	assert.Contains(t, types, models.EventAccountUnlocked)
}
