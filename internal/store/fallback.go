package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/victorgomez09/jobguard/internal/auth/models"
)

// DefaultOpTimeout bounds every round trip to the shared backend.
const DefaultOpTimeout = 250 * time.Millisecond

// FallbackOptions configures how a composite talks to its shared backend.
type FallbackOptions struct {
	Timeout      time.Duration              // Per-operation deadline for the shared backend.
	Breaker      *Breaker                   // Shared breaker for the backend; nil disables it.
	Logger       *zap.Logger                // Receives a warning for every degraded operation.
	OnFallback   func(storeName, op string) // Optional hook, used for metrics.
	Clock        Clock                      // Only used by composites that need the time.
	TombstoneTTL time.Duration              // How long a deletion the shared backend missed is remembered.
}

// DefaultTombstoneTTL is used when FallbackOptions.TombstoneTTL is unset.
const DefaultTombstoneTTL = 24 * time.Hour

type fallback struct {
	name string
	opts FallbackOptions
}

func newFallback(name string, opts FallbackOptions) fallback {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOpTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.TombstoneTTL <= 0 {
		opts.TombstoneTTL = DefaultTombstoneTTL
	}
	return fallback{name: name, opts: opts}
}

// try runs fn against the shared backend under the breaker and deadline.
// It returns false when the caller must use local state instead.
func (f fallback) try(ctx context.Context, op string, fn func(ctx context.Context) error) bool {
	if !f.opts.Breaker.Allow() {
		f.degraded(op, errBreakerOpen)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		f.opts.Breaker.Failure()
		f.degraded(op, err)
		return false
	}
	f.opts.Breaker.Success()
	return true
}

var errBreakerOpen = errors.New("shared backend breaker open")

func (f fallback) degraded(op string, err error) {
	// open breaker is the steady state during an outage, keep it quiet
	if errors.Is(err, errBreakerOpen) {
		f.opts.Logger.Debug("Shared store skipped, using local state",
			zap.String("store", f.name), zap.String("op", op))
	} else {
		f.opts.Logger.Warn("Shared store unavailable, using local state",
			zap.String("store", f.name), zap.String("op", op), zap.Error(err))
	}
	if f.opts.OnFallback != nil {
		f.opts.OnFallback(f.name, op)
	}
}

// FallbackBlacklist writes to both stores and reads from the shared one when reachable.
type FallbackBlacklist struct {
	fallback
	primary BlacklistStore
	local   BlacklistStore
}

func NewFallbackBlacklist(primary, local BlacklistStore, opts FallbackOptions) *FallbackBlacklist {
	return &FallbackBlacklist{fallback: newFallback("blacklist", opts), primary: primary, local: local}
}

func (b *FallbackBlacklist) Add(ctx context.Context, tokenID string, ttl time.Duration) error {
	if err := b.local.Add(ctx, tokenID, ttl); err != nil {
		return err
	}
	b.try(ctx, "add", func(ctx context.Context) error {
		return b.primary.Add(ctx, tokenID, ttl)
	})
	return nil
}

func (b *FallbackBlacklist) Contains(ctx context.Context, tokenID string) (bool, error) {
	var found bool
	ok := b.try(ctx, "contains", func(ctx context.Context) error {
		var err error
		found, err = b.primary.Contains(ctx, tokenID)
		return err
	})
	if ok && found {
		return true, nil
	}
	// a local hit still counts: the shared write may have failed during an outage
	return b.local.Contains(ctx, tokenID)
}

// FallbackSessions keeps a local copy of every session for use during outages.
// When the shared store is reachable it is authoritative, except for deletions
// it missed: those are kept as local tombstones, hidden from Get and replayed
// until the shared store accepts them.
type FallbackSessions struct {
	fallback
	primary SessionStore
	local   SessionStore

	mu           sync.Mutex
	revoked      map[string]time.Time     // session id -> tombstone expiry
	revokedUsers map[string]userTombstone // user id -> pending DeleteUser
}

type userTombstone struct {
	at        time.Time // sessions created up to this instant are dead
	expiresAt time.Time
}

func NewFallbackSessions(primary, local SessionStore, opts FallbackOptions) *FallbackSessions {
	return &FallbackSessions{
		fallback:     newFallback("sessions", opts),
		primary:      primary,
		local:        local,
		revoked:      make(map[string]time.Time),
		revokedUsers: make(map[string]userTombstone),
	}
}

func (s *FallbackSessions) Save(ctx context.Context, session models.Session, ttl time.Duration) error {
	if err := s.local.Save(ctx, session, ttl); err != nil {
		return err
	}
	s.try(ctx, "save", func(ctx context.Context) error {
		return s.primary.Save(ctx, session, ttl)
	})
	return nil
}

func (s *FallbackSessions) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	var (
		session  *models.Session
		notFound bool
	)
	ok := s.try(ctx, "get", func(ctx context.Context) error {
		var err error
		session, err = s.primary.Get(ctx, sessionID)
		if errors.Is(err, ErrNotFound) {
			notFound = true
			return nil
		}
		return err
	})
	if !ok {
		return s.local.Get(ctx, sessionID)
	}
	if notFound {
		return nil, ErrNotFound
	}
	if s.tombstoned(session) {
		s.try(ctx, "delete", func(ctx context.Context) error {
			return s.primary.Delete(ctx, sessionID)
		})
		return nil, ErrNotFound
	}
	return session, nil
}

func (s *FallbackSessions) tombstoned(session *models.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Clock()
	if expiresAt, ok := s.revoked[session.ID]; ok && now.Before(expiresAt) {
		return true
	}
	if t, ok := s.revokedUsers[session.UserID]; ok && now.Before(t.expiresAt) {
		return !session.CreatedAt.After(t.at)
	}
	return false
}

func (s *FallbackSessions) Touch(ctx context.Context, sessionID string, at time.Time, ttl time.Duration) error {
	localErr := s.local.Touch(ctx, sessionID, at, ttl)
	var primaryErr error
	ok := s.try(ctx, "touch", func(ctx context.Context) error {
		primaryErr = s.primary.Touch(ctx, sessionID, at, ttl)
		if errors.Is(primaryErr, ErrNotFound) {
			return nil
		}
		return primaryErr
	})
	if ok {
		return primaryErr
	}
	return localErr
}

func (s *FallbackSessions) Delete(ctx context.Context, sessionID string) error {
	if err := s.local.Delete(ctx, sessionID); err != nil {
		return err
	}
	ok := s.try(ctx, "delete", func(ctx context.Context) error {
		return s.primary.Delete(ctx, sessionID)
	})
	if !ok {
		s.mu.Lock()
		s.revoked[sessionID] = s.opts.Clock().Add(s.opts.TombstoneTTL)
		s.mu.Unlock()
	}
	return nil
}

func (s *FallbackSessions) DeleteUser(ctx context.Context, userID string) (int, error) {
	now := s.opts.Clock()
	removed, err := s.local.DeleteUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	ok := s.try(ctx, "delete_user", func(ctx context.Context) error {
		n, err := s.primary.DeleteUser(ctx, userID)
		if n > removed {
			removed = n
		}
		return err
	})
	if !ok {
		s.mu.Lock()
		s.revokedUsers[userID] = userTombstone{at: now, expiresAt: now.Add(s.opts.TombstoneTTL)}
		s.mu.Unlock()
	}
	return removed, nil
}

// Pending returns the number of deletions not yet applied to the shared store.
func (s *FallbackSessions) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.revoked) + len(s.revokedUsers)
}

// Replay pushes missed deletions to the shared store and forgets the ones it
// accepted or that outlived the tombstone TTL. It returns how many were applied.
// User tombstones stay until they expire so sessions another instance wrote
// during the outage are still hidden.
func (s *FallbackSessions) Replay(ctx context.Context) (int64, error) {
	now := s.opts.Clock()

	s.mu.Lock()
	sessionIDs := make([]string, 0, len(s.revoked))
	for id, expiresAt := range s.revoked {
		if !now.Before(expiresAt) {
			delete(s.revoked, id)
			continue
		}
		sessionIDs = append(sessionIDs, id)
	}
	userIDs := make([]string, 0, len(s.revokedUsers))
	for id, t := range s.revokedUsers {
		if !now.Before(t.expiresAt) {
			delete(s.revokedUsers, id)
			continue
		}
		userIDs = append(userIDs, id)
	}
	s.mu.Unlock()

	var applied int64
	for _, id := range sessionIDs {
		ok := s.try(ctx, "replay_delete", func(ctx context.Context) error {
			return s.primary.Delete(ctx, id)
		})
		if !ok {
			return applied, nil
		}
		s.mu.Lock()
		delete(s.revoked, id)
		s.mu.Unlock()
		applied++
	}
	for _, id := range userIDs {
		ok := s.try(ctx, "replay_delete_user", func(ctx context.Context) error {
			_, err := s.primary.DeleteUser(ctx, id)
			return err
		})
		if !ok {
			return applied, nil
		}
		applied++
	}
	return applied, nil
}

// FallbackRateLimits mirrors every bucket write locally so limits still hold
// when the shared store drops out.
type FallbackRateLimits struct {
	fallback
	primary RateLimitStore
	local   RateLimitStore
}

func NewFallbackRateLimits(primary, local RateLimitStore, opts FallbackOptions) *FallbackRateLimits {
	return &FallbackRateLimits{fallback: newFallback("rate_limits", opts), primary: primary, local: local}
}

func (r *FallbackRateLimits) Add(ctx context.Context, key string, at time.Time, window time.Duration) error {
	if err := r.local.Add(ctx, key, at, window); err != nil {
		return err
	}
	r.try(ctx, "add", func(ctx context.Context) error {
		return r.primary.Add(ctx, key, at, window)
	})
	return nil
}

// Reserve is decided by the shared store when it is reachable and mirrored
// locally; during an outage the local bucket decides.
func (r *FallbackRateLimits) Reserve(ctx context.Context, key string, at time.Time, window time.Duration, limit int) ([]time.Time, bool, error) {
	var (
		attempts []time.Time
		reserved bool
	)
	ok := r.try(ctx, "reserve", func(ctx context.Context) error {
		var err error
		attempts, reserved, err = r.primary.Reserve(ctx, key, at, window, limit)
		return err
	})
	if !ok {
		return r.local.Reserve(ctx, key, at, window, limit)
	}
	if reserved {
		if err := r.local.Add(ctx, key, at, window); err != nil {
			return nil, false, err
		}
	}
	return attempts, reserved, nil
}

func (r *FallbackRateLimits) Release(ctx context.Context, key string, at time.Time) error {
	if err := r.local.Release(ctx, key, at); err != nil {
		return err
	}
	r.try(ctx, "release", func(ctx context.Context) error {
		return r.primary.Release(ctx, key, at)
	})
	return nil
}

func (r *FallbackRateLimits) Attempts(ctx context.Context, key string, since time.Time) ([]time.Time, error) {
	var attempts []time.Time
	ok := r.try(ctx, "attempts", func(ctx context.Context) error {
		var err error
		attempts, err = r.primary.Attempts(ctx, key, since)
		return err
	})
	if ok {
		return attempts, nil
	}
	return r.local.Attempts(ctx, key, since)
}

func (r *FallbackRateLimits) Reset(ctx context.Context, key string) error {
	if err := r.local.Reset(ctx, key); err != nil {
		return err
	}
	r.try(ctx, "reset", func(ctx context.Context) error {
		return r.primary.Reset(ctx, key)
	})
	return nil
}
