// Package ratelimit throttles login attempts per identity and per source
// address over a sliding window.
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/victorgomez09/jobguard/internal/metrics"
	"github.com/victorgomez09/jobguard/internal/store"
)

// Scope names the bucket that blocked an attempt.
type Scope string

const (
	ScopeIdentity Scope = "user"
	ScopeAddress  Scope = "ip"
)

const (
	identityPrefix = "user_attempts:"
	addressPrefix  = "ip_attempts:"
)

// Config holds the limiter thresholds.
type Config struct {
	MaxAttempts       int              // Failed attempts per identity within Window before blocking.
	AddressMultiplier int              // Address threshold is MaxAttempts times this value.
	Window            time.Duration    // Sliding window, also the lockout duration.
	Now               func() time.Time // Clock override for tests.
}

// Result describes the state of both buckets at check time.
type Result struct {
	Limited    bool
	Scope      Scope         // Saturated scope, identity wins when both are.
	Attempts   int           // Failures counted for the identity.
	RetryAfter time.Duration // Time until the oldest counted attempt leaves the window.
}

// Limiter counts failed logins in a RateLimitStore. Store errors never block
// a caller: they are logged and the bucket is treated as empty.
type Limiter struct {
	cfg     Config
	store   store.RateLimitStore
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func New(cfg Config, s store.RateLimitStore, logger *zap.Logger, m *metrics.Metrics) *Limiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.AddressMultiplier <= 0 {
		cfg.AddressMultiplier = 3
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{cfg: cfg, store: s, logger: logger, metrics: m}
}

// MaxAttempts returns the identity threshold.
func (l *Limiter) MaxAttempts() int {
	return l.cfg.MaxAttempts
}

// Window returns the sliding window length.
func (l *Limiter) Window() time.Duration {
	return l.cfg.Window
}

// Check reports whether identity or address is saturated. An empty address
// skips the address scope.
func (l *Limiter) Check(ctx context.Context, identity, address string) Result {
	now := l.cfg.Now()

	user := l.bucket(ctx, identityPrefix+identity, now)
	res := Result{Attempts: len(user)}

	var resetAt time.Time
	if len(user) >= l.cfg.MaxAttempts {
		res.Limited = true
		res.Scope = ScopeIdentity
		resetAt = user[0].Add(l.cfg.Window)
	}

	if address != "" {
		ip := l.bucket(ctx, addressPrefix+address, now)
		if len(ip) >= l.cfg.MaxAttempts*l.cfg.AddressMultiplier {
			if !res.Limited {
				res.Scope = ScopeAddress
			}
			res.Limited = true
			if reset := ip[0].Add(l.cfg.Window); reset.After(resetAt) {
				resetAt = reset
			}
		}
	}

	if res.Limited {
		l.limited(&res, resetAt, now)
	}
	return res
}

func (l *Limiter) limited(res *Result, resetAt, now time.Time) {
	res.Limited = true
	res.RetryAfter = resetAt.Sub(now)
	if res.RetryAfter < time.Second {
		res.RetryAfter = time.Second
	}
	l.metrics.Limited(string(res.Scope))
}

func (l *Limiter) bucket(ctx context.Context, key string, now time.Time) []time.Time {
	attempts, err := l.store.Attempts(ctx, key, now.Add(-l.cfg.Window))
	if err != nil {
		l.logger.Warn("Rate limit lookup failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	return attempts
}

// Record stores the outcome of an attempt and returns the identity's failure
// count in the window afterwards. A success clears the identity bucket only;
// the address keeps its failure history.
func (l *Limiter) Record(ctx context.Context, identity, address string, success bool) int {
	now := l.cfg.Now()

	if success {
		if err := l.store.Reset(ctx, identityPrefix+identity); err != nil {
			l.logger.Warn("Rate limit reset failed", zap.String("identity", identity), zap.Error(err))
		}
		return 0
	}

	if err := l.store.Add(ctx, identityPrefix+identity, now, l.cfg.Window); err != nil {
		l.logger.Warn("Rate limit record failed", zap.String("identity", identity), zap.Error(err))
	}
	if address != "" {
		if err := l.store.Add(ctx, addressPrefix+address, now, l.cfg.Window); err != nil {
			l.logger.Warn("Rate limit record failed", zap.String("address", address), zap.Error(err))
		}
	}
	return len(l.bucket(ctx, identityPrefix+identity, now))
}

// Reservation is an attempt counted against both buckets before the
// credentials behind it are checked. Settle it with Succeeded, Failed or
// Release.
type Reservation struct {
	Result
	identity     string
	address      string
	at           time.Time
	identityHeld bool
	addressHeld  bool
}

// Reserve counts an attempt for identity and address unless either bucket is
// already saturated, in which case nothing is written and the returned
// reservation is Limited. Concurrent callers can never be admitted past the
// thresholds. Store errors admit the attempt without holding a slot.
func (l *Limiter) Reserve(ctx context.Context, identity, address string) Reservation {
	now := l.cfg.Now()
	r := Reservation{identity: identity, address: address, at: now}

	user, held, ok := l.reserve(ctx, identityPrefix+identity, now, l.cfg.MaxAttempts)
	r.Attempts = len(user)
	if ok && !held {
		r.Scope = ScopeIdentity
		l.limited(&r.Result, user[0].Add(l.cfg.Window), now)
		return r
	}
	r.identityHeld = held

	if address == "" {
		return r
	}
	ip, held, ok := l.reserve(ctx, addressPrefix+address, now, l.cfg.MaxAttempts*l.cfg.AddressMultiplier)
	if ok && !held {
		if r.identityHeld {
			r.Attempts--
		}
		l.release(ctx, identityPrefix+identity, &r.identityHeld, now)
		r.Scope = ScopeAddress
		l.limited(&r.Result, ip[0].Add(l.cfg.Window), now)
		return r
	}
	r.addressHeld = held
	return r
}

// reserve reports ok=false when the store could not be asked.
func (l *Limiter) reserve(ctx context.Context, key string, now time.Time, limit int) (attempts []time.Time, held, ok bool) {
	attempts, held, err := l.store.Reserve(ctx, key, now, l.cfg.Window, limit)
	if err != nil {
		l.logger.Warn("Rate limit reservation failed", zap.String("key", key), zap.Error(err))
		return nil, false, false
	}
	// a full bucket always has an oldest entry
	if !held && len(attempts) == 0 {
		return nil, false, false
	}
	return attempts, held, true
}

func (l *Limiter) release(ctx context.Context, key string, held *bool, at time.Time) {
	if !*held {
		return
	}
	if err := l.store.Release(ctx, key, at); err != nil {
		l.logger.Warn("Rate limit release failed", zap.String("key", key), zap.Error(err))
	}
	*held = false
}

// Failed keeps the reserved attempt as a failure and returns the identity's
// failure count in the window. Slots that could not be reserved are recorded
// now.
func (l *Limiter) Failed(ctx context.Context, r *Reservation) int {
	if r.Limited {
		return r.Attempts
	}
	if !r.identityHeld {
		if err := l.store.Add(ctx, identityPrefix+r.identity, r.at, l.cfg.Window); err != nil {
			l.logger.Warn("Rate limit record failed", zap.String("identity", r.identity), zap.Error(err))
		}
		r.identityHeld = true
		r.Attempts = len(l.bucket(ctx, identityPrefix+r.identity, r.at))
	}
	if !r.addressHeld && r.address != "" {
		if err := l.store.Add(ctx, addressPrefix+r.address, r.at, l.cfg.Window); err != nil {
			l.logger.Warn("Rate limit record failed", zap.String("address", r.address), zap.Error(err))
		}
		r.addressHeld = true
	}
	return r.Attempts
}

// Succeeded clears the identity bucket and gives back the address slot; a
// success never counts against the address.
func (l *Limiter) Succeeded(ctx context.Context, r *Reservation) {
	if err := l.store.Reset(ctx, identityPrefix+r.identity); err != nil {
		l.logger.Warn("Rate limit reset failed", zap.String("identity", r.identity), zap.Error(err))
	}
	r.identityHeld = false
	l.release(ctx, addressPrefix+r.address, &r.addressHeld, r.at)
}

// Release gives back both slots, for attempts that ended on a server error.
func (l *Limiter) Release(ctx context.Context, r *Reservation) {
	l.release(ctx, identityPrefix+r.identity, &r.identityHeld, r.at)
	l.release(ctx, addressPrefix+r.address, &r.addressHeld, r.at)
}

// Reset clears the identity bucket, used when an administrator unlocks an account.
func (l *Limiter) Reset(ctx context.Context, identity string) error {
	return l.store.Reset(ctx, identityPrefix+identity)
}
