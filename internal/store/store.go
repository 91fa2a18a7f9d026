// Package store defines the persistence ports used by the auth core for
// ephemeral shared state, with in-process implementations and fallback
// composites that put a shared cache in front of local state.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/victorgomez09/jobguard/internal/auth/models"
)

// ErrNotFound is returned by lookups for keys that do not exist.
var ErrNotFound = errors.New("store: not found")

// BlacklistStore records revoked token ids until their natural expiry.
type BlacklistStore interface {
	Add(ctx context.Context, tokenID string, ttl time.Duration) error
	Contains(ctx context.Context, tokenID string) (bool, error)
}

// SessionStore keeps live sessions. ttl is the inactivity timeout; implementations
// may use it to expire entries on their own.
type SessionStore interface {
	Save(ctx context.Context, session models.Session, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	Touch(ctx context.Context, sessionID string, at time.Time, ttl time.Duration) error
	Delete(ctx context.Context, sessionID string) error
	// DeleteUser removes every session owned by userID and returns how many were removed.
	DeleteUser(ctx context.Context, userID string) (int, error)
}

// RateLimitStore keeps sliding-window buckets of attempt timestamps.
type RateLimitStore interface {
	// Add appends at to the bucket and trims entries older than at-window.
	Add(ctx context.Context, key string, at time.Time, window time.Duration) error
	// Attempts returns the timestamps newer than since, oldest first.
	Attempts(ctx context.Context, key string, since time.Time) ([]time.Time, error)
	// Reserve trims the bucket to the window and appends at only if fewer than
	// limit entries remain, as one atomic step. It returns the entries left in
	// the window, oldest first and including at when reserved.
	Reserve(ctx context.Context, key string, at time.Time, window time.Duration, limit int) ([]time.Time, bool, error)
	// Release removes one entry recorded at exactly at.
	Release(ctx context.Context, key string, at time.Time) error
	Reset(ctx context.Context, key string) error
}

// AuditStore is an append-only sink of security events.
type AuditStore interface {
	Append(ctx context.Context, event models.AuditEvent) error
	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]models.AuditEvent, error)
}
