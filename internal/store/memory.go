package store

import (
	"context"
	"sync"
	"time"

	"github.com/victorgomez09/jobguard/internal/auth/models"
)

// DefaultAuditRingSize caps the in-process audit ring.
const DefaultAuditRingSize = 1000

// Clock returns the current time. Memory stores use it for expiry decisions.
type Clock func() time.Time

// MemoryBlacklist is an in-process BlacklistStore with lazy TTL pruning.
type MemoryBlacklist struct {
	mu      sync.Mutex
	entries map[string]time.Time // token id -> expiry
	now     Clock
}

func NewMemoryBlacklist(now Clock) *MemoryBlacklist {
	if now == nil {
		now = time.Now
	}
	return &MemoryBlacklist{entries: make(map[string]time.Time), now: now}
}

func (b *MemoryBlacklist) Add(_ context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[tokenID] = b.now().Add(ttl)
	return nil
}

func (b *MemoryBlacklist) Contains(_ context.Context, tokenID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	expiresAt, ok := b.entries[tokenID]
	if !ok {
		return false, nil
	}
	if !b.now().Before(expiresAt) {
		delete(b.entries, tokenID)
		return false, nil
	}
	return true, nil
}

// Sweep drops entries whose expiry has passed and returns how many were removed.
func (b *MemoryBlacklist) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	removed := 0
	for id, expiresAt := range b.entries {
		if !now.Before(expiresAt) {
			delete(b.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (b *MemoryBlacklist) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// MemorySessions is an in-process SessionStore.
type MemorySessions struct {
	mu       sync.Mutex
	sessions map[string]memorySession
	now      Clock
}

type memorySession struct {
	session   models.Session
	expiresAt time.Time
}

func NewMemorySessions(now Clock) *MemorySessions {
	if now == nil {
		now = time.Now
	}
	return &MemorySessions{sessions: make(map[string]memorySession), now: now}
}

func (m *MemorySessions) Save(_ context.Context, session models.Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = memorySession{session: session, expiresAt: session.LastActivityAt.Add(ttl)}
	return nil
}

func (m *MemorySessions) Get(_ context.Context, sessionID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if m.now().After(entry.expiresAt) {
		delete(m.sessions, sessionID)
		return nil, ErrNotFound
	}
	s := entry.session
	return &s, nil
}

func (m *MemorySessions) Touch(_ context.Context, sessionID string, at time.Time, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	entry.session.LastActivityAt = at
	entry.expiresAt = at.Add(ttl)
	m.sessions[sessionID] = entry
	return nil
}

func (m *MemorySessions) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemorySessions) DeleteUser(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, entry := range m.sessions {
		if entry.session.UserID == userID {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Sweep drops timed out sessions and returns how many were removed.
func (m *MemorySessions) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, entry := range m.sessions {
		if now.After(entry.expiresAt) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// MemoryRateLimits is an in-process RateLimitStore. Buckets are trimmed on
// every write; Sweep drops the ones whose window has closed.
type MemoryRateLimits struct {
	mu      sync.Mutex
	buckets map[string]*rateBucket
	now     Clock
}

type rateBucket struct {
	attempts []time.Time
	window   time.Duration
}

func NewMemoryRateLimits(now Clock) *MemoryRateLimits {
	if now == nil {
		now = time.Now
	}
	return &MemoryRateLimits{buckets: make(map[string]*rateBucket), now: now}
}

func (m *MemoryRateLimits) Add(_ context.Context, key string, at time.Time, window time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.bucketLocked(key, window)
	b.attempts = append(trimBefore(b.attempts, at.Add(-window)), at)
	return nil
}

func (m *MemoryRateLimits) Reserve(_ context.Context, key string, at time.Time, window time.Duration, limit int) ([]time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.bucketLocked(key, window)
	b.attempts = trimBefore(b.attempts, at.Add(-window))
	reserved := len(b.attempts) < limit
	if reserved {
		b.attempts = append(b.attempts, at)
	} else if len(b.attempts) == 0 {
		delete(m.buckets, key)
	}

	out := make([]time.Time, len(b.attempts))
	copy(out, b.attempts)
	return out, reserved, nil
}

func (m *MemoryRateLimits) Release(_ context.Context, key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		return nil
	}
	for i := len(b.attempts) - 1; i >= 0; i-- {
		if b.attempts[i].Equal(at) {
			b.attempts = append(b.attempts[:i:i], b.attempts[i+1:]...)
			break
		}
	}
	if len(b.attempts) == 0 {
		delete(m.buckets, key)
	}
	return nil
}

func (m *MemoryRateLimits) bucketLocked(key string, window time.Duration) *rateBucket {
	b, ok := m.buckets[key]
	if !ok {
		b = &rateBucket{}
		m.buckets[key] = b
	}
	if window > b.window {
		b.window = window
	}
	return b
}

func (m *MemoryRateLimits) Attempts(_ context.Context, key string, since time.Time) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		return nil, nil
	}
	bucket := trimBefore(b.attempts, since)
	if len(bucket) == 0 {
		delete(m.buckets, key)
		return nil, nil
	}
	b.attempts = bucket

	out := make([]time.Time, len(bucket))
	copy(out, bucket)
	return out, nil
}

func (m *MemoryRateLimits) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets, key)
	return nil
}

// Sweep drops buckets whose newest attempt has left the window and returns
// how many were removed.
func (m *MemoryRateLimits) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, b := range m.buckets {
		if n := len(b.attempts); n == 0 || !b.attempts[n-1].After(now.Add(-b.window)) {
			delete(m.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of buckets held.
func (m *MemoryRateLimits) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// trimBefore drops the leading timestamps that are not after cutoff.
// Buckets are appended in time order, so the slice stays sorted.
func trimBefore(bucket []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(bucket) && !bucket[i].After(cutoff) {
		i++
	}
	return bucket[i:]
}

// MemoryAudit is a capped ring of audit events; the oldest entries are evicted first.
type MemoryAudit struct {
	mu     sync.RWMutex
	events []models.AuditEvent
	next   int
	full   bool
}

func NewMemoryAudit(size int) *MemoryAudit {
	if size <= 0 {
		size = DefaultAuditRingSize
	}
	return &MemoryAudit{events: make([]models.AuditEvent, size)}
}

func (m *MemoryAudit) Append(_ context.Context, event models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events[m.next] = event
	m.next = (m.next + 1) % len(m.events)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

func (m *MemoryAudit) Recent(_ context.Context, limit int) ([]models.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := m.lenLocked()
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]models.AuditEvent, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + len(m.events)) % len(m.events)
		out = append(out, m.events[idx])
	}
	return out, nil
}

// Len returns the number of events currently held.
func (m *MemoryAudit) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lenLocked()
}

func (m *MemoryAudit) lenLocked() int {
	if m.full {
		return len(m.events)
	}
	return m.next
}
