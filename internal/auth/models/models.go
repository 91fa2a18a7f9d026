package models

import (
	"time"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// User is the credential record plus the profile fields owned by the user store.
// Email is unique and compared case-insensitively.
type User struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	PasswordHash      string     `json:"-"`
	PasswordSalt      string     `json:"-"`
	Role              Role       `json:"role"`
	Active            bool       `json:"active"`
	FirstName         string     `json:"first_name"`
	LastName          string     `json:"last_name"`
	Company           string     `json:"company,omitempty"`
	Phone             string     `json:"phone,omitempty"`
	LastLoginAt       *time.Time `json:"last_login_at,omitempty"`
	LastLoginIP       string     `json:"-"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	PasswordChangedAt time.Time  `json:"password_changed_at"`
}

// Session binds a login to a revocable, timeout-able lifetime.
type Session struct {
	ID             string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Expired reports whether the session saw no activity for longer than timeout.
func (s Session) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastActivityAt) > timeout
}

type EventType string

const (
	EventLoginSuccess       EventType = "login_success"
	EventLoginFailed        EventType = "login_failed"
	EventLoginBlocked       EventType = "login_blocked"
	EventTokenIssued        EventType = "token_issued"
	EventTokenExpired       EventType = "token_expired"
	EventTokenInvalid       EventType = "token_invalid"
	EventTokenRevoked       EventType = "token_revoked"
	EventLogout             EventType = "logout"
	EventPasswordChanged    EventType = "password_changed"
	EventAccountLocked      EventType = "account_locked"
	EventAccountUnlocked    EventType = "account_unlocked"
	EventUserRegistered     EventType = "user_registered"
	EventSuspiciousActivity EventType = "suspicious_activity"
	EventUnauthorizedAccess EventType = "unauthorized_access"
)

type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// SeverityOf derives the severity of an event from its type.
func SeverityOf(t EventType) Severity {
	switch t {
	case EventLoginBlocked, EventAccountLocked, EventSuspiciousActivity, EventUnauthorizedAccess:
		return SeverityHigh
	case EventLoginFailed, EventTokenInvalid:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// AuditEvent is an append-only record of a security relevant event.
type AuditEvent struct {
	Timestamp     time.Time      `json:"timestamp"`
	EventType     EventType      `json:"event_type"`
	UserID        string         `json:"user_id,omitempty"`
	SourceAddress string         `json:"ip_address,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	Severity      Severity       `json:"severity"`
}
