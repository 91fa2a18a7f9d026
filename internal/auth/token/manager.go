// Package token issues, verifies and revokes the signed access and refresh
// tokens that back a login session.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apierr "github.com/victorgomez09/jobguard/internal/auth"
	"github.com/victorgomez09/jobguard/internal/auth/models"
	"github.com/victorgomez09/jobguard/internal/metrics"
	"github.com/victorgomez09/jobguard/internal/store"
)

// Type tells access tokens from refresh tokens.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// Config holds the signing and lifetime settings of the token manager.
type Config struct {
	Secret         []byte           // HMAC key used to sign every token.
	Issuer         string           // Value of the iss claim.
	AccessTTL      time.Duration    // Lifetime of access tokens. Zero issues already expired tokens.
	RefreshTTL     time.Duration    // Lifetime of refresh tokens; also caps blacklist entries.
	SessionTimeout time.Duration    // Inactivity period after which a session is dead.
	Now            func() time.Time // Clock override for tests.
}

// Claims is the token payload.
type Claims struct {
	UserID    string      `json:"user_id"`
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
	SessionID string      `json:"session_id"`
	Type      Type        `json:"type"`
	jwt.RegisteredClaims
}

// Manager signs tokens with HS256 and tracks the sessions they are bound to.
type Manager struct {
	cfg       Config
	sessions  store.SessionStore
	blacklist store.BlacklistStore
	parser    *jwt.Parser
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewManager(cfg Config, sessions store.SessionStore, blacklist store.BlacklistStore, logger *zap.Logger, m *metrics.Metrics) (*Manager, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token: signing secret is required")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "jobguard"
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 30 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		cfg:       cfg,
		sessions:  sessions,
		blacklist: blacklist,
		// expiry is checked by hand against cfg.Now so it can be told apart from a bad signature
		parser:  jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation()),
		logger:  logger,
		metrics: m,
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (m *Manager) AccessTTL() time.Duration {
	return m.cfg.AccessTTL
}

// RefreshTTL returns the configured refresh token lifetime.
func (m *Manager) RefreshTTL() time.Duration {
	return m.cfg.RefreshTTL
}

// SessionTimeout returns the configured inactivity timeout.
func (m *Manager) SessionTimeout() time.Duration {
	return m.cfg.SessionTimeout
}

// IssueAccessToken signs an access token for user bound to sessionID and
// registers or refreshes the session.
func (m *Manager) IssueAccessToken(ctx context.Context, user *models.User, sessionID string) (string, error) {
	return m.issue(ctx, user, sessionID, TypeAccess, m.cfg.AccessTTL)
}

// IssueRefreshToken is IssueAccessToken for the long-lived refresh token.
func (m *Manager) IssueRefreshToken(ctx context.Context, user *models.User, sessionID string) (string, error) {
	return m.issue(ctx, user, sessionID, TypeRefresh, m.cfg.RefreshTTL)
}

func (m *Manager) issue(ctx context.Context, user *models.User, sessionID string, typ Type, ttl time.Duration) (string, error) {
	now := m.cfg.Now()
	claims := Claims{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		SessionID: sessionID,
		Type:      typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.cfg.Issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}

	if err := m.registerSession(ctx, user.ID, sessionID, now); err != nil {
		return "", err
	}

	m.metrics.TokenIssued(string(typ))
	return signed, nil
}

func (m *Manager) registerSession(ctx context.Context, userID, sessionID string, now time.Time) error {
	session := models.Session{ID: sessionID, UserID: userID, CreatedAt: now, LastActivityAt: now}
	if existing, err := m.sessions.Get(ctx, sessionID); err == nil && existing.UserID == userID {
		session.CreatedAt = existing.CreatedAt
	}
	if err := m.sessions.Save(ctx, session, m.cfg.SessionTimeout); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Verify checks a token of either type: signature, expiry, blacklist and
// session liveness, in that order. On success the session is touched.
func (m *Manager) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := m.verify(ctx, tokenString)
	if err != nil {
		m.metrics.TokenVerified(string(apierr.CodeOf(err)))
		return nil, err
	}
	m.metrics.TokenVerified("ok")
	return claims, nil
}

// VerifyAccess is Verify restricted to access tokens.
func (m *Manager) VerifyAccess(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := m.Verify(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != TypeAccess {
		return nil, apierr.ErrWrongTokenType
	}
	return claims, nil
}

func (m *Manager) verify(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := m.parse(tokenString)
	if err != nil {
		return nil, err
	}

	now := m.cfg.Now()
	if !now.Before(claims.ExpiresAt.Time) {
		return nil, apierr.ErrExpiredToken
	}

	revoked, err := m.blacklist.Contains(ctx, claims.ID)
	if err != nil {
		m.logger.Warn("Blacklist lookup failed", zap.String("jti", claims.ID), zap.Error(err))
	}
	if revoked {
		return nil, apierr.ErrRevokedToken
	}

	session, err := m.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.Warn("Session lookup failed", zap.String("session_id", claims.SessionID), zap.Error(err))
		}
		return nil, apierr.ErrSessionExpired
	}
	if session.UserID != claims.UserID {
		return nil, apierr.ErrSessionExpired
	}
	if session.Expired(now, m.cfg.SessionTimeout) {
		if err := m.sessions.Delete(ctx, claims.SessionID); err != nil {
			m.logger.Warn("Failed to drop timed out session", zap.String("session_id", claims.SessionID), zap.Error(err))
		}
		return nil, apierr.ErrSessionExpired
	}

	if err := m.sessions.Touch(ctx, claims.SessionID, now, m.cfg.SessionTimeout); err != nil && !errors.Is(err, store.ErrNotFound) {
		m.logger.Warn("Failed to touch session", zap.String("session_id", claims.SessionID), zap.Error(err))
	}
	return claims, nil
}

// parse checks structure and signature only.
func (m *Manager) parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := m.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return m.cfg.Secret, nil
	})
	if err != nil {
		return nil, &apierr.Error{Code: apierr.CodeInvalidToken, Message: apierr.ErrInvalidToken.Message, Err: err}
	}
	if claims.ID == "" || claims.SessionID == "" || claims.ExpiresAt == nil || claims.Issuer != m.cfg.Issuer {
		return nil, apierr.ErrInvalidToken
	}
	return claims, nil
}

// Refresh exchanges a refresh token for a new access token on the same session.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (string, *Claims, error) {
	claims, err := m.Verify(ctx, refreshToken)
	if err != nil {
		return "", nil, err
	}
	if claims.Type != TypeRefresh {
		return "", nil, apierr.ErrWrongTokenType
	}

	user := &models.User{ID: claims.UserID, Email: claims.Email, Role: claims.Role}
	access, err := m.IssueAccessToken(ctx, user, claims.SessionID)
	if err != nil {
		return "", nil, err
	}
	return access, claims, nil
}

// Revoke blacklists the token for the rest of its lifetime and drops its
// session. Expired tokens are accepted. Revoking twice is a no-op.
func (m *Manager) Revoke(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := m.parse(tokenString)
	if err != nil {
		return nil, err
	}

	ttl := claims.ExpiresAt.Time.Sub(m.cfg.Now())
	if ttl > m.cfg.RefreshTTL {
		ttl = m.cfg.RefreshTTL
	}
	if ttl > 0 {
		if err := m.blacklist.Add(ctx, claims.ID, ttl); err != nil {
			return nil, apierr.Internal(fmt.Errorf("blacklist token: %w", err))
		}
	}

	if err := m.sessions.Delete(ctx, claims.SessionID); err != nil {
		m.logger.Warn("Failed to delete session", zap.String("session_id", claims.SessionID), zap.Error(err))
	}

	m.logger.Debug("Token revoked",
		zap.String("jti", claims.ID),
		zap.String("type", string(claims.Type)),
		zap.Duration("ttl", ttl))
	return claims, nil
}

// RevokeUser drops every session of userID. Tokens bound to them fail the
// session check from now on.
func (m *Manager) RevokeUser(ctx context.Context, userID string) (int, error) {
	n, err := m.sessions.DeleteUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user sessions: %w", err)
	}
	return n, nil
}
