// Package service orchestrates the auth core: credential checks, token
// issuance, rate limiting and the security audit trail.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apierr "github.com/victorgomez09/jobguard/internal/auth"
	"github.com/victorgomez09/jobguard/internal/auth/audit"
	"github.com/victorgomez09/jobguard/internal/auth/database"
	"github.com/victorgomez09/jobguard/internal/auth/models"
	"github.com/victorgomez09/jobguard/internal/auth/password"
	"github.com/victorgomez09/jobguard/internal/auth/ratelimit"
	"github.com/victorgomez09/jobguard/internal/auth/token"
	"github.com/victorgomez09/jobguard/internal/auth/validation"
	"github.com/victorgomez09/jobguard/internal/metrics"
)

// CredentialStore is the durable user store the manager reads credentials from.
type CredentialStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]models.User, error)
	UpdateProfile(ctx context.Context, user *models.User) error
	RecordLogin(ctx context.Context, userID string, at time.Time, ip string) error
	SetActive(ctx context.Context, userID string, active bool, at time.Time) error
	UpdatePassword(ctx context.Context, user *models.User, previous database.PasswordRecord, keep int) error
	GetPasswordHistory(ctx context.Context, userID string, limit int) ([]database.PasswordRecord, error)
}

// Config holds the settings of the security manager.
type Config struct {
	PasswordPolicy  validation.PasswordPolicy // Rules for new passwords.
	PasswordHistory int                       // Previous passwords that may not be reused.
	Now             func() time.Time          // Clock override for tests.
}

// SecurityManager is the entry point used by the HTTP surface.
type SecurityManager struct {
	cfg       Config
	users     CredentialStore
	hasher    *password.Hasher
	tokens    *token.Manager
	limiter   *ratelimit.Limiter
	auditor   *audit.Auditor
	passwords *validation.PasswordValidator
	logger    *zap.Logger
	metrics   *metrics.Metrics

	// hashed once so unknown emails cost as much as wrong passwords
	dummyHash string
	dummySalt string
}

func NewSecurityManager(
	cfg Config,
	users CredentialStore,
	hasher *password.Hasher,
	tokens *token.Manager,
	limiter *ratelimit.Limiter,
	auditor *audit.Auditor,
	logger *zap.Logger,
	m *metrics.Metrics,
) (*SecurityManager, error) {
	if cfg.PasswordPolicy.MinLength == 0 {
		cfg.PasswordPolicy = validation.DefaultPasswordPolicy(8)
	}
	if cfg.PasswordHistory < 0 {
		cfg.PasswordHistory = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dummyHash, dummySalt, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("prepare dummy credential: %w", err)
	}

	return &SecurityManager{
		cfg:       cfg,
		users:     users,
		hasher:    hasher,
		tokens:    tokens,
		limiter:   limiter,
		auditor:   auditor,
		passwords: validation.NewPasswordValidator(cfg.PasswordPolicy),
		logger:    logger,
		metrics:   m,
		dummyHash: dummyHash,
		dummySalt: dummySalt,
	}, nil
}

// LoginResult is returned by a successful Authenticate.
type LoginResult struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	User         *models.User `json:"user"`
}

// RefreshResult is returned by a successful Refresh.
type RefreshResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// NormalizeEmail is the identity used for lookups and rate limiting.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Authenticate checks credentials and opens a session. Every failure other
// than rate limiting is reported as apierr.ErrInvalidCredentials. The attempt
// is counted before the credentials are looked at, so parallel guesses cannot
// slip past the limiter.
func (s *SecurityManager) Authenticate(ctx context.Context, email, pass, address string) (*LoginResult, error) {
	identity := NormalizeEmail(email)

	rl := s.limiter.Reserve(ctx, identity, address)
	if rl.Limited {
		s.metrics.Login("blocked")
		s.auditor.Log(models.EventLoginBlocked, "", address, map[string]any{
			"email":       identity,
			"reason":      string(rl.Scope) + "_limit",
			"attempts":    rl.Attempts,
			"retry_after": int(rl.RetryAfter.Seconds()),
		})
		return nil, apierr.RateLimited(rl.RetryAfter)
	}

	input := validation.ValidateAndSanitize(map[string]any{"email": identity, "password": pass}, validation.LoginSchema)
	if !input.Valid {
		s.loginFailed(ctx, &rl, identity, "", address, "invalid_input", map[string]any{"errors": input.Errors})
		return nil, apierr.ErrInvalidCredentials
	}

	user, err := s.users.GetUserByEmail(ctx, identity)
	if err != nil {
		if !errors.Is(err, apierr.ErrUserNotFound) {
			s.logger.Error("Credential lookup failed", zap.Error(err))
		}
		s.hasher.Verify(pass, s.dummyHash, s.dummySalt)
		s.loginFailed(ctx, &rl, identity, "", address, "unknown_email", nil)
		return nil, apierr.ErrInvalidCredentials
	}

	if !s.hasher.Verify(pass, user.PasswordHash, user.PasswordSalt) {
		s.loginFailed(ctx, &rl, identity, user.ID, address, "invalid_password", nil)
		return nil, apierr.ErrInvalidCredentials
	}
	if !user.Active {
		s.loginFailed(ctx, &rl, identity, user.ID, address, "account_disabled", nil)
		return nil, apierr.ErrInvalidCredentials
	}

	sessionID := uuid.NewString()
	access, err := s.tokens.IssueAccessToken(ctx, user, sessionID)
	if err != nil {
		s.limiter.Release(ctx, &rl)
		return nil, apierr.Internal(err)
	}
	refresh, err := s.tokens.IssueRefreshToken(ctx, user, sessionID)
	if err != nil {
		s.limiter.Release(ctx, &rl)
		return nil, apierr.Internal(err)
	}

	s.limiter.Succeeded(ctx, &rl)

	now := s.cfg.Now()
	if err := s.users.RecordLogin(ctx, user.ID, now, address); err != nil {
		s.logger.Warn("Failed to record login", zap.String("user_id", user.ID), zap.Error(err))
	}
	user.LastLoginAt = &now
	user.LastLoginIP = address

	s.metrics.Login("success")
	s.auditor.Log(models.EventLoginSuccess, user.ID, address, map[string]any{"email": identity})
	s.auditor.Log(models.EventTokenIssued, user.ID, address, map[string]any{"session_id": sessionID})

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
		User:         user,
	}, nil
}

func (s *SecurityManager) loginFailed(ctx context.Context, rl *ratelimit.Reservation, identity, userID, address, reason string, extra map[string]any) {
	attempts := s.limiter.Failed(ctx, rl)
	s.metrics.Login("failure")

	details := map[string]any{"email": identity, "reason": reason, "attempts": attempts}
	for k, v := range extra {
		details[k] = v
	}
	s.auditor.Log(models.EventLoginFailed, userID, address, details)

	if attempts == s.limiter.MaxAttempts() {
		s.auditor.Log(models.EventAccountLocked, userID, address, map[string]any{
			"email":            identity,
			"attempts":         attempts,
			"lockout_duration": int(s.limiter.Window().Seconds()),
		})
	}
}

// Verify accepts only access tokens. Failures are audited.
func (s *SecurityManager) Verify(ctx context.Context, tokenString, address string) (*token.Claims, error) {
	claims, err := s.tokens.VerifyAccess(ctx, tokenString)
	if err != nil {
		s.auditTokenFailure(err, address)
		return nil, err
	}
	return claims, nil
}

func (s *SecurityManager) auditTokenFailure(err error, address string) {
	eventType := models.EventTokenInvalid
	if errors.Is(err, apierr.ErrExpiredToken) {
		eventType = models.EventTokenExpired
	}
	s.auditor.Log(eventType, "", address, map[string]any{"error": string(apierr.CodeOf(err))})
}

// Refresh issues a new access token for the session of refreshToken.
func (s *SecurityManager) Refresh(ctx context.Context, refreshToken, address string) (*RefreshResult, error) {
	access, claims, err := s.tokens.Refresh(ctx, refreshToken)
	if err != nil {
		if apierr.IsTokenError(err) {
			s.auditTokenFailure(err, address)
		}
		return nil, err
	}

	s.auditor.Log(models.EventTokenIssued, claims.UserID, address, map[string]any{
		"session_id": claims.SessionID,
		"refreshed":  true,
	})
	return &RefreshResult{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.tokens.AccessTTL().Seconds()),
	}, nil
}

// Logout revokes the access token and, when given, the refresh token of the
// same login. Logging out twice is harmless.
func (s *SecurityManager) Logout(ctx context.Context, accessToken, refreshToken, address string) error {
	claims, err := s.tokens.Revoke(ctx, accessToken)
	if err != nil {
		return err
	}

	if refreshToken != "" {
		if rc, err := s.tokens.Revoke(ctx, refreshToken); err != nil {
			s.logger.Debug("Ignoring unusable refresh token on logout", zap.Error(err))
		} else if rc.UserID != claims.UserID {
			s.auditor.Log(models.EventSuspiciousActivity, claims.UserID, address, map[string]any{
				"reason":        "foreign_refresh_token_on_logout",
				"token_user_id": rc.UserID,
			})
		}
	}

	s.auditor.Log(models.EventTokenRevoked, claims.UserID, address, map[string]any{"session_id": claims.SessionID})
	s.auditor.Log(models.EventLogout, claims.UserID, address, map[string]any{"session_id": claims.SessionID})
	return nil
}

// RegisterInput carries an already sanitized registration payload.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Company   string
	Phone     string
}

// Register creates a user with the user role.
func (s *SecurityManager) Register(ctx context.Context, in RegisterInput, address string) (*models.User, error) {
	return s.CreateUser(ctx, in, models.RoleUser, address)
}

// CreateUser creates a user with an explicit role. Used by Register and the admin tooling.
func (s *SecurityManager) CreateUser(ctx context.Context, in RegisterInput, role models.Role, address string) (*models.User, error) {
	if !role.Valid() {
		return nil, apierr.Validation([]string{fmt.Sprintf("role %q is not valid", role)})
	}
	email := NormalizeEmail(in.Email)

	if err := s.passwords.ValidatePassword(in.Password, email); err != nil {
		return nil, apierr.WeakPassword(err)
	}

	hash, salt, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, apierr.Internal(err)
	}

	now := s.cfg.Now().UTC()
	user := &models.User{
		ID:                uuid.NewString(),
		Email:             email,
		PasswordHash:      hash,
		PasswordSalt:      salt,
		Role:              role,
		Active:            true,
		FirstName:         in.FirstName,
		LastName:          in.LastName,
		Company:           in.Company,
		Phone:             in.Phone,
		CreatedAt:         now,
		UpdatedAt:         now,
		PasswordChangedAt: now,
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, apierr.ErrEmailTaken) {
			return nil, err
		}
		return nil, apierr.Internal(err)
	}

	s.auditor.Log(models.EventUserRegistered, user.ID, address, map[string]any{"email": email, "role": string(role)})
	return user, nil
}

// ChangePassword replaces the credential of userID and ends every session of the user.
func (s *SecurityManager) ChangePassword(ctx context.Context, userID, current, next, address string) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return s.storeError(err)
	}

	if !s.hasher.Verify(current, user.PasswordHash, user.PasswordSalt) {
		s.auditor.Log(models.EventLoginFailed, user.ID, address, map[string]any{"reason": "change_password_bad_current"})
		return apierr.ErrInvalidCredentials
	}

	if err := s.passwords.ValidatePassword(next, user.Email); err != nil {
		return apierr.WeakPassword(err)
	}
	if err := s.checkReuse(ctx, user, next); err != nil {
		return err
	}

	hash, salt, err := s.hasher.Hash(next)
	if err != nil {
		return apierr.Internal(err)
	}

	previous := database.PasswordRecord{Hash: user.PasswordHash, Salt: user.PasswordSalt}
	now := s.cfg.Now().UTC()
	user.PasswordHash = hash
	user.PasswordSalt = salt
	user.PasswordChangedAt = now
	user.UpdatedAt = now

	if err := s.users.UpdatePassword(ctx, user, previous, s.cfg.PasswordHistory); err != nil {
		return s.storeError(err)
	}

	revoked, err := s.tokens.RevokeUser(ctx, user.ID)
	if err != nil {
		s.logger.Error("Failed to revoke sessions after password change", zap.String("user_id", user.ID), zap.Error(err))
	}

	s.auditor.Log(models.EventPasswordChanged, user.ID, address, map[string]any{"sessions_revoked": revoked})
	return nil
}

var errPasswordReused = errors.New("password has been used recently")

func (s *SecurityManager) checkReuse(ctx context.Context, user *models.User, next string) error {
	if s.hasher.Verify(next, user.PasswordHash, user.PasswordSalt) {
		return apierr.WeakPassword(errPasswordReused)
	}
	if s.cfg.PasswordHistory == 0 {
		return nil
	}

	history, err := s.users.GetPasswordHistory(ctx, user.ID, s.cfg.PasswordHistory)
	if err != nil {
		return apierr.Internal(err)
	}
	for _, prev := range history {
		if s.hasher.Verify(next, prev.Hash, prev.Salt) {
			return apierr.WeakPassword(errPasswordReused)
		}
	}
	return nil
}

// Profile returns the user record of userID.
func (s *SecurityManager) Profile(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, s.storeError(err)
	}
	return user, nil
}

// ProfileUpdate holds sanitized profile fields; nil fields are left unchanged.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	Company   *string
	Phone     *string
}

func (s *SecurityManager) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, s.storeError(err)
	}

	if upd.FirstName != nil {
		user.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		user.LastName = *upd.LastName
	}
	if upd.Company != nil {
		user.Company = *upd.Company
	}
	if upd.Phone != nil {
		user.Phone = *upd.Phone
	}
	user.UpdatedAt = s.cfg.Now().UTC()

	if err := s.users.UpdateProfile(ctx, user); err != nil {
		return nil, s.storeError(err)
	}
	return user, nil
}

func (s *SecurityManager) ListUsers(ctx context.Context, limit, offset int) ([]models.User, error) {
	users, err := s.users.ListUsers(ctx, limit, offset)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	return users, nil
}

// SetUserActive enables or disables a user. Disabling ends every session of
// the user; enabling also clears the login failure history.
func (s *SecurityManager) SetUserActive(ctx context.Context, actorID, userID string, active bool, address string) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return s.storeError(err)
	}
	if err := s.users.SetActive(ctx, userID, active, s.cfg.Now().UTC()); err != nil {
		return s.storeError(err)
	}

	if active {
		if err := s.limiter.Reset(ctx, user.Email); err != nil {
			s.logger.Warn("Failed to clear login failures", zap.String("user_id", userID), zap.Error(err))
		}
		s.auditor.Log(models.EventAccountUnlocked, userID, address, map[string]any{"by": actorID})
		return nil
	}

	revoked, err := s.tokens.RevokeUser(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to revoke sessions of disabled user", zap.String("user_id", userID), zap.Error(err))
	}
	s.auditor.Log(models.EventAccountLocked, userID, address, map[string]any{
		"by":               actorID,
		"reason":           "disabled_by_admin",
		"sessions_revoked": revoked,
	})
	return nil
}

// RecentEvents returns up to limit security events, newest first.
func (s *SecurityManager) RecentEvents(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	events, err := s.auditor.Recent(ctx, limit)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	return events, nil
}

// PasswordPolicy returns the rules applied to new passwords.
func (s *SecurityManager) PasswordPolicy() validation.PasswordPolicy {
	return s.passwords.Policy()
}

// Auditor exposes the audit trail for the admin event stream.
func (s *SecurityManager) Auditor() *audit.Auditor {
	return s.auditor
}

// LogEvent records an event raised outside the manager, such as a denied admin request.
func (s *SecurityManager) LogEvent(eventType models.EventType, userID, address string, details map[string]any) {
	s.auditor.Log(eventType, userID, address, details)
}

func (s *SecurityManager) storeError(err error) error {
	var e *apierr.Error
	if errors.As(err, &e) {
		return err
	}
	return apierr.Internal(err)
}
