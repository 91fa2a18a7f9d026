package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	apierr "github.com/victorgomez09/jobguard/internal/auth"
	"github.com/victorgomez09/jobguard/internal/auth/models"
	"github.com/victorgomez09/jobguard/internal/auth/token"
	"github.com/victorgomez09/jobguard/internal/cerr"
	httpmw "github.com/victorgomez09/jobguard/internal/middleware"
)

type contextKey string

const (
	principalKey contextKey = "principal"
	tokenKey     contextKey = "bearer_token"
)

// Verifier checks a bearer access token. Failures are expected to be audited by the verifier.
type Verifier interface {
	Verify(ctx context.Context, tokenString, address string) (*token.Claims, error)
}

// EventLogger records security events raised by the guards.
type EventLogger interface {
	LogEvent(eventType models.EventType, userID, address string, details map[string]any)
}

type AuthMiddleware struct {
	verifier Verifier
	events   EventLogger
	logger   *zap.Logger
}

func NewAuthMiddleware(verifier Verifier, events EventLogger, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{verifier: verifier, events: events, logger: logger}
}

// BearerToken returns the token of an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

// Middleware rejects requests without a valid access token and stores the
// verified claims in the request context.
func (m *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := BearerToken(r)
		if !ok {
			cerr.WriteError(w, apierr.ErrUnauthenticated)
			return
		}

		claims, err := m.verifier.Verify(r.Context(), tok, httpmw.ClientIP(r))
		if err != nil {
			m.logger.Debug("Rejected bearer token",
				zap.String("path", r.URL.Path),
				zap.String("reason", string(apierr.CodeOf(err))))
			cerr.WriteError(w, err)
			return
		}

		ctx := WithPrincipal(r.Context(), claims)
		ctx = context.WithValue(ctx, tokenKey, tok)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole admits principals holding one of roles. Admins pass every guard.
// It must run after Middleware.
func (m *AuthMiddleware) RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := PrincipalFrom(r.Context())
			if !ok {
				cerr.WriteError(w, apierr.ErrUnauthenticated)
				return
			}
			if !HasRole(claims.Role, roles...) {
				if m.events != nil {
					m.events.LogEvent(models.EventUnauthorizedAccess, claims.UserID, httpmw.ClientIP(r), map[string]any{
						"path":   r.URL.Path,
						"method": r.Method,
						"role":   string(claims.Role),
					})
				}
				cerr.WriteError(w, apierr.ErrInsufficientRole)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HasRole reports whether role satisfies any of required.
func HasRole(role models.Role, required ...models.Role) bool {
	if role == models.RoleAdmin {
		return true
	}
	for _, r := range required {
		if role == r {
			return true
		}
	}
	return false
}

// PrincipalFrom returns the claims stored by the auth middleware.
func PrincipalFrom(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(principalKey).(*token.Claims)
	return claims, ok && claims != nil
}

// TokenFrom returns the raw bearer token the principal was verified from.
func TokenFrom(ctx context.Context) string {
	tok, _ := ctx.Value(tokenKey).(string)
	return tok
}

// WithPrincipal stores claims in ctx where PrincipalFrom and RequireRole find them.
func WithPrincipal(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, principalKey, claims)
}
