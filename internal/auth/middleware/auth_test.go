package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierr "github.com/victorgomez09/jobguard/internal/auth"
	"github.com/victorgomez09/jobguard/internal/auth/models"
	"github.com/victorgomez09/jobguard/internal/auth/token"
	"github.com/victorgomez09/jobguard/internal/cerr"
)

type fakeVerifier map[string]*token.Claims

func (f fakeVerifier) Verify(_ context.Context, tok, _ string) (*token.Claims, error) {
	if c, ok := f[tok]; ok {
		return c, nil
	}
	return nil, apierr.ErrExpiredToken
}

type recordedEvents struct {
	mu     sync.Mutex
	events []models.EventType
}

func (r *recordedEvents) LogEvent(t models.EventType, _, _ string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, t)
}

func newTestMiddleware() (*AuthMiddleware, *recordedEvents) {
	events := &recordedEvents{}
	verifier := fakeVerifier{
		"user-token":  {UserID: "u1", Role: models.RoleUser, Type: token.TypeAccess},
		"admin-token": {UserID: "a1", Role: models.RoleAdmin, Type: token.TypeAccess},
	}
	return NewAuthMiddleware(verifier, events, nil), events
}

func echoPrincipal() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := PrincipalFrom(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.Header().Set("X-User", claims.UserID)
		w.Header().Set("X-Token", TokenFrom(r.Context()))
	})
}

func TestAuthMiddleware(t *testing.T) {
	mw, _ := newTestMiddleware()
	h := mw.Middleware(echoPrincipal())

	tests := []struct {
		name   string
		header string
		status int
		code   string
		user   string
	}{
		{name: "missing", header: "", status: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz", status: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "empty token", header: "Bearer ", status: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "rejected token", header: "Bearer stale", status: http.StatusUnauthorized, code: "invalid_token"},
		{name: "valid", header: "Bearer user-token", status: http.StatusOK, user: "u1"},
		{name: "scheme is case insensitive", header: "bearer user-token", status: http.StatusOK, user: "u1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.code != "" {
				var body cerr.ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.code, body.Code)
			}
			if tt.user != "" {
				assert.Equal(t, tt.user, rec.Header().Get("X-User"))
				assert.Equal(t, "user-token", rec.Header().Get("X-Token"))
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	mw, events := newTestMiddleware()
	h := mw.Middleware(mw.RequireRole(models.RoleAdmin)(echoPrincipal()))

	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.Header.Set("Authorization", "Bearer user-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient_role")
	assert.Equal(t, []models.EventType{models.EventUnauthorizedAccess}, events.events)

	req = httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a1", rec.Header().Get("X-User"))
}

func TestRequireRole_WithoutPrincipal(t *testing.T) {
	mw, _ := newTestMiddleware()
	rec := httptest.NewRecorder()
	mw.RequireRole(models.RoleUser)(echoPrincipal()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole_WithPrincipal(t *testing.T) {
	mw, _ := newTestMiddleware()
	h := mw.RequireRole(models.RoleUser)(echoPrincipal())

	ctx := WithPrincipal(context.Background(), &token.Claims{UserID: "u9", Role: models.RoleUser})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u9", rec.Header().Get("X-User"))

	ctx = WithPrincipal(context.Background(), nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "nil claims are not a principal")
}

func TestHasRole(t *testing.T) {
	assert.True(t, HasRole(models.RoleAdmin, models.RoleUser))
	assert.True(t, HasRole(models.RoleUser, models.RoleUser))
	assert.False(t, HasRole(models.RoleUser, models.RoleAdmin))
	assert.False(t, HasRole(models.RoleUser))
}
