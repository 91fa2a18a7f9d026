package admin

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierr "github.com/victorgomez09/jobguard/internal/auth"
	authmw "github.com/victorgomez09/jobguard/internal/auth/middleware"
	"github.com/victorgomez09/jobguard/internal/auth/models"
	"github.com/victorgomez09/jobguard/internal/cerr"
	"github.com/victorgomez09/jobguard/internal/middleware"
)

type EventsResponse struct {
	Events []models.AuditEvent `json:"events"`
	Count  int                 `json:"count"`
}

type UsersResponse struct {
	Users  []models.User `json:"users"`
	Count  int           `json:"count"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

type StatusResponse struct {
	UserID string `json:"user_id"`
	Active bool   `json:"active"`
}

// queryInt reads a non-negative integer query parameter capped at max.
func queryInt(r *http.Request, name string, def, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apierr.Validation([]string{fmt.Sprintf("%s must be a non-negative integer", name)})
	}
	if max > 0 && n > max {
		n = max
	}
	return n, nil
}

// handleSecurityEvents returns recent audit events, newest first.
func (a *AdminAPI) handleSecurityEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultEventLimit, maxEventLimit)
	if err != nil {
		cerr.WriteError(w, err)
		return
	}
	if limit == 0 {
		limit = defaultEventLimit
	}

	events, err := a.security.RecentEvents(r.Context(), limit)
	if err != nil {
		cerr.WriteError(w, err)
		return
	}
	if events == nil {
		events = []models.AuditEvent{}
	}
	cerr.WriteJSON(w, http.StatusOK, EventsResponse{Events: events, Count: len(events)})
}

func (a *AdminAPI) handleUsers(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultUserLimit, maxUserLimit)
	if err != nil {
		cerr.WriteError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0, 0)
	if err != nil {
		cerr.WriteError(w, err)
		return
	}
	if limit == 0 {
		limit = defaultUserLimit
	}

	users, err := a.security.ListUsers(r.Context(), limit, offset)
	if err != nil {
		cerr.WriteError(w, err)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	cerr.WriteJSON(w, http.StatusOK, UsersResponse{Users: users, Count: len(users), Limit: limit, Offset: offset})
}

// handleUserStatus enables or disables an account. Disabling ends its sessions.
func (a *AdminAPI) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	claims, ok := authmw.PrincipalFrom(r.Context())
	if !ok {
		cerr.WriteError(w, apierr.ErrUnauthenticated)
		return
	}

	var req StatusRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		cerr.WriteError(w, err)
		return
	}

	userID := chi.URLParam(r, "id")
	if userID == claims.UserID && !*req.Active {
		cerr.WriteError(w, apierr.Validation([]string{"active: admins cannot disable their own account"}))
		return
	}

	if err := a.security.SetUserActive(r.Context(), claims.UserID, userID, *req.Active, middleware.ClientIP(r)); err != nil {
		cerr.WriteError(w, err)
		return
	}
	cerr.WriteJSON(w, http.StatusOK, StatusResponse{UserID: userID, Active: *req.Active})
}
