package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apierr "github.com/victorgomez09/jobguard/internal/auth"
	"github.com/victorgomez09/jobguard/internal/auth/middleware"
	"github.com/victorgomez09/jobguard/internal/auth/models"
	"github.com/victorgomez09/jobguard/internal/auth/service"
	"github.com/victorgomez09/jobguard/internal/auth/validation"
	"github.com/victorgomez09/jobguard/internal/cerr"
	httpmw "github.com/victorgomez09/jobguard/internal/middleware"
)

const maxBodyBytes = 64 << 10

type AuthHandler struct {
	security *service.SecurityManager
	logger   *zap.Logger
}

func NewAuthHandler(security *service.SecurityManager, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{security: security, logger: logger}
}

// Routes registers the /auth endpoints on r. Profile, password and logout
// endpoints run behind authn.
func (h *AuthHandler) Routes(r chi.Router, authn *middleware.AuthMiddleware) {
	r.Post("/login", h.Login)
	r.Post("/verify-token", h.VerifyToken)
	r.Post("/refresh", h.Refresh)
	r.Post("/register", h.Register)
	r.Get("/password-requirements", h.PasswordRequirements)

	r.Group(func(r chi.Router) {
		r.Use(authn.Middleware)
		r.Post("/logout", h.Logout)
		r.Get("/profile", h.Profile)
		r.Put("/profile", h.UpdateProfile)
		r.Post("/change-password", h.ChangePassword)
	})
}

type VerifyResponse struct {
	Valid     bool        `json:"valid"`
	UserID    string      `json:"user_id,omitempty"`
	Email     string      `json:"email,omitempty"`
	Role      models.Role `json:"role,omitempty"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
	Error     string      `json:"error,omitempty"`
	Expired   bool        `json:"expired"`
}

type UserResponse struct {
	User *models.User `json:"user"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type PasswordRequirementsResponse struct {
	Policy       validation.PasswordPolicy `json:"policy"`
	Requirements []string                  `json:"requirements"`
}

var errBadBody = apierr.Validation([]string{"request body must be a JSON object"})

// decodeBody reads a JSON object. An empty body yields an empty map.
func decodeBody(r *http.Request) (map[string]any, error) {
	body := map[string]any{}
	if r.Body == nil {
		return body, nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return body, nil
		}
		return nil, errBadBody
	}
	if body == nil {
		return nil, errBadBody
	}
	return body, nil
}

func stringField(body map[string]any, key string) string {
	s, _ := body[key].(string)
	return s
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		cerr.WriteError(w, err)
		return
	}

	res, err := h.security.Authenticate(r.Context(),
		stringField(body, "email"), stringField(body, "password"), httpmw.ClientIP(r))
	if err != nil {
		cerr.WriteError(w, err)
		return
	}
	cerr.WriteJSON(w, http.StatusOK, res)
}

// VerifyToken checks an access token from the Authorization header or, as a
// fallback, the token field of the body.
func (h *AuthHandler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	tok, ok := middleware.BearerToken(r)
	if !ok {
		body, err := decodeBody(r)
		if err != nil {
			cerr.WriteError(w, err)
			return
		}
		tok = strings.TrimSpace(stringField(body, "token"))
	}
	if tok == "" {
		cerr.WriteJSON(w, http.StatusUnauthorized, VerifyResponse{Error: apierr.ErrUnauthenticated.Message})
		return
	}

	claims, err := h.security.Verify(r.Context(), tok, httpmw.ClientIP(r))
	if err != nil {
		if !apierr.IsTokenError(err) {
			cerr.WriteError(w, err)
			return
		}
		cerr.WriteJSON(w, http.StatusUnauthorized, VerifyResponse{
			Error:   apierr.ErrInvalidToken.Message,
			Expired: errors.Is(err, apierr.ErrExpiredToken) || errors.Is(err, apierr.ErrSessionExpired),
		})
		return
	}

	resp := VerifyResponse{
		Valid:  true,
		UserID: claims.UserID,
		Email:  claims.Email,
		Role:   claims.Role,
	}
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time.UTC()
		resp.ExpiresAt = &exp
	}
	cerr.WriteJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		cerr.WriteError(w, err)
		return
	}
	rt := strings.TrimSpace(stringField(body, "refresh_token"))
	if rt == "" {
		cerr.WriteError(w, apierr.Validation([]string{"refresh_token is required"}))
		return
	}

	res, err := h.security.Refresh(r.Context(), rt, httpmw.ClientIP(r))
	if err != nil {
		cerr.WriteError(w, err)
		return
	}
	cerr.WriteJSON(w, http.StatusOK, res)
}

// Logout must run behind the auth middleware.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		cerr.WriteError(w, err)
		return
	}

	err = h.security.Logout(r.Context(), middleware.TokenFrom(r.Context()),
		strings.TrimSpace(stringField(body, "refresh_token")), httpmw.ClientIP(r))
	if err != nil {
		cerr.WriteError(w, err)
		return
	}
	cerr.WriteJSON(w, http.StatusOK, MessageResponse{Message: "logged out successfully"})
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		cerr.WriteError(w, err)
		return
	}
	if email, ok := body["email"].(string); ok {
		body["email"] = service.NormalizeEmail(email)
	}

	input := validation.ValidateAndSanitize(body, validation.RegisterSchema)
	if !input.Valid {
		cerr.WriteError(w, apierr.Validation(input.Errors))
		return
	}

	user, err := h.security.Register(r.Context(), service.RegisterInput{
		Email:     input.String("email"),
		Password:  input.String("password"),
		FirstName: input.String("first_name"),
		LastName:  input.String("last_name"),
		Company:   input.String("company"),
		Phone:     input.String("phone"),
	}, httpmw.ClientIP(r))
	if err != nil {
		cerr.WriteError(w, err)
		return
	}
	cerr.WriteJSON(w, http.StatusCreated, UserResponse{User: user})
}

func (h *AuthHandler) PasswordRequirements(w http.ResponseWriter, r *http.Request) {
	policy := h.security.PasswordPolicy()
	cerr.WriteJSON(w, http.StatusOK, PasswordRequirementsResponse{
		Policy:       policy,
		Requirements: policy.Describe(),
	})
}

func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		cerr.WriteError(w, apierr.ErrUnauthenticated)
		return
	}

	user, err := h.security.Profile(r.Context(), claims.UserID)
	if err != nil {
		cerr.WriteError(w, err)
		return
	}
	cerr.WriteJSON(w, http.StatusOK, UserResponse{User: user})
}

func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		cerr.WriteError(w, apierr.ErrUnauthenticated)
		return
	}
	body, err := decodeBody(r)
	if err != nil {
		cerr.WriteError(w, err)
		return
	}

	input := validation.ValidateAndSanitize(body, validation.ProfileSchema)
	if !input.Valid {
		cerr.WriteError(w, apierr.Validation(input.Errors))
		return
	}

	// only fields present in the payload are changed
	field := func(name string) *string {
		if _, ok := body[name]; !ok {
			return nil
		}
		v := input.String(name)
		return &v
	}
	user, err := h.security.UpdateProfile(r.Context(), claims.UserID, service.ProfileUpdate{
		FirstName: field("first_name"),
		LastName:  field("last_name"),
		Company:   field("company"),
		Phone:     field("phone"),
	})
	if err != nil {
		cerr.WriteError(w, err)
		return
	}
	cerr.WriteJSON(w, http.StatusOK, UserResponse{User: user})
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		cerr.WriteError(w, apierr.ErrUnauthenticated)
		return
	}
	body, err := decodeBody(r)
	if err != nil {
		cerr.WriteError(w, err)
		return
	}

	input := validation.ValidateAndSanitize(body, validation.ChangePasswordSchema)
	if !input.Valid {
		cerr.WriteError(w, apierr.Validation(input.Errors))
		return
	}

	err = h.security.ChangePassword(r.Context(), claims.UserID,
		input.String("old_password"), input.String("new_password"), httpmw.ClientIP(r))
	if err != nil {
		cerr.WriteError(w, err)
		return
	}
	h.logger.Info("Password changed", zap.String("user_id", claims.UserID))
	cerr.WriteJSON(w, http.StatusOK, MessageResponse{Message: "password changed, please log in again"})
}
