package admin

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	admin "github.com/victorgomez09/jobguard/internal/admin/middleware"
	authmw "github.com/victorgomez09/jobguard/internal/auth/middleware"
	"github.com/victorgomez09/jobguard/internal/auth/models"
	"github.com/victorgomez09/jobguard/internal/auth/service"
	"github.com/victorgomez09/jobguard/internal/config"
	"github.com/victorgomez09/jobguard/internal/middleware"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
	defaultUserLimit  = 50
	maxUserLimit      = 500

	streamBuffer = 64
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// AdminAPI serves the security event log and user administration endpoints.
type AdminAPI struct {
	cfg      config.Admin
	security *service.SecurityManager
	authn    *authmw.AuthMiddleware
	upgrader websocket.Upgrader
	logger   *zap.Logger

	pingInterval time.Duration
}

// NewAdminAPI creates a new instance of AdminAPI. Every route requires an
// admin access token.
func NewAdminAPI(cfg config.Admin, security *service.SecurityManager, authn *authmw.AuthMiddleware, logger *zap.Logger) *AdminAPI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminAPI{
		cfg:      cfg,
		security: security,
		authn:    authn,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the stream is reachable only with an admin token; origins are checked by CORS
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:       logger,
		pingInterval: pingInterval,
	}
}

// Routes registers the admin endpoints on r.
func (a *AdminAPI) Routes(r chi.Router) {
	chain := middleware.NewMiddlewareChain(
		admin.NewHostnameMiddleware(a.cfg.Host, a.logger),
		admin.NewIPRestrictionMiddleware(a.cfg.AllowedIPs, a.logger),
		a.authn,
		middleware.Func(a.authn.RequireRole(models.RoleAdmin)),
		admin.NewAccessLogMiddleware(a.logger),
	)
	r.Use(chain.Handlers()...)

	r.Get("/security-events", a.handleSecurityEvents)
	r.Get("/security-events/stream", a.handleEventStream)
	r.Get("/users", a.handleUsers)
	r.Put("/users/{id}/status", a.handleUserStatus)
}
