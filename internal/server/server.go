package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/victorgomez09/jobguard/internal/admin"
	authhandlers "github.com/victorgomez09/jobguard/internal/auth/handlers"
	authmw "github.com/victorgomez09/jobguard/internal/auth/middleware"
	"github.com/victorgomez09/jobguard/internal/auth/service"
	"github.com/victorgomez09/jobguard/internal/cerr"
	"github.com/victorgomez09/jobguard/internal/config"
	"github.com/victorgomez09/jobguard/internal/health"
	"github.com/victorgomez09/jobguard/internal/logger"
	"github.com/victorgomez09/jobguard/internal/metrics"
	"github.com/victorgomez09/jobguard/internal/middleware"
	"github.com/victorgomez09/jobguard/pkg/trace"
)

const (
	HealthPath  = "/healthz"
	MetricsPath = "/metrics"
)

// Options holds the components the server is assembled from.
type Options struct {
	Config    *config.Config
	Security  *service.SecurityManager
	Health    *health.Checker  // Optional; /healthz reports ok without it.
	Metrics   *metrics.Metrics // Optional; /metrics is not mounted without it.
	Logger    *zap.Logger      // Process logger.
	AccessLog *zap.Logger      // Receives one line per request. Defaults to Logger.
}

// Server owns the HTTP listener of the auth service and the router behind it.
type Server struct {
	config     *config.Config
	security   *service.SecurityManager
	health     *health.Checker
	metrics    *metrics.Metrics
	router     chi.Router
	httpServer *http.Server
	logger     *zap.Logger
	accessLog  *zap.Logger
	ctx        context.Context    // Context for managing server lifecycle
	cancel     context.CancelFunc // Function to cancel the server context
	wg         sync.WaitGroup     // WaitGroup to wait for goroutines to finish
	errorChan  chan<- error       // Channel to report server errors
	listener   net.Listener
	mu         sync.Mutex
}

// NewServer builds the router and the http.Server. Nothing listens until Start.
func NewServer(srvCtx context.Context, errChan chan<- error, opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("server: config is required")
	}
	if opts.Security == nil {
		return nil, errors.New("server: security manager is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.AccessLog == nil {
		opts.AccessLog = opts.Logger
	}

	tlsConfig, err := newTLSConfig(opts.Config.Server.TLS)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(srvCtx)
	s := &Server{
		config:    opts.Config,
		security:  opts.Security,
		health:    opts.Health,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		accessLog: opts.AccessLog,
		ctx:       ctx,
		cancel:    cancel,
		errorChan: errChan,
	}
	s.router = s.routes()

	srvCfg := opts.Config.Server
	s.httpServer = &http.Server{
		Addr:         listenAddr(srvCfg.Host, srvCfg.Port),
		Handler:      s.router,
		TLSConfig:    tlsConfig,
		ReadTimeout:  srvCfg.ReadTimeout,
		WriteTimeout: srvCfg.WriteTimeout,
		IdleTimeout:  srvCfg.IdleTimeout,
		ErrorLog:     log.New(logger.NewZapWriter(opts.Logger, zapcore.ErrorLevel, "http"), "", 0),
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	return s, nil
}

// routes assembles the global middleware stack followed by the endpoints.
// Request ids come first so that every later log line can carry them.
func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	chain := middleware.NewMiddlewareChain(
		trace.WithRequestID(),
		middleware.NewRecoverMiddleware(s.logger),
		middleware.NewLoggingMiddleware(s.accessLog, middleware.WithExcludePaths(HealthPath, MetricsPath)),
	)
	if s.metrics != nil {
		chain.Use(middleware.NewMetricsMiddleware(s.metrics))
	}
	chain.AddConfiguredMiddlewares(s.config, s.logger, s.metrics)
	r.Use(chain.Handlers()...)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		cerr.WriteJSON(w, http.StatusNotFound, cerr.ErrorResponse{Error: "not found", Code: "not_found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		cerr.WriteJSON(w, http.StatusMethodNotAllowed,
			cerr.ErrorResponse{Error: "method not allowed", Code: "method_not_allowed"})
	})

	r.Get(HealthPath, s.handleHealth)
	if s.metrics != nil {
		r.Handle(MetricsPath, s.metrics.Handler())
	}

	authn := authmw.NewAuthMiddleware(s.security, s.security, s.logger)
	authHandler := authhandlers.NewAuthHandler(s.security, s.logger)
	r.Route("/auth", func(r chi.Router) {
		authHandler.Routes(r, authn)
	})

	if s.config.Admin.Enabled {
		adminAPI := admin.NewAdminAPI(s.config.Admin, s.security, authn, s.logger)
		r.Route("/admin", adminAPI.Routes)
	} else {
		s.logger.Warn("Admin API is not enabled. Bypassing admin routes")
	}
	return r
}

// Handler returns the root handler, used by tests and embedding programs.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HealthResponse is the body of GET /healthz.
type HealthResponse map[string]health.Status

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		cerr.WriteJSON(w, http.StatusOK, HealthResponse{"status": health.StatusOK})
		return
	}
	report := s.health.Check(r.Context())
	status := http.StatusOK
	if report.Status == health.StatusDown {
		status = http.StatusServiceUnavailable
	}
	cerr.WriteJSON(w, status, HealthResponse(report.Fields()))
}

// Start binds the listener and serves in the background. Bind errors are
// returned; later serve errors are sent to the error channel.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	if s.health != nil {
		s.health.Start(s.ctx)
	}

	s.wg.Add(1)
	go s.runServer(ln)
	return nil
}

// Addr returns the bound address once Start succeeded, the configured one otherwise.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// runServer serves on ln until the server is shut down.
// Runs in a separate goroutine
func (s *Server) runServer(ln net.Listener) {
	defer s.wg.Done()

	secure := s.httpServer.TLSConfig != nil
	s.logger.Info("Server started", zap.String("listen_on", ln.Addr().String()), zap.Bool("tls", secure))

	var err error
	if secure {
		// certificates are already loaded into TLSConfig
		err = s.httpServer.ServeTLS(ln, "", "")
	} else {
		err = s.httpServer.Serve(ln)
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Error running server", zap.Error(err))
		defer s.cancel()
		if s.errorChan != nil {
			s.errorChan <- err
		}
		return
	}
	s.logger.Info("Server stopped gracefully")
}

// Shutdown stops accepting connections, waits for in-flight requests within
// ctx and stops the periodic health checks.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	err := s.httpServer.Shutdown(ctx)
	if s.health != nil {
		s.health.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}
