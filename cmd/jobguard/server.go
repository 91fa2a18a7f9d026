package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/victorgomez09/jobguard/internal/auth/audit"
	"github.com/victorgomez09/jobguard/internal/auth/database"
	"github.com/victorgomez09/jobguard/internal/auth/password"
	"github.com/victorgomez09/jobguard/internal/auth/ratelimit"
	"github.com/victorgomez09/jobguard/internal/auth/service"
	"github.com/victorgomez09/jobguard/internal/auth/token"
	"github.com/victorgomez09/jobguard/internal/auth/validation"
	"github.com/victorgomez09/jobguard/internal/config"
	"github.com/victorgomez09/jobguard/internal/health"
	"github.com/victorgomez09/jobguard/internal/logger"
	"github.com/victorgomez09/jobguard/internal/metrics"
	"github.com/victorgomez09/jobguard/internal/server"
	"github.com/victorgomez09/jobguard/internal/shutdown"
	"github.com/victorgomez09/jobguard/internal/store"
	"github.com/victorgomez09/jobguard/internal/store/redisstore"
)

const (
	metricsNamespace    = "jobguard"
	janitorInterval     = time.Minute
	healthCheckInterval = 30 * time.Second
	healthCheckTimeout  = 2 * time.Second
)

// Application is the assembled process: the HTTP server plus the background
// workers it depends on.
type Application struct {
	server   *server.Server
	janitor  *store.Janitor
	shutdown *shutdown.Manager
	ctx      context.Context
	logger   *zap.Logger
}

// Start launches the janitor and the HTTP server.
func (a *Application) Start() error {
	ctx, cancel := context.WithCancel(a.ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.janitor.Run(ctx)
	}()
	a.shutdown.RegisterShutdown("janitor", func(ctx context.Context) error {
		cancel()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if err := a.server.Start(); err != nil {
		return err
	}
	a.shutdown.RegisterShutdown("http server", a.server.Shutdown)
	return nil
}

// Shutdown runs every registered hook, newest first.
func (a *Application) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down")
	return a.shutdown.Shutdown(ctx)
}

type ServerBuilder struct {
	config     *config.Config
	logger     *zap.Logger
	logManager *logger.LoggerManager
	metrics    *metrics.Metrics
	shutdown   *shutdown.Manager
	health     *health.Checker
	janitor    *store.Janitor
}

func NewServerBuilder(cfg *config.Config, logger *zap.Logger, logManager *logger.LoggerManager) *ServerBuilder {
	return &ServerBuilder{
		config:     cfg,
		logger:     logger,
		logManager: logManager,
		metrics:    metrics.New(metricsNamespace),
		shutdown:   shutdown.NewManager(logger),
		health:     health.NewChecker(healthCheckInterval, healthCheckTimeout, logger.Named("health")),
		janitor:    store.NewJanitor(janitorInterval, logger.Named("janitor")),
	}
}

// Build wires the stores, the security core and the HTTP server. Hooks are
// registered as components come up so a failure halfway still releases what
// was opened.
func (sb *ServerBuilder) Build(ctx context.Context, errChan chan<- error) (*Application, error) {
	sb.shutdown.RegisterShutdown("loggers", func(context.Context) error {
		_ = sb.logManager.Sync()
		return sb.logManager.Close()
	})

	db, err := database.NewSQLiteDB(sb.config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	sb.shutdown.RegisterShutdown("sqlite db", func(context.Context) error { return db.Close() })
	sb.health.Register("database", true, db.Ping)

	stores, err := sb.buildStores(ctx)
	if err != nil {
		return nil, err
	}

	auditor, err := sb.buildAuditor(db, stores.audit)
	if err != nil {
		return nil, err
	}
	sb.shutdown.RegisterShutdown("auditor", auditor.Close)

	retention := time.Duration(sb.config.Audit.RetentionDays) * 24 * time.Hour
	sb.janitor.AddTask("security_events", func(ctx context.Context) (int64, error) {
		return db.PurgeEvents(ctx, time.Now().Add(-retention))
	})

	security, err := sb.buildSecurityManager(db, stores, auditor)
	if err != nil {
		return nil, err
	}

	srv, err := server.NewServer(ctx, errChan, server.Options{
		Config:    sb.config,
		Security:  security,
		Health:    sb.health,
		Metrics:   sb.metrics,
		Logger:    sb.logger,
		AccessLog: sb.logManager.Logger(logger.HTTPName),
	})
	if err != nil {
		return nil, err
	}

	return &Application{
		server:   srv,
		janitor:  sb.janitor,
		shutdown: sb.shutdown,
		ctx:      ctx,
		logger:   sb.logger,
	}, nil
}

type storeSet struct {
	sessions   store.SessionStore
	blacklist  store.BlacklistStore
	rateLimits store.RateLimitStore
	audit      store.AuditStore // nil without a shared cache
}

// buildStores returns in-process stores, fronted by Redis when a URL is
// configured. A shared cache that cannot be reached at startup is fatal;
// later outages degrade to local state.
func (sb *ServerBuilder) buildStores(ctx context.Context) (storeSet, error) {
	localSessions := store.NewMemorySessions(nil)
	localBlacklist := store.NewMemoryBlacklist(nil)
	localRateLimits := store.NewMemoryRateLimits(nil)
	sb.janitor.AddSweeper("sessions", localSessions)
	sb.janitor.AddSweeper("blacklist", localBlacklist)
	sb.janitor.AddSweeper("rate_limits", localRateLimits)

	rc := sb.config.Redis
	if rc.URL == "" {
		sb.logger.Info("No shared cache configured, keeping ephemeral state in process")
		sb.health.Disable("redis")
		return storeSet{sessions: localSessions, blacklist: localBlacklist, rateLimits: localRateLimits}, nil
	}

	client, err := redisstore.Connect(ctx, redisstore.Config{
		URL:          rc.URL,
		PoolSize:     rc.PoolSize,
		DialTimeout:  rc.DialTimeout,
		ReadTimeout:  rc.OpTimeout,
		WriteTimeout: rc.OpTimeout,
	}, sb.logger.Named("redis"))
	if err != nil {
		return storeSet{}, err
	}
	sb.shutdown.RegisterShutdown("redis client", func(context.Context) error { return client.Close() })
	sb.health.Register("redis", false, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})

	opts := store.FallbackOptions{
		Timeout:      rc.OpTimeout,
		Breaker:      store.NewBreaker(rc.BreakerThreshold, rc.BreakerCooldown, nil),
		Logger:       sb.logger.Named("store"),
		OnFallback:   sb.metrics.StoreFallback,
		TombstoneTTL: sb.config.Auth.RefreshTTL(),
	}
	sessions := store.NewFallbackSessions(redisstore.NewSessions(client, sb.sessionIndexTTL()), localSessions, opts)
	sb.janitor.AddTask("session_tombstones", sessions.Replay)

	return storeSet{
		sessions:   sessions,
		blacklist:  store.NewFallbackBlacklist(redisstore.NewBlacklist(client), localBlacklist, opts),
		rateLimits: store.NewFallbackRateLimits(redisstore.NewRateLimits(client), localRateLimits, opts),
		audit:      sb.redisAudit(client),
	}, nil
}

// sessionIndexTTL keeps the per-user session index as long as a refresh token lives.
func (sb *ServerBuilder) sessionIndexTTL() time.Duration {
	return sb.config.Auth.RefreshTTL()
}

func (sb *ServerBuilder) redisAudit(client redis.UniversalClient) store.AuditStore {
	return redisstore.NewAudit(client, time.Duration(sb.config.Audit.RetentionDays)*24*time.Hour)
}

func (sb *ServerBuilder) buildAuditor(db *database.SQLiteDB, shared store.AuditStore) (*audit.Auditor, error) {
	ac := sb.config.Audit
	alerter, err := audit.NewAlerter(audit.AlertingConfig{
		Enabled:     ac.Alerting.Enabled,
		SMTPHost:    ac.Alerting.SMTPHost,
		SMTPPort:    ac.Alerting.SMTPPort,
		FromEmail:   ac.Alerting.FromEmail,
		FromPass:    ac.Alerting.FromPass,
		ToEmails:    ac.Alerting.ToEmails,
		MinInterval: ac.Alerting.MinInterval,
	}, sb.logger.Named("alert"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize alerting: %w", err)
	}

	sinks := []store.AuditStore{db}
	if shared != nil {
		sinks = append(sinks, shared)
	}
	return audit.New(audit.Config{
		RingSize:         ac.RingSize,
		QueueSize:        ac.QueueSize,
		AlertMinInterval: ac.Alerting.MinInterval,
	}, sinks, alerter, sb.logManager.Logger(logger.SecurityName), sb.metrics), nil
}

func (sb *ServerBuilder) buildSecurityManager(db *database.SQLiteDB, stores storeSet, auditor *audit.Auditor) (*service.SecurityManager, error) {
	ac := sb.config.Auth

	tokens, err := token.NewManager(token.Config{
		Secret:         []byte(ac.SecretKey),
		Issuer:         ac.Issuer,
		AccessTTL:      ac.AccessTTL(),
		RefreshTTL:     ac.RefreshTTL(),
		SessionTimeout: ac.SessionTimeout(),
	}, stores.sessions, stores.blacklist, sb.logger.Named("token"), sb.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token manager: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		MaxAttempts: ac.MaxAttempts,
		Window:      ac.LockoutDuration(),
	}, stores.rateLimits, sb.logger.Named("ratelimit"), sb.metrics)

	iterations := ac.HashIterations
	if iterations == 0 {
		iterations = password.DefaultIterations
	}

	policy := validation.DefaultPasswordPolicy(ac.PasswordMinLength)
	policy.PreventSequential = ac.PreventSequential

	return service.NewSecurityManager(service.Config{
		PasswordPolicy:  policy,
		PasswordHistory: ac.PasswordHistory,
	}, db, password.NewHasher(iterations), tokens, limiter, auditor, sb.logger.Named("security"), sb.metrics)
}

func initializeApp(
	ctx context.Context,
	cfg *config.Config,
	errChan chan error,
	zLog *zap.Logger,
	logManager *logger.LoggerManager,
) *Application {
	builder := NewServerBuilder(cfg, zLog, logManager)
	app, err := builder.Build(ctx, errChan)
	if err != nil {
		// release whatever was opened before the failure
		_ = builder.shutdown.Shutdown(context.Background())
		zLog.Fatal("Failed to initialize server", zap.Error(err))
	}
	return app
}
