// Package server wires the metering pipeline into an HTTP server.
package server

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/meterline/meterline/internal/billing"
	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/enforcer"
	"github.com/meterline/meterline/internal/flags"
	"github.com/meterline/meterline/internal/health"
	"github.com/meterline/meterline/internal/idgen"
	"github.com/meterline/meterline/internal/logging"
	"github.com/meterline/meterline/internal/metrics"
	"github.com/meterline/meterline/internal/plan"
	"github.com/meterline/meterline/internal/ratelimit"
	"github.com/meterline/meterline/internal/retry"
	"github.com/meterline/meterline/internal/security"
	"github.com/meterline/meterline/internal/subscription"
	"github.com/meterline/meterline/internal/tenant"
	"github.com/meterline/meterline/internal/traces"
	"github.com/meterline/meterline/internal/usage"
	"github.com/meterline/meterline/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg        *config.Config
	tenants    tenant.Store
	catalog    *plan.Catalog
	subs       subscription.Store
	ledger     *usage.Ledger
	aggregator *usage.Aggregator
	flagSvc    *flags.Service
	enforcer   *enforcer.Enforcer
	reconciler *billing.Reconciler
	billingEvs billing.EventStore
	verifier   billing.Verifier

	reconcileTimer *usage.Timer
	graceTimer     *billing.GraceTimer
	rateLimiter    *ratelimit.Limiter
	checks         *health.Registry

	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc         // cancels background goroutines started in Run
	stopTraces   func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVerifier sets a custom webhook verifier (for testing)
func WithVerifier(v billing.Verifier) Option {
	return func(s *Server) {
		s.verifier = v
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory.
	var (
		planStore    plan.Store
		usageStore   usage.Store
		flagStore    flags.Store
		billingStore billing.EventStore
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// The database may still be coming up alongside us.
		if err := retry.Do(ctx, 5, 500*time.Millisecond, db.Ping); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.tenants = tenant.NewPostgresStore(db)
		s.subs = subscription.NewPostgresStore(db)
		planStore = plan.NewPostgresStore(db)
		usageStore = usage.NewPostgresStore(db)
		flagStore = flags.NewPostgresStore(db)
		billingStore = billing.NewPostgresStore(db)
		s.checks.Register("database", health.DatabaseChecker("database", db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.tenants = tenant.NewMemoryStore()
		s.subs = subscription.NewMemoryStore()
		planStore = plan.NewMemoryStore()
		usageStore = usage.NewMemoryStore()
		flagStore = flags.NewMemoryStore()
		billingStore = billing.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.catalog = plan.NewCatalog(planStore)
	if err := s.catalog.SeedDefaults(ctx); err != nil {
		s.logger.Warn("failed to seed default plans", "error", err)
	}

	s.ledger = usage.NewLedger(usageStore, cfg.AcceptanceWindow)
	s.aggregator = usage.NewAggregator(usageStore)
	s.flagSvc = flags.NewService(flagStore, s.subs, s.catalog)
	s.enforcer = enforcer.New(s.subs, s.catalog, s.aggregator, s.flagSvc)

	s.billingEvs = billingStore
	s.reconciler = billing.NewReconciler(billingStore, s.subs, s.aggregator)
	if s.verifier == nil {
		if cfg.StripeWebhookSecret != "" {
			s.verifier = billing.NewStripeVerifier(cfg.StripeWebhookSecret)
			s.logger.Info("billing webhooks verified with Stripe signatures")
		} else {
			s.verifier = billing.NewHMACVerifier(cfg.ProviderWebhookSecret)
			s.logger.Info("billing webhooks verified with HMAC signatures")
		}
	}

	s.reconcileTimer = usage.NewTimer(s.aggregator, cfg.ReconcileInterval, s.logger)
	s.graceTimer = billing.NewGraceTimer(s.subs, cfg.PastDueGrace, time.Hour, s.logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Tenant resolution (header, subdomain fallback)
	s.router.Use(tenant.Middleware(s.tenants))

	// Rate limiting, bucketed per tenant
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.MiddlewareWithRPM(s.tenantRPM()))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

// tenantRPM returns a rate limit lookup that honors per-tenant settings
// overrides. Lookups are cached briefly so the hot path stays off the store.
func (s *Server) tenantRPM() ratelimit.RPMFunc {
	type cached struct {
		rpm     int
		expires time.Time
	}
	var mu sync.Mutex
	cache := make(map[string]cached)

	return func(c *gin.Context, tenantID string) int {
		now := time.Now()

		mu.Lock()
		entry, ok := cache[tenantID]
		mu.Unlock()
		if ok && now.Before(entry.expires) {
			return entry.rpm
		}

		rpm := 0
		if t, err := s.tenants.Get(c.Request.Context(), tenantID); err == nil {
			rpm = t.Settings.RateLimitRPM
		}

		mu.Lock()
		cache[tenantID] = cached{rpm: rpm, expires: now.Add(30 * time.Second)}
		if len(cache) > 10000 {
			cache = make(map[string]cached)
		}
		mu.Unlock()

		return rpm
	}
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.Hex(16)
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// adminAuthMiddleware guards the admin API with the X-Admin-Secret header.
// With no secret configured, admin routes are open outside production and
// closed in production.
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := s.cfg.AdminSecret
		if secret == "" {
			if s.cfg.IsProduction() {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":   "admin_disabled",
					"message": "Admin API is disabled (no ADMIN_SECRET configured)",
				})
				return
			}
			c.Next()
			return
		}

		provided := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid admin secret",
			})
			return
		}

		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")

	// Ingest: the hot path. Validates, enforces quota, appends to the ledger.
	ingestHandler := enforcer.NewHandler(s.enforcer, s.ledger, s.aggregator)
	ingestHandler.RegisterRoutes(v1)

	// Usage reads
	usageHandler := usage.NewHandler(s.aggregator)
	usageHandler.RegisterRoutes(v1)

	// Plan catalog reads are public so clients can inspect tiers.
	planHandler := plan.NewHandler(s.catalog)
	planHandler.RegisterPublicRoutes(v1)

	// Billing provider webhook
	billingHandler := billing.NewHandler(s.reconciler, s.verifier, s.billingEvs)
	billingHandler.RegisterRoutes(v1)

	// Admin API
	admin := v1.Group("/admin")
	admin.Use(s.adminAuthMiddleware())
	{
		tenant.NewHandler(s.tenants).RegisterAdminRoutes(admin)
		planHandler.RegisterAdminRoutes(admin)
		subscription.NewHandler(s.subs, s.catalog).RegisterAdminRoutes(admin)
		flags.NewHandler(s.flagSvc.Overrides()).RegisterAdminRoutes(admin)
		billingHandler.RegisterAdminRoutes(admin)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	stopTraces, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.stopTraces = stopTraces
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Aggregator reconciliation sweep
	go s.reconcileTimer.Start(runCtx)

	// Past-due grace sweep
	go s.graceTimer.Start(runCtx)

	// Connection pool gauges
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.reconcileTimer.Stop()
	s.graceTimer.Stop()

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.stopTraces != nil {
		if err := s.stopTraces(ctx); err != nil {
			s.logger.Warn("trace exporter shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
