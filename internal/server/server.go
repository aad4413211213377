// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/cadogy/token-service/internal/admin"
	"github.com/cadogy/token-service/internal/auth"
	"github.com/cadogy/token-service/internal/checkout"
	"github.com/cadogy/token-service/internal/config"
	"github.com/cadogy/token-service/internal/content"
	"github.com/cadogy/token-service/internal/health"
	"github.com/cadogy/token-service/internal/ledger"
	"github.com/cadogy/token-service/internal/logging"
	"github.com/cadogy/token-service/internal/mailer"
	"github.com/cadogy/token-service/internal/metrics"
	"github.com/cadogy/token-service/internal/ratelimit"
	"github.com/cadogy/token-service/internal/realtime"
	"github.com/cadogy/token-service/internal/security"
	"github.com/cadogy/token-service/internal/traces"
	"github.com/cadogy/token-service/internal/user"
	"github.com/cadogy/token-service/internal/validation"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	users       user.Store
	ledgerStore ledger.Store
	ledgerSvc   *ledger.Service
	authMgr     *auth.Manager
	processor   *checkout.Processor
	creator     checkout.SessionCreator
	contentAPI  *content.Cached
	realtimeHub *realtime.Hub
	mail        mailer.Mailer
	rateLimiter *ratelimit.Limiter
	healthReg   *health.Registry
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	cancelRunCtx   context.CancelFunc         // cancels background goroutines started in Run
	shutdownTraces func(context.Context) error

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

// WithMailer sets a custom mailer (for testing)
func WithMailer(m mailer.Mailer) Option {
	return func(s *Server) {
		s.mail = m
	}
}

// WithSessionCreator sets a custom checkout session creator (for testing)
func WithSessionCreator(c checkout.SessionCreator) Option {
	return func(s *Server) {
		s.creator = c
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		healthReg: health.NewRegistry(),
	}

	// Apply options first (may set logger/mailer/creator)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var keyStore auth.KeyStore
	var sessionStore auth.SessionStore
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.users = user.NewPostgresStore(db)
		s.ledgerStore = ledger.NewPostgresStore(db)
		keyStore = auth.NewPostgresKeyStore(db)
		sessionStore = auth.NewPostgresSessionStore(db)
		s.healthReg.Register("database", health.DatabaseChecker(db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.users = user.NewMemoryStore()
		s.ledgerStore = ledger.NewMemoryStore()
		keyStore = auth.NewMemoryKeyStore()
		sessionStore = auth.NewMemorySessionStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Realtime hub receives every committed ledger entry.
	s.realtimeHub = realtime.NewHub(s.logger)

	s.ledgerSvc = ledger.NewService(s.users, s.ledgerStore, s.logger, s.realtimeHub)
	s.authMgr = auth.NewManager(keyStore, sessionStore, cfg.AdminSessionSecret,
		time.Duration(cfg.SessionTTLHours)*time.Hour)

	if s.mail == nil {
		// No delivery sink wired yet; confirmations go to the log.
		s.mail = mailer.NewSlogMailer(s.logger)
	}
	s.processor = checkout.NewProcessor(s.ledgerSvc, s.mail, s.logger)

	if s.creator == nil && cfg.StripeSecretKey != "" {
		s.creator = checkout.NewStripeCreator(cfg.StripeSecretKey, cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL)
		s.logger.Info("stripe checkout enabled")
	}
	if cfg.StripeWebhookSecret == "" {
		s.logger.Warn("STRIPE_WEBHOOK_SECRET not set, webhook endpoint disabled")
	}
	if s.creator != nil {
		s.healthReg.Register("stripe", health.StaticChecker("stripe", true, ""))
	} else {
		s.healthReg.Register("stripe", health.StaticChecker("stripe", false, "not configured"))
	}

	s.contentAPI = content.NewCached(content.NewHTTPClient(cfg.ContentAPIURL), content.DefaultCacheTTL)

	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.shutdownTraces = shutdownTraces
	}

	// Configure gin
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

	// CORS for the dashboard origin
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
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

		// Log level based on status code
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

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket ledger feed
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	authed := auth.Middleware(s.authMgr, s.users)

	api := s.router.Group("/api")
	api.Use(authed)

	// Account signup and self-service token views
	api.POST("/users", s.createUser)
	me := api.Group("/users/me", auth.RequireAuth())
	me.GET("", s.currentUser)
	me.GET("/tokens", s.tokenUsage)

	// Credentials
	authHandler := auth.NewHandler(s.authMgr, s.cfg.AdminSessionSecret)
	authHandler.RegisterRoutes(api.Group("/auth"))

	// Checkout (package list is public, purchase requires auth)
	checkoutHandler := checkout.NewHandler(s.processor, s.creator, checkout.DefaultCatalog(),
		s.cfg.StripeWebhookSecret, s.logger)
	checkoutHandler.RegisterRoutes(api.Group("/checkout"))
	if s.cfg.StripeWebhookSecret != "" {
		// Webhooks authenticate by signature, not session; registered outside /api.
		checkoutHandler.RegisterWebhook(s.router.Group("/webhooks"))
	}

	// Admin balance adjustments and the audit trail
	adminHandler := admin.NewHandler(s.ledgerSvc, s.users, s.logger)
	adminHandler.RegisterRoutes(api.Group("/admin"))

	// Cached marketing/blog content for the dashboard
	contentHandler := content.NewHandler(s.contentAPI, s.logger)
	contentHandler.RegisterRoutes(api.Group("/content"))
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.healthReg.CheckAll(c.Request.Context())

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

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

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
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Expired-session sweeper
	go s.sweepSessions(runCtx)

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

// sweepSessions deletes expired sessions hourly.
func (s *Server) sweepSessions(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := s.authMgr.SweepSessions(ctx)
			if err != nil {
				s.logger.Warn("session sweep failed", "error", err)
			} else if n > 0 {
				s.logger.Info("expired sessions removed", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for background goroutines (hub, sweeper)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err)
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

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
