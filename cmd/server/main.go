package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	appallocation "github.com/katecvn/backoffice/internal/application/allocation"
	"github.com/katecvn/backoffice/internal/infrastructure/auth"
	"github.com/katecvn/backoffice/internal/infrastructure/cache"
	"github.com/katecvn/backoffice/internal/infrastructure/config"
	"github.com/katecvn/backoffice/internal/infrastructure/erpclient"
	"github.com/katecvn/backoffice/internal/infrastructure/logger"
	"github.com/katecvn/backoffice/internal/infrastructure/persistence"
	"github.com/katecvn/backoffice/internal/infrastructure/telemetry"
	"github.com/katecvn/backoffice/internal/interfaces/http/handler"
	"github.com/katecvn/backoffice/internal/interfaces/http/middleware"
	"github.com/katecvn/backoffice/internal/interfaces/http/router"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logCfg := &logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	baseCore, err := logger.NewCore(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	log := zap.New(baseCore, zap.AddCaller())

	ctx := context.Background()

	// Telemetry providers register themselves as otel globals when enabled
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    cfg.App.Version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    cfg.App.Version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	lp, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    cfg.App.Version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	if lp.IsEnabled() {
		log = telemetry.NewBridgedLogger(baseCore, telemetry.NewZapOTELCore(telemetry.ZapBridgeConfig{
			ServiceName:    cfg.Telemetry.ServiceName,
			LoggerProvider: lp,
			Level:          logger.ParseLevel(cfg.Log.Level),
		}), zap.AddCaller())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting backoffice BFF",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("upstream", cfg.Upstream.BaseURL),
	)

	erp, err := erpclient.New(erpclient.Config{
		BaseURL:        cfg.Upstream.BaseURL,
		Timeout:        cfg.Upstream.Timeout,
		MaxRetries:     cfg.Upstream.MaxRetries,
		InitialBackoff: cfg.Upstream.InitialBackoff,
		MaxBackoff:     cfg.Upstream.MaxBackoff,
		RateLimit:      cfg.Upstream.RateLimit,
		RateBurst:      cfg.Upstream.RateBurst,
		UserAgent:      cfg.App.Name + "/" + cfg.App.Version,
	}, log.Named("erpclient"))
	if err != nil {
		log.Fatal("Failed to create ERP client", zap.Error(err))
	}

	backends, err := cache.NewBackends(ctx, cfg.Redis, !cfg.IsProduction(), log)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer func() {
		if err := backends.Close(); err != nil {
			log.Error("Error closing cache backends", zap.Error(err))
		}
	}()

	catalog := cache.NewCachedLotCatalog(erp, backends.LotStore, cfg.Allocation.CatalogCacheTTL, log)

	service := appallocation.NewAllocationService(catalog, erp, appallocation.ServiceConfig{
		SessionTTL:      cfg.Allocation.SessionTTL,
		JanitorInterval: cfg.Allocation.JanitorInterval,
		SubmitLockTTL:   cfg.Allocation.SubmitLockTTL,
	}, log.Named("allocation"))
	service.SetSubmitGuard(backends.SubmitGuard)
	service.SetCatalogInvalidator(catalog)

	if mp.IsEnabled() {
		metrics, err := telemetry.NewAllocationMetrics(mp.Meter("allocation"))
		if err != nil {
			log.Fatal("Failed to create allocation metrics", zap.Error(err))
		}
		service.SetMetrics(metrics)
	}

	systemHandler := handler.NewSystemHandler(cfg.App.Name, cfg.App.Version)
	if cfg.Redis.Enabled() {
		systemHandler.AddCheck("redis", backends.Ping)
	}

	var db *persistence.Database
	if cfg.Database.Enabled() {
		db, err = persistence.NewDatabase(cfg.Database, persistence.Options{
			Logger:        log,
			LogLevel:      logger.MapGormLogLevel(cfg.Log.Level),
			SlowThreshold: cfg.Telemetry.DBSlowQueryThresh,
			Tracing: telemetry.DBTracingConfig{
				Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
				LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
				SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
				DBSystem:        "postgresql",
			},
		})
		if err != nil {
			log.Fatal("Failed to connect to audit database", zap.Error(err))
		}
		auditRepo := persistence.NewGormAuditRepository(db.DB)
		service.SetAuditRecorder(auditRepo)
		service.SetAuditReader(auditRepo)
		systemHandler.AddCheck("database", func(context.Context) error { return db.Ping() })
		log.Info("Audit database connected")
	} else {
		log.Info("Audit database not configured, commit audit trail disabled")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("Invalid trusted proxies", zap.Error(err))
	}

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	if len(cfg.HTTP.CORSAllowMethods) > 0 {
		corsCfg.AllowMethods = cfg.HTTP.CORSAllowMethods
	}
	if len(cfg.HTTP.CORSAllowHeaders) > 0 {
		corsCfg.AllowHeaders = cfg.HTTP.CORSAllowHeaders
	}

	secCfg := middleware.DefaultSecurityConfig()
	secCfg.HSTSEnabled = cfg.IsProduction()

	engine.Use(
		middleware.RequestID(),
		logger.Recovery(log),
		logger.GinMiddleware(log),
		middleware.TracingWithConfig(middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     tp.IsEnabled(),
		}),
		middleware.SpanErrorMarker(),
		middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
			MeterProvider: mp,
			Enabled:       true,
			Logger:        log,
		}),
		middleware.SecureWithConfig(secCfg),
		middleware.CORSWithConfig(corsCfg),
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
	)

	engine.GET("/health", systemHandler.Health)

	validator := auth.NewJWTValidator(cfg.JWT)
	jwtCfg := middleware.DefaultJWTConfig(validator)
	jwtCfg.Logger = log

	r := router.NewRouter(engine, router.WithAPIVersion("v1"))
	r.Use(middleware.JWTAuthWithConfig(jwtCfg), middleware.TracingAttributeInjector())

	var limiter *middleware.RateLimiter
	if cfg.HTTP.RateLimitEnabled {
		limiter = middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
		r.Use(middleware.RateLimit(limiter))
	}

	allocationHandler := handler.NewAllocationHandler(service)
	r.Register(router.AllocationRoutes(allocationHandler)).
		Register(router.AuditRoutes(allocationHandler)).
		Register(router.PermissionRoutes(allocationHandler))
	r.Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if limiter != nil {
		limiter.Stop()
	}
	if err := service.Shutdown(); err != nil {
		log.Error("Error stopping allocation sessions", zap.Error(err))
	}
	if db != nil {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}

	// Providers flush last so shutdown logs and spans are exported
	telemetryCtx, telemetryCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer telemetryCancel()
	if err := tp.Shutdown(telemetryCtx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}
	if err := mp.Shutdown(telemetryCtx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}
	if err := lp.Shutdown(telemetryCtx); err != nil {
		log.Error("Error shutting down logger provider", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
