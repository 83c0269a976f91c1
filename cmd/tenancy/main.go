package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenancy/pkg/api"
	"github.com/platinummonkey/tenancy/pkg/async"
	"github.com/platinummonkey/tenancy/pkg/audit"
	"github.com/platinummonkey/tenancy/pkg/auth"
	"github.com/platinummonkey/tenancy/pkg/billing"
	"github.com/platinummonkey/tenancy/pkg/config"
	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/middleware"
	"github.com/platinummonkey/tenancy/pkg/notify"
	"github.com/platinummonkey/tenancy/pkg/observability"
	"github.com/platinummonkey/tenancy/pkg/onboarding"
	"github.com/platinummonkey/tenancy/pkg/plans"
	"github.com/platinummonkey/tenancy/pkg/storage"
	"github.com/platinummonkey/tenancy/pkg/tasks"
	"github.com/platinummonkey/tenancy/pkg/teams"
	"github.com/platinummonkey/tenancy/pkg/tenants"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)
	log := observability.NewComponentLogger(cfg.Observability.Level(), os.Stdout, cfg.Observability.LogFormat != "text")

	if err := run(cfg, logger, log); err != nil {
		logger.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger, log *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return err
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	if err := database.RunMigrations(ctx, db, log); err != nil {
		db.Close()
		return err
	}
	logger.Info("Database ready")

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = storage.NewRedisClient(ctx, cfg.Redis.RedisConfig)
		if err != nil {
			db.Close()
			return err
		}
		logger.Info("Redis connected")
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var promMetrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		promMetrics = observability.NewMetrics(registry)
		go reportDBStats(ctx, db, promMetrics, log)
	}
	var otelMetrics *observability.OTelMetrics
	if otelProviders != nil {
		if otelMetrics, err = observability.NewOTelMetrics(); err != nil {
			logger.WithError(err).Warn("Failed to create OpenTelemetry instruments")
		}
	}
	observer := observability.NewObserver(promMetrics, otelMetrics)

	// Audit trail
	dbAudit, err := audit.NewDBLogger(db)
	if err != nil {
		return err
	}
	var auditLogger audit.Logger = dbAudit
	if cfg.Audit.File.BasePath != "" {
		fileAudit, err := audit.NewFileLogger(cfg.Audit.File)
		if err != nil {
			return err
		}
		multi := audit.NewMultiLogger(dbAudit, fileAudit)
		multi.SetAsync(true)
		auditLogger = multi
	}
	recorder := audit.NewRecorder(auditLogger, log)

	// Notifications
	var sender notify.Sender = notify.NewLogSender(log)
	if cfg.Email.SMTP.Host != "" {
		smtpSender, err := notify.NewSMTPSender(cfg.Email.SMTP)
		if err != nil {
			return err
		}
		sender = smtpSender
	}
	emailPool := async.NewWorkerPool(ctx, async.PoolConfig{
		Name:      "email",
		Workers:   cfg.Email.Workers,
		QueueSize: cfg.Email.QueueSize,
		Timeout:   cfg.Server.WriteTimeout,
	}, log)
	notifier := notify.NewDispatcher(notify.NewPostgresTemplateStore(db), sender, emailPool, log, observer)

	// Services
	tenantSvc := tenants.NewPostgresService(db)
	planSvc := plans.NewPostgresService(db)
	catalog := plans.NewCatalog(planSvc, cfg.Tenancy.PlanCacheSize, cfg.Tenancy.PlanCacheTTL)
	billingSvc := billing.NewPostgresService(db, billing.Options{
		Catalog:       catalog,
		Store:         store,
		Recorder:      recorder,
		Notifier:      notifier,
		Observer:      observer,
		Logger:        log,
		WebhookSecret: cfg.Gateway.WebhookSecret,
		BaseDomain:    cfg.Tenancy.BaseDomain,
	})
	onboardingSvc := onboarding.NewService(db, onboarding.Options{
		Recorder:   recorder,
		Notifier:   notifier,
		Observer:   observer,
		Logger:     log,
		BaseDomain: cfg.Tenancy.BaseDomain,
	})

	if cfg.Tenancy.PlanSeedFile != "" {
		seeder := plans.NewSeeder(catalog, cfg.Tenancy.PlanSeedFile, log)
		if _, err := seeder.Sync(ctx); err != nil {
			return err
		}
		if cfg.Tenancy.WatchPlanSeed {
			go func() {
				defer observability.RecoverPanic(log, "plan seed watcher")
				if err := seeder.Watch(ctx); err != nil {
					log.WithError(err).Error("Plan seed watcher stopped")
				}
			}()
		}
	}

	resolver := middleware.NewTenantResolver(tenantSvc, redisClient, cfg.Tenancy.BaseDomain, cfg.Redis.HostCacheTTL, log)

	limitCfg := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.Tenancy.SignupRateLimit,
		WindowDuration:    cfg.Tenancy.SignupRateWindow,
	}
	var signupLimiter, loginLimiter middleware.Limiter
	if redisClient != nil {
		signupLimiter = middleware.NewDistributedRateLimiter(redisClient, limitCfg, "tenancy:ratelimit:signup")
		loginLimiter = middleware.NewDistributedRateLimiter(redisClient, limitCfg, "tenancy:ratelimit:login")
	} else {
		signup := middleware.NewRateLimiter(limitCfg)
		login := middleware.NewRateLimiter(limitCfg)
		signup.StartCleanup(ctx)
		login.StartCleanup(ctx)
		signupLimiter, loginLimiter = signup, login
	}

	server := api.NewServer(api.Deps{
		Tenants:       tenantSvc,
		Plans:         planSvc,
		Catalog:       catalog,
		Billing:       billingSvc,
		Onboarding:    onboardingSvc,
		Teams:         teams.NewPostgresService(db, recorder, log),
		Tasks:         tasks.NewPostgresService(db, recorder, log),
		Users:         auth.NewPostgresUserStore(db),
		Tokens:        auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		AuditStore:    dbAudit,
		AuditLogger:   auditLogger,
		Recorder:      recorder,
		Notifier:      notifier,
		Observer:      observer,
		HTTPMetrics:   observer.HTTPMiddleware,
		Resolver:      resolver,
		SignupLimiter: signupLimiter,
		LoginLimiter:  loginLimiter,
		BaseDomain:    cfg.Tenancy.BaseDomain,
		CORSOrigins:   cfg.Server.CORSOrigins,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
		Logger:        log,
	})

	apiServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics listen on their own port for k8s probes
	health := observability.NewHealthChecker(db, redisClient, cfg.Observability.OTelServiceVersion)
	health.AddCheck("object_store", false, store.HealthCheck)
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, health)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.HealthAddr(),
		Handler: healthMux,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	// Queued mail and async audit writes still need the database
	shutdown.Register(observability.PhaseDrain, "email pool", func(ctx context.Context) error {
		drain := cfg.Server.ShutdownTimeout
		if deadline, ok := ctx.Deadline(); ok {
			drain = time.Until(deadline)
		}
		return emailPool.Shutdown(drain)
	})
	shutdown.Register(observability.PhaseDrain, "audit", func(context.Context) error { return auditLogger.Close() })
	shutdown.Register(observability.PhaseFlush, "background", func(context.Context) error {
		cancel()
		return nil
	})
	shutdown.Register(observability.PhaseFlush, "otel", otelProviders.Shutdown)
	shutdown.Register(observability.PhaseClose, "database", func(context.Context) error { return db.Close() })
	if redisClient != nil {
		shutdown.Register(observability.PhaseClose, "redis", func(context.Context) error { return redisClient.Close() })
	}

	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{apiServer, healthServer} {
		srv := srv
		go func() {
			logger.WithField("addr", srv.Addr).Info("Listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	go func() {
		if err := <-serveErr; err != nil {
			logger.WithError(err).Error("Server failed")
			_ = shutdown.Shutdown()
			os.Exit(1)
		}
	}()

	return shutdown.WaitForShutdown()
}

// reportDBStats publishes connection pool gauges until ctx is done
func reportDBStats(ctx context.Context, db *sql.DB, metrics *observability.Metrics, log *logrus.Logger) {
	defer observability.RecoverPanic(log, "db stats reporter")
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		metrics.UpdateDBStats(db.Stats())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
