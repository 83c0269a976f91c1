// Package observability provides logging, Prometheus metrics, OpenTelemetry
// setup, health checks and graceful shutdown.
//
// # Logging
//
// The binaries log startup and shutdown through the slog backed Logger;
// services, handlers and the scheduler receive a logrus logger:
//
//	logger := observability.NewLogger(observability.ParseLogLevel(cfg.LogLevel), os.Stdout)
//	log := observability.NewComponentLogger(level, os.Stdout, true)
//
// # Metrics
//
// Lifecycle counters are named tenancy_*. The Observer fans events out to
// Prometheus and, when enabled, OpenTelemetry, and is handed to the billing,
// onboarding and notify services and the limit guard:
//
//	metrics := observability.NewMetrics(registry)
//	observer := observability.NewObserver(metrics, otelMetrics)
//	router.Use(observer.HTTPMiddleware)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.AddCheck("storage", false, store.HealthCheck)
//	observability.RegisterHealthRoutes(healthMux, checker)
package observability
