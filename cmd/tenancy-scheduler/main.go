package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenancy/pkg/audit"
	"github.com/platinummonkey/tenancy/pkg/billing"
	"github.com/platinummonkey/tenancy/pkg/config"
	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/notify"
	"github.com/platinummonkey/tenancy/pkg/observability"
	"github.com/platinummonkey/tenancy/pkg/plans"
	"github.com/platinummonkey/tenancy/pkg/scheduler"
	"github.com/platinummonkey/tenancy/pkg/storage"
	"github.com/platinummonkey/tenancy/pkg/tenants"
)

var runOnce = flag.Bool("run-once", false, "Run every job once and exit")

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).WithField("component", "scheduler")
	log := observability.NewComponentLogger(cfg.Observability.Level(), os.Stdout, cfg.Observability.LogFormat != "text")

	if err := run(cfg, logger, log); err != nil {
		logger.WithError(err).Error("Scheduler exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	dbAudit, err := audit.NewDBLogger(db)
	if err != nil {
		return err
	}

	var sender notify.Sender = notify.NewLogSender(log)
	if cfg.Email.SMTP.Host != "" {
		smtpSender, err := notify.NewSMTPSender(cfg.Email.SMTP)
		if err != nil {
			return err
		}
		sender = smtpSender
	}
	// Reminders are sent inline so a run-once invocation finishes its mail
	notifier := notify.NewDispatcher(notify.NewPostgresTemplateStore(db), sender, nil, log, nil)

	planSvc := plans.NewPostgresService(db)
	billingSvc := billing.NewPostgresService(db, billing.Options{
		Catalog:    plans.NewCatalog(planSvc, cfg.Tenancy.PlanCacheSize, cfg.Tenancy.PlanCacheTTL),
		Store:      store,
		Recorder:   audit.NewRecorder(dbAudit, log),
		Notifier:   notifier,
		Logger:     log,
		BaseDomain: cfg.Tenancy.BaseDomain,
	})

	sched := scheduler.New(scheduler.Jobs{
		Billing:     billingSvc,
		Invitations: tenants.NewPostgresService(db),
		Activity:    dbAudit,
	}, cfg.Scheduler, log)

	if *runOnce {
		logger.WithField("jobs", sched.Jobs()).Info("Running jobs once")
		return sched.RunOnce(ctx)
	}

	if err := sched.Start(); err != nil {
		return err
	}
	logger.Info("Scheduler started")

	<-ctx.Done()
	logger.Info("Stopping scheduler")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return sched.Stop(stopCtx)
}
