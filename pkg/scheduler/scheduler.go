package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenancy/pkg/audit"
	"github.com/platinummonkey/tenancy/pkg/billing"
	"github.com/platinummonkey/tenancy/pkg/config"
	"github.com/platinummonkey/tenancy/pkg/observability"
)

// DefaultJobTimeout bounds a single job run
const DefaultJobTimeout = 5 * time.Minute

// BillingJobs is the part of the billing service driven by the scheduler
type BillingJobs interface {
	ProcessPeriodEnds(ctx context.Context, now time.Time) (billing.SweepResult, error)
	MarkOverdueInvoices(ctx context.Context, now time.Time) (int64, error)
	SendTrialReminders(ctx context.Context, now time.Time, daysAhead int) (int, error)
}

// InvitationJobs expires stale invitations
type InvitationJobs interface {
	CleanupExpiredInvitations(ctx context.Context) (int64, error)
}

// ActivityJobs prunes the activity log
type ActivityJobs interface {
	CleanupActivity(ctx context.Context, policy audit.RetentionPolicy) (int64, error)
}

// Jobs holds the services the scheduler drives
type Jobs struct {
	Billing     BillingJobs
	Invitations InvitationJobs
	Activity    ActivityJobs
}

// Job is one named periodic task
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context, now time.Time) error
}

// Scheduler runs Jobs on their cron specs. A job still running when its
// next tick fires is skipped.
type Scheduler struct {
	cron    *cron.Cron
	jobs    []Job
	log     *logrus.Logger
	timeout time.Duration
	now     func() time.Time
}

// New builds the standard job set from cfg. Jobs with an empty spec are
// disabled.
func New(jobs Jobs, cfg config.SchedulerConfig, log *logrus.Logger) *Scheduler {
	s := NewEmpty(log)

	if jobs.Billing != nil {
		s.Add(Job{Name: "subscription_sweep", Spec: cfg.SubscriptionSweep, Run: func(ctx context.Context, now time.Time) error {
			result, err := jobs.Billing.ProcessPeriodEnds(ctx, now)
			if err != nil {
				return err
			}
			s.log.WithField("total", result.Total()).Debug("Subscription sweep finished")
			return nil
		}})
		s.Add(Job{Name: "overdue_invoices", Spec: cfg.OverdueInvoices, Run: func(ctx context.Context, now time.Time) error {
			n, err := jobs.Billing.MarkOverdueInvoices(ctx, now)
			if err != nil {
				return err
			}
			s.log.WithField("count", n).Debug("Overdue invoice sweep finished")
			return nil
		}})
		if cfg.TrialReminderDays > 0 {
			days := cfg.TrialReminderDays
			s.Add(Job{Name: "trial_reminders", Spec: cfg.TrialReminders, Run: func(ctx context.Context, now time.Time) error {
				_, err := jobs.Billing.SendTrialReminders(ctx, now, days)
				return err
			}})
		}
	}

	if jobs.Invitations != nil {
		s.Add(Job{Name: "invitation_cleanup", Spec: cfg.InvitationCleanup, Run: func(ctx context.Context, now time.Time) error {
			n, err := jobs.Invitations.CleanupExpiredInvitations(ctx)
			if err != nil {
				return err
			}
			s.log.WithField("count", n).Debug("Invitation cleanup finished")
			return nil
		}})
	}

	if jobs.Activity != nil && cfg.ActivityRetentionDays > 0 {
		policy := audit.RetentionPolicy{RetentionDays: cfg.ActivityRetentionDays}
		s.Add(Job{Name: "activity_retention", Spec: cfg.ActivityRetention, Run: func(ctx context.Context, now time.Time) error {
			n, err := jobs.Activity.CleanupActivity(ctx, policy)
			if err != nil {
				return err
			}
			s.log.WithField("count", n).Debug("Activity retention finished")
			return nil
		}})
	}
	return s
}

// NewEmpty creates a scheduler without jobs
func NewEmpty(log *logrus.Logger) *Scheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(log))),
		),
		log:     log,
		timeout: DefaultJobTimeout,
		now:     time.Now,
	}
}

// Add appends a job. Jobs without a spec only run through RunOnce.
func (s *Scheduler) Add(job Job) {
	s.jobs = append(s.jobs, job)
}

// Jobs lists the registered job names in order
func (s *Scheduler) Jobs() []string {
	names := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		names[i] = j.Name
	}
	return names
}

// Start schedules every job with a spec and starts the cron loop
func (s *Scheduler) Start() error {
	for _, job := range s.jobs {
		if job.Spec == "" {
			s.log.WithField("job", job.Name).Info("Job disabled")
			continue
		}
		job := job
		if _, err := s.cron.AddFunc(job.Spec, func() {
			_ = s.run(context.Background(), job)
		}); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", job.Name, err)
		}
		s.log.WithField("job", job.Name).WithField("spec", job.Spec).Info("Job scheduled")
	}
	s.cron.Start()
	return nil
}

// Stop stops scheduling and waits for running jobs or ctx
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce runs every job once in order, regardless of spec
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs []error
	for _, job := range s.jobs {
		if err := s.run(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", job.Name, err))
		}
	}
	return errors.Join(errs...)
}

// run executes one job with a timeout. Panics are logged and returned.
func (s *Scheduler) run(ctx context.Context, job Job) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	entry := s.log.WithField("job", job.Name)
	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			observability.LogPanic(s.log, r, job.Name)
			err = observability.MustRecover(r)
		}
	}()

	if err = job.Run(ctx, start.UTC()); err != nil {
		entry.WithError(err).Error("Job failed")
		return err
	}
	entry.WithField("duration", time.Since(start).String()).Debug("Job completed")
	return nil
}
