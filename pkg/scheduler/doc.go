// Package scheduler runs the periodic maintenance jobs of the tenant
// lifecycle on cron schedules: the subscription period end sweep, overdue
// invoice marking, invitation expiry and trial reminders.
//
//	s := scheduler.New(scheduler.Jobs{Billing: billingSvc, Invitations: tenantSvc}, cfg.Scheduler, log)
//	if err := s.Start(); err != nil {
//		return err
//	}
//	defer s.Stop(ctx)
//
// RunOnce runs every job a single time, which the scheduler binary exposes
// as --run-once.
package scheduler
