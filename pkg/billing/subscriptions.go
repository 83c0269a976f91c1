package billing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/audit"
	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/plans"
	"github.com/platinummonkey/tenancy/pkg/tenants"
)

// CreateSubscription starts a subscription for a tenant and makes it current
func (s *PostgresService) CreateSubscription(ctx context.Context, req *CreateSubscriptionRequest) (*Subscription, error) {
	autoRenew := true
	if req.AutoRenew != nil {
		autoRenew = *req.AutoRenew
	}

	var sub *Subscription
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		plan, err := plans.GetPlanTx(ctx, tx, req.PlanID)
		if err != nil {
			return err
		}
		if !plan.IsActive {
			return apperr.Validation("plan %s is not available", plan.Slug)
		}
		if _, err := tenants.LockTenantTx(ctx, tx, req.TenantID); err != nil {
			return err
		}
		sub, err = CreateSubscriptionTx(ctx, tx, req.TenantID, plan, autoRenew, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, sub.TenantID, audit.ActionCreate, audit.ResourceSubscription, sub.ID,
		fmt.Sprintf("Subscription to plan %d started", sub.PlanID),
		map[string]interface{}{"status": sub.Status, "plan_id": sub.PlanID})
	return sub, nil
}

// CreateSubscriptionTx starts a subscription inside the caller's transaction.
// The previous current subscription is demoted first so the partial unique
// index on is_current never sees two current rows. The tenant is pointed at
// the new subscription and receives a copy of the plan's limits.
func CreateSubscriptionTx(ctx context.Context, q database.DBTX, tenantID int64, plan *plans.Plan, autoRenew bool, now time.Time) (*Subscription, error) {
	status := SubscriptionActive
	var trialStart, trialEnd *time.Time
	if plan.HasTrial() {
		status = SubscriptionTrial
		end := now.AddDate(0, 0, plan.TrialDays)
		trialStart, trialEnd = &now, &end
	}

	demote := `
		UPDATE subscriptions SET is_current = FALSE, updated_at = $1
		WHERE tenant_id = $2 AND is_current
	`
	if _, err := q.ExecContext(ctx, demote, now, tenantID); err != nil {
		return nil, fmt.Errorf("failed to demote current subscription: %w", err)
	}

	query := `
		INSERT INTO subscriptions (tenant_id, plan_id, status, current_period_start, current_period_end,
			trial_start, trial_end, auto_renew, is_current, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $4, $4)
		RETURNING ` + subscriptionColumns
	sub, err := scanSubscription(q.QueryRowContext(ctx, query,
		tenantID, plan.ID, status, now, plan.BillingInterval.PeriodEnd(now),
		database.NullTime(trialStart), database.NullTime(trialEnd), autoRenew,
	))
	if err != nil {
		return nil, apperr.ConflictOnUnique(err, "create subscription", "tenant already has a current subscription")
	}

	if err := tenants.SetCurrentSubscriptionTx(ctx, q, tenantID, sub.ID, trialEnd); err != nil {
		return nil, err
	}
	if err := tenants.ApplyCeilingsTx(ctx, q, tenantID, ceilingsOf(plan)); err != nil {
		return nil, err
	}
	return sub, nil
}

func ceilingsOf(plan *plans.Plan) tenants.Ceilings {
	return tenants.Ceilings{
		MaxUsers:     plan.MaxUsers,
		MaxTeams:     plan.MaxTeams,
		MaxProjects:  plan.MaxProjects,
		MaxStorageGB: plan.MaxStorageGB,
	}
}

// GetSubscription retrieves a subscription by ID
func (s *PostgresService) GetSubscription(ctx context.Context, id int64) (*Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("subscription", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// GetCurrentSubscription retrieves the tenant's current subscription
func (s *PostgresService) GetCurrentSubscription(ctx context.Context, tenantID int64) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE tenant_id = $1 AND is_current`
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, tenantID))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("current subscription for tenant", tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptions lists every subscription a tenant has had, newest first
func (s *PostgresService) ListSubscriptions(ctx context.Context, tenantID int64) ([]*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE tenant_id = $1 ORDER BY created_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// lockSubscriptionTx retrieves a subscription and locks its row
func lockSubscriptionTx(ctx context.Context, q database.DBTX, id int64) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1 FOR UPDATE`
	sub, err := scanSubscription(q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("subscription", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock subscription: %w", err)
	}
	return sub, nil
}

// CancelSubscription cancels a subscription. When immediately is false the
// subscription keeps running and is cancelled by the period end sweep.
func (s *PostgresService) CancelSubscription(ctx context.Context, id int64, immediately bool) (*Subscription, error) {
	var sub *Subscription
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := lockSubscriptionTx(ctx, tx, id)
		if err != nil {
			return err
		}
		next, err := SubscriptionTransitions.Next(current.Status, EventCancel)
		if err != nil {
			return err
		}

		if immediately {
			query := `
				UPDATE subscriptions
				SET status = $1, cancelled_at = $2, auto_renew = FALSE, cancel_at_period_end = FALSE, updated_at = $2
				WHERE id = $3
				RETURNING ` + subscriptionColumns
			sub, err = scanSubscription(tx.QueryRowContext(ctx, query, next, s.now(), id))
		} else {
			query := `
				UPDATE subscriptions SET cancel_at_period_end = TRUE, updated_at = $1
				WHERE id = $2
				RETURNING ` + subscriptionColumns
			sub, err = scanSubscription(tx.QueryRowContext(ctx, query, s.now(), id))
		}
		if err != nil {
			return fmt.Errorf("failed to cancel subscription: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, sub.TenantID, audit.ActionUpdate, audit.ResourceSubscription, sub.ID, "Subscription cancelled",
		map[string]interface{}{"immediately": immediately, "status": sub.Status})
	return sub, nil
}

// RenewSubscription starts a new billing period from now and makes the
// subscription ACTIVE. A pending cancellation blocks renewal until it is
// withdrawn with ResumeSubscription.
func (s *PostgresService) RenewSubscription(ctx context.Context, id int64) (*Subscription, error) {
	var sub *Subscription
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := lockSubscriptionTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.CancelAtPeriodEnd {
			return apperr.InvalidTransition("subscription", string(current.Status)+" with pending cancellation", string(EventRenew))
		}
		next, err := SubscriptionTransitions.Next(current.Status, EventRenew)
		if err != nil {
			return err
		}
		plan, err := plans.GetPlanTx(ctx, tx, current.PlanID)
		if err != nil {
			return err
		}

		now := s.now()
		query := `
			UPDATE subscriptions
			SET status = $1, current_period_start = $2, current_period_end = $3, updated_at = $2
			WHERE id = $4
			RETURNING ` + subscriptionColumns
		sub, err = scanSubscription(tx.QueryRowContext(ctx, query, next, now, plan.BillingInterval.PeriodEnd(now), id))
		if err != nil {
			return fmt.Errorf("failed to renew subscription: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, sub.TenantID, audit.ActionUpdate, audit.ResourceSubscription, sub.ID, "Subscription renewed",
		map[string]interface{}{"period_end": sub.CurrentPeriodEnd})
	return sub, nil
}

// ResumeSubscription withdraws a pending cancellation
func (s *PostgresService) ResumeSubscription(ctx context.Context, id int64) (*Subscription, error) {
	var sub *Subscription
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := lockSubscriptionTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !current.IsActive() && current.Status != SubscriptionPastDue {
			return apperr.InvalidTransition("subscription", string(current.Status), "resume")
		}

		query := `
			UPDATE subscriptions SET cancel_at_period_end = FALSE, updated_at = $1
			WHERE id = $2
			RETURNING ` + subscriptionColumns
		sub, err = scanSubscription(tx.QueryRowContext(ctx, query, s.now(), id))
		if err != nil {
			return fmt.Errorf("failed to resume subscription: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, sub.TenantID, audit.ActionUpdate, audit.ResourceSubscription, sub.ID, "Subscription resumed", nil)
	return sub, nil
}

// ChangePlan moves a live subscription to another plan and copies the new
// plan's limits onto the tenant
func (s *PostgresService) ChangePlan(ctx context.Context, id, planID int64) (*Subscription, error) {
	var sub *Subscription
	var oldPlanID int64
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := lockSubscriptionTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Ended() {
			return apperr.InvalidTransition("subscription", string(current.Status), "change plan")
		}
		oldPlanID = current.PlanID

		plan, err := plans.GetPlanTx(ctx, tx, planID)
		if err != nil {
			return err
		}
		if !plan.IsActive {
			return apperr.Validation("plan %s is not available", plan.Slug)
		}

		query := `
			UPDATE subscriptions SET plan_id = $1, updated_at = $2
			WHERE id = $3
			RETURNING ` + subscriptionColumns
		sub, err = scanSubscription(tx.QueryRowContext(ctx, query, planID, s.now(), id))
		if err != nil {
			return fmt.Errorf("failed to change plan: %w", err)
		}
		return tenants.ApplyCeilingsTx(ctx, tx, sub.TenantID, ceilingsOf(plan))
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, sub.TenantID, audit.ActionUpdate, audit.ResourceSubscription, sub.ID, "Subscription plan changed",
		map[string]interface{}{"old_plan_id": oldPlanID, "new_plan_id": planID})
	return sub, nil
}

// CheckFeatureAccess reports whether the tenant's current plan includes
// feature. Tenants without a live subscription have no features.
func (s *PostgresService) CheckFeatureAccess(ctx context.Context, tenantID int64, feature plans.Feature) (bool, error) {
	sub, err := s.GetCurrentSubscription(ctx, tenantID)
	if apperr.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !sub.IsActive() {
		return false, nil
	}
	if s.catalog != nil {
		return s.catalog.CheckFeatureAccess(ctx, sub.PlanID, feature)
	}
	plan, err := plans.GetPlanTx(ctx, s.db, sub.PlanID)
	if err != nil {
		return false, err
	}
	return plan.Features.Has(feature), nil
}

// sweepRule is one step of the period end sweep
type sweepRule struct {
	event SubscriptionEvent
	to    SubscriptionStatus
	where string
}

// sweepRules are applied in order; each subscription is moved by the first
// rule it matches
var sweepRules = []sweepRule{
	{EventCancel, SubscriptionCancelled, `status IN ('TRIAL', 'ACTIVE', 'PAST_DUE') AND cancel_at_period_end AND current_period_end <= $1`},
	{EventExpire, SubscriptionExpired, `status = 'TRIAL' AND trial_end <= $1 AND NOT EXISTS (
		SELECT 1 FROM payments p WHERE p.subscription_id = subscriptions.id
		AND (p.verification_status = 'APPROVED' OR p.status = 'COMPLETED'))`},
	{EventLapse, SubscriptionPastDue, `status = 'ACTIVE' AND auto_renew AND current_period_end <= $1`},
	{EventExpire, SubscriptionExpired, `status = 'ACTIVE' AND NOT auto_renew AND current_period_end <= $1`},
}

// ProcessPeriodEnds moves subscriptions whose period or trial has ended.
// Each rule is one UPDATE, so a subscription is never left half processed.
func (s *PostgresService) ProcessPeriodEnds(ctx context.Context, now time.Time) (SweepResult, error) {
	var result SweepResult
	for _, rule := range sweepRules {
		to := rule.to
		setCancelled := ""
		if to == SubscriptionCancelled {
			setCancelled = ", cancelled_at = $1, auto_renew = FALSE"
		}
		query := fmt.Sprintf(`
			UPDATE subscriptions SET status = $2, updated_at = $1%s
			WHERE %s
			RETURNING id, tenant_id`, setCancelled, rule.where)

		rows, err := s.db.QueryContext(ctx, query, now, to)
		if err != nil {
			return result, fmt.Errorf("failed to %s subscriptions: %w", rule.event, err)
		}
		count := 0
		var moved [][2]int64
		for rows.Next() {
			var id, tenantID int64
			if err := rows.Scan(&id, &tenantID); err != nil {
				rows.Close()
				return result, fmt.Errorf("failed to scan swept subscription: %w", err)
			}
			moved = append(moved, [2]int64{id, tenantID})
			count++
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return result, err
		}

		switch to {
		case SubscriptionCancelled:
			result.Cancelled += count
		case SubscriptionExpired:
			result.Expired += count
		case SubscriptionPastDue:
			result.PastDue += count
		}
		s.observeSweep(string(to), count)

		for _, m := range moved {
			s.record(ctx, m[1], audit.ActionUpdate, audit.ResourceSubscription, m[0],
				fmt.Sprintf("Subscription %s at period end", to), map[string]interface{}{"status": to})
		}
	}

	if result.Total() > 0 {
		s.log.WithField("cancelled", result.Cancelled).
			WithField("expired", result.Expired).
			WithField("past_due", result.PastDue).
			Info("Processed subscription period ends")
	}
	return result, nil
}
