package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/tenancy/pkg/notify"
)

// SendTrialReminders emails the tenants whose current trial ends on the
// calendar day daysAhead days after now. Run once a day it reminds each
// tenant exactly once.
func (s *PostgresService) SendTrialReminders(ctx context.Context, now time.Time, daysAhead int) (int, error) {
	if daysAhead < 1 {
		return 0, fmt.Errorf("days ahead must be positive, got %d", daysAhead)
	}
	from := truncateDay(now).AddDate(0, 0, daysAhead)
	to := from.AddDate(0, 0, 1)

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.company_email, s.trial_end
		FROM subscriptions s
		JOIN tenants t ON t.id = s.tenant_id
		WHERE s.is_current AND s.status = 'TRIAL'
		  AND s.trial_end >= $1 AND s.trial_end < $2
		ORDER BY t.id`, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to list expiring trials: %w", err)
	}
	defer rows.Close()

	sent := 0
	for rows.Next() {
		var (
			tenantID    int64
			name, email string
			endsAt      time.Time
		)
		if err := rows.Scan(&tenantID, &name, &email, &endsAt); err != nil {
			return sent, fmt.Errorf("failed to scan expiring trial: %w", err)
		}
		s.notifier.Notify(ctx, notify.TemplateSubscriptionExpiring, email, notify.Data{
			"TenantName": name,
			"DaysLeft":   daysAhead,
			"EndsAt":     endsAt.Format("2006-01-02"),
		})
		sent++
	}
	if err := rows.Err(); err != nil {
		return sent, err
	}

	if sent > 0 {
		s.log.WithField("count", sent).WithField("days_ahead", daysAhead).Info("Sent trial reminders")
	}
	return sent, nil
}
