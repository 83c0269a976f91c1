package billing

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/notify"
)

func TestSendTrialReminders(t *testing.T) {
	db, mock := setupMockDB(t)
	svc, hook := newTestService(db, Options{})
	sender := &captureSender{}
	svc.notifier = notify.NewDispatcher(nil, sender, nil, svc.log, nil)

	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	from := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT t.id, t.name, t.company_email, s.trial_end").
		WithArgs(from, from.AddDate(0, 0, 1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "company_email", "trial_end"}).
			AddRow(1, "Acme", "ops@acme.test", from.Add(9*time.Hour)).
			AddRow(2, "Globex", "it@globex.test", from.Add(18*time.Hour)))

	sent, err := svc.SendTrialReminders(context.Background(), now, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, []string{"Your trial ends in 3 days", "Your trial ends in 3 days"}, sender.subjects())
	assert.Equal(t, "Sent trial reminders", hook.LastEntry().Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSendTrialRemindersRejectsNonPositiveDays(t *testing.T) {
	db, _ := setupMockDB(t)
	svc, _ := newTestService(db, Options{})

	_, err := svc.SendTrialReminders(context.Background(), time.Now(), 0)
	assert.Error(t, err)
}
