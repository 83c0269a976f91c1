package plans

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/apperr"
)

var planRowColumns = []string{
	"id", "name", "slug", "description", "price", "currency", "billing_interval",
	"max_users", "max_teams", "max_projects", "max_storage_gb",
	"api_access", "advanced_reports", "priority_support", "custom_branding", "sso", "audit_logs",
	"is_popular", "is_active", "sort_order", "trial_days", "created_at", "updated_at",
}

func planRow(rows *sqlmock.Rows, id int64, slug string, interval BillingInterval, trialDays int) *sqlmock.Rows {
	now := time.Now()
	return rows.AddRow(
		id, "Plan "+slug, slug, "", "29.00", "USD", string(interval),
		5, 2, 10, "1.50",
		true, false, false, false, false, true,
		false, true, 1, trialDays, now, now,
	)
}

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestBillingIntervalPeriodEnd(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		interval BillingInterval
		days     int
	}{
		{IntervalMonthly, 30},
		{IntervalQuarterly, 90},
		{IntervalYearly, 365},
	}
	for _, tt := range tests {
		t.Run(string(tt.interval), func(t *testing.T) {
			assert.True(t, tt.interval.Valid())
			assert.Equal(t, start.AddDate(0, 0, tt.days), tt.interval.PeriodEnd(start))
		})
	}
	assert.False(t, BillingInterval("WEEKLY").Valid())
}

func TestFeaturesHas(t *testing.T) {
	f := Features{APIAccess: true, SSO: true}
	assert.True(t, f.Has(FeatureAPIAccess))
	assert.True(t, f.Has(FeatureSSO))
	assert.False(t, f.Has(FeatureAuditLogs))
	assert.False(t, f.Has(Feature("unknown")))
}

func TestCreatePlan(t *testing.T) {
	db, mock := setupMockDB(t)
	svc := NewPostgresService(db)

	now := time.Now()
	mock.ExpectQuery("INSERT INTO plans").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(1, now, now))

	plan, err := svc.CreatePlan(context.Background(), &CreatePlanRequest{
		Name:            "Starter",
		Slug:            "starter",
		Price:           decimal.RequireFromString("29.00"),
		BillingInterval: IntervalMonthly,
		Limits:          Limits{MaxUsers: 5, MaxTeams: 1, MaxProjects: 10, MaxStorageGB: decimal.NewFromInt(1)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), plan.ID)
	assert.Equal(t, "USD", plan.Currency)
	assert.Equal(t, DefaultTrialDays, plan.TrialDays)
	assert.True(t, plan.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePlanDuplicateSlug(t *testing.T) {
	db, mock := setupMockDB(t)
	svc := NewPostgresService(db)

	mock.ExpectQuery("INSERT INTO plans").WillReturnError(&pq.Error{Code: "23505"})

	_, err := svc.CreatePlan(context.Background(), &CreatePlanRequest{
		Name: "Starter", Slug: "starter", BillingInterval: IntervalMonthly,
	})
	assert.True(t, apperr.IsConflict(err))
}

func TestCreatePlanValidation(t *testing.T) {
	db, _ := setupMockDB(t)
	svc := NewPostgresService(db)

	_, err := svc.CreatePlan(context.Background(), &CreatePlanRequest{
		Name: "Weekly", Slug: "weekly", BillingInterval: "WEEKLY",
	})
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.CreatePlan(context.Background(), &CreatePlanRequest{
		Name: "Negative", Slug: "negative", BillingInterval: IntervalMonthly, Price: decimal.NewFromInt(-1),
	})
	assert.True(t, apperr.IsValidation(err))
}

func TestGetPlan(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		svc := NewPostgresService(db)

		mock.ExpectQuery("SELECT (.+) FROM plans WHERE id = \\$1").
			WithArgs(int64(3)).
			WillReturnRows(planRow(sqlmock.NewRows(planRowColumns), 3, "pro", IntervalQuarterly, 0))

		plan, err := svc.GetPlan(context.Background(), 3)
		require.NoError(t, err)
		assert.Equal(t, "pro", plan.Slug)
		assert.Equal(t, IntervalQuarterly, plan.BillingInterval)
		assert.True(t, plan.MaxStorageGB.Equal(decimal.RequireFromString("1.5")))
		assert.True(t, plan.Price.Equal(decimal.NewFromInt(29)))
		assert.False(t, plan.HasTrial())
		assert.True(t, plan.AuditLogs)
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		svc := NewPostgresService(db)

		mock.ExpectQuery("SELECT (.+) FROM plans WHERE id = \\$1").
			WithArgs(int64(99)).
			WillReturnError(sql.ErrNoRows)

		_, err := svc.GetPlan(context.Background(), 99)
		assert.True(t, apperr.IsNotFound(err))
	})
}

func TestListPlansActiveOnly(t *testing.T) {
	db, mock := setupMockDB(t)
	svc := NewPostgresService(db)

	rows := sqlmock.NewRows(planRowColumns)
	planRow(rows, 1, "starter", IntervalMonthly, 14)
	planRow(rows, 2, "enterprise", IntervalYearly, 30)
	mock.ExpectQuery("SELECT (.+) FROM plans WHERE is_active = true ORDER BY sort_order, price").
		WillReturnRows(rows)

	result, err := svc.ListPlans(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, "enterprise", result[1].Slug)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePlan(t *testing.T) {
	db, mock := setupMockDB(t)
	svc := NewPostgresService(db)

	price := decimal.RequireFromString("39.00")
	popular := true
	mock.ExpectQuery("UPDATE plans SET price = \\$1, is_popular = \\$2, updated_at = NOW\\(\\) WHERE id = \\$3").
		WithArgs(price, true, int64(1)).
		WillReturnRows(planRow(sqlmock.NewRows(planRowColumns), 1, "starter", IntervalMonthly, 14))

	plan, err := svc.UpdatePlan(context.Background(), 1, &UpdatePlanRequest{Price: &price, IsPopular: &popular})
	require.NoError(t, err)
	assert.Equal(t, int64(1), plan.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPlan(t *testing.T) {
	db, mock := setupMockDB(t)
	svc := NewPostgresService(db)

	now := time.Now()
	mock.ExpectQuery("INSERT INTO plans (.+) ON CONFLICT \\(slug\\) DO UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(7, now, now))

	plan, err := svc.UpsertPlan(context.Background(), &CreatePlanRequest{
		Name: "Starter", Slug: "starter", BillingInterval: IntervalMonthly,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), plan.ID)
}
