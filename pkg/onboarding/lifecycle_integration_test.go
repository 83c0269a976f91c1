//go:build integration

package onboarding

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/tenancy/pkg/apperr"
	"github.com/platinummonkey/tenancy/pkg/auth"
	"github.com/platinummonkey/tenancy/pkg/billing"
	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/plans"
	"github.com/platinummonkey/tenancy/pkg/tenants"
)

// setupPostgres starts a PostgreSQL container with every migration applied
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("tenancy_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.Open(database.Config{URL: connStr, MaxOpenConns: 20, ConnectTimeout: 10 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)
	require.NoError(t, database.RunMigrations(ctx, db, log))
	return db
}

func signupTenant(t *testing.T, db *sql.DB, maxUsers int) *SignupResult {
	t.Helper()
	ctx := context.Background()

	plan, err := plans.NewPostgresService(db).CreatePlan(ctx, &plans.CreatePlanRequest{
		Name:            "Team",
		Slug:            fmt.Sprintf("team-%d", maxUsers),
		Price:           decimal.NewFromInt(49),
		BillingInterval: plans.IntervalMonthly,
		Limits:          plans.Limits{MaxUsers: maxUsers, MaxTeams: 2, MaxProjects: 5, MaxStorageGB: decimal.NewFromInt(1)},
	})
	require.NoError(t, err)

	result, err := NewService(db, Options{BaseDomain: "example.com"}).Signup(ctx, &SignupRequest{
		Name:           "Acme",
		CompanyEmail:   "billing@acme.test",
		AdminEmail:     "admin@acme.test",
		AdminPassword:  "correct-horse",
		AdminFirstName: "Ada",
		AdminLastName:  "Admin",
		PlanID:         plan.ID,
	})
	require.NoError(t, err)
	require.True(t, result.Payment.PendingVerification())
	return result
}

func TestConcurrentPaymentApprovals(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	signup := signupTenant(t, db, 5)
	svc := billing.NewPostgresService(db, billing.Options{})

	const approvers = 8
	var wg sync.WaitGroup
	errs := make([]error, approvers)
	results := make([]*billing.ApprovalResult, approvers)
	for i := 0; i < approvers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.ApprovePayment(ctx, signup.Payment.ID, signup.Admin.ID, "wire received")
		}(i)
	}
	wg.Wait()

	var succeeded int
	for i, err := range errs {
		if err == nil {
			succeeded++
			assert.True(t, results[i].TenantActivated)
			continue
		}
		assert.True(t, apperr.IsNotPending(err), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	tenant, err := tenants.NewPostgresService(db).GetTenant(ctx, signup.Tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, tenants.StatusActive, tenant.Status)
	assert.True(t, tenant.IsApproved)

	sub, err := svc.GetSubscription(ctx, signup.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.SubscriptionActive, sub.Status)

	payment, err := svc.GetPayment(ctx, signup.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.PaymentCompleted, payment.Status)
}

func TestConcurrentSeatReservations(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	signup := signupTenant(t, db, 3)
	store := auth.NewPostgresUserStore(db)
	tenantID := signup.Tenant.ID

	const invitees = 10
	var wg sync.WaitGroup
	errs := make([]error, invitees)
	for i := 0; i < invitees; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.CreateUser(ctx, &auth.CreateUserRequest{
				Email:    fmt.Sprintf("member%d@acme.test", i),
				Password: "correct-horse",
				Role:     auth.RoleMember,
				TenantID: &tenantID,
			}, false)
		}(i)
	}
	wg.Wait()

	var created int
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.True(t, apperr.IsLimitExceeded(err), "unexpected error: %v", err)
	}
	// The admin holds the first of three seats
	assert.Equal(t, 2, created)

	tenant, err := tenants.NewPostgresService(db).GetTenant(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, 3, tenant.CurrentUsersCount)
}
