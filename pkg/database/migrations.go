package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Migration represents a schema migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create plans, tenants and users",
			SQL: `
				CREATE TABLE IF NOT EXISTS plans (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(100) NOT NULL,
					slug VARCHAR(100) NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					price NUMERIC(10,2) NOT NULL DEFAULT 0,
					currency VARCHAR(3) NOT NULL DEFAULT 'USD',
					billing_interval VARCHAR(20) NOT NULL DEFAULT 'MONTHLY',
					max_users INT NOT NULL DEFAULT 5,
					max_teams INT NOT NULL DEFAULT 1,
					max_projects INT NOT NULL DEFAULT 10,
					max_storage_gb NUMERIC(10,2) NOT NULL DEFAULT 1,
					api_access BOOLEAN NOT NULL DEFAULT FALSE,
					advanced_reports BOOLEAN NOT NULL DEFAULT FALSE,
					priority_support BOOLEAN NOT NULL DEFAULT FALSE,
					custom_branding BOOLEAN NOT NULL DEFAULT FALSE,
					sso BOOLEAN NOT NULL DEFAULT FALSE,
					audit_logs BOOLEAN NOT NULL DEFAULT FALSE,
					is_popular BOOLEAN NOT NULL DEFAULT FALSE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					sort_order INT NOT NULL DEFAULT 0,
					trial_days INT NOT NULL DEFAULT 14,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					CONSTRAINT plans_billing_interval_check
						CHECK (billing_interval IN ('MONTHLY', 'QUARTERLY', 'YEARLY'))
				);

				CREATE TABLE IF NOT EXISTS tenants (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					slug VARCHAR(100) NOT NULL UNIQUE,
					company_name VARCHAR(255) NOT NULL DEFAULT '',
					company_email VARCHAR(255) NOT NULL,
					phone VARCHAR(50) NOT NULL DEFAULT '',
					address TEXT NOT NULL DEFAULT '',
					primary_color VARCHAR(7) NOT NULL DEFAULT '#3B82F6',
					status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
					is_approved BOOLEAN NOT NULL DEFAULT FALSE,
					approved_at TIMESTAMP,
					approved_by BIGINT,
					current_subscription_id BIGINT,
					max_users INT NOT NULL DEFAULT 5,
					max_teams INT NOT NULL DEFAULT 1,
					max_projects INT NOT NULL DEFAULT 10,
					max_storage_gb NUMERIC(10,2) NOT NULL DEFAULT 1,
					current_users_count INT NOT NULL DEFAULT 0,
					current_teams_count INT NOT NULL DEFAULT 0,
					current_projects_count INT NOT NULL DEFAULT 0,
					current_storage_gb NUMERIC(10,2) NOT NULL DEFAULT 0,
					allow_user_registration BOOLEAN NOT NULL DEFAULT TRUE,
					require_email_verification BOOLEAN NOT NULL DEFAULT TRUE,
					two_factor_auth_required BOOLEAN NOT NULL DEFAULT FALSE,
					trial_ends_at TIMESTAMP,
					notes TEXT NOT NULL DEFAULT '',
					metadata JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					CONSTRAINT tenants_status_check
						CHECK (status IN ('PENDING', 'ACTIVE', 'SUSPENDED', 'CANCELLED')),
					CONSTRAINT tenants_active_approved_check
						CHECK (status <> 'ACTIVE' OR is_approved),
					CONSTRAINT tenants_counters_check
						CHECK (current_users_count >= 0 AND current_teams_count >= 0
							AND current_projects_count >= 0 AND current_storage_gb >= 0)
				);

				CREATE INDEX IF NOT EXISTS idx_tenants_status ON tenants(status);

				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					email VARCHAR(255) NOT NULL UNIQUE,
					password_hash VARCHAR(255) NOT NULL,
					first_name VARCHAR(100) NOT NULL DEFAULT '',
					last_name VARCHAR(100) NOT NULL DEFAULT '',
					role VARCHAR(20) NOT NULL DEFAULT 'MEMBER',
					tenant_id BIGINT REFERENCES tenants(id) ON DELETE CASCADE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					last_login_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					CONSTRAINT users_role_check
						CHECK (role IN ('SUPER_ADMIN', 'TENANT_ADMIN', 'MANAGER', 'MEMBER'))
				);

				CREATE INDEX IF NOT EXISTS idx_users_tenant_id ON users(tenant_id);

				CREATE TABLE IF NOT EXISTS tenant_domains (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					domain VARCHAR(255) NOT NULL UNIQUE,
					type VARCHAR(20) NOT NULL DEFAULT 'SUBDOMAIN',
					is_verified BOOLEAN NOT NULL DEFAULT FALSE,
					verified_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					CONSTRAINT tenant_domains_type_check
						CHECK (type IN ('PRIMARY', 'SUBDOMAIN', 'CUSTOM'))
				);

				CREATE TABLE IF NOT EXISTS tenant_invitations (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					email VARCHAR(255) NOT NULL,
					role VARCHAR(20) NOT NULL DEFAULT 'MEMBER',
					token VARCHAR(64) NOT NULL UNIQUE,
					invited_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
					expires_at TIMESTAMP NOT NULL,
					accepted_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_tenant_invitations_tenant ON tenant_invitations(tenant_id, status);

				CREATE TABLE IF NOT EXISTS tenant_settings (
					tenant_id BIGINT PRIMARY KEY REFERENCES tenants(id) ON DELETE CASCADE,
					enable_teams BOOLEAN NOT NULL DEFAULT TRUE,
					enable_tasks BOOLEAN NOT NULL DEFAULT TRUE,
					enable_file_uploads BOOLEAN NOT NULL DEFAULT TRUE,
					enable_api_access BOOLEAN NOT NULL DEFAULT FALSE,
					email_notifications BOOLEAN NOT NULL DEFAULT TRUE,
					task_reminders BOOLEAN NOT NULL DEFAULT TRUE,
					timezone VARCHAR(50) NOT NULL DEFAULT 'UTC',
					language VARCHAR(10) NOT NULL DEFAULT 'en',
					date_format VARCHAR(20) NOT NULL DEFAULT 'YYYY-MM-DD',
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create subscriptions, payments and invoices",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscriptions (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					plan_id BIGINT NOT NULL REFERENCES plans(id),
					status VARCHAR(20) NOT NULL DEFAULT 'TRIAL',
					current_period_start TIMESTAMP NOT NULL,
					current_period_end TIMESTAMP NOT NULL,
					trial_start TIMESTAMP,
					trial_end TIMESTAMP,
					auto_renew BOOLEAN NOT NULL DEFAULT TRUE,
					cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
					cancelled_at TIMESTAMP,
					is_current BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					CONSTRAINT subscriptions_status_check
						CHECK (status IN ('TRIAL', 'ACTIVE', 'PAST_DUE', 'CANCELLED', 'EXPIRED'))
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_one_current
					ON subscriptions(tenant_id) WHERE is_current;
				CREATE INDEX IF NOT EXISTS idx_subscriptions_period_end
					ON subscriptions(current_period_end) WHERE status IN ('TRIAL', 'ACTIVE');

				ALTER TABLE tenants DROP CONSTRAINT IF EXISTS tenants_current_subscription_fk;
				ALTER TABLE tenants ADD CONSTRAINT tenants_current_subscription_fk
					FOREIGN KEY (current_subscription_id) REFERENCES subscriptions(id) ON DELETE SET NULL;

				CREATE TABLE IF NOT EXISTS payments (
					id BIGSERIAL PRIMARY KEY,
					subscription_id BIGINT NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
					tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					amount NUMERIC(10,2) NOT NULL,
					currency VARCHAR(3) NOT NULL DEFAULT 'USD',
					payment_method VARCHAR(20) NOT NULL,
					status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
					verification_status VARCHAR(20),
					transaction_id VARCHAR(255) UNIQUE,
					gateway VARCHAR(50) NOT NULL DEFAULT '',
					gateway_response JSONB NOT NULL DEFAULT '{}',
					payment_proof VARCHAR(500) NOT NULL DEFAULT '',
					notes TEXT NOT NULL DEFAULT '',
					verification_notes TEXT NOT NULL DEFAULT '',
					verified_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					verified_at TIMESTAMP,
					paid_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					CONSTRAINT payments_status_check
						CHECK (status IN ('PENDING', 'PROCESSING', 'COMPLETED', 'FAILED', 'REFUNDED')),
					CONSTRAINT payments_verification_status_check
						CHECK (verification_status IS NULL
							OR verification_status IN ('PENDING', 'APPROVED', 'REJECTED'))
				);

				CREATE INDEX IF NOT EXISTS idx_payments_tenant ON payments(tenant_id, created_at DESC);
				CREATE INDEX IF NOT EXISTS idx_payments_verification ON payments(verification_status)
					WHERE verification_status = 'PENDING';

				CREATE TABLE IF NOT EXISTS invoices (
					id BIGSERIAL PRIMARY KEY,
					number VARCHAR(50) NOT NULL UNIQUE,
					tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					subscription_id BIGINT REFERENCES subscriptions(id) ON DELETE SET NULL,
					payment_id BIGINT REFERENCES payments(id) ON DELETE SET NULL,
					status VARCHAR(20) NOT NULL DEFAULT 'DRAFT',
					subtotal NUMERIC(10,2) NOT NULL DEFAULT 0,
					tax_rate NUMERIC(5,2) NOT NULL DEFAULT 0,
					tax_amount NUMERIC(10,2) NOT NULL DEFAULT 0,
					discount_amount NUMERIC(10,2) NOT NULL DEFAULT 0,
					total NUMERIC(10,2) NOT NULL DEFAULT 0,
					currency VARCHAR(3) NOT NULL DEFAULT 'USD',
					issue_date DATE NOT NULL DEFAULT CURRENT_DATE,
					due_date DATE NOT NULL,
					paid_at TIMESTAMP,
					notes TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					CONSTRAINT invoices_status_check
						CHECK (status IN ('DRAFT', 'SENT', 'PAID', 'OVERDUE', 'CANCELLED'))
				);

				CREATE TABLE IF NOT EXISTS invoice_items (
					id BIGSERIAL PRIMARY KEY,
					invoice_id BIGINT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
					description VARCHAR(255) NOT NULL,
					quantity NUMERIC(10,2) NOT NULL DEFAULT 1,
					unit_price NUMERIC(10,2) NOT NULL,
					amount NUMERIC(10,2) NOT NULL
				);
			`,
		},
		{
			Version:     3,
			Description: "Create teams and tasks",
			SQL: `
				CREATE TABLE IF NOT EXISTS teams (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					name VARCHAR(100) NOT NULL,
					slug VARCHAR(100) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					owner_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
					is_private BOOLEAN NOT NULL DEFAULT FALSE,
					members_count INT NOT NULL DEFAULT 0,
					tasks_count INT NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE (tenant_id, slug)
				);

				CREATE TABLE IF NOT EXISTS team_members (
					id BIGSERIAL PRIMARY KEY,
					team_id BIGINT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role VARCHAR(20) NOT NULL DEFAULT 'MEMBER',
					invited_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					joined_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE (team_id, user_id)
				);

				CREATE TABLE IF NOT EXISTS tasks (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					team_id BIGINT REFERENCES teams(id) ON DELETE SET NULL,
					title VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					status VARCHAR(20) NOT NULL DEFAULT 'TODO',
					priority VARCHAR(20) NOT NULL DEFAULT 'MEDIUM',
					assigned_to BIGINT REFERENCES users(id) ON DELETE SET NULL,
					created_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					due_date TIMESTAMP,
					parent_task_id BIGINT REFERENCES tasks(id) ON DELETE CASCADE,
					completed_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_tasks_tenant_status ON tasks(tenant_id, status);
				CREATE INDEX IF NOT EXISTS idx_tasks_assigned_to ON tasks(assigned_to);
			`,
		},
		{
			Version:     4,
			Description: "Create activity and audit logs",
			SQL: `
				CREATE TABLE IF NOT EXISTS activity_logs (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT REFERENCES tenants(id) ON DELETE CASCADE,
					user_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
					action VARCHAR(20) NOT NULL,
					resource_type VARCHAR(50) NOT NULL DEFAULT '',
					resource_id VARCHAR(64) NOT NULL DEFAULT '',
					description TEXT NOT NULL DEFAULT '',
					ip_address VARCHAR(64) NOT NULL DEFAULT '',
					user_agent VARCHAR(500) NOT NULL DEFAULT '',
					path VARCHAR(500) NOT NULL DEFAULT '',
					method VARCHAR(10) NOT NULL DEFAULT '',
					metadata JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_activity_logs_tenant ON activity_logs(tenant_id, created_at DESC);
				CREATE INDEX IF NOT EXISTS idx_activity_logs_user ON activity_logs(user_id, created_at DESC);
				CREATE INDEX IF NOT EXISTS idx_activity_logs_action ON activity_logs(action);

				CREATE TABLE IF NOT EXISTS audit_logs (
					id BIGSERIAL PRIMARY KEY,
					admin_user_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
					action VARCHAR(100) NOT NULL,
					target_model VARCHAR(100) NOT NULL,
					target_id VARCHAR(64) NOT NULL,
					old_values JSONB,
					new_values JSONB,
					notes TEXT NOT NULL DEFAULT '',
					ip_address VARCHAR(64) NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_audit_logs_target ON audit_logs(target_model, target_id);
			`,
		},
		{
			Version:     5,
			Description: "Create email templates",
			SQL: `
				CREATE TABLE IF NOT EXISTS email_templates (
					id BIGSERIAL PRIMARY KEY,
					type VARCHAR(30) NOT NULL UNIQUE,
					subject VARCHAR(255) NOT NULL,
					body TEXT NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
	}
}

// RunMigrations applies every migration that has not been recorded yet.
// Each migration runs in its own transaction.
func RunMigrations(ctx context.Context, db *sql.DB, logger *logrus.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Running migration")

		err := WithTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
				migration.Version, migration.Description,
			); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}
