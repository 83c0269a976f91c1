package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/observability"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("TENANCY_DATABASE_URL", "postgres://localhost/tenancy")
	t.Setenv("TENANCY_JWT_SECRET", testSecret)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TENANCY_STR", "custom")
	t.Setenv("TENANCY_BOOL", "1")
	t.Setenv("TENANCY_INT", "42")
	t.Setenv("TENANCY_BAD_INT", "forty-two")
	t.Setenv("TENANCY_INT64", "10485760")
	t.Setenv("TENANCY_FLOAT", "0.25")
	t.Setenv("TENANCY_DUR", "90s")
	t.Setenv("TENANCY_BAD_DUR", "soon")
	t.Setenv("TENANCY_LIST", " https://a.example.com, ,https://b.example.com ")

	assert.Equal(t, "custom", getEnv("STR", "default"))
	assert.Equal(t, "default", getEnv("UNSET", "default"))
	assert.True(t, getEnvBool("BOOL", false))
	assert.True(t, getEnvBool("UNSET", true))
	assert.Equal(t, 42, getEnvInt("INT", 1))
	assert.Equal(t, 1, getEnvInt("BAD_INT", 1))
	assert.Equal(t, int64(10485760), getEnvInt64("INT64", 0))
	assert.Equal(t, 0.25, getEnvFloat("FLOAT", 1))
	assert.Equal(t, 90*time.Second, getEnvDuration("DUR", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("BAD_DUR", time.Second))
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, getEnvList("LIST", nil))
	assert.Equal(t, []string{"x"}, getEnvList("UNSET", []string{"x"}))
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.HealthAddr())
	assert.Equal(t, "filesystem", cfg.Storage.Type)
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "@every 15m", cfg.Scheduler.SubscriptionSweep)
	assert.Equal(t, 3, cfg.Scheduler.TrialReminderDays)
	assert.Equal(t, 365, cfg.Scheduler.ActivityRetentionDays)
	assert.Empty(t, cfg.Audit.File.BasePath)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.Level())
	assert.Equal(t, 10, cfg.Tenancy.SignupRateLimit)
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "tenancy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "8000"
  cors_origins: ["https://app.example.com"]
redis:
  url: redis://cache:6379/1
  host_cache_ttl: 1m
storage:
  type: s3
  s3_bucket: proofs
email:
  smtp:
    host: smtp.example.com
    from: billing@example.com
observability:
  log_level: debug
  otel_sample_ratio: 0.5
tenancy:
  base_domain: example.com
  plan_seed_file: /etc/tenancy/plans.yaml
`), 0o600))
	t.Setenv("TENANCY_CONFIG_FILE", path)
	t.Setenv("TENANCY_PORT", "8001")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8001", cfg.Server.Port, "environment wins over file")
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "redis://cache:6379/1", cfg.Redis.URL)
	assert.Equal(t, time.Minute, cfg.Redis.HostCacheTTL)
	assert.Equal(t, "proofs", cfg.Storage.S3Bucket)
	assert.Equal(t, "us-east-1", cfg.Storage.S3Region, "defaults survive the overlay")
	assert.Equal(t, 587, cfg.Email.SMTP.Port)
	assert.Equal(t, "billing@example.com", cfg.Email.SMTP.From)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.Level())
	assert.Equal(t, 0.5, cfg.Observability.OTel().SampleRatio)
	assert.Equal(t, "example.com", cfg.Tenancy.BaseDomain)
}

func TestLoadConfigFileErrors(t *testing.T) {
	setRequired(t)

	t.Setenv("TENANCY_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "failed to read config file")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0o600))
	t.Setenv("TENANCY_CONFIG_FILE", path)
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "failed to parse config file")
}

func validConfig() *Config {
	cfg := Default()
	cfg.Database.URL = "postgres://localhost/tenancy"
	cfg.Auth.JWTSecret = testSecret
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"same ports", func(c *Config) { c.Server.HealthPort = c.Server.Port }, "must be different"},
		{"missing database", func(c *Config) { c.Database.URL = "" }, "database URL is required"},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "at least 32 characters"},
		{"zero ttl", func(c *Config) { c.Auth.TokenTTL = 0 }, "token TTL"},
		{"unknown storage", func(c *Config) { c.Storage.Type = "postgres" }, "invalid storage type"},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }, "S3 bucket is required"},
		{"filesystem without root", func(c *Config) { c.Storage.FilesystemRoot = "" }, "filesystem root"},
		{"smtp without from", func(c *Config) { c.Email.SMTP.Host = "smtp.example.com" }, "SMTP from"},
		{"bad cron", func(c *Config) { c.Scheduler.OverdueInvoices = "every hour" }, "overdue_invoices"},
		{"disabled job", func(c *Config) { c.Scheduler.TrialReminders = "" }, ""},
		{"missing domain", func(c *Config) { c.Tenancy.BaseDomain = "" }, "base domain"},
		{"zero signup window", func(c *Config) { c.Tenancy.SignupRateWindow = 0 }, "signup rate"},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = ""
		}, "endpoint is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
