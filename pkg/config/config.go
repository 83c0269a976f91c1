package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/tenancy/pkg/audit"
	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/notify"
	"github.com/platinummonkey/tenancy/pkg/observability"
	"github.com/platinummonkey/tenancy/pkg/storage"
)

// EnvPrefix prefixes every environment variable read by LoadConfig
const EnvPrefix = "TENANCY_"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      database.Config     `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Storage       storage.Config      `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Audit         AuditConfig         `yaml:"audit"`
	Email         EmailConfig         `yaml:"email"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Observability ObservabilityConfig `yaml:"observability"`
	Tenancy       TenancyConfig       `yaml:"tenancy"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	CORSOrigins     []string      `yaml:"cors_origins"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// Addr is the listen address of the API server
func (s ServerConfig) Addr() string { return s.Host + ":" + s.Port }

// HealthAddr is the listen address of the health and metrics server
func (s ServerConfig) HealthAddr() string { return s.Host + ":" + s.HealthPort }

// RedisConfig enables the shared host cache and rate limiter. An empty URL
// disables redis; the API then falls back to in-process limits.
type RedisConfig struct {
	storage.RedisConfig `yaml:",inline"`
	HostCacheTTL        time.Duration `yaml:"host_cache_ttl"`
}

// Enabled reports whether a redis URL is configured
func (r RedisConfig) Enabled() bool { return r.URL != "" }

// AuthConfig configures bearer tokens
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// GatewayConfig configures the payment gateway webhook
type GatewayConfig struct {
	WebhookSecret string `yaml:"webhook_secret"`
}

// AuditConfig adds a rotating JSON-lines file next to the database audit
// trail. An empty base path disables the file.
type AuditConfig struct {
	File audit.FileLoggerConfig `yaml:"file"`
}

// EmailConfig configures outbound notifications. Without an SMTP host mail is
// logged instead of sent.
type EmailConfig struct {
	SMTP      notify.SMTPConfig `yaml:"smtp"`
	Workers   int               `yaml:"workers"`
	QueueSize int               `yaml:"queue_size"`
}

// SchedulerConfig holds the cron specs of the periodic jobs
type SchedulerConfig struct {
	SubscriptionSweep string `yaml:"subscription_sweep"`
	OverdueInvoices   string `yaml:"overdue_invoices"`
	InvitationCleanup string `yaml:"invitation_cleanup"`
	TrialReminders    string `yaml:"trial_reminders"`
	TrialReminderDays int    `yaml:"trial_reminder_days"`

	ActivityRetention     string `yaml:"activity_retention"`
	ActivityRetentionDays int    `yaml:"activity_retention_days"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json or text

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level parses LogLevel
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// OTel converts the settings for observability.InitOTel
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// TenancyConfig holds the settings of the tenant lifecycle itself
type TenancyConfig struct {
	BaseDomain       string        `yaml:"base_domain"`
	PlanSeedFile     string        `yaml:"plan_seed_file"`
	WatchPlanSeed    bool          `yaml:"watch_plan_seed"`
	SignupRateLimit  int           `yaml:"signup_rate_limit"`
	SignupRateWindow time.Duration `yaml:"signup_rate_window"`
	PlanCacheSize    int           `yaml:"plan_cache_size"`
	PlanCacheTTL     time.Duration `yaml:"plan_cache_ttl"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    10 << 20,
			HealthPort:      "9090",
		},
		Database: database.Config{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnectTimeout:  10 * time.Second,
		},
		Redis: RedisConfig{
			HostCacheTTL: 5 * time.Minute,
		},
		Storage: storage.DefaultConfig(),
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Email: EmailConfig{
			SMTP:      notify.SMTPConfig{Port: 587},
			Workers:   4,
			QueueSize: 100,
		},
		Scheduler: SchedulerConfig{
			SubscriptionSweep: "@every 15m",
			OverdueInvoices:   "@hourly",
			InvitationCleanup: "@daily",
			TrialReminders:    "0 9 * * *",
			TrialReminderDays: 3,

			ActivityRetention:     "30 3 * * *",
			ActivityRetentionDays: 365,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          "json",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "tenancy",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
		Tenancy: TenancyConfig{
			BaseDomain:       "localhost",
			SignupRateLimit:  10,
			SignupRateWindow: time.Hour,
			PlanCacheSize:    128,
			PlanCacheTTL:     5 * time.Minute,
		},
	}
}

// LoadConfig builds the configuration from defaults, then the YAML file named
// by TENANCY_CONFIG_FILE, then environment variables, and validates it
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(EnvPrefix + "CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("HOST", s.Host)
	s.Port = getEnv("PORT", s.Port)
	s.HealthPort = getEnv("HEALTH_PORT", s.HealthPort)
	s.ReadTimeout = getEnvDuration("READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.MaxBodyBytes = getEnvInt64("MAX_BODY_BYTES", s.MaxBodyBytes)
	s.CORSOrigins = getEnvList("CORS_ORIGINS", s.CORSOrigins)

	d := &c.Database
	d.URL = getEnv("DATABASE_URL", d.URL)
	d.MaxOpenConns = getEnvInt("DATABASE_MAX_OPEN_CONNS", d.MaxOpenConns)
	d.MaxIdleConns = getEnvInt("DATABASE_MAX_IDLE_CONNS", d.MaxIdleConns)
	d.ConnMaxLifetime = getEnvDuration("DATABASE_CONN_MAX_LIFETIME", d.ConnMaxLifetime)
	d.ConnectTimeout = getEnvDuration("DATABASE_CONNECT_TIMEOUT", d.ConnectTimeout)

	r := &c.Redis
	r.URL = getEnv("REDIS_URL", r.URL)
	r.Password = getEnv("REDIS_PASSWORD", r.Password)
	r.DB = getEnvInt("REDIS_DB", r.DB)
	r.MaxRetries = getEnvInt("REDIS_MAX_RETRIES", r.MaxRetries)
	r.PoolSize = getEnvInt("REDIS_POOL_SIZE", r.PoolSize)
	r.HostCacheTTL = getEnvDuration("HOST_CACHE_TTL", r.HostCacheTTL)

	st := &c.Storage
	st.Type = getEnv("STORAGE_TYPE", st.Type)
	st.FilesystemRoot = getEnv("FILESYSTEM_ROOT", st.FilesystemRoot)
	st.S3Endpoint = getEnv("S3_ENDPOINT", st.S3Endpoint)
	st.S3Region = getEnv("S3_REGION", st.S3Region)
	st.S3Bucket = getEnv("S3_BUCKET", st.S3Bucket)
	st.S3AccessKey = getEnv("S3_ACCESS_KEY", st.S3AccessKey)
	st.S3SecretKey = getEnv("S3_SECRET_KEY", st.S3SecretKey)
	st.S3UsePathStyle = getEnvBool("S3_USE_PATH_STYLE", st.S3UsePathStyle)

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.TokenTTL = getEnvDuration("TOKEN_TTL", c.Auth.TokenTTL)

	c.Gateway.WebhookSecret = getEnv("GATEWAY_WEBHOOK_SECRET", c.Gateway.WebhookSecret)
	c.Audit.File.BasePath = getEnv("AUDIT_FILE_PATH", c.Audit.File.BasePath)

	e := &c.Email
	e.SMTP.Host = getEnv("SMTP_HOST", e.SMTP.Host)
	e.SMTP.Port = getEnvInt("SMTP_PORT", e.SMTP.Port)
	e.SMTP.Username = getEnv("SMTP_USERNAME", e.SMTP.Username)
	e.SMTP.Password = getEnv("SMTP_PASSWORD", e.SMTP.Password)
	e.SMTP.From = getEnv("SMTP_FROM", e.SMTP.From)
	e.Workers = getEnvInt("EMAIL_WORKERS", e.Workers)
	e.QueueSize = getEnvInt("EMAIL_QUEUE_SIZE", e.QueueSize)

	sc := &c.Scheduler
	sc.SubscriptionSweep = getEnv("CRON_SUBSCRIPTION_SWEEP", sc.SubscriptionSweep)
	sc.OverdueInvoices = getEnv("CRON_OVERDUE_INVOICES", sc.OverdueInvoices)
	sc.InvitationCleanup = getEnv("CRON_INVITATION_CLEANUP", sc.InvitationCleanup)
	sc.TrialReminders = getEnv("CRON_TRIAL_REMINDERS", sc.TrialReminders)
	sc.TrialReminderDays = getEnvInt("TRIAL_REMINDER_DAYS", sc.TrialReminderDays)
	sc.ActivityRetention = getEnv("CRON_ACTIVITY_RETENTION", sc.ActivityRetention)
	sc.ActivityRetentionDays = getEnvInt("ACTIVITY_RETENTION_DAYS", sc.ActivityRetentionDays)

	o := &c.Observability
	o.LogLevel = getEnv("LOG_LEVEL", o.LogLevel)
	o.LogFormat = getEnv("LOG_FORMAT", o.LogFormat)
	o.MetricsEnabled = getEnvBool("METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("OTEL_SAMPLE_RATIO", o.OTelSampleRatio)

	t := &c.Tenancy
	t.BaseDomain = getEnv("BASE_DOMAIN", t.BaseDomain)
	t.PlanSeedFile = getEnv("PLAN_SEED_FILE", t.PlanSeedFile)
	t.WatchPlanSeed = getEnvBool("WATCH_PLAN_SEED", t.WatchPlanSeed)
	t.SignupRateLimit = getEnvInt("SIGNUP_RATE_LIMIT", t.SignupRateLimit)
	t.SignupRateWindow = getEnvDuration("SIGNUP_RATE_WINDOW", t.SignupRateWindow)
	t.PlanCacheSize = getEnvInt("PLAN_CACHE_SIZE", t.PlanCacheSize)
	t.PlanCacheTTL = getEnvDuration("PLAN_CACHE_TTL", t.PlanCacheTTL)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}

	switch c.Storage.Type {
	case "filesystem":
		if c.Storage.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem storage")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be filesystem or s3)", c.Storage.Type)
	}

	if c.Email.SMTP.Host != "" && c.Email.SMTP.From == "" {
		return fmt.Errorf("SMTP from address is required when SMTP host is set")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{
		"subscription_sweep": c.Scheduler.SubscriptionSweep,
		"overdue_invoices":   c.Scheduler.OverdueInvoices,
		"invitation_cleanup": c.Scheduler.InvitationCleanup,
		"trial_reminders":    c.Scheduler.TrialReminders,
		"activity_retention": c.Scheduler.ActivityRetention,
	} {
		if spec == "" {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("invalid cron spec for %s: %w", name, err)
		}
	}

	if c.Tenancy.BaseDomain == "" {
		return fmt.Errorf("base domain is required")
	}
	if c.Tenancy.SignupRateLimit <= 0 || c.Tenancy.SignupRateWindow <= 0 {
		return fmt.Errorf("signup rate limit and window must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns TENANCY_<key> or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated environment variable
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(EnvPrefix + key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
