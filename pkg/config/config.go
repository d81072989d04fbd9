package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	Vapi         VapiConfig
	Billing      BillingConfig
	Numbers      NumbersConfig
	PayPal       PayPalConfig
	GCP          GCPConfig
	GCS          GCSConfig
	S3           S3Config
	Recordings   RecordingsConfig
	RateLimit    RateLimitConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if _, err := cfg.Vapi.Rate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"RINGWISE_APP_ENV" required:"true"`
	Port         string `envconfig:"RINGWISE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"RINGWISE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"RINGWISE_LOG_WARN_STACK" default:"false"`

	// CORSAllowedOrigins is a comma separated list for the admin console.
	CORSAllowedOrigins []string `envconfig:"RINGWISE_CORS_ALLOWED_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"RINGWISE_SERVICE_KIND" default:"api"`

	// MetricsAddr exposes /metrics on background workers when set, e.g. ":9090".
	MetricsAddr string `envconfig:"RINGWISE_WORKER_METRICS_ADDR"`
}

type DBConfig struct {
	DSN    string `envconfig:"RINGWISE_DB_DSN"`
	Driver string `envconfig:"RINGWISE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"RINGWISE_DB_HOST"`
	LegacyPort     int    `envconfig:"RINGWISE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"RINGWISE_DB_USER"`
	LegacyPassword string `envconfig:"RINGWISE_DB_PASSWORD"`
	LegacyName     string `envconfig:"RINGWISE_DB_NAME"`
	LegacySSLMode  string `envconfig:"RINGWISE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"RINGWISE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"RINGWISE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"RINGWISE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"RINGWISE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"RINGWISE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"RINGWISE_REDIS_ADDR"`
	Password     string        `envconfig:"RINGWISE_REDIS_PASSWORD"`
	DB           int           `envconfig:"RINGWISE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"RINGWISE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"RINGWISE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"RINGWISE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"RINGWISE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"RINGWISE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig describes the access tokens minted by the auth service. This
// backend only verifies them.
type JWTConfig struct {
	Secret            string `envconfig:"RINGWISE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"RINGWISE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"RINGWISE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"RINGWISE_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"RINGWISE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type VapiConfig struct {
	WebhookSecret  string        `envconfig:"RINGWISE_VAPI_WEBHOOK_SECRET"`
	PerMinuteRate  string        `envconfig:"RINGWISE_VAPI_PER_MINUTE_RATE" default:"0.17"`
	ArchiveTimeout time.Duration `envconfig:"RINGWISE_VAPI_ARCHIVE_TIMEOUT" default:"5s"`
}

// Rate parses the provider per-minute rate. Every cost computation reads it
// from here.
func (v VapiConfig) Rate() (decimal.Decimal, error) {
	raw := strings.TrimSpace(v.PerMinuteRate)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%s is required", EnvVapiPerMinuteRate)
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing %s: %w", EnvVapiPerMinuteRate, err)
	}
	if rate.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must be non-negative", EnvVapiPerMinuteRate)
	}
	return rate, nil
}

type BillingConfig struct {
	PeriodDays int    `envconfig:"RINGWISE_BILLING_PERIOD_DAYS" default:"30"`
	FreePlanID string `envconfig:"RINGWISE_BILLING_FREE_PLAN_ID" default:"free"`
}

// Period returns the renewal window applied on subscription activation.
func (b BillingConfig) Period() time.Duration {
	days := b.PeriodDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

type NumbersConfig struct {
	DefaultCountry     string `envconfig:"RINGWISE_NUMBERS_DEFAULT_COUNTRY" default:"FR"`
	AllocationAttempts int    `envconfig:"RINGWISE_NUMBERS_ALLOCATION_ATTEMPTS" default:"3"`
}

type PayPalConfig struct {
	ClientID       string `envconfig:"RINGWISE_PAYPAL_CLIENT_ID"`
	Secret         string `envconfig:"RINGWISE_PAYPAL_SECRET"`
	Env            string `envconfig:"RINGWISE_PAYPAL_ENV" default:"sandbox"`
	ReturnDeepLink string `envconfig:"RINGWISE_PAYPAL_RETURN_DEEP_LINK" default:"ringwise://payment/success"`
	CancelDeepLink string `envconfig:"RINGWISE_PAYPAL_CANCEL_DEEP_LINK" default:"ringwise://payment/cancel"`
}

// Environment returns the normalized PayPal environment (sandbox/live).
func (p PayPalConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(p.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type GCPConfig struct {
	ProjectID              string `envconfig:"RINGWISE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"RINGWISE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"RINGWISE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName string `envconfig:"RINGWISE_GCS_BUCKET_NAME"`
}

type S3Config struct {
	Bucket          string `envconfig:"RINGWISE_S3_BUCKET"`
	Region          string `envconfig:"RINGWISE_S3_REGION" default:"eu-west-3"`
	AccessKeyID     string `envconfig:"RINGWISE_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `envconfig:"RINGWISE_S3_SECRET_ACCESS_KEY"`
	Endpoint        string `envconfig:"RINGWISE_S3_ENDPOINT"`
	PublicBaseURL   string `envconfig:"RINGWISE_S3_PUBLIC_BASE_URL"`
}

// RecordingsConfig selects where call audio is archived.
type RecordingsConfig struct {
	Backend      string        `envconfig:"RINGWISE_RECORDINGS_BACKEND" default:"gcs"`
	MaxBytes     int64         `envconfig:"RINGWISE_RECORDINGS_MAX_BYTES" default:"104857600"`
	FetchTimeout time.Duration `envconfig:"RINGWISE_RECORDINGS_FETCH_TIMEOUT" default:"30s"`
	RetryRate    float64       `envconfig:"RINGWISE_RECORDINGS_RETRY_RATE" default:"5"`
}

// NormalizedBackend returns gcs, s3 or none.
func (r RecordingsConfig) NormalizedBackend() string {
	switch b := strings.ToLower(strings.TrimSpace(r.Backend)); b {
	case "", "gcs":
		return "gcs"
	default:
		return b
	}
}

type RateLimitConfig struct {
	Window      time.Duration `envconfig:"RINGWISE_RATE_LIMIT_WINDOW" default:"1m"`
	AllocateMax int           `envconfig:"RINGWISE_RATE_LIMIT_ALLOCATE_MAX" default:"10"`
	CaptureMax  int           `envconfig:"RINGWISE_RATE_LIMIT_CAPTURE_MAX" default:"10"`
}

type PubSubConfig struct {
	DomainTopic           string `envconfig:"RINGWISE_PUBSUB_DOMAIN_TOPIC" default:"ringwise-domain-events"`
	AnalyticsSubscription string `envconfig:"RINGWISE_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"ringwise-usage-analytics"`
}

type BigQueryConfig struct {
	Dataset          string `envconfig:"RINGWISE_BIGQUERY_DATASET" default:"ringwise"`
	UsageEventsTable string `envconfig:"RINGWISE_BIGQUERY_USAGE_EVENTS_TABLE" default:"usage_events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"RINGWISE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"RINGWISE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"RINGWISE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Schedule            string        `envconfig:"RINGWISE_CRON_SCHEDULE" default:"@every 15m"`
	LockTTL             time.Duration `envconfig:"RINGWISE_CRON_LOCK_TTL" default:"14m"`
	ArchiveRetryWindow  time.Duration `envconfig:"RINGWISE_ARCHIVE_RETRY_WINDOW" default:"24h"`
	ArchiveRetryBatch   int           `envconfig:"RINGWISE_ARCHIVE_RETRY_BATCH" default:"100"`
	ArchiveRetryTimeout time.Duration `envconfig:"RINGWISE_ARCHIVE_RETRY_TIMEOUT" default:"30s"`
	OutboxRetention     time.Duration `envconfig:"RINGWISE_OUTBOX_RETENTION" default:"720h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
