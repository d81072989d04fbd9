package config

// EnvPrefix is passed to envconfig; every field carries its full variable name.
const EnvPrefix = "RINGWISE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv            = "RINGWISE_APP_ENV"
	EnvPort              = "RINGWISE_APP_PORT"
	EnvDBDSN             = "RINGWISE_DB_DSN"
	EnvDBHost            = "RINGWISE_DB_HOST"
	EnvDBUser            = "RINGWISE_DB_USER"
	EnvDBName            = "RINGWISE_DB_NAME"
	EnvRedisURL          = "RINGWISE_REDIS_URL"
	EnvJWTSecret         = "RINGWISE_JWT_SECRET"
	EnvJWTIssuer         = "RINGWISE_JWT_ISSUER"
	EnvVapiWebhookSecret = "RINGWISE_VAPI_WEBHOOK_SECRET"
	EnvVapiPerMinuteRate = "RINGWISE_VAPI_PER_MINUTE_RATE"
	EnvBillingPeriodDays = "RINGWISE_BILLING_PERIOD_DAYS"
	EnvNumbersDefault    = "RINGWISE_NUMBERS_DEFAULT_COUNTRY"
	EnvGCSBucket         = "RINGWISE_GCS_BUCKET_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
