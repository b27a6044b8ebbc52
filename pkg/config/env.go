package config

const (
	EnvPrefix = "PAYSYNC"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv    = "PAYSYNC_APP_ENV"
	EnvPort      = "PAYSYNC_APP_PORT"
	EnvLogLevel  = "PAYSYNC_LOG_LEVEL"
	EnvDBDSN     = "PAYSYNC_DB_DSN"
	EnvDBHost    = "PAYSYNC_DB_HOST"
	EnvDBUser    = "PAYSYNC_DB_USER"
	EnvDBName    = "PAYSYNC_DB_NAME"
	EnvRedisURL  = "PAYSYNC_REDIS_URL"
	EnvStripeKey = "PAYSYNC_STRIPE_API_KEY"

	EnvStripeSecret      = "PAYSYNC_STRIPE_SECRET"
	EnvPollingInterval   = "PAYSYNC_POLLING_INTERVAL"
	EnvPollingMaxRetries = "PAYSYNC_POLLING_MAX_RETRIES"
	EnvPollingTimeout    = "PAYSYNC_POLLING_TIMEOUT"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
