package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Stripe       StripeConfig
	Polling      PollingConfig
	Webhook      WebhookConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Polling.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PAYSYNC_APP_ENV" required:"true"`
	Port         string `envconfig:"PAYSYNC_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"PAYSYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PAYSYNC_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"PAYSYNC_LOG_FORMAT" default:"json"`

	CORSOrigins     []string      `envconfig:"PAYSYNC_CORS_ORIGINS"`
	ShutdownTimeout time.Duration `envconfig:"PAYSYNC_SHUTDOWN_TIMEOUT" default:"15s"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PAYSYNC_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PAYSYNC_DB_DSN"`
	Driver string `envconfig:"PAYSYNC_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PAYSYNC_DB_HOST"`
	LegacyPort     int    `envconfig:"PAYSYNC_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PAYSYNC_DB_USER"`
	LegacyPassword string `envconfig:"PAYSYNC_DB_PASSWORD"`
	LegacyName     string `envconfig:"PAYSYNC_DB_NAME"`
	LegacySSLMode  string `envconfig:"PAYSYNC_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PAYSYNC_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PAYSYNC_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PAYSYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PAYSYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PAYSYNC_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PAYSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"PAYSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"PAYSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PAYSYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PAYSYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PAYSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PAYSYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PAYSYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PAYSYNC_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	APIKey          string `envconfig:"PAYSYNC_STRIPE_API_KEY"`
	Secret          string `envconfig:"PAYSYNC_STRIPE_SECRET"`
	Env             string `envconfig:"PAYSYNC_STRIPE_ENV" default:"test"`
	SuccessURL      string `envconfig:"PAYSYNC_STRIPE_SUCCESS_URL"`
	CancelURL       string `envconfig:"PAYSYNC_STRIPE_CANCEL_URL"`
	DefaultCurrency string `envconfig:"PAYSYNC_STRIPE_DEFAULT_CURRENCY" default:"usd"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// PollingConfig drives the background status poller.
type PollingConfig struct {
	Enabled      bool          `envconfig:"PAYSYNC_POLLING_ENABLED" default:"true"`
	Interval     time.Duration `envconfig:"PAYSYNC_POLLING_INTERVAL" default:"30s"`
	BatchSize    int           `envconfig:"PAYSYNC_POLLING_BATCH_SIZE" default:"50"`
	Concurrency  int           `envconfig:"PAYSYNC_POLLING_CONCURRENCY" default:"10"`
	MaxRetries   int           `envconfig:"PAYSYNC_POLLING_MAX_RETRIES" default:"5"`
	Timeout      time.Duration `envconfig:"PAYSYNC_POLLING_TIMEOUT" default:"30m"`
	BackoffCap   time.Duration `envconfig:"PAYSYNC_POLLING_BACKOFF_CAP" default:"5m"`
	InitialDelay time.Duration `envconfig:"PAYSYNC_POLLING_INITIAL_DELAY" default:"10s"`
	LockTTL      time.Duration `envconfig:"PAYSYNC_POLLING_LOCK_TTL" default:"30s"`
}

func (p PollingConfig) validate() error {
	if p.Interval <= 0 {
		return fmt.Errorf("%s must be positive", EnvPollingInterval)
	}
	if p.MaxRetries <= 0 {
		return fmt.Errorf("%s must be positive", EnvPollingMaxRetries)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvPollingTimeout)
	}
	return nil
}

type WebhookConfig struct {
	IdempotencyTTL time.Duration `envconfig:"PAYSYNC_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"PAYSYNC_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"PAYSYNC_PUBSUB_NOTIFICATION_TOPIC" default:"paysync-notification-events"`
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
