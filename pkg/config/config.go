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
	Sessions     SessionsConfig
	Bots         BotsConfig
	Escrow       EscrowConfig
	Sweeper      SweeperConfig
	Outbox       OutboxConfig
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
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PATUNGAN_APP_ENV" required:"true"`
	Port         string `envconfig:"PATUNGAN_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PATUNGAN_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PATUNGAN_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PATUNGAN_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PATUNGAN_DB_DSN"`
	Driver string `envconfig:"PATUNGAN_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PATUNGAN_DB_HOST"`
	LegacyPort     int    `envconfig:"PATUNGAN_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PATUNGAN_DB_USER"`
	LegacyPassword string `envconfig:"PATUNGAN_DB_PASSWORD"`
	LegacyName     string `envconfig:"PATUNGAN_DB_NAME"`
	LegacySSLMode  string `envconfig:"PATUNGAN_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PATUNGAN_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PATUNGAN_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PATUNGAN_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PATUNGAN_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PATUNGAN_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PATUNGAN_REDIS_ADDR"`
	Password     string        `envconfig:"PATUNGAN_REDIS_PASSWORD"`
	DB           int           `envconfig:"PATUNGAN_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PATUNGAN_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PATUNGAN_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PATUNGAN_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PATUNGAN_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PATUNGAN_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"PATUNGAN_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"PATUNGAN_AUTO_MIGRATE" default:"false"`
}

// SessionsConfig carries the policy knobs of the session state machine.
type SessionsConfig struct {
	// RevertOnLeave controls whether a leave that drops the pool below the
	// target reverts moq_reached sessions back to active.
	RevertOnLeave  bool `envconfig:"PATUNGAN_SESSIONS_REVERT_ON_LEAVE" default:"true"`
	MaxJoinRetries int  `envconfig:"PATUNGAN_SESSIONS_MAX_JOIN_RETRIES" default:"3"`
}

// BotsConfig tunes synthetic participant injection.
type BotsConfig struct {
	Enabled bool `envconfig:"PATUNGAN_BOTS_ENABLED" default:"true"`
	// WindowMinutes is the pre-deadline window in which stalled sessions
	// receive synthetic demand.
	WindowMinutes int `envconfig:"PATUNGAN_BOTS_WINDOW_MINUTES" default:"10"`
	// Refundable controls whether bot commitments are included in
	// session-level refunds when a session fails or is cancelled.
	Refundable bool `envconfig:"PATUNGAN_BOTS_REFUNDABLE" default:"true"`
}

type EscrowConfig struct {
	PaymentBaseURL     string        `envconfig:"PATUNGAN_ESCROW_PAYMENT_BASE_URL" required:"true"`
	FulfillmentBaseURL string        `envconfig:"PATUNGAN_ESCROW_FULFILLMENT_BASE_URL" required:"true"`
	RequestTimeout     time.Duration `envconfig:"PATUNGAN_ESCROW_REQUEST_TIMEOUT" default:"10s"`
	MaxAttempts        int           `envconfig:"PATUNGAN_ESCROW_MAX_ATTEMPTS" default:"5"`
	BaseDelay          time.Duration `envconfig:"PATUNGAN_ESCROW_BASE_DELAY" default:"500ms"`
	MaxDelay           time.Duration `envconfig:"PATUNGAN_ESCROW_MAX_DELAY" default:"30s"`
	Multiplier         float64       `envconfig:"PATUNGAN_ESCROW_MULTIPLIER" default:"2"`
	DispatchBatchSize  int           `envconfig:"PATUNGAN_ESCROW_DISPATCH_BATCH_SIZE" default:"25"`
	DispatchPollMS     int           `envconfig:"PATUNGAN_ESCROW_DISPATCH_POLL_MS" default:"1000"`
	TaskMaxAttempts    int           `envconfig:"PATUNGAN_ESCROW_TASK_MAX_ATTEMPTS" default:"20"`
}

type SweeperConfig struct {
	Interval time.Duration `envconfig:"PATUNGAN_SWEEPER_INTERVAL" default:"1m"`
	LockTTL  time.Duration `envconfig:"PATUNGAN_SWEEPER_LOCK_TTL" default:"5m"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PATUNGAN_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PATUNGAN_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PATUNGAN_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PATUNGAN_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"PATUNGAN_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PATUNGAN_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic        string `envconfig:"PATUNGAN_PUBSUB_NOTIFICATION_TOPIC" default:"pt-notification-events"`
	NotificationSubscription string `envconfig:"PATUNGAN_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
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
