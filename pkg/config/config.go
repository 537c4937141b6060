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
	JWT          JWTConfig
	Fulfillment  FulfillmentConfig
	Otp          OtpConfig
	OtpRateLimit OtpRateLimitConfig
	CodPolling   CodPollingConfig
	Gateway      GatewayConfig
	Sms          SmsConfig
	Events       EventsConfig
	FeatureFlags FeatureFlagsConfig
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
	Env          string `envconfig:"ZAMMER_APP_ENV" required:"true"`
	Port         string `envconfig:"ZAMMER_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ZAMMER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ZAMMER_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ZAMMER_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ZAMMER_DB_DSN"`
	Driver string `envconfig:"ZAMMER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ZAMMER_DB_HOST"`
	LegacyPort     int    `envconfig:"ZAMMER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ZAMMER_DB_USER"`
	LegacyPassword string `envconfig:"ZAMMER_DB_PASSWORD"`
	LegacyName     string `envconfig:"ZAMMER_DB_NAME"`
	LegacySSLMode  string `envconfig:"ZAMMER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ZAMMER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ZAMMER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ZAMMER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ZAMMER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ZAMMER_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ZAMMER_REDIS_ADDR"`
	Password     string        `envconfig:"ZAMMER_REDIS_PASSWORD"`
	DB           int           `envconfig:"ZAMMER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ZAMMER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ZAMMER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ZAMMER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ZAMMER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ZAMMER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"ZAMMER_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ZAMMER_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"ZAMMER_JWT_EXPIRATION_MINUTES" default:"60"`
}

// FulfillmentConfig tunes the order state machine itself.
type FulfillmentConfig struct {
	// AutoApprovalDeadline is how long an order may sit pending admin action
	// before the sweep approves it. The sweep cadence is SweepInterval.
	AutoApprovalDeadline time.Duration `envconfig:"ZAMMER_FULFILLMENT_AUTO_APPROVAL_DEADLINE" default:"30m"`
	SweepInterval        time.Duration `envconfig:"ZAMMER_FULFILLMENT_SWEEP_INTERVAL" default:"1m"`
	// AgentSharePercent is the agent's cut of the delivery fee at completion.
	AgentSharePercent string `envconfig:"ZAMMER_FULFILLMENT_AGENT_SHARE_PERCENT" default:"80"`
}

type OtpConfig struct {
	CodeLength int           `envconfig:"ZAMMER_OTP_CODE_LENGTH" default:"6"`
	TTL        time.Duration `envconfig:"ZAMMER_OTP_TTL" default:"10m"`
}

// OtpRateLimitConfig throttles the delivery-code endpoints.
type OtpRateLimitConfig struct {
	Window      time.Duration `envconfig:"ZAMMER_OTP_RATE_WINDOW" default:"10m"`
	IPLimit     int           `envconfig:"ZAMMER_OTP_RATE_IP_LIMIT" default:"30"`
	SendLimit   int           `envconfig:"ZAMMER_OTP_RATE_SEND_LIMIT" default:"5"`
	VerifyLimit int           `envconfig:"ZAMMER_OTP_RATE_VERIFY_LIMIT" default:"10"`
}

// CodPollingConfig bounds the charge-status polling loop for QR payments.
type CodPollingConfig struct {
	ShortInterval time.Duration `envconfig:"ZAMMER_COD_POLL_SHORT_INTERVAL" default:"5s"`
	ShortWindow   time.Duration `envconfig:"ZAMMER_COD_POLL_SHORT_WINDOW" default:"2m"`
	LongInterval  time.Duration `envconfig:"ZAMMER_COD_POLL_LONG_INTERVAL" default:"20s"`
	Ceiling       time.Duration `envconfig:"ZAMMER_COD_POLL_CEILING" default:"10m"`
}

type GatewayConfig struct {
	AccessToken string `envconfig:"ZAMMER_GATEWAY_ACCESS_TOKEN"`
	Environment string `envconfig:"ZAMMER_GATEWAY_ENV" default:"sandbox"`
	LocationID  string `envconfig:"ZAMMER_GATEWAY_LOCATION_ID"`
	Currency    string `envconfig:"ZAMMER_GATEWAY_CURRENCY" default:"INR"`
}

type SmsConfig struct {
	BaseURL  string        `envconfig:"ZAMMER_SMS_BASE_URL"`
	APIKey   string        `envconfig:"ZAMMER_SMS_API_KEY"`
	SenderID string        `envconfig:"ZAMMER_SMS_SENDER_ID" default:"ZAMMER"`
	Timeout  time.Duration `envconfig:"ZAMMER_SMS_TIMEOUT" default:"10s"`
}

type EventsConfig struct {
	// ChannelBuffer is the per-subscriber buffer; events beyond it are dropped.
	ChannelBuffer int           `envconfig:"ZAMMER_EVENTS_CHANNEL_BUFFER" default:"16"`
	KeepAlive     time.Duration `envconfig:"ZAMMER_EVENTS_KEEPALIVE" default:"25s"`
	RedisChannel  string        `envconfig:"ZAMMER_EVENTS_REDIS_CHANNEL" default:"zm:events"`
	DisableBridge bool          `envconfig:"ZAMMER_EVENTS_DISABLE_BRIDGE" default:"false"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"ZAMMER_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"ZAMMER_AUTO_MIGRATE" default:"false"`
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
