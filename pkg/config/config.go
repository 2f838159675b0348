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
	Checkout     CheckoutConfig
	Stripe       StripeConfig
	Webhook      WebhookConfig
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
	if err := cfg.Checkout.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TAILORMP_APP_ENV" required:"true"`
	Port         string `envconfig:"TAILORMP_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"TAILORMP_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"TAILORMP_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"TAILORMP_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"TAILORMP_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"TAILORMP_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"TAILORMP_DB_DSN"`
	Driver string `envconfig:"TAILORMP_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"TAILORMP_DB_HOST"`
	Port     int    `envconfig:"TAILORMP_DB_PORT" default:"5432"`
	User     string `envconfig:"TAILORMP_DB_USER"`
	Password string `envconfig:"TAILORMP_DB_PASSWORD"`
	Name     string `envconfig:"TAILORMP_DB_NAME"`
	SSLMode  string `envconfig:"TAILORMP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TAILORMP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TAILORMP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TAILORMP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TAILORMP_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TAILORMP_REDIS_URL"`
	Address      string        `envconfig:"TAILORMP_REDIS_ADDR" default:"localhost:6379"`
	Password     string        `envconfig:"TAILORMP_REDIS_PASSWORD"`
	DB           int           `envconfig:"TAILORMP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TAILORMP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TAILORMP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TAILORMP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TAILORMP_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"TAILORMP_REDIS_WRITE_TIMEOUT" default:"3s"`
}

// JWTConfig holds the verification settings for tokens minted by the identity provider.
type JWTConfig struct {
	Secret string `envconfig:"TAILORMP_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"TAILORMP_JWT_ISSUER" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"TAILORMP_AUTO_MIGRATE" default:"false"`
}

// CheckoutConfig holds pricing and session parameters for the checkout core.
type CheckoutConfig struct {
	PlatformRate      decimal.Decimal `envconfig:"TAILORMP_PLATFORM_RATE" default:"0.40"`
	Currency          string          `envconfig:"TAILORMP_CURRENCY" default:"USD"`
	PriceToleranceBPS int64           `envconfig:"TAILORMP_CHECKOUT_PRICE_TOLERANCE_BPS" default:"500"`
	PendingTTL        time.Duration   `envconfig:"TAILORMP_CHECKOUT_PENDING_TTL" default:"24h"`
	SessionTTL        time.Duration   `envconfig:"TAILORMP_CHECKOUT_SESSION_TTL" default:"1h"`
	ExpiryInterval    time.Duration   `envconfig:"TAILORMP_CHECKOUT_EXPIRY_INTERVAL" default:"15m"`
}

func (c CheckoutConfig) validate() error {
	if c.PlatformRate.IsNegative() || c.PlatformRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be between 0 and 1, got %s", EnvPlatformRate, c.PlatformRate.String())
	}
	if len(strings.TrimSpace(c.Currency)) != 3 {
		return fmt.Errorf("%s must be a three letter currency code", EnvCurrency)
	}
	// Stripe accepts session expiries between 30 minutes and 24 hours out.
	if c.SessionTTL < MinCheckoutSessionTTL || c.SessionTTL > MaxCheckoutSessionTTL {
		return fmt.Errorf("%s must be between %s and %s, got %s", EnvCheckoutSessionTTL, MinCheckoutSessionTTL, MaxCheckoutSessionTTL, c.SessionTTL)
	}
	return nil
}

type StripeConfig struct {
	APIKey        string        `envconfig:"TAILORMP_STRIPE_API_KEY"`
	WebhookSecret string        `envconfig:"TAILORMP_STRIPE_WEBHOOK_SECRET"`
	Env           string        `envconfig:"TAILORMP_STRIPE_ENV" default:"test"`
	Timeout       time.Duration `envconfig:"TAILORMP_STRIPE_TIMEOUT" default:"10s"`
	SuccessURL    string        `envconfig:"TAILORMP_STRIPE_SUCCESS_URL" default:"http://localhost:3000/checkout/success?session_id={CHECKOUT_SESSION_ID}"`
	CancelURL     string        `envconfig:"TAILORMP_STRIPE_CANCEL_URL" default:"http://localhost:3000/cart"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type WebhookConfig struct {
	IdempotencyTTL time.Duration `envconfig:"TAILORMP_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"TAILORMP_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"TAILORMP_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"TAILORMP_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"TAILORMP_OUTBOX_RETENTION_DAYS" default:"30"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"TAILORMP_GCP_PROJECT_ID"`
	CredentialsFile string `envconfig:"TAILORMP_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic string `envconfig:"TAILORMP_PUBSUB_ORDERS_TOPIC" default:"tailormp-order-events"`
	DLQTopic    string `envconfig:"TAILORMP_PUBSUB_DLQ_TOPIC"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range partialDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
