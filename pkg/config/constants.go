package config

import "time"

const (
	EnvPrefix = "TAILORMP"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv             = "TAILORMP_APP_ENV"
	EnvPort               = "TAILORMP_APP_PORT"
	EnvDBDSN              = "TAILORMP_DB_DSN"
	EnvDBHost             = "TAILORMP_DB_HOST"
	EnvDBUser             = "TAILORMP_DB_USER"
	EnvDBName             = "TAILORMP_DB_NAME"
	EnvRedisURL           = "TAILORMP_REDIS_URL"
	EnvJWTSecret          = "TAILORMP_JWT_SECRET"
	EnvJWTIssuer          = "TAILORMP_JWT_ISSUER"
	EnvPlatformRate       = "TAILORMP_PLATFORM_RATE"
	EnvCurrency           = "TAILORMP_CURRENCY"
	EnvCheckoutSessionTTL = "TAILORMP_CHECKOUT_SESSION_TTL"
	EnvStripeKey          = "TAILORMP_STRIPE_API_KEY"
	EnvStripeSecret       = "TAILORMP_STRIPE_WEBHOOK_SECRET"
)

const (
	MinCheckoutSessionTTL = 30 * time.Minute
	MaxCheckoutSessionTTL = 24 * time.Hour
)

var partialDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
