package config

const EnvPrefix = "PEPTIDECRM"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	ProviderPsiFi  = "psifi"
	ProviderStripe = "stripe"
)

const DefaultMerchantFeeRate = "0.05"

const (
	DriverSQLite     = "sqlite"
	DefaultSQLiteDSN = "file:peptidecrm.db?_foreign_keys=on"
)

const (
	EnvAppEnv   = "PEPTIDECRM_APP_ENV"
	EnvPort     = "PEPTIDECRM_APP_PORT"
	EnvLogLevel = "PEPTIDECRM_LOG_LEVEL"

	EnvDBDSN  = "PEPTIDECRM_DB_DSN"
	EnvDBHost = "PEPTIDECRM_DB_HOST"
	EnvDBUser = "PEPTIDECRM_DB_USER"
	EnvDBName = "PEPTIDECRM_DB_NAME"

	EnvRedisURL = "PEPTIDECRM_REDIS_URL"

	EnvPaymentProvider      = "PEPTIDECRM_PAYMENT_PROVIDER"
	EnvPaymentAPIKey        = "PEPTIDECRM_PAYMENT_API_KEY"
	EnvPaymentWebhookSecret = "PEPTIDECRM_PAYMENT_WEBHOOK_SECRET"
	EnvPaymentTimeout       = "PEPTIDECRM_PAYMENT_TIMEOUT"

	EnvWooWebhookSecret = "PEPTIDECRM_WOO_WEBHOOK_SECRET"
	EnvDefaultOrgID     = "PEPTIDECRM_DEFAULT_ORG_ID"

	EnvMerchantFeeRate = "PEPTIDECRM_MERCHANT_FEE_RATE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
