package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Payments     PaymentsConfig
	Storefront   StorefrontConfig
	Reconcile    ReconcileConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DriverSQLite
		if cfg.DB.DSN == "" {
			cfg.DB.DSN = DefaultSQLiteDSN
		}
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if _, err := cfg.Storefront.OrgID(); err != nil {
		return nil, err
	}
	if err := cfg.Payments.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PEPTIDECRM_APP_ENV" required:"true"`
	Port         string `envconfig:"PEPTIDECRM_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PEPTIDECRM_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"PEPTIDECRM_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"PEPTIDECRM_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"PEPTIDECRM_DB_DSN"`
	Driver string `envconfig:"PEPTIDECRM_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PEPTIDECRM_DB_HOST"`
	LegacyPort     int    `envconfig:"PEPTIDECRM_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PEPTIDECRM_DB_USER"`
	LegacyPassword string `envconfig:"PEPTIDECRM_DB_PASSWORD"`
	LegacyName     string `envconfig:"PEPTIDECRM_DB_NAME"`
	LegacySSLMode  string `envconfig:"PEPTIDECRM_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PEPTIDECRM_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PEPTIDECRM_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PEPTIDECRM_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PEPTIDECRM_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQueryThreshold logs queries slower than this at warn; 0 disables.
	SlowQueryThreshold time.Duration `envconfig:"PEPTIDECRM_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PEPTIDECRM_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PEPTIDECRM_REDIS_ADDR"`
	Password     string        `envconfig:"PEPTIDECRM_REDIS_PASSWORD"`
	DB           int           `envconfig:"PEPTIDECRM_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PEPTIDECRM_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PEPTIDECRM_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PEPTIDECRM_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PEPTIDECRM_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PEPTIDECRM_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// PaymentsConfig selects the card processor for this deployment. The provider is
// resolved once at start-up and injected wherever checkout or webhooks need it.
type PaymentsConfig struct {
	Provider      string        `envconfig:"PEPTIDECRM_PAYMENT_PROVIDER" default:"psifi"`
	APIKey        string        `envconfig:"PEPTIDECRM_PAYMENT_API_KEY"`
	WebhookSecret string        `envconfig:"PEPTIDECRM_PAYMENT_WEBHOOK_SECRET"`
	BaseURL       string        `envconfig:"PEPTIDECRM_PAYMENT_BASE_URL"`
	Timeout       time.Duration `envconfig:"PEPTIDECRM_PAYMENT_TIMEOUT" default:"15s"`
	Currency      string        `envconfig:"PEPTIDECRM_PAYMENT_CURRENCY" default:"usd"`
	SiteURL       string        `envconfig:"PEPTIDECRM_PUBLIC_SITE_URL"`
}

// ProviderName returns the normalized provider key.
func (p PaymentsConfig) ProviderName() string {
	name := strings.TrimSpace(strings.ToLower(p.Provider))
	if name == "" {
		return ProviderPsiFi
	}
	return name
}

func (p PaymentsConfig) Validate() error {
	switch p.ProviderName() {
	case ProviderPsiFi, ProviderStripe:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvPaymentProvider, ProviderPsiFi, ProviderStripe)
	}
	if p.Timeout < 0 {
		return fmt.Errorf("%s must not be negative", EnvPaymentTimeout)
	}
	return nil
}

// StorefrontConfig covers the WooCommerce store that pushes order webhooks and
// serves the REST API used by the batch sync command.
type StorefrontConfig struct {
	WebhookSecret     string  `envconfig:"PEPTIDECRM_WOO_WEBHOOK_SECRET"`
	DefaultOrgID      string  `envconfig:"PEPTIDECRM_DEFAULT_ORG_ID" required:"true"`
	BaseURL           string  `envconfig:"PEPTIDECRM_WOO_BASE_URL"`
	ConsumerKey       string  `envconfig:"PEPTIDECRM_WOO_CONSUMER_KEY"`
	ConsumerSecret    string  `envconfig:"PEPTIDECRM_WOO_CONSUMER_SECRET"`
	RequestsPerSecond float64 `envconfig:"PEPTIDECRM_WOO_REQUESTS_PER_SECOND" default:"4"`
}

// OrgID parses DefaultOrgID, the organization single-tenant sync paths write to.
func (s StorefrontConfig) OrgID() (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s.DefaultOrgID))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%s must be a uuid", EnvDefaultOrgID)
	}
	return id, nil
}

type ReconcileConfig struct {
	MerchantFeeRate  string        `envconfig:"PEPTIDECRM_MERCHANT_FEE_RATE" default:"0.05"`
	CatalogRulesPath string        `envconfig:"PEPTIDECRM_CATALOG_RULES_PATH"`
	WebhookDedupeTTL time.Duration `envconfig:"PEPTIDECRM_WEBHOOK_DEDUPE_TTL" default:"72h"`
}

// FeeRate parses MerchantFeeRate, falling back to the default 5% when unset or invalid.
func (r ReconcileConfig) FeeRate() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(r.MerchantFeeRate))
	if err != nil || rate.IsNegative() {
		return decimal.RequireFromString(DefaultMerchantFeeRate)
	}
	return rate
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"PEPTIDECRM_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"PEPTIDECRM_AUTO_MIGRATE" default:"false"`
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
