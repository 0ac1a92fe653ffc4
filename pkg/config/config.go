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
	API          APIConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	Outbox       OutboxConfig
	Pricing      PricingConfig
	Cashback     CashbackConfig
	Sequence     SequenceConfig
	Gateway      GatewayConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Reconcile    ReconcileConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = "sqlite"
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Pricing.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"GREENBASKET_APP_ENV" required:"true"`
	Port         string `envconfig:"GREENBASKET_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"GREENBASKET_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"GREENBASKET_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"GREENBASKET_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// APIConfig guards the HTTP surface. Admin routes are disabled when
// AdminToken is empty.
type APIConfig struct {
	AdminToken       string        `envconfig:"GREENBASKET_ADMIN_TOKEN"`
	CORSOrigins      []string      `envconfig:"GREENBASKET_CORS_ORIGINS" default:"http://localhost:3000"`
	VerifyRateLimit  int           `envconfig:"GREENBASKET_VERIFY_RATE_LIMIT" default:"10"`
	VerifyRateWindow time.Duration `envconfig:"GREENBASKET_VERIFY_RATE_WINDOW" default:"1m"`
	ShutdownTimeout  time.Duration `envconfig:"GREENBASKET_SHUTDOWN_TIMEOUT" default:"15s"`
}

type ServiceConfig struct {
	Kind string `envconfig:"GREENBASKET_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"GREENBASKET_DB_DSN"`
	Driver string `envconfig:"GREENBASKET_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"GREENBASKET_DB_HOST"`
	LegacyPort     int    `envconfig:"GREENBASKET_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"GREENBASKET_DB_USER"`
	LegacyPassword string `envconfig:"GREENBASKET_DB_PASSWORD"`
	LegacyName     string `envconfig:"GREENBASKET_DB_NAME"`
	LegacySSLMode  string `envconfig:"GREENBASKET_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"GREENBASKET_DB_SQLITE_PATH" default:"greenbasket.db"`

	MaxOpenConns    int           `envconfig:"GREENBASKET_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"GREENBASKET_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"GREENBASKET_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"GREENBASKET_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"GREENBASKET_DB_SLOW_QUERY" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"GREENBASKET_REDIS_URL" required:"true"`
	Address      string        `envconfig:"GREENBASKET_REDIS_ADDR"`
	Password     string        `envconfig:"GREENBASKET_REDIS_PASSWORD"`
	DB           int           `envconfig:"GREENBASKET_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"GREENBASKET_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"GREENBASKET_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"GREENBASKET_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"GREENBASKET_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"GREENBASKET_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"GREENBASKET_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"GREENBASKET_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	IdempotencyTTL        time.Duration `envconfig:"GREENBASKET_EVENTING_IDEMPOTENCY_TTL" default:"24h"`
	PaymentReplayGuardTTL time.Duration `envconfig:"GREENBASKET_PAYMENT_REPLAY_TTL" default:"720h"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"GREENBASKET_OUTBOX_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"GREENBASKET_OUTBOX_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"GREENBASKET_OUTBOX_MAX_ATTEMPTS" default:"10"`
	LeaseDuration  time.Duration `envconfig:"GREENBASKET_OUTBOX_LEASE" default:"1m"`
}

// PricingConfig carries the delivery rule. Amounts are major currency units.
type PricingConfig struct {
	Currency              string `envconfig:"GREENBASKET_CURRENCY" default:"INR"`
	DeliveryFee           string `envconfig:"GREENBASKET_DELIVERY_FEE" default:"40"`
	FreeDeliveryThreshold string `envconfig:"GREENBASKET_FREE_DELIVERY_THRESHOLD" default:"500"`
}

func (p PricingConfig) validate() error {
	if _, err := decimal.NewFromString(p.DeliveryFee); err != nil {
		return fmt.Errorf("invalid %s: %w", EnvDeliveryFee, err)
	}
	if _, err := decimal.NewFromString(p.FreeDeliveryThreshold); err != nil {
		return fmt.Errorf("invalid %s: %w", EnvFreeDeliveryThreshold, err)
	}
	return nil
}

func (p PricingConfig) DeliveryFeeAmount() decimal.Decimal {
	v, _ := decimal.NewFromString(p.DeliveryFee)
	return v
}

func (p PricingConfig) FreeDeliveryThresholdAmount() decimal.Decimal {
	v, _ := decimal.NewFromString(p.FreeDeliveryThreshold)
	return v
}

// CashbackConfig mirrors pricing.CashbackPolicy. Tiers are encoded as
// "lower:upper:percent" triples separated by commas; an empty upper bound is
// open-ended, e.g. "0:1000:1,1000::1.5".
type CashbackConfig struct {
	Enabled          bool     `envconfig:"GREENBASKET_CASHBACK_ENABLED" default:"true"`
	ExcludedMethods  []string `envconfig:"GREENBASKET_CASHBACK_EXCLUDED_METHODS" default:"WALLET"`
	MinPayable       string   `envconfig:"GREENBASKET_CASHBACK_MIN_PAYABLE" default:"100"`
	MinAmount        string   `envconfig:"GREENBASKET_CASHBACK_MIN_AMOUNT" default:"5"`
	MaxAmount        string   `envconfig:"GREENBASKET_CASHBACK_MAX_AMOUNT" default:"10"`
	MinThreshold     int      `envconfig:"GREENBASKET_CASHBACK_MIN_THRESHOLD" default:"2"`
	MaxThreshold     int      `envconfig:"GREENBASKET_CASHBACK_MAX_THRESHOLD" default:"5"`
	Tiers            string   `envconfig:"GREENBASKET_CASHBACK_TIERS" default:"0:1000:1,1000::1.5"`
	FirstOrderPolicy string   `envconfig:"GREENBASKET_CASHBACK_FIRST_ORDER" default:"eligible"`
}

type SequenceConfig struct {
	MaxAttempts int           `envconfig:"GREENBASKET_SEQUENCE_MAX_ATTEMPTS" default:"5"`
	BaseBackoff time.Duration `envconfig:"GREENBASKET_SEQUENCE_BASE_BACKOFF" default:"10ms"`
	CacheSize   int           `envconfig:"GREENBASKET_SEQUENCE_CACHE_SIZE" default:"64"`
	Padding     int           `envconfig:"GREENBASKET_SEQUENCE_PADDING" default:"4"`
}

type GatewayConfig struct {
	BaseURL        string        `envconfig:"GREENBASKET_GATEWAY_BASE_URL" default:"https://api.razorpay.com"`
	KeyID          string        `envconfig:"GREENBASKET_GATEWAY_KEY_ID"`
	KeySecret      string        `envconfig:"GREENBASKET_GATEWAY_KEY_SECRET"`
	RequestTimeout time.Duration `envconfig:"GREENBASKET_GATEWAY_TIMEOUT" default:"10s"`
	VerifyTimeout  time.Duration `envconfig:"GREENBASKET_GATEWAY_VERIFY_TIMEOUT" default:"5s"`
	FetchOnVerify  bool          `envconfig:"GREENBASKET_GATEWAY_FETCH_ON_VERIFY" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"GREENBASKET_GCP_PROJECT_ID"`
	ApplicationCredentials string `envconfig:"GREENBASKET_GOOGLE_APPLICATION_CREDENTIALS"`
	CredentialsJSON        string `envconfig:"GREENBASKET_GCP_CREDENTIALS_JSON"`
	PubSubEndpoint         string `envconfig:"GREENBASKET_PUBSUB_ENDPOINT"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"GREENBASKET_PUBSUB_NOTIFICATION_TOPIC"`
}

// Enabled reports whether notifications should be published rather than logged.
func (p PubSubConfig) Enabled() bool {
	return strings.TrimSpace(p.NotificationTopic) != ""
}

type ReconcileConfig struct {
	GracePeriod time.Duration `envconfig:"GREENBASKET_RECONCILE_GRACE" default:"15m"`
	Interval    time.Duration `envconfig:"GREENBASKET_RECONCILE_INTERVAL" default:"5m"`
	BatchSize   int           `envconfig:"GREENBASKET_RECONCILE_BATCH_SIZE" default:"200"`
	LockTTL     time.Duration `envconfig:"GREENBASKET_CRON_LOCK_TTL" default:"4m"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
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
