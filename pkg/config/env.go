package config

const EnvPrefix = "GREENBASKET"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "GREENBASKET_APP_ENV"
	EnvPort     = "GREENBASKET_APP_PORT"
	EnvLogLevel = "GREENBASKET_LOG_LEVEL"

	EnvDBDSN  = "GREENBASKET_DB_DSN"
	EnvDBHost = "GREENBASKET_DB_HOST"
	EnvDBUser = "GREENBASKET_DB_USER"
	EnvDBName = "GREENBASKET_DB_NAME"

	EnvUseSQLite = "GREENBASKET_USE_SQLITE"
	EnvRedisURL  = "GREENBASKET_REDIS_URL"

	EnvDeliveryFee           = "GREENBASKET_DELIVERY_FEE"
	EnvFreeDeliveryThreshold = "GREENBASKET_FREE_DELIVERY_THRESHOLD"
	EnvCashbackTiers         = "GREENBASKET_CASHBACK_TIERS"

	EnvGatewayKeySecret        = "GREENBASKET_GATEWAY_KEY_SECRET"
	EnvPubSubNotificationTopic = "GREENBASKET_PUBSUB_NOTIFICATION_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
