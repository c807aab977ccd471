package config

// EnvPrefix is handed to envconfig; every field carries an explicit
// envconfig tag so the prefix only matters for untagged additions.
const EnvPrefix = "CARLINE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	BackplaneNone   = "none"
	BackplaneRedis  = "redis"
	BackplanePubSub = "pubsub"
)

const (
	EnvAppEnv               = "CARLINE_APP_ENV"
	EnvPort                 = "CARLINE_APP_PORT"
	EnvLogLevel             = "CARLINE_LOG_LEVEL"
	EnvDBDSN                = "CARLINE_DB_DSN"
	EnvDBHost               = "CARLINE_DB_HOST"
	EnvDBUser               = "CARLINE_DB_USER"
	EnvDBName               = "CARLINE_DB_NAME"
	EnvRedisURL             = "CARLINE_REDIS_URL"
	EnvRedisAddr            = "CARLINE_REDIS_ADDR"
	EnvHubBackplane         = "CARLINE_HUB_BACKPLANE"
	EnvGCPProjectID         = "CARLINE_GCP_PROJECT_ID"
	EnvPubSubBroadcastTopic = "CARLINE_PUBSUB_BROADCAST_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
