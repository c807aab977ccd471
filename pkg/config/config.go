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
	DB           DBConfig
	Redis        RedisConfig
	Hub          HubConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
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
	if err := cfg.validateBackplane(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CARLINE_APP_ENV" required:"true"`
	Port         string `envconfig:"CARLINE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CARLINE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CARLINE_LOG_WARN_STACK" default:"false"`
	// CORSOrigins also gates websocket upgrades; "*" allows any origin.
	CORSOrigins []string `envconfig:"CARLINE_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"CARLINE_DB_DSN"`

	LegacyHost     string `envconfig:"CARLINE_DB_HOST"`
	LegacyPort     int    `envconfig:"CARLINE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CARLINE_DB_USER"`
	LegacyPassword string `envconfig:"CARLINE_DB_PASSWORD"`
	LegacyName     string `envconfig:"CARLINE_DB_NAME"`
	LegacySSLMode  string `envconfig:"CARLINE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CARLINE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CARLINE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CARLINE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CARLINE_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQueryThreshold logs queries slower than this; zero disables it.
	SlowQueryThreshold time.Duration `envconfig:"CARLINE_DB_SLOW_QUERY" default:"250ms"`
}

// RedisConfig is optional: with neither URL nor address set the API runs
// without idempotency replay and without the redis backplane.
type RedisConfig struct {
	URL          string        `envconfig:"CARLINE_REDIS_URL"`
	Address      string        `envconfig:"CARLINE_REDIS_ADDR"`
	Password     string        `envconfig:"CARLINE_REDIS_PASSWORD"`
	DB           int           `envconfig:"CARLINE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CARLINE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CARLINE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CARLINE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CARLINE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CARLINE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

// HubConfig tunes the websocket broadcast hub.
type HubConfig struct {
	Backplane       string        `envconfig:"CARLINE_HUB_BACKPLANE" default:"none"`
	Channel         string        `envconfig:"CARLINE_HUB_CHANNEL" default:"car_status"`
	OutboundQueue   int           `envconfig:"CARLINE_HUB_OUTBOUND_QUEUE" default:"256"`
	ClientBuffer    int           `envconfig:"CARLINE_HUB_CLIENT_BUFFER" default:"32"`
	WriteTimeout    time.Duration `envconfig:"CARLINE_HUB_WRITE_TIMEOUT" default:"10s"`
	PongWait        time.Duration `envconfig:"CARLINE_HUB_PONG_WAIT" default:"60s"`
	PingPeriod      time.Duration `envconfig:"CARLINE_HUB_PING_PERIOD" default:"50s"`
	MaxMessageBytes int64         `envconfig:"CARLINE_HUB_MAX_MESSAGE_BYTES" default:"4096"`
}

// BackplaneKind returns the normalized backplane selector.
func (h HubConfig) BackplaneKind() string {
	kind := strings.TrimSpace(strings.ToLower(h.Backplane))
	if kind == "" {
		return BackplaneNone
	}
	return kind
}

type GCPConfig struct {
	ProjectID string `envconfig:"CARLINE_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	BroadcastTopic string `envconfig:"CARLINE_PUBSUB_BROADCAST_TOPIC" default:"carline-car-status"`
	// BroadcastSubscription defaults to "<topic>-<instance id>" and is
	// created on startup when missing.
	BroadcastSubscription string        `envconfig:"CARLINE_PUBSUB_BROADCAST_SUBSCRIPTION"`
	SubscriptionTTL       time.Duration `envconfig:"CARLINE_PUBSUB_SUBSCRIPTION_TTL" default:"24h"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CARLINE_AUTO_MIGRATE" default:"false"`
}

func (c *Config) validateBackplane() error {
	switch c.Hub.BackplaneKind() {
	case BackplaneNone:
		return nil
	case BackplaneRedis:
		if !c.Redis.Enabled() {
			return fmt.Errorf("%s=%s requires %s or %s", EnvHubBackplane, BackplaneRedis, EnvRedisURL, EnvRedisAddr)
		}
		return nil
	case BackplanePubSub:
		if strings.TrimSpace(c.GCP.ProjectID) == "" {
			return fmt.Errorf("%s=%s requires %s", EnvHubBackplane, BackplanePubSub, EnvGCPProjectID)
		}
		if strings.TrimSpace(c.PubSub.BroadcastTopic) == "" {
			return fmt.Errorf("%s=%s requires %s", EnvHubBackplane, BackplanePubSub, EnvPubSubBroadcastTopic)
		}
		return nil
	default:
		return fmt.Errorf("unknown %s value %q", EnvHubBackplane, c.Hub.Backplane)
	}
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
