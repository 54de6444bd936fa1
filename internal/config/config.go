package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/relaysms/contact-gateway/pkg/logger"
)

var config *Config

// Config holds every env-driven setting the gateway uses. Only this
// struct may be read for configuration, no direct env access elsewhere.
type Config struct {
	AppEnv              string `env:"APP_ENV" default:"dev"`
	AppName             string `env:"APP_NAME" default:"contact_gateway"`
	AppDebug            bool   `env:"APP_DEBUG" default:"1"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI"`

	HttpListenAddr string `env:"HTTP_LISTEN_ADDR"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	PromNamespace string `env:"PROM_NAMESPACE"`

	// Carrier. Empty CarrierBaseURL switches the dispatcher into
	// simulated mode.
	CarrierBaseURL    string        `env:"CARRIER_BASE_URL"`
	CarrierFromNumber string        `env:"CARRIER_FROM_NUMBER" default:"+15550000001"`
	CarrierTimeout    time.Duration `env:"CARRIER_TIMEOUT" default:"10s"`

	// Dispatch.
	SMSBasePrice      float64       `env:"SMS_BASE_PRICE" default:"0.01"`
	SMSIntlMultiplier float64       `env:"SMS_INTL_MULTIPLIER" default:"2.5"`
	BulkBatchSize     int           `env:"BULK_BATCH_SIZE" default:"10"`
	BulkBatchDelay    time.Duration `env:"BULK_BATCH_DELAY" default:"1s"`

	// Rate limiting.
	RateLimitPerHour int `env:"RATE_LIMIT_PER_HOUR" default:"10"`

	// Phone normalization.
	DefaultCountryCode string `env:"DEFAULT_COUNTRY_CODE" default:"1"`

	// Scheduled message polling.
	SchedulerInterval time.Duration `env:"SCHEDULER_INTERVAL" default:"30s"`

	// Realtime handshake token secret.
	AuthTokenSecret string `env:"AUTH_TOKEN_SECRET"`

	// Comma-separated browser origins allowed to open a websocket.
	// Same-origin and non-browser clients are always allowed.
	WSAllowedOrigins string `env:"WS_ALLOWED_ORIGINS"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		err = godotenv.Load(path)
		if err != nil {
			return errors.New("failed to load configuration file " + path + " error: " + err.Error())
		}
	}

	_, err = env.UnmarshalFromEnviron(c)
	if err != nil {
		return errors.New("failed to map env variables to Configuration object, error: " + err.Error())
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}
