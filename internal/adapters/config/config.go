package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"basis/pkg/errors"
)

type Config struct {
	App           AppConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Exchanges     ExchangesConfig
	Hedge         HedgeConfig
	ErrorTracking ErrorTrackingConfig
	Workers       WorkerConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"basis"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`

	// HTTPAddr is the listen address for the hedge API
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	// MetricsAddr is the listen address for the Prometheus endpoint
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" required:"true"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" required:"true"`
	Password string `envconfig:"POSTGRES_PASSWORD" required:"true"`
	Database string `envconfig:"POSTGRES_DB" required:"true"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"25"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type ClickHouseConfig struct {
	Host     string `envconfig:"CLICKHOUSE_HOST" required:"true"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD"`
	Database string `envconfig:"CLICKHOUSE_DB" default:"basis"`
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" required:"true"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Brokers []string `envconfig:"KAFKA_BROKERS" required:"true"`
	GroupID string   `envconfig:"KAFKA_GROUP_ID" default:"basis"`
}

// ExchangesConfig holds trading API credentials per venue
type ExchangesConfig struct {
	BinanceAPIKey string `envconfig:"BINANCE_API_KEY"`
	BinanceSecret string `envconfig:"BINANCE_SECRET"`
	BybitAPIKey   string `envconfig:"BYBIT_API_KEY"`
	BybitSecret   string `envconfig:"BYBIT_SECRET"`
	OKXAPIKey     string `envconfig:"OKX_API_KEY"`
	OKXSecret     string `envconfig:"OKX_SECRET"`
	OKXPassphrase string `envconfig:"OKX_PASSPHRASE"`
}

// HedgeConfig tunes the hedge lifecycle orchestrator
type HedgeConfig struct {
	// LegTimeout bounds a single leg placement/close call. A leg that exceeds
	// it is classified as a leg failure and follows the partial-failure path.
	LegTimeout time.Duration `envconfig:"HEDGE_LEG_TIMEOUT" default:"30s"`

	// LockTTL bounds how long an open/close operation may hold its lock.
	// Positions stuck in a transitional state past this are picked up by the
	// reconciler.
	LockTTL time.Duration `envconfig:"HEDGE_LOCK_TTL" default:"2m"`

	// LockBackend selects the lock manager implementation: memory or redis
	LockBackend string `envconfig:"HEDGE_LOCK_BACKEND" default:"memory"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"true"`
	Provider    string `envconfig:"ERROR_TRACKING_PROVIDER" default:"sentry"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// WorkerConfig contains intervals for background workers
type WorkerConfig struct {
	ReconcilerInterval time.Duration `envconfig:"WORKER_RECONCILER_INTERVAL" default:"1m"`
	ReconcilerEnabled  bool          `envconfig:"WORKER_RECONCILER_ENABLED" default:"true"`
	FundingInterval    time.Duration `envconfig:"WORKER_FUNDING_INTERVAL" default:"5m"`
	FundingEnabled     bool          `envconfig:"WORKER_FUNDING_ENABLED" default:"true"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	return &cfg, nil
}
