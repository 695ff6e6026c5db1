// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Dedup    DedupConfig
	Rebuild  RebuildConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"fillledger"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"fillledger"`
	Password string `envconfig:"POSTGRES_PASSWORD" default:"fillledger"`
	Database string `envconfig:"POSTGRES_DB" default:"fillledger"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"25"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	URL          string `envconfig:"NATS_URL" default:"nats://localhost:4222"`
	IngestStream string `envconfig:"NATS_INGEST_STREAM" default:"FILLS_INGEST"`
	Durable      string `envconfig:"NATS_DURABLE" default:"fillledger-ingest"`
}

type DedupConfig struct {
	// TTL bounds how long an identifier is remembered. Two weeks covers the
	// longest observed re-export window with margin.
	TTL         time.Duration `envconfig:"DEDUP_TTL" default:"336h"`
	LRUCapacity int           `envconfig:"DEDUP_LRU_CAPACITY" default:"65536"`
}

type RebuildConfig struct {
	MaxParallel int `envconfig:"REBUILD_MAX_PARALLEL" default:"4"`

	// ContractMultipliers maps instrument to contract multiplier,
	// e.g. "MES:5,MNQ:2,ES:50". Instruments without an entry use 1.
	ContractMultipliers map[string]string `envconfig:"CONTRACT_MULTIPLIERS"`
}

// Load reads configuration from FILLLEDGER_-prefixed environment variables.
// A .env file is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("FILLLEDGER", &cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	return &cfg, nil
}
