package config

import (
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// envPrefix is prepended to every variable name below, so DB_HOST is read
// from STREAM_DB_HOST.
const envPrefix = "STREAM_"

type Config struct {
	DBHost         string `env:"DB_HOST" envDefault:"localhost"`
	DBPort         int    `env:"DB_PORT" envDefault:"5432"`
	DBUser         string `env:"DB_USER" envDefault:"stream_api"`
	DBPassword     string `env:"DB_PASSWORD,required"`
	DBName         string `env:"DB_NAME" envDefault:"stream_stats"`
	DBPoolSize     int    `env:"DB_POOL_SIZE" envDefault:"10"`
	DBPoolOverflow int    `env:"DB_POOL_OVERFLOW" envDefault:"20"`

	AggregationIntervalSeconds int `env:"AGGREGATION_INTERVAL_SECONDS" envDefault:"60"`
	SessionSyncIntervalSeconds int `env:"SESSION_SYNC_INTERVAL_SECONDS" envDefault:"30"`

	// StaleSessionMaxAge discards snapshot sessions older than this at
	// recovery. Zero keeps everything.
	StaleSessionMaxAge time.Duration `env:"STALE_SESSION_MAX_AGE" envDefault:"0"`

	// StatsRetention prunes per-minute rows older than this. Zero keeps
	// them forever.
	StatsRetention time.Duration `env:"STATS_RETENTION" envDefault:"0"`

	DeltaBufferSize int `env:"DELTA_BUFFER_SIZE" envDefault:"100000"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":5000"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile  string
	HTTPAddr string
	LogLevel string
}

// Load reads configuration from .env file, environment variables, and CLI
// overrides. Priority: CLI flags > environment variables > .env file >
// struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}

	return cfg, nil
}

// DatabaseURL assembles the pgx connection string. Pool sizing rides along
// as URL parameters: the configured pool size stays warm, overflow bounds
// the burst headroom.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort)),
		Path:   "/" + c.DBName,
	}
	q := url.Values{}
	q.Set("pool_min_conns", strconv.Itoa(c.DBPoolSize))
	q.Set("pool_max_conns", strconv.Itoa(c.DBPoolSize+c.DBPoolOverflow))
	u.RawQuery = q.Encode()
	return u.String()
}

// AggregationInterval returns the minute-boundary cadence.
func (c *Config) AggregationInterval() time.Duration {
	return time.Duration(c.AggregationIntervalSeconds) * time.Second
}

// SessionSyncInterval returns the live-session snapshot cadence.
func (c *Config) SessionSyncInterval() time.Duration {
	return time.Duration(c.SessionSyncIntervalSeconds) * time.Second
}
