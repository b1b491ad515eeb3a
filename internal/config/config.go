// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Host   string `env:"HOST" envDefault:"0.0.0.0"`
	Port   int    `env:"PORT" envDefault:"8080"`

	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"orders"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"postgres"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"postgres"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`

	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort int    `env:"REDIS_PORT" envDefault:"6379"`

	CORSAllowOrigins string `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin  int    `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`

	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"10s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	// HTTPRequestTimeout bounds JSON API handlers only; the stream endpoint
	// is long-lived and exempt.
	HTTPRequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"10s"`

	// Worker pool and queue contract knobs.
	WorkerConcurrency     int           `env:"WORKER_CONCURRENCY" envDefault:"10"`
	QueueMaxAttempts      int           `env:"QUEUE_MAX_ATTEMPTS" envDefault:"3"`
	QueueBaseDelay        time.Duration `env:"QUEUE_BASE_DELAY" envDefault:"1s"`
	QueueThroughputPerMin int           `env:"QUEUE_THROUGHPUT_PER_MIN" envDefault:"100"`
	QueueCompletedTTL     time.Duration `env:"QUEUE_COMPLETED_TTL" envDefault:"1h"`
	QueueCompletedMax     int           `env:"QUEUE_COMPLETED_MAX" envDefault:"100"`
	QueueFailedTTL        time.Duration `env:"QUEUE_FAILED_TTL" envDefault:"2h"`

	// RouterSeed pins the mock router PRNG for reproducible runs; 0 seeds
	// from the wall clock.
	RouterSeed int64 `env:"ROUTER_SEED" envDefault:"0"`

	// SweepInterval enables the stale-order sweeper when positive.
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"0"`
	// StuckAfter is how long a non-terminal order may go without an update
	// before the sweeper fails it.
	StuckAfter time.Duration `env:"STUCK_AFTER" envDefault:"10m"`

	// CleanupInterval enables periodic purging of old terminal orders when
	// positive. OrderRetention is how long confirmed and failed orders stay
	// queryable.
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"0"`
	OrderRetention  time.Duration `env:"ORDER_RETENTION" envDefault:"168h"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"dex-order-engine"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// ListenAddr is the host:port the HTTP server binds to.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// PostgresDSN assembles the connection string from the discrete POSTGRES_*
// variables.
func (c Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSLMode)
}

// RedisAddr is the host:port of the queue backend.
func (c Config) RedisAddr() string {
	return net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort))
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }
