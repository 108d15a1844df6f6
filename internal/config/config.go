package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/sheikh-saqib/account-ledger/internal/ledger"
	"github.com/sheikh-saqib/account-ledger/internal/logging"
	"github.com/sheikh-saqib/account-ledger/internal/resilience"
	"github.com/sheikh-saqib/account-ledger/internal/storage"
)

// Config aggregates application configuration values.
type Config struct {
	Store      storage.Config
	Resilience resilience.Config
	Retry      ledger.RetryPolicy
	Kafka      KafkaConfig
	HTTP       HTTPConfig
	Logging    logging.Config
}

// KafkaConfig enables event publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// EnvStoreDriver selects the storage adapter
const EnvStoreDriver = "LEDGER_STORE"

const (
	defaultHTTPAddr        = ":8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Load reads configuration from environment variables, applying defaults.
// Malformed numbers and durations are reported together.
func Load() (Config, error) {
	store := storage.DefaultConfig()
	breaker := resilience.DefaultConfig()
	logCfg := logging.DefaultConfig()
	if parseBoolWithDefault("LOG_DEV", false) {
		logCfg = logging.DevelopmentConfig()
	}

	var errs error
	duration := func(key string, fallback time.Duration) time.Duration {
		d, err := parseDurationWithDefault(key, fallback)
		errs = multierr.Append(errs, err)
		return d
	}
	integer := func(key string, fallback int) int {
		v, err := parseIntWithDefault(key, fallback)
		errs = multierr.Append(errs, err)
		return v
	}

	store.Driver = strings.ToLower(valueOrDefault(EnvStoreDriver, store.Driver))
	store.EnsureSchema = parseBoolWithDefault("STORE_ENSURE_SCHEMA", store.EnsureSchema)

	store.Postgres.DSN = valueOrDefault("POSTGRES_DSN", store.Postgres.DSN)
	store.Postgres.MaxOpenConns = integer("POSTGRES_MAX_OPEN_CONNS", store.Postgres.MaxOpenConns)
	store.Postgres.MaxIdleConns = integer("POSTGRES_MAX_IDLE_CONNS", store.Postgres.MaxIdleConns)

	store.Mongo.URI = valueOrDefault("MONGO_URL", store.Mongo.URI)
	store.Mongo.Database = valueOrDefault("MONGO_DATABASE", store.Mongo.Database)
	store.Mongo.MaxPoolSize = uint64(integer("MONGO_MAX_POOL_SIZE", int(store.Mongo.MaxPoolSize)))
	store.Mongo.MinPoolSize = uint64(integer("MONGO_MIN_POOL_SIZE", int(store.Mongo.MinPoolSize)))

	store.Neo4j.URI = valueOrDefault("NEO4J_URI", store.Neo4j.URI)
	store.Neo4j.Username = valueOrDefault("NEO4J_USERNAME", store.Neo4j.Username)
	store.Neo4j.Password = os.Getenv("NEO4J_PASSWORD")
	store.Neo4j.Database = valueOrDefault("NEO4J_DATABASE", store.Neo4j.Database)
	store.Neo4j.MaxConnections = integer("NEO4J_MAX_CONNECTIONS", store.Neo4j.MaxConnections)

	breaker.Name = store.Driver
	breaker.Timeout = duration("STORE_TIMEOUT", breaker.Timeout)
	breaker.CircuitBreakerConfig.MaxRequests = uint32(integer("BREAKER_MAX_REQUESTS", int(breaker.CircuitBreakerConfig.MaxRequests)))
	breaker.CircuitBreakerConfig.Interval = duration("BREAKER_INTERVAL", breaker.CircuitBreakerConfig.Interval)
	breaker.CircuitBreakerConfig.Timeout = duration("BREAKER_TIMEOUT", breaker.CircuitBreakerConfig.Timeout)
	breaker.CircuitBreakerConfig.ConsecutiveFailures = uint32(integer("BREAKER_CONSECUTIVE_FAILURES", int(breaker.CircuitBreakerConfig.ConsecutiveFailures)))

	retry := ledger.DefaultRetryPolicy()
	retry.MaxRetries = integer("LEDGER_MAX_RETRIES", retry.MaxRetries)
	retry.BaseDelay = duration("LEDGER_RETRY_BASE_DELAY", retry.BaseDelay)

	logCfg.Level = valueOrDefault("LOG_LEVEL", logCfg.Level)
	logCfg.Format = valueOrDefault("LOG_FORMAT", logCfg.Format)

	cfg := Config{
		Store:      store,
		Resilience: breaker,
		Retry:      retry,
		Kafka: KafkaConfig{
			Brokers: splitCSV(os.Getenv("KAFKA_BROKERS")),
			Topic:   valueOrDefault("KAFKA_TOPIC", ledger.DefaultTopic),
		},
		HTTP: HTTPConfig{
			Addr:            valueOrDefault("HTTP_ADDR", defaultHTTPAddr),
			ReadTimeout:     duration("HTTP_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    duration("HTTP_WRITE_TIMEOUT", defaultWriteTimeout),
			ShutdownTimeout: duration("HTTP_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Logging: logCfg,
	}

	if errs != nil {
		return Config{}, errs
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings no component could run with.
func (c Config) Validate() error {
	var errs error

	if !storage.ValidDriver(c.Store.Driver) {
		errs = multierr.Append(errs, fmt.Errorf("LEDGER_STORE %q is not one of %s", c.Store.Driver, strings.Join(storage.Drivers, ", ")))
	}
	switch c.Store.Driver {
	case storage.DriverPostgres:
		if c.Store.Postgres.DSN == "" {
			errs = multierr.Append(errs, errors.New("POSTGRES_DSN is required for the postgres store"))
		}
	case storage.DriverMongo:
		if c.Store.Mongo.URI == "" || c.Store.Mongo.Database == "" {
			errs = multierr.Append(errs, errors.New("MONGO_URL and MONGO_DATABASE are required for the mongo store"))
		}
	case storage.DriverNeo4j:
		if c.Store.Neo4j.URI == "" {
			errs = multierr.Append(errs, errors.New("NEO4J_URI is required for the neo4j store"))
		}
	}

	if c.Retry.MaxRetries < 0 {
		errs = multierr.Append(errs, fmt.Errorf("LEDGER_MAX_RETRIES must not be negative, got %d", c.Retry.MaxRetries))
	}
	if c.Retry.BaseDelay < 0 {
		errs = multierr.Append(errs, fmt.Errorf("LEDGER_RETRY_BASE_DELAY must not be negative, got %s", c.Retry.BaseDelay))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = multierr.Append(errs, errors.New("KAFKA_TOPIC cannot be empty when KAFKA_BROKERS is set"))
	}
	if c.HTTP.Addr == "" {
		errs = multierr.Append(errs, errors.New("HTTP_ADDR cannot be empty"))
	}

	return errs
}

func valueOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseBoolWithDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return val
	}
	return fallback
}

func parseIntWithDefault(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	val, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	if val < 0 {
		return fallback, fmt.Errorf("invalid %s value %q: must not be negative", key, v)
	}
	return val, nil
}

func parseDurationWithDefault(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitCSV(csv string) []string {
	if csv == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
