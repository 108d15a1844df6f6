package resilience

import (
	"time"
)

// Config configures the protection placed around a LedgerStore.
type Config struct {
	// Name labels the breaker in logs and metrics. Usually the driver name.
	Name string

	// Timeout bounds every store call except Start. Zero disables it.
	Timeout time.Duration

	// CircuitBreakerConfig configures the circuit breaker behavior
	CircuitBreakerConfig CircuitBreakerConfig
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// MaxRequests is the number of calls let through while half-open. Default: 1
	MaxRequests uint32

	// Interval is the cyclic period of the closed state after which the
	// failure counts are cleared. If Interval is 0, it never clears.
	Interval time.Duration

	// Timeout is the period of the open state after which the state becomes half-open.
	Timeout time.Duration

	// ConsecutiveFailures trips the breaker. Default: 5
	ConsecutiveFailures uint32
}

// DefaultConfig returns the defaults used by cmd/server.
func DefaultConfig() Config {
	return Config{
		Name:    "store",
		Timeout: 5 * time.Second,
		CircuitBreakerConfig: CircuitBreakerConfig{
			MaxRequests:         1,
			Interval:            60 * time.Second,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
		},
	}
}

// WithTimeout returns a copy of the config with the specified timeout.
func (c Config) WithTimeout(timeout time.Duration) Config {
	c.Timeout = timeout
	return c
}

// WithCircuitBreakerTimeout returns a copy of the config with the specified open-state timeout.
func (c Config) WithCircuitBreakerTimeout(timeout time.Duration) Config {
	c.CircuitBreakerConfig.Timeout = timeout
	return c
}
