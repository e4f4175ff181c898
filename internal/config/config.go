// Package config loads the datasource routing configuration from environment
// variables and validates it before anything is registered.
//
// Environment Variables:
//
// Datasources:
//   - DATASOURCES: Comma-separated datasource names, in registration order (required)
//   - DATASOURCE_<NAME>_DRIVER: sqlite3, pgx, pgxpool or redis (required)
//   - DATASOURCE_<NAME>_DSN: Driver connection string (required)
//   - DATASOURCE_<NAME>_GROUP: Explicit group; otherwise the name prefix decides
//   - DATASOURCE_<NAME>_WEIGHT: Weight for weighted strategies (default: 1)
//   - DATASOURCE_<NAME>_MAX_OPEN_CONNS: Pool size limit, 0 = driver default (default: 0)
//   - DATASOURCE_<NAME>_MAX_IDLE_CONNS: Idle pool limit (default: 2)
//   - DATASOURCE_<NAME>_CONN_MAX_LIFETIME: Connection lifetime, 0 = unlimited (default: 0)
//
// <NAME> is the datasource name upper-cased with '-' and '.' replaced by '_'.
//
// Routing:
//   - ROUTING_DEFAULT: Datasource used when no key is active (default: first of DATASOURCES)
//   - ROUTING_STRATEGY: Group strategy kind (default: load_balance)
//   - ROUTING_UNKNOWN_KEY_POLICY: fail_fast or fallback_default (default: fail_fast)
//
// Health and resilience:
//   - HEALTH_CHECK_SCHEDULE: Cron spec for health rounds (default: @every 30s)
//   - HEALTH_CHECK_TIMEOUT: Per-ping timeout (default: 5s)
//   - CIRCUIT_BREAKER_ENABLED: Guard providers with a circuit breaker (default: false)
//   - CIRCUIT_BREAKER_MAX_FAILURES: Consecutive failures that open it (default: 5)
//   - CIRCUIT_BREAKER_TIMEOUT: Open-state duration before a trial request (default: 30s)
//
// Observability:
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FORMAT: console or json (default: console)
//   - ADMIN_ADDR: Admin HTTP listen address, empty disables it (default: "")
//   - TRACING_ENABLED: Record OpenTelemetry spans (default: false)
//   - TRACING_EXPORTER: none or stdout (default: none)
//   - TRACING_SAMPLE_RATE: Fraction of root spans sampled (default: 1.0)
//
// Example usage:
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"dynamic-datasource/internal/common/errors"
	"dynamic-datasource/internal/common/logging"
	"dynamic-datasource/internal/common/validation"
	"dynamic-datasource/internal/routing"
	"dynamic-datasource/internal/strategy"
)

// Supported datasource drivers.
const (
	DriverSQLite  = "sqlite3"
	DriverPgx     = "pgx"
	DriverPgxPool = "pgxpool"
	DriverRedis   = "redis"
)

var supportedDrivers = []string{DriverSQLite, DriverPgx, DriverPgxPool, DriverRedis}

// DataSourceConfig describes one datasource to register at startup.
type DataSourceConfig struct {
	Name            string
	Driver          string
	DSN             string
	Group           string
	Weight          int
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Config holds all configuration values for the datasource router.
//
// The configuration is loaded using the Load() function and should be
// validated using the Validate() method before use.
type Config struct {
	LogLevel  string // Logging level (debug, info, warn, error)
	LogFormat string // console or json
	AdminAddr string // Admin HTTP listen address, empty when disabled

	DataSources       []DataSourceConfig
	DefaultDataSource string // Name routed to when no key is active
	Strategy          string // Strategy kind for groups
	UnknownKeyPolicy  string // fail_fast or fallback_default

	HealthCheckSchedule string // Cron spec
	HealthCheckTimeout  time.Duration

	BreakerEnabled     bool
	BreakerMaxFailures int
	BreakerTimeout     time.Duration

	TracingEnabled    bool
	TracingExporter   string
	TracingSampleRate float64
}

// Load creates a new Config with values from environment variables, using
// defaults for anything unset. Malformed numbers and durations also fall back
// to their defaults. It does not validate; call Validate on the result.
func Load() *Config {
	names := splitList(os.Getenv("DATASOURCES"))

	dataSources := make([]DataSourceConfig, 0, len(names))
	for _, name := range names {
		dataSources = append(dataSources, loadDataSource(name))
	}

	defaultName := ""
	if len(names) > 0 {
		defaultName = names[0]
	}

	return &Config{
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", logging.FormatConsole)),
		AdminAddr: getEnv("ADMIN_ADDR", ""),

		DataSources:       dataSources,
		DefaultDataSource: getEnv("ROUTING_DEFAULT", defaultName),
		Strategy:          getEnv("ROUTING_STRATEGY", strategy.KindLoadBalance),
		UnknownKeyPolicy:  getEnv("ROUTING_UNKNOWN_KEY_POLICY", routing.FailFast.String()),

		HealthCheckSchedule: getEnv("HEALTH_CHECK_SCHEDULE", "@every 30s"),
		HealthCheckTimeout:  getDurationEnv("HEALTH_CHECK_TIMEOUT", 5*time.Second),

		BreakerEnabled:     getBoolEnv("CIRCUIT_BREAKER_ENABLED", false),
		BreakerMaxFailures: getIntEnv("CIRCUIT_BREAKER_MAX_FAILURES", 5),
		BreakerTimeout:     getDurationEnv("CIRCUIT_BREAKER_TIMEOUT", 30*time.Second),

		TracingEnabled:    getBoolEnv("TRACING_ENABLED", false),
		TracingExporter:   getEnv("TRACING_EXPORTER", "none"),
		TracingSampleRate: getFloatEnv("TRACING_SAMPLE_RATE", 1.0),
	}
}

func loadDataSource(name string) DataSourceConfig {
	prefix := EnvPrefix(name)
	return DataSourceConfig{
		Name:            name,
		Driver:          strings.ToLower(getEnv(prefix+"DRIVER", "")),
		DSN:             getEnv(prefix+"DSN", ""),
		Group:           getEnv(prefix+"GROUP", ""),
		Weight:          getIntEnv(prefix+"WEIGHT", 1),
		MaxOpenConns:    getIntEnv(prefix+"MAX_OPEN_CONNS", 0),
		MaxIdleConns:    getIntEnv(prefix+"MAX_IDLE_CONNS", 2),
		ConnMaxLifetime: getDurationEnv(prefix+"CONN_MAX_LIFETIME", 0),
	}
}

// EnvPrefix returns the environment variable prefix for a datasource name,
// e.g. "orders-1" -> "DATASOURCE_ORDERS_1_".
func EnvPrefix(name string) string {
	upper := strings.ToUpper(name)
	upper = strings.NewReplacer("-", "_", ".", "_").Replace(upper)
	return "DATASOURCE_" + upper + "_"
}

// Validate checks the configuration and returns the first problem found.
//
// This method checks:
//   - at least one datasource, with unique non-empty names
//   - every datasource has a supported driver, a DSN and sane pool numbers
//   - the default datasource is one of the configured ones
//   - the strategy kind and unknown-key policy are known
//   - the health check schedule parses as a cron spec
//   - the log format is console or json
//   - durations, breaker and tracing settings are in range
func (c *Config) Validate() error {
	if len(c.DataSources) == 0 {
		return errors.ConfigError("DATASOURCES must list at least one datasource")
	}
	if !logging.IsFormat(c.LogFormat) {
		return errors.ConfigError(fmt.Sprintf("LOG_FORMAT must be 'console' or 'json', got %q", c.LogFormat))
	}

	seen := make(map[string]bool, len(c.DataSources))
	for _, ds := range c.DataSources {
		if err := ds.Validate(); err != nil {
			return err
		}
		if seen[ds.Name] {
			return errors.ConfigError(fmt.Sprintf("datasource %s is listed twice in DATASOURCES", ds.Name))
		}
		seen[ds.Name] = true
	}

	if c.DefaultDataSource == "" {
		return errors.ConfigError("ROUTING_DEFAULT must not be empty")
	}
	if !seen[c.DefaultDataSource] {
		return errors.ConfigError(fmt.Sprintf("ROUTING_DEFAULT %s is not listed in DATASOURCES", c.DefaultDataSource))
	}

	if !strategy.IsKnown(c.Strategy) {
		return errors.ConfigError(fmt.Sprintf("ROUTING_STRATEGY %q is not one of %s",
			c.Strategy, strings.Join(strategy.Kinds(), ", ")))
	}
	if _, err := routing.ParseUnknownKeyPolicy(c.UnknownKeyPolicy); err != nil {
		return err
	}

	if _, err := cron.ParseStandard(c.HealthCheckSchedule); err != nil {
		return errors.ConfigError(fmt.Sprintf("HEALTH_CHECK_SCHEDULE %q is not a valid cron spec: %v", c.HealthCheckSchedule, err))
	}
	if c.HealthCheckTimeout <= 0 {
		return errors.ConfigError("HEALTH_CHECK_TIMEOUT must be a positive duration")
	}

	if c.BreakerEnabled {
		if c.BreakerMaxFailures < 1 {
			return errors.ConfigError("CIRCUIT_BREAKER_MAX_FAILURES must be a positive number")
		}
		if c.BreakerTimeout <= 0 {
			return errors.ConfigError("CIRCUIT_BREAKER_TIMEOUT must be a positive duration")
		}
	}

	if c.TracingEnabled {
		switch c.TracingExporter {
		case "none", "stdout":
		default:
			return errors.ConfigError(fmt.Sprintf("TRACING_EXPORTER must be 'none' or 'stdout', got %q", c.TracingExporter))
		}
		if c.TracingSampleRate <= 0 || c.TracingSampleRate > 1 {
			return errors.ConfigError("TRACING_SAMPLE_RATE must be in (0, 1]")
		}
	}

	return nil
}

// Validate checks a single datasource definition.
func (d DataSourceConfig) Validate() error {
	if d.Name == "" {
		return errors.ConfigError("datasource name must not be empty")
	}
	if !validation.IsName(d.Name) {
		return errors.ConfigError(fmt.Sprintf("datasource name %q may only contain letters, digits, '_', '-' and '.'", d.Name))
	}
	prefix := EnvPrefix(d.Name)

	if !isSupportedDriver(d.Driver) {
		return errors.ConfigError(fmt.Sprintf("%sDRIVER must be one of %s, got %q",
			prefix, strings.Join(supportedDrivers, ", "), d.Driver))
	}
	if d.DSN == "" {
		return errors.ConfigError(fmt.Sprintf("%sDSN is required", prefix))
	}
	if d.Weight < 1 {
		return errors.ConfigError(fmt.Sprintf("%sWEIGHT must be a positive number", prefix))
	}
	if d.MaxOpenConns < 0 {
		return errors.ConfigError(fmt.Sprintf("%sMAX_OPEN_CONNS must not be negative", prefix))
	}
	if d.MaxIdleConns < 0 {
		return errors.ConfigError(fmt.Sprintf("%sMAX_IDLE_CONNS must not be negative", prefix))
	}
	if d.ConnMaxLifetime < 0 {
		return errors.ConfigError(fmt.Sprintf("%sCONN_MAX_LIFETIME must not be negative", prefix))
	}
	return nil
}

func isSupportedDriver(driver string) bool {
	for _, d := range supportedDrivers {
		if d == driver {
			return true
		}
	}
	return false
}

// splitList splits a comma-separated value, trimming blanks and dropping
// empty items.
func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv retrieves a boolean environment variable value or returns a default value.
// Any value strconv.ParseBool rejects yields defaultValue.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getIntEnv retrieves an integer environment variable value or returns a default value.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getFloatEnv retrieves a float environment variable value or returns a default value.
func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv retrieves a duration environment variable value or returns a default value.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return defaultValue
}
