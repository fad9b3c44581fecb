package config

import (
	"time"

	"github.com/gifmotion/gifmotion/internal/ailink"
)

// Config represents the complete application configuration.
// Sources, lowest precedence first: defaults, YAML config file, .env file,
// environment variables, command-line flags.
type Config struct {
	Server     ServerConfig       `mapstructure:"server"`
	Runway     RunwayConfig       `mapstructure:"runway"`
	Generation ailink.Config      `mapstructure:"generation"`
	Image      ailink.ImageConfig `mapstructure:"image"`
	Gate       GateConfig         `mapstructure:"gate"`
	Logging    LoggingConfig      `mapstructure:"logging"`
	Metrics    MetricsConfig      `mapstructure:"metrics"`
	Tracing    TracingConfig      `mapstructure:"tracing"`
	Health     HealthConfig       `mapstructure:"health"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	// ShutdownTimeout bounds graceful shutdown, including in-flight generations.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RunwayConfig contains the image-to-video provider settings.
type RunwayConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	APIVersion     string        `mapstructure:"api_version"`
	Model          string        `mapstructure:"model"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// GateConfig controls the referer check and per-client rate limiting applied
// to every /api route.
type GateConfig struct {
	// AppURL is the deployment origin the Referer header must match.
	AppURL string `mapstructure:"app_url"`

	RateLimit         int           `mapstructure:"rate_limit"`
	RateWindow        time.Duration `mapstructure:"rate_window"`
	MaxTrackedClients int           `mapstructure:"max_tracked_clients"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Format selects the server sink encoding: json or console
	Format string `mapstructure:"format"`

	Environment string `mapstructure:"environment"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated Prometheus exporter port.
	// The main HTTP port proxies it at /metrics.
	Port int `mapstructure:"port"`
}

// TracingConfig contains OpenTelemetry export configuration
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
