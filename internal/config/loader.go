// Package config provides centralized configuration management for gifmotion.
// Values are layered through viper (defaults, config file, flags) with
// environment overrides resolved by gofulmen/config env specs and decoded
// into Config with mapstructure.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/gifmotion/gifmotion/internal/ailink"
	"github.com/gifmotion/gifmotion/internal/ailink/driver/runway"
)

const (
	// AppName names the binary and the XDG config directory.
	AppName = "gifmotion"

	// EnvPrefix prefixes every gifmotion environment variable.
	EnvPrefix = "GIFMOTION_"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "6m")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Runway defaults
	v.SetDefault("runway.base_url", runway.DefaultBaseURL)
	v.SetDefault("runway.api_key", "")
	v.SetDefault("runway.api_version", runway.DefaultAPIVersion)
	v.SetDefault("runway.model", runway.DefaultModel)
	v.SetDefault("runway.request_timeout", "60s")

	// Generation defaults
	v.SetDefault("generation.duration_seconds", 5)
	v.SetDefault("generation.output_format", "mp4")
	v.SetDefault("generation.fps", 24)
	v.SetDefault("generation.motion_bucket_id", 127)
	v.SetDefault("generation.cond_aug", 0.02)
	v.SetDefault("generation.poll_interval", "10s")
	v.SetDefault("generation.max_poll_attempts", 30)

	// Image defaults
	v.SetDefault("image.fetch_timeout", "30s")
	v.SetDefault("image.max_bytes", ailink.DefaultImageMaxBytes)
	v.SetDefault("image.max_edge", 0)

	// Gate defaults
	v.SetDefault("gate.app_url", "")
	v.SetDefault("gate.rate_limit", 10)
	v.SetDefault("gate.rate_window", "60s")
	v.SetDefault("gate.max_tracked_clients", 500)
	v.SetDefault("gate.sweep_interval", "60s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.environment", "production")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "http://127.0.0.1:4318")
	v.SetDefault("tracing.insecure", false)

	// Health check defaults
	v.SetDefault("health.enabled", true)
}

// Load merges environment overrides into v, decodes the result and validates it.
// A nil v loads defaults plus environment only.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
		SetDefaults(v)
	}

	// Legacy names first so the prefixed variables win.
	legacy, err := gfconfig.LoadEnvOverrides(legacyEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load legacy environment overrides: %w", err)
	}
	if err := v.MergeConfigMap(legacy); err != nil {
		return nil, fmt.Errorf("failed to merge legacy environment overrides: %w", err)
	}

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if err := v.MergeConfigMap(envOverrides); err != nil {
		return nil, fmt.Errorf("failed to merge environment overrides: %w", err)
	}

	cfg, err := Decode(v.AllSettings())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Store the loaded config
	setConfig(cfg)

	return cfg, nil
}

// Decode converts a nested settings map into a Config.
func Decode(settings map[string]any) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 0 and 65535, got %d", c.Server.Port))
	}

	if u, err := url.Parse(strings.TrimSpace(c.Runway.BaseURL)); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("runway.base_url must be an absolute http(s) URL, got %q", c.Runway.BaseURL))
	}
	if c.Runway.RequestTimeout < 0 {
		errs = append(errs, errors.New("runway.request_timeout must not be negative"))
	}

	if c.Generation.PollInterval <= 0 {
		errs = append(errs, errors.New("generation.poll_interval must be positive"))
	}
	if c.Generation.MaxPollAttempts <= 0 {
		errs = append(errs, errors.New("generation.max_poll_attempts must be positive"))
	}

	if c.Image.MaxBytes <= 0 {
		errs = append(errs, errors.New("image.max_bytes must be positive"))
	}
	if c.Image.MaxEdge < 0 {
		errs = append(errs, errors.New("image.max_edge must not be negative"))
	}

	if appURL := strings.TrimSpace(c.Gate.AppURL); appURL != "" {
		if u, err := url.Parse(appURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("gate.app_url must be an absolute URL, got %q", c.Gate.AppURL))
		}
	}
	if c.Gate.RateLimit <= 0 {
		errs = append(errs, errors.New("gate.rate_limit must be positive"))
	}
	if c.Gate.RateWindow <= 0 {
		errs = append(errs, errors.New("gate.rate_window must be positive"))
	}
	if c.Gate.MaxTrackedClients <= 0 {
		errs = append(errs, errors.New("gate.max_tracked_clients must be positive"))
	}
	if c.Gate.SweepInterval < 0 {
		errs = append(errs, errors.New("gate.sweep_interval must not be negative"))
	}

	return errors.Join(errs...)
}

// Warnings reports settings that are valid but likely to misbehave.
func (c *Config) Warnings() []string {
	var warnings []string

	budget := c.Generation.Policy().Budget()
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout <= budget {
		warnings = append(warnings, fmt.Sprintf(
			"server.write_timeout (%s) does not exceed the poll budget (%s); slow generations will be cut off",
			c.Server.WriteTimeout, budget))
	}
	if strings.TrimSpace(c.Gate.AppURL) == "" {
		warnings = append(warnings, "gate.app_url is empty; any request carrying a Referer passes the referer check")
	}
	if strings.TrimSpace(c.Runway.APIKey) == "" {
		warnings = append(warnings, "runway.api_key is empty; generation requests will fail")
	}
	return warnings
}

// RequestTimeoutOr returns the per-request provider timeout, or fallback when unset.
func (r RunwayConfig) RequestTimeoutOr(fallback time.Duration) time.Duration {
	if r.RequestTimeout > 0 {
		return r.RequestTimeout
	}
	return fallback
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigDir returns the XDG-compliant config directory for the app.
func DefaultConfigDir() string {
	return gfconfig.GetAppConfigDir(AppName)
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := DefaultConfigDir()
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs() []EnvVarSpec {
	prefix := EnvPrefix

	return []EnvVarSpec{
		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},

		// Runway config
		{Name: prefix + "RUNWAY_BASE_URL", Path: []string{"runway", "base_url"}, Type: EnvString},
		{Name: prefix + "RUNWAY_API_KEY", Path: []string{"runway", "api_key"}, Type: EnvString},
		{Name: prefix + "RUNWAY_API_VERSION", Path: []string{"runway", "api_version"}, Type: EnvString},
		{Name: prefix + "RUNWAY_MODEL", Path: []string{"runway", "model"}, Type: EnvString},
		{Name: prefix + "RUNWAY_REQUEST_TIMEOUT", Path: []string{"runway", "request_timeout"}, Type: EnvString},

		// Generation config
		{Name: prefix + "POLL_INTERVAL", Path: []string{"generation", "poll_interval"}, Type: EnvString},
		{Name: prefix + "MAX_POLL_ATTEMPTS", Path: []string{"generation", "max_poll_attempts"}, Type: EnvInt},

		// Image config
		{Name: prefix + "IMAGE_FETCH_TIMEOUT", Path: []string{"image", "fetch_timeout"}, Type: EnvString},
		{Name: prefix + "IMAGE_MAX_BYTES", Path: []string{"image", "max_bytes"}, Type: EnvInt},
		{Name: prefix + "IMAGE_MAX_EDGE", Path: []string{"image", "max_edge"}, Type: EnvInt},

		// Gate config
		{Name: prefix + "APP_URL", Path: []string{"gate", "app_url"}, Type: EnvString},
		{Name: prefix + "RATE_LIMIT", Path: []string{"gate", "rate_limit"}, Type: EnvInt},
		{Name: prefix + "RATE_WINDOW", Path: []string{"gate", "rate_window"}, Type: EnvString},
		{Name: prefix + "MAX_TRACKED_CLIENTS", Path: []string{"gate", "max_tracked_clients"}, Type: EnvInt},

		// Logging config
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_FORMAT", Path: []string{"logging", "format"}, Type: EnvString},
		{Name: prefix + "ENVIRONMENT", Path: []string{"logging", "environment"}, Type: EnvString},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Tracing config
		{Name: prefix + "TRACING_ENABLED", Path: []string{"tracing", "enabled"}, Type: EnvBool},
		{Name: prefix + "TRACING_ENDPOINT", Path: []string{"tracing", "endpoint"}, Type: EnvString},

		// Health config
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},
	}
}

// legacyEnvSpecs maps the unprefixed variable names used by earlier
// deployments of the front-end proxy.
func legacyEnvSpecs() []EnvVarSpec {
	return []EnvVarSpec{
		{Name: "RUNWAY_API_KEY", Path: []string{"runway", "api_key"}, Type: EnvString},
		{Name: "RUNWAY_API_URL", Path: []string{"runway", "base_url"}, Type: EnvString},
		{Name: "NEXT_PUBLIC_APP_URL", Path: []string{"gate", "app_url"}, Type: EnvString},
	}
}
