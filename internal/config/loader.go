// Package config provides centralized configuration management for llmgate.
// Layers, lowest precedence first:
// Layer 1: built-in defaults (SetDefaults)
// Layer 2: the YAML config file read by viper
// Layer 3: LLMGATE_* environment variables and runtime overrides
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/llmgate/llmgate/internal/ailink"
	"github.com/llmgate/llmgate/internal/appid"
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

// SetDefaults registers default configuration values on v.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	// Store defaults
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	// Conversation history
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.redis_url", "")
	v.SetDefault("history.ttl", "24h")
	v.SetDefault("history.max_turns", 50)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)
	v.SetDefault("health.ready_timeout", "100ms")

	// Debug defaults
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)

	// Admission and concurrency
	v.SetDefault("concurrency.max_concurrent", 10)
	v.SetDefault("admission.max_wait", "10s")
	v.SetDefault("admission.max_checks", 3)
	v.SetDefault("admission.skip_unavailable", false)

	// Auto-throttler
	v.SetDefault("throttle.enabled", true)
	v.SetDefault("throttle.window", "5m")
	v.SetDefault("throttle.threshold", 5)
	v.SetDefault("throttle.reduce_factor", 0.8)
	v.SetDefault("throttle.min_rpm", 1)
	v.SetDefault("throttle.cooldown", "5m")
	v.SetDefault("throttle.recovery_interval", "10m")
	v.SetDefault("throttle.recovery_factor", 1.25)

	v.SetDefault("alerts.cooldown", "15m")
	v.SetDefault("snapshots.interval", "30s")
	v.SetDefault("snapshots.retention", "24h")

	// AILink
	v.SetDefault("ailink.default_timeout", "60s")
}

// Load decodes the settings held by v, applies environment and runtime
// overrides, validates the result and stores it as the current config.
func Load(v *viper.Viper, runtimeOverrides ...map[string]any) (*Config, error) {
	if v == nil {
		v = viper.New()
		SetDefaults(v)
	}

	merged := v.AllSettings()

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if envOverrides == nil {
		envOverrides = map[string]any{}
	}
	applyDynamicEnvOverrides(appid.Get().EnvPrefix, envOverrides)

	for _, overrides := range append([]map[string]any{envOverrides}, runtimeOverrides...) {
		mergeMaps(merged, overrides)
	}

	cfg, err := Decode(merged)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

// LoadFile reads a single YAML file on top of the defaults.
func LoadFile(path string, runtimeOverrides ...map[string]any) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return Load(v, runtimeOverrides...)
}

// Decode converts a raw settings map into a normalized Config without validating it.
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

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}
	cfg.normalize()
	return cfg, nil
}

// normalize lowercases map keys so lookups by provider and agent name are stable.
func (c *Config) normalize() {
	if len(c.AILink.Providers) > 0 {
		providers := make(map[string]ailink.ProviderInstanceConfig, len(c.AILink.Providers))
		for name, p := range c.AILink.Providers {
			p.AIProvider = strings.ToLower(strings.TrimSpace(p.AIProvider))
			providers[NormalizeName(name)] = p
		}
		c.AILink.Providers = providers
	}
	if len(c.RateLimits) > 0 {
		limits := make(map[string]RateLimitConfig, len(c.RateLimits))
		for name, rl := range c.RateLimits {
			limits[NormalizeName(name)] = rl
		}
		c.RateLimits = limits
	}
	if len(c.Agents) > 0 {
		agents := make(map[string]AgentConfig, len(c.Agents))
		for name, agent := range c.Agents {
			agents[NormalizeName(name)] = agent
		}
		c.Agents = agents
	}
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

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs() []EnvVarSpec {
	prefix := appid.Get().EnvPrefix
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}

	return []EnvVarSpec{
		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},

		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Store config
		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		{Name: prefix + "HISTORY_ENABLED", Path: []string{"history", "enabled"}, Type: EnvBool},
		{Name: prefix + "HISTORY_REDIS_URL", Path: []string{"history", "redis_url"}, Type: EnvString},
		{Name: prefix + "HISTORY_TTL", Path: []string{"history", "ttl"}, Type: EnvString},

		{Name: prefix + "MAX_CONCURRENT", Path: []string{"concurrency", "max_concurrent"}, Type: EnvInt},
		{Name: prefix + "ADMISSION_MAX_WAIT", Path: []string{"admission", "max_wait"}, Type: EnvString},
		{Name: prefix + "ADMISSION_MAX_CHECKS", Path: []string{"admission", "max_checks"}, Type: EnvInt},
		{Name: prefix + "ADMISSION_SKIP_UNAVAILABLE", Path: []string{"admission", "skip_unavailable"}, Type: EnvBool},

		{Name: prefix + "THROTTLE_ENABLED", Path: []string{"throttle", "enabled"}, Type: EnvBool},
		{Name: prefix + "THROTTLE_THRESHOLD", Path: []string{"throttle", "threshold"}, Type: EnvInt},
		{Name: prefix + "THROTTLE_WINDOW", Path: []string{"throttle", "window"}, Type: EnvString},

		{Name: prefix + "AILINK_DEFAULT_TIMEOUT", Path: []string{"ailink", "default_timeout"}, Type: EnvString},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Health config
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},

		// Debug config
		{Name: prefix + "DEBUG_ENABLED", Path: []string{"debug", "enabled"}, Type: EnvBool},
		{Name: prefix + "DEBUG_PPROF_ENABLED", Path: []string{"debug", "pprof_enabled"}, Type: EnvBool},
	}
}

// DefaultConfigDir returns the XDG-compliant config directory for the app.
func DefaultConfigDir() string {
	return gfconfig.GetAppConfigDir(appid.Get().ConfigName)
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := DefaultConfigDir()
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	identity := appid.Get()
	dataDir := gfconfig.GetAppDataDir(identity.ConfigName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + identity.BinaryName + ".db"
	}
	return filepath.Join(dataDir, identity.BinaryName+".db")
}
