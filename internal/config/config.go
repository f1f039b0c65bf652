// Package config loads the runtime settings for cmd/madnsd (cmd/madnsbench
// takes its settings from flags only), following the teacher's
// internal/config priority order
// (flags are handled by the caller; this package covers file, environment,
// and defaults) but scoped to what a resolver binary actually needs instead
// of HydraDNS's server/zones/filtering schema.
//
// Priority, highest to lowest:
//  1. Environment variables (MADNS_* prefix)
//  2. YAML config file (if configPath is non-empty)
//  3. Hardcoded defaults
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is everything madns.Create and the optional diagnostics API/audit
// log need to start.
type Config struct {
	ResolvConf string
	QueryTime  time.Duration
	ServerReqs int

	Logging LoggingConfig

	API   APIConfig
	Store StoreConfig
}

// LoggingConfig carries every internal/diag.Config field except
// ExtraFields; cmd/madnsd copies these fields into diag.Configure.
type LoggingConfig struct {
	Level            string
	Structured       bool
	StructuredFormat string
	IncludePID       bool
}

// APIConfig controls the optional read-only diagnostics HTTP server.
type APIConfig struct {
	Enabled bool
	Host    string
	Port    int
}

// StoreConfig controls the optional resolution audit log.
type StoreConfig struct {
	Enabled bool
	Path    string
}

// Load reads configuration from the environment, configPath (if non-empty),
// and defaults, in that order of decreasing precedence, then validates it.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MADNS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	cfg := &Config{
		ResolvConf: v.GetString("resolver.resolv_conf"),
		QueryTime:  v.GetDuration("resolver.query_time"),
		ServerReqs: v.GetInt("resolver.server_reqs"),
		Logging: LoggingConfig{
			Level:            v.GetString("logging.level"),
			Structured:       v.GetBool("logging.structured"),
			StructuredFormat: v.GetString("logging.structured_format"),
			IncludePID:       v.GetBool("logging.include_pid"),
		},
		API: APIConfig{
			Enabled: v.GetBool("api.enabled"),
			Host:    v.GetString("api.host"),
			Port:    v.GetInt("api.port"),
		},
		Store: StoreConfig{
			Enabled: v.GetBool("store.enabled"),
			Path:    v.GetString("store.path"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("resolver.resolv_conf", "/etc/resolv.conf")
	v.SetDefault("resolver.query_time", "10s")
	v.SetDefault("resolver.server_reqs", 20)

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.structured", false)
	v.SetDefault("logging.structured_format", "json")
	v.SetDefault("logging.include_pid", false)

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8080)

	v.SetDefault("store.enabled", false)
	v.SetDefault("store.path", "madns.db")
}

func validate(cfg *Config) error {
	if cfg.ResolvConf == "" {
		return fmt.Errorf("config: resolver.resolv_conf must not be empty")
	}
	if cfg.ServerReqs <= 0 {
		return fmt.Errorf("config: resolver.server_reqs must be positive, got %d", cfg.ServerReqs)
	}
	if cfg.QueryTime <= 0 {
		return fmt.Errorf("config: resolver.query_time must be positive, got %s", cfg.QueryTime)
	}
	if cfg.API.Enabled && cfg.API.Port <= 0 {
		return fmt.Errorf("config: api.port must be positive when api.enabled, got %d", cfg.API.Port)
	}
	return nil
}
