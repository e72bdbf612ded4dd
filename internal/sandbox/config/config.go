// Package config loads sandboxd's service configuration from the
// environment (and an optional config file), using spf13/viper the way
// the teacher's CLI wires it for its own settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of operator-tunable knobs (spec §6
// "Configuration").
type Config struct {
	RegistryPath string

	MaxOutputLength   int
	DefaultSessionTTL int
	MaxSessionTTL     int
	CleanupInterval   time.Duration
	StopGrace         time.Duration

	ListenAddr string

	LogLevel  string
	LogFormat string

	MetricsEnabled bool
	MetricsPort    int

	TracingEnabled    bool
	TracingEndpoint   string
	TracingSampleRate float64
	ServiceName       string
	ServiceVersion    string
}

func defaults(v *viper.Viper) {
	v.SetDefault("registry_path", "/app/containers/registry.yaml")
	v.SetDefault("max_output_length", 10000)
	v.SetDefault("default_session_ttl", 300)
	v.SetDefault("max_session_ttl", 3600)
	v.SetDefault("cleanup_interval", "30s")
	v.SetDefault("stop_grace", "5s")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("metrics_port", 9090)
	v.SetDefault("tracing_enabled", false)
	v.SetDefault("tracing_endpoint", "localhost:4318")
	v.SetDefault("tracing_sample_rate", 1.0)
	v.SetDefault("service_name", "sandboxd")
	v.SetDefault("service_version", "dev")
}

// Load reads configuration from SANDBOXD_-prefixed environment
// variables, optionally overlaid by a config file at configPath (if
// non-empty and present). REGISTRY_PATH, MAX_OUTPUT_LENGTH,
// DEFAULT_SESSION_TTL, MAX_SESSION_TTL and CLEANUP_INTERVAL are also read
// without the prefix; the prefixed variable wins when both are set. An
// absent config file is not an error — environment variables and
// defaults still apply; a file that exists but cannot be read or parsed
// is.
func Load(configPath string) (Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("SANDBOXD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"registry_path", "max_output_length", "default_session_ttl", "max_session_ttl", "cleanup_interval"} {
		_ = v.BindEnv(key, "SANDBOXD_"+strings.ToUpper(key), strings.ToUpper(key))
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("read config file %s: %w", configPath, err)
			}
		}
	}

	cleanupInterval, err := time.ParseDuration(v.GetString("cleanup_interval"))
	if err != nil {
		return Config{}, fmt.Errorf("parse cleanup_interval: %w", err)
	}
	stopGrace, err := time.ParseDuration(v.GetString("stop_grace"))
	if err != nil {
		return Config{}, fmt.Errorf("parse stop_grace: %w", err)
	}

	return Config{
		RegistryPath:      v.GetString("registry_path"),
		MaxOutputLength:   v.GetInt("max_output_length"),
		DefaultSessionTTL: v.GetInt("default_session_ttl"),
		MaxSessionTTL:     v.GetInt("max_session_ttl"),
		CleanupInterval:   cleanupInterval,
		StopGrace:         stopGrace,
		ListenAddr:        v.GetString("listen_addr"),
		LogLevel:          v.GetString("log_level"),
		LogFormat:         v.GetString("log_format"),
		MetricsEnabled:    v.GetBool("metrics_enabled"),
		MetricsPort:       v.GetInt("metrics_port"),
		TracingEnabled:    v.GetBool("tracing_enabled"),
		TracingEndpoint:   v.GetString("tracing_endpoint"),
		TracingSampleRate: v.GetFloat64("tracing_sample_rate"),
		ServiceName:       v.GetString("service_name"),
		ServiceVersion:    v.GetString("service_version"),
	}, nil
}
