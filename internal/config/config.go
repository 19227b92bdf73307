// Package config loads CLI configuration from file, environment, and
// built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/ephemeralchat/roomlink/internal/logging"
)

// Config is the roomlink CLI configuration.
type Config struct {
	// ServerURL is the chat backend origin, e.g. "https://chat.example.com".
	ServerURL string `mapstructure:"server_url"`

	// Username is the display name presented on join.
	Username string `mapstructure:"username"`

	// StatePath, when set, persists session continuity to this file so a
	// restarted process can rejoin. Empty means in-memory continuity.
	StatePath string `mapstructure:"state_path"`

	// MetricsAddr, when set, serves Prometheus metrics on this address.
	MetricsAddr string `mapstructure:"metrics_addr"`

	Log logging.Config `mapstructure:"log"`
}

// Load reads configuration. When path is empty, ./roomlink.yaml is tried
// and its absence is not an error; an explicit path must exist. ROOMLINK_*
// environment variables override file values (ROOMLINK_SERVER_URL,
// ROOMLINK_LOG_LEVEL, ...).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("roomlink")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ROOMLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("username", "")
	v.SetDefault("state_path", "")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return &cfg, nil
}
