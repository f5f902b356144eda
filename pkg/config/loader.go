package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Defaults mirror the conventional local DMS setup: cleartext WebSocket on
// the loopback interface, no authentication.
func defaultConfig() Config {
	return Config{
		Host:                "127.0.0.1",
		Port:                9020,
		Whois:               "dmsgo",
		User:                "dmsgo",
		RequestTimeout:      "300s",
		SendGrace:           "60s",
		CallbackWarnAfter:   "10s",
		EventQueueHighWater: 100,
	}
}

// Load reads the YAML file at path, expands environment variables, merges
// the result over the built-in defaults and validates it. A missing file is
// not an error: the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Config{}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Debug("No config file, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(ExpandEnv(data), &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		slog.Info("Loaded config file", "path", path)
	}

	defaults := defaultConfig()
	if err := mergo.Merge(&cfg, defaults); err != nil {
		return nil, fmt.Errorf("merge defaults: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}
