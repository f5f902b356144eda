// Package config loads client settings from an optional YAML file with
// environment-variable expansion, merges them over built-in defaults and
// validates the result.
package config

import (
	"fmt"
	"time"

	"github.com/visitoolkit/dms/pkg/dms"
)

// Config is the YAML file structure. Durations are strings parsed with
// time.ParseDuration (e.g. "300s", "5m").
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Whois identifies the application, User the user identity.
	Whois string `yaml:"whois"`
	User  string `yaml:"user"`

	RequestTimeout      string `yaml:"request_timeout"`
	SendGrace           string `yaml:"send_grace"`
	CallbackWarnAfter   string `yaml:"callback_warn_after"`
	EventQueueHighWater int    `yaml:"event_queue_high_water"`
}

// Validate checks field ranges and duration syntax.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.Whois == "" {
		return fmt.Errorf("whois must not be empty")
	}
	if c.User == "" {
		return fmt.Errorf("user must not be empty")
	}
	for field, value := range map[string]string{
		"request_timeout":     c.RequestTimeout,
		"send_grace":          c.SendGrace,
		"callback_warn_after": c.CallbackWarnAfter,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", field, err)
		}
	}
	if c.EventQueueHighWater < 0 {
		return fmt.Errorf("event_queue_high_water must not be negative")
	}
	return nil
}

// ClientConfig converts the loaded settings into the dms connection config.
// Call only after Validate.
func (c *Config) ClientConfig() dms.Config {
	return dms.Config{
		Host:              c.Host,
		Port:              c.Port,
		Whois:             c.Whois,
		User:              c.User,
		RequestTimeout:    parseDuration(c.RequestTimeout),
		SendGrace:         parseDuration(c.SendGrace),
		CallbackWarnAfter: parseDuration(c.CallbackWarnAfter),
		QueueHighWater:    c.EventQueueHighWater,
	}
}

// parseDuration returns 0 for empty or invalid input, which makes the dms
// package fall back to its own defaults.
func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
