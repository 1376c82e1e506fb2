// Package config holds runtime configuration. Defaults are overlaid
// by an optional YAML file, then by environment variables for the
// secrets and paths that differ per deployment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved server configuration.
type Config struct {
	Debug bool
	Port  string

	EnginePath string
	EngineArgs []string

	// EngineReplyTimeout bounds one request/reply cycle with an engine
	// process; exceeding it counts as process unresponsiveness.
	EngineReplyTimeout time.Duration

	// ReconnectGrace is how long a disconnected player may reconnect
	// before the game is forfeited.
	ReconnectGrace time.Duration

	// RetentionWindow keeps finished sessions visible for late
	// reconnect and result display before directory removal.
	RetentionWindow time.Duration

	QueueStaleAfter    time.Duration
	QueueSweepInterval time.Duration

	RedisURL    string
	DatabaseURL string
	AuthTokens  string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:               "8080",
		EngineReplyTimeout: 5 * time.Second,
		ReconnectGrace:     60 * time.Second,
		RetentionWindow:    2 * time.Minute,
		QueueStaleAfter:    5 * time.Minute,
		QueueSweepInterval: 30 * time.Second,
	}
}

// file is the YAML schema. Durations are written as Go duration
// strings ("5s", "1m30s").
type file struct {
	Port   string `yaml:"port"`
	Engine struct {
		Path         string `yaml:"path"`
		Args         string `yaml:"args"`
		ReplyTimeout string `yaml:"reply_timeout"`
	} `yaml:"engine"`
	Session struct {
		ReconnectGrace  string `yaml:"reconnect_grace"`
		RetentionWindow string `yaml:"retention_window"`
	} `yaml:"session"`
	Matchmaking struct {
		StaleAfter    string `yaml:"stale_after"`
		SweepInterval string `yaml:"sweep_interval"`
	} `yaml:"matchmaking"`
	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`
}

// LoadFile overlays settings from a YAML file.
func (c *Config) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	if f.Port != "" {
		c.Port = f.Port
	}
	if f.Engine.Path != "" {
		c.EnginePath = f.Engine.Path
	}
	if f.Engine.Args != "" {
		c.EngineArgs = strings.Fields(f.Engine.Args)
	}
	if f.RedisURL != "" {
		c.RedisURL = f.RedisURL
	}
	if f.DatabaseURL != "" {
		c.DatabaseURL = f.DatabaseURL
	}

	for _, d := range []struct {
		raw string
		dst *time.Duration
	}{
		{f.Engine.ReplyTimeout, &c.EngineReplyTimeout},
		{f.Session.ReconnectGrace, &c.ReconnectGrace},
		{f.Session.RetentionWindow, &c.RetentionWindow},
		{f.Matchmaking.StaleAfter, &c.QueueStaleAfter},
		{f.Matchmaking.SweepInterval, &c.QueueSweepInterval},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse config duration %q: %w", d.raw, err)
		}
		*d.dst = parsed
	}

	return nil
}

// ApplyEnv overrides secrets and paths from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("ENGINE_PATH"); v != "" {
		c.EnginePath = v
	}
	if v := os.Getenv("ENGINE_ARGS"); v != "" {
		c.EngineArgs = strings.Fields(v)
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("AUTH_TOKENS"); v != "" {
		c.AuthTokens = v
	}
}

// Validate checks the settings the server cannot run without.
func (c *Config) Validate() error {
	if c.EnginePath == "" {
		return fmt.Errorf("engine path is required (config engine.path or ENGINE_PATH)")
	}
	if c.EngineReplyTimeout <= 0 {
		return fmt.Errorf("engine reply timeout must be positive")
	}
	return nil
}
