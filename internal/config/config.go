// Package config handles configuration loading from TOML files with CLI
// flag overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/varhub/varhub/internal/variable"
)

// Config holds all settings for the coordinator daemon.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Registry RegistryConfig `toml:"registry"`
	Session  SessionConfig  `toml:"session"`
	Storage  StorageConfig  `toml:"storage"`
	Logging  LoggingConfig  `toml:"logging"`
}

// ServerConfig holds endpoint settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// RegistryConfig holds coordinator settings.
type RegistryConfig struct {
	HistoryCap int `toml:"history_cap"` // per-variable optimization history bound
}

// SessionConfig holds subscriber liveness settings.
type SessionConfig struct {
	LeaseTTL      Duration `toml:"lease_ttl"`      // heartbeat lease lifetime
	SweepInterval Duration `toml:"sweep_interval"` // expired-lease collection interval
}

// StorageConfig holds snapshot persistence settings.
type StorageConfig struct {
	Backend      string   `toml:"backend"`       // "memory", "sqlite", or "postgres"
	Path         string   `toml:"path"`          // sqlite database file
	DSN          string   `toml:"dsn"`           // postgres connection string
	SaveInterval Duration `toml:"save_interval"` // periodic snapshot save cadence
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
	Pretty bool   `toml:"pretty"` // console writer instead of JSON
}

// Duration is a time.Duration that unmarshals from TOML strings like "30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 7070,
		},
		Registry: RegistryConfig{
			HistoryCap: variable.DefaultHistoryCap,
		},
		Session: SessionConfig{
			LeaseTTL:      Duration(30 * time.Second),
			SweepInterval: Duration(5 * time.Second),
		},
		Storage: StorageConfig{
			Backend:      "memory",
			SaveInterval: Duration(time.Minute),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a TOML file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Addr returns the server's listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
