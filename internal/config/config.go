// Package config loads relay settings from an optional YAML file, a .env file and
// RELAY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the "host:port" listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// WSConfig holds websocket transport settings.
type WSConfig struct {
	// ReadLimit caps the size of a single inbound frame in bytes.
	ReadLimit int64 `mapstructure:"read_limit"`
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// OutboxSize is the per-connection send buffer; sends beyond it are dropped.
	OutboxSize int `mapstructure:"outbox_size"`
	// CloseGrace is how long a connection flagged for closing may keep flushing.
	CloseGrace time.Duration `mapstructure:"close_grace"`
	// OriginPatterns lists extra browser origins allowed to connect, e.g. "localhost:*".
	OriginPatterns []string `mapstructure:"origin_patterns"`
}

// SweeperConfig holds liveness sweep settings.
type SweeperConfig struct {
	// Interval is the period between sweeps and therefore the liveness detection latency.
	Interval time.Duration `mapstructure:"interval"`
	// IdleThreshold is the inactivity after which a room is reclaimed.
	IdleThreshold time.Duration `mapstructure:"idle_threshold"`
	// PingTimeout bounds a single ping round trip.
	PingTimeout time.Duration `mapstructure:"ping_timeout"`
}

type RoomsConfig struct {
	HistorySize int `mapstructure:"history_size"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	WS      WSConfig      `mapstructure:"ws"`
	Sweeper SweeperConfig `mapstructure:"sweeper"`
	Rooms   RoomsConfig   `mapstructure:"rooms"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Validate reports every violation at once.
func (c Config) Validate() error {
	var errs []string

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 0-65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "server.shutdown_timeout must be positive")
	}
	if c.WS.ReadLimit <= 0 {
		errs = append(errs, fmt.Sprintf("ws.read_limit must be positive, got %d", c.WS.ReadLimit))
	}
	if c.WS.WriteTimeout <= 0 {
		errs = append(errs, "ws.write_timeout must be positive")
	}
	if c.WS.OutboxSize < 1 {
		errs = append(errs, fmt.Sprintf("ws.outbox_size must be >= 1, got %d", c.WS.OutboxSize))
	}
	if c.WS.CloseGrace < 0 {
		errs = append(errs, "ws.close_grace must not be negative")
	}
	if err := validateSweeper(c.Sweeper); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Rooms.HistorySize < 1 {
		errs = append(errs, fmt.Sprintf("rooms.history_size must be >= 1, got %d", c.Rooms.HistorySize))
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateSweeper(s SweeperConfig) error {
	var errs []string
	if s.Interval <= 0 {
		errs = append(errs, "sweeper.interval must be positive")
	}
	if s.PingTimeout <= 0 {
		errs = append(errs, "sweeper.ping_timeout must be positive")
	}
	// A room must survive at least a couple of sweeps after its last message,
	// otherwise a freshly evicted seat can get its room reclaimed in the same cycle.
	if s.IdleThreshold < 2*s.Interval {
		errs = append(errs, fmt.Sprintf("sweeper.idle_threshold (%s) must be at least twice sweeper.interval (%s)", s.IdleThreshold, s.Interval))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies .env and environment
// variable overrides, and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading any file or environment.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults are static and always decode.
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("ws.read_limit", 16384)
	v.SetDefault("ws.write_timeout", "5s")
	v.SetDefault("ws.outbox_size", 64)
	v.SetDefault("ws.close_grace", "2s")
	v.SetDefault("ws.origin_patterns", []string{})

	v.SetDefault("sweeper.interval", "30s")
	v.SetDefault("sweeper.idle_threshold", "30m")
	v.SetDefault("sweeper.ping_timeout", "10s")

	v.SetDefault("rooms.history_size", 20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
