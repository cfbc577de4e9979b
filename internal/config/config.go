// Package config loads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Application modes.
const (
	ModeConsole = "console"
	ModeEcho    = "echo"
)

// Config holds the server configuration.
type Config struct {
	Port       string `env:"PORT" envDefault:"8080"`
	SerialPath string `env:"SERIAL_PATH" envDefault:"/serial"`

	// Ring sizes; 0 disables buffering in that direction.
	TxBuffer  int `env:"TX_BUFFER" envDefault:"256"`
	RxBuffer  int `env:"RX_BUFFER" envDefault:"256"`
	MaxBuffer int `env:"MAX_BUFFER" envDefault:"16384"`

	MaxClients int    `env:"MAX_CLIENTS" envDefault:"8"`

	// Origins accepted on the websocket endpoint; empty accepts all.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	DBPath     string `env:"DB_PATH" envDefault:"data/bridge.db"`
	CaptureDir string `env:"CAPTURE_DIR"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat  string `env:"LOG_FORMAT" envDefault:"json"`
	Mode       string `env:"MODE" envDefault:"console"`

	PollInterval         time.Duration `env:"POLL_INTERVAL" envDefault:"10ms"`
	HousekeepingInterval time.Duration `env:"HOUSEKEEPING_INTERVAL" envDefault:"1s"`
}

// Load reads an optional .env file from the working directory, then parses
// the environment into a Config and validates it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return Parse()
}

// Parse builds a Config from the process environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges that the env tags cannot express.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.SerialPath, "/") {
		return fmt.Errorf("SERIAL_PATH must start with '/', got %q", c.SerialPath)
	}
	if c.TxBuffer < 0 || c.RxBuffer < 0 || c.MaxBuffer < 0 {
		return errors.New("buffer sizes must not be negative")
	}
	if c.MaxBuffer > 1<<20 {
		return errors.New("MAX_BUFFER must not exceed 1048576, the websocket read limit")
	}
	if c.MaxClients < 0 {
		return errors.New("MAX_CLIENTS must not be negative")
	}
	if c.PollInterval <= 0 || c.HousekeepingInterval <= 0 {
		return errors.New("intervals must be positive")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat)
	}
	switch c.Mode {
	case ModeConsole, ModeEcho:
	default:
		return fmt.Errorf("unknown MODE %q", c.Mode)
	}
	return nil
}
