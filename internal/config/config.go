package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Bot       BotConfig       `yaml:"bot"`
	Database  DatabaseConfig  `yaml:"database"`
}

// TransportConfig selects and configures the chat transport
type TransportConfig struct {
	// Mode is "nats" or "gateway"
	Mode string `yaml:"mode"`

	// NATS bridge settings
	NATSURL  string `yaml:"nats_url"`
	Embedded bool   `yaml:"embedded"` // run an in-process NATS server

	// Websocket gateway settings
	GatewayURL    string        `yaml:"gateway_url"`
	GatewaySecret string        `yaml:"gateway_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

// BotConfig holds command handling settings
type BotConfig struct {
	CommandPrefix  string        `yaml:"command_prefix"`
	OwnerIDs       []string      `yaml:"owner_ids"`
	Timezone       string        `yaml:"timezone"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	StorageTimeout time.Duration `yaml:"storage_timeout"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Set defaults
	if cfg.Transport.Mode == "" {
		cfg.Transport.Mode = "nats"
	}
	if cfg.Transport.NATSURL == "" {
		cfg.Transport.NATSURL = "nats://127.0.0.1:4222"
	}
	if cfg.Transport.TokenDuration == 0 {
		cfg.Transport.TokenDuration = 24 * time.Hour
	}
	if cfg.Bot.CommandPrefix == "" {
		cfg.Bot.CommandPrefix = "!"
	}
	if cfg.Bot.Timezone == "" {
		cfg.Bot.Timezone = "UTC"
	}
	if cfg.Bot.SweepInterval == 0 {
		cfg.Bot.SweepInterval = 60 * time.Second
	}
	if cfg.Bot.StorageTimeout == 0 {
		cfg.Bot.StorageTimeout = 5 * time.Second
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/sprintbot/sprintbot.db"
	}

	return &cfg, nil
}

// Save writes configuration to a YAML file
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Location resolves the configured reporting timezone
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Bot.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Bot.Timezone, err)
	}
	return loc, nil
}

// IsOwner reports whether the participant id is a configured owner.
// Exact match only; substring comparison would misauthorize ids that
// happen to contain an owner's digits.
func (c *Config) IsOwner(participantID string) bool {
	for _, id := range c.Bot.OwnerIDs {
		if id == participantID {
			return true
		}
	}
	return false
}
