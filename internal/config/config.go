package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/yp-alpha/progression/internal/progression"
)

// Environment variables that override file settings.
const (
	EnvDBDriver  = "PROGRESSION_DB_DRIVER"
	EnvDBDSN     = "PROGRESSION_DB_DSN"
	EnvAuthToken = "PROGRESSION_AUTH_TOKEN"
	EnvJWTSecret = "PROGRESSION_JWT_SECRET"
	EnvPort      = "PROGRESSION_PORT"
)

type Config struct {
	Server   ServerConfig       `yaml:"server" toml:"server"`
	Storage  StorageConfig      `yaml:"storage" toml:"storage"`
	Engine   EngineConfig       `yaml:"engine" toml:"engine"`
	Feed     FeedConfig         `yaml:"feed" toml:"feed"`
	Logging  LoggingConfig      `yaml:"logging" toml:"logging"`
	Mock     MockConfig         `yaml:"mock" toml:"mock"`
	Economy  progression.Tables `yaml:"economy" toml:"economy"`
	Timezone string             `yaml:"timezone" toml:"timezone"`
}

type ServerConfig struct {
	Port           int           `yaml:"port" toml:"port"`
	Host           string        `yaml:"host" toml:"host"`
	AuthToken      string        `yaml:"auth_token" toml:"auth_token"`
	JWTSecret      string        `yaml:"jwt_secret" toml:"jwt_secret"`
	AllowedOrigins []string      `yaml:"allowed_origins" toml:"allowed_origins"`
	RateLimit      float64       `yaml:"rate_limit" toml:"rate_limit"` // requests per second per client
	RateBurst      int           `yaml:"rate_burst" toml:"rate_burst"`
	RequestTimeout time.Duration `yaml:"request_timeout" toml:"request_timeout"`
}

type StorageConfig struct {
	Driver        string        `yaml:"driver" toml:"driver"` // postgres, sqlite, file, memory
	DSN           string        `yaml:"dsn" toml:"dsn"`
	MaxOpenConns  int           `yaml:"max_open_conns" toml:"max_open_conns"`
	MaxIdleConns  int           `yaml:"max_idle_conns" toml:"max_idle_conns"`
	FlushInterval time.Duration `yaml:"flush_interval" toml:"flush_interval"`
}

type EngineConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" toml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" toml:"initial_backoff"`
}

type FeedConfig struct {
	BroadcastThrottle time.Duration `yaml:"broadcast_throttle" toml:"broadcast_throttle"`
	MaxConnections    int           `yaml:"max_connections" toml:"max_connections"`
}

type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
	Env   string `yaml:"env" toml:"env"`
	File  string `yaml:"file" toml:"file"`
}

type MockConfig struct {
	Athletes int           `yaml:"athletes" toml:"athletes"`
	Tick     time.Duration `yaml:"tick" toml:"tick"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Host:           "127.0.0.1",
			RateLimit:      20,
			RateBurst:      40,
			RequestTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Driver:        "sqlite",
			DSN:           "progression.db",
			FlushInterval: 5 * time.Second,
		},
		Engine: EngineConfig{
			MaxAttempts:    8,
			InitialBackoff: 5 * time.Millisecond,
		},
		Feed: FeedConfig{
			BroadcastThrottle: 100 * time.Millisecond,
			MaxConnections:    1000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Mock: MockConfig{
			Athletes: 8,
			Tick:     2 * time.Second,
		},
		Economy:  *progression.DefaultTables(),
		Timezone: "UTC",
	}
}

// Load reads path on top of the defaults. The format follows the file
// extension: .toml is TOML, anything else YAML. A .env file next to the
// config and environment overrides are applied last.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"))
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults
// with environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	cfg = defaultConfig()
	loadDotEnv(".env")
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// loadDotEnv exports the variables in path without overriding ones already set.
func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvDBDriver); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv(EnvDBDSN); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv(EnvAuthToken); v != "" {
		c.Server.AuthToken = v
	}
	if v := os.Getenv(EnvJWTSecret); v != "" {
		c.Server.JWTSecret = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate checks settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if err := c.Economy.Validate(); err != nil {
		return fmt.Errorf("economy: %w", err)
	}
	return nil
}

// Location resolves the time zone calendar days are counted in.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "UTC") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
