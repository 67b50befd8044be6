// Package config loads sufdexd settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreHTTP     = "http"
)

// default values
const (
	LISTEN          = ":8080"
	STORE           = StoreMemory
	REDIS_ADDR      = "localhost:6379"
	REDIS_PREFIX    = "sufdex:"
	DATABASE_URL    = "postgres://localhost:5432/sufdex"
	REMOTE_URL      = ""
	PROBABILITY     = 0.5
	MAX_LEVEL       = 30
	DEFAULT_RESULTS = 10
	MAX_RESULTS     = 1000
	LOG_LEVEL       = "info"
)

type Config struct {
	Listen      string `yaml:"listen"`
	Store       string `yaml:"store"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
	DatabaseURL string `yaml:"database_url"`
	RemoteURL   string `yaml:"remote_url"`

	Probability    float64 `yaml:"probability"`
	MaxLevel       int     `yaml:"max_level"`
	DefaultResults int     `yaml:"default_results"`
	MaxResults     int     `yaml:"max_results"`

	LogLevel string `yaml:"log_level"`
}

func Default() Config {
	return Config{
		Listen:         LISTEN,
		Store:          STORE,
		RedisAddr:      REDIS_ADDR,
		RedisPrefix:    REDIS_PREFIX,
		DatabaseURL:    DATABASE_URL,
		RemoteURL:      REMOTE_URL,
		Probability:    PROBABILITY,
		MaxLevel:       MAX_LEVEL,
		DefaultResults: DEFAULT_RESULTS,
		MaxResults:     MAX_RESULTS,
		LogLevel:       LOG_LEVEL,
	}
}

// Load reads filePath over the defaults, applies environment overrides and
// validates the result. A missing file is not an error; an empty path skips the file.
func Load(filePath string) (*Config, error) {
	config := Default()

	if filePath != "" {
		data, err := os.ReadFile(filePath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Info("config file not found, using defaults", slog.String("path", filePath))
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", filePath, err)
		default:
			if err := yaml.UnmarshalStrict(data, &config); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", filePath, err)
			}
		}
	}

	if err := config.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// applyEnv overrides fields from the environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"SUFDEX_LISTEN":       &c.Listen,
		"SUFDEX_STORE":        &c.Store,
		"REDIS_ADDR":          &c.RedisAddr,
		"SUFDEX_REDIS_PREFIX": &c.RedisPrefix,
		"DATABASE_URL":        &c.DatabaseURL,
		"SUFDEX_REMOTE_URL":   &c.RemoteURL,
		"SUFDEX_LOG_LEVEL":    &c.LogLevel,
	}
	for name, field := range strs {
		if v, ok := lookup(name); ok && v != "" {
			*field = v
		}
	}

	if v, ok := lookup("SUFDEX_MAX_LEVEL"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SUFDEX_MAX_LEVEL: %w", err)
		}
		c.MaxLevel = n
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Store {
	case StoreMemory, StoreRedis, StorePostgres:
	case StoreHTTP:
		if c.RemoteURL == "" {
			return errors.New("store config: http store needs remote_url")
		}
	default:
		return fmt.Errorf("store config: unknown store %q", c.Store)
	}

	if c.Probability <= 0 || c.Probability >= 1 {
		return fmt.Errorf("skiplist config: probability must be in (0, 1), but %v was given", c.Probability)
	}
	if c.MaxLevel < 1 {
		return fmt.Errorf("skiplist config: max level must be positive, but %d was given", c.MaxLevel)
	}
	if c.DefaultResults <= 0 || c.MaxResults <= 0 {
		return errors.New("query config: result counts must be positive")
	}
	if c.DefaultResults > c.MaxResults {
		return fmt.Errorf("query config: default_results %d exceeds max_results %d", c.DefaultResults, c.MaxResults)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log config: %w", err)
	}
	return level, nil
}

// Dump writes the configuration as YAML.
func (c Config) Dump(filePath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(filePath, data, 0644)
}
