package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the top-level application config.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Database     DatabaseConfig     `koanf:"database"`
	Compute      ComputeConfig      `koanf:"compute"`
	Cache        CacheConfig        `koanf:"cache"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	Type         string `koanf:"type"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type ComputeConfig struct {
	BaseURL    string `koanf:"base_url"`
	APIKey     string `koanf:"api_key"`
	Timeout    string `koanf:"timeout"` // parsed and validated on startup
	SampleSize int    `koanf:"sample_size"`
}

type CacheConfig struct {
	Capacity        int    `koanf:"capacity"`
	TTL             string `koanf:"ttl"`
	JanitorInterval string `koanf:"janitor_interval"`
}

type OrchestratorConfig struct {
	MaxIterations int    `koanf:"max_iterations"`
	ProfileDir    string `koanf:"profile_dir"`
}

func (c ComputeConfig) EffectiveTimeout() (time.Duration, error) {
	if c.Timeout == "" {
		return 60 * time.Second, nil
	}
	return time.ParseDuration(c.Timeout)
}

func (c CacheConfig) EffectiveTTL() (time.Duration, error) {
	if c.TTL == "" {
		return time.Hour, nil
	}
	return time.ParseDuration(c.TTL)
}

func (c CacheConfig) EffectiveJanitorInterval() (time.Duration, error) {
	if c.JanitorInterval == "" {
		return 5 * time.Minute, nil
	}
	return time.ParseDuration(c.JanitorInterval)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("database.max_idle_conns must be > 0")
	}
	if c.Database.Type != "" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}

	if strings.TrimSpace(c.Compute.BaseURL) == "" {
		return fmt.Errorf("compute.base_url is required")
	}
	timeout, err := c.Compute.EffectiveTimeout()
	if err != nil {
		return fmt.Errorf("invalid compute.timeout %q: %w", c.Compute.Timeout, err)
	}
	if timeout <= 0 {
		return fmt.Errorf("compute.timeout must be > 0")
	}
	if c.Compute.SampleSize < 0 {
		return fmt.Errorf("compute.sample_size must be >= 0")
	}

	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be > 0")
	}
	ttl, err := c.Cache.EffectiveTTL()
	if err != nil {
		return fmt.Errorf("invalid cache.ttl %q: %w", c.Cache.TTL, err)
	}
	if ttl <= 0 {
		return fmt.Errorf("cache.ttl must be > 0")
	}
	janitor, err := c.Cache.EffectiveJanitorInterval()
	if err != nil {
		return fmt.Errorf("invalid cache.janitor_interval %q: %w", c.Cache.JanitorInterval, err)
	}
	if janitor <= 0 {
		return fmt.Errorf("cache.janitor_interval must be > 0")
	}

	if c.Orchestrator.MaxIterations <= 0 {
		return fmt.Errorf("orchestrator.max_iterations must be > 0")
	}

	return nil
}

// Load parses config from file + env and validates it.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                 8080,
		"server.host":                 "0.0.0.0",
		"server.max_body_size_mb":     8,
		"server.mode":                 "release",
		"database.type":               "postgres",
		"database.dsn":                "",
		"database.max_open_conns":     25,
		"database.max_idle_conns":     25,
		"database.auto_migrate":       true,
		"compute.base_url":            "",
		"compute.api_key":             "",
		"compute.timeout":             "60s",
		"compute.sample_size":         20,
		"cache.capacity":              256,
		"cache.ttl":                   "1h",
		"cache.janitor_interval":      "5m",
		"orchestrator.max_iterations": 3,
		"orchestrator.profile_dir":    "",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("TALLY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "TALLY_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
