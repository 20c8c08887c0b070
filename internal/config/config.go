package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/devrev/ringconductor/internal/model"
)

// Config represents the conductor service configuration
type Config struct {
	Conductor ConductorConfig `mapstructure:"conductor"`
	Store     StoreConfig     `mapstructure:"store"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Claims    ClaimsConfig    `mapstructure:"claims"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ConductorConfig represents control loop configuration
type ConductorConfig struct {
	RingGroupName string        `mapstructure:"ring_group_name"`
	SleepInterval time.Duration `mapstructure:"sleep_interval"`
	InitialMode   string        `mapstructure:"initial_mode"`
	// MinRingFullyServingObservations belongs to partition assignment and is
	// carried through unchanged
	MinRingFullyServingObservations int `mapstructure:"min_ring_fully_serving_observations"`
	CommandConcurrency              int `mapstructure:"command_concurrency"`
}

// Mode returns the parsed initial conductor mode
func (c ConductorConfig) Mode() model.ConductorMode {
	mode, err := model.ParseConductorMode(c.InitialMode)
	if err != nil {
		return model.ConductorModeActive
	}
	return mode
}

// StoreConfig selects the entity store backend
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

// DatabaseConfig represents PostgreSQL entity store configuration
type DatabaseConfig struct {
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	Database          string `mapstructure:"database"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	MaxConnections    int    `mapstructure:"max_connections"`
	MinConnections    int    `mapstructure:"min_connections"`
	ConnectRetryLimit int    `mapstructure:"connect_retry_limit"`
}

// RedisConfig represents Redis claim store connection configuration
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// ClaimsConfig selects where conductor claims are arbitrated
type ClaimsConfig struct {
	Backend string        `mapstructure:"backend"`
	Prefix  string        `mapstructure:"prefix"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

const (
	StoreBackendMemory   = "memory"
	StoreBackendPostgres = "postgres"

	ClaimsBackendStore = "store"
	ClaimsBackendRedis = "redis"
)

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Conductor.RingGroupName == "" {
		return errors.New("conductor ring_group_name is required")
	}
	if c.Conductor.SleepInterval <= 0 {
		return errors.New("conductor sleep_interval must be positive")
	}
	if _, err := model.ParseConductorMode(c.Conductor.InitialMode); err != nil {
		return fmt.Errorf("invalid conductor initial_mode: %w", err)
	}
	if c.Conductor.MinRingFullyServingObservations < 0 {
		return errors.New("conductor min_ring_fully_serving_observations must be non-negative")
	}
	if c.Conductor.CommandConcurrency <= 0 {
		return errors.New("conductor command_concurrency must be positive")
	}

	switch c.Store.Backend {
	case StoreBackendMemory:
		return errors.New("store backend memory cannot be seeded with ring groups; use postgres")
	case StoreBackendPostgres:
		if c.Database.Host == "" {
			return errors.New("database host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return errors.New("invalid database port")
		}
		if c.Database.Database == "" {
			return errors.New("database name is required")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch c.Claims.Backend {
	case ClaimsBackendStore:
	case ClaimsBackendRedis:
		if c.Redis.Host == "" {
			return errors.New("redis host is required")
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			return errors.New("invalid redis port")
		}
		if c.Claims.TTL < 0 {
			return errors.New("claims ttl must be non-negative")
		}
	default:
		return fmt.Errorf("unknown claims backend %q", c.Claims.Backend)
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return errors.New("invalid metrics port")
	}

	return nil
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Conductor: ConductorConfig{
			SleepInterval:                   10 * time.Second,
			InitialMode:                     string(model.ConductorModeActive),
			MinRingFullyServingObservations: 3,
			CommandConcurrency:              8,
		},
		Store: StoreConfig{
			Backend: StoreBackendPostgres,
		},
		Database: DatabaseConfig{
			Host:              "localhost",
			Port:              5432,
			Database:          "ringconductor",
			User:              "ringconductor",
			MaxConnections:    10,
			MinConnections:    2,
			ConnectRetryLimit: 5,
		},
		Redis: RedisConfig{
			Host:         "localhost",
			Port:         6379,
			DB:           0,
			MaxRetries:   3,
			RetryBackoff: 30 * time.Second,
		},
		Claims: ClaimsConfig{
			Backend: ClaimsBackendStore,
			Prefix:  "ringconductor",
			TTL:     0,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}
