package config

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// LoggingConfig represents the logging configuration file
type LoggingConfig struct {
	Level            string   `yaml:"level"`
	Format           string   `yaml:"format"`
	OutputPaths      []string `yaml:"output_paths"`
	ErrorOutputPaths []string `yaml:"error_output_paths"`
}

// DefaultLoggingConfig returns default logging configuration
func DefaultLoggingConfig() *LoggingConfig {
	return &LoggingConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
}

// LoadLogging reads a logging configuration file
func LoadLogging(path string) (*LoggingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read logging config %s: %w", path, err)
	}

	cfg := DefaultLoggingConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse logging config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("logging configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate validates the logging configuration
func (c *LoggingConfig) Validate() error {
	if _, err := c.level(); err != nil {
		return err
	}
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("invalid log format %q", c.Format)
	}
	return nil
}

func (c *LoggingConfig) level() (zapcore.Level, error) {
	switch c.Level {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q", c.Level)
	}
}

// ZapConfig converts the logging configuration into a zap configuration
func (c *LoggingConfig) ZapConfig() (zap.Config, error) {
	level, err := c.level()
	if err != nil {
		return zap.Config{}, err
	}

	var config zap.Config
	if c.Format == "console" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}

	config.Level = zap.NewAtomicLevelAt(level)
	if len(c.OutputPaths) > 0 {
		config.OutputPaths = c.OutputPaths
	}
	if len(c.ErrorOutputPaths) > 0 {
		config.ErrorOutputPaths = c.ErrorOutputPaths
	}
	return config, nil
}

// BuildLogger builds a zap logger from the logging configuration
func (c *LoggingConfig) BuildLogger() (*zap.Logger, error) {
	config, err := c.ZapConfig()
	if err != nil {
		return nil, err
	}
	return config.Build()
}
