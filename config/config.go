// Package config loads the service-bus application configuration from YAML
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/simbuilder/servicebus/bus"
	"github.com/simbuilder/servicebus/errors"
)

// envPrefix is prepended to every environment override, e.g.
// SERVICEBUS_CLIENT_ID or SERVICEBUS_SERVERS.
const envPrefix = "SERVICEBUS_"

// AppConfig is the top-level configuration for a service using the bus.
type AppConfig struct {
	Bus         bus.Config    `yaml:"bus"`
	TemplateDir string        `yaml:"template_dir"`
	Logging     LoggingConfig `yaml:"logging"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns an AppConfig with development defaults.
func Default() AppConfig {
	return AppConfig{
		Bus:         bus.DefaultConfig(),
		TemplateDir: "templates",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from the YAML file at path, then applies
// environment overrides. A missing file is not an error: defaults plus
// environment are used.
func Load(path string) (AppConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, errors.Wrap(err, "config", "Load", fmt.Sprintf("read %s", path))
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.WrapInvalid(err, "config", "Load", fmt.Sprintf("parse %s", path))
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration.
func (c *AppConfig) Validate() error {
	if err := c.Bus.Validate(); err != nil {
		return err
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "AppConfig", "Validate",
			fmt.Sprintf("unknown log level %q", c.Logging.Level))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text", "":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "AppConfig", "Validate",
			fmt.Sprintf("unknown log format %q", c.Logging.Format))
	}

	return nil
}

// applyEnv overlays SERVICEBUS_* environment variables onto the config.
func applyEnv(cfg *AppConfig) {
	if v := getenv("SERVERS"); v != "" {
		cfg.Bus.Servers = splitAndTrim(v)
	}
	if v := getenv("CLUSTER_ID"); v != "" {
		cfg.Bus.ClusterID = v
	}
	if v := getenv("CLIENT_ID"); v != "" {
		cfg.Bus.ClientID = v
	}
	if v := getenv("MAX_RECONNECTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Bus.MaxReconnects = n
		}
	}
	if v := getenv("RECONNECT_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Bus.ReconnectWait = d
		}
	}
	if v := getenv("PING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Bus.PingInterval = d
		}
	}
	if v := getenv("PUBLISH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Bus.PublishTimeout = d
		}
	}
	if v := getenv("TEMPLATE_DIR"); v != "" {
		cfg.TemplateDir = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func getenv(key string) string {
	return os.Getenv(envPrefix + key)
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
