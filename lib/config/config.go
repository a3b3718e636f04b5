// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the svchub
// daemon.
//
// Configuration is loaded from a single YAML file specified by the
// SVCHUB_CONFIG environment variable or a --config flag. There is no
// automatic discovery: one file, deterministic and auditable. The
// only expansion performed is ${VAR} substitution in paths for
// portability.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration.
type Config struct {
	// SocketPath is the Unix socket the daemon serves on.
	SocketPath string `yaml:"socket_path"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Limits bounds per-request resource use.
	Limits LimitsConfig `yaml:"limits"`

	// Services are the endpoints the daemon hosts.
	Services []ServiceConfig `yaml:"services"`
}

// LimitsConfig bounds per-request resource use.
type LimitsConfig struct {
	// MaxRequestSize caps a single encoded request in bytes.
	MaxRequestSize int `yaml:"max_request_size"`

	// ReadTimeout is how long the server waits for a client to send
	// its request (Go duration string).
	ReadTimeout string `yaml:"read_timeout"`

	// WriteTimeout is how long the server waits for a response write.
	WriteTimeout string `yaml:"write_timeout"`
}

// ServiceConfig declares one hosted service endpoint.
type ServiceConfig struct {
	// Name is the endpoint name clients address.
	Name string `yaml:"name"`

	// Kind selects the built-in worker. Currently only "echo".
	Kind string `yaml:"kind"`

	// Workers is the number of receiver goroutines. Zero means one.
	Workers int `yaml:"workers"`

	// Notifications enables attach/detach notification delivery to
	// the service's receivers. Nil means enabled.
	Notifications *bool `yaml:"notifications,omitempty"`
}

// Default returns the default configuration. The config file is
// still required for the daemon; these defaults exist so every field
// has a sensible zero value.
func Default() *Config {
	return &Config{
		SocketPath: "${XDG_RUNTIME_DIR:-/run}/svchub/svchub.sock",
		LogLevel:   "info",
		Limits: LimitsConfig{
			MaxRequestSize: 1024 * 1024,
			ReadTimeout:    "30s",
			WriteTimeout:   "10s",
		},
	}
}

// Load loads configuration from the SVCHUB_CONFIG environment
// variable. Fails if it is not set; there are no fallback locations.
func Load() (*Config, error) {
	path := os.Getenv("SVCHUB_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("SVCHUB_CONFIG environment variable not set; " +
			"set it to the path of your svchub.yaml config file, or use --config")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file, merging over
// Default() and expanding ${VAR} patterns in the socket path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.SocketPath = expandVars(cfg.SocketPath)
	return cfg, nil
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.SocketPath == "" {
		errs = append(errs, fmt.Errorf("socket_path is required"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be one of debug, info, warn, error"))
	}
	if c.Limits.MaxRequestSize <= 0 {
		errs = append(errs, fmt.Errorf("limits.max_request_size must be positive"))
	}
	if _, err := c.ReadTimeout(); err != nil {
		errs = append(errs, fmt.Errorf("limits.read_timeout: %w", err))
	}
	if _, err := c.WriteTimeout(); err != nil {
		errs = append(errs, fmt.Errorf("limits.write_timeout: %w", err))
	}

	seen := make(map[string]bool)
	for i, service := range c.Services {
		if service.Name == "" {
			errs = append(errs, fmt.Errorf("services[%d].name is required", i))
			continue
		}
		if seen[service.Name] {
			errs = append(errs, fmt.Errorf("duplicate service name %q", service.Name))
		}
		seen[service.Name] = true
		if service.Kind != "echo" {
			errs = append(errs, fmt.Errorf("services[%d].kind %q is not supported", i, service.Kind))
		}
		if service.Workers < 0 {
			errs = append(errs, fmt.Errorf("services[%d].workers must not be negative", i))
		}
	}

	return errors.Join(errs...)
}

// ReadTimeout parses the configured read timeout.
func (c *Config) ReadTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Limits.ReadTimeout)
}

// WriteTimeout parses the configured write timeout.
func (c *Config) WriteTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Limits.WriteTimeout)
}
