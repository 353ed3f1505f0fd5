/*
Copyright 2026 The tac-webbuilder Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads the scheduler's configuration: a YAML file for
// deployment shape and environment variables (§6.6) layered on top for
// secrets and per-environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds listen addresses for the public HTTP/subscription
// surface and the §6.4 admin surface (§6.3, §6.6). They are bound as two
// separate listeners so the admin surface can be kept off any
// internet-facing load balancer.
type ServerConfig struct {
	ListenAddr  string   `yaml:"listen_addr"`
	AdminAddr   string   `yaml:"admin_addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// StoreConfig is the Postgres/Redis connection shape.
type StoreConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisAddr   string `yaml:"redis_addr"`
}

// TicketConfig configures the pluggable issue-poster collaborator.
type TicketConfig struct {
	ServiceURL   string        `yaml:"service_url"`
	ServiceToken string        `yaml:"service_token"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	SlackChannel string        `yaml:"slack_channel"`
}

// WorkerConfig names the detached child process WorkerLauncher spawns
// per phase (§4.6 step 4): Command is invoked with the phase_id appended
// as its final argument.
type WorkerConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// CoordinatorConfig is the admission-loop tunable set (§3.1, §6.6).
type CoordinatorConfig struct {
	MaxConcurrent        int           `yaml:"max_concurrent"`
	DedupWindowSeconds   int           `yaml:"dedup_window_seconds"`
	OrphanTimeoutSeconds int           `yaml:"orphan_timeout_seconds"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
}

// LoggingConfig controls the zap logger built in internal/logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the fully resolved, validated process configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Store       StoreConfig       `yaml:"store"`
	Ticket      TicketConfig      `yaml:"ticket"`
	Worker      WorkerConfig      `yaml:"worker"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Logging     LoggingConfig     `yaml:"logging"`
	WebhookSecret string          `yaml:"-"`
	AdminToken    string          `yaml:"-"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:  ":8080",
			AdminAddr:   ":8081",
			CORSOrigins: []string{"*"},
		},
		Coordinator: CoordinatorConfig{
			MaxConcurrent:        3,
			DedupWindowSeconds:   30,
			OrphanTimeoutSeconds: 3600,
			SweepInterval:        5 * time.Minute,
		},
		Ticket: TicketConfig{
			Timeout:    10 * time.Second,
			MaxRetries: 3,
		},
		Worker: WorkerConfig{
			Command: "/usr/local/bin/phase-worker",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML config file, applies environment overrides, and
// validates the result. Following the teacher's convention, read and
// parse failures are wrapped with a fixed, grep-able prefix.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromEnv layers §6.6's environment variables onto cfg. Unset
// variables never modify cfg.
func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("ADMIN_ADDR"); v != "" {
		cfg.Server.AdminAddr = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Store.PostgresDSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Store.RedisAddr = v
	}
	if v := os.Getenv("TICKET_SERVICE_URL"); v != "" {
		cfg.Ticket.ServiceURL = v
	}
	if v := os.Getenv("TICKET_SERVICE_TOKEN"); v != "" {
		cfg.Ticket.ServiceToken = v
	}
	if v := os.Getenv("WORKER_COMMAND"); v != "" {
		cfg.Worker.Command = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.WebhookSecret = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.AdminToken = v
	}
	if v := os.Getenv("MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_CONCURRENT: %w", err)
		}
		cfg.Coordinator.MaxConcurrent = n
	}
	if v := os.Getenv("DEDUP_WINDOW_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DEDUP_WINDOW_SECONDS: %w", err)
		}
		cfg.Coordinator.DedupWindowSeconds = n
	}
	if v := os.Getenv("ORPHAN_TIMEOUT_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ORPHAN_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Coordinator.OrphanTimeoutSeconds = n
	}
	return nil
}

// validate enforces the invariants a misconfigured process must not be
// allowed to start with.
func validate(cfg *Config) error {
	if cfg.Store.PostgresDSN == "" {
		return fmt.Errorf("store.postgres_dsn is required")
	}
	if cfg.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required")
	}
	if cfg.Coordinator.MaxConcurrent < 1 {
		return fmt.Errorf("coordinator.max_concurrent must be greater than 0")
	}
	if cfg.Coordinator.DedupWindowSeconds < 1 {
		return fmt.Errorf("coordinator.dedup_window_seconds must be greater than 0")
	}
	return nil
}
