// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/iius-rcox/ai-assistant-sub001/editsqlite"
	"github.com/iius-rcox/ai-assistant-sub001/overedit"
	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration shared by all commands.
type Config struct {
	LogLevel  string                 `yaml:"log_level"`
	LogFormat string                 `yaml:"log_format"` // json | text
	Server    ServerSection          `yaml:"server"`
	Fields    []overedit.FieldDomain `yaml:"fields"`
	Client    ClientSection          `yaml:"client"`
}

// ServerSection configures the record server.
type ServerSection struct {
	Addr        string `yaml:"addr"`
	DatabaseURL string `yaml:"database_url"`
	JWTSecret   string `yaml:"jwt_secret"`
	Metrics     bool   `yaml:"metrics"`
	LogRequests bool   `yaml:"log_requests"`
}

// ClientSection configures the local draft and queue database.
type ClientSection struct {
	DBPath        string        `yaml:"db_path"`
	Namespace     string        `yaml:"namespace"`
	SchemaVersion int           `yaml:"schema_version"`
	BaseURL       string        `yaml:"base_url"`
	Token         string        `yaml:"token"`
	DraftTTL      time.Duration `yaml:"draft_ttl"`
	RetryBudget   int           `yaml:"retry_budget"`
	AutoMerge     *bool         `yaml:"auto_merge"`
}

func defaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Server: ServerSection{
			Addr:    ":8080",
			Metrics: true,
		},
		Client: ClientSection{
			DBPath:        "overedit.db",
			Namespace:     "triage",
			SchemaVersion: 1,
			BaseURL:       "http://localhost:8080",
			DraftTTL:      24 * time.Hour,
			RetryBudget:   5,
		},
	}
}

// loadConfig reads path (if set) over the defaults, then applies the
// DATABASE_URL, JWT_SECRET and OVEREDIT_TOKEN environment overrides.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Server.DatabaseURL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := os.Getenv("OVEREDIT_TOKEN"); v != "" {
		cfg.Client.Token = v
	}
	return cfg, nil
}

// FieldSchema builds the editable field schema, defaulting to the triage fields.
func (c *Config) FieldSchema() (*overedit.FieldSchema, error) {
	if len(c.Fields) == 0 {
		return overedit.TriageFieldSchema(), nil
	}
	return overedit.NewFieldSchema(c.Fields...)
}

// EditConfig converts the client section into an editsqlite configuration.
func (c *Config) EditConfig() (*editsqlite.Config, error) {
	fields, err := c.FieldSchema()
	if err != nil {
		return nil, err
	}
	ec := editsqlite.DefaultConfig(c.Client.Namespace, fields)
	if c.Client.SchemaVersion > 0 {
		ec.SchemaVersion = c.Client.SchemaVersion
	}
	if c.Client.DraftTTL > 0 {
		ec.DraftTTL = c.Client.DraftTTL
	}
	if c.Client.RetryBudget > 0 {
		ec.RetryBudget = c.Client.RetryBudget
	}
	if c.Client.AutoMerge != nil {
		ec.AutoMerge = *c.Client.AutoMerge
	}
	return ec, nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "", "info":
		lvl = slog.LevelInfo
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
