// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads service configuration.
//
// Values come from built-in defaults, then an optional YAML file, then
// environment variables. Command-line flags are applied by the caller on
// top. The result is checked with go-playground/validator tags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	LLM       LLMConfig       `yaml:"llm"`
	Seed      SeedConfig      `yaml:"seed"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig covers the HTTP surface.
type ServerConfig struct {
	Port          int           `yaml:"port" validate:"min=1,max=65535"`
	StreamTimeout time.Duration `yaml:"stream_timeout" validate:"gt=0"`
	Heartbeat     time.Duration `yaml:"heartbeat" validate:"gt=0"`
	// RateLimit is narration requests per second; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	Burst     int     `yaml:"burst" validate:"gte=0"`
	// MaxPaths caps enumerated chains per request; 0 is unlimited.
	MaxPaths int `yaml:"max_paths" validate:"gte=0"`
}

// StorageConfig covers the badger backing store.
type StorageConfig struct {
	Path       string        `yaml:"path" validate:"required_unless=InMemory true"`
	InMemory   bool          `yaml:"in_memory"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

// LLMConfig selects the generation backend.
type LLMConfig struct {
	Backend     string        `yaml:"backend" validate:"oneof=ollama openai langchain"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url" validate:"omitempty,url"`
	Temperature float32       `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int           `yaml:"max_tokens" validate:"gte=0"`
	APIKeyFile  string        `yaml:"api_key_file"`
	Timeout     time.Duration `yaml:"timeout" validate:"gte=0"`
}

// SeedConfig points at the initial graph data.
type SeedConfig struct {
	// Source is a local path or a gs://bucket/object URL. Empty disables
	// seeding.
	Source          string `yaml:"source"`
	Watch           bool   `yaml:"watch"`
	ClearFirst      bool   `yaml:"clear_first"`
	CredentialsFile string `yaml:"credentials_file"`
}

// TelemetryConfig selects OpenTelemetry exporters.
type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=none otlp stdout"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=none prometheus stdout"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:          8080,
			StreamTimeout: 120 * time.Second,
			Heartbeat:     15 * time.Second,
			RateLimit:     2,
			Burst:         5,
		},
		Storage: StorageConfig{
			Path:       "./data/graph",
			SyncWrites: true,
			GCInterval: 5 * time.Minute,
		},
		LLM: LLMConfig{
			Backend:     "ollama",
			Model:       "qwen2.5:7b",
			BaseURL:     "http://localhost:11434",
			Temperature: 0.2,
			Timeout:     5 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load returns defaults overlaid with the YAML file at path (if non-empty)
// and the process environment, validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode unmarshals YAML strictly: unknown keys are errors.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment variables onto cfg.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	integer("QC_PORT", &cfg.Server.Port)
	duration("QC_STREAM_TIMEOUT", &cfg.Server.StreamTimeout)
	str("QC_STORAGE_PATH", &cfg.Storage.Path)
	boolean("QC_STORAGE_IN_MEMORY", &cfg.Storage.InMemory)
	str("QC_LLM_BACKEND", &cfg.LLM.Backend)
	str("QC_LLM_MODEL", &cfg.LLM.Model)
	str("QC_SEED_SOURCE", &cfg.Seed.Source)
	boolean("QC_SEED_WATCH", &cfg.Seed.Watch)
	str("QC_LOG_LEVEL", &cfg.Log.Level)
	boolean("QC_LOG_JSON", &cfg.Log.JSON)
	str("QC_TRACE_EXPORTER", &cfg.Telemetry.TraceExporter)

	str("OLLAMA_BASE_URL", &cfg.LLM.BaseURL)
	str("OLLAMA_MODEL", &cfg.LLM.Model)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	str("GOOGLE_APPLICATION_CREDENTIALS", &cfg.Seed.CredentialsFile)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %w", errors.Join(errs...))
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks cfg against its struct tags.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]error, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Errorf("%s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %w", errors.Join(msgs...))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// YAML renders cfg as a config file.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
