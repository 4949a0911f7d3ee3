// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the resgraph process configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/resgraph/services/resources/telemetry"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full process configuration.
type Config struct {
	Storage     StorageConfig     `yaml:"storage"`
	Schema      SchemaConfig      `yaml:"schema"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Recording   RecordingConfig   `yaml:"recording"`
	Telemetry   telemetry.Config  `yaml:"telemetry"`
	Admin       AdminConfig       `yaml:"admin"`
	Log         LogConfig         `yaml:"log"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// InMemory keeps the badger store in memory. Nothing survives a
	// restart.
	InMemory bool `yaml:"in_memory"`

	// Path is the badger directory. Required unless InMemory is set.
	Path string `yaml:"path" validate:"required_unless=InMemory true"`

	SyncWrites bool `yaml:"sync_writes"`

	// GCInterval between value-log GC passes. Zero disables GC.
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

// SchemaConfig points at additional type files.
type SchemaConfig struct {
	// Path is a YAML type file. Empty uses the built-in types only.
	Path string `yaml:"path"`

	// Watch reloads Path when it changes.
	Watch bool `yaml:"watch"`
}

// PermissionsConfig points at the access policy.
type PermissionsConfig struct {
	// PolicyPath is a YAML policy file. Empty allows everything.
	PolicyPath string `yaml:"policy_path"`
}

// RecordingConfig selects where recorded values go.
type RecordingConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=memory influx none"`
	InfluxURL   string `yaml:"influx_url" validate:"required_if=Backend influx"`
	InfluxToken string `yaml:"influx_token"`
	Org         string `yaml:"org" validate:"required_if=Backend influx"`
	Bucket      string `yaml:"bucket" validate:"required_if=Backend influx"`
	Measurement string `yaml:"measurement"`
}

// AdminConfig configures the HTTP admin server.
type AdminConfig struct {
	// Listen is host:port. Empty disables the server.
	Listen string `yaml:"listen" validate:"omitempty,listenaddr"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Storage: StorageConfig{
			Path:       "./data/resgraph",
			GCInterval: 10 * time.Minute,
		},
		Recording: RecordingConfig{
			Backend:     "memory",
			Measurement: "resgraph",
		},
		Telemetry: telemetry.DefaultConfig(),
		Admin:     AdminConfig{Listen: "127.0.0.1:8089"},
		Log:       LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults, applies RESGRAPH_* overrides and
// validates the result. An empty path skips the file.
//
// Outputs:
//
//	Config - The effective configuration.
//	error - A read or parse error, or ErrInvalidConfig.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides fields from the environment.
func applyEnv(cfg *Config) error {
	cfg.Storage.Path = getEnvOr("RESGRAPH_STORAGE_PATH", cfg.Storage.Path)
	if v := os.Getenv("RESGRAPH_STORAGE_IN_MEMORY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: RESGRAPH_STORAGE_IN_MEMORY: %w", ErrInvalidConfig, err)
		}
		cfg.Storage.InMemory = b
	}
	cfg.Schema.Path = getEnvOr("RESGRAPH_SCHEMA_PATH", cfg.Schema.Path)
	cfg.Permissions.PolicyPath = getEnvOr("RESGRAPH_POLICY_PATH", cfg.Permissions.PolicyPath)
	cfg.Recording.Backend = getEnvOr("RESGRAPH_RECORDING_BACKEND", cfg.Recording.Backend)
	cfg.Recording.InfluxURL = getEnvOr("RESGRAPH_INFLUX_URL", cfg.Recording.InfluxURL)
	cfg.Recording.InfluxToken = getEnvOr("RESGRAPH_INFLUX_TOKEN", cfg.Recording.InfluxToken)
	cfg.Admin.Listen = getEnvOr("RESGRAPH_ADMIN_LISTEN", cfg.Admin.Listen)
	cfg.Log.Level = getEnvOr("RESGRAPH_LOG_LEVEL", cfg.Log.Level)
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("listenaddr", validateListenAddr)
	return v
}

// validateListenAddr accepts host:port with a numeric port. The host may
// be empty.
func validateListenAddr(fl validator.FieldLevel) bool {
	_, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 0 && n <= 65535
}

// Validate checks the struct tags of every section.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", ErrInvalidConfig, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
