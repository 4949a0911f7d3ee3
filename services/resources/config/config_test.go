// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "resgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// TestLoad_Defaults verifies an empty path yields the validated defaults.
func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Storage, cfg.Storage)
	assert.Equal(t, "memory", cfg.Recording.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
}

// TestLoad_File verifies file values override the defaults.
func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
storage:
  in_memory: true
  path: ""
  gc_interval: 30s
schema:
  path: ./types
  watch: true
recording:
  backend: influx
  influx_url: http://localhost:8086
  org: home
  bucket: resources
admin:
  listen: ":9000"
log:
  level: debug
  json: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, 30*time.Second, cfg.Storage.GCInterval)
	assert.True(t, cfg.Schema.Watch)
	assert.Equal(t, "influx", cfg.Recording.Backend)
	assert.Equal(t, "resgraph", cfg.Recording.Measurement)
	assert.Equal(t, ":9000", cfg.Admin.Listen)
	assert.True(t, cfg.Log.JSON)
}

// TestLoad_EnvOverrides verifies RESGRAPH_* variables win over the file.
func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "log:\n  level: warn\n")
	t.Setenv("RESGRAPH_LOG_LEVEL", "error")
	t.Setenv("RESGRAPH_STORAGE_IN_MEMORY", "true")
	t.Setenv("RESGRAPH_ADMIN_LISTEN", "0.0.0.0:7000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, "0.0.0.0:7000", cfg.Admin.Listen)

	t.Setenv("RESGRAPH_STORAGE_IN_MEMORY", "sometimes")
	_, err = Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// TestValidate_Rejects verifies the struct tag rules.
func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"missing storage path": func(c *Config) { c.Storage.Path = "" },
		"unknown recorder":     func(c *Config) { c.Recording.Backend = "csv" },
		"influx without url": func(c *Config) {
			c.Recording.Backend = "influx"
			c.Recording.Org = "o"
			c.Recording.Bucket = "b"
		},
		"bad listen address": func(c *Config) { c.Admin.Listen = "localhost" },
		"bad log level":      func(c *Config) { c.Log.Level = "loud" },
		"bad trace exporter": func(c *Config) { c.Telemetry.TraceExporter = "zipkin" },
		"negative gc":        func(c *Config) { c.Storage.GCInterval = -time.Second },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

// TestLoad_ParseError verifies malformed files are reported.
func TestLoad_ParseError(t *testing.T) {
	_, err := Load(writeConfig(t, "storage: [1, 2"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfig)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
