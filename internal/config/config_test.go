package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modelwatch.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MODELWATCH_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":50051" || cfg.Server.HTTPAddress != ":8080" {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Storage.Backend != "memory" {
		t.Fatalf("expected memory storage, got %s", cfg.Storage.Backend)
	}
	if cfg.Cache.OverviewTTL != 15*time.Second {
		t.Fatalf("expected 15s overview ttl, got %v", cfg.Cache.OverviewTTL)
	}
	if cfg.API.DefaultPageSize != 20 || cfg.API.AuditPageSize != 25 || cfg.API.MaxPageSize != 50 {
		t.Fatalf("unexpected page sizes: %+v", cfg.API)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":6000"
storage:
  backend: mongo
  uri: mongodb://localhost:27017
events:
  backend: nats
  url: nats://localhost:4222
models:
  - id: fraud
    name: Fraud
    type: ml
    environment: production
    status: active
`)
	t.Setenv("MODELWATCH_LOG_LEVEL", "debug")
	t.Setenv("MODELWATCH_CACHE_OVERVIEW_TTL", "30s")
	t.Setenv("MODELWATCH_SIMULATION_ENABLED", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":6000" {
		t.Fatalf("file value not applied: %s", cfg.Server.Address)
	}
	if cfg.Storage.Database != "modelwatch" {
		t.Fatalf("default database lost: %s", cfg.Storage.Database)
	}
	if cfg.Logging.Level != "debug" || cfg.Cache.OverviewTTL != 30*time.Second || !cfg.Simulation.Enabled {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if len(cfg.Models) != 1 || cfg.Models[0].ID != "fraud" {
		t.Fatalf("models not parsed: %+v", cfg.Models)
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]string{
		"mongo without uri": "storage:\n  backend: mongo\n",
		"unknown storage":   "storage:\n  backend: postgres\n",
		"nats without url":  "events:\n  backend: nats\n",
		"bad model type":    "models:\n  - id: x\n    type: rules\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
