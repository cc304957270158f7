package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MIRADOR_SENTINEL_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Driver != "duckdb" {
		t.Fatalf("expected duckdb default driver, got %s", cfg.Store.Driver)
	}
	if cfg.Scheduler.MaxSleep != time.Minute || cfg.Scheduler.PatternWindow != 20 {
		t.Fatalf("unexpected scheduler defaults: %+v", cfg.Scheduler)
	}
}

func TestLoadSourcesFromYAML(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: memory
scheduler:
  maxConcurrency: 4
  probeTimeout: 20s
sources:
  - id: status-page
    type: http
    name: Status page
    frequency: HIGH
    enabled: true
    freshness_weight: 1.2
    query_parameters:
      url: https://status.example.com
    alert_thresholds:
      changes_detected: 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Scheduler.MaxConcurrency != 4 || cfg.Scheduler.ProbeTimeout != 20*time.Second {
		t.Fatalf("unexpected scheduler config: %+v", cfg.Scheduler)
	}
	if len(cfg.Sources) != 1 {
		t.Fatalf("expected one source, got %d", len(cfg.Sources))
	}
	src := cfg.Sources[0]
	if src.Type != models.SourceTypeHTTP || src.Frequency != models.FrequencyHigh || !src.Enabled {
		t.Fatalf("unexpected source: %+v", src)
	}
	if src.DataFreshnessWeight != 1.2 {
		t.Fatalf("expected freshness weight 1.2, got %v", src.DataFreshnessWeight)
	}
	if src.StringParam("url", "") != "https://status.example.com" {
		t.Fatalf("expected url parameter, got %v", src.QueryParameters)
	}
}

func TestLoadRejectsUnknownSourceType(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: memory
sources:
  - id: inbox
    type: imap
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown source type")
	}
}

func TestLoadRejectsDuplicateSources(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: memory
sources:
  - id: a
    type: http
  - id: a
    type: sql
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for duplicate ids")
	}
}

func TestLoadPostgresRequiresDSN(t *testing.T) {
	path := writeConfig(t, "store:\n  driver: postgres\n")
	t.Setenv("MIRADOR_SENTINEL_STORE_DSN", "")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error when dsn missing")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MIRADOR_SENTINEL_STORE_DRIVER", "memory")
	t.Setenv("MIRADOR_SENTINEL_MAX_CONCURRENCY", "8")
	t.Setenv("MIRADOR_SENTINEL_PROBE_TIMEOUT", "15s")
	t.Setenv("MIRADOR_SENTINEL_LOG_FORMAT", "json")
	t.Setenv("MIRADOR_SENTINEL_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load(writeConfig(t, "logging:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Driver != "memory" || cfg.Scheduler.MaxConcurrency != 8 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.Scheduler.ProbeTimeout != 15*time.Second || !cfg.Logging.JSON || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging/scheduler: %+v %+v", cfg.Logging, cfg.Scheduler)
	}
	if len(cfg.Server.AllowedOrigins) != 2 {
		t.Fatalf("expected two origins, got %v", cfg.Server.AllowedOrigins)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
