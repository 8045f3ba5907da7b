package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "governor.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "0.0.0.0:9090"
  read_timeout: "10s"

storage:
  backend: sqlite
  sqlite:
    path: ":memory:"
    driver: sqlite3

rollout:
  soak_time: 2h
  gates:
    min_sample_size: 50
  triggers:
    error_rate: 0.2

signing:
  key_id: staging
  seed_path: /etc/governor/seed.hex
  trusted_keys:
    prod: "00ff"

telemetry:
  logging:
    level: debug
    format: text
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:9090" {
		t.Errorf("listen address = %q", cfg.Server.ListenAddress)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("read timeout = %s", cfg.Server.ReadTimeout)
	}
	if cfg.Storage.SQLite.Driver != "sqlite3" {
		t.Errorf("driver = %q", cfg.Storage.SQLite.Driver)
	}
	if cfg.Rollout.SoakTime != 2*time.Hour || cfg.Rollout.Gates.MinSampleSize != 50 {
		t.Errorf("rollout = %+v", cfg.Rollout)
	}
	if cfg.Rollout.Triggers.ErrorRate != 0.2 || cfg.Rollout.Triggers.DenyRate != DefaultTriggerDenyRate {
		t.Errorf("triggers = %+v", cfg.Rollout.Triggers)
	}
	if cfg.Signing.TrustedKeys["prod"] != "00ff" {
		t.Errorf("trusted keys = %v", cfg.Signing.TrustedKeys)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Telemetry.Logging.Level)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	if _, err := LoadConfig(writeConfig(t, "server: [")); err == nil {
		t.Error("expected error for invalid YAML")
	}

	_, err := LoadConfig(writeConfig(t, "storage:\n  backend: postgres\n"))
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Errors[0].Field != "storage.backend" {
		t.Errorf("field = %q", verr.Errors[0].Field)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  listen_address: \"127.0.0.1:8080\"\n")

	t.Setenv("GOVERNOR_SERVER_LISTEN_ADDRESS", "0.0.0.0:7000")
	t.Setenv("GOVERNOR_ROLLOUT_SOAK_TIME", "30m")
	t.Setenv("GOVERNOR_ROLLOUT_MONITOR_ENABLED", "false")
	t.Setenv("GOVERNOR_ROLLOUT_TRIGGERS_ERROR_RATE", "0.25")
	t.Setenv("GOVERNOR_EVIDENCE_AGE_RECIPIENTS", "age1abc, age1def")
	t.Setenv("GOVERNOR_TELEMETRY_METRICS_ENABLED", "not-a-bool")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides() failed: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:7000" {
		t.Errorf("listen address = %q", cfg.Server.ListenAddress)
	}
	if cfg.Rollout.SoakTime != 30*time.Minute {
		t.Errorf("soak time = %s", cfg.Rollout.SoakTime)
	}
	if BoolValue(cfg.Rollout.MonitorEnabled, true) {
		t.Error("monitor should be disabled by env")
	}
	if cfg.Rollout.Triggers.ErrorRate != 0.25 {
		t.Errorf("error rate = %v", cfg.Rollout.Triggers.ErrorRate)
	}
	if len(cfg.Evidence.AgeRecipients) != 2 || cfg.Evidence.AgeRecipients[1] != "age1def" {
		t.Errorf("age recipients = %v", cfg.Evidence.AgeRecipients)
	}
	if !cfg.Telemetry.Metrics.IsEnabled() {
		t.Error("invalid bool override should be ignored")
	}
}

func TestLoadConfigWithEnvOverrides_NoFile(t *testing.T) {
	t.Setenv("GOVERNOR_STORAGE_BACKEND", "memory")

	cfg, err := LoadConfigWithEnvOverrides("")
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides() failed: %v", err)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("backend = %q", cfg.Storage.Backend)
	}
}
