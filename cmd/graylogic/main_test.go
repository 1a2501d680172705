package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestRun_InvalidConfig verifies run fails when the config file cannot be
// read at all.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("NOLONGEREVIL_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func validTestConfig(dbPath string) string {
	return `
site:
  id: test-site

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
    client_id: "test-client"
  qos: 0
  reconnect:
    initial_delay: 1
    max_delay: 5

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stdout

api:
  host: "127.0.0.1"
  port: 18080
  timeouts:
    read: 30
    write: 60
    idle: 120

frontend:
  enabled: false

security:
  jwt:
    secret: "test-secret-at-least-32-characters-long"
  api_keys:
    enabled: true

watchdog:
  timeout_ms: 60000
  check_interval_ms: 5000

subscription:
  default_timeout_ms: 100

integrations:
  reconcile_interval_ms: 10000
  reconnect_delay_seconds: 5
`
}

// TestRun_MissingDatabasePath verifies run fails when database.path is
// empty, since Validate rejects that before anything is opened.
func TestRun_MissingDatabasePath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	if err := os.WriteFile(configPath, []byte(validTestConfig("")), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	t.Setenv("NOLONGEREVIL_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestGetConfigPath_Default verifies the default config path is used when
// no environment override is set.
func TestGetConfigPath_Default(t *testing.T) {
	os.Unsetenv("NOLONGEREVIL_CONFIG")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies NOLONGEREVIL_CONFIG overrides the
// default path.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("NOLONGEREVIL_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// TestRun_SuccessfulStartupAndShutdown exercises the full wiring path
// against a real on-disk SQLite database with the frontend listener
// disabled and no enabled integrations, so it needs neither a live MQTT
// broker nor a second open port. The context is cancelled shortly after
// startup to drive the shutdown path.
func TestRun_SuccessfulStartupAndShutdown(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")
	dbPath := filepath.Join(tmpDir, "test.db")

	if err := os.WriteFile(configPath, []byte(validTestConfig(dbPath)), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	t.Setenv("NOLONGEREVIL_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
}

// TestRun_ContextCancelledDuringStartup verifies run unwinds cleanly when
// the context is already cancelled before initialisation finishes.
func TestRun_ContextCancelledDuringStartup(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")
	dbPath := filepath.Join(tmpDir, "test.db")

	if err := os.WriteFile(configPath, []byte(validTestConfig(dbPath)), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	t.Setenv("NOLONGEREVIL_CONFIG", configPath)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v, want nil shutdown on pre-cancelled context", err)
	}
}
