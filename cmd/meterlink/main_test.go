package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/meterlink/meterlink-core/internal/api"
	"github.com/meterlink/meterlink-core/internal/infrastructure/config"
	"github.com/meterlink/meterlink-core/internal/infrastructure/mqtt"
	"github.com/meterlink/meterlink-core/internal/meter/metertest"
)

const validSecret = "test-secret-for-development-only-0123456789"

func writeConfig(t *testing.T, dbPath, secret string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "test-config.yaml")

	configContent := `
site:
  id: test-site
  display_utc_offset: "+07:00"

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  broker:
    host: "127.0.0.1"
    port: 19999
    client_id: "test-client"
  qos: 1
  namespace: meter
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
  port: 8080

security:
  jwt:
    secret: "` + secret + `"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("METERLINK_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want loading config error", err)
	}
}

// TestRun_WeakJWTSecret verifies configuration validation runs before any I/O.
func TestRun_WeakJWTSecret(t *testing.T) {
	t.Setenv("METERLINK_JWT_SECRET", "")
	t.Setenv("METERLINK_CONFIG", writeConfig(t, filepath.Join(t.TempDir(), "test.db"), "short"))

	err := run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "jwt.secret") {
		t.Fatalf("run() error = %v, want jwt secret validation error", err)
	}
}

// TestRun_UnopenableDatabase verifies run fails before connecting to the broker.
func TestRun_UnopenableDatabase(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	t.Setenv("METERLINK_JWT_SECRET", "")
	t.Setenv("METERLINK_CONFIG", writeConfig(t, filepath.Join(blocker, "test.db"), validSecret))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail when the database cannot be opened")
	}
	if strings.Contains(err.Error(), "MQTT") {
		t.Errorf("run() error = %v, want a database error", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("METERLINK_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("METERLINK_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// TestNewIngestAdapter_WithoutInflux verifies the adapter handles messages
// when the mirror is disabled.
func TestNewIngestAdapter_WithoutInflux(t *testing.T) {
	store := metertest.NewStore(t)
	cfg := &config.Config{Ingest: config.IngestConfig{StoreTimeout: 2}}

	hub := api.NewHub(config.WebSocketConfig{}, nil)
	adapter := newIngestAdapter(cfg, store, hub, nil, mqtt.Topics{Namespace: "meter"})
	payload := []byte(`{"serial_number":"SN1","voltage":230,"current":1,"power":230,"energy":5}`)
	if err := adapter.HandleMessage(context.Background(), "meter/7/data", payload); err != nil {
		t.Fatalf("HandleMessage() error: %v", err)
	}

	if st := adapter.Stats(); st.Stored != 1 || st.Broadcasts != 1 {
		t.Errorf("Stats() = %+v, want one stored and broadcast reading", st)
	}
}
