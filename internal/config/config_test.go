package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeConfig(t *testing.T, body string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", "test")
}

func TestLoadDefaultsAndFile(t *testing.T) {
	writeConfig(t, `
mode: test
secret: "0123456789abcdef0123"
baas:
  url: "http://localhost:54321"
  anon_key: "anon"
realtime:
  events_per_second: 5
`)
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Realtime.EventsPerSecond != 5 {
		t.Fatalf("file value not applied: %d", cfg.Realtime.EventsPerSecond)
	}
	if cfg.Upload.MaxBytes != 50*1024*1024 || cfg.Upload.ChunkSize != 6*1024*1024 {
		t.Fatalf("upload defaults: %+v", cfg.Upload)
	}
	if cfg.Host != "127.0.0.1" || len(cfg.Device.Permissions) != 3 {
		t.Fatalf("host/device defaults: %q %v", cfg.Host, cfg.Device.Permissions)
	}
	want := []time.Duration{0, 3 * time.Second, 5 * time.Second, 10 * time.Second, 20 * time.Second}
	if len(cfg.Upload.RetryDelays) != len(want) {
		t.Fatalf("retry delays: %v", cfg.Upload.RetryDelays)
	}
	for i := range want {
		if cfg.Upload.RetryDelays[i] != want[i] {
			t.Fatalf("retry delay %d: got %v want %v", i, cfg.Upload.RetryDelays[i], want[i])
		}
	}
}

func TestLoadEnvOverride(t *testing.T) {
	writeConfig(t, `
mode: test
secret: "0123456789abcdef0123"
baas:
  url: "http://localhost:54321"
  anon_key: "anon"
`)
	t.Setenv("BEACON_PORT", "9191")
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9191 {
		t.Fatalf("env override ignored: %d", cfg.Port)
	}
}

func TestLoadRejectsMissingBaaS(t *testing.T) {
	writeConfig(t, `
mode: test
secret: "0123456789abcdef0123"
`)
	if _, _, err := Load(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestApplyLogLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	ApplyLogLevel("debug")
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("level not applied")
	}
	ApplyLogLevel("nonsense")
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Fatalf("bad level must fall back to info")
	}
}
