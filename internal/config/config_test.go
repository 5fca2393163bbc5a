package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  port: "9090"
local:
  driver: sqlite
  sqlitePath: /tmp/cic.db
remote:
  driver: postgres
  folderId: lessons
  progressFiles: true
  debounce: 3s
crypto:
  iterations: 200000
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Local.Driver != "sqlite" || cfg.Remote.FolderID != "lessons" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if !cfg.Remote.ProgressFiles || cfg.Crypto.Iterations != 200000 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if d := Duration(cfg.Remote.Debounce, time.Second); d != 3*time.Second {
		t.Fatalf("unexpected debounce %s", d)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if cfg.Local.Driver != "" {
		t.Fatalf("expected zero config")
	}
}

func TestDurationFallback(t *testing.T) {
	if d := Duration("", 5*time.Second); d != 5*time.Second {
		t.Fatalf("empty should fall back, got %s", d)
	}
	if d := Duration("soon", 5*time.Second); d != 5*time.Second {
		t.Fatalf("invalid should fall back, got %s", d)
	}
}
