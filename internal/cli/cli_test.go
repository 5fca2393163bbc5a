package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cic-sync/internal/config"
	"cic-sync/internal/infra/retry"
	"go.uber.org/zap"
)

func TestOpenBackendDrivers(t *testing.T) {
	log := zap.NewNop()
	ctx := context.Background()

	var cfg config.Config
	kv, closeFn, err := openBackend(cfg, log)
	if err != nil {
		t.Fatalf("memory backend: %v", err)
	}
	_ = kv.Set(ctx, "cic_global_theme", `"dark"`)
	_ = closeFn()

	cfg.Local.Driver = "sqlite"
	cfg.Local.SQLitePath = filepath.Join(t.TempDir(), "local.db")
	kv, closeFn, err = openBackend(cfg, log)
	if err != nil {
		t.Fatalf("sqlite backend: %v", err)
	}
	if err := kv.Set(ctx, "cic_global_theme", `"dark"`); err != nil {
		t.Fatalf("sqlite set: %v", err)
	}
	if err := closeFn(); err != nil {
		t.Fatalf("sqlite close: %v", err)
	}

	cfg.Local.Driver = "redis"
	if _, _, err := openBackend(cfg, log); err == nil {
		t.Fatalf("redis without addr should fail")
	}
	cfg.Local.Driver = "floppy"
	if _, _, err := openBackend(cfg, log); err == nil {
		t.Fatalf("unknown driver should fail")
	}
}

func TestOpenRemoteDrivers(t *testing.T) {
	ctx := context.Background()
	var cfg config.Config
	tokens := tokenIssuer(cfg)

	store, done, err := openRemote(ctx, cfg, tokens, zap.NewNop())
	if err != nil || store != nil {
		t.Fatalf("expected no remote store, got %v %v", store, err)
	}
	done()

	cfg.Remote.Driver = "memory"
	store, done, err = openRemote(ctx, cfg, tokens, zap.NewNop())
	if err != nil {
		t.Fatalf("memory remote: %v", err)
	}
	defer done()
	if _, ok := store.(*retry.Store); !ok {
		t.Fatalf("expected retrying store, got %T", store)
	}

	cfg.Remote.Driver = "postgres"
	if _, _, err := openRemote(ctx, cfg, tokens, zap.NewNop()); err == nil {
		t.Fatalf("postgres without url should fail")
	}
}

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("auth:\n  secret: s3cret\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cmd := NewTokenCmd(&path)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"user-a"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("token: %v", err)
	}

	cfg, _ := config.Load(path)
	sub, err := tokenIssuer(cfg).Subject(strings.TrimSpace(out.String()))
	if err != nil || sub != "user-a" {
		t.Fatalf("expected subject user-a, got %q err=%v", sub, err)
	}
}

func TestPurgeCommandClearsUserKeys(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "local.db")
	path := filepath.Join(dir, "config.yaml")
	cfgYAML := "local:\n  driver: sqlite\n  sqlitePath: " + dbPath + "\n"
	if err := os.WriteFile(path, []byte(cfgYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _ := config.Load(path)
	kv, closeFn, err := openBackend(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	_ = kv.Set(ctx, "cic_user_a_lessons", "[]")
	_ = kv.Set(ctx, "cic_global_theme", `"dark"`)
	_ = closeFn()

	cmd := NewPurgeCmd(&path)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if !strings.Contains(out.String(), "removed 1 keys") {
		t.Fatalf("unexpected output %q", out.String())
	}
}
