package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestKV(t *testing.T) (*KV, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "local.db")
	kv, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return kv, path
}

func TestKVRoundTripAndPrefix(t *testing.T) {
	ctx := context.Background()
	kv, _ := newTestKV(t)

	for k, v := range map[string]string{
		"cic_user_a_lessons":      `[]`,
		"cic_user_a_content_a_L1": `{"id":"L1"}`,
		"cic_userXb_lessons":      `[]`,
		"cic_global_theme":        `"dark"`,
	} {
		if err := kv.Set(ctx, k, v); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	if err := kv.Set(ctx, "cic_global_theme", `"light"`); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	v, ok, err := kv.Get(ctx, "cic_global_theme")
	if err != nil || !ok || v != `"light"` {
		t.Fatalf("unexpected get %q ok=%v err=%v", v, ok, err)
	}
	if _, ok, _ := kv.Get(ctx, "missing"); ok {
		t.Fatalf("missing key reported present")
	}

	keys, err := kv.Keys(ctx, "cic_user_")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("underscore in prefix must match literally, got %v", keys)
	}

	if err := kv.Remove(ctx, "cic_user_a_lessons"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := kv.Remove(ctx, "cic_user_a_lessons"); err != nil {
		t.Fatalf("remove missing: %v", err)
	}
	all, _ := kv.Keys(ctx, "")
	if len(all) != 3 {
		t.Fatalf("expected 3 keys, got %v", all)
	}
}

func TestKVSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	kv, path := newTestKV(t)
	if err := kv.Set(ctx, "cic_user_a_lessons", `[{"id":"L1"}]`); err != nil {
		t.Fatalf("set: %v", err)
	}
	_ = kv.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	v, ok, _ := reopened.Get(ctx, "cic_user_a_lessons")
	if !ok || v != `[{"id":"L1"}]` {
		t.Fatalf("value lost across reopen: %q", v)
	}
}
