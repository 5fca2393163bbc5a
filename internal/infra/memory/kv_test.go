package memory

import (
	"context"
	"errors"
	"testing"

	"cic-sync/internal/domain"
)

func TestKVLifecycle(t *testing.T) {
	ctx := context.Background()
	kv := NewKV()

	if err := kv.Set(ctx, "cic_global_theme", `"dark"`); err != nil {
		t.Fatalf("set: %v", err)
	}
	_ = kv.Set(ctx, "cic_user_a_lessons", `[]`)

	v, ok, _ := kv.Get(ctx, "cic_global_theme")
	if !ok || v != `"dark"` {
		t.Fatalf("expected stored value, got %q ok=%v", v, ok)
	}

	keys, _ := kv.Keys(ctx, "cic_user_")
	if len(keys) != 1 || keys[0] != "cic_user_a_lessons" {
		t.Fatalf("unexpected keys %v", keys)
	}

	_ = kv.Remove(ctx, "cic_user_a_lessons")
	_ = kv.Remove(ctx, "missing")
	if kv.Len() != 1 {
		t.Fatalf("expected 1 key left, got %d", kv.Len())
	}
}

func TestKVQuota(t *testing.T) {
	ctx := context.Background()
	kv := NewKVWithQuota(10)

	if err := kv.Set(ctx, "k", "12345"); err != nil {
		t.Fatalf("set within quota: %v", err)
	}
	if err := kv.Set(ctx, "k2", "1234567890"); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	// Overwriting the same key only counts the new size.
	if err := kv.Set(ctx, "k", "123456789"); err != nil {
		t.Fatalf("overwrite within quota: %v", err)
	}
}
