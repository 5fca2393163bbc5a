package session

import (
	"context"
	"errors"
	"testing"

	"cic-sync/internal/domain"
	"cic-sync/internal/infra/memory"
	"cic-sync/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func seed(t *testing.T, kv *memory.KV, keys ...string) {
	t.Helper()
	for _, k := range keys {
		if err := kv.Set(context.Background(), k, `"v"`); err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
	}
}

func TestStartSessionPurgesOtherUsers(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewKV()
	seed(t, kv,
		"cic_user_A_content_A_L1",
		"cic_user_A_lessons",
		"cic_user_A_pending_sync",
		"cic_user_A_B_content_A_B_L1",
		"cic_user_A_B_lessons",
		"cic_user_B_content_B_L1",
		"cic_user_B_progress_B_L1",
		"cic_global_theme",
		"cic_lesson_old",
		"cic_v1_lessons",
		"unrelated_key",
	)

	collectors := metrics.New()
	m := NewManager(kv, nil).WithMetrics(collectors)
	if err := m.StartSession(ctx, "A"); err != nil {
		t.Fatalf("start: %v", err)
	}

	// User "A_B" shares the "cic_user_A_" prefix with user "A".
	for _, k := range []string{"cic_user_A_B_content_A_B_L1", "cic_user_A_B_lessons", "cic_user_B_content_B_L1", "cic_user_B_progress_B_L1", "cic_lesson_old", "cic_v1_lessons"} {
		if _, ok, _ := kv.Get(ctx, k); ok {
			t.Fatalf("expected %s to be purged", k)
		}
	}
	for _, k := range []string{"cic_user_A_content_A_L1", "cic_user_A_lessons", "cic_user_A_pending_sync", "cic_global_theme", "unrelated_key"} {
		if _, ok, _ := kv.Get(ctx, k); !ok {
			t.Fatalf("expected %s to survive", k)
		}
	}
	if got := testutil.ToFloat64(collectors.PurgedKeys); got != 6 {
		t.Fatalf("expected 6 purged keys counted, got %v", got)
	}
}

func TestStartSessionKeepsOwnKeysWhenUserIDsNest(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewKV()
	seed(t, kv,
		"cic_user_a_content_a_L1",
		"cic_user_a_b_content_a_b_L1",
		"cic_user_a_b_progress_a_b_L1",
	)

	m := NewManager(kv, nil)
	if err := m.StartSession(ctx, "a_b"); err != nil {
		t.Fatalf("start a_b: %v", err)
	}
	if _, ok, _ := kv.Get(ctx, "cic_user_a_content_a_L1"); ok {
		t.Fatalf("user a's data survived a session for a_b")
	}
	if _, ok, _ := kv.Get(ctx, "cic_user_a_b_progress_a_b_L1"); !ok {
		t.Fatalf("a_b lost its own progress")
	}

	seed(t, kv, "cic_user_a_content_a_L1")
	if err := m.StartSession(ctx, "a"); err != nil {
		t.Fatalf("start a: %v", err)
	}
	if _, ok, _ := kv.Get(ctx, "cic_user_a_b_content_a_b_L1"); ok {
		t.Fatalf("a_b's data survived a session for a")
	}
	if _, ok, _ := kv.Get(ctx, "cic_user_a_content_a_L1"); !ok {
		t.Fatalf("a lost its own content")
	}
}

func TestUserStoreRequiresSession(t *testing.T) {
	m := NewManager(memory.NewKV(), nil)

	if _, err := m.UserStore(); !errors.Is(err, domain.ErrSecurityViolation) {
		t.Fatalf("expected security violation, got %v", err)
	}
	if m.GlobalStore() == nil {
		t.Fatalf("global store must always be available")
	}
	if err := m.StartSession(context.Background(), "  "); !errors.Is(err, domain.ErrSecurityViolation) {
		t.Fatalf("expected blank uid to be rejected, got %v", err)
	}

	_ = m.StartSession(context.Background(), "A")
	store, err := m.UserStore()
	if err != nil || store.Prefix() != "cic_user_A_" {
		t.Fatalf("unexpected store %v err=%v", store, err)
	}

	m.EndSession()
	if _, err := m.UserStore(); !errors.Is(err, domain.ErrSecurityViolation) {
		t.Fatalf("expected security violation after end, got %v", err)
	}
	if _, err := m.UserID(); !errors.Is(err, domain.ErrSecurityViolation) {
		t.Fatalf("expected no user id after end, got %v", err)
	}
}

func TestEndSessionKeepsDataForRehydration(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewKV()
	m := NewManager(kv, nil)

	_ = m.StartSession(ctx, "A")
	store, _ := m.UserStore()
	store.Set(ctx, "lessons", []string{"L1"})
	m.EndSession()

	if _, ok, _ := kv.Get(ctx, "cic_user_A_lessons"); !ok {
		t.Fatalf("end session must not purge")
	}

	_ = m.StartSession(ctx, "A")
	store, _ = m.UserStore()
	var lessons []string
	if !store.Get(ctx, "lessons", &lessons) || len(lessons) != 1 {
		t.Fatalf("expected same-user data after restart, got %v", lessons)
	}

	_ = m.StartSession(ctx, "B")
	if _, ok, _ := kv.Get(ctx, "cic_user_A_lessons"); ok {
		t.Fatalf("switching user must purge the previous user's data")
	}
}

func TestPurgeAllUserSessions(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewKV()
	seed(t, kv, "cic_user_A_lessons", "cic_user_B_lessons", "cic_lesson_x", "cic_global_sound")

	removed, err := PurgeAllUserSessions(ctx, kv)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 keys removed, got %d", removed)
	}
	if _, ok, _ := kv.Get(ctx, "cic_global_sound"); !ok {
		t.Fatalf("global prefs must survive a full purge")
	}
}
