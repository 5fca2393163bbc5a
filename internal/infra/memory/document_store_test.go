package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cic-sync/internal/domain"
)

func TestDocumentStoreSaveFindDelete(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := NewDocumentStoreWithClock(func() time.Time { return now })

	handle, err := store.Save(ctx, "tok-a", domain.Document{
		Name:     "lesson_L1.json",
		Metadata: domain.Descriptor{ID: "L1", Title: "Bio"},
		Body:     json.RawMessage(`{"id":"L1"}`),
	}, "", "folder")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !handle.ModifiedTime.Equal(now) {
		t.Fatalf("expected modified time from clock, got %v", handle.ModifiedTime)
	}

	again, err := store.Save(ctx, "tok-a", domain.Document{Name: "lesson_L1.json", Metadata: domain.Descriptor{ID: "L1"}}, handle.ID, "folder")
	if err != nil || again.ID != handle.ID {
		t.Fatalf("expected in-place update, got %+v err=%v", again, err)
	}

	found, err := store.FindFileByName(ctx, "tok-a", "lesson_L1.json", "folder")
	if err != nil || found == nil || found.ID != handle.ID {
		t.Fatalf("find: %+v err=%v", found, err)
	}
	if other, _ := store.FindFileByName(ctx, "tok-b", "lesson_L1.json", "folder"); other != nil {
		t.Fatalf("expected owner isolation, got %+v", other)
	}

	list, _ := store.ListMetadata(ctx, "tok-a")
	if len(list) != 1 || list[0].DriveFileID != handle.ID || list[0].ModifiedTime == nil {
		t.Fatalf("unexpected listing %+v", list)
	}

	if err := store.Delete(ctx, "tok-a", handle.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "tok-a", handle.ID); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestDocumentStoreRequiresToken(t *testing.T) {
	store := NewDocumentStore()
	if _, err := store.ListMetadata(context.Background(), ""); !errors.Is(err, domain.ErrReauthNeeded) {
		t.Fatalf("expected reauth error, got %v", err)
	}
	store.FailWith(errors.New("boom"))
	if _, err := store.ListMetadata(context.Background(), "tok"); err == nil {
		t.Fatalf("expected injected failure")
	}
	if store.Calls("list") != 2 {
		t.Fatalf("expected 2 list calls, got %d", store.Calls("list"))
	}
}
