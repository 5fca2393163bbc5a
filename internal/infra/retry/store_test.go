package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"cic-sync/internal/domain"
	"cic-sync/internal/infra/memory"
)

// flakyStore fails the first n calls of every operation with a transient error.
type flakyStore struct {
	*memory.DocumentStore
	failures int
	calls    int
}

func (f *flakyStore) ListMetadata(ctx context.Context, token string) ([]domain.Descriptor, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("503 service unavailable")
	}
	return f.DocumentStore.ListMetadata(ctx, token)
}

func fastOptions(retries uint64) Options {
	return Options{MaxRetries: retries, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestRetriesTransientFailures(t *testing.T) {
	flaky := &flakyStore{DocumentStore: memory.NewDocumentStore(), failures: 2}
	store := Wrap(flaky, fastOptions(3))

	if _, err := store.ListMetadata(context.Background(), "tok"); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if flaky.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", flaky.calls)
	}
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	flaky := &flakyStore{DocumentStore: memory.NewDocumentStore(), failures: 10}
	store := Wrap(flaky, fastOptions(2))

	if _, err := store.ListMetadata(context.Background(), "tok"); err == nil {
		t.Fatalf("expected failure")
	}
	if flaky.calls != 3 {
		t.Fatalf("expected initial call plus 2 retries, got %d", flaky.calls)
	}
}

func TestPermanentErrorsAreNotRetried(t *testing.T) {
	inner := memory.NewDocumentStore()
	store := Wrap(inner, fastOptions(5))

	if _, err := store.ListMetadata(context.Background(), ""); !errors.Is(err, domain.ErrReauthNeeded) {
		t.Fatalf("expected reauth error, got %v", err)
	}
	if n := inner.Calls("list"); n != 1 {
		t.Fatalf("reauth must not be retried, got %d calls", n)
	}

	if err := store.Delete(context.Background(), "tok", "missing"); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if n := inner.Calls("delete"); n != 1 {
		t.Fatalf("not found must not be retried, got %d calls", n)
	}
}
