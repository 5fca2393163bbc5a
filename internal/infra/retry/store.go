// Package retry decorates a remote document store with exponential backoff.
package retry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"cic-sync/internal/app"
	"cic-sync/internal/domain"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Options bound the retry policy.
type Options struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Logger          *zap.Logger
}

// Store retries transient failures of the wrapped store. Auth, not-found and
// validation errors, and context cancellation, are returned immediately.
type Store struct {
	next app.DocumentStore
	opts Options
	log  *zap.Logger
}

func Wrap(next app.DocumentStore, opts Options) *Store {
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 200 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Store{next: next, opts: opts, log: opts.Logger.With(zap.String("component", "retry"))}
}

func (s *Store) policy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialInterval
	b.MaxInterval = s.opts.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, s.opts.MaxRetries), ctx)
}

func (s *Store) notify(op string) backoff.Notify {
	return func(err error, wait time.Duration) {
		s.log.Debug("remote call failed, retrying", zap.String("op", op), zap.Duration("wait", wait), zap.Error(err))
	}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrReauthNeeded),
		errors.Is(err, domain.ErrDocumentNotFound),
		errors.Is(err, domain.ErrInvalidLesson),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return backoff.Permanent(err)
	}
	return err
}

func do[T any](ctx context.Context, s *Store, op string, call func() (T, error)) (T, error) {
	return backoff.RetryNotifyWithData(func() (T, error) {
		v, err := call()
		return v, classify(err)
	}, s.policy(ctx), s.notify(op))
}

func (s *Store) ListMetadata(ctx context.Context, token string) ([]domain.Descriptor, error) {
	return do(ctx, s, "list", func() ([]domain.Descriptor, error) {
		return s.next.ListMetadata(ctx, token)
	})
}

func (s *Store) FetchContent(ctx context.Context, token string, handle domain.FileHandle) (json.RawMessage, error) {
	return do(ctx, s, "fetch", func() (json.RawMessage, error) {
		return s.next.FetchContent(ctx, token, handle)
	})
}

func (s *Store) FindFileByName(ctx context.Context, token, name, folderID string) (*domain.FileHandle, error) {
	return do(ctx, s, "find", func() (*domain.FileHandle, error) {
		return s.next.FindFileByName(ctx, token, name, folderID)
	})
}

func (s *Store) Save(ctx context.Context, token string, doc domain.Document, existingFileID, folderID string) (domain.FileHandle, error) {
	return do(ctx, s, "save", func() (domain.FileHandle, error) {
		return s.next.Save(ctx, token, doc, existingFileID, folderID)
	})
}

func (s *Store) Delete(ctx context.Context, token, fileID string) error {
	_, err := do(ctx, s, "delete", func() (struct{}, error) {
		return struct{}{}, s.next.Delete(ctx, token, fileID)
	})
	return err
}
