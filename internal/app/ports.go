package app

import (
	"context"
	"encoding/json"

	"cic-sync/internal/domain"
)

// DocumentStore is the remote document store (memory, Postgres, GCS, ...).
// Documents carrying an empty Metadata.ID are auxiliary (progress files) and
// are left out of ListMetadata.
type DocumentStore interface {
	ListMetadata(ctx context.Context, token string) ([]domain.Descriptor, error)
	FetchContent(ctx context.Context, token string, handle domain.FileHandle) (json.RawMessage, error)
	// FindFileByName returns nil, nil when no document matches.
	FindFileByName(ctx context.Context, token, name, folderID string) (*domain.FileHandle, error)
	Save(ctx context.Context, token string, doc domain.Document, existingFileID, folderID string) (domain.FileHandle, error)
	Delete(ctx context.Context, token, fileID string) error
}

// Identity is the signed-in user as seen by the sync layer.
type Identity interface {
	UserID() string
	Token() string
	// EnsureDriveAccess may prompt the user; it returns a fresh token or an error when declined.
	EnsureDriveAccess(ctx context.Context) (string, error)
}
