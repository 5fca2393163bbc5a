// Package gcs stores remote lesson documents as objects in a Cloud Storage bucket.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"cic-sync/internal/domain"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const (
	metaName       = "cic-name"
	metaFolder     = "cic-folder"
	metaLesson     = "cic-lesson"
	metaDescriptor = "cic-descriptor"

	opTimeout = 30 * time.Second
)

// TokenVerifier maps a bearer token to the user id that owns documents.
type TokenVerifier interface {
	Subject(token string) (string, error)
}

// DocumentStore implements app.DocumentStore. Objects live at
// <owner>/<fileId>.json; the clear descriptor travels as object metadata.
type DocumentStore struct {
	client *storage.Client
	bucket string
	tokens TokenVerifier
}

// NewClient builds a storage client. A non-empty emulatorHost targets a local
// emulator without credentials; otherwise credentialsFile (or ADC) is used.
func NewClient(ctx context.Context, emulatorHost, credentialsFile string) (*storage.Client, error) {
	if host := strings.TrimRight(strings.TrimSpace(emulatorHost), "/"); host != "" {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", host)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	}
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	return storage.NewClient(ctx, opts...)
}

func NewDocumentStore(client *storage.Client, bucket string, tokens TokenVerifier) *DocumentStore {
	return &DocumentStore{client: client, bucket: bucket, tokens: tokens}
}

func (s *DocumentStore) ListMetadata(ctx context.Context, token string) ([]domain.Descriptor, error) {
	owner, err := s.tokens.Subject(token)
	if err != nil {
		return nil, err
	}
	objects, err := s.list(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Descriptor, 0, len(objects))
	for _, attrs := range objects {
		if attrs.Metadata[metaLesson] == "" {
			continue
		}
		desc, err := decodeDescriptor(attrs.Metadata)
		if err != nil {
			return nil, fmt.Errorf("object %s: %w", attrs.Name, err)
		}
		desc.DriveFileID = fileIDOf(owner, attrs.Name)
		updated := attrs.Updated.UTC()
		desc.ModifiedTime = &updated
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *DocumentStore) FetchContent(ctx context.Context, token string, handle domain.FileHandle) (json.RawMessage, error) {
	owner, err := s.tokens.Subject(token)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(handle.ID); err != nil {
		return nil, domain.ErrDocumentNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	r, err := s.client.Bucket(s.bucket).Object(objectName(owner, handle.ID)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, domain.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open GCS reader: %w", err)
	}
	defer r.Close()
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read GCS object: %w", err)
	}
	return body, nil
}

func (s *DocumentStore) FindFileByName(ctx context.Context, token, name, folderID string) (*domain.FileHandle, error) {
	owner, err := s.tokens.Subject(token)
	if err != nil {
		return nil, err
	}
	objects, err := s.list(ctx, owner)
	if err != nil {
		return nil, err
	}
	var found *domain.FileHandle
	for _, attrs := range objects {
		if attrs.Metadata[metaName] != name || attrs.Metadata[metaFolder] != folderID {
			continue
		}
		if found == nil || attrs.Updated.After(found.ModifiedTime) {
			found = &domain.FileHandle{ID: fileIDOf(owner, attrs.Name), Name: name, ModifiedTime: attrs.Updated.UTC()}
		}
	}
	return found, nil
}

func (s *DocumentStore) Save(ctx context.Context, token string, doc domain.Document, existingFileID, folderID string) (domain.FileHandle, error) {
	owner, err := s.tokens.Subject(token)
	if err != nil {
		return domain.FileHandle{}, err
	}
	fileID := existingFileID
	if _, err := uuid.Parse(fileID); err != nil {
		fileID = uuid.NewString()
	}
	meta, err := encodeMetadata(doc, folderID)
	if err != nil {
		return domain.FileHandle{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(objectName(owner, fileID)).NewWriter(ctx)
	w.ContentType = "application/json"
	w.Metadata = meta
	// Lesson documents are small: one multipart request, no 16 MiB chunk buffer.
	w.ChunkSize = 0
	if _, err := w.Write(doc.Body); err != nil {
		_ = w.Close()
		return domain.FileHandle{}, fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return domain.FileHandle{}, fmt.Errorf("failed to close GCS writer: %w", err)
	}
	handle := domain.FileHandle{ID: fileID, Name: doc.Name, ModifiedTime: time.Now().UTC()}
	if attrs := w.Attrs(); attrs != nil {
		handle.ModifiedTime = attrs.Updated.UTC()
	}
	return handle, nil
}

func (s *DocumentStore) Delete(ctx context.Context, token, fileID string) error {
	owner, err := s.tokens.Subject(token)
	if err != nil {
		return err
	}
	if _, err := uuid.Parse(fileID); err != nil {
		return domain.ErrDocumentNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	err = s.client.Bucket(s.bucket).Object(objectName(owner, fileID)).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return domain.ErrDocumentNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete GCS object: %w", err)
	}
	return nil
}

func (s *DocumentStore) list(ctx context.Context, owner string) ([]*storage.ObjectAttrs, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: ownerPrefix(owner)})
	var out []*storage.ObjectAttrs
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list GCS objects: %w", err)
		}
		out = append(out, attrs)
	}
	return out, nil
}

func ownerPrefix(owner string) string {
	return owner + "/"
}

func objectName(owner, fileID string) string {
	return ownerPrefix(owner) + fileID + ".json"
}

func fileIDOf(owner, object string) string {
	return strings.TrimSuffix(strings.TrimPrefix(object, ownerPrefix(owner)), ".json")
}

func encodeMetadata(doc domain.Document, folderID string) (map[string]string, error) {
	meta := map[string]string{
		metaName:   doc.Name,
		metaFolder: folderID,
		metaLesson: doc.Metadata.ID,
	}
	if doc.Metadata.ID != "" {
		raw, err := json.Marshal(doc.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal descriptor: %w", err)
		}
		meta[metaDescriptor] = string(raw)
	}
	return meta, nil
}

func decodeDescriptor(meta map[string]string) (domain.Descriptor, error) {
	var desc domain.Descriptor
	raw := meta[metaDescriptor]
	if raw == "" {
		return domain.Descriptor{ID: meta[metaLesson]}, nil
	}
	if err := json.Unmarshal([]byte(raw), &desc); err != nil {
		return domain.Descriptor{}, fmt.Errorf("unmarshal descriptor: %w", err)
	}
	return desc, nil
}
