// Package postgres stores remote lesson documents in a Postgres table.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cic-sync/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// TokenVerifier maps a bearer token to the user id that owns documents.
type TokenVerifier interface {
	Subject(token string) (string, error)
}

// DocumentStore implements app.DocumentStore. Metadata is kept as clear JSONB
// next to the opaque body so listing never touches encrypted payloads.
type DocumentStore struct {
	pool   *pgxpool.Pool
	tokens TokenVerifier
}

func NewDocumentStore(pool *pgxpool.Pool, tokens TokenVerifier) *DocumentStore {
	return &DocumentStore{pool: pool, tokens: tokens}
}

func (s *DocumentStore) ListMetadata(ctx context.Context, token string) ([]domain.Descriptor, error) {
	owner, err := s.tokens.Subject(token)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, metadata, modified_at FROM documents WHERE owner=$1 AND lesson_id <> '' ORDER BY lesson_id`, owner)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []domain.Descriptor
	for rows.Next() {
		var (
			id       string
			raw      []byte
			modified time.Time
		)
		if err := rows.Scan(&id, &raw, &modified); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		var desc domain.Descriptor
		if err := json.Unmarshal(raw, &desc); err != nil {
			return nil, fmt.Errorf("unmarshal metadata %s: %w", id, err)
		}
		desc.DriveFileID = id
		modified = modified.UTC()
		desc.ModifiedTime = &modified
		out = append(out, desc)
	}
	return out, rows.Err()
}

func (s *DocumentStore) FetchContent(ctx context.Context, token string, handle domain.FileHandle) (json.RawMessage, error) {
	owner, err := s.tokens.Subject(token)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(handle.ID); err != nil {
		return nil, domain.ErrDocumentNotFound
	}
	var raw []byte
	err = s.pool.QueryRow(ctx, `SELECT body FROM documents WHERE id=$1 AND owner=$2`, handle.ID, owner).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	return raw, nil
}

func (s *DocumentStore) FindFileByName(ctx context.Context, token, name, folderID string) (*domain.FileHandle, error) {
	owner, err := s.tokens.Subject(token)
	if err != nil {
		return nil, err
	}
	var h domain.FileHandle
	err = s.pool.QueryRow(ctx,
		`SELECT id, name, modified_at FROM documents WHERE owner=$1 AND folder_id=$2 AND name=$3
		 ORDER BY modified_at DESC LIMIT 1`, owner, folderID, name).Scan(&h.ID, &h.Name, &h.ModifiedTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find document: %w", err)
	}
	h.ModifiedTime = h.ModifiedTime.UTC()
	return &h, nil
}

func (s *DocumentStore) Save(ctx context.Context, token string, doc domain.Document, existingFileID, folderID string) (domain.FileHandle, error) {
	owner, err := s.tokens.Subject(token)
	if err != nil {
		return domain.FileHandle{}, err
	}
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return domain.FileHandle{}, fmt.Errorf("marshal metadata: %w", err)
	}
	lessonID := doc.Metadata.ID

	handle := domain.FileHandle{Name: doc.Name}
	if _, perr := uuid.Parse(existingFileID); existingFileID != "" && perr == nil {
		err = s.pool.QueryRow(ctx,
			`UPDATE documents SET name=$3, lesson_id=$4, metadata=$5, body=$6, modified_at=now()
			 WHERE id=$1 AND owner=$2 RETURNING id, modified_at`,
			existingFileID, owner, doc.Name, lessonID, string(meta), string(doc.Body)).Scan(&handle.ID, &handle.ModifiedTime)
		if err == nil {
			handle.ModifiedTime = handle.ModifiedTime.UTC()
			return handle, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return domain.FileHandle{}, fmt.Errorf("update document: %w", err)
		}
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO documents (id, owner, folder_id, name, lesson_id, metadata, body)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, modified_at`,
		uuid.NewString(), owner, folderID, doc.Name, lessonID, string(meta), string(doc.Body)).Scan(&handle.ID, &handle.ModifiedTime)
	if err != nil {
		return domain.FileHandle{}, fmt.Errorf("insert document: %w", err)
	}
	handle.ModifiedTime = handle.ModifiedTime.UTC()
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
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id=$1 AND owner=$2`, fileID, owner)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}
