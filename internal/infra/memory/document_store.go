package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"cic-sync/internal/domain"
	"github.com/google/uuid"
)

// DocumentStore is an in-memory app.DocumentStore. Any non-empty token is the owner.
type DocumentStore struct {
	mu    sync.Mutex
	now   func() time.Time
	docs  map[string]*storedDoc
	fail  error
	calls map[string]int
}

type storedDoc struct {
	owner  string
	folder string
	handle domain.FileHandle
	doc    domain.Document
}

func NewDocumentStore() *DocumentStore {
	return NewDocumentStoreWithClock(time.Now)
}

// NewDocumentStoreWithClock allows deterministic modified times in tests.
func NewDocumentStoreWithClock(now func() time.Time) *DocumentStore {
	return &DocumentStore{
		now:   now,
		docs:  make(map[string]*storedDoc),
		calls: make(map[string]int),
	}
}

// FailWith makes every subsequent call return err; nil restores normal behaviour.
func (s *DocumentStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// Calls returns how many times op ("list", "fetch", "find", "save", "delete") was invoked.
func (s *DocumentStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Seed stores doc for owner with an explicit modified time, as if another device had written it.
func (s *DocumentStore) Seed(owner, folderID string, doc domain.Document, modified time.Time) domain.FileHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle := domain.FileHandle{ID: uuid.NewString(), Name: doc.Name, ModifiedTime: modified}
	s.docs[handle.ID] = &storedDoc{owner: owner, folder: folderID, handle: handle, doc: doc}
	return handle
}

// Overwrite replaces the body of an existing document and bumps its modified time.
func (s *DocumentStore) Overwrite(fileID string, body json.RawMessage, modified time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.docs[fileID]; ok {
		d.doc.Body = body
		d.handle.ModifiedTime = modified
	}
}

// Rename changes the file name of fileID, as a user editing it by hand would.
func (s *DocumentStore) Rename(fileID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.docs[fileID]; ok {
		d.doc.Name = name
		d.handle.Name = name
	}
}

// Document returns the stored document for fileID.
func (s *DocumentStore) Document(fileID string) (domain.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[fileID]
	if !ok {
		return domain.Document{}, false
	}
	return d.doc, true
}

func (s *DocumentStore) begin(op, token string) error {
	s.calls[op]++
	if s.fail != nil {
		return s.fail
	}
	if token == "" {
		return domain.ErrReauthNeeded
	}
	return nil
}

func (s *DocumentStore) ListMetadata(_ context.Context, token string) ([]domain.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("list", token); err != nil {
		return nil, err
	}
	out := make([]domain.Descriptor, 0, len(s.docs))
	for _, d := range s.docs {
		if d.owner != token || d.doc.Metadata.ID == "" {
			continue
		}
		desc := d.doc.Metadata
		desc.DriveFileID = d.handle.ID
		modified := d.handle.ModifiedTime
		desc.ModifiedTime = &modified
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *DocumentStore) FetchContent(_ context.Context, token string, handle domain.FileHandle) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("fetch", token); err != nil {
		return nil, err
	}
	d, ok := s.docs[handle.ID]
	if !ok || d.owner != token {
		return nil, domain.ErrDocumentNotFound
	}
	return append(json.RawMessage(nil), d.doc.Body...), nil
}

func (s *DocumentStore) FindFileByName(_ context.Context, token, name, folderID string) (*domain.FileHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("find", token); err != nil {
		return nil, err
	}
	for _, d := range s.docs {
		if d.owner == token && d.folder == folderID && d.handle.Name == name {
			h := d.handle
			return &h, nil
		}
	}
	return nil, nil
}

func (s *DocumentStore) Save(_ context.Context, token string, doc domain.Document, existingFileID, folderID string) (domain.FileHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("save", token); err != nil {
		return domain.FileHandle{}, err
	}
	now := s.now()
	if existingFileID != "" {
		if d, ok := s.docs[existingFileID]; ok && d.owner == token {
			d.doc = doc
			d.handle.Name = doc.Name
			d.handle.ModifiedTime = now
			return d.handle, nil
		}
	}
	handle := domain.FileHandle{ID: uuid.NewString(), Name: doc.Name, ModifiedTime: now}
	s.docs[handle.ID] = &storedDoc{owner: token, folder: folderID, handle: handle, doc: doc}
	return handle, nil
}

func (s *DocumentStore) Delete(_ context.Context, token, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("delete", token); err != nil {
		return err
	}
	d, ok := s.docs[fileID]
	if !ok || d.owner != token {
		return domain.ErrDocumentNotFound
	}
	delete(s.docs, fileID)
	return nil
}
