// Package localstore scopes a flat key/value backend under fixed key prefixes.
package localstore

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

// Backend is the device's durable key/value storage. All keys share one flat namespace.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	// Keys lists every key starting with prefix (an empty prefix lists everything).
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// NamespacedStore reads and writes JSON values under prefix.
type NamespacedStore struct {
	prefix  string
	backend Backend
	log     *zap.Logger
}

func NewNamespacedStore(prefix string, backend Backend, log *zap.Logger) *NamespacedStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &NamespacedStore{
		prefix:  prefix,
		backend: backend,
		log:     log.With(zap.String("component", "localstore"), zap.String("prefix", prefix)),
	}
}

// Prefix returns the namespace prefix.
func (s *NamespacedStore) Prefix() string {
	return s.prefix
}

// Get decodes the value at key into out and reports whether it was found.
// Missing keys and undecodable values leave out untouched and return false.
func (s *NamespacedStore) Get(ctx context.Context, key string, out any) bool {
	raw, ok, err := s.backend.Get(ctx, s.prefix+key)
	if err != nil {
		s.log.Warn("local read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		s.log.Warn("local value is not valid json", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Set stores value as JSON. Failures are logged; the caller's in-memory state stays authoritative.
func (s *NamespacedStore) Set(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.log.Error("local value not serializable", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.backend.Set(ctx, s.prefix+key, string(raw)); err != nil {
		s.log.Error("local write failed", zap.String("key", key), zap.Error(err))
	}
}

// Remove deletes key; missing keys are ignored.
func (s *NamespacedStore) Remove(ctx context.Context, key string) {
	if err := s.backend.Remove(ctx, s.prefix+key); err != nil {
		s.log.Warn("local remove failed", zap.String("key", key), zap.Error(err))
	}
}

// Purge deletes every backend key under the prefix and returns how many were removed.
func (s *NamespacedStore) Purge(ctx context.Context) (int, error) {
	keys, err := s.backend.Keys(ctx, s.prefix)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, k := range keys {
		if err := s.backend.Remove(ctx, k); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Keys lists the keys under the prefix with the prefix stripped.
func (s *NamespacedStore) Keys(ctx context.Context) []string {
	keys, err := s.backend.Keys(ctx, s.prefix)
	if err != nil {
		s.log.Warn("local key listing failed", zap.Error(err))
		return nil
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, s.prefix))
	}
	return out
}
