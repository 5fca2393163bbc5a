package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"cic-sync/internal/domain"
)

// KV is an in-memory implementation of localstore.Backend. A positive quota caps
// the total bytes of keys plus values, like a browser's storage quota.
type KV struct {
	mu    sync.RWMutex
	data  map[string]string
	quota int
	used  int
}

func NewKV() *KV {
	return &KV{data: make(map[string]string)}
}

// NewKVWithQuota returns a KV that rejects writes past quota bytes.
func NewKVWithQuota(quota int) *KV {
	kv := NewKV()
	kv.quota = quota
	return kv
}

func (s *KV) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *KV) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	used := s.used + len(key) + len(value)
	if old, ok := s.data[key]; ok {
		used -= len(key) + len(old)
	}
	if s.quota > 0 && used > s.quota {
		return domain.ErrQuotaExceeded
	}
	s.data[key] = value
	s.used = used
	return nil
}

func (s *KV) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.data[key]; ok {
		s.used -= len(key) + len(old)
		delete(s.data, key)
	}
	return nil
}

func (s *KV) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of stored keys.
func (s *KV) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
