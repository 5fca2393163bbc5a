// Package session isolates per-user local caches on a shared device.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cic-sync/internal/domain"
	"cic-sync/internal/localstore"
	"cic-sync/internal/logging"
	"cic-sync/internal/metrics"
	"go.uber.org/zap"
)

const (
	KeyPrefix    = "cic_"
	GlobalPrefix = KeyPrefix + "global_"
	UserPrefix   = KeyPrefix + "user_"
)

// Keys written by older releases before user scoping existed.
var legacyPrefixes = []string{KeyPrefix + "lesson_", KeyPrefix + "v1_lessons"}

// Manager owns at most one active user session.
type Manager struct {
	backend localstore.Backend
	log     *zap.Logger
	global  *localstore.NamespacedStore
	metrics *metrics.Collectors

	mu   sync.RWMutex
	uid  string
	user *localstore.NamespacedStore
}

func NewManager(backend localstore.Backend, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		backend: backend,
		log:     log.With(zap.String("component", "session")),
		global:  localstore.NewNamespacedStore(GlobalPrefix, backend, log),
		metrics: metrics.New(),
	}
}

// WithMetrics makes m report to c instead of its private collectors.
func (m *Manager) WithMetrics(c *metrics.Collectors) *Manager {
	if c != nil {
		m.metrics = c
	}
	return m
}

// UserPrefixFor returns the key prefix of uid's store.
func UserPrefixFor(uid string) string {
	return UserPrefix + uid + "_"
}

// Sub-namespaces of a user store. Record keys carry the owner's id again, so
// a key belongs to uid only when the rest of it is one of these.
var (
	userSingletons = []string{"lessons", "stacks", "pending_sync"}
	userRecords    = []string{"content_", "progress_"}
)

// ownsKey reports whether key lives in uid's store. A bare prefix test is not
// enough: "cic_user_a_" is also a prefix of user "a_b"'s keys.
func ownsKey(uid, key string) bool {
	rest, ok := strings.CutPrefix(key, UserPrefixFor(uid))
	if !ok {
		return false
	}
	for _, name := range userSingletons {
		if rest == name {
			return true
		}
	}
	for _, kind := range userRecords {
		if strings.HasPrefix(rest, kind+uid+"_") {
			return true
		}
	}
	return false
}

// StartSession makes uid the active user. Local data of every other user and
// legacy unscoped keys are deleted before the new store is exposed.
func (m *Manager) StartSession(ctx context.Context, uid string) error {
	if strings.TrimSpace(uid) == "" {
		return fmt.Errorf("%w: session requires a user id", domain.ErrSecurityViolation)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.uid = ""
	m.user = nil

	removed, err := purge(ctx, m.backend, func(key string) bool {
		if isLegacy(key) {
			return true
		}
		return strings.HasPrefix(key, UserPrefix) && !ownsKey(uid, key)
	})
	if removed > 0 {
		m.metrics.PurgedKeys.Add(float64(removed))
		m.log.Info("purged foreign local data", zap.Int("keys", removed), zap.String("user", logging.HashID(uid)))
	}
	if err != nil {
		return fmt.Errorf("purge foreign data: %w", err)
	}

	m.uid = uid
	m.user = localstore.NewNamespacedStore(UserPrefixFor(uid), m.backend, m.log)
	return nil
}

// EndSession drops the active session. Disk state stays until the next StartSession.
func (m *Manager) EndSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uid = ""
	m.user = nil
}

// Active reports whether a session is running.
func (m *Manager) Active() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user != nil
}

// UserID returns the active user's id.
func (m *Manager) UserID() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return "", fmt.Errorf("%w: no active session", domain.ErrSecurityViolation)
	}
	return m.uid, nil
}

// UserStore returns the active user's store.
func (m *Manager) UserStore() (*localstore.NamespacedStore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil, fmt.Errorf("%w: user storage accessed without a session", domain.ErrSecurityViolation)
	}
	return m.user, nil
}

// Current returns the active user's id and store together.
func (m *Manager) Current() (string, *localstore.NamespacedStore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return "", nil, fmt.Errorf("%w: user storage accessed without a session", domain.ErrSecurityViolation)
	}
	return m.uid, m.user, nil
}

// GlobalStore holds device-wide, non-sensitive preferences.
func (m *Manager) GlobalStore() *localstore.NamespacedStore {
	return m.global
}

// PurgeAllUserSessions deletes every user-scoped and legacy key on the device.
// It is a full reset, never part of normal startup.
func PurgeAllUserSessions(ctx context.Context, backend localstore.Backend) (int, error) {
	removed, err := purge(ctx, backend, func(key string) bool {
		return isLegacy(key) || strings.HasPrefix(key, UserPrefix)
	})
	return removed, err
}

// batchRemover is implemented by backends that can delete many keys in one round trip.
type batchRemover interface {
	RemoveMany(ctx context.Context, keys []string) error
}

func purge(ctx context.Context, backend localstore.Backend, match func(string) bool) (int, error) {
	keys, err := backend.Keys(ctx, KeyPrefix)
	if err != nil {
		return 0, err
	}
	var doomed []string
	for _, key := range keys {
		if match(key) {
			doomed = append(doomed, key)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	if b, ok := backend.(batchRemover); ok {
		if err := b.RemoveMany(ctx, doomed); err != nil {
			return 0, err
		}
		return len(doomed), nil
	}
	removed := 0
	for _, key := range doomed {
		if err := backend.Remove(ctx, key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func isLegacy(key string) bool {
	for _, p := range legacyPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}
