package redis

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// KV is a Redis-backed localstore.Backend, used when several processes on one
// device share a cache. Every key lives under namespace; the optional ttl
// (with up to 10% jitter) bounds how long an abandoned cache survives.
type KV struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewKV(client *redis.Client, namespace string, ttl time.Duration) *KV {
	return &KV{
		client:    client,
		namespace: namespace,
		ttl:       ttl,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *KV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.namespace+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *KV) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, s.namespace+key, value, s.ttlWithJitter()).Err()
}

func (s *KV) Remove(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.namespace+key).Err()
}

// Keys walks the keyspace with SCAN; glob metacharacters in prefix are escaped.
func (s *KV) Keys(ctx context.Context, prefix string) ([]string, error) {
	match := escapeGlob(s.namespace+prefix) + "*"
	var (
		cursor uint64
		out    []string
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, 200).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			out = append(out, strings.TrimPrefix(k, s.namespace))
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

// RemoveMany deletes keys in one pipeline round trip.
func (s *KV) RemoveMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, k := range keys {
		pipe.Del(ctx, s.namespace+k)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *KV) ttlWithJitter() time.Duration {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	jitterMax := int64(s.ttl) / 10
	return s.ttl + time.Duration(s.rnd.Int63n(jitterMax+1))
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
