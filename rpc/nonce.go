package rpc

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceStore remembers (caller, nonce) pairs until their envelope expires.
// Remember returns false when the pair was already seen.
type NonceStore interface {
	Remember(ctx context.Context, caller string, nonce uint64, expiresAt time.Time) (bool, error)
}

// MemoryNonceStore keeps nonces in process memory. Entries are pruned lazily
// once their expiry passes.
type MemoryNonceStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryNonceStore constructs an empty in-memory store.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{entries: make(map[string]time.Time), now: time.Now}
}

func nonceKey(caller string, nonce uint64) string {
	return fmt.Sprintf("%s|%d", strings.ToLower(caller), nonce)
}

// Remember implements NonceStore.
func (s *MemoryNonceStore) Remember(_ context.Context, caller string, nonce uint64, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, expiry := range s.entries {
		if now.After(expiry) {
			delete(s.entries, key)
		}
	}
	key := nonceKey(caller, nonce)
	if _, seen := s.entries[key]; seen {
		return false, nil
	}
	s.entries[key] = expiresAt
	return true, nil
}

// Len returns the number of tracked nonces.
func (s *MemoryNonceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RedisNonceStore shares replay protection between RPC replicas. Each pair is
// a key set with NX and a TTL matching the envelope expiry.
type RedisNonceStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisNonceStore connects to url and verifies the connection.
func NewRedisNonceStore(ctx context.Context, url string) (*RedisNonceStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisNonceStore{client: client, prefix: "factoring:nonce:", now: time.Now}, nil
}

// Remember implements NonceStore.
func (s *RedisNonceStore) Remember(ctx context.Context, caller string, nonce uint64, expiresAt time.Time) (bool, error) {
	ttl := expiresAt.Sub(s.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := s.client.SetNX(ctx, s.prefix+nonceKey(caller, nonce), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Close releases the Redis connection.
func (s *RedisNonceStore) Close() error {
	return s.client.Close()
}
