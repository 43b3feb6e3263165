// Package session tracks revoked access tokens until they expire.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revocations records token ids that must no longer be accepted.
type Revocations interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RedisStore keeps one key per revoked token id, expiring with the token.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed revocation store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ""), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
// Keys are namespaced under prefix when it is set.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	p := "revoked:"
	if prefix != "" {
		p = prefix + ":" + p
	}
	return &RedisStore{client: client, prefix: p}
}

func (s *RedisStore) key(jti string) string {
	return s.prefix + jti
}

// Revoke marks jti revoked. A token already past expiry needs no entry.
func (s *RedisStore) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.key(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *RedisStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("lookup revoked token: %w", err)
	}
	return n > 0, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// MemoryStore is the single-process revocation store.
type MemoryStore struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{revoked: map[string]time.Time{}, now: time.Now}
}

func (s *MemoryStore) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, exp := range s.revoked {
		if !exp.After(now) {
			delete(s.revoked, id)
		}
	}
	if expiresAt.After(now) {
		s.revoked[jti] = expiresAt
	}
	return nil
}

func (s *MemoryStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.revoked[jti]
	return ok && exp.After(s.now()), nil
}
