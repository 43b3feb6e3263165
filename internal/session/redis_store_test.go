package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRevokeAndLookup(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	revoked, err := store.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Fatal("fresh token reported revoked")
	}

	if err := store.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if !s.Exists("revoked:jti-1") {
		t.Fatal("expected revoked:jti-1 key")
	}
	revoked, err = store.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if !revoked {
		t.Fatal("expected token to be revoked")
	}
}

func TestRevocationExpiresWithToken(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Revoke(ctx, "jti-2", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	s.FastForward(2 * time.Minute)

	revoked, err := store.IsRevoked(ctx, "jti-2")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Fatal("revocation should expire with the token")
	}
}

func TestRevokeExpiredTokenIsNoop(t *testing.T) {
	store, s := setupTestRedis(t)
	if err := store.Revoke(context.Background(), "old", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if s.Exists("revoked:old") {
		t.Fatal("expired token should not be stored")
	}
}

func TestPrefixedKeys(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	store := NewRedisStoreWithClient(client, "graphdesk")
	defer store.Close()

	if err := store.Revoke(context.Background(), "abc", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if !s.Exists("graphdesk:revoked:abc") {
		t.Fatalf("keys = %v", s.Keys())
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	if err := store.Revoke(ctx, "a", now.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := store.Revoke(ctx, "stale", now.Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}
	if ok, _ := store.IsRevoked(ctx, "a"); !ok {
		t.Fatal("expected a revoked")
	}
	if ok, _ := store.IsRevoked(ctx, "stale"); ok {
		t.Fatal("stale token should not be revoked")
	}

	now = now.Add(2 * time.Minute)
	if ok, _ := store.IsRevoked(ctx, "a"); ok {
		t.Fatal("revocation should lapse after expiry")
	}
}
