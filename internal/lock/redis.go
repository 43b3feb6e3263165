package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker holds locks as expiring keys so a crashed holder cannot keep a
// workspace locked past ttl.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	if prefix == "" {
		prefix = "graphdesk"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, prefix: prefix + ":lock:", ttl: ttl, retry: 50 * time.Millisecond}
}

func (l *RedisLocker) key(name string) string {
	return l.prefix + name
}

func (l *RedisLocker) Lock(ctx context.Context, name string) (func(), error) {
	token := uuid.NewString()
	key := l.key(name)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", name, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// A fresh context: the caller's may already be done.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
		})
	}, nil
}
