package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseMutualExclusion(t *testing.T, locker Locker) {
	t.Helper()
	var (
		active  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "workspace:ws1")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				prev := atomic.LoadInt32(&maxSeen)
				if n <= prev || atomic.CompareAndSwapInt32(&maxSeen, prev, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen)
}

func TestLocalLockerMutualExclusion(t *testing.T) {
	l := NewLocalLocker()
	exerciseMutualExclusion(t, l)
	assert.Equal(t, 0, l.held("workspace:ws1"), "entries are released")
}

func TestLocalLockerIndependentNames(t *testing.T) {
	l := NewLocalLocker()
	unlockA, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestLocalLockerHonoursContext(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Equal(t, 0, l.held("a"))
}

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, "test", time.Minute), s
}

func TestRedisLockerMutualExclusion(t *testing.T) {
	l, _ := newRedisLocker(t)
	l.retry = time.Millisecond
	exerciseMutualExclusion(t, l)
}

func TestRedisLockerReleaseOnlyOwnToken(t *testing.T) {
	l, s := newRedisLocker(t)
	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, s.Exists("test:lock:a"))

	// Simulate expiry and takeover by another holder.
	s.FastForward(2 * time.Minute)
	require.False(t, s.Exists("test:lock:a"))
	require.NoError(t, s.Set("test:lock:a", "someone-else"))

	unlock()
	got, err := s.Get("test:lock:a")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLockerHonoursContext(t *testing.T) {
	l, _ := newRedisLocker(t)
	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
