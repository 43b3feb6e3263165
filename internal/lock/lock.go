// Package lock serializes work on a named resource, either within one
// process or across processes sharing a Redis.
package lock

import (
	"context"
	"sync"
)

// Locker acquires the named lock, blocking until it is held or ctx ends.
type Locker interface {
	Lock(ctx context.Context, name string) (func(), error)
}

// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*entry)}
}

func (l *LocalLocker) Lock(ctx context.Context, name string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[name]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[name] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(name, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(name, e)
		})
	}, nil
}

func (l *LocalLocker) release(name string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, name)
	}
}

// held reports how many callers hold or wait on name.
func (l *LocalLocker) held(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.locks[name]; ok {
		return e.refs
	}
	return 0
}
