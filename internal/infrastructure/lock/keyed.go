// Package lock provides in-process keyed mutexes with context-bounded waits.
package lock

import (
	"context"
	"sync"
)

type entry struct {
	ch   chan struct{} // capacity 1; holding the token means holding the lock
	refs int
}

// KeyedMutex is a set of mutexes addressed by string key.
// Entries are created on demand and dropped when nobody holds or waits for them.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*entry)}
}

// Lock acquires key, waiting until ctx is done.
// On failure it returns ctx.Err() and the lock is not held.
func (k *KeyedMutex) Lock(ctx context.Context, key string) error {
	e := k.acquireRef(key)

	select {
	case e.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.releaseRef(key, e)
		return ctx.Err()
	}
}

// Unlock releases key. Unlocking a key that is not held panics.
func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.entries[key]
	k.mu.Unlock()
	if !ok {
		panic("lock: unlock of unlocked key " + key)
	}

	select {
	case <-e.ch:
	default:
		panic("lock: unlock of unlocked key " + key)
	}
	k.releaseRef(key, e)
}

// LockAll acquires keys in the given order. If any acquisition fails the
// keys taken so far are released. Callers pass keys in a global order so
// that two LockAll calls can never deadlock.
func (k *KeyedMutex) LockAll(ctx context.Context, keys []string) (unlock func(), err error) {
	held := make([]string, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			k.Unlock(held[i])
		}
	}

	for _, key := range keys {
		if err := k.Lock(ctx, key); err != nil {
			release()
			return nil, err
		}
		held = append(held, key)
	}
	return release, nil
}

func (k *KeyedMutex) acquireRef(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	return e
}

func (k *KeyedMutex) releaseRef(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}
