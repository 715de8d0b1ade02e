package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func liveEntries(k *KeyedMutex) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

func TestKeyedMutex_ExcludesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	var (
		wg      sync.WaitGroup
		counter int
	)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, km.Lock(context.Background(), "p"))
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
			km.Unlock("p")
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, liveEntries(km))
}

func TestKeyedMutex_DifferentKeysDoNotBlock(t *testing.T) {
	km := NewKeyedMutex()
	require.NoError(t, km.Lock(context.Background(), "a"))
	defer km.Unlock("a")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, km.Lock(ctx, "b"))
	km.Unlock("b")
}

func TestKeyedMutex_TimesOut(t *testing.T) {
	km := NewKeyedMutex()
	require.NoError(t, km.Lock(context.Background(), "a"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := km.Lock(ctx, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	km.Unlock("a")
	assert.Equal(t, 0, liveEntries(km))
}

func TestKeyedMutex_LockAllReleasesOnFailure(t *testing.T) {
	km := NewKeyedMutex()
	require.NoError(t, km.Lock(context.Background(), "c"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := km.LockAll(ctx, []string{"a", "b", "c"})
	require.Error(t, err)

	// a and b must be free again.
	unlock, err := km.LockAll(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	unlock()
	km.Unlock("c")
	assert.Equal(t, 0, liveEntries(km))
}

func TestKeyedMutex_UnlockUnheldPanics(t *testing.T) {
	km := NewKeyedMutex()
	assert.Panics(t, func() { km.Unlock("nope") })
}
