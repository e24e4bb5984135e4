package tidemark

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type flushedEntry struct {
	store string
	key   string
	value []byte
}

// recordingListener collects listener invocations in order.
type recordingListener struct {
	entries []flushedEntry
	err     error
}

func (l *recordingListener) listen(_ context.Context, store string, key, value []byte) error {
	l.entries = append(l.entries, flushedEntry{store: store, key: string(key), value: value})
	return l.err
}

// failingStore wraps a MemoryStore and fails writes after a number of
// successful ones.
type failingStore struct {
	*MemoryStore
	writesLeft int
}

func (f *failingStore) Set(k, v []byte) error {
	if f.writesLeft <= 0 {
		return errors.New("disk full")
	}
	f.writesLeft--
	return f.MemoryStore.Set(k, v)
}

func (f *failingStore) Delete(k []byte) error {
	if f.writesLeft <= 0 {
		return errors.New("disk full")
	}
	f.writesLeft--
	return f.MemoryStore.Delete(k)
}

func TestCachingStore_ReadThrough(t *testing.T) {
	backend := NewMemoryStore()
	listener := &recordingListener{}
	cache := newCachingStore("test", backend, listener.listen)

	t.Run("pending write shadows backend value", func(t *testing.T) {
		assert.NoError(t, backend.Set([]byte("k"), []byte("stored")))
		assert.NoError(t, cache.Set([]byte("k"), []byte("pending")))

		v, err := cache.Get([]byte("k"))
		assert.NoError(t, err)
		assert.Equal(t, "pending", string(v))
	})

	t.Run("miss falls through to backend", func(t *testing.T) {
		assert.NoError(t, backend.Set([]byte("other"), []byte("from-backend")))

		v, err := cache.Get([]byte("other"))
		assert.NoError(t, err)
		assert.Equal(t, "from-backend", string(v))
	})

	t.Run("pending tombstone hides backend value", func(t *testing.T) {
		assert.NoError(t, backend.Set([]byte("gone"), []byte("still-here")))
		assert.NoError(t, cache.Delete([]byte("gone")))

		_, err := cache.Get([]byte("gone"))
		assert.IsError(t, err, ErrKeyNotFound)
	})
}

func TestCachingStore_Gauge(t *testing.T) {
	backend := NewMemoryStore()
	listener := &recordingListener{}
	cache := newCachingStore("gauge-test", backend, listener.listen)

	assert.Equal(t, 0, cache.Len())

	assert.NoError(t, cache.Set([]byte("a"), []byte("1")))
	assert.NoError(t, cache.Set([]byte("b"), []byte("2")))
	assert.Equal(t, 2, cache.Len())

	// Overwriting a pending key does not create a new entry.
	assert.NoError(t, cache.Set([]byte("a"), []byte("3")))
	assert.Equal(t, 2, cache.Len())

	// A pending delete is still a pending entry.
	assert.NoError(t, cache.Delete([]byte("c")))
	assert.Equal(t, 3, cache.Len())

	assert.Equal(t, float64(3), testutil.ToFloat64(storeCacheEntries.WithLabelValues("gauge-test")))

	assert.NoError(t, cache.Flush(context.Background()))
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, float64(0), testutil.ToFloat64(storeCacheEntries.WithLabelValues("gauge-test")))
}

func TestCachingStore_Flush(t *testing.T) {
	t.Run("drains in insertion order", func(t *testing.T) {
		backend := NewMemoryStore()
		listener := &recordingListener{}
		cache := newCachingStore("order", backend, listener.listen)

		for i := 0; i < 5; i++ {
			assert.NoError(t, cache.Set([]byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i))))
		}

		assert.NoError(t, cache.Flush(context.Background()))

		assert.Equal(t, 5, len(listener.entries))
		for i, e := range listener.entries {
			assert.Equal(t, "order", e.store)
			assert.Equal(t, fmt.Sprintf("k%d", i), e.key)
			assert.Equal(t, fmt.Sprintf("v%d", i), string(e.value))
		}

		v, err := backend.Get([]byte("k3"))
		assert.NoError(t, err)
		assert.Equal(t, "v3", string(v))
	})

	t.Run("last write wins before flush", func(t *testing.T) {
		backend := NewMemoryStore()
		listener := &recordingListener{}
		cache := newCachingStore("lww", backend, listener.listen)

		assert.NoError(t, cache.Set([]byte("k"), []byte("v1")))
		assert.NoError(t, cache.Set([]byte("k"), []byte("v2")))

		assert.NoError(t, cache.Flush(context.Background()))

		assert.Equal(t, 1, len(listener.entries))
		assert.Equal(t, "v2", string(listener.entries[0].value))
	})

	t.Run("put then delete flushes as tombstone", func(t *testing.T) {
		backend := NewMemoryStore()
		assert.NoError(t, backend.Set([]byte("k"), []byte("old")))

		listener := &recordingListener{}
		cache := newCachingStore("tomb", backend, listener.listen)

		assert.NoError(t, cache.Set([]byte("k"), []byte("v")))
		assert.NoError(t, cache.Delete([]byte("k")))

		assert.NoError(t, cache.Flush(context.Background()))

		assert.Equal(t, 1, len(listener.entries))
		assert.Equal(t, "k", listener.entries[0].key)
		assert.Zero(t, listener.entries[0].value)

		_, err := backend.Get([]byte("k"))
		assert.IsError(t, err, ErrKeyNotFound)
	})

	t.Run("re-entrant writes during drain belong to the next cycle", func(t *testing.T) {
		backend := NewMemoryStore()
		var cache *CachingStore
		reentered := false
		cache = newCachingStore("reentrant", backend, func(ctx context.Context, store string, key, value []byte) error {
			if !reentered {
				reentered = true
				return cache.Set([]byte("late"), []byte("next-cycle"))
			}
			return nil
		})

		assert.NoError(t, cache.Set([]byte("k"), []byte("v")))
		assert.NoError(t, cache.Flush(context.Background()))

		// The re-entrant put was not drained, it is pending again.
		assert.Equal(t, 1, cache.Len())
		_, err := backend.Get([]byte("late"))
		assert.IsError(t, err, ErrKeyNotFound)

		assert.NoError(t, cache.Flush(context.Background()))
		assert.Equal(t, 0, cache.Len())
		v, err := backend.Get([]byte("late"))
		assert.NoError(t, err)
		assert.Equal(t, "next-cycle", string(v))
	})

	t.Run("backend write failure keeps remainder pending", func(t *testing.T) {
		backend := &failingStore{MemoryStore: NewMemoryStore(), writesLeft: 1}
		listener := &recordingListener{}
		cache := newCachingStore("partial", backend, listener.listen)

		assert.NoError(t, cache.Set([]byte("a"), []byte("1")))
		assert.NoError(t, cache.Set([]byte("b"), []byte("2")))
		assert.NoError(t, cache.Set([]byte("c"), []byte("3")))

		err := cache.Flush(context.Background())
		assert.Error(t, err)

		// First entry made it to the backend and was reported.
		assert.Equal(t, 1, len(listener.entries))
		assert.Equal(t, "a", listener.entries[0].key)
		v, gerr := backend.MemoryStore.Get([]byte("a"))
		assert.NoError(t, gerr)
		assert.Equal(t, "1", string(v))

		// The unwritten rest stays pending for the next attempt.
		assert.Equal(t, 2, cache.Len())

		backend.writesLeft = 2
		assert.NoError(t, cache.Flush(context.Background()))
		assert.Equal(t, 0, cache.Len())
		assert.Equal(t, 3, len(listener.entries))
	})

	t.Run("listener error propagates unwrapped", func(t *testing.T) {
		backend := NewMemoryStore()
		hookErr := errors.New("hook exploded")
		listener := &recordingListener{err: hookErr}
		cache := newCachingStore("hookerr", backend, listener.listen)

		assert.NoError(t, cache.Set([]byte("k"), []byte("v")))

		err := cache.Flush(context.Background())
		assert.Equal(t, hookErr, err)
	})
}
