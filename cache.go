package tidemark

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// FlushListener is invoked once per entry drained out of a CachingStore.
// value is nil if the entry was a pending delete.
type FlushListener func(ctx context.Context, store string, key, value []byte) error

type cacheEntry struct {
	key       []byte
	value     []byte
	tombstone bool
}

// CachingStore is a write-back cache in front of a StoreBackend. Writes stay
// pending in memory until Flush drains them into the backend; reads fall
// through to the backend for keys with no pending entry. One pending entry
// exists per key at most, last write wins.
//
// All methods must be called from the single task goroutine that owns the
// step; there is no internal locking.
type CachingStore struct {
	name     string
	backend  StoreBackend
	listener FlushListener

	pending map[string]*cacheEntry
	order   []string

	gauge prometheus.Gauge
}

func newCachingStore(name string, backend StoreBackend, listener FlushListener) *CachingStore {
	return &CachingStore{
		name:     name,
		backend:  backend,
		listener: listener,
		pending:  map[string]*cacheEntry{},
		gauge:    storeCacheEntries.WithLabelValues(name),
	}
}

// Name returns the store name the cache was registered under.
func (c *CachingStore) Name() string {
	return c.name
}

// Set records a pending write for k. The backend is not touched.
func (c *CachingStore) Set(k, v []byte) error {
	val := make([]byte, len(v))
	copy(val, v)

	if e, ok := c.pending[string(k)]; ok {
		e.value = val
		e.tombstone = false
		return nil
	}

	key := make([]byte, len(k))
	copy(key, k)
	c.pending[string(k)] = &cacheEntry{key: key, value: val}
	c.order = append(c.order, string(k))
	c.gauge.Set(float64(len(c.pending)))
	return nil
}

// Delete records a pending tombstone for k, replacing any pending value. A
// pending delete still counts as a pending entry until it is flushed.
func (c *CachingStore) Delete(k []byte) error {
	if e, ok := c.pending[string(k)]; ok {
		e.value = nil
		e.tombstone = true
		return nil
	}

	key := make([]byte, len(k))
	copy(key, k)
	c.pending[string(k)] = &cacheEntry{key: key, tombstone: true}
	c.order = append(c.order, string(k))
	c.gauge.Set(float64(len(c.pending)))
	return nil
}

// Get returns the pending value for k if one exists, and reads through to the
// backend otherwise. A pending tombstone reads as ErrKeyNotFound even if the
// backend still holds a value.
func (c *CachingStore) Get(k []byte) ([]byte, error) {
	if e, ok := c.pending[string(k)]; ok {
		if e.tombstone {
			return nil, ErrKeyNotFound
		}
		return e.value, nil
	}
	return c.backend.Get(k)
}

// Len returns the number of pending entries. Pending deletes count.
func (c *CachingStore) Len() int {
	return len(c.pending)
}

// Flush drains all pending entries into the backend in insertion order,
// invoking the flush listener once per entry. The pending map is snapshotted
// and reset up front, so listener code may write into the cache again; such
// writes belong to the next flush cycle.
//
// On a backend write error the flush stops: entries already drained stay
// drained, the failed entry and everything after it go back to pending for
// the next attempt.
func (c *CachingStore) Flush(ctx context.Context) error {
	order := c.order
	entries := c.pending
	c.pending = map[string]*cacheEntry{}
	c.order = nil
	c.gauge.Set(0)

	for i, k := range order {
		e := entries[k]

		var werr error
		if e.tombstone {
			werr = c.backend.Delete(e.key)
		} else {
			werr = c.backend.Set(e.key, e.value)
		}
		if werr != nil {
			c.requeue(order[i:], entries)
			return fmt.Errorf("cache %q: failed to write key to backend: %w", c.name, werr)
		}

		var v []byte
		if !e.tombstone {
			v = e.value
		}
		if err := c.listener(ctx, c.name, e.key, v); err != nil {
			// The entry itself is already in the backend; only the
			// untouched remainder goes back to pending.
			c.requeue(order[i+1:], entries)
			return err
		}
	}

	return c.backend.Flush(ctx)
}

// requeue puts un-drained entries back into the pending map. Keys written
// again by a re-entrant listener are newer and win.
func (c *CachingStore) requeue(keys []string, entries map[string]*cacheEntry) {
	for _, k := range keys {
		if _, ok := c.pending[k]; ok {
			continue
		}
		c.pending[k] = entries[k]
		c.order = append(c.order, k)
	}
	c.gauge.Set(float64(len(c.pending)))
}
