package tidemark

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

var ErrStoreAlreadyRegistered = errors.New("registry: store already registered")

// StoreProvider resolves the durable backend for a store name. The provider
// is usually a closure over the partition and state directory of the owning
// task.
type StoreProvider func(name string) (StoreBackend, error)

// CacheRegistry creates and tracks the named write-back caches of one
// transform step. Caches flush in registration order.
type CacheRegistry struct {
	provider StoreProvider

	names  []string
	caches map[string]*CachingStore
}

func NewCacheRegistry(provider StoreProvider) *CacheRegistry {
	return &CacheRegistry{
		provider: provider,
		caches:   map[string]*CachingStore{},
	}
}

// Register resolves the durable store for name, wraps it in a CachingStore
// and wires the flush listener. Names must be unique per registry.
func (r *CacheRegistry) Register(name string, listener FlushListener) (*CachingStore, error) {
	if _, ok := r.caches[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrStoreAlreadyRegistered, name)
	}

	backend, err := r.provider(name)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to resolve store %q: %w", name, err)
	}

	if err := backend.Init(); err != nil {
		return nil, fmt.Errorf("registry: failed to init store %q: %w", name, err)
	}

	cache := newCachingStore(name, backend, listener)
	r.caches[name] = cache
	r.names = append(r.names, name)
	return cache, nil
}

// Cache returns the cache registered under name, or nil.
func (r *CacheRegistry) Cache(name string) *CachingStore {
	return r.caches[name]
}

// FlushAll flushes every cache in registration order. A failing cache does
// not prevent the others from being attempted; errors are aggregated.
func (r *CacheRegistry) FlushAll(ctx context.Context) error {
	var err error
	for _, name := range r.names {
		err = multierr.Append(err, r.caches[name].Flush(ctx))
	}
	return err
}

// Close closes the durable backends resolved by Register.
func (r *CacheRegistry) Close() error {
	var err error
	for _, name := range r.names {
		err = multierr.Append(err, r.caches[name].backend.Close())
	}
	return err
}
