package tidemark

import (
	"context"
	"errors"
	"sort"
)

var (
	ErrKeyNotFound = errors.New("store: key not found")
)

// StoreBackend is the low-level byte-oriented contract of a durable
// key-value store. Implementations must survive process restarts with
// every write that Flush returned successfully for.
type StoreBackend interface {
	Init() error
	Flush(ctx context.Context) error
	Close() error

	Set(k, v []byte) error
	Get(k []byte) ([]byte, error)
	Delete(k []byte) error
	Range(from, to []byte) (Iterator, error)
	All() (Iterator, error)
}

// ByteStore is the subset of store operations shared by StoreBackend and
// CachingStore. Typed wrappers accept this so they work in front of either.
type ByteStore interface {
	Set(k, v []byte) error
	Get(k []byte) ([]byte, error)
	Delete(k []byte) error
}

func NewKeyValueStore[K, V any](
	store ByteStore,
	keySerde SerDe[K],
	valueSerde SerDe[V],
) *KeyValueStore[K, V] {
	return &KeyValueStore[K, V]{
		store:      store,
		keySerde:   keySerde,
		valueSerde: valueSerde,
	}
}

// KeyValueStore adds typed access on top of a ByteStore.
type KeyValueStore[K, V any] struct {
	store      ByteStore
	keySerde   SerDe[K]
	valueSerde SerDe[V]
}

func (t *KeyValueStore[K, V]) Set(k K, v V) error {
	key, err := t.keySerde.Serializer(k)
	if err != nil {
		return err
	}

	value, err := t.valueSerde.Serializer(v)
	if err != nil {
		return err
	}

	return t.store.Set(key, value)
}

func (t *KeyValueStore[K, V]) Get(k K) (V, error) {
	var v V
	key, err := t.keySerde.Serializer(k)
	if err != nil {
		return v, err
	}

	res, err := t.store.Get(key)
	if err != nil {
		return v, err
	}

	return t.valueSerde.Deserializer(res)
}

func (t *KeyValueStore[K, V]) Delete(k K) error {
	key, err := t.keySerde.Serializer(k)
	if err != nil {
		return err
	}
	return t.store.Delete(key)
}

// All scans the underlying store, if it supports scans.
func (t *KeyValueStore[K, V]) All() (*TypedIterator[K, V], error) {
	backend, ok := t.store.(StoreBackend)
	if !ok {
		return nil, errors.New("store: backend does not support scans")
	}
	iter, err := backend.All()
	if err != nil {
		return nil, err
	}
	return NewTypedIterator(iter, t.keySerde.Deserializer, t.valueSerde.Deserializer), nil
}

// NewMemoryStore returns a map-backed StoreBackend. It is not durable and is
// meant for tests and examples.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string][]byte{}}
}

type MemoryStore struct {
	data map[string][]byte
}

func (m *MemoryStore) Init() error {
	return nil
}

func (m *MemoryStore) Flush(ctx context.Context) error {
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) Set(k, v []byte) error {
	val := make([]byte, len(v))
	copy(val, v)
	m.data[string(k)] = val
	return nil
}

func (m *MemoryStore) Get(k []byte) ([]byte, error) {
	v, ok := m.data[string(k)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return v, nil
}

func (m *MemoryStore) Delete(k []byte) error {
	delete(m.data, string(k))
	return nil
}

func (m *MemoryStore) Range(from, to []byte) (Iterator, error) {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if (from == nil || k >= string(from)) && (to == nil || k < string(to)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return &memoryIterator{store: m, keys: keys}, nil
}

func (m *MemoryStore) All() (Iterator, error) {
	return m.Range(nil, nil)
}

type memoryIterator struct {
	store *MemoryStore
	keys  []string
	pos   int
}

func (it *memoryIterator) Next() bool {
	if it.pos >= len(it.keys) {
		return false
	}
	it.pos++
	return true
}

func (it *memoryIterator) Key() []byte {
	return []byte(it.keys[it.pos-1])
}

func (it *memoryIterator) Value() []byte {
	return it.store.data[it.keys[it.pos-1]]
}

func (it *memoryIterator) Err() error {
	return nil
}

func (it *memoryIterator) Close() error {
	return nil
}
