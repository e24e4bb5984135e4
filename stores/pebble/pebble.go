package pebble

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/tidemark-io/tidemark"
)

// NewStoreBuilder returns a tidemark.StoreBuilder that opens one pebble
// database per store and partition under stateDir.
func NewStoreBuilder(stateDir string) tidemark.StoreBuilder {
	return func(name string, partition int32) (tidemark.StoreBackend, error) {
		return newStore(stateDir, name, partition)
	}
}

func newStore(stateDir, name string, partition int32) (tidemark.StoreBackend, error) {
	if stateDir == "" {
		stateDir = "/tmp/tidemark"
	}
	dir := fmt.Sprintf("%s/%s/partition-%d", stateDir, name, partition)
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", dir, err)
	}
	return &pebbleStore{db: db}, nil
}

type pebbleStore struct {
	db *pebble.DB
}

func (s *pebbleStore) Init() error {
	return nil
}

func (s *pebbleStore) Flush(ctx context.Context) error {
	return s.db.Flush()
}

func (s *pebbleStore) Close() error {
	if err := s.db.Flush(); err != nil {
		return err
	}
	return s.db.Close()
}

func (s *pebbleStore) Set(k, v []byte) error {
	return s.db.Set(k, v, &pebble.WriteOptions{Sync: false})
}

func (s *pebbleStore) Get(k []byte) ([]byte, error) {
	v, closer, err := s.db.Get(k)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, tidemark.ErrKeyNotFound
		}
		return nil, err
	}
	defer closer.Close()

	res := make([]byte, len(v))
	copy(res, v)

	return res, nil
}

func (s *pebbleStore) Delete(k []byte) error {
	return s.db.Delete(k, &pebble.WriteOptions{})
}

func (s *pebbleStore) Range(from, to []byte) (tidemark.Iterator, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: from,
		UpperBound: to,
	})
	if err != nil {
		return nil, err
	}
	return &pebbleIterator{iter: iter}, nil
}

func (s *pebbleStore) All() (tidemark.Iterator, error) {
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return nil, err
	}
	return &pebbleIterator{iter: iter}, nil
}

type pebbleIterator struct {
	iter    *pebble.Iterator
	started bool
	valid   bool
}

func (it *pebbleIterator) Next() bool {
	if !it.started {
		it.started = true
		it.valid = it.iter.First()
	} else {
		it.valid = it.iter.Next()
	}
	return it.valid
}

func (it *pebbleIterator) Key() []byte {
	if !it.valid {
		return nil
	}
	return it.iter.Key()
}

func (it *pebbleIterator) Value() []byte {
	if !it.valid {
		return nil
	}
	return it.iter.Value()
}

func (it *pebbleIterator) Err() error {
	return it.iter.Error()
}

func (it *pebbleIterator) Close() error {
	return it.iter.Close()
}
