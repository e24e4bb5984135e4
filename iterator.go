package tidemark

// Iterator walks key-value pairs of a store scan in key order.
type Iterator interface {
	// Next advances the iterator. It returns true if a pair is available,
	// false once iteration is complete or an error occurred.
	Next() bool

	// Key returns the current key. Only valid after Next() returned true.
	Key() []byte

	// Value returns the current value. Only valid after Next() returned true.
	Value() []byte

	// Err returns any error encountered during iteration.
	Err() error

	// Close releases resources associated with the iterator.
	Close() error
}

// TypedIterator wraps an Iterator and deserializes keys and values on the fly.
type TypedIterator[K, V any] struct {
	iter              Iterator
	keyDeserializer   Deserializer[K]
	valueDeserializer Deserializer[V]

	currentKey   K
	currentValue V
	err          error
}

func NewTypedIterator[K, V any](
	iter Iterator,
	keyDeserializer Deserializer[K],
	valueDeserializer Deserializer[V],
) *TypedIterator[K, V] {
	return &TypedIterator[K, V]{
		iter:              iter,
		keyDeserializer:   keyDeserializer,
		valueDeserializer: valueDeserializer,
	}
}

func (it *TypedIterator[K, V]) Next() bool {
	if it.err != nil || !it.iter.Next() {
		return false
	}

	key, err := it.keyDeserializer(it.iter.Key())
	if err != nil {
		it.err = err
		return false
	}
	it.currentKey = key

	value, err := it.valueDeserializer(it.iter.Value())
	if err != nil {
		it.err = err
		return false
	}
	it.currentValue = value

	return true
}

func (it *TypedIterator[K, V]) Key() K {
	return it.currentKey
}

func (it *TypedIterator[K, V]) Value() V {
	return it.currentValue
}

func (it *TypedIterator[K, V]) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.iter.Err()
}

func (it *TypedIterator[K, V]) Close() error {
	return it.iter.Close()
}
