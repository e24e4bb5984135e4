package tidemark

import (
	"time"

	"github.com/rs/zerolog"
)

// TransformerBuilder creates the transformer for one assigned partition.
type TransformerBuilder func() Transformer

// StoreBuilder opens the durable backend for a store name on a specific
// partition.
type StoreBuilder func(name string, partition int32) (StoreBackend, error)

// Pipeline describes one input-transform-output chain. Each assigned
// partition of the input topic gets its own transformer instance and its own
// stores.
type Pipeline struct {
	InputTopic  string
	OutputTopic string
	Transformer TransformerBuilder

	// Stores resolves durable backends for registered caches. Defaults to
	// MemoryStores if nil.
	Stores StoreBuilder
}

// MemoryStores is a StoreBuilder handing out non-durable in-memory backends.
func MemoryStores() StoreBuilder {
	return func(name string, partition int32) (StoreBackend, error) {
		return NewMemoryStore(), nil
	}
}

// Option configures an App.
type Option func(*App)

// WithLog sets the logger for the application.
var WithLog = func(log zerolog.Logger) Option {
	return func(a *App) {
		a.log = log
	}
}

// WithBrokers sets the Kafka broker addresses.
var WithBrokers = func(brokers []string) Option {
	return func(a *App) {
		a.brokers = brokers
	}
}

// WithCommitInterval sets how often tasks flush and offsets commit.
var WithCommitInterval = func(commitInterval time.Duration) Option {
	return func(a *App) {
		a.commitInterval = commitInterval
	}
}

// WithPollTimeout sets the timeout for polling records from Kafka.
var WithPollTimeout = func(timeout time.Duration) Option {
	return func(a *App) {
		a.pollTimeout = timeout
	}
}

// WithMaxPollRecords sets the maximum number of records to poll at once.
var WithMaxPollRecords = func(n int) Option {
	return func(a *App) {
		a.maxPollRecords = n
	}
}

// WithWorkersCount sets the number of worker routines.
var WithWorkersCount = func(n int) Option {
	return func(a *App) {
		a.numWorkers = n
	}
}
