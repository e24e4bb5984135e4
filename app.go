package tidemark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInputTopicRequired  = errors.New("tidemark: pipeline needs an input topic")
	ErrOutputTopicRequired = errors.New("tidemark: pipeline needs an output topic")
	ErrTransformerRequired = errors.New("tidemark: pipeline needs a transformer builder")
)

// App hosts one pipeline in a consumer group, spread over one or more
// workers.
type App struct {
	group    string
	pipeline Pipeline

	brokers        []string
	numWorkers     int
	commitInterval time.Duration
	pollTimeout    time.Duration
	maxPollRecords int

	log zerolog.Logger

	workers []*Worker
}

// New creates an App. The group name doubles as the Kafka consumer group.
func New(group string, pipeline Pipeline, opts ...Option) (*App, error) {
	a := &App{
		group:          group,
		pipeline:       pipeline,
		brokers:        []string{"localhost:9092"},
		numWorkers:     1,
		commitInterval: 5 * time.Second,
		pollTimeout:    10 * time.Second,
		maxPollRecords: 10000,
		log:            zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(a)
	}

	switch {
	case pipeline.InputTopic == "":
		return nil, ErrInputTopicRequired
	case pipeline.OutputTopic == "":
		return nil, ErrOutputTopicRequired
	case pipeline.Transformer == nil:
		return nil, ErrTransformerRequired
	}

	if a.pipeline.Stores == nil {
		a.pipeline.Stores = MemoryStores()
	}

	return a, nil
}

// Run starts the workers and blocks until they stop or one of them fails.
func (a *App) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	for i := 0; i < a.numWorkers; i++ {
		name := fmt.Sprintf("%s-worker-%d", a.group, i)
		worker, err := NewWorker(a.log, name, a.group, a.pipeline, a.brokers,
			a.commitInterval, a.pollTimeout, a.maxPollRecords)
		if err != nil {
			return err
		}
		a.workers = append(a.workers, worker)
	}

	for _, worker := range a.workers {
		worker := worker
		eg.Go(func() error {
			return worker.Run(ctx)
		})
	}

	a.log.Info().Str("group", a.group).Int("workers", a.numWorkers).Msg("app started")
	return eg.Wait()
}

// Close asks all workers to stop. Run returns once they have.
func (a *App) Close() error {
	for _, worker := range a.workers {
		_ = worker.Close()
	}
	return nil
}
