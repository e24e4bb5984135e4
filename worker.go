package tidemark

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

type workerState string

const (
	stateCreated        workerState = "CREATED"
	stateRunning        workerState = "RUNNING"
	stateCloseRequested workerState = "CLOSE_REQUESTED"
	stateClosed         workerState = "CLOSED"
)

// Worker runs one poll-process-commit loop against a consumer group. It owns
// one Task per assigned partition of the pipeline's input topic and fires
// each task's Flush at every commit-interval boundary, before committing
// offsets.
type Worker struct {
	name  string
	group string
	log   zerolog.Logger

	client   *kgo.Client
	pipeline Pipeline

	commitInterval time.Duration
	pollTimeout    time.Duration
	maxPollRecords int

	// tasks is written by the client's rebalance callbacks and read by the
	// poll loop.
	mu    sync.Mutex
	tasks map[int32]*Task

	lastCommit time.Time

	quit chan struct{}
	once sync.Once

	state workerState
	err   error
}

func NewWorker(log zerolog.Logger, name string, group string, pipeline Pipeline, brokers []string,
	commitInterval, pollTimeout time.Duration, maxPollRecords int) (*Worker, error) {

	w := &Worker{
		name:           name,
		group:          group,
		log:            log.With().Str("worker", name).Logger(),
		pipeline:       pipeline,
		commitInterval: commitInterval,
		pollTimeout:    pollTimeout,
		maxPollRecords: maxPollRecords,
		tasks:          map[int32]*Task{},
		quit:           make(chan struct{}),
		state:          stateCreated,
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(pipeline.InputTopic),
		kgo.DisableAutoCommit(),
		kgo.Balancers(kgo.CooperativeStickyBalancer()),
		kgo.OnPartitionsAssigned(w.assigned),
		kgo.OnPartitionsRevoked(w.revoked),
	)
	if err != nil {
		return nil, fmt.Errorf("worker %s: failed to create client: %w", name, err)
	}
	w.client = client

	return w, nil
}

func (w *Worker) assigned(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, partition := range assigned[w.pipeline.InputTopic] {
		partition := partition
		provider := func(name string) (StoreBackend, error) {
			return w.pipeline.Stores(name, partition)
		}

		step := NewTransformStep(
			fmt.Sprintf("%s/%d", w.pipeline.InputTopic, partition),
			w.pipeline.Transformer(),
			provider,
		)
		collector := NewRecordCollector(w.client, w.pipeline.OutputTopic)
		task := NewTask(w.pipeline.InputTopic, partition, step, collector)

		if err := task.Init(); err != nil {
			w.log.Error().Err(err).Int32("partition", partition).Msg("failed to init task")
			w.fail(err)
			return
		}

		w.tasks[partition] = task
		w.log.Info().Int32("partition", partition).Msg("task assigned")
	}
}

func (w *Worker) revoked(ctx context.Context, _ *kgo.Client, revoked map[string][]int32) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, partition := range revoked[w.pipeline.InputTopic] {
		task, ok := w.tasks[partition]
		if !ok {
			continue
		}

		// Flush and commit what the task has before giving the partition up.
		if err := task.Flush(ctx); err != nil {
			w.log.Error().Err(err).Int32("partition", partition).Msg("flush on revoke failed")
			w.fail(err)
		} else if offset, dirty := task.OffsetToCommit(); dirty {
			w.commitOffsets(ctx, map[string]map[int32]kgo.EpochOffset{
				w.pipeline.InputTopic: {partition: offset},
			})
		}

		if err := task.Close(); err != nil {
			w.log.Error().Err(err).Int32("partition", partition).Msg("failed to close task")
		}
		delete(w.tasks, partition)
		w.log.Info().Int32("partition", partition).Msg("task revoked")
	}
}

// Run polls and processes records until ctx is canceled or Close is called.
func (w *Worker) Run(ctx context.Context) error {
	w.state = stateRunning
	w.lastCommit = time.Now()
	defer w.teardown()

	for {
		select {
		case <-ctx.Done():
			return w.err
		case <-w.quit:
			return w.err
		default:
		}

		if err := w.pollOnce(ctx); err != nil {
			w.fail(err)
			return w.err
		}

		if time.Since(w.lastCommit) >= w.commitInterval {
			if err := w.commit(ctx); err != nil {
				w.fail(err)
				return w.err
			}
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context) error {
	pollCtx, cancel := context.WithTimeout(ctx, w.pollTimeout)
	defer cancel()

	fetches := w.client.PollRecords(pollCtx, w.maxPollRecords)
	if fetches.IsClientClosed() {
		w.requestClose(nil)
		return nil
	}

	for _, fetchErr := range fetches.Errors() {
		if errors.Is(fetchErr.Err, context.DeadlineExceeded) || errors.Is(fetchErr.Err, context.Canceled) {
			continue
		}
		return fmt.Errorf("fetch error on %s/%d: %w", fetchErr.Topic, fetchErr.Partition, fetchErr.Err)
	}

	var processErr error
	fetches.EachPartition(func(fetch kgo.FetchTopicPartition) {
		if processErr != nil {
			return
		}

		w.mu.Lock()
		task, ok := w.tasks[fetch.Partition]
		w.mu.Unlock()
		if !ok {
			processErr = fmt.Errorf("no task for %s/%d", fetch.Topic, fetch.Partition)
			return
		}

		if err := task.Process(ctx, fetch.Records...); err != nil {
			processErr = err
		}
	})

	return processErr
}

// commit is the commit-interval boundary: every task flushes (watermark
// advance, cache drain, produce barrier), then the resulting offsets commit.
func (w *Worker) commit(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	offsets := map[string]map[int32]kgo.EpochOffset{}
	for partition, task := range w.tasks {
		if err := task.Flush(ctx); err != nil {
			commitsTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("failed to flush task %s/%d: %w", w.pipeline.InputTopic, partition, err)
		}

		if offset, dirty := task.OffsetToCommit(); dirty {
			if offsets[w.pipeline.InputTopic] == nil {
				offsets[w.pipeline.InputTopic] = map[int32]kgo.EpochOffset{}
			}
			offsets[w.pipeline.InputTopic][partition] = offset
		}
	}

	if len(offsets) > 0 {
		w.commitOffsets(ctx, offsets)
	}

	w.lastCommit = time.Now()
	commitsTotal.WithLabelValues("ok").Inc()
	return nil
}

func (w *Worker) commitOffsets(ctx context.Context, offsets map[string]map[int32]kgo.EpochOffset) {
	w.client.CommitOffsetsSync(ctx, offsets, func(_ *kgo.Client, _ *kmsg.OffsetCommitRequest, _ *kmsg.OffsetCommitResponse, err error) {
		if err != nil {
			w.log.Error().Err(err).Msg("failed to commit offsets")
		}
	})
}

// Close requests the worker to stop; Run drains and returns shortly after.
func (w *Worker) Close() error {
	w.requestClose(nil)
	return nil
}

func (w *Worker) requestClose(err error) {
	if err != nil && w.err == nil {
		w.err = err
	}
	w.once.Do(func() {
		w.state = stateCloseRequested
		close(w.quit)
	})
}

func (w *Worker) fail(err error) {
	if err == nil {
		return
	}
	w.log.Error().Err(err).Msg("worker failed")
	w.requestClose(err)
}

func (w *Worker) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	w.mu.Lock()
	for partition, task := range w.tasks {
		if err := task.Flush(ctx); err != nil {
			w.log.Error().Err(err).Int32("partition", partition).Msg("final flush failed")
		} else if offset, dirty := task.OffsetToCommit(); dirty {
			w.commitOffsets(ctx, map[string]map[int32]kgo.EpochOffset{
				w.pipeline.InputTopic: {partition: offset},
			})
		}
		if err := task.Close(); err != nil {
			w.log.Error().Err(err).Int32("partition", partition).Msg("failed to close task")
		}
	}
	w.tasks = map[int32]*Task{}
	w.mu.Unlock()

	w.client.Close()
	w.state = stateClosed
}
