package tidemark

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Flusher is anything that must be drained at a commit boundary.
type Flusher interface {
	Flush(ctx context.Context) error
}

// OutputCollector is the output side of a task: a sink records forward into,
// with a flush barrier a commit can wait on.
type OutputCollector interface {
	Sink
	Flusher
}

// Task is the per-partition unit of execution: one TransformStep plus the
// collector it forwards into, and the offset the partition may commit up to.
// All Task methods run on the owning worker goroutine.
type Task struct {
	topic     string
	partition int32

	step      *TransformStep
	collector OutputCollector

	committable kgo.EpochOffset
	dirty       bool
}

func NewTask(topic string, partition int32, step *TransformStep, collector OutputCollector) *Task {
	return &Task{
		topic:     topic,
		partition: partition,
		step:      step,
		collector: collector,
	}
}

func (t *Task) Init() error {
	return t.step.Init(t.collector)
}

// Process feeds records into the transform step in order. The record's
// broker timestamp is the event time.
func (t *Task) Process(ctx context.Context, records ...*kgo.Record) error {
	for _, record := range records {
		if record.Topic != t.topic {
			return fmt.Errorf("task %s/%d: unexpected topic %q", t.topic, t.partition, record.Topic)
		}

		if err := t.step.Process(ctx, record.Key, record.Value, record.Timestamp.UnixMilli()); err != nil {
			return fmt.Errorf("task %s/%d: failed to process record at offset %d: %w",
				t.topic, t.partition, record.Offset, err)
		}

		t.committable = kgo.EpochOffset{Epoch: record.LeaderEpoch, Offset: record.Offset + 1}
		t.dirty = true
		recordsProcessed.WithLabelValues(t.topic).Inc()
	}

	return nil
}

// Flush drives the commit boundary: the step advances its watermark and
// drains its caches, then the collector waits out all in-flight produces.
func (t *Task) Flush(ctx context.Context) error {
	if err := t.step.Flush(ctx); err != nil {
		return err
	}
	return t.collector.Flush(ctx)
}

// OffsetToCommit returns the next offset to commit and whether any record
// was processed since the task was created.
func (t *Task) OffsetToCommit() (kgo.EpochOffset, bool) {
	return t.committable, t.dirty
}

func (t *Task) Close() error {
	return t.step.Close()
}
