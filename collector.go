package tidemark

import (
	"context"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/multierr"
)

// RecordCollector produces forwarded records to a Kafka topic. Produces are
// asynchronous; Flush blocks until every in-flight record is acked, so a
// commit only ever covers output that actually made it to the broker.
type RecordCollector struct {
	client *kgo.Client
	topic  string

	mu   sync.Mutex
	errs []error
}

var _ Sink = (*RecordCollector)(nil)

func NewRecordCollector(client *kgo.Client, topic string) *RecordCollector {
	return &RecordCollector{
		client: client,
		topic:  topic,
	}
}

func (c *RecordCollector) Forward(ctx context.Context, key, value []byte, timestampMillis int64) error {
	rec := &kgo.Record{
		Topic:     c.topic,
		Key:       key,
		Value:     value,
		Timestamp: time.UnixMilli(timestampMillis),
	}

	c.client.Produce(ctx, rec, func(r *kgo.Record, err error) {
		if err != nil {
			c.mu.Lock()
			c.errs = append(c.errs, err)
			c.mu.Unlock()
		}
	})

	return nil
}

// Flush waits for all in-flight produces and returns any produce errors
// collected since the previous flush.
func (c *RecordCollector) Flush(ctx context.Context) error {
	if err := c.client.Flush(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	errs := c.errs
	c.errs = nil
	c.mu.Unlock()

	return multierr.Combine(errs...)
}
