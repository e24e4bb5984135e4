package tidemark

import (
	"context"
	"fmt"
)

// Sink is the output channel of a transform step, provided by the runtime
// that owns the step. Implementations must preserve key, value and timestamp
// exactly as given.
type Sink interface {
	Forward(ctx context.Context, key, value []byte, timestampMillis int64) error
}

// TransformContext is what a Transformer gets to keep from Init. It exposes
// forwarding, cache registration and the current watermark.
type TransformContext interface {
	// Forward emits a record to the step's sink, untouched.
	Forward(ctx context.Context, key, value []byte, timestampMillis int64) error

	// RegisterCache creates a named write-back cache over the durable store
	// resolved for name. Must be called during Init; names are unique per
	// step.
	RegisterCache(name string, listener FlushListener) (*CachingStore, error)

	// Cache returns a previously registered cache, or nil.
	Cache(name string) *CachingStore

	// Watermark returns the step's current watermark. The value is stable
	// between two flush boundaries.
	Watermark() Watermark

	// ForwardFlushed is a FlushListener that re-emits each drained cache
	// entry to the sink, tagged with the current watermark. Tombstones are
	// forwarded with a nil value.
	ForwardFlushed(ctx context.Context, store string, key, value []byte) error
}

// Transformer is the user-supplied per-record logic of a TransformStep.
// The runtime never retries a failed hook; errors propagate unmodified and
// fail the owning task.
type Transformer interface {
	// Init is called once, after the step is bound to its sink and before
	// any record is processed. Cache registration happens here.
	Init(tc TransformContext) error

	// OnMessage is invoked once per input record with the watermark that was
	// current when the record arrived. It may call Forward zero or more
	// times and may write into registered caches.
	OnMessage(ctx context.Context, watermark Watermark, key, value []byte) error

	// OnFlush is invoked at every commit boundary, after the watermark has
	// advanced and before the registered caches drain.
	OnFlush(ctx context.Context) error

	// Close is called on task teardown.
	Close() error
}

// TransformStep is a single per-record processing unit. The hosting runtime
// delivers records through Process and fires Flush at each commit-interval
// boundary; both always run on the same task goroutine, never concurrently.
//
// The watermark the step exposes moves in exactly two places: once on the
// very first record (bootstrap, so user logic sees a usable watermark before
// any commit happened) and then only at flush boundaries. In between it is
// frozen no matter how many records with larger timestamps arrive.
type TransformStep struct {
	name string
	user Transformer

	sink   Sink
	caches *CacheRegistry

	watermark   Watermark
	pendingMax  int64
	havePending bool

	initialized bool
}

var _ = TransformContext(&TransformStep{})

func NewTransformStep(name string, user Transformer, provider StoreProvider) *TransformStep {
	return &TransformStep{
		name:      name,
		user:      user,
		caches:    NewCacheRegistry(provider),
		watermark: WatermarkUnset,
	}
}

// Init binds the step to its sink and runs the transformer's Init, which is
// where caches get registered. Must be called exactly once, before any
// record is processed.
func (s *TransformStep) Init(sink Sink) error {
	if s.initialized {
		return fmt.Errorf("step %q: already initialized", s.name)
	}
	s.sink = sink
	s.initialized = true

	if err := s.user.Init(s); err != nil {
		s.initialized = false
		return fmt.Errorf("step %q: transformer init: %w", s.name, err)
	}
	return nil
}

// Process handles one input record.
func (s *TransformStep) Process(ctx context.Context, key, value []byte, eventTimeMillis int64) error {
	s.mustBeInitialized("Process")

	if !s.havePending || eventTimeMillis > s.pendingMax {
		s.pendingMax = eventTimeMillis
		s.havePending = true
	}

	// Bootstrap: the first record ever sets the watermark immediately, so
	// OnMessage never observes an unset watermark. Afterwards the watermark
	// is frozen until the next flush.
	if !s.watermark.IsSet() {
		s.watermark = s.watermark.AdvanceTo(s.pendingMax - 1)
	}

	return s.user.OnMessage(ctx, s.watermark, key, value)
}

// Flush advances the watermark to the maximum event time seen so far (minus
// one), runs the transformer's OnFlush hook and then drains all registered
// caches in registration order.
func (s *TransformStep) Flush(ctx context.Context) error {
	s.mustBeInitialized("Flush")

	if s.havePending {
		s.watermark = s.watermark.AdvanceTo(s.pendingMax - 1)
	}

	if err := s.user.OnFlush(ctx); err != nil {
		return err
	}

	return s.caches.FlushAll(ctx)
}

// Forward emits a record to the sink, untouched.
func (s *TransformStep) Forward(ctx context.Context, key, value []byte, timestampMillis int64) error {
	return s.sink.Forward(ctx, key, value, timestampMillis)
}

// ForwardFlushed implements the common flush listener: every drained entry
// is re-emitted downstream, tagged with the watermark as advanced at the
// current flush boundary.
func (s *TransformStep) ForwardFlushed(ctx context.Context, store string, key, value []byte) error {
	return s.sink.Forward(ctx, key, value, s.watermark.Millis())
}

func (s *TransformStep) RegisterCache(name string, listener FlushListener) (*CachingStore, error) {
	return s.caches.Register(name, listener)
}

func (s *TransformStep) Cache(name string) *CachingStore {
	return s.caches.Cache(name)
}

func (s *TransformStep) Watermark() Watermark {
	return s.watermark
}

func (s *TransformStep) Close() error {
	if err := s.user.Close(); err != nil {
		return err
	}
	return s.caches.Close()
}

func (s *TransformStep) mustBeInitialized(op string) {
	if !s.initialized {
		panic(fmt.Sprintf("tidemark: %s called on step %q before Init", op, s.name))
	}
}
