package stream

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/bytestream/config"
	"github.com/BaSui01/bytestream/types"
)

// UnderlyingSource is the producer side of a byte stream. All callbacks
// are optional and run outside the controller lock, so they may call any
// Controller or BYOBRequest method.
//
// ctx is canceled once the stream closes, errors or is canceled; a
// producer that finishes its work asynchronously should watch it.
type UnderlyingSource struct {
	// Start runs once from New. Pulls wait until it returns. An error
	// errors the stream.
	Start func(ctx context.Context, c *Controller) error
	// Pull is invoked when reads are waiting or the queue is below the high
	// water mark. Never more than one Pull runs at a time. An error errors
	// the stream.
	Pull func(ctx context.Context, c *Controller) error
	// Cancel is invoked with the consumer's reason when the stream is
	// canceled. Its error is returned to the canceling caller.
	Cancel func(ctx context.Context, reason error) error
}

type options struct {
	id            string
	autoAllocate  *int
	highWaterMark int
	logger        *zap.Logger
	metrics       MetricsRecorder
}

// Option configures a Stream.
type Option func(*options)

// WithAutoAllocateChunkSize makes default reads that find nothing queued
// offer the producer an n-byte destination through BYOBRequest.
func WithAutoAllocateChunkSize(n int) Option {
	return func(o *options) { o.autoAllocate = &n }
}

// WithHighWaterMark sets the queued byte count the controller pulls toward.
// Byte streams default to 0, pulling only for pending reads.
func WithHighWaterMark(n int) Option {
	return func(o *options) { o.highWaterMark = n }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *options) { o.metrics = m }
}

// WithID overrides the generated stream identifier.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// FromConfig applies the stream section of the configuration. A zero
// AutoAllocateChunkSize leaves auto-allocation off.
func FromConfig(cfg config.StreamConfig) Option {
	return func(o *options) {
		if cfg.AutoAllocateChunkSize > 0 {
			n := cfg.AutoAllocateChunkSize
			o.autoAllocate = &n
		}
		o.highWaterMark = cfg.HighWaterMark
	}
}

// Stream is a readable byte stream. Consumers read it through a reader
// obtained from GetReader or GetBYOBReader; the producer drives it through
// the Controller handed to its UnderlyingSource callbacks.
type Stream struct {
	c *Controller
}

// New creates a byte stream over src and runs its start algorithm. New
// fails only for invalid options; a failing start algorithm leaves the
// stream errored.
func New(src UnderlyingSource, opts ...Option) (*Stream, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.autoAllocate != nil && *o.autoAllocate <= 0 {
		return nil, types.Errorf(types.ErrType, "autoAllocateChunkSize must be positive, got %d", *o.autoAllocate)
	}
	if o.highWaterMark < 0 {
		return nil, types.Errorf(types.ErrRange, "highWaterMark must be non-negative, got %d", o.highWaterMark)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.metrics == nil {
		o.metrics = nopMetrics{}
	}

	s := &Stream{c: newController(src, o)}
	o.metrics.StreamOpened()
	s.c.logger.Debug("stream created",
		zap.Intp("auto_allocate_chunk_size", o.autoAllocate),
		zap.Int("high_water_mark", o.highWaterMark),
	)
	s.c.start()
	return s, nil
}

// ID returns the stream identifier.
func (s *Stream) ID() string { return s.c.id }

// State returns the current lifecycle state.
func (s *Stream) State() State {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.c.state
}

// Err returns the error the stream failed with, if any.
func (s *Stream) Err() error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.c.storedErr
}

// Locked reports whether a reader holds the stream.
func (s *Stream) Locked() bool {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.c.reader != nil
}

// Cancel cancels an unlocked stream. Use the reader's Cancel while locked.
func (s *Stream) Cancel(ctx context.Context, reason error) error {
	if s.Locked() {
		return types.NewError(types.ErrType, "cannot cancel a locked stream").WithStreamID(s.c.id)
	}
	return s.c.cancelStream(ctx, reason)
}

// Stats returns a snapshot of the stream's counters.
func (s *Stream) Stats() StreamStats {
	return s.c.snapshot()
}

// GetReader locks the stream to a new default reader.
func (s *Stream) GetReader() (*DefaultReader, error) {
	r := &DefaultReader{}
	r.readerBase = readerBase{c: s.c, self: r}
	if err := s.c.acquire(r); err != nil {
		return nil, err
	}
	s.c.logger.Debug("reader acquired", zap.String("mode", "default"))
	return r, nil
}

// GetBYOBReader locks the stream to a new BYOB reader.
func (s *Stream) GetBYOBReader() (*BYOBReader, error) {
	r := &BYOBReader{}
	r.readerBase = readerBase{c: s.c, self: r}
	if err := s.c.acquire(r); err != nil {
		return nil, err
	}
	s.c.logger.Debug("reader acquired", zap.String("mode", "byob"))
	return r, nil
}
