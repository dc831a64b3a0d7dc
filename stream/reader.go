package stream

import (
	"context"

	"go.uber.org/zap"
)

type readerBase struct {
	c    *Controller
	self any
}

// Closed is closed once the stream closes, errors or is canceled.
func (b *readerBase) Closed() <-chan struct{} { return b.c.closed }

// Cancel cancels the stream with reason. Pending reads resolve as done and
// their buffers are never written by the stream again.
func (b *readerBase) Cancel(ctx context.Context, reason error) error {
	if !b.c.owns(b.self) {
		return b.c.releasedError()
	}
	return b.c.cancelStream(ctx, reason)
}

// ReleaseLock unlocks the stream. Reads issued through this reader that are
// still pending stay queued on the stream and settle as usual. Releasing
// twice is a no-op.
func (b *readerBase) ReleaseLock() {
	if b.c.release(b.self) {
		b.c.logger.Debug("reader released")
	}
}

// wait waits for pr. If ctx ends first and this reader still holds the
// lock, the stream is canceled with ctx's error so no producer keeps
// writing into a destination nobody waits for. A reader that has released
// its lock leaves the stream to its new owner.
func (b *readerBase) wait(ctx context.Context, pr *PendingRead) (ReadResult, error) {
	select {
	case <-pr.Done():
		return pr.Result()
	case <-ctx.Done():
	}
	if pr.Settled() {
		return pr.Result()
	}
	if !b.c.owns(b.self) {
		return ReadResult{}, ctx.Err()
	}
	if err := b.c.cancelStream(context.WithoutCancel(ctx), ctx.Err()); err != nil {
		b.c.logger.Debug("cancel after abandoned read failed", zap.Error(err))
	}
	return ReadResult{}, ctx.Err()
}

// DefaultReader reads whatever chunks the stream produces.
type DefaultReader struct {
	readerBase
}

// ReadAsync issues a read and returns without waiting. The producer's pull
// algorithm may run on the calling goroutine before it returns.
func (r *DefaultReader) ReadAsync() *PendingRead {
	return r.c.readDefault(r)
}

// Read issues a read and waits for it.
func (r *DefaultReader) Read(ctx context.Context) (ReadResult, error) {
	return r.wait(ctx, r.ReadAsync())
}

// BYOBReader reads into caller-supplied views.
type BYOBReader struct {
	readerBase
}

type readOptions struct {
	minimum int
}

// ReadOption configures a BYOB read.
type ReadOption func(*readOptions)

// WithMinimum holds the read until n elements are filled, or the stream
// closes. The default is one element.
func WithMinimum(n int) ReadOption {
	return func(o *readOptions) { o.minimum = n }
}

// ReadAsync issues a read into view and returns without waiting. The view
// is validated before anything is queued: a missing, detached or empty
// view settles the read with a type error.
func (r *BYOBReader) ReadAsync(view View, opts ...ReadOption) *PendingRead {
	o := readOptions{minimum: 1}
	for _, opt := range opts {
		opt(&o)
	}
	return r.c.readBYOB(r, view, o.minimum)
}

// Read issues a read into view and waits for it. The resolved value aliases
// view's buffer and has the same element kind.
func (r *BYOBReader) Read(ctx context.Context, view View, opts ...ReadOption) (ReadResult, error) {
	return r.wait(ctx, r.ReadAsync(view, opts...))
}
