// Package bytestream provides a top-level convenience entry point for
// creating byte streams with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/bytestream"
//
//	s, err := bytestream.New(bytestream.FromReader(f, 32<<10))
//	data, err := bytestream.ReadAll(ctx, s, 1<<20)
//
// This is a thin wrapper around [stream.New]; both produce identical results.
// Use this package when you prefer the shorter import path.
package bytestream

import (
	"github.com/BaSui01/bytestream/stream"
)

// Stream is a readable byte stream.
type Stream = stream.Stream

// Source is the producer half of a stream.
type Source = stream.UnderlyingSource

// Option configures the stream created by [New].
type Option = stream.Option

// New creates a [stream.Stream] from src.
func New(src Source, opts ...Option) (*Stream, error) {
	return stream.New(src, opts...)
}

// Re-export the common helpers so callers rarely need to import stream/.

// FromReader adapts an io.Reader into a source.
var FromReader = stream.FromReader

// FromChunks produces the given chunks and closes.
var FromChunks = stream.FromChunks

// ReadAll drains a stream.
var ReadAll = stream.ReadAll

// NewReadCloser exposes a stream as an io.ReadCloser.
var NewReadCloser = stream.NewReadCloser

// WriterSink adapts an io.Writer into a pipe destination.
var WriterSink = stream.WriterSink

// WithAutoAllocateChunkSize enables auto-allocation for default reads.
var WithAutoAllocateChunkSize = stream.WithAutoAllocateChunkSize

// WithHighWaterMark sets how many bytes the stream buffers ahead of reads.
var WithHighWaterMark = stream.WithHighWaterMark

// WithLogger sets a custom zap logger.
var WithLogger = stream.WithLogger
