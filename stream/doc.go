// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package stream implements a readable byte stream with bring-your-own-buffer
(BYOB) reads.

# Overview

A Stream is created from an UnderlyingSource. The source receives a
Controller in its Start and Pull callbacks and produces bytes through it,
either by enqueuing chunks or by writing straight into the destination of
the oldest pending BYOB read (see Controller.BYOBRequest).

Consumers lock the stream to a single reader at a time:

  - DefaultReader.Read resolves with whatever bytes the stream can
    deliver, as a Uint8 view.
  - BYOBReader.Read fills a caller-supplied View. Typed views (Uint16,
    Float64, ...) resolve with whole elements only; a trailing partial
    element is carried over to the next read. WithMinimum raises the
    number of elements a read waits for.

Reads settle in the order they were issued. Both readers expose the
asynchronous form (ReadAsync returning a PendingRead) and a blocking form
bounded by a context.

# Pull policy

Pull is called only after Start has returned, never while a previous Pull
is outstanding, and only when a read is waiting or the queue is below the
high-water mark (WithHighWaterMark, default 0). A Pull that returns an
error or panics errors the stream. With WithAutoAllocateChunkSize every
default read gets a fresh buffer, so the source can always answer through
a BYOB request.

# Buffers

A View references a Buffer. A BYOB read resolves with a view over the
caller's own Buffer, truncated to the bytes filled. Detaching a Buffer
while a read holds it makes the producer's next Respond fail with a type
error.

# Termination

Controller.Close lets queued bytes drain before reads report done; the
stream stays readable, and a cancel can still discard them, until then.
Controller.Error discards them and rejects every pending read. Cancel
(on the stream or its reader) discards queued bytes, resolves pending
reads as done and runs the source's Cancel callback.

Errors returned by this package carry a types.ErrorCode: ErrState for
operations on a closed or errored stream, ErrRange for sizes and offsets
out of bounds, ErrType for invalid arguments and lock violations, and
ErrProtocol for a BYOB request that has already been used.

# Plumbing

PipeTo copies a stream into a Sink with optional rate limiting and
close/abort/cancel propagation. FromReader, FromChunks, NewReadCloser,
WriterSink and ReadAll adapt the io package.
*/
package stream
