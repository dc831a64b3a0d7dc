// Package redisstream carries byte streams over Redis Streams. A Sink
// appends every chunk as a stream entry and finishes with an end marker; a
// Source tails the entries with blocking reads.
package redisstream

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/bytestream/connector"
	"github.com/BaSui01/bytestream/internal/cache"
	"github.com/BaSui01/bytestream/stream"
	"github.com/BaSui01/bytestream/types"
)

// DefaultBatchSize is the number of entries fetched per XREAD.
const DefaultBatchSize = 64

// Options configures a Source.
type Options struct {
	// StartID is the entry the source reads after. Empty reads from the
	// beginning of the log.
	StartID   string
	BatchSize int64
	// DeleteOnCancel removes the log when the consumer cancels.
	DeleteOnCancel bool
	Logger         *zap.Logger
}

// Source tails the log of streamID.
func Source(log *cache.Manager, streamID string, opts Options) stream.UnderlyingSource {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	lastID := opts.StartID

	return connector.NewFeed(connector.FeedConfig{
		Logger: opts.Logger,
		Fetch: func(ctx context.Context) (connector.Batch, error) {
			entries, err := log.Read(ctx, streamID, lastID, opts.BatchSize)
			if err != nil {
				return connector.Batch{}, types.NewError(types.ErrConnector, "redis read failed").
					WithCause(err).WithRetryable(true)
			}
			var b connector.Batch
			for _, e := range entries {
				lastID = e.ID
				if e.EOF {
					b.EOF = true
					if e.Err != "" {
						b.Err = types.NewError(types.ErrConnector, e.Err)
					}
					break
				}
				b.Chunks = append(b.Chunks, e.Data)
			}
			return b, nil
		},
		Cancel: func(ctx context.Context, reason error) error {
			if !opts.DeleteOnCancel {
				return nil
			}
			return log.Delete(ctx, streamID)
		},
	})
}

// Sink appends to the log of streamID.
func Sink(log *cache.Manager, streamID string) stream.Sink {
	return &sink{log: log, streamID: streamID}
}

type sink struct {
	log      *cache.Manager
	streamID string
}

func (s *sink) Write(ctx context.Context, p []byte) error {
	// p is reused by the pipe after Write returns; XADD copies it onto the wire.
	if _, err := s.log.Append(ctx, s.streamID, p); err != nil {
		return types.NewError(types.ErrConnector, "redis append failed").WithCause(err).WithStreamID(s.streamID)
	}
	return nil
}

func (s *sink) Close(ctx context.Context) error {
	return s.log.Finish(ctx, s.streamID, "")
}

func (s *sink) Abort(ctx context.Context, reason error) error {
	msg := "aborted"
	if reason != nil {
		msg = fmt.Sprintf("aborted: %v", reason)
	}
	return s.log.Finish(ctx, s.streamID, msg)
}
