// Package sqlchunk persists byte streams as ordered rows and replays them.
package sqlchunk

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/bytestream/connector"
	"github.com/BaSui01/bytestream/internal/database"
	"github.com/BaSui01/bytestream/stream"
	"github.com/BaSui01/bytestream/types"
)

const (
	// DefaultBatchSize is the number of rows fetched per query.
	DefaultBatchSize = 128
	// DefaultPollInterval is the wait between queries that return no rows.
	DefaultPollInterval = 50 * time.Millisecond
)

// Options configures a Source.
type Options struct {
	// AfterSeq skips rows up to and including this sequence number.
	AfterSeq     int64
	BatchSize    int
	PollInterval time.Duration
	Logger       *zap.Logger
}

// Source replays the rows of streamID in sequence order, polling for rows
// a concurrent writer has not committed yet.
func Source(store *database.ChunkStore, streamID string, opts Options) stream.UnderlyingSource {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	last := opts.AfterSeq
	var idle *time.Timer

	return connector.NewFeed(connector.FeedConfig{
		Logger: opts.Logger,
		Fetch: func(ctx context.Context) (connector.Batch, error) {
			rows, err := store.ReadAfter(ctx, streamID, last, opts.BatchSize)
			if err != nil {
				return connector.Batch{}, types.NewError(types.ErrConnector, "chunk query failed").
					WithCause(err).WithRetryable(true)
			}
			if len(rows) == 0 {
				if idle == nil {
					idle = time.NewTimer(opts.PollInterval)
				} else {
					idle.Reset(opts.PollInterval)
				}
				select {
				case <-ctx.Done():
					idle.Stop()
					return connector.Batch{}, ctx.Err()
				case <-idle.C:
				}
				return connector.Batch{}, nil
			}

			var b connector.Batch
			for _, row := range rows {
				last = row.Seq
				if row.EOF {
					b.EOF = true
					if row.ErrMsg != "" {
						b.Err = types.NewError(types.ErrConnector, row.ErrMsg)
					}
					break
				}
				b.Chunks = append(b.Chunks, row.Data)
			}
			return b, nil
		},
	})
}

// Sink appends each written chunk as a row of streamID.
func Sink(store *database.ChunkStore, streamID string) stream.Sink {
	return &sink{store: store, streamID: streamID}
}

type sink struct {
	store    *database.ChunkStore
	streamID string
}

func (s *sink) Write(ctx context.Context, p []byte) error {
	// p is reused by the pipe once Write returns.
	data := make([]byte, len(p))
	copy(data, p)
	if _, err := s.store.Append(ctx, s.streamID, data); err != nil {
		return types.NewError(types.ErrConnector, "chunk append failed").WithCause(err).WithStreamID(s.streamID)
	}
	return nil
}

func (s *sink) Close(ctx context.Context) error {
	return s.store.Finish(ctx, s.streamID, "")
}

func (s *sink) Abort(ctx context.Context, reason error) error {
	msg := "aborted"
	if reason != nil {
		msg = fmt.Sprintf("aborted: %v", reason)
	}
	return s.store.Finish(ctx, s.streamID, msg)
}
