// Package natsstream carries byte streams over NATS JetStream. A Sink
// publishes every chunk to the stream's subject and finishes with an
// end-marker message; a Source replays the subject through an ordered
// consumer.
package natsstream

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/bytestream/connector"
	"github.com/BaSui01/bytestream/internal/natsclient"
	"github.com/BaSui01/bytestream/stream"
	"github.com/BaSui01/bytestream/types"
)

// DefaultBatchSize is the number of messages fetched per pull.
const DefaultBatchSize = 64

// Options configures a Source.
type Options struct {
	// AfterSeq is the JetStream sequence the source reads after. Zero
	// reads from the beginning of the subject.
	AfterSeq  uint64
	BatchSize int
	// DeleteOnCancel purges the subject when the consumer cancels.
	DeleteOnCancel bool
	Logger         *zap.Logger
}

// Source replays the subject of streamID.
func Source(client *natsclient.Client, streamID string, opts Options) stream.UnderlyingSource {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	var reader *natsclient.Reader

	return connector.NewFeed(connector.FeedConfig{
		Logger: opts.Logger,
		Fetch: func(ctx context.Context) (connector.Batch, error) {
			if reader == nil {
				r, err := client.Reader(ctx, streamID, opts.AfterSeq)
				if err != nil {
					return connector.Batch{}, types.NewError(types.ErrConnector, "nats consumer failed").
						WithCause(err).WithStreamID(streamID)
				}
				reader = r
			}
			entries, err := reader.Read(ctx, opts.BatchSize)
			if err != nil {
				return connector.Batch{}, types.NewError(types.ErrConnector, "nats read failed").
					WithCause(err).WithRetryable(true)
			}
			var b connector.Batch
			for _, e := range entries {
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
			return client.Delete(ctx, streamID)
		},
	})
}

// Sink publishes to the subject of streamID.
func Sink(client *natsclient.Client, streamID string) stream.Sink {
	return &sink{client: client, streamID: streamID}
}

type sink struct {
	client   *natsclient.Client
	streamID string
}

func (s *sink) Write(ctx context.Context, p []byte) error {
	// p is reused by the pipe after Write returns; the publish waits for
	// the server ack, so the payload is on the wire by then.
	if _, err := s.client.Append(ctx, s.streamID, p); err != nil {
		return types.NewError(types.ErrConnector, "nats publish failed").WithCause(err).WithStreamID(s.streamID)
	}
	return nil
}

func (s *sink) Close(ctx context.Context) error {
	return s.client.Finish(ctx, s.streamID, "")
}

func (s *sink) Abort(ctx context.Context, reason error) error {
	msg := "aborted"
	if reason != nil {
		msg = fmt.Sprintf("aborted: %v", reason)
	}
	return s.client.Finish(ctx, s.streamID, msg)
}
