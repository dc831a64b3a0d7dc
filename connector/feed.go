package connector

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/bytestream/internal/ctxkeys"
	"github.com/BaSui01/bytestream/stream"
)

// Batch is one fetch result. A batch with no chunks and EOF unset means
// nothing was available yet; the feed fetches again.
type Batch struct {
	Chunks [][]byte
	// EOF ends the stream after Chunks are delivered. Err, when set, errors
	// it instead of closing it.
	EOF bool
	Err error
}

// FetchFunc returns the next batch. It may block; ctx is canceled when the
// stream closes, errors or is canceled. A returned error errors the stream.
type FetchFunc func(ctx context.Context) (Batch, error)

// FeedConfig configures NewFeed.
type FeedConfig struct {
	Fetch FetchFunc
	// Cancel is forwarded from stream cancellation.
	Cancel func(ctx context.Context, reason error) error
	Logger *zap.Logger
}

// NewFeed returns a source whose fetches run on a background goroutine.
// Pull only records demand, so a read never blocks on a network round
// trip. At most one fetch runs at a time and batches are enqueued in the
// order they were fetched.
func NewFeed(cfg FeedConfig) stream.UnderlyingSource {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	demand := make(chan struct{}, 1)

	return stream.UnderlyingSource{
		Start: func(ctx context.Context, c *stream.Controller) error {
			id, _ := ctxkeys.StreamID(ctx)
			go runFeed(ctx, c, cfg.Fetch, demand, logger.With(zap.String("stream_id", id)))
			return nil
		},
		Pull: func(ctx context.Context, c *stream.Controller) error {
			select {
			case demand <- struct{}{}:
			default:
			}
			return nil
		},
		Cancel: cfg.Cancel,
	}
}

func runFeed(ctx context.Context, c *stream.Controller, fetch FetchFunc, demand <-chan struct{}, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-demand:
		}

		for {
			batch, err := fetch(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Debug("fetch failed", zap.Error(err))
					_ = c.Error(err)
				}
				return
			}
			open, n := deliver(c, batch)
			if !open {
				return
			}
			if n > 0 {
				break
			}
		}
	}
}

// deliver enqueues batch. It reports whether the stream is still open and
// how many bytes were enqueued.
func deliver(c *stream.Controller, batch Batch) (open bool, n int) {
	for _, chunk := range batch.Chunks {
		if len(chunk) == 0 {
			continue
		}
		if err := c.Enqueue(chunk); err != nil {
			return false, n
		}
		n += len(chunk)
	}
	if !batch.EOF {
		return true, n
	}
	if batch.Err != nil {
		_ = c.Error(batch.Err)
	} else {
		_ = c.Close()
	}
	return false, n
}
