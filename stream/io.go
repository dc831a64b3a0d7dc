package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/BaSui01/bytestream/internal/pool"
	"github.com/BaSui01/bytestream/types"
)

// ErrReaderClosed is the cancel reason used by the io.ReadCloser adapter.
var ErrReaderClosed = errors.New("stream: reader closed")

// maxEmptyReads bounds consecutive (0, nil) results from an io.Reader.
const maxEmptyReads = 100

// FromReader adapts r into an UnderlyingSource. Reads from r run on a
// goroutine of their own, one chunkSize-byte read per pull, so a blocked r
// never holds up a reader that gives up on its context. Each read is handed
// over through Enqueue; pending BYOB reads are filled from that copy. io.EOF
// closes the stream; canceling closes r when it is an io.Closer, which is
// how a read stuck in r is released.
func FromReader(r io.Reader, chunkSize int) UnderlyingSource {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	demand := make(chan struct{}, 1)
	return UnderlyingSource{
		Start: func(ctx context.Context, c *Controller) error {
			go pumpReader(ctx, c, r, chunkSize, demand)
			return nil
		},
		Pull: func(ctx context.Context, c *Controller) error {
			select {
			case demand <- struct{}{}:
			default:
			}
			return nil
		},
		Cancel: func(ctx context.Context, reason error) error {
			if closer, ok := r.(io.Closer); ok {
				return closer.Close()
			}
			return nil
		},
	}
}

// pumpReader serves pulls until r ends or the stream leaves the readable
// state, which cancels ctx.
func pumpReader(ctx context.Context, c *Controller, r io.Reader, chunkSize int, demand <-chan struct{}) {
	buf := make([]byte, chunkSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-demand:
		}
		if ctx.Err() != nil {
			return
		}

		n, err := readSome(r, buf)
		if n > 0 {
			if c.Enqueue(buf[:n]) != nil {
				return
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			_ = c.Close()
			return
		default:
			if ctx.Err() == nil {
				c.logger.Debug("reader source failed", zap.Error(err))
				_ = c.Error(err)
			}
			return
		}
	}
}

func readSome(r io.Reader, p []byte) (int, error) {
	for i := 0; i < maxEmptyReads; i++ {
		n, err := r.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
	}
	return 0, io.ErrNoProgress
}

// FromChunks is an UnderlyingSource that produces chunks in order and then
// closes. It writes into the BYOB request destination when one is exposed.
func FromChunks(chunks ...[]byte) UnderlyingSource {
	var (
		idx    int
		offset int
	)
	return UnderlyingSource{
		Pull: func(ctx context.Context, c *Controller) error {
			for idx < len(chunks) && offset == len(chunks[idx]) {
				idx, offset = idx+1, 0
			}
			if idx == len(chunks) {
				return c.Close()
			}
			rest := chunks[idx][offset:]
			if req := c.BYOBRequest(); req != nil {
				n := copy(req.View().Bytes(), rest)
				offset += n
				return req.Respond(n)
			}
			offset = len(chunks[idx])
			return c.Enqueue(rest)
		},
	}
}

// NewReadCloser locks s to a BYOB reader and exposes it as an
// io.ReadCloser. Each Read fills p directly. Close cancels the stream.
func NewReadCloser(ctx context.Context, s *Stream) (io.ReadCloser, error) {
	r, err := s.GetBYOBReader()
	if err != nil {
		return nil, err
	}
	return &readCloser{ctx: ctx, r: r}, nil
}

type readCloser struct {
	ctx    context.Context
	r      *BYOBReader
	done   bool
	closed bool
}

func (rc *readCloser) Read(p []byte) (int, error) {
	if rc.closed {
		return 0, ErrReaderClosed
	}
	if rc.done {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	res, err := rc.r.Read(rc.ctx, BytesView(p))
	if err != nil {
		return 0, err
	}
	if res.Done {
		rc.done = true
		return 0, io.EOF
	}
	return res.Value.ByteLength, nil
}

func (rc *readCloser) Close() error {
	if rc.closed {
		return nil
	}
	rc.closed = true
	err := rc.r.Cancel(context.WithoutCancel(rc.ctx), ErrReaderClosed)
	rc.r.ReleaseLock()
	return err
}

// WriterSink adapts w into a Sink. Close and Abort close w when it is an
// io.Closer; Abort prefers CloseWithError when w offers it.
func WriterSink(w io.Writer) Sink {
	return writerSink{w: w}
}

type writerSink struct {
	w io.Writer
}

func (s writerSink) Write(ctx context.Context, p []byte) error {
	_, err := s.w.Write(p)
	return err
}

func (s writerSink) Close(ctx context.Context) error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s writerSink) Abort(ctx context.Context, reason error) error {
	if c, ok := s.w.(interface{ CloseWithError(error) error }); ok {
		return c.CloseWithError(reason)
	}
	return s.Close(ctx)
}

// ReadAll drains s through a default reader. When limit is positive and the
// stream produces more than limit bytes, the stream is canceled and a range
// error returned.
func ReadAll(ctx context.Context, s *Stream, limit int) ([]byte, error) {
	r, err := s.GetReader()
	if err != nil {
		return nil, err
	}
	defer r.ReleaseLock()

	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)

	for {
		res, err := r.Read(ctx)
		if err != nil {
			return nil, err
		}
		if res.Done {
			break
		}
		if limit > 0 && buf.Len()+res.Value.ByteLength > limit {
			tooLarge := types.Errorf(types.ErrRange, "stream exceeds the %d byte limit", limit).WithStreamID(s.ID())
			if cancelErr := r.Cancel(ctx, tooLarge); cancelErr != nil {
				return nil, fmt.Errorf("%w (cancel: %v)", tooLarge, cancelErr)
			}
			return nil, tooLarge
		}
		buf.Write(res.Bytes())
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
