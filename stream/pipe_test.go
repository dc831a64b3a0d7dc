package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/BaSui01/bytestream/config"
	"github.com/BaSui01/bytestream/testutil/fixtures"
	"github.com/BaSui01/bytestream/testutil/mocks"
	"github.com/BaSui01/bytestream/types"
)

func TestPipeTo(t *testing.T) {
	payload := fixtures.Payload(8000)
	s, err := New(FromChunks(fixtures.Split(payload, 100, 4900)...))
	require.NoError(t, err)

	sink := mocks.NewMockSink()
	require.NoError(t, s.PipeTo(context.Background(), sink, PipeOptions{ChunkSize: 1024}))

	assert.Equal(t, payload, sink.Bytes())
	assert.True(t, sink.Closed())
	assert.Nil(t, sink.AbortReason())
	assert.False(t, s.Locked(), "pipe releases its reader")
	assert.Equal(t, StateClosed, s.State())
}

func TestPipeTo_PreventClose(t *testing.T) {
	s, err := New(FromChunks([]byte("abc")))
	require.NoError(t, err)

	sink := mocks.NewMockSink()
	require.NoError(t, s.PipeTo(context.Background(), sink, PipeOptions{PreventClose: true}))
	assert.Equal(t, "abc", sink.String())
	assert.False(t, sink.Closed())
}

func TestPipeTo_SourceErrorAbortsSink(t *testing.T) {
	boom := errors.New("source broke")
	calls := 0
	s, err := New(UnderlyingSource{
		Pull: func(ctx context.Context, c *Controller) error {
			calls++
			if calls > 2 {
				return boom
			}
			return c.Enqueue([]byte("part"))
		},
	})
	require.NoError(t, err)

	sink := mocks.NewMockSink()
	err = s.PipeTo(context.Background(), sink, PipeOptions{})
	assert.Equal(t, boom, err)
	assert.Equal(t, boom, sink.AbortReason())
	assert.Equal(t, "partpart", sink.String())
	assert.False(t, sink.Closed())
}

func TestPipeTo_PreventAbort(t *testing.T) {
	boom := errors.New("source broke")
	s, err := New(UnderlyingSource{
		Pull: func(ctx context.Context, c *Controller) error { return boom },
	})
	require.NoError(t, err)

	sink := mocks.NewMockSink()
	assert.Equal(t, boom, s.PipeTo(context.Background(), sink, PipeOptions{PreventAbort: true}))
	assert.Nil(t, sink.AbortReason())
}

func TestPipeTo_SinkErrorCancelsSource(t *testing.T) {
	rec := &cancelRecorder{}
	src := rec.source()
	src.Pull = func(ctx context.Context, c *Controller) error { return c.Enqueue([]byte("data")) }
	s, err := New(src)
	require.NoError(t, err)

	full := errors.New("sink full")
	sink := mocks.NewMockSink().WithWriteError(2, full)
	err = s.PipeTo(context.Background(), sink, PipeOptions{})
	assert.Equal(t, full, err)
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, full, rec.reason)
	assert.Equal(t, StateClosed, s.State())
}

func TestPipeTo_PreventCancel(t *testing.T) {
	rec := &cancelRecorder{}
	src := rec.source()
	src.Pull = func(ctx context.Context, c *Controller) error { return c.Enqueue([]byte("data")) }
	s, err := New(src)
	require.NoError(t, err)

	full := errors.New("sink full")
	sink := mocks.NewMockSink().WithWriteError(1, full)
	assert.Equal(t, full, s.PipeTo(context.Background(), sink, PipeOptions{PreventCancel: true}))
	assert.Zero(t, rec.calls)
	assert.Equal(t, StateReadable, s.State())
	assert.False(t, s.Locked())
}

func TestPipeTo_ContextCanceled(t *testing.T) {
	rec := &cancelRecorder{}
	s, err := New(rec.source())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	sink := mocks.NewMockSink()
	err = s.PipeTo(ctx, sink, PipeOptions{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, sink.AbortReason(), context.DeadlineExceeded)
	assert.Equal(t, 1, rec.calls)
}

func TestPipeTo_BlockedReaderSourceHonorsContext(t *testing.T) {
	pr, pw := io.Pipe()
	s, err := New(FromReader(pr, 64))
	require.NoError(t, err)

	go func() {
		_, _ = pw.Write([]byte("first"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	sink := mocks.NewMockSink()
	done := make(chan error, 1)
	go func() { done <- s.PipeTo(ctx, sink, PipeOptions{}) }()

	select {
	case err = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipe kept waiting on a blocked reader")
	}
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "first", sink.String())
	assert.ErrorIs(t, sink.AbortReason(), context.DeadlineExceeded)
	assert.Equal(t, StateClosed, s.State())
}

func TestPipeTo_LockedStream(t *testing.T) {
	s, _ := manualStream(t)
	_, _ = s.GetReader()
	err := s.PipeTo(context.Background(), mocks.NewMockSink(), PipeOptions{})
	assert.True(t, types.IsCode(err, types.ErrType))
}

func TestPipeTo_RateLimited(t *testing.T) {
	payload := bytes.Repeat([]byte("r"), 3000)
	s, err := New(FromChunks(payload))
	require.NoError(t, err)

	// 单块 2500 字节大于突发 1000，按突发大小分步等待
	limiter := rate.NewLimiter(rate.Limit(100000), 1000)
	sink := mocks.NewMockSink()
	require.NoError(t, s.PipeTo(context.Background(), sink, PipeOptions{ChunkSize: 2500, Limiter: limiter}))
	assert.Equal(t, payload, sink.Bytes())
}

func TestWaitBytes(t *testing.T) {
	assert.NoError(t, waitBytes(context.Background(), nil, 1<<20))

	limiter := rate.NewLimiter(rate.Limit(1), 10)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, waitBytes(ctx, limiter, 10))
	assert.Error(t, waitBytes(ctx, limiter, 10), "bucket drained and refills too slowly")
}

func TestPipeOptionsFromConfig(t *testing.T) {
	opts := PipeOptionsFromConfig(config.PipeConfig{ChunkSize: 512, PreventClose: true})
	assert.Equal(t, 512, opts.ChunkSize)
	assert.True(t, opts.PreventClose)
	assert.Nil(t, opts.Limiter)

	opts = PipeOptionsFromConfig(config.PipeConfig{BytesPerSecond: 4096})
	require.NotNil(t, opts.Limiter)
	assert.Equal(t, rate.Limit(4096), opts.Limiter.Limit())
	assert.Equal(t, 4096, opts.Limiter.Burst())

	opts = PipeOptionsFromConfig(config.PipeConfig{BytesPerSecond: 4096, Burst: 100})
	assert.Equal(t, 100, opts.Limiter.Burst())
}
