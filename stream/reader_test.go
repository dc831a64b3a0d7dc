package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/bytestream/testutil"
	"github.com/BaSui01/bytestream/types"
)

func TestReaderLocking(t *testing.T) {
	s, _ := manualStream(t)

	r, err := s.GetReader()
	require.NoError(t, err)
	assert.True(t, s.Locked())

	_, err = s.GetBYOBReader()
	assert.True(t, types.IsCode(err, types.ErrType))
	_, err = s.GetReader()
	assert.True(t, types.IsCode(err, types.ErrType))

	r.ReleaseLock()
	r.ReleaseLock()
	assert.False(t, s.Locked())

	_, err = mustSettle(t, r.ReadAsync())
	assert.True(t, types.IsCode(err, types.ErrType), "released reader cannot read")
	assert.True(t, types.IsCode(r.Cancel(context.Background(), nil), types.ErrType))

	b, err := s.GetBYOBReader()
	require.NoError(t, err)
	r.ReleaseLock()
	assert.True(t, s.Locked(), "stale reader cannot release the new lock")
	b.ReleaseLock()
}

func TestReleaseLock_PendingReadStillSettles(t *testing.T) {
	s, c := manualStream(t)
	r, _ := s.GetReader()
	pr := r.ReadAsync()
	r.ReleaseLock()

	require.NoError(t, c.Enqueue([]byte("late")))
	res, err := mustSettle(t, pr)
	require.NoError(t, err)
	assert.Equal(t, "late", string(res.Bytes()))
}

type cancelRecorder struct {
	reason error
	calls  int
	err    error
}

func (rec *cancelRecorder) source() UnderlyingSource {
	return UnderlyingSource{
		Cancel: func(ctx context.Context, reason error) error {
			rec.calls++
			rec.reason = reason
			return rec.err
		},
	}
}

func TestCancel_ResolvesPendingReadsDone(t *testing.T) {
	rec := &cancelRecorder{}
	s, err := New(rec.source())
	require.NoError(t, err)

	r, _ := s.GetBYOBReader()
	view := NewView(KindUint8, 4)
	pr := r.ReadAsync(view)

	reason := errors.New("not needed")
	require.NoError(t, r.Cancel(context.Background(), reason))

	res, err := mustSettle(t, pr)
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.True(t, res.Value.IsZero(), "destination abandoned")
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, reason, rec.reason)
	assert.Equal(t, StateClosed, s.State())

	// 重复取消不再调用源
	require.NoError(t, r.Cancel(context.Background(), reason))
	assert.Equal(t, 1, rec.calls)

	res, err = mustSettle(t, r.ReadAsync(NewView(KindUint8, 4)))
	require.NoError(t, err)
	assert.True(t, res.Done)
}

func TestCancel_DefaultReasonAndSourceError(t *testing.T) {
	rec := &cancelRecorder{err: errors.New("close failed")}
	s, err := New(rec.source())
	require.NoError(t, err)

	err = s.Cancel(context.Background(), nil)
	assert.Equal(t, rec.err, err, "cancel algorithm's error is returned")
	assert.Equal(t, ErrCanceled, rec.reason)
	assert.Equal(t, StateClosed, s.State())
}

func TestCancel_ErroredStreamReturnsStoredError(t *testing.T) {
	s, c := manualStream(t)
	reason := errors.New("broken")
	require.NoError(t, c.Error(reason))

	r, _ := s.GetReader()
	assert.Equal(t, reason, r.Cancel(context.Background(), nil))
}

func TestStreamCancel_Locked(t *testing.T) {
	s, _ := manualStream(t)
	_, _ = s.GetReader()
	assert.True(t, types.IsCode(s.Cancel(context.Background(), nil), types.ErrType))
}

func TestRead_ContextEndCancelsStream(t *testing.T) {
	rec := &cancelRecorder{}
	s, err := New(rec.source())
	require.NoError(t, err)

	r, _ := s.GetReader()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = r.Read(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, rec.reason, context.DeadlineExceeded)
}

func TestRead_ContextEndAfterReleaseLeavesStreamAlone(t *testing.T) {
	s, c := manualStream(t)
	r1, _ := s.GetReader()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := r1.Read(ctx)
		errCh <- err
	}()
	testutil.AssertEventuallyTrue(t, func() bool { return s.Stats().PendingReads == 1 }, time.Second)

	r1.ReleaseLock()
	r2, err := s.GetReader()
	require.NoError(t, err)

	cancel()
	err, ok := testutil.WaitForChannel[error](errCh, time.Second)
	require.True(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateReadable, s.State(), "new owner keeps the stream")

	// r1 留下的读请求仍排在前面，先拿到第一块
	require.NoError(t, c.Enqueue([]byte("a")))
	require.NoError(t, c.Enqueue([]byte("b")))
	res, err := r2.Read(testutil.TestContext(t))
	require.NoError(t, err)
	assert.Equal(t, "b", string(res.Bytes()))
}

func TestRead_Blocking(t *testing.T) {
	s, c := manualStream(t)
	r, _ := s.GetBYOBReader()

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = c.Enqueue([]byte("wake"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := r.Read(ctx, NewView(KindUint8, 16))
	require.NoError(t, err)
	assert.Equal(t, "wake", string(res.Bytes()))
}

func TestPendingRead_Wait(t *testing.T) {
	s, c := manualStream(t)
	r, _ := s.GetReader()
	pr := r.ReadAsync()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pr.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, pr.Settled(), "Wait leaves the read pending")

	require.NoError(t, c.Enqueue([]byte("ok")))
	res, err := pr.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", string(res.Bytes()))
}
