package connector

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/bytestream/stream"
	"github.com/BaSui01/bytestream/types"
)

func batchesFetch(batches ...Batch) FetchFunc {
	var i int
	return func(ctx context.Context) (Batch, error) {
		if i == len(batches) {
			<-ctx.Done()
			return Batch{}, ctx.Err()
		}
		b := batches[i]
		i++
		return b, nil
	}
}

func TestFeed_DeliversInOrder(t *testing.T) {
	src := NewFeed(FeedConfig{Fetch: batchesFetch(
		Batch{Chunks: [][]byte{[]byte("he"), []byte("ll")}},
		Batch{},
		Batch{Chunks: [][]byte{{}}},
		Batch{Chunks: [][]byte{[]byte("o")}, EOF: true},
	)})
	s, err := stream.New(src)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := stream.ReadAll(ctx, s, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	assert.Equal(t, stream.StateClosed, s.State())
}

func TestFeed_BYOBRead(t *testing.T) {
	src := NewFeed(FeedConfig{Fetch: batchesFetch(
		Batch{Chunks: [][]byte{[]byte("abcdef")}, EOF: true},
	)})
	s, err := stream.New(src)
	require.NoError(t, err)
	r, err := s.GetBYOBReader()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := r.Read(ctx, stream.NewView(stream.KindUint16, 2), stream.WithMinimum(2))
	require.NoError(t, err)
	assert.False(t, res.Done)
	assert.Equal(t, "abcd", string(res.Bytes()))
	assert.Equal(t, stream.KindUint16, res.Value.Kind)
}

func TestFeed_EOFWithError(t *testing.T) {
	reason := types.NewError(types.ErrConnector, "producer failed")
	src := NewFeed(FeedConfig{Fetch: batchesFetch(
		Batch{Chunks: [][]byte{[]byte("x")}, EOF: true, Err: reason},
	)})
	s, err := stream.New(src)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = stream.ReadAll(ctx, s, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, reason))
	assert.Equal(t, stream.StateErrored, s.State())
}

func TestFeed_FetchErrorErrorsStream(t *testing.T) {
	boom := errors.New("boom")
	src := NewFeed(FeedConfig{Fetch: func(ctx context.Context) (Batch, error) {
		return Batch{}, boom
	}})
	s, err := stream.New(src)
	require.NoError(t, err)
	r, err := s.GetReader()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = r.Read(ctx)
	assert.ErrorIs(t, err, boom)
}

func TestFeed_CancelStopsFetching(t *testing.T) {
	var fetches atomic.Int32
	var canceled atomic.Bool
	started := make(chan struct{})
	src := NewFeed(FeedConfig{
		Fetch: func(ctx context.Context) (Batch, error) {
			if fetches.Add(1) == 1 {
				close(started)
			}
			<-ctx.Done()
			return Batch{}, ctx.Err()
		},
		Cancel: func(ctx context.Context, reason error) error {
			canceled.Store(true)
			return nil
		},
	})
	s, err := stream.New(src)
	require.NoError(t, err)
	r, err := s.GetReader()
	require.NoError(t, err)

	pr := r.ReadAsync()
	<-started
	require.NoError(t, r.Cancel(context.Background(), nil))

	res, err := pr.Result()
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.True(t, canceled.Load())
	assert.Equal(t, int32(1), fetches.Load())
}
