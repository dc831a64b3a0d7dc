package stream

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/bytestream/types"
)

func TestBYOBRequest_Respond(t *testing.T) {
	s, c := manualStream(t)
	assert.Nil(t, c.BYOBRequest(), "no request without a pending BYOB read")

	r, _ := s.GetBYOBReader()
	view := NewView(KindUint8, 8)
	pr := r.ReadAsync(view)

	req := c.BYOBRequest()
	require.NotNil(t, req)
	assert.Same(t, req, c.BYOBRequest(), "same handle until used")

	rv := req.View()
	assert.Equal(t, 8, rv.ByteLength)
	assert.Same(t, view.Buffer, rv.Buffer)

	copy(rv.Bytes(), "xyz")
	require.NoError(t, req.Respond(3))

	res, err := mustSettle(t, pr)
	require.NoError(t, err)
	assert.Equal(t, "xyz", string(res.Bytes()))
	assert.Equal(t, int64(1), s.Stats().Responds)

	assert.True(t, types.IsCode(req.Respond(1), types.ErrProtocol))
	assert.True(t, req.View().IsZero())
	assert.Nil(t, c.BYOBRequest())
}

func TestBYOBRequest_ViewTracksFilledPrefix(t *testing.T) {
	s, c := manualStream(t)
	r, _ := s.GetBYOBReader()
	pr := r.ReadAsync(NewView(KindUint8, 6), WithMinimum(6))

	req := c.BYOBRequest()
	copy(req.View().Bytes(), "ab")
	require.NoError(t, req.Respond(2))
	assert.False(t, pr.Settled())

	next := c.BYOBRequest()
	require.NotNil(t, next)
	assert.NotSame(t, req, next)
	assert.Equal(t, 2, next.View().ByteOffset)
	assert.Equal(t, 4, next.View().ByteLength)

	copy(next.View().Bytes(), "cdef")
	require.NoError(t, next.Respond(4))
	res, err := mustSettle(t, pr)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(res.Bytes()))
}

func TestBYOBRequest_RespondOutOfRange(t *testing.T) {
	s, c := manualStream(t)
	r, _ := s.GetBYOBReader()
	pr := r.ReadAsync(NewView(KindUint8, 4))
	req := c.BYOBRequest()

	assert.True(t, types.IsCode(req.Respond(5), types.ErrRange))
	assert.True(t, types.IsCode(req.Respond(-1), types.ErrRange))
	assert.False(t, pr.Settled())
	assert.Equal(t, StateReadable, s.State())

	// 越界失败不消耗请求
	require.NoError(t, req.Respond(4))
	_, err := mustSettle(t, pr)
	require.NoError(t, err)
}

func TestBYOBRequest_RespondWithNewView(t *testing.T) {
	s, c := manualStream(t)
	r, _ := s.GetBYOBReader()
	view := NewView(KindUint8, 8)
	pr := r.ReadAsync(view)
	req := c.BYOBRequest()

	other := NewView(KindUint8, 8)
	assert.True(t, types.IsCode(req.RespondWithNewView(other), types.ErrRange), "foreign buffer")

	shifted, err := ViewOf(KindUint8, view.Buffer, 1, 2)
	require.NoError(t, err)
	assert.True(t, types.IsCode(req.RespondWithNewView(shifted), types.ErrRange), "wrong offset")

	tooLong := View{Buffer: view.Buffer, ByteLength: 9, Kind: KindUint8}
	assert.True(t, types.IsCode(req.RespondWithNewView(tooLong), types.ErrRange))

	assert.True(t, types.IsCode(req.RespondWithNewView(View{}), types.ErrType))

	written, err := ViewOf(KindUint8, view.Buffer, 0, 5)
	require.NoError(t, err)
	copy(written.Bytes(), "hello")
	require.NoError(t, req.RespondWithNewView(written))

	res, err := mustSettle(t, pr)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(res.Bytes()))
}

func TestBYOBRequest_InvalidatedByEnqueueAndClose(t *testing.T) {
	s, c := manualStream(t)
	r, _ := s.GetBYOBReader()
	r.ReadAsync(NewView(KindUint8, 4))
	r.ReadAsync(NewView(KindUint8, 4))

	req := c.BYOBRequest()
	require.NoError(t, c.Enqueue([]byte("ab")))
	assert.True(t, types.IsCode(req.Respond(1), types.ErrProtocol))

	req = c.BYOBRequest()
	require.NotNil(t, req)
	require.NoError(t, c.Close())
	assert.True(t, types.IsCode(req.Respond(1), types.ErrProtocol))
	assert.Nil(t, c.BYOBRequest())
}

func TestBYOBRequest_AfterError(t *testing.T) {
	s, c := manualStream(t)
	r, _ := s.GetBYOBReader()
	r.ReadAsync(NewView(KindUint8, 4))
	req := c.BYOBRequest()

	reason := errors.New("gone")
	require.NoError(t, c.Error(reason))
	err := req.Respond(1)
	assert.True(t, types.IsCode(err, types.ErrState))
	assert.ErrorIs(t, err, reason)
}

func TestBYOBRequest_DetachedBuffer(t *testing.T) {
	s, c := manualStream(t)
	r, _ := s.GetBYOBReader()
	view := NewView(KindUint8, 4)
	pr := r.ReadAsync(view)
	req := c.BYOBRequest()

	view.Buffer.Detach()
	assert.True(t, types.IsCode(req.Respond(0), types.ErrType))
	assert.False(t, pr.Settled())
}

func TestBYOBRequest_TypedViewRespondsInBytes(t *testing.T) {
	s, c := manualStream(t)
	r, _ := s.GetBYOBReader()
	pr := r.ReadAsync(NewView(KindUint32, 2))
	req := c.BYOBRequest()
	assert.Equal(t, KindUint8, req.View().Kind)
	assert.Equal(t, 8, req.View().ByteLength)

	copy(req.View().Bytes(), []byte{7, 0, 0, 0, 9})
	require.NoError(t, req.Respond(5))

	res, err := mustSettle(t, pr)
	require.NoError(t, err)
	assert.Equal(t, KindUint32, res.Value.Kind)
	assert.Equal(t, 1, res.Value.Len())
	assert.Equal(t, uint32(7), res.Value.Uint32At(0))
	assert.Equal(t, 1, s.Stats().QueuedBytes, "trailing byte requeued")
}
