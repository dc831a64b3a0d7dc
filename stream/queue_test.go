package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestByteQueue(t *testing.T) {
	var q byteQueue
	q.push([]byte("abc"))
	q.push(nil)
	q.push([]byte("defg"))
	assert.Equal(t, 7, q.len())

	dst := make([]byte, 5)
	assert.Equal(t, 5, q.readInto(dst))
	assert.Equal(t, "abcde", string(dst))
	assert.Equal(t, 2, q.len())

	// 头部条目已部分消费
	q.pushFront([]byte("XY"))
	assert.Equal(t, 4, q.len())
	assert.Equal(t, "XY", string(q.shift()))
	assert.Equal(t, "fg", string(q.shift()))
	assert.Nil(t, q.shift())
	assert.Zero(t, q.len())
}

func TestByteQueue_ReadIntoSpansEntries(t *testing.T) {
	var q byteQueue
	for _, s := range []string{"a", "bc", "def"} {
		q.push([]byte(s))
	}

	dst := make([]byte, 10)
	n := q.readInto(dst)
	assert.Equal(t, 6, n)
	assert.Equal(t, "abcdef", string(dst[:n]))
	assert.Empty(t, q.entries)
}

func TestByteQueue_Reset(t *testing.T) {
	var q byteQueue
	q.push([]byte("abc"))
	q.readInto(make([]byte, 1))
	q.reset()
	assert.Zero(t, q.len())
	assert.Zero(t, q.head)
	assert.Nil(t, q.shift())
}

func TestRequestQueue(t *testing.T) {
	var q requestQueue
	assert.Nil(t, q.front())

	a := &readRequest{mode: modeDefault}
	b := &readRequest{mode: modeBYOB}
	q.push(a)
	q.push(b)
	assert.Same(t, a, q.front())
	assert.Same(t, a, q.shift())
	assert.Equal(t, 1, q.len())

	drained := q.drain()
	assert.Equal(t, []*readRequest{b}, drained)
	assert.Zero(t, q.len())
	assert.Equal(t, "byob", b.mode.String())
	assert.Equal(t, "default", a.mode.String())
}
