// Package pool provides buffer pooling and bounded worker pools for stream
// pumping.
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// Pool is a generic object pool.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(*T)

	// Metrics
	gets   atomic.Int64
	puts   atomic.Int64
	news   atomic.Int64
	resets atomic.Int64
}

// NewPool creates a new object pool.
func NewPool[T any](newFunc func() T, resetFunc func(*T)) *Pool[T] {
	p := &Pool[T]{reset: resetFunc}
	p.pool.New = func() any {
		p.news.Add(1)
		return newFunc()
	}
	return p
}

// Get retrieves an object from the pool.
func (p *Pool[T]) Get() T {
	p.gets.Add(1)
	return p.pool.Get().(T)
}

// Put returns an object to the pool.
func (p *Pool[T]) Put(obj T) {
	p.puts.Add(1)
	if p.reset != nil {
		p.resets.Add(1)
		p.reset(&obj)
	}
	p.pool.Put(obj)
}

// Stats returns pool statistics.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Gets:   p.gets.Load(),
		Puts:   p.puts.Load(),
		News:   p.news.Load(),
		Resets: p.resets.Load(),
	}
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Gets   int64 `json:"gets"`
	Puts   int64 `json:"puts"`
	News   int64 `json:"news"`
	Resets int64 `json:"resets"`
}

// HitRate returns the cache hit rate.
func (s PoolStats) HitRate() float64 {
	if s.Gets == 0 {
		return 0
	}
	return float64(s.Gets-s.News) / float64(s.Gets)
}

// ByteBufferPool provides pooled byte buffers for draining streams.
var ByteBufferPool = NewPool(
	func() *bytes.Buffer {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
	func(b **bytes.Buffer) {
		(*b).Reset()
	},
)

// =============================================================================
// Chunk buffers
// =============================================================================

// BufferPool hands out fixed-size byte slices. Slices are stored as
// pointers so Put does not allocate.
type BufferPool struct {
	size int
	pool *Pool[*[]byte]
}

// NewBufferPool creates a pool of size-byte chunk buffers.
func NewBufferPool(size int) *BufferPool {
	if size <= 0 {
		size = 4096
	}
	return &BufferPool{
		size: size,
		pool: NewPool(func() *[]byte {
			b := make([]byte, size)
			return &b
		}, nil),
	}
}

// Size returns the length of every buffer handed out by the pool.
func (p *BufferPool) Size() int { return p.size }

// Get returns a buffer of exactly Size bytes. Its content is unspecified.
func (p *BufferPool) Get() []byte {
	return *p.pool.Get()
}

// Put returns buf to the pool. Buffers whose capacity no longer matches the
// pool size are dropped. The caller must not touch buf afterwards.
func (p *BufferPool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	buf = buf[:p.size]
	p.pool.Put(&buf)
}

// Stats returns statistics of the underlying pool.
func (p *BufferPool) Stats() PoolStats {
	return p.pool.Stats()
}

var chunkPools sync.Map // map[int]*BufferPool

// ForSize returns the process-wide BufferPool for size-byte chunks.
func ForSize(size int) *BufferPool {
	if p, ok := chunkPools.Load(size); ok {
		return p.(*BufferPool)
	}
	p, _ := chunkPools.LoadOrStore(size, NewBufferPool(size))
	return p.(*BufferPool)
}
