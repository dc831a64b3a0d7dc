package stream

import (
	"context"
)

// ReadResult is the outcome of a read. Done is true only when the stream
// closed with nothing left for this read; Value is then zero for default
// reads and an empty view for BYOB reads.
type ReadResult struct {
	Value View
	Done  bool
}

// Bytes returns the bytes of Value.
func (r ReadResult) Bytes() []byte { return r.Value.Bytes() }

// PendingRead completes exactly once, when its read is fulfilled, finds the
// stream closed, or is rejected.
type PendingRead struct {
	done   chan struct{}
	result ReadResult
	err    error
}

func newPendingRead() *PendingRead {
	return &PendingRead{done: make(chan struct{})}
}

func settledRead(res ReadResult, err error) *PendingRead {
	p := newPendingRead()
	p.settle(res, err)
	return p
}

// Done is closed once the read has settled.
func (p *PendingRead) Done() <-chan struct{} { return p.done }

// Settled reports whether the read has settled.
func (p *PendingRead) Settled() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Result blocks until the read settles and returns its outcome.
func (p *PendingRead) Result() (ReadResult, error) {
	<-p.done
	return p.result, p.err
}

// Wait is Result bounded by ctx. When ctx ends first the read stays
// pending against the stream.
func (p *PendingRead) Wait(ctx context.Context) (ReadResult, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return ReadResult{}, ctx.Err()
	}
}

// settle must only be called once, with the controller lock held.
func (p *PendingRead) settle(res ReadResult, err error) {
	p.result = res
	p.err = err
	close(p.done)
}

type readMode uint8

const (
	modeDefault readMode = iota
	modeBYOB
)

func (m readMode) String() string {
	if m == modeBYOB {
		return "byob"
	}
	return "default"
}

// pullInto is a destination the controller or producer writes into.
type pullInto struct {
	view          View
	filled        int
	minimum       int // bytes needed before the read may resolve
	autoAllocated bool
}

func (p *pullInto) remaining() int { return p.view.ByteLength - p.filled }

// unfilled is the writable tail of the destination.
func (p *pullInto) unfilled() []byte { return p.view.Bytes()[p.filled:] }

type readRequest struct {
	mode    readMode
	into    *pullInto // nil for default reads served chunk-wise
	pending *PendingRead
}

// requestQueue is the FIFO of unsatisfied reads, default and BYOB mixed.
type requestQueue struct {
	items []*readRequest
}

func (q *requestQueue) len() int { return len(q.items) }

func (q *requestQueue) push(r *readRequest) { q.items = append(q.items, r) }

func (q *requestQueue) front() *readRequest {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

func (q *requestQueue) shift() *readRequest {
	r := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return r
}

// drain removes and returns every queued request.
func (q *requestQueue) drain() []*readRequest {
	items := q.items
	q.items = nil
	return items
}
