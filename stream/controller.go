package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/bytestream/internal/ctxkeys"
	"github.com/BaSui01/bytestream/types"
)

var (
	// ErrCanceled is the cancel reason used when a consumer supplies none.
	ErrCanceled = errors.New("stream: canceled")
	// ErrProducerClosed is the cause of the pull context once the producer
	// has closed the stream.
	ErrProducerClosed = errors.New("stream: closed by producer")
)

// State is the lifecycle state of a byte stream. Closed and errored are
// terminal.
type State uint8

const (
	StateReadable State = iota
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateReadable:
		return "readable"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Controller mediates between the producer's pull algorithm and the reads
// issued by consumers. All state transitions happen under mu; producer
// callbacks always run with mu released so they may call back into the
// controller.
type Controller struct {
	mu sync.Mutex

	id      string
	source  UnderlyingSource
	logger  *zap.Logger
	metrics MetricsRecorder

	state     State
	storedErr error
	started   bool
	pulling   bool
	pullAgain bool
	// closeRequested is set by Close while bytes are still queued. The
	// stream stays readable until the queue drains.
	closeRequested bool

	highWaterMark int
	autoAllocate  int

	queue    byteQueue
	requests requestQueue
	byob     *BYOBRequest
	reader   any

	ctx    context.Context
	cancel context.CancelCauseFunc
	closed chan struct{}

	stats StreamStats
}

func newController(src UnderlyingSource, o *options) *Controller {
	ctx, cancel := context.WithCancelCause(ctxkeys.WithStreamID(context.Background(), o.id))
	c := &Controller{
		id:            o.id,
		source:        src,
		logger:        o.logger.With(zap.String("component", "bytestream"), zap.String("stream_id", o.id)),
		metrics:       o.metrics,
		highWaterMark: o.highWaterMark,
		ctx:           ctx,
		cancel:        cancel,
		closed:        make(chan struct{}),
	}
	if o.autoAllocate != nil {
		c.autoAllocate = *o.autoAllocate
	}
	return c
}

// start runs the start algorithm; pulls are held back until it returns.
func (c *Controller) start() {
	if c.source.Start != nil {
		if err := c.source.Start(c.ctx, c); err != nil {
			c.mu.Lock()
			if c.state == StateReadable {
				c.errorLocked(err)
			}
			c.mu.Unlock()
			c.logger.Debug("start algorithm failed", zap.Error(err))
		}
	}
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	c.callPullIfNeeded()
}

// =============================================================================
// Producer surface
// =============================================================================

// Enqueue hands chunk to the stream. The bytes are copied. Pending reads
// are served first, oldest first; whatever is left stays queued. Any
// outstanding BYOB request is invalidated. An empty chunk is ignored.
//
// On a closed stream Enqueue fails with a state error; on an errored one
// the state error wraps the stream's error.
func (c *Controller) Enqueue(chunk []byte) error {
	c.mu.Lock()
	if err := c.writableLocked("enqueue"); err != nil {
		c.mu.Unlock()
		return err
	}
	if len(chunk) == 0 {
		c.mu.Unlock()
		return nil
	}
	c.invalidateBYOBLocked()
	c.queue.push(bytes.Clone(chunk))
	c.stats.BytesEnqueued += int64(len(chunk))
	c.metrics.BytesEnqueued(len(chunk))
	c.fulfillLocked()
	c.mu.Unlock()

	c.callPullIfNeeded()
	return nil
}

// Close closes the stream. Bytes already queued stay readable and the
// stream reports closed only once they are drained; until then Enqueue
// fails and a cancel still discards them. A pending BYOB read that
// received some bytes resolves with them; other pending reads resolve as
// done. Closing while the oldest BYOB read holds a fractional element
// fails with a range error and errors the stream.
func (c *Controller) Close() error {
	c.mu.Lock()
	if err := c.writableLocked("close"); err != nil {
		c.mu.Unlock()
		return err
	}
	if head := c.requests.front(); head != nil && head.into != nil {
		if p := head.into; p.filled%p.view.ElementSize() != 0 {
			err := types.Errorf(types.ErrRange,
				"close: pending read holds %d bytes, not a whole number of %s elements",
				p.filled, p.view.Kind).WithStreamID(c.id)
			c.errorLocked(err)
			c.mu.Unlock()
			c.logger.Debug("close with fractional element", zap.Int("filled", p.filled))
			return err
		}
	}
	c.closeRequested = true
	c.invalidateBYOBLocked()
	c.fulfillLocked()
	c.mu.Unlock()

	c.logger.Debug("close requested")
	return nil
}

// Error errors the stream with reason. Every pending and future read
// rejects with reason and queued bytes are discarded.
func (c *Controller) Error(reason error) error {
	c.mu.Lock()
	if err := c.stateErrorLocked("error"); err != nil {
		c.mu.Unlock()
		return err
	}
	c.errorLocked(reason)
	c.mu.Unlock()

	c.logger.Debug("stream errored", zap.Error(reason))
	return nil
}

// BYOBRequest returns the handle for the oldest pending read that has a
// destination buffer, or nil when there is none. The same handle is
// returned until it is used or invalidated.
func (c *Controller) BYOBRequest() *BYOBRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateReadable || c.closeRequested {
		return nil
	}
	head := c.requests.front()
	if head == nil || head.into == nil {
		return nil
	}
	if c.byob == nil {
		c.byob = &BYOBRequest{c: c, into: head.into}
	}
	return c.byob
}

// DesiredSize returns the high water mark minus the queued byte count.
// ok is false once the stream has errored; a closed stream reports 0.
func (c *Controller) DesiredSize() (size int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateErrored:
		return 0, false
	case StateClosed:
		return 0, true
	}
	return c.highWaterMark - c.queue.len(), true
}

// ID returns the stream identifier.
func (c *Controller) ID() string { return c.id }

// =============================================================================
// Pull policy
// =============================================================================

func (c *Controller) shouldPullLocked() bool {
	if c.source.Pull == nil || !c.started || c.state != StateReadable || c.closeRequested {
		return false
	}
	return c.requests.len() > 0 || c.highWaterMark-c.queue.len() > 0
}

// callPullIfNeeded runs the pull algorithm on the calling goroutine unless
// one is already running, in which case that pull is asked to go again.
func (c *Controller) callPullIfNeeded() {
	c.mu.Lock()
	if !c.shouldPullLocked() {
		c.mu.Unlock()
		return
	}
	if c.pulling {
		c.pullAgain = true
		c.mu.Unlock()
		return
	}
	c.pulling = true

	for {
		c.stats.Pulls++
		c.mu.Unlock()

		c.metrics.PullStarted()
		err := c.invokePull()

		c.mu.Lock()
		c.pulling = false
		if err != nil {
			c.pullAgain = false
			if c.state == StateReadable {
				c.errorLocked(err)
				c.mu.Unlock()
				c.logger.Debug("pull algorithm failed", zap.Error(err))
				return
			}
			break
		}
		if !c.pullAgain || !c.shouldPullLocked() {
			c.pullAgain = false
			break
		}
		c.pullAgain = false
		c.pulling = true
	}
	c.mu.Unlock()
}

func (c *Controller) invokePull() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pull panicked: %v", r)
		}
	}()
	return c.source.Pull(c.ctx, c)
}

// =============================================================================
// Fulfilment
// =============================================================================

// fulfillLocked settles pending reads in FIFO order from queued bytes and
// from bytes producers wrote into destinations.
func (c *Controller) fulfillLocked() {
	for {
		if c.closeRequested && c.state == StateReadable && c.queue.len() == 0 {
			c.closeLocked()
		}
		if c.requests.len() == 0 || c.state == StateErrored {
			return
		}
		req := c.requests.front()
		p := req.into

		// Queued chunks go to a default read as they are; the synthesized
		// buffer is only for the producer's zero-copy path.
		if p != nil && p.autoAllocated && p.filled == 0 && c.queue.len() > 0 {
			if c.byob != nil && c.byob.into == p {
				c.invalidateBYOBLocked()
			}
			req.into, p = nil, nil
		}

		if p == nil {
			switch {
			case c.queue.len() > 0:
				chunk := c.queue.shift()
				c.requests.shift()
				c.resolveLocked(req, ReadResult{Value: View{Buffer: WrapBuffer(chunk), ByteLength: len(chunk), Kind: KindUint8}})
				continue
			case c.state == StateClosed:
				c.requests.shift()
				c.resolveLocked(req, ReadResult{Done: true})
				continue
			}
			return
		}

		if c.queue.len() > 0 && p.remaining() > 0 {
			p.filled += c.queue.readInto(p.unfilled())
		}
		if p.filled >= p.minimum {
			c.requests.shift()
			c.commitLocked(req)
			continue
		}
		if c.closeRequested && c.state == StateReadable && c.queue.len() == 0 {
			c.closeLocked()
		}
		if c.state != StateClosed {
			return
		}
		c.requests.shift()
		c.finalizeClosedLocked(req)
	}
}

// commitLocked resolves a destination that met its minimum fill. A trailing
// partial element goes back to the head of the byte queue.
func (c *Controller) commitLocked(req *readRequest) {
	p := req.into
	if rem := p.filled % p.view.ElementSize(); rem > 0 {
		end := p.filled
		p.filled -= rem
		c.queue.pushFront(bytes.Clone(p.view.Bytes()[p.filled:end]))
	}
	c.resolveLocked(req, ReadResult{Value: p.view.Truncate(p.filled)})
}

// finalizeClosedLocked settles a destination read once no more bytes can
// arrive, ignoring its minimum fill.
func (c *Controller) finalizeClosedLocked(req *readRequest) {
	p := req.into
	switch {
	case p.filled == 0 && p.autoAllocated:
		c.resolveLocked(req, ReadResult{Done: true})
	case p.filled == 0:
		c.resolveLocked(req, ReadResult{Value: p.view.Truncate(0), Done: true})
	case p.filled%p.view.ElementSize() != 0:
		// Hand the bytes back so a byte-oriented read can still take them.
		c.queue.pushFront(bytes.Clone(p.view.Bytes()[:p.filled]))
		p.filled = 0
		c.rejectLocked(req, types.Errorf(types.ErrRange,
			"stream closed with %d bytes left, not a whole number of %s elements",
			c.queue.len(), p.view.Kind).WithStreamID(c.id))
	default:
		c.resolveLocked(req, ReadResult{Value: p.view.Truncate(p.filled)})
	}
}

func (c *Controller) resolveLocked(req *readRequest, res ReadResult) {
	c.retireLocked(req)
	outcome := "done"
	if !res.Done {
		outcome = "value"
		c.stats.BytesDelivered += int64(res.Value.ByteLength)
		c.metrics.BytesDelivered(req.mode.String(), res.Value.ByteLength)
	}
	c.metrics.ReadCompleted(req.mode.String(), outcome)
	req.pending.settle(res, nil)
}

func (c *Controller) rejectLocked(req *readRequest, err error) {
	c.retireLocked(req)
	c.metrics.ReadCompleted(req.mode.String(), "error")
	req.pending.settle(ReadResult{}, err)
}

func (c *Controller) retireLocked(req *readRequest) {
	c.stats.Reads++
	if req.into != nil && c.byob != nil && c.byob.into == req.into {
		c.invalidateBYOBLocked()
	}
}

// =============================================================================
// Terminal transitions
// =============================================================================

// writableLocked reports whether the producer may still enqueue or close.
func (c *Controller) writableLocked(op string) error {
	if err := c.stateErrorLocked(op); err != nil {
		return err
	}
	if c.closeRequested {
		return types.Errorf(types.ErrState, "%s: stream is closed", op).WithStreamID(c.id)
	}
	return nil
}

func (c *Controller) stateErrorLocked(op string) error {
	switch c.state {
	case StateErrored:
		return types.Errorf(types.ErrState, "%s: stream is errored", op).WithStreamID(c.id).WithCause(c.storedErr)
	case StateClosed:
		return types.Errorf(types.ErrState, "%s: stream is closed", op).WithStreamID(c.id)
	}
	return nil
}

// closeLocked moves a drained, close-requested stream to closed.
func (c *Controller) closeLocked() {
	c.state = StateClosed
	c.finishLocked("closed")
	c.cancel(ErrProducerClosed)
	c.logger.Debug("stream closed")
}

func (c *Controller) errorLocked(reason error) {
	if reason == nil {
		reason = types.NewError(types.ErrType, "stream errored without a reason").WithStreamID(c.id)
	}
	c.state = StateErrored
	c.storedErr = reason
	c.queue.reset()
	c.invalidateBYOBLocked()
	c.pulling, c.pullAgain = false, false
	for _, req := range c.requests.drain() {
		c.rejectLocked(req, reason)
	}
	c.finishLocked("errored")
	c.cancel(reason)
}

// cancelLocked tears the stream down on behalf of the consumer. Pending
// reads resolve as done and their destinations are abandoned. The caller
// runs the cancel algorithm after unlocking.
func (c *Controller) cancelLocked(reason error) {
	c.state = StateClosed
	c.closeRequested = false
	c.queue.reset()
	c.invalidateBYOBLocked()
	for _, req := range c.requests.drain() {
		req.into = nil
		c.resolveLocked(req, ReadResult{Done: true})
	}
	c.finishLocked("canceled")
	c.cancel(reason)
}

func (c *Controller) cancelStream(ctx context.Context, reason error) error {
	if reason == nil {
		reason = ErrCanceled
	}
	c.mu.Lock()
	switch c.state {
	case StateErrored:
		err := c.storedErr
		c.mu.Unlock()
		return err
	case StateClosed:
		c.mu.Unlock()
		return nil
	}
	c.cancelLocked(reason)
	c.mu.Unlock()

	c.logger.Debug("stream canceled", zap.Error(reason))
	if c.source.Cancel != nil {
		return c.source.Cancel(ctx, reason)
	}
	return nil
}

func (c *Controller) finishLocked(outcome string) {
	close(c.closed)
	c.metrics.StreamFinished(outcome)
}

func (c *Controller) invalidateBYOBLocked() {
	if c.byob != nil {
		c.byob.invalidated = true
		c.byob = nil
	}
}

// =============================================================================
// Reader plumbing
// =============================================================================

func (c *Controller) acquire(reader any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reader != nil {
		return types.NewError(types.ErrType, "stream is already locked to a reader").WithStreamID(c.id)
	}
	c.reader = reader
	return nil
}

func (c *Controller) release(reader any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reader != reader {
		return false
	}
	c.reader = nil
	return true
}

func (c *Controller) owns(reader any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reader == reader
}

func (c *Controller) releasedError() error {
	return types.NewError(types.ErrType, "reader has released its lock").WithStreamID(c.id)
}

func (c *Controller) readDefault(owner any) *PendingRead {
	c.mu.Lock()
	if c.reader != owner {
		c.mu.Unlock()
		return settledRead(ReadResult{}, c.releasedError())
	}
	pr := newPendingRead()
	req := &readRequest{mode: modeDefault, pending: pr}
	if c.state == StateErrored {
		c.rejectLocked(req, c.storedErr)
		c.mu.Unlock()
		return pr
	}
	if c.state == StateReadable && !c.closeRequested && c.queue.len() == 0 && c.autoAllocate > 0 {
		req.into = &pullInto{view: NewView(KindUint8, c.autoAllocate), minimum: 1, autoAllocated: true}
	}
	c.requests.push(req)
	c.fulfillLocked()
	c.mu.Unlock()

	c.callPullIfNeeded()
	return pr
}

func (c *Controller) readBYOB(owner any, view View, minElements int) *PendingRead {
	if err := view.check(); err != nil {
		return settledRead(ReadResult{}, err)
	}
	if minElements < 1 {
		return settledRead(ReadResult{}, types.Errorf(types.ErrType, "minimum of %d elements must be positive", minElements))
	}
	if minElements > view.Len() {
		return settledRead(ReadResult{}, types.Errorf(types.ErrRange,
			"minimum of %d elements exceeds view length %d", minElements, view.Len()))
	}

	c.mu.Lock()
	if c.reader != owner {
		c.mu.Unlock()
		return settledRead(ReadResult{}, c.releasedError())
	}
	pr := newPendingRead()
	req := &readRequest{
		mode:    modeBYOB,
		into:    &pullInto{view: view, minimum: minElements * view.ElementSize()},
		pending: pr,
	}
	if c.state == StateErrored {
		c.rejectLocked(req, c.storedErr)
		c.mu.Unlock()
		return pr
	}
	c.requests.push(req)
	c.fulfillLocked()
	c.mu.Unlock()

	c.callPullIfNeeded()
	return pr
}

// =============================================================================
// Stats
// =============================================================================

// StreamStats is a point-in-time snapshot of a stream.
type StreamStats struct {
	ID             string `json:"id"`
	State          string `json:"state"`
	QueuedBytes    int    `json:"queued_bytes"`
	PendingReads   int    `json:"pending_reads"`
	BytesEnqueued  int64  `json:"bytes_enqueued"`
	BytesDelivered int64  `json:"bytes_delivered"`
	Reads          int64  `json:"reads"`
	Pulls          int64  `json:"pulls"`
	Responds       int64  `json:"responds"`
}

func (c *Controller) snapshot() StreamStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.ID = c.id
	s.State = c.state.String()
	s.QueuedBytes = c.queue.len()
	s.PendingReads = c.requests.len()
	return s
}
