package stream

import (
	"github.com/BaSui01/bytestream/types"
)

// BYOBRequest is the producer's single-use handle on the destination of the
// oldest pending read. It is invalidated by Respond, RespondWithNewView,
// Enqueue, Close, Error and cancellation; any later use fails with a
// protocol error and the controller never hands the destination out again.
type BYOBRequest struct {
	c           *Controller
	into        *pullInto
	invalidated bool // guarded by c.mu
}

// View returns the unfilled tail of the destination as a uint8 view over
// the consumer's buffer. It is the zero View once the handle is invalid.
func (r *BYOBRequest) View() View {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	if r.invalidated {
		return View{}
	}
	p := r.into
	return View{
		Buffer:     p.view.Buffer,
		ByteOffset: p.view.ByteOffset + p.filled,
		ByteLength: p.remaining(),
		Kind:       KindUint8,
	}
}

// Respond reports that n bytes were written at the start of View.
func (r *BYOBRequest) Respond(n int) error {
	r.c.mu.Lock()
	err := r.respondLocked(n, "respond")
	r.c.mu.Unlock()
	if err != nil {
		return err
	}
	r.c.callPullIfNeeded()
	return nil
}

// RespondWithNewView reports that v.ByteLength bytes were written through
// v, which must alias the destination buffer and begin exactly where View
// begins.
func (r *BYOBRequest) RespondWithNewView(v View) error {
	c := r.c
	c.mu.Lock()
	if err := r.usableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	p := r.into
	var err error
	switch {
	case v.Buffer == nil || v.Buffer.Detached():
		err = types.NewError(types.ErrType, "respondWithNewView: view buffer is missing or detached")
	case v.Buffer != p.view.Buffer:
		err = types.NewError(types.ErrRange, "respondWithNewView: view does not alias the request buffer")
	case v.ByteOffset != p.view.ByteOffset+p.filled:
		err = types.Errorf(types.ErrRange, "respondWithNewView: view offset %d, want %d",
			v.ByteOffset, p.view.ByteOffset+p.filled)
	case v.ByteLength < 0 || v.ByteLength > p.remaining():
		err = types.Errorf(types.ErrRange, "respondWithNewView: view length %d exceeds remaining capacity %d",
			v.ByteLength, p.remaining())
	default:
		err = r.respondLocked(v.ByteLength, "respond_with_new_view")
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.callPullIfNeeded()
	return nil
}

func (r *BYOBRequest) usableLocked() error {
	if r.c.state == StateErrored {
		return types.NewError(types.ErrState, "byob request: stream is errored").
			WithStreamID(r.c.id).WithCause(r.c.storedErr)
	}
	if r.invalidated {
		return types.NewError(types.ErrProtocol, "byob request has already been used or invalidated").WithStreamID(r.c.id)
	}
	return nil
}

func (r *BYOBRequest) respondLocked(n int, kind string) error {
	if err := r.usableLocked(); err != nil {
		return err
	}
	c, p := r.c, r.into
	if n < 0 || n > p.remaining() {
		return types.Errorf(types.ErrRange, "%s(%d) exceeds remaining capacity %d", kind, n, p.remaining()).WithStreamID(c.id)
	}
	if p.view.Buffer.Detached() {
		return types.NewError(types.ErrType, "byob request buffer is detached").WithStreamID(c.id)
	}
	c.invalidateBYOBLocked()
	p.filled += n
	c.stats.Responds++
	c.metrics.BYOBResponded(kind, n)
	c.fulfillLocked()
	return nil
}
