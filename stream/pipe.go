package stream

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/bytestream/config"
	"github.com/BaSui01/bytestream/internal/pool"
)

const tracerName = "github.com/BaSui01/bytestream/stream"

// Sink is the destination of PipeTo.
type Sink interface {
	// Write consumes p. p is only valid for the duration of the call.
	Write(ctx context.Context, p []byte) error
	// Close is called once the source closed, unless PreventClose.
	Close(ctx context.Context) error
	// Abort is called with the source's error, unless PreventAbort.
	Abort(ctx context.Context, reason error) error
}

// PipeOptions controls PipeTo.
type PipeOptions struct {
	PreventClose  bool
	PreventAbort  bool
	PreventCancel bool
	// ChunkSize is the size of the pooled buffers the source is read into.
	ChunkSize int
	// Limiter, when set, throttles bytes written to the sink.
	Limiter *rate.Limiter
}

// DefaultChunkSize is the pipe read size when none is configured.
const DefaultChunkSize = 64 << 10

// PipeOptionsFromConfig builds PipeOptions from the pipe configuration.
func PipeOptionsFromConfig(cfg config.PipeConfig) PipeOptions {
	opts := PipeOptions{
		PreventClose:  cfg.PreventClose,
		PreventAbort:  cfg.PreventAbort,
		PreventCancel: cfg.PreventCancel,
		ChunkSize:     cfg.ChunkSize,
	}
	if cfg.BytesPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.BytesPerSecond
		}
		opts.Limiter = rate.NewLimiter(rate.Limit(cfg.BytesPerSecond), burst)
	}
	return opts
}

// PipeTo locks the stream and copies it into dst byte for byte, in order.
// A failing sink write cancels the stream; a stream error aborts the sink;
// the end of the stream closes the sink. Each propagation can be switched
// off through opts. When ctx ends the stream is canceled and the sink
// aborted with ctx's error, subject to the same switches.
func (s *Stream) PipeTo(ctx context.Context, dst Sink, opts PipeOptions) (err error) {
	r, err := s.GetBYOBReader()
	if err != nil {
		return err
	}
	defer r.ReleaseLock()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "stream.PipeTo",
		trace.WithAttributes(attribute.String("stream.id", s.c.id)))
	started := time.Now()
	var written int64
	defer func() {
		span.SetAttributes(attribute.Int64("stream.pipe.bytes", written))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.c.metrics.PipeCompleted(written, time.Since(started), err)
		s.c.logger.Debug("pipe finished", zap.Int64("bytes", written), zap.Error(err))
	}()

	size := opts.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	buffers := pool.ForSize(size)

	for {
		buf := buffers.Get()
		pr := r.ReadAsync(BytesView(buf))
		select {
		case <-pr.Done():
		case <-ctx.Done():
			if !pr.Settled() {
				// The producer may still hold buf; it is not returned to the pool.
				return s.abortPipe(ctx, r, dst, opts, ctx.Err())
			}
		}

		res, readErr := pr.Result()
		if readErr != nil {
			buffers.Put(buf)
			if !opts.PreventAbort {
				if abortErr := dst.Abort(context.WithoutCancel(ctx), readErr); abortErr != nil {
					return errors.Join(readErr, abortErr)
				}
			}
			return readErr
		}
		if res.Done {
			buffers.Put(buf)
			if opts.PreventClose {
				return nil
			}
			return dst.Close(ctx)
		}

		n := res.Value.ByteLength
		if err := waitBytes(ctx, opts.Limiter, n); err != nil {
			buffers.Put(buf)
			return s.abortPipe(ctx, r, dst, opts, err)
		}
		writeErr := dst.Write(ctx, res.Bytes())
		buffers.Put(buf)
		if writeErr != nil {
			if !opts.PreventCancel {
				if cancelErr := r.Cancel(context.WithoutCancel(ctx), writeErr); cancelErr != nil {
					return errors.Join(writeErr, cancelErr)
				}
			}
			return writeErr
		}
		written += int64(n)
	}
}

func (s *Stream) abortPipe(ctx context.Context, r *BYOBReader, dst Sink, opts PipeOptions, reason error) error {
	bg := context.WithoutCancel(ctx)
	errs := []error{reason}
	if !opts.PreventCancel {
		errs = append(errs, r.Cancel(bg, reason))
	}
	if !opts.PreventAbort {
		errs = append(errs, dst.Abort(bg, reason))
	}
	return errors.Join(errs...)
}

// waitBytes reserves n bytes from limiter in burst-sized steps.
func waitBytes(ctx context.Context, limiter *rate.Limiter, n int) error {
	if limiter == nil {
		return nil
	}
	burst := limiter.Burst()
	if burst <= 0 {
		return limiter.WaitN(ctx, n)
	}
	for n > 0 {
		step := min(n, burst)
		if err := limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}
