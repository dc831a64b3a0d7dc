package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Task represents a unit of work, typically one stream pipe.
type Task func(ctx context.Context) error

// WorkerPoolConfig configures the pool.
type WorkerPoolConfig struct {
	Workers   int `json:"workers"`
	QueueSize int `json:"queue_size"`
}

// DefaultWorkerPoolConfig returns sensible defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:   4,
		QueueSize: 64,
	}
}

type job struct {
	name string
	ctx  context.Context
	task Task
}

// WorkerPool runs tasks on a fixed number of workers and collects their
// failures. Workers start lazily on the first Submit.
type WorkerPool struct {
	cfg    WorkerPoolConfig
	queue  chan job
	logger *zap.Logger

	start   sync.Once
	workers sync.WaitGroup
	pending sync.WaitGroup
	closed  atomic.Bool

	mu   sync.Mutex
	errs []error

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	active    atomic.Int32
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(cfg WorkerPoolConfig, logger *zap.Logger) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkerPoolConfig().Workers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		cfg:    cfg,
		queue:  make(chan job, cfg.QueueSize),
		logger: logger.With(zap.String("component", "worker_pool")),
	}
}

// Submit queues a named task. It never blocks: a full queue yields ErrPoolFull.
func (p *WorkerPool) Submit(ctx context.Context, name string, task Task) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.start.Do(p.spawn)

	p.pending.Add(1)
	select {
	case p.queue <- job{name: name, ctx: ctx, task: task}:
		p.submitted.Add(1)
		return nil
	default:
		p.pending.Done()
		p.rejected.Add(1)
		return ErrPoolFull
	}
}

// Wait blocks until every submitted task has finished and returns the joined
// task errors collected so far.
func (p *WorkerPool) Wait() error {
	p.pending.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.errs...)
}

// Close stops accepting tasks, drains the queue and stops the workers.
func (p *WorkerPool) Close() {
	if p.closed.Swap(true) {
		return
	}
	p.start.Do(func() {})
	close(p.queue)
	p.workers.Wait()
}

func (p *WorkerPool) spawn() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.workers.Add(1)
		go p.worker()
	}
}

func (p *WorkerPool) worker() {
	defer p.workers.Done()
	for j := range p.queue {
		p.active.Add(1)
		err := p.run(j)
		p.active.Add(-1)

		if err != nil {
			p.failed.Add(1)
			p.logger.Warn("task failed", zap.String("task", j.name), zap.Error(err))
			p.mu.Lock()
			p.errs = append(p.errs, fmt.Errorf("%s: %w", j.name, err))
			p.mu.Unlock()
		} else {
			p.completed.Add(1)
			p.logger.Debug("task completed", zap.String("task", j.name))
		}
		p.pending.Done()
	}
}

func (p *WorkerPool) run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	if err := j.ctx.Err(); err != nil {
		return err
	}
	return j.task(j.ctx)
}

// Stats returns pool statistics.
func (p *WorkerPool) Stats() WorkerPoolStats {
	return WorkerPoolStats{
		Workers:   p.cfg.Workers,
		Active:    int(p.active.Load()),
		Queued:    len(p.queue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// WorkerPoolStats contains pool statistics.
type WorkerPoolStats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}
