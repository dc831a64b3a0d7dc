package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/bytestream/config"
	"github.com/BaSui01/bytestream/internal/pool"
	"github.com/BaSui01/bytestream/internal/telemetry"
	"github.com/BaSui01/bytestream/stream"
)

// =============================================================================
// 🧰 命令运行时
// =============================================================================

// runtime 非 serve 命令共享的配置、日志、遥测与后端
type runtime struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Providers
	backends  *backends
}

// newRuntime 加载配置；日志固定写 stderr，stdout 留给 "-" 端点
func newRuntime(configPath string) (*runtime, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	cfg.Log.OutputPaths = []string{"stderr"}
	logger := initLogger(cfg.Log)

	providers, err := telemetry.Init(cfg.Telemetry, Version, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	return &runtime{
		cfg:       cfg,
		logger:    logger,
		telemetry: providers,
		backends:  newBackends(cfg, logger, nil),
	}, nil
}

func (rt *runtime) close() {
	if err := rt.backends.Close(); err != nil {
		rt.logger.Warn("closing backends failed", zap.Error(err))
	}
	if rt.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.telemetry.Shutdown(ctx); err != nil {
			rt.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
	_ = rt.logger.Sync()
}

// signalContext 在 SIGINT/SIGTERM 时取消
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// =============================================================================
// 🔁 端点之间的 pipe
// =============================================================================

// pipeEndpoints 打开两端并执行一次 PipeTo，返回源流的统计
func (rt *runtime) pipeEndpoints(ctx context.Context, from, to endpoint, opts stream.PipeOptions) (stream.StreamStats, error) {
	src, closeSrc, err := rt.backends.source(ctx, from)
	if err != nil {
		return stream.StreamStats{}, fmt.Errorf("open %s: %w", from, err)
	}
	defer closeSrc()

	dst, closeDst, err := rt.backends.sink(ctx, to)
	if err != nil {
		return stream.StreamStats{}, fmt.Errorf("open %s: %w", to, err)
	}
	defer closeDst()

	s, err := stream.New(src, stream.FromConfig(rt.cfg.Stream), stream.WithLogger(rt.logger))
	if err != nil {
		return stream.StreamStats{}, err
	}

	logger := rt.logger.With(
		zap.String("stream_id", s.ID()),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	logger.Debug("pipe started")

	err = s.PipeTo(ctx, dst, opts)
	stats := s.Stats()
	if err != nil {
		logger.Error("pipe failed", zap.Error(err), zap.Int64("bytes", stats.BytesDelivered))
		return stats, err
	}
	logger.Info("pipe completed", zap.Int64("bytes", stats.BytesDelivered), zap.Int64("reads", stats.Reads))
	return stats, nil
}

// =============================================================================
// 📄 pipe 命令
// =============================================================================

func runPipe(args []string) error {
	fs := flag.NewFlagSet("pipe", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	in := fs.String("in", "-", "Input file, - for stdin")
	out := fs.String("out", "-", "Output file, - for stdout")
	bytesPerSecond := fs.Int("rate", -1, "Bytes per second limit (overrides config, 0 disables)")
	chunkSize := fs.Int("chunk", 0, "Read size in bytes (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	from, err := fileEndpoint(*in)
	if err != nil {
		return err
	}
	to, err := fileEndpoint(*out)
	if err != nil {
		return err
	}

	rt, err := newRuntime(*configPath)
	if err != nil {
		return err
	}
	defer rt.close()

	if *chunkSize > 0 {
		rt.cfg.Pipe.ChunkSize = *chunkSize
	}
	if *bytesPerSecond >= 0 {
		rt.cfg.Pipe.BytesPerSecond = *bytesPerSecond
	}

	ctx, cancel := signalContext()
	defer cancel()

	_, err = rt.pipeEndpoints(ctx, from, to, stream.PipeOptionsFromConfig(rt.cfg.Pipe))
	return err
}

// fileEndpoint pipe 命令只接受文件或 "-"
func fileEndpoint(s string) (endpoint, error) {
	if s == "-" {
		return endpoint{kind: endpointStdio}, nil
	}
	if s == "" {
		return endpoint{}, errors.New("empty path")
	}
	return endpoint{kind: endpointFile, target: s}, nil
}

// =============================================================================
// 📚 batch 命令
// =============================================================================

type pipePair struct {
	from endpoint
	to   endpoint
}

// parsePairs 解析 "in:out" 形式的参数
// 端点带 redis:/sql:/nats:/file: 前缀时用 "in=out" 避免歧义
func parsePairs(args []string) ([]pipePair, error) {
	if len(args) == 0 {
		return nil, errors.New("batch: no in:out pairs given")
	}
	pairs := make([]pipePair, 0, len(args))
	for _, arg := range args {
		sep := "="
		i := strings.Index(arg, sep)
		if i < 0 {
			sep = ":"
			i = strings.LastIndex(arg, sep)
		}
		if i <= 0 || i+len(sep) >= len(arg) {
			return nil, fmt.Errorf("batch: invalid pair %q, want in:out", arg)
		}
		from, err := parseEndpoint(arg[:i])
		if err != nil {
			return nil, err
		}
		to, err := parseEndpoint(arg[i+len(sep):])
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pipePair{from: from, to: to})
	}
	return pairs, nil
}

func runBatch(args []string) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	workers := fs.Int("workers", 0, "Concurrent pipes (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pairs, err := parsePairs(fs.Args())
	if err != nil {
		return err
	}

	rt, err := newRuntime(*configPath)
	if err != nil {
		return err
	}
	defer rt.close()

	if *workers > 0 {
		rt.cfg.Worker.Workers = *workers
	}

	ctx, cancel := signalContext()
	defer cancel()

	return rt.runPairs(ctx, pairs)
}

// runPairs 在工作池上并发执行各 pipe，汇总失败
func (rt *runtime) runPairs(ctx context.Context, pairs []pipePair) error {
	wp := pool.NewWorkerPool(pool.WorkerPoolConfig{
		Workers:   rt.cfg.Worker.Workers,
		QueueSize: max(rt.cfg.Worker.QueueSize, len(pairs)),
	}, rt.logger)
	defer wp.Close()

	// 所有 pipe 共享一个限速器，总吞吐受 pipe.bytes_per_second 约束
	opts := stream.PipeOptionsFromConfig(rt.cfg.Pipe)

	for _, p := range pairs {
		name := p.from.String() + " -> " + p.to.String()
		err := wp.Submit(ctx, name, func(ctx context.Context) error {
			_, err := rt.pipeEndpoints(ctx, p.from, p.to, opts)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("submit %s: %w", name, err)
		}
	}

	err := wp.Wait()
	stats := wp.Stats()
	rt.logger.Info("batch finished",
		zap.Int64("completed", stats.Completed),
		zap.Int64("failed", stats.Failed),
	)
	return err
}

// =============================================================================
// 🔀 relay 命令
// =============================================================================

func runRelay(args []string) error {
	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	from := fs.String("from", "", "Source endpoint (file:, redis:, sql:, nats:, ws://, -)")
	to := fs.String("to", "", "Destination endpoint (file:, redis:, sql:, nats:, ws://, -)")
	progress := fs.Duration("progress", 0, "Log throughput at this interval, 0 disables")
	bytesPerSecond := fs.Int("rate", -1, "Bytes per second limit (overrides config, 0 disables)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	src, err := parseEndpoint(*from)
	if err != nil {
		return fmt.Errorf("-from: %w", err)
	}
	dst, err := parseEndpoint(*to)
	if err != nil {
		return fmt.Errorf("-to: %w", err)
	}

	rt, err := newRuntime(*configPath)
	if err != nil {
		return err
	}
	defer rt.close()

	if *bytesPerSecond >= 0 {
		rt.cfg.Pipe.BytesPerSecond = *bytesPerSecond
	}

	ctx, cancel := signalContext()
	defer cancel()

	return rt.relay(ctx, src, dst, *progress)
}

// relay 执行 pipe，并在 progress > 0 时周期性输出已写字节数
func (rt *runtime) relay(ctx context.Context, from, to endpoint, progress time.Duration) error {
	counter := &countingSink{}
	opts := stream.PipeOptionsFromConfig(rt.cfg.Pipe)

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	g.Go(func() error {
		defer close(done)
		src, closeSrc, err := rt.backends.source(gctx, from)
		if err != nil {
			return fmt.Errorf("open %s: %w", from, err)
		}
		defer closeSrc()
		dst, closeDst, err := rt.backends.sink(gctx, to)
		if err != nil {
			return fmt.Errorf("open %s: %w", to, err)
		}
		defer closeDst()
		counter.Sink = dst

		s, err := stream.New(src, stream.FromConfig(rt.cfg.Stream), stream.WithLogger(rt.logger))
		if err != nil {
			return err
		}
		return s.PipeTo(gctx, counter, opts)
	})

	if progress > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(progress)
			defer ticker.Stop()
			var last int64
			for {
				select {
				case <-done:
					return nil
				case <-ticker.C:
					total := counter.written.Load()
					rt.logger.Info("relay progress",
						zap.Int64("bytes", total),
						zap.Float64("bytes_per_second", float64(total-last)/progress.Seconds()),
					)
					last = total
				}
			}
		})
	}

	err := g.Wait()
	rt.logger.Info("relay finished",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Int64("bytes", counter.written.Load()),
		zap.Error(err),
	)
	return err
}

// countingSink 统计写入目标的字节数
type countingSink struct {
	stream.Sink
	written atomic.Int64
}

func (c *countingSink) Write(ctx context.Context, p []byte) error {
	if err := c.Sink.Write(ctx, p); err != nil {
		return err
	}
	c.written.Add(int64(len(p)))
	return nil
}
