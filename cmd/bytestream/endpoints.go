package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/bytestream/config"
	"github.com/BaSui01/bytestream/connector/natsstream"
	"github.com/BaSui01/bytestream/connector/redisstream"
	"github.com/BaSui01/bytestream/connector/sqlchunk"
	"github.com/BaSui01/bytestream/connector/wsconn"
	"github.com/BaSui01/bytestream/internal/cache"
	"github.com/BaSui01/bytestream/internal/database"
	"github.com/BaSui01/bytestream/internal/metrics"
	"github.com/BaSui01/bytestream/internal/natsclient"
	"github.com/BaSui01/bytestream/stream"
)

// =============================================================================
// 🔌 端点解析
// =============================================================================

type endpointKind string

const (
	endpointFile  endpointKind = "file"
	endpointStdio endpointKind = "stdio"
	endpointRedis endpointKind = "redis"
	endpointSQL   endpointKind = "sql"
	endpointWS    endpointKind = "ws"
	endpointNATS  endpointKind = "nats"
)

// endpoint 一端的连接器与目标（文件路径、流 ID 或 URL）
type endpoint struct {
	kind   endpointKind
	target string
}

func (e endpoint) String() string {
	if e.kind == endpointStdio {
		return "-"
	}
	return string(e.kind) + ":" + e.target
}

// parseEndpoint 解析端点：
//
//	-              标准输入/输出
//	ws://… wss://… WebSocket
//	redis:ID       Redis Streams 日志
//	sql:ID         SQL 分块表
//	nats:ID        NATS JetStream 主题
//	file:PATH      文件（无前缀时同样按文件处理）
func parseEndpoint(s string) (endpoint, error) {
	switch {
	case s == "":
		return endpoint{}, errors.New("empty endpoint")
	case s == "-":
		return endpoint{kind: endpointStdio}, nil
	case strings.HasPrefix(s, "ws://"), strings.HasPrefix(s, "wss://"):
		return endpoint{kind: endpointWS, target: s}, nil
	}

	if prefix, rest, ok := strings.Cut(s, ":"); ok {
		switch endpointKind(prefix) {
		case endpointRedis, endpointSQL, endpointNATS, endpointFile:
			if rest == "" {
				return endpoint{}, fmt.Errorf("endpoint %q: missing %s target", s, prefix)
			}
			return endpoint{kind: endpointKind(prefix), target: rest}, nil
		}
	}
	return endpoint{kind: endpointFile, target: s}, nil
}

// =============================================================================
// 🗄️ 连接器后端（按需打开）
// =============================================================================

// backends 惰性持有 Redis 日志、NATS 日志与 SQL 分块存储
type backends struct {
	cfg       *config.Config
	logger    *zap.Logger
	collector *metrics.Collector

	mu    sync.Mutex
	log   *cache.Manager
	nats  *natsclient.Client
	db    *database.PoolManager
	store *database.ChunkStore
}

func newBackends(cfg *config.Config, logger *zap.Logger, collector *metrics.Collector) *backends {
	return &backends{cfg: cfg, logger: logger, collector: collector}
}

// chunkLog 返回 Redis Streams 日志，首次调用时连接
func (b *backends) chunkLog() (*cache.Manager, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.log != nil {
		return b.log, nil
	}
	log, err := cache.NewManager(cache.ConfigFrom(b.cfg.Redis), b.logger)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	if b.collector != nil {
		log.WithRecorder(b.collector)
	}
	b.log = log
	return log, nil
}

// natsLog 返回 NATS JetStream 日志，首次调用时连接并创建流
func (b *backends) natsLog(ctx context.Context) (*natsclient.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nats != nil {
		return b.nats, nil
	}
	client, err := natsclient.Connect(ctx, natsclient.ConfigFrom(b.cfg.NATS), b.logger)
	if err != nil {
		return nil, fmt.Errorf("nats: %w", err)
	}
	if b.collector != nil {
		client.WithRecorder(b.collector)
	}
	b.nats = client
	return client, nil
}

// chunkStore 返回 SQL 分块存储，首次调用时连接
// sqlite 直接 AutoMigrate；postgres/mysql 需先执行 `bytestream migrate up`
func (b *backends) chunkStore(ctx context.Context) (*database.ChunkStore, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.store != nil {
		return b.store, nil
	}
	db, err := database.Open(b.cfg.Database, b.logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	store := database.NewChunkStore(db, b.logger)
	if b.collector != nil {
		store.WithRecorder(b.collector)
	}
	if b.cfg.Database.Driver == "sqlite" {
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	b.db, b.store = db, store
	return store, nil
}

// ping 检查已打开的后端
func (b *backends) ping(ctx context.Context) map[string]error {
	b.mu.Lock()
	log, nc, db := b.log, b.nats, b.db
	b.mu.Unlock()

	results := make(map[string]error)
	if log != nil {
		results["redis"] = log.Ping(ctx)
	}
	if nc != nil {
		results["nats"] = nc.Ping(ctx)
	}
	if db != nil {
		results["database"] = db.Ping(ctx)
	}
	return results
}

// Close 关闭已打开的后端
func (b *backends) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	if b.log != nil {
		errs = append(errs, b.log.Close())
		b.log = nil
	}
	if b.nats != nil {
		errs = append(errs, b.nats.Close())
		b.nats = nil
	}
	if b.db != nil {
		errs = append(errs, b.db.Close())
		b.db, b.store = nil, nil
	}
	return errors.Join(errs...)
}

// =============================================================================
// 🔧 端点 → 源 / 目标
// =============================================================================

type closer func() error

func noClose() error { return nil }

// source 为端点构造底层源，返回的 closer 在 pipe 结束后调用
func (b *backends) source(ctx context.Context, ep endpoint) (stream.UnderlyingSource, closer, error) {
	chunkSize := b.cfg.Pipe.ChunkSize
	switch ep.kind {
	case endpointStdio:
		return stream.FromReader(io.NopCloser(os.Stdin), chunkSize), noClose, nil
	case endpointFile:
		f, err := os.Open(ep.target)
		if err != nil {
			return stream.UnderlyingSource{}, nil, err
		}
		return stream.FromReader(f, chunkSize), func() error { f.Close(); return nil }, nil
	case endpointRedis:
		log, err := b.chunkLog()
		if err != nil {
			return stream.UnderlyingSource{}, nil, err
		}
		return redisstream.Source(log, ep.target, redisstream.Options{Logger: b.logger}), noClose, nil
	case endpointNATS:
		nc, err := b.natsLog(ctx)
		if err != nil {
			return stream.UnderlyingSource{}, nil, err
		}
		return natsstream.Source(nc, ep.target, natsstream.Options{Logger: b.logger}), noClose, nil
	case endpointSQL:
		store, err := b.chunkStore(ctx)
		if err != nil {
			return stream.UnderlyingSource{}, nil, err
		}
		return sqlchunk.Source(store, ep.target, sqlchunk.Options{Logger: b.logger}), noClose, nil
	case endpointWS:
		conn, err := wsconn.Dial(ctx, ep.target, b.cfg.WebSocket)
		if err != nil {
			return stream.UnderlyingSource{}, nil, err
		}
		src := wsconn.Source(conn, wsconn.Options{CloseOnCancel: true, Logger: b.logger})
		return src, func() error { return conn.Close(websocket.StatusNormalClosure, "") }, nil
	default:
		return stream.UnderlyingSource{}, nil, fmt.Errorf("unsupported source %s", ep)
	}
}

// sink 为端点构造写入目标
func (b *backends) sink(ctx context.Context, ep endpoint) (stream.Sink, closer, error) {
	switch ep.kind {
	case endpointStdio:
		// 不关闭进程的 stdout
		return stream.WriterSink(struct{ io.Writer }{os.Stdout}), noClose, nil
	case endpointFile:
		f, err := os.Create(ep.target)
		if err != nil {
			return nil, nil, err
		}
		return stream.WriterSink(f), func() error { f.Close(); return nil }, nil
	case endpointRedis:
		log, err := b.chunkLog()
		if err != nil {
			return nil, nil, err
		}
		return redisstream.Sink(log, ep.target), noClose, nil
	case endpointNATS:
		nc, err := b.natsLog(ctx)
		if err != nil {
			return nil, nil, err
		}
		return natsstream.Sink(nc, ep.target), noClose, nil
	case endpointSQL:
		store, err := b.chunkStore(ctx)
		if err != nil {
			return nil, nil, err
		}
		return sqlchunk.Sink(store, ep.target), noClose, nil
	case endpointWS:
		conn, err := wsconn.Dial(ctx, ep.target, b.cfg.WebSocket)
		if err != nil {
			return nil, nil, err
		}
		return wsconn.Sink(conn, wsconn.SinkOptions{CloseConn: true}), func() error { return conn.CloseNow() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported sink %s", ep)
	}
}
