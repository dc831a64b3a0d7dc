package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/bytestream/config"
	"github.com/BaSui01/bytestream/connector/natsstream"
	"github.com/BaSui01/bytestream/connector/redisstream"
	"github.com/BaSui01/bytestream/connector/sqlchunk"
	"github.com/BaSui01/bytestream/connector/wsconn"
	"github.com/BaSui01/bytestream/internal/cache"
	"github.com/BaSui01/bytestream/internal/ctxkeys"
	"github.com/BaSui01/bytestream/internal/database"
	"github.com/BaSui01/bytestream/internal/metrics"
	"github.com/BaSui01/bytestream/internal/natsclient"
	"github.com/BaSui01/bytestream/internal/server"
	"github.com/BaSui01/bytestream/internal/telemetry"
	"github.com/BaSui01/bytestream/stream"
	"github.com/BaSui01/bytestream/types"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 bytestream 的 HTTP 服务
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	collector *metrics.Collector
	telemetry *telemetry.Providers
	backends  *backends
	// storage 为 nil 时 /v1/streams 不注册
	storage chunkBackend

	httpManager       *server.Manager
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return newServer(cfg, logger, metrics.NewCollector("bytestream", logger))
}

func newServer(cfg *config.Config, logger *zap.Logger, collector *metrics.Collector) *Server {
	return &Server{
		cfg:       cfg,
		logger:    logger,
		collector: collector,
		backends:  newBackends(cfg, logger, collector),
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 初始化遥测与存储后端并启动 HTTP 服务（非阻塞）
func (s *Server) Start() error {
	providers, err := telemetry.Init(s.cfg.Telemetry, Version, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.telemetry = providers

	if err := s.initStorage(context.Background()); err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}

	s.httpManager = server.NewManager(s.Handler(), server.ConfigFrom(s.cfg.Server), s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started",
		zap.Int("port", s.cfg.Server.HTTPPort),
		zap.String("storage_backend", s.cfg.Server.StorageBackend),
		zap.Bool("telemetry_enabled", providers != nil && providers.Enabled()),
	)
	return nil
}

// initStorage 按 server.storage_backend 打开分块存储
func (s *Server) initStorage(ctx context.Context) error {
	switch s.cfg.Server.StorageBackend {
	case "", "none":
		return nil
	case "redis":
		log, err := s.backends.chunkLog()
		if err != nil {
			return err
		}
		s.storage = redisBackend{log: log, logger: s.logger}
	case "sql":
		store, err := s.backends.chunkStore(ctx)
		if err != nil {
			return err
		}
		s.storage = sqlBackend{store: store, logger: s.logger}
	case "nats":
		nc, err := s.backends.natsLog(ctx)
		if err != nil {
			return err
		}
		s.storage = natsBackend{client: nc, logger: s.logger}
	default:
		return fmt.Errorf("unsupported storage backend %q", s.cfg.Server.StorageBackend)
	}
	s.logger.Info("stream storage enabled", zap.String("backend", s.storage.name()))
	return nil
}

// Handler 构建路由与中间件链
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/echo", s.handleEcho)
	mux.HandleFunc("GET /v1/ws", s.handleWebSocket)

	if s.storage != nil {
		mux.HandleFunc("PUT /v1/streams/{id}", s.handlePutStream)
		mux.HandleFunc("GET /v1/streams/{id}", s.handleGetStream)
		mux.HandleFunc("DELETE /v1/streams/{id}", s.handleDeleteStream)
	}

	limiterCtx, cancel := context.WithCancel(context.Background())
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	s.rateLimiterCancel = cancel

	chain := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(limiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	}
	// 认证按配置启用；两者都配置时请求需同时通过
	if len(s.cfg.Server.APIKeys) > 0 {
		chain = append(chain, APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.cfg.Server.AllowQueryAPIKey, s.logger))
	}
	if s.cfg.Server.JWT.Enabled() {
		chain = append(chain, JWTAuth(s.cfg.Server.JWT, skipAuthPaths, s.logger))
	}
	return Chain(mux, chain...)
}

// skipAuthPaths 探针与监控端点不需要认证
var skipAuthPaths = []string{"/healthz", "/readyz", "/version", "/metrics"}

// =============================================================================
// 🏥 健康与版本
// =============================================================================

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	status := http.StatusOK
	for name, err := range s.backends.ping(ctx) {
		if err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	ready := "ready"
	if status != http.StatusOK {
		ready = "not_ready"
	}
	writeJSON(w, status, map[string]any{"status": ready, "checks": checks})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}

// =============================================================================
// 🔁 流式接口
// =============================================================================

// newStream 以服务配置创建字节流
func (s *Server) newStream(src stream.UnderlyingSource, opts ...stream.Option) (*stream.Stream, error) {
	base := []stream.Option{
		stream.FromConfig(s.cfg.Stream),
		stream.WithLogger(s.logger),
		stream.WithMetrics(s.collector),
	}
	return stream.New(src, append(base, opts...)...)
}

func (s *Server) pipeOptions() stream.PipeOptions {
	return stream.PipeOptionsFromConfig(s.cfg.Pipe)
}

// handleEcho 把请求体经字节流原样写回响应
func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	// 声明长度超限时直接拒绝；未声明长度的请求在读取中途超限只能中断连接
	if r.ContentLength > s.cfg.Server.MaxBodyBytes {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "too_large",
			fmt.Sprintf("request body exceeds %d bytes", s.cfg.Server.MaxBodyBytes))
		return
	}
	// 边读请求体边写响应，HTTP/1.x 需要显式开启全双工
	if err := http.NewResponseController(w).EnableFullDuplex(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Debug("full duplex unavailable", zap.Error(err))
	}
	body := http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodyBytes)
	st, err := s.newStream(stream.FromReader(body, s.cfg.Pipe.ChunkSize))
	if err != nil {
		s.writeStreamError(w, r, err)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Stream-ID", st.ID())

	s.pipeToResponse(w, r, st)
}

// handleWebSocket 在同一连接上回显：读到的每条二进制消息原样写回
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsconn.Accept(w, r, s.cfg.WebSocket)
	if err != nil {
		s.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	st, err := s.newStream(wsconn.Source(conn, wsconn.Options{Logger: s.logger}))
	if err != nil {
		s.logger.Error("create stream failed", zap.Error(err))
		return
	}
	err = st.PipeTo(r.Context(), wsconn.Sink(conn, wsconn.SinkOptions{CloseConn: true}), s.pipeOptions())
	if err != nil {
		s.logger.Warn("websocket echo failed", zap.String("stream_id", st.ID()), zap.Error(err))
	}
}

// handlePutStream 把请求体写入存储后端中 id 对应的流
func (s *Server) handlePutStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	body := http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodyBytes)
	st, err := s.newStream(stream.FromReader(body, s.cfg.Pipe.ChunkSize), stream.WithID(id))
	if err != nil {
		s.writeStreamError(w, r, err)
		return
	}

	counter := &countingSink{Sink: s.storage.sink(id)}
	if err := st.PipeTo(r.Context(), counter, s.pipeOptions()); err != nil {
		s.writeStreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      id,
		"bytes":   counter.written.Load(),
		"backend": s.storage.name(),
	})
}

// handleGetStream 从存储后端回放流；流未结束时持续跟随新写入
func (s *Server) handleGetStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	src, err := s.storage.source(id, r.URL.Query().Get("after"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	st, err := s.newStream(src, stream.WithID(id))
	if err != nil {
		s.writeStreamError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Stream-ID", id)
	s.pipeToResponse(w, r, st)
}

func (s *Server) handleDeleteStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.storage.delete(r.Context(), id); err != nil {
		s.writeStreamError(w, r, err)
		return
	}
	subject, _ := ctxkeys.Subject(r.Context())
	s.logger.Info("stream deleted",
		zap.String("stream_id", id),
		zap.String("backend", s.storage.name()),
		zap.String("subject", subject),
	)
	w.WriteHeader(http.StatusNoContent)
}

// pipeToResponse 把流写入响应并逐块 flush。
// 已经写出数据后再失败时中断连接，客户端据此得知响应不完整。
func (s *Server) pipeToResponse(w http.ResponseWriter, r *http.Request, st *stream.Stream) {
	sink := &responseSink{w: w, rc: http.NewResponseController(w)}
	err := st.PipeTo(r.Context(), sink, s.pipeOptions())
	if err == nil {
		if !sink.wrote {
			w.WriteHeader(http.StatusOK)
		}
		return
	}
	if !sink.wrote {
		s.writeStreamError(w, r, err)
		return
	}
	s.logger.Warn("stream failed mid-response",
		zap.String("stream_id", st.ID()),
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.Error(err),
	)
	panic(http.ErrAbortHandler)
}

// writeStreamError 按错误类型映射状态码
func (s *Server) writeStreamError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("stream request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
	}
	writeJSONError(w, status, code, err.Error())
}

func errorStatus(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, database.ErrStreamFinished):
		return http.StatusConflict, "stream_finished"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "canceled"
	}
	switch types.GetErrorCode(err) {
	case types.ErrRange, types.ErrType:
		return http.StatusBadRequest, "bad_request"
	case types.ErrConnector, types.ErrTimeout:
		return http.StatusBadGateway, "connector"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// responseSink 把 pipe 的每块写入响应并立即 flush
type responseSink struct {
	w     http.ResponseWriter
	rc    *http.ResponseController
	wrote bool
}

func (s *responseSink) Write(ctx context.Context, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	s.wrote = true
	if _, err := s.w.Write(p); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

func (s *responseSink) Close(ctx context.Context) error { return nil }

func (s *responseSink) Abort(ctx context.Context, reason error) error { return nil }

// =============================================================================
// 🗄️ 存储后端
// =============================================================================

// chunkBackend /v1/streams 背后的分块存储
type chunkBackend interface {
	name() string
	source(id, after string) (stream.UnderlyingSource, error)
	sink(id string) stream.Sink
	delete(ctx context.Context, id string) error
}

type redisBackend struct {
	log    *cache.Manager
	logger *zap.Logger
}

func (b redisBackend) name() string { return "redis" }

func (b redisBackend) source(id, after string) (stream.UnderlyingSource, error) {
	return redisstream.Source(b.log, id, redisstream.Options{StartID: after, Logger: b.logger}), nil
}

func (b redisBackend) sink(id string) stream.Sink { return redisstream.Sink(b.log, id) }

func (b redisBackend) delete(ctx context.Context, id string) error { return b.log.Delete(ctx, id) }

type sqlBackend struct {
	store  *database.ChunkStore
	logger *zap.Logger
}

func (b sqlBackend) name() string { return "sql" }

func (b sqlBackend) source(id, after string) (stream.UnderlyingSource, error) {
	var afterSeq int64
	if after != "" {
		n, err := strconv.ParseInt(after, 10, 64)
		if err != nil || n < 0 {
			return stream.UnderlyingSource{}, fmt.Errorf("invalid after %q: want a sequence number", after)
		}
		afterSeq = n
	}
	return sqlchunk.Source(b.store, id, sqlchunk.Options{AfterSeq: afterSeq, Logger: b.logger}), nil
}

func (b sqlBackend) sink(id string) stream.Sink { return sqlchunk.Sink(b.store, id) }

func (b sqlBackend) delete(ctx context.Context, id string) error { return b.store.Delete(ctx, id) }

type natsBackend struct {
	client *natsclient.Client
	logger *zap.Logger
}

func (b natsBackend) name() string { return "nats" }

func (b natsBackend) source(id, after string) (stream.UnderlyingSource, error) {
	var afterSeq uint64
	if after != "" {
		n, err := strconv.ParseUint(after, 10, 64)
		if err != nil {
			return stream.UnderlyingSource{}, fmt.Errorf("invalid after %q: want a sequence number", after)
		}
		afterSeq = n
	}
	return natsstream.Source(b.client, id, natsstream.Options{AfterSeq: afterSeq, Logger: b.logger}), nil
}

func (b natsBackend) sink(id string) stream.Sink { return natsstream.Sink(b.client, id) }

func (b natsBackend) delete(ctx context.Context, id string) error { return b.client.Delete(ctx, id) }

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 关闭 HTTP 服务后并发释放后端与遥测
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.httpManager != nil && s.httpManager.IsRunning() {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	var g errgroup.Group
	g.Go(s.backends.Close)
	if s.telemetry != nil {
		g.Go(func() error { return s.telemetry.Shutdown(ctx) })
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("resource shutdown error", zap.Error(err))
	}

	s.logger.Info("Graceful shutdown completed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
