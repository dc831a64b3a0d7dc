package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/bytestream/config"
	"github.com/BaSui01/bytestream/connector/wsconn"
	"github.com/BaSui01/bytestream/internal/database"
	"github.com/BaSui01/bytestream/internal/metrics"
	"github.com/BaSui01/bytestream/stream"
	"github.com/BaSui01/bytestream/testutil"
	"github.com/BaSui01/bytestream/types"
)

var testSeq atomic.Int64

// testCollector 每次返回新命名空间的 collector，避免重复注册
func testCollector() *metrics.Collector {
	return metrics.NewCollector(fmt.Sprintf("bytestream_test_%d", testSeq.Add(1)), zap.NewNop())
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Pipe.ChunkSize = 4096
	cfg.Redis.BlockTimeout = 20 * time.Millisecond
	cfg.Database.Driver = "sqlite"
	cfg.Database.Name = fmt.Sprintf("file:server_%d?mode=memory&cache=shared", testSeq.Add(1))
	return cfg
}

// newTestServer 初始化存储后以 httptest 托管 Handler
func newTestServer(t *testing.T, cfg *config.Config) (*Server, *httptest.Server) {
	t.Helper()
	srv := newServer(cfg, zap.NewNop(), testCollector())
	require.NoError(t, srv.initStorage(context.Background()))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.rateLimiterCancel()
		_ = srv.backends.Close()
	})
	return srv, ts
}

func doRequest(t *testing.T, method, url string, body []byte) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(testutil.TestContext(t), method, url, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

// =============================================================================
// 健康与版本
// =============================================================================

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp, body := doRequest(t, http.MethodGet, ts.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	require.NoError(t, checkHealth(context.Background(), ts.URL))
}

func TestVersion(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp, body := doRequest(t, http.MethodGet, ts.URL+"/version", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]string
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, Version, got["version"])
}

func TestReadyz_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Server.StorageBackend = "redis"
	cfg.Redis.Addr = mr.Addr()
	_, ts := newTestServer(t, cfg)

	resp, body := doRequest(t, http.MethodGet, ts.URL+"/readyz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ready","checks":{"redis":"ok"}}`, string(body))

	mr.Close()
	resp, body = doRequest(t, http.MethodGet, ts.URL+"/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "not_ready")
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	doRequest(t, http.MethodPost, ts.URL+"/v1/echo", []byte("x"))
	resp, body := doRequest(t, http.MethodGet, ts.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "http_requests_total")
}

// =============================================================================
// echo / websocket
// =============================================================================

func TestEcho(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	payload := bytes.Repeat([]byte("echo-bytes;"), 20000)

	req, err := http.NewRequestWithContext(testutil.TestContext(t), http.MethodPost, ts.URL+"/v1/echo", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Stream-ID"))
	assert.Equal(t, payload, got)
}

func TestEcho_EmptyBody(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp, body := doRequest(t, http.MethodPost, ts.URL+"/v1/echo", []byte{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body)
}

func TestEcho_TooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxBodyBytes = 16
	_, ts := newTestServer(t, cfg)

	resp, body := doRequest(t, http.MethodPost, ts.URL+"/v1/echo", bytes.Repeat([]byte("a"), 100))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Contains(t, string(body), "too_large")
}

func TestWebSocketEcho(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	ctx := testutil.TestContext(t)
	payload := bytes.Repeat([]byte("ws;"), 3000)

	conn, err := wsconn.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/ws", config.DefaultWebSocketConfig())
	require.NoError(t, err)
	defer conn.CloseNow()

	up, err := stream.New(stream.FromChunks(payload[:4000], payload[4000:]))
	require.NoError(t, err)
	require.NoError(t, up.PipeTo(ctx, wsconn.Sink(conn, wsconn.SinkOptions{}), stream.PipeOptions{}))

	down, err := stream.New(wsconn.Source(conn, wsconn.Options{}))
	require.NoError(t, err)
	got, err := stream.ReadAll(ctx, down, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// =============================================================================
// /v1/streams
// =============================================================================

func TestStreams_NotRegisteredWithoutBackend(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp, _ := doRequest(t, http.MethodPut, ts.URL+"/v1/streams/a", []byte("x"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreams_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Server.StorageBackend = "redis"
	cfg.Redis.Addr = mr.Addr()
	_, ts := newTestServer(t, cfg)
	payload := bytes.Repeat([]byte("redis;"), 2000)

	resp, body := doRequest(t, http.MethodPut, ts.URL+"/v1/streams/job-1", payload)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.JSONEq(t, fmt.Sprintf(`{"id":"job-1","bytes":%d,"backend":"redis"}`, len(payload)), string(body))

	resp, body = doRequest(t, http.MethodGet, ts.URL+"/v1/streams/job-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "job-1", resp.Header.Get("X-Stream-ID"))
	assert.Equal(t, payload, body)

	resp, _ = doRequest(t, http.MethodDelete, ts.URL+"/v1/streams/job-1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.False(t, mr.Exists("bytestream:job-1"))
}

func TestStreams_SQL(t *testing.T) {
	cfg := testConfig()
	cfg.Server.StorageBackend = "sql"
	_, ts := newTestServer(t, cfg)
	payload := bytes.Repeat([]byte("sql;"), 5000)

	resp, body := doRequest(t, http.MethodPut, ts.URL+"/v1/streams/job-2", payload)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = doRequest(t, http.MethodGet, ts.URL+"/v1/streams/job-2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, payload, body)

	// 跳过第一个分块
	resp, body = doRequest(t, http.MethodGet, ts.URL+"/v1/streams/job-2?after=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Less(t, len(body), len(payload))
	assert.True(t, bytes.HasSuffix(payload, body))

	resp, _ = doRequest(t, http.MethodGet, ts.URL+"/v1/streams/job-2?after=x", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// 已结束的流不能再写
	resp, body = doRequest(t, http.MethodPut, ts.URL+"/v1/streams/job-2", []byte("more"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "stream_finished")

	resp, _ = doRequest(t, http.MethodDelete, ts.URL+"/v1/streams/job-2", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestStreams_RequireAuthWhenConfigured(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Server.StorageBackend = "redis"
	cfg.Redis.Addr = mr.Addr()
	cfg.Server.APIKeys = []string{"writer-key"}
	_, ts := newTestServer(t, cfg)

	resp, _ := doRequest(t, http.MethodPut, ts.URL+"/v1/streams/job-3", []byte("data"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = doRequest(t, http.MethodDelete, ts.URL+"/v1/streams/job-3", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doRequest(t, http.MethodGet, ts.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "probes stay open")

	req, err := http.NewRequestWithContext(testutil.TestContext(t), http.MethodPut, ts.URL+"/v1/streams/job-3", strings.NewReader("data"))
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "writer-key")
	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer authed.Body.Close()
	assert.Equal(t, http.StatusCreated, authed.StatusCode)
}

// =============================================================================
// 错误映射与生命周期
// =============================================================================

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"too large", fmt.Errorf("read: %w", &http.MaxBytesError{Limit: 1}), http.StatusRequestEntityTooLarge, "too_large"},
		{"finished", fmt.Errorf("chunk append: %w", database.ErrStreamFinished), http.StatusConflict, "stream_finished"},
		{"canceled", context.Canceled, http.StatusServiceUnavailable, "canceled"},
		{"range", types.NewError(types.ErrRange, "bad view"), http.StatusBadRequest, "bad_request"},
		{"type", types.NewError(types.ErrType, "bad option"), http.StatusBadRequest, "bad_request"},
		{"connector", types.NewError(types.ErrConnector, "down"), http.StatusBadGateway, "connector"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := errorStatus(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestServerStartShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.Server.HTTPPort = 0
	srv := newServer(cfg, zap.NewNop(), testCollector())
	require.NoError(t, srv.Start())

	_, port, err := net.SplitHostPort(srv.httpManager.ListenAddr())
	require.NoError(t, err)
	require.NoError(t, checkHealth(context.Background(), "http://127.0.0.1:"+port))

	srv.Shutdown()
	assert.False(t, srv.httpManager.IsRunning())
}

func TestInitStorage_Unsupported(t *testing.T) {
	cfg := testConfig()
	cfg.Server.StorageBackend = "s3"
	srv := newServer(cfg, zap.NewNop(), testCollector())
	assert.Error(t, srv.initStorage(context.Background()))
}
