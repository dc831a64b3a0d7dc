// Package cache provides internal cache management.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/bytestream/config"
	"github.com/BaSui01/bytestream/internal/tlsutil"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 💾 Redis Streams 分块日志管理器
// =============================================================================

// 条目字段名
const (
	fieldData  = "data"
	fieldEOF   = "eof"
	fieldError = "error"
)

// StartID 从日志开头读取
const StartID = "0"

// ErrManagerClosed 管理器已关闭
var ErrManagerClosed = errors.New("cache manager is closed")

// OpRecorder 记录连接器操作耗时，metrics.Collector 实现该接口
type OpRecorder interface {
	RecordConnectorOp(connector, operation string, duration time.Duration, err error)
}

// Manager 将字节流分块追加到 Redis Stream，并支持阻塞读取
type Manager struct {
	redis    *redis.Client
	config   Config
	logger   *zap.Logger
	recorder OpRecorder
	mu       sync.RWMutex
	closed   bool
	done     chan struct{}
}

// Config 缓存配置
type Config struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 键前缀
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// 最大重试次数
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// 最小空闲连接数
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	// XREAD 阻塞时长
	BlockTimeout time.Duration `yaml:"block_timeout" json:"block_timeout"`

	// 每个流保留的最大条目数，0 表示不裁剪
	MaxLen int64 `yaml:"max_len" json:"max_len"`

	// 健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`

	// TLS 配置，Enabled 为 false 时使用明文连接
	TLS config.TLSConfig `yaml:"tls" json:"tls"`
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		KeyPrefix:           "bytestream:",
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		BlockTimeout:        5 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

// ConfigFrom 由应用配置构造缓存配置
func ConfigFrom(cfg config.RedisConfig) Config {
	c := DefaultConfig()
	c.Addr = cfg.Addr
	c.Password = cfg.Password
	c.DB = cfg.DB
	if cfg.PoolSize > 0 {
		c.PoolSize = cfg.PoolSize
	}
	c.MinIdleConns = cfg.MinIdleConns
	if cfg.BlockTimeout > 0 {
		c.BlockTimeout = cfg.BlockTimeout
	}
	c.MaxLen = cfg.MaxLen
	c.TLS = cfg.TLS
	return c
}

// NewManager 创建管理器并检查连接
func NewManager(config Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tlsCfg, err := tlsutil.ClientConfig(config.TLS)
	if err != nil {
		return nil, fmt.Errorf("redis tls: %w", err)
	}
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		TLSConfig:    tlsCfg,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := &Manager{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "cache")),
		done:   make(chan struct{}),
	}

	if config.HealthCheckInterval > 0 {
		go m.healthCheckLoop()
	}

	m.logger.Info("cache manager initialized",
		zap.String("addr", config.Addr),
		zap.Int("pool_size", config.PoolSize),
		zap.Int64("max_len", config.MaxLen),
		zap.Bool("tls", tlsCfg != nil),
	)

	return m, nil
}

// WithRecorder 设置操作记录器
func (m *Manager) WithRecorder(r OpRecorder) *Manager {
	m.recorder = r
	return m
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Entry 日志条目
type Entry struct {
	ID   string
	Data []byte
	// EOF 表示生产者已结束，Err 非空时为异常结束
	EOF bool
	Err string
}

// Key 返回流对应的 Redis 键
func (m *Manager) Key(streamID string) string {
	return m.config.KeyPrefix + streamID
}

// Append 追加一个数据块，返回条目 ID
func (m *Manager) Append(ctx context.Context, streamID string, chunk []byte) (string, error) {
	return m.add(ctx, "append", streamID, map[string]interface{}{fieldData: chunk})
}

// Finish 追加结束标记，reason 非空表示异常结束
func (m *Manager) Finish(ctx context.Context, streamID string, reason string) error {
	values := map[string]interface{}{fieldEOF: "1"}
	if reason != "" {
		values[fieldError] = reason
	}
	_, err := m.add(ctx, "finish", streamID, values)
	return err
}

func (m *Manager) add(ctx context.Context, op, streamID string, values map[string]interface{}) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", ErrManagerClosed
	}

	start := time.Now()
	args := &redis.XAddArgs{Stream: m.Key(streamID), Values: values}
	if m.config.MaxLen > 0 {
		args.MaxLen = m.config.MaxLen
		args.Approx = true
	}
	id, err := m.redis.XAdd(ctx, args).Result()
	m.record(op, start, err)
	if err != nil {
		m.logger.Error("xadd failed", zap.String("stream_id", streamID), zap.Error(err))
		return "", fmt.Errorf("cache %s failed: %w", op, err)
	}
	return id, nil
}

// Read 读取 afterID 之后的条目，最多阻塞 BlockTimeout。超时返回空切片。
func (m *Manager) Read(ctx context.Context, streamID, afterID string, count int64) ([]Entry, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrManagerClosed
	}
	m.mu.RUnlock()

	if afterID == "" {
		afterID = StartID
	}
	start := time.Now()
	res, err := m.redis.XRead(ctx, &redis.XReadArgs{
		Streams: []string{m.Key(streamID), afterID},
		Count:   count,
		Block:   m.config.BlockTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) {
		m.record("read", start, nil)
		return nil, nil
	}
	m.record("read", start, err)
	if err != nil {
		return nil, fmt.Errorf("cache read failed: %w", err)
	}

	var entries []Entry
	for _, s := range res {
		for _, msg := range s.Messages {
			entries = append(entries, toEntry(msg))
		}
	}
	return entries, nil
}

func toEntry(msg redis.XMessage) Entry {
	e := Entry{ID: msg.ID}
	if v, ok := msg.Values[fieldData].(string); ok {
		e.Data = []byte(v)
	}
	if _, ok := msg.Values[fieldEOF]; ok {
		e.EOF = true
	}
	if v, ok := msg.Values[fieldError].(string); ok {
		e.Err = v
	}
	return e
}

// Len 返回流中的条目数
func (m *Manager) Len(ctx context.Context, streamID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrManagerClosed
	}
	n, err := m.redis.XLen(ctx, m.Key(streamID)).Result()
	if err != nil {
		return 0, fmt.Errorf("cache len failed: %w", err)
	}
	return n, nil
}

// Delete 删除流
func (m *Manager) Delete(ctx context.Context, streamIDs ...string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrManagerClosed
	}
	if len(streamIDs) == 0 {
		return nil
	}

	keys := make([]string, len(streamIDs))
	for i, id := range streamIDs {
		keys[i] = m.Key(id)
	}
	if err := m.redis.Del(ctx, keys...).Err(); err != nil {
		m.logger.Error("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("cache delete failed: %w", err)
	}
	return nil
}

// Ping 检查 Redis 连接
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrManagerClosed
	}

	return m.redis.Ping(ctx).Err()
}

// Close 关闭管理器
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	close(m.done)
	m.logger.Info("closing cache manager")

	return m.redis.Close()
}

func (m *Manager) record(op string, start time.Time, err error) {
	if m.recorder != nil {
		m.recorder.RecordConnectorOp("redis", op, time.Since(start), err)
	}
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

// healthCheckLoop 健康检查循环
func (m *Manager) healthCheckLoop() {
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.Ping(ctx); err != nil && !errors.Is(err, ErrManagerClosed) {
			m.logger.Error("cache health check failed", zap.Error(err))
		} else {
			m.logger.Debug("cache health check passed")
		}
		cancel()
	}
}
