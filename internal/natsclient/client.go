package natsclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/BaSui01/bytestream/config"
	"github.com/BaSui01/bytestream/internal/tlsutil"
)

// =============================================================================
// 📨 NATS JetStream 分块日志客户端
// =============================================================================

// 消息头
const (
	HeaderEOF   = "Bytestream-Eof"
	HeaderError = "Bytestream-Error"
)

var (
	// ErrClientClosed 客户端已关闭
	ErrClientClosed = errors.New("nats client is closed")
	// ErrInvalidStreamID 流 ID 不能作为单个主题 token
	ErrInvalidStreamID = errors.New("invalid stream id for nats subject")
)

// OpRecorder 记录连接器操作耗时，metrics.Collector 实现该接口
type OpRecorder interface {
	RecordConnectorOp(connector, operation string, duration time.Duration, err error)
}

// Config 客户端配置
type Config struct {
	// 服务器地址，多个地址以逗号分隔
	URL string `yaml:"url" json:"url"`

	// 连接名，显示在服务器监控中
	Name string `yaml:"name" json:"name"`

	// JetStream 流名
	StreamName string `yaml:"stream_name" json:"stream_name"`

	// 主题前缀，流覆盖 SubjectPrefix.>
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix"`

	// 用户名/密码或令牌
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
	Token    string `yaml:"token" json:"token"`

	// 连接超时
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// 最大重连次数，-1 表示无限
	MaxReconnects int `yaml:"max_reconnects" json:"max_reconnects"`

	// 重连间隔
	ReconnectWait time.Duration `yaml:"reconnect_wait" json:"reconnect_wait"`

	// 单次拉取最长等待
	FetchWait time.Duration `yaml:"fetch_wait" json:"fetch_wait"`

	// 消息保留时长，0 表示不过期
	MaxAge time.Duration `yaml:"max_age" json:"max_age"`

	// TLS 配置，Enabled 为 false 时使用明文连接
	TLS config.TLSConfig `yaml:"tls" json:"tls"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "bytestream",
		StreamName:    "BYTESTREAM",
		SubjectPrefix: "bytestream",
		Timeout:       5 * time.Second,
		MaxReconnects: 10,
		ReconnectWait: 2 * time.Second,
		FetchWait:     time.Second,
	}
}

// ConfigFrom 由应用配置构造客户端配置
func ConfigFrom(cfg config.NATSConfig) Config {
	c := DefaultConfig()
	if cfg.URL != "" {
		c.URL = cfg.URL
	}
	if cfg.StreamName != "" {
		c.StreamName = cfg.StreamName
	}
	if cfg.SubjectPrefix != "" {
		c.SubjectPrefix = cfg.SubjectPrefix
	}
	c.User = cfg.User
	c.Password = cfg.Password
	c.Token = cfg.Token
	if cfg.FetchWait > 0 {
		c.FetchWait = cfg.FetchWait
	}
	c.MaxAge = cfg.MaxAge
	c.TLS = cfg.TLS
	return c
}

// Client 将字节流分块发布到 JetStream 流，并支持按序号拉取
type Client struct {
	conn     *nats.Conn
	js       jetstream.JetStream
	stream   jetstream.Stream
	config   Config
	logger   *zap.Logger
	recorder OpRecorder

	mu     sync.RWMutex
	closed bool
}

// Connect 连接服务器并创建（或更新）JetStream 流
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "natsclient"))

	tlsCfg, err := tlsutil.ClientConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("nats tls: %w", err)
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if tlsCfg != nil {
		opts = append(opts, nats.Secure(tlsCfg))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	st, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.StreamName,
		Subjects: []string{cfg.SubjectPrefix + ".>"},
		Storage:  jetstream.FileStorage,
		MaxAge:   cfg.MaxAge,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create stream %s: %w", cfg.StreamName, err)
	}

	logger.Info("nats client initialized",
		zap.String("url", conn.ConnectedUrl()),
		zap.String("stream", cfg.StreamName),
		zap.String("subject_prefix", cfg.SubjectPrefix),
		zap.Bool("tls", tlsCfg != nil),
	)

	return &Client{conn: conn, js: js, stream: st, config: cfg, logger: logger}, nil
}

// WithRecorder 设置操作记录器
func (c *Client) WithRecorder(r OpRecorder) *Client {
	c.recorder = r
	return c
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Entry 日志条目
type Entry struct {
	// Seq JetStream 流序号
	Seq  uint64
	Data []byte
	// EOF 表示生产者已结束，Err 非空时为异常结束
	EOF bool
	Err string
}

// Subject 返回流对应的主题
func (c *Client) Subject(streamID string) (string, error) {
	return subjectFor(c.config.SubjectPrefix, streamID)
}

func subjectFor(prefix, streamID string) (string, error) {
	if streamID == "" || strings.ContainsAny(streamID, ".*> \t\r\n") {
		return "", fmt.Errorf("%w: %q", ErrInvalidStreamID, streamID)
	}
	return prefix + "." + streamID, nil
}

// Append 发布一个数据块，返回流序号
func (c *Client) Append(ctx context.Context, streamID string, chunk []byte) (uint64, error) {
	subj, err := c.Subject(streamID)
	if err != nil {
		return 0, err
	}
	msg := nats.NewMsg(subj)
	msg.Data = chunk
	return c.publish(ctx, "append", streamID, msg)
}

// Finish 发布结束标记，reason 非空表示异常结束
func (c *Client) Finish(ctx context.Context, streamID string, reason string) error {
	subj, err := c.Subject(streamID)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(subj)
	msg.Header.Set(HeaderEOF, "1")
	if reason != "" {
		msg.Header.Set(HeaderError, reason)
	}
	_, err = c.publish(ctx, "finish", streamID, msg)
	return err
}

func (c *Client) publish(ctx context.Context, op, streamID string, msg *nats.Msg) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return 0, ErrClientClosed
	}

	start := time.Now()
	ack, err := c.js.PublishMsg(ctx, msg)
	c.record(op, start, err)
	if err != nil {
		c.logger.Error("publish failed", zap.String("stream_id", streamID), zap.Error(err))
		return 0, fmt.Errorf("nats %s failed: %w", op, err)
	}
	return ack.Sequence, nil
}

// Reader 为 streamID 创建有序消费者，从 afterSeq 之后开始读取；
// afterSeq 为 0 时从头读取
func (c *Client) Reader(ctx context.Context, streamID string, afterSeq uint64) (*Reader, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClientClosed
	}
	subj, err := c.Subject(streamID)
	if err != nil {
		return nil, err
	}

	cfg := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subj},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	}
	if afterSeq > 0 {
		cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		cfg.OptStartSeq = afterSeq + 1
	}
	cons, err := c.js.OrderedConsumer(ctx, c.config.StreamName, cfg)
	if err != nil {
		return nil, fmt.Errorf("nats consumer: %w", err)
	}
	return &Reader{client: c, cons: cons, wait: c.config.FetchWait}, nil
}

// Len 返回流主题上的消息数
func (c *Client) Len(ctx context.Context, streamID string) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return 0, ErrClientClosed
	}
	subj, err := c.Subject(streamID)
	if err != nil {
		return 0, err
	}
	info, err := c.stream.Info(ctx, jetstream.WithSubjectFilter(subj))
	if err != nil {
		return 0, fmt.Errorf("nats len failed: %w", err)
	}
	return info.State.Subjects[subj], nil
}

// Delete 清除流主题上的全部消息
func (c *Client) Delete(ctx context.Context, streamIDs ...string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClientClosed
	}
	for _, id := range streamIDs {
		subj, err := c.Subject(id)
		if err != nil {
			return err
		}
		start := time.Now()
		err = c.stream.Purge(ctx, jetstream.WithPurgeSubject(subj))
		c.record("delete", start, err)
		if err != nil {
			c.logger.Error("purge failed", zap.String("subject", subj), zap.Error(err))
			return fmt.Errorf("nats delete failed: %w", err)
		}
	}
	return nil
}

// Ping 往返一次服务器
func (c *Client) Ping(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClientClosed
	}
	return c.conn.FlushWithContext(ctx)
}

// Close 关闭连接
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.Info("closing nats client")
	c.conn.Close()
	return nil
}

func (c *Client) record(op string, start time.Time, err error) {
	if c.recorder != nil {
		c.recorder.RecordConnectorOp("nats", op, time.Since(start), err)
	}
}

// =============================================================================
// 📥 拉取
// =============================================================================

// Reader 有序消费者封装，不支持并发 Read
type Reader struct {
	client *Client
	cons   jetstream.Consumer
	wait   time.Duration
}

// Read 拉取最多 count 条消息，最多等待 FetchWait。超时返回空切片。
// ctx 仅在拉取之间检查。
func (r *Reader) Read(ctx context.Context, count int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	batch, err := r.cons.Fetch(count, jetstream.FetchMaxWait(r.wait))
	if err != nil {
		r.client.record("read", start, err)
		return nil, fmt.Errorf("nats read failed: %w", err)
	}

	var entries []Entry
	for msg := range batch.Messages() {
		md, err := msg.Metadata()
		if err != nil {
			continue
		}
		entries = append(entries, toEntry(md.Sequence.Stream, msg.Data(), msg.Headers()))
	}
	err = batch.Error()
	if errors.Is(err, nats.ErrTimeout) || errors.Is(err, jetstream.ErrNoMessages) {
		err = nil
	}
	r.client.record("read", start, err)
	if err != nil {
		return entries, fmt.Errorf("nats read failed: %w", err)
	}
	return entries, nil
}

func toEntry(seq uint64, data []byte, h nats.Header) Entry {
	e := Entry{Seq: seq, Data: data}
	if h.Get(HeaderEOF) != "" {
		e.EOF = true
		e.Err = h.Get(HeaderError)
	}
	return e
}
