// =============================================================================
// 📦 bytestream 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("bytestream.yaml").
//	    WithEnvPrefix("BYTESTREAM").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"encoding/pem"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 bytestream 的完整配置结构
type Config struct {
	// Stream 字节流控制器配置
	Stream StreamConfig `yaml:"stream" env:"STREAM"`

	// Pipe pipeTo 配置
	Pipe PipeConfig `yaml:"pipe" env:"PIPE"`

	// Worker 批量 pipe 工作池配置
	Worker WorkerConfig `yaml:"worker" env:"WORKER"`

	// Redis Redis Streams 连接器配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database SQL 分块存储配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// WebSocket 连接器配置
	WebSocket WebSocketConfig `yaml:"websocket" env:"WEBSOCKET"`

	// NATS NATS JetStream 连接器配置
	NATS NATSConfig `yaml:"nats" env:"NATS"`

	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// StreamConfig 字节流配置
type StreamConfig struct {
	// 默认读取自动分配的缓冲区大小，0 表示不启用
	AutoAllocateChunkSize int `yaml:"auto_allocate_chunk_size" env:"AUTO_ALLOCATE_CHUNK_SIZE"`
	// 高水位（字节），字节流默认为 0
	HighWaterMark int `yaml:"high_water_mark" env:"HIGH_WATER_MARK"`
}

// PipeConfig pipeTo 配置
type PipeConfig struct {
	// 每次 BYOB 读取的缓冲区大小
	ChunkSize int `yaml:"chunk_size" env:"CHUNK_SIZE"`
	// 每秒写入字节数上限，0 表示不限速
	BytesPerSecond int `yaml:"bytes_per_second" env:"BYTES_PER_SECOND"`
	// 限速突发字节数
	Burst int `yaml:"burst" env:"BURST"`
	// 源结束时不关闭目标
	PreventClose bool `yaml:"prevent_close" env:"PREVENT_CLOSE"`
	// 源出错时不中止目标
	PreventAbort bool `yaml:"prevent_abort" env:"PREVENT_ABORT"`
	// 目标出错时不取消源
	PreventCancel bool `yaml:"prevent_cancel" env:"PREVENT_CANCEL"`
}

// WorkerConfig 工作池配置
type WorkerConfig struct {
	// 并发 worker 数
	Workers int `yaml:"workers" env:"WORKERS"`
	// 任务队列长度
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 单次 XREAD 阻塞时间
	BlockTimeout time.Duration `yaml:"block_timeout" env:"BLOCK_TIMEOUT"`
	// 流最大长度（近似裁剪），0 表示不裁剪
	MaxLen int64 `yaml:"max_len" env:"MAX_LEN"`
	// TLS 配置
	TLS TLSConfig `yaml:"tls" env:"TLS"`
}

// TLSConfig 客户端 TLS 配置
type TLSConfig struct {
	// 是否启用 TLS
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 额外信任的 CA 证书（PEM），为空时使用系统根证书
	CAFile string `yaml:"ca_file" env:"CA_FILE"`
	// 覆盖证书校验使用的服务器名
	ServerName string `yaml:"server_name" env:"SERVER_NAME"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大打开连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接数
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// WebSocketConfig WebSocket 连接器配置
type WebSocketConfig struct {
	// 单条消息最大字节数
	ReadLimit int64 `yaml:"read_limit" env:"READ_LIMIT"`
	// 连接超时
	DialTimeout time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	// wss:// 连接使用的 TLS 配置
	TLS TLSConfig `yaml:"tls" env:"TLS"`
}

// NATSConfig NATS JetStream 连接器配置
type NATSConfig struct {
	// 服务器地址
	URL string `yaml:"url" env:"URL"`
	// JetStream 流名
	StreamName string `yaml:"stream_name" env:"STREAM_NAME"`
	// 主题前缀
	SubjectPrefix string `yaml:"subject_prefix" env:"SUBJECT_PREFIX"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 令牌
	Token string `yaml:"token" env:"TOKEN"`
	// 单次拉取最长等待
	FetchWait time.Duration `yaml:"fetch_wait" env:"FETCH_WAIT"`
	// 消息保留时长，0 表示不过期
	MaxAge time.Duration `yaml:"max_age" env:"MAX_AGE"`
	// TLS 配置
	TLS TLSConfig `yaml:"tls" env:"TLS"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// echo 接口请求体上限（字节）
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	// /v1/streams 的持久化后端: none, redis, sql, nats
	StorageBackend string `yaml:"storage_backend" env:"STORAGE_BACKEND"`
	// 每个客户端 IP 每秒请求数，0 表示不限流
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 允许的 API Key，为空时不校验
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// 允许通过 ?api_key= 传递（浏览器 WebSocket 无法设置请求头）
	AllowQueryAPIKey bool `yaml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
	// 允许的跨域来源，为空时拒绝跨域
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// JWT Bearer 认证
	JWT JWTConfig `yaml:"jwt" env:"JWT"`
}

// JWTConfig JWT 认证配置，Secret 与 PublicKey 都为空时不启用
type JWTConfig struct {
	// HS256 共享密钥
	Secret string `yaml:"secret" env:"SECRET"`
	// RS256 公钥（PEM）
	PublicKey string `yaml:"public_key" env:"PUBLIC_KEY"`
	// 期望的 iss，为空不校验
	Issuer string `yaml:"issuer" env:"ISSUER"`
	// 期望的 aud，为空不校验
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// Enabled 是否配置了任一验签密钥
func (j JWTConfig) Enabled() bool {
	return j.Secret != "" || j.PublicKey != ""
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{envPrefix: "BYTESTREAM"}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量，最后执行 Validate 和自定义验证器
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// setFieldsFromEnv 按 PREFIX_SECTION_FIELD 递归设置结构体字段
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue 将字符串解析为字段类型
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Stream.AutoAllocateChunkSize < 0 {
		errs = append(errs, "stream.auto_allocate_chunk_size must not be negative")
	}
	if c.Stream.HighWaterMark < 0 {
		errs = append(errs, "stream.high_water_mark must not be negative")
	}
	if c.Pipe.ChunkSize <= 0 {
		errs = append(errs, "pipe.chunk_size must be positive")
	}
	if c.Pipe.BytesPerSecond < 0 || c.Pipe.Burst < 0 {
		errs = append(errs, "pipe rate limit must not be negative")
	}
	if c.Worker.Workers <= 0 {
		errs = append(errs, "worker.workers must be positive")
	}
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	switch c.Server.StorageBackend {
	case "", "none", "redis", "sql", "nats":
	default:
		errs = append(errs, fmt.Sprintf("unsupported storage backend %q", c.Server.StorageBackend))
	}
	if c.Server.JWT.PublicKey != "" {
		if block, _ := pem.Decode([]byte(c.Server.JWT.PublicKey)); block == nil {
			errs = append(errs, "server.jwt.public_key is not a PEM block")
		}
	}
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
