// =============================================================================
// 📦 bytestream 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Stream:    DefaultStreamConfig(),
		Pipe:      DefaultPipeConfig(),
		Worker:    DefaultWorkerConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		WebSocket: DefaultWebSocketConfig(),
		NATS:      DefaultNATSConfig(),
		Server:    DefaultServerConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultStreamConfig 返回默认字节流配置（不自动分配，高水位 0）
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		AutoAllocateChunkSize: 0,
		HighWaterMark:         0,
	}
}

// DefaultPipeConfig 返回默认 pipe 配置
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		ChunkSize: 64 * 1024,
	}
}

// DefaultWorkerConfig 返回默认工作池配置
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Workers:   4,
		QueueSize: 64,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		BlockTimeout: 5 * time.Second,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "bytestream",
		Name:            "bytestream.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultWebSocketConfig 返回默认 WebSocket 配置
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		ReadLimit:   1 << 20,
		DialTimeout: 10 * time.Second,
	}
}

// DefaultNATSConfig 返回默认 NATS 配置
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://127.0.0.1:4222",
		StreamName:    "BYTESTREAM",
		SubjectPrefix: "bytestream",
		FetchWait:     time.Second,
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		MaxBodyBytes:    32 << 20,
		StorageBackend:  "none",
		RateLimitRPS:    0,
		RateLimitBurst:  20,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "bytestream",
		SampleRate:   0.1,
	}
}
