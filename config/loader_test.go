// 配置加载器测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	// 不指定配置文件，应该返回默认值
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 0, cfg.Stream.HighWaterMark)
	assert.Equal(t, 64*1024, cfg.Pipe.ChunkSize)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bytestream.yaml")

	yamlContent := `
stream:
  auto_allocate_chunk_size: 1024
  high_water_mark: 4096

pipe:
  chunk_size: 8192
  bytes_per_second: 1048576
  burst: 65536
  prevent_close: true

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1
  block_timeout: 2s

server:
  http_port: 8888
  read_timeout: 60s

log:
  level: "debug"
  format: "console"
  output_paths: ["stderr"]
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	// YAML 值覆盖默认值
	assert.Equal(t, 1024, cfg.Stream.AutoAllocateChunkSize)
	assert.Equal(t, 4096, cfg.Stream.HighWaterMark)
	assert.Equal(t, 8192, cfg.Pipe.ChunkSize)
	assert.Equal(t, 1048576, cfg.Pipe.BytesPerSecond)
	assert.Equal(t, 65536, cfg.Pipe.Burst)
	assert.True(t, cfg.Pipe.PreventClose)
	assert.False(t, cfg.Pipe.PreventAbort)

	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)
	assert.Equal(t, 2*time.Second, cfg.Redis.BlockTimeout)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, []string{"stderr"}, cfg.Log.OutputPaths)

	// 未出现在 YAML 中的字段保留默认值
	assert.Equal(t, DefaultWorkerConfig(), cfg.Worker)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	envVars := map[string]string{
		"BYTESTREAM_STREAM_AUTO_ALLOCATE_CHUNK_SIZE": "512",
		"BYTESTREAM_PIPE_CHUNK_SIZE":                 "2048",
		"BYTESTREAM_PIPE_PREVENT_CANCEL":             "true",
		"BYTESTREAM_REDIS_ADDR":                      "env-redis:6379",
		"BYTESTREAM_REDIS_BLOCK_TIMEOUT":             "250ms",
		"BYTESTREAM_REDIS_TLS_ENABLED":               "true",
		"BYTESTREAM_WEBSOCKET_TLS_SERVER_NAME":       "ws.internal",
		"BYTESTREAM_NATS_URL":                        "nats://env-nats:4222",
		"BYTESTREAM_NATS_FETCH_WAIT":                 "500ms",
		"BYTESTREAM_TELEMETRY_SAMPLE_RATE":           "0.5",
		"BYTESTREAM_LOG_OUTPUT_PATHS":                "stdout, /var/log/bytestream.log",
		"BYTESTREAM_SERVER_API_KEYS":                 "k1,k2",
		"BYTESTREAM_SERVER_JWT_SECRET":               "hs-secret",
		"BYTESTREAM_SERVER_JWT_ISSUER":               "bytestream-test",
	}
	for k, v := range envVars {
		os.Setenv(k, v)
	}
	defer func() {
		for k := range envVars {
			os.Unsetenv(k)
		}
	}()

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 512, cfg.Stream.AutoAllocateChunkSize)
	assert.Equal(t, 2048, cfg.Pipe.ChunkSize)
	assert.True(t, cfg.Pipe.PreventCancel)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 250*time.Millisecond, cfg.Redis.BlockTimeout)
	assert.True(t, cfg.Redis.TLS.Enabled)
	assert.Equal(t, "ws.internal", cfg.WebSocket.TLS.ServerName)
	assert.Equal(t, "nats://env-nats:4222", cfg.NATS.URL)
	assert.Equal(t, 500*time.Millisecond, cfg.NATS.FetchWait)
	assert.Equal(t, "BYTESTREAM", cfg.NATS.StreamName)
	assert.Equal(t, 0.5, cfg.Telemetry.SampleRate)
	assert.Equal(t, []string{"stdout", "/var/log/bytestream.log"}, cfg.Log.OutputPaths)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)
	assert.Equal(t, "hs-secret", cfg.Server.JWT.Secret)
	assert.Equal(t, "bytestream-test", cfg.Server.JWT.Issuer)
	assert.True(t, cfg.Server.JWT.Enabled())
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bytestream.yaml")

	yamlContent := `
server:
  http_port: 8888
pipe:
  chunk_size: 4096
  burst: 100
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	// 环境变量应该覆盖 YAML
	t.Setenv("BYTESTREAM_SERVER_HTTP_PORT", "9999")
	t.Setenv("BYTESTREAM_PIPE_CHUNK_SIZE", "16384")

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, 16384, cfg.Pipe.ChunkSize)
	// 没有被环境变量覆盖的 YAML 值保留
	assert.Equal(t, 100, cfg.Pipe.Burst)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")
	t.Setenv("MYAPP_STREAM_HIGH_WATER_MARK", "128")

	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		Load()
	require.NoError(t, err)

	assert.Equal(t, 6666, cfg.Server.HTTPPort)
	assert.Equal(t, 128, cfg.Stream.HighWaterMark)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("BYTESTREAM_REDIS_BLOCK_TIMEOUT", "soon")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BYTESTREAM_REDIS_BLOCK_TIMEOUT")
}

func TestLoader_WithValidator(t *testing.T) {
	validator := func(cfg *Config) error {
		if cfg.Server.HTTPPort < 1024 {
			return assert.AnError
		}
		return nil
	}

	t.Setenv("BYTESTREAM_SERVER_HTTP_PORT", "80")

	_, err := NewLoader().
		WithValidator(validator).
		Load()
	assert.ErrorIs(t, err, assert.AnError)
}

func TestLoader_RunsBuiltinValidation(t *testing.T) {
	t.Setenv("BYTESTREAM_PIPE_CHUNK_SIZE", "0")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipe.chunk_size")
}

func TestLoader_NonExistentFile(t *testing.T) {
	// 指定不存在的文件，应该使用默认值（不报错）
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/bytestream.yaml").
		Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
stream:
  high_water_mark: [invalid
  this is not valid yaml
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0644))

	_, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "negative auto allocate chunk size",
			modify:  func(c *Config) { c.Stream.AutoAllocateChunkSize = -1 },
			wantErr: true,
		},
		{
			name:    "negative high water mark",
			modify:  func(c *Config) { c.Stream.HighWaterMark = -10 },
			wantErr: true,
		},
		{
			name:    "negative rate",
			modify:  func(c *Config) { c.Pipe.BytesPerSecond = -1 },
			wantErr: true,
		},
		{
			name:    "no workers",
			modify:  func(c *Config) { c.Worker.Workers = 0 },
			wantErr: true,
		},
		{
			name:    "invalid HTTP port (too large)",
			modify:  func(c *Config) { c.Server.HTTPPort = 70000 },
			wantErr: true,
		},
		{
			name:    "unknown storage backend",
			modify:  func(c *Config) { c.Server.StorageBackend = "s3" },
			wantErr: true,
		},
		{
			name:    "redis storage backend",
			modify:  func(c *Config) { c.Server.StorageBackend = "redis" },
			wantErr: false,
		},
		{
			name:    "nats storage backend",
			modify:  func(c *Config) { c.Server.StorageBackend = "nats" },
			wantErr: false,
		},
		{
			name:    "jwt public key not PEM",
			modify:  func(c *Config) { c.Server.JWT.PublicKey = "not a key" },
			wantErr: true,
		},
		{
			name:    "unknown database driver",
			modify:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: true,
		},
		{
			name:    "sample rate above one",
			modify:  func(c *Config) { c.Telemetry.SampleRate = 1.5 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "postgres DSN",
			config: DatabaseConfig{
				Driver:   "postgres",
				Host:     "localhost",
				Port:     5432,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
				SSLMode:  "disable",
			},
			expected: "host=localhost port=5432 user=user password=pass dbname=dbname sslmode=disable",
		},
		{
			name: "mysql DSN",
			config: DatabaseConfig{
				Driver:   "mysql",
				Host:     "localhost",
				Port:     3306,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
			},
			expected: "user:pass@tcp(localhost:3306)/dbname?parseTime=true",
		},
		{
			name:     "sqlite DSN",
			config:   DatabaseConfig{Driver: "sqlite", Name: "/path/to/chunks.db"},
			expected: "/path/to/chunks.db",
		},
		{
			name:     "unknown driver",
			config:   DatabaseConfig{Driver: "unknown"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

// --- MustLoad 测试 ---

func TestMustLoad_Success(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bytestream.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: 8080\n"), 0644))

	assert.NotPanics(t, func() {
		cfg := MustLoad(configPath)
		assert.Equal(t, 8080, cfg.Server.HTTPPort)
	})
}

func TestMustLoad_InvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("invalid: [yaml"), 0644))

	assert.Panics(t, func() {
		MustLoad(configPath)
	})
}

func TestLoadFromEnv_Function(t *testing.T) {
	t.Setenv("BYTESTREAM_WORKER_WORKERS", "9")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Worker.Workers)
}
