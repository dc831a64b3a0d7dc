// =============================================================================
// bytestream 主入口
// =============================================================================
// 字节流引擎的命令行入口：本地 pipe、批量 pipe、跨连接器转发、HTTP 服务
//
// 使用方法:
//
//	bytestream serve --config config.yaml      # 启动 HTTP 服务
//	bytestream pipe -in a.bin -out b.bin       # 文件 → 流 → 文件
//	bytestream batch a.bin:b.bin c.bin:d.bin   # 工作池并发 pipe
//	bytestream relay -from redis:job1 -to -    # 在连接器之间转发
//	bytestream migrate up                      # 执行 stream_chunks 迁移
//	bytestream health                          # 健康检查
//	bytestream version                         # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/bytestream/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "pipe":
		exitOnError(runPipe(os.Args[2:]))
	case "batch":
		exitOnError(runBatch(os.Args[2:]))
	case "relay":
		exitOnError(runRelay(os.Args[2:]))
	case "migrate":
		exitOnError(runMigrate(os.Args[2:]))
	case "health":
		runHealthCheck(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting bytestream",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	srv := NewServer(cfg, logger)
	if err := srv.Start(); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	srv.WaitForShutdown()
	logger.Info("bytestream stopped")
}

// loadConfig 加载并校验配置；path 为空时只使用默认值与环境变量
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	if err := checkHealth(context.Background(), *addr); err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func checkHealth(ctx context.Context, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("bytestream %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`bytestream - BYOB readable byte stream engine

Usage:
  bytestream <command> [options]

Commands:
  serve     Start the HTTP server (/healthz, /readyz, /metrics, /v1/echo, /v1/ws, /v1/streams)
  pipe      Pipe one file into another through a byte stream
  batch     Run several in:out pipes on the worker pool
  relay     Pipe between endpoints (file:, redis:, sql:, ws:, -)
  migrate   stream_chunks schema migrations
  health    Check server health
  version   Show version information
  help      Show this help message

Options for 'serve', 'pipe', 'batch', 'relay', 'migrate':
  --config <path>   Path to configuration file (YAML)

Examples:
  bytestream serve --config /etc/bytestream/config.yaml
  bytestream pipe -in input.bin -out output.bin -rate 1048576
  bytestream batch a.bin:a.copy b.bin:b.copy
  bytestream relay -from file:input.bin -to redis:job-42
  bytestream relay -from redis:job-42 -to ws://localhost:8080/v1/ws
  bytestream migrate up
  bytestream health --addr http://localhost:8080`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
