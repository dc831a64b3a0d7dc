// Package natstest 基于 testcontainers 启动带 JetStream 的 NATS 服务器，
// 供 natsclient 与 natsstream 的集成测试使用。Docker 不可用时跳过测试。
package natstest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/BaSui01/bytestream/internal/natsclient"
)

// Image 测试使用的 NATS 镜像
const Image = "nats:2.11.7-alpine"

// StartServer 启动 NATS 容器并返回客户端地址，测试结束时终止容器
func StartServer(t *testing.T) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        Image,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          []string{"--port", "4222", "--http_port", "8222", "--js"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/healthz").WithPort("8222/tcp").WithStartupTimeout(30*time.Second),
			),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("nats container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	return fmt.Sprintf("nats://%s:%s", host, port.Port())
}

// NewClient 启动服务器并连接，FetchWait 缩短以加快测试
func NewClient(t *testing.T) *natsclient.Client {
	t.Helper()
	cfg := natsclient.DefaultConfig()
	cfg.URL = StartServer(t)
	cfg.MaxReconnects = 0
	cfg.FetchWait = 100 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := natsclient.Connect(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("connect nats: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}
