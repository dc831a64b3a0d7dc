// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 bytestream 命令行与 HTTP 服务入口。

# 概述

cmd/bytestream 把 stream 包的字节流引擎接到文件、标准输入输出、
Redis Streams、NATS JetStream、SQL 分块表与 WebSocket 上。所有数据搬运都经由
Stream.PipeTo 完成，因此限速、取消与错误传播的行为在各子命令间一致。

# 子命令

  - serve    启动 HTTP 服务（/v1/echo、/v1/ws、/v1/streams/{id}、/metrics）
  - pipe     文件或 "-" 之间的单次 pipe
  - batch    在工作池上并发执行多组 in:out pipe
  - relay    任意两个端点之间转发，可周期性输出吞吐
  - migrate  用 golang-migrate 管理 stream_chunks 表
  - health   请求 /healthz
  - version  显示构建信息

# 端点

	-            标准输入/输出
	file:PATH    文件（无前缀同样视为文件）
	redis:ID     Redis Streams 日志
	sql:ID       SQL 分块表
	nats:ID      NATS JetStream 主题
	ws://…       WebSocket 连接

# 中间件链

Recovery → RequestID → SecurityHeaders → OTelTracing → Metrics →
RequestLogger → CORS → RateLimiter（按客户端 IP，rate_limit_rps 为 0 时关闭）
→ APIKeyAuth → JWTAuth。认证仅在配置 server.api_keys 或 server.jwt 时启用，
/healthz、/readyz、/version、/metrics 不需要认证。
*/
package main
