// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP 服务器生命周期管理，支持非阻塞启动、
优雅关闭与系统信号监听，承载 bytestream serve 命令的
echo、WebSocket、健康检查与指标接口。

# 核心类型

  - Manager：HTTP 服务器管理器，持有 http.Server、net.Listener
    与异步错误通道，提供 Start/Shutdown/WaitForShutdown 等生命周期方法。
  - Config：服务器配置，可由 ConfigFrom 从 config.ServerConfig 构造。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务。
  - 优雅关闭：Shutdown 在配置的超时内排空请求。
  - 信号监听：WaitForShutdown 监听 SIGINT/SIGTERM。
  - 流式写出：WriteTimeout 为 0 时长连接的字节流不会被截断。
*/
package server
