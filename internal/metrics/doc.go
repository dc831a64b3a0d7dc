// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的字节流指标采集能力，覆盖
字节流、pipe、连接器与 HTTP 四个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制。Collector 实现 stream.MetricsRecorder 接口，可直接通过
stream.WithMetrics 注入到字节流中。所有指标按 namespace 隔离。

# 主要能力

  - 字节流指标：打开中的流数量、终态计数（closed/errored/canceled）、
    enqueue 与交付字节数、读取结果、pull 次数、BYOB 响应。
  - Pipe 指标：完成次数、写入字节数、耗时。
  - 连接器指标：redis / sql / nats / websocket 操作计数与耗时。
  - HTTP 指标：请求总数与耗时，状态码归类为 2xx/3xx/4xx/5xx。
*/
package metrics
