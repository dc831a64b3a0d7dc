// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为字节流服务提供 TracerProvider 和 MeterProvider 配置，
// 使 stream.PipeTo 与各连接器的 span 能够导出到 OTLP 收集器。
// 当遥测功能禁用时，使用 noop 实现，不连接任何外部服务。
package telemetry
