// Package config 提供 bytestream 的配置管理功能。
//
// 配置来源依次为默认值、YAML 文件和环境变量（前缀 BYTESTREAM），
// 覆盖流控制器参数、pipe 限速、连接器（Redis / SQL / WebSocket / NATS）、
// HTTP 服务、日志和遥测。
package config
