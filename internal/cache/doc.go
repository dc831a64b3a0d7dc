// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis Streams 的字节流分块日志，
供 connector/redisstream 在进程之间传递字节流。

# 概述

Manager 封装 go-redis 客户端，把每个字节流映射为一个 Redis Stream
键（KeyPrefix + 流 ID）。生产者通过 Append 追加数据块、通过 Finish
写入结束标记；消费者通过 Read 以 XREAD BLOCK 方式从上次位置继续读取。

# 核心类型

  - Manager：持有 Redis 客户端与连接池配置，提供 Append/Finish/Read/
    Len/Delete/Ping/Close。
  - Config：地址、密码、连接池、阻塞时长、MaxLen 裁剪与健康检查间隔，
    可由 ConfigFrom 从 config.RedisConfig 构造。
  - Entry：日志条目，携带数据块或结束标记。
  - OpRecorder：操作耗时记录接口，由 metrics.Collector 实现。

# 主要能力

  - 阻塞读取：Read 最多阻塞 BlockTimeout，超时返回空结果。
  - 长度裁剪：MaxLen 大于 0 时 XADD 附带近似 MAXLEN。
  - 健康检查：后台定时 Ping，Close 后退出。
*/
package cache
