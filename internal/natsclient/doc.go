// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 natsclient 提供基于 NATS JetStream 的字节流分块日志，
供 connector/natsstream 在进程之间传递字节流。

# 概述

Client 封装 nats.Conn 与 JetStream 上下文，启动时创建（或更新）一个
覆盖 SubjectPrefix.> 的 JetStream 流。每个字节流映射为一个主题
（SubjectPrefix + "." + 流 ID）：生产者通过 Append 发布数据块、通过
Finish 发布带结束头的空消息；消费者通过 Reader 创建有序消费者，按流
序号从头或从指定序号之后拉取。

# 核心类型

  - Client：连接、JetStream 流与操作记录器，提供 Append/Finish/Reader/
    Len/Delete/Ping/Close。
  - Reader：有序消费者的拉取封装，Read 最多等待 FetchWait。
  - Config：地址、流名、主题前缀、重连与 TLS，可由 ConfigFrom 从
    config.NATSConfig 构造。
  - Entry：日志条目，携带流序号与数据块或结束标记。
*/
package natsclient
