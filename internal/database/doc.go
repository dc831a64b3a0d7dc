// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接池管理与字节流分块存储，
供 connector/sqlchunk 把字节流持久化到 PostgreSQL、MySQL 或 SQLite。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 与事务方法。Open 按
    config.DatabaseConfig 的驱动名选择方言。
  - PoolConfig：连接池配置，包含最大空闲连接数、最大打开连接数、
    连接最大生命周期、空闲超时与健康检查间隔。
  - Chunk：stream_chunks 表模型，(stream_id, seq) 唯一。
  - ChunkStore：分块存储，提供 Migrate/Append/Finish/ReadAfter/Size/Delete。

# 主要能力

  - 多驱动：postgres、mysql 与纯 Go 的 SQLite（glebarez/sqlite）。
  - 事务重试：死锁、序列化失败、锁超时与序号冲突按指数退避重试。
  - 健康检查：后台定时探活，Close 后退出。
*/
package database
