// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理 SQL 分块存储（stream_chunks 表）的 Schema 版本，
基于 golang-migrate 实现，支持 PostgreSQL、MySQL 与 SQLite。

# 概述

各方言的迁移文件通过 embed.FS 内嵌，由 iofs 源驱动交给
golang-migrate 执行。表结构与 database.Chunk 模型一致；开发环境
也可以直接使用 ChunkStore.Migrate（GORM AutoMigrate）。

SQLite 迁移走 sqlite3 驱动（需要 cgo），与 database 包使用的纯 Go
"sqlite" 驱动注册名不同，两者可以链接进同一个二进制。

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/DownAll/Steps/Goto/Force/
    Version/Status/Info/Close。
  - Config：方言、连接串、版本表名、锁超时与 zap 日志。
  - CLI：命令行输出层，Run 按动作名分发。
  - ListMigrations：不连库即可列出内嵌迁移。
*/
package migration
