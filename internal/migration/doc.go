// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理工作流存储的数据库 Schema 版本，支持 PostgreSQL、
MySQL 与 SQLite 三种方言，基于 golang-migrate 实现。

# 概述

本包通过 embed.FS 内嵌 nodeflow_workflows 与 nodeflow_runs 两张表的
SQL 迁移文件，每种方言一个目录。迁移版本记录在
nodeflow_schema_migrations 表中。GORM 存储后端默认在启动时自动建表；
生产环境可关闭自动建表，改用 nodeflow migrate 命令显式管理 Schema。

# 核心类型

  - Migrator：迁移器接口，定义 Up/Down/DownAll/Steps/Goto/Force/
    Version/Status/Info/Close 操作集。
  - DefaultMigrator：基于 golang-migrate 的默认实现，取消 ctx 会在当前文件完成后停止，Close 时释放
    数据库连接。
  - Options：版本表名、锁超时与日志。
  - CLI：为 nodeflow migrate 子命令提供格式化输出。

# 构造方式

NewMigratorFromConfig 按 config.DatabaseConfig 打开连接；
NewMigratorFromPool 复用 internal/database 的 PoolManager；
NewMigrator 直接接收 *sql.DB。ParseDialect 将驱动名
（postgres、mysql、sqlite、sqlite3 等）映射为方言。
*/
package migration
