// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接池管理，支持多驱动打开、
健康检查、统计信息上报与事务重试。

# 概述

Open 按驱动名（postgres、mysql、sqlite、sqlite3）构造 Dialector
并打开连接，随后交给 PoolManager 统一管理连接生命周期。后台健康
检查定时探活，结果写入 zap 日志，并可通过 StatsRecorder 上报给
Prometheus 指标收集器。工作流存储的 GORM 后端建立在本包之上。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置，Validate 校验上下限关系。
  - StatsRecorder：连接数上报接口，由 metrics.Collector 实现。
  - TransactionFunc：事务回调函数类型。
  - GormLogger：把 GORM 的 SQL 日志写入 zap，失败语句记 error，慢查询记 warn。

# 主要能力

  - 多驱动：sqlite 使用纯 Go 的 glebarez 实现，sqlite3 使用 cgo 驱动。
  - 健康检查：后台定时 PingContext 探活，只在状态切换时记日志，
    Healthy 返回最近结果，Close 等待检查协程退出。
  - 事务管理：WithTransaction 提供单次事务执行，
    WithTransactionRetry 对 IsRetryable 判定的冲突指数退避重试。
    IsRetryable 识别 pgconn.PgError 的 SQLSTATE、MySQLError 的错误号、
    driver.ErrBadConn，以及 sqlite 的 database is locked。
*/
package database
