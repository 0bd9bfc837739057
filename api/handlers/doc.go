// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 NodeFlow HTTP API 的请求处理器实现。

# 概述

handlers 包实现工作流定义管理、同步运行、运行历史、节点目录、
WebSocket 实时运行流以及健康检查。所有 Handler 均遵循标准
net/http 接口，路由通过 chi 注册。

# 核心类型

  - WorkflowHandler：定义 CRUD、校验、运行、运行历史与节点目录
  - StreamHandler：WebSocket 运行流，逐条推送观察者事件
  - Runner：每次运行构造独立引擎，汇总最终状态
  - HealthHandler：服务健康检查（/health, /healthz, /ready）
  - Response：统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码，透传 Hijack

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteFailure / WriteJSON
  - 哨兵错误映射：store.ErrNotFound → 404，ErrInvalidInput → 400，
    ConfigurationError → 422
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - 可扩展健康检查：RegisterCheck 注册存储、Redis、数据库的 Ping
*/
package handlers
