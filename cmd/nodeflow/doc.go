// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 NodeFlow 服务端与命令行入口。

# 概述

cmd/nodeflow 是工作流引擎的可执行入口，基于 cobra 提供 HTTP API 服务、
本地运行、定义校验、节点目录、健康检查和版本查询等子命令。程序支持
YAML 配置文件与环境变量加载、结构化日志（zap）、Prometheus 指标采集
以及 OpenTelemetry 链路追踪。

# 核心类型

  - Server：组装存储、引擎 Runner、处理器与 chi 路由，负责优雅关闭
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler
  - JWTOptions：HS256 Bearer 鉴权配置

# 主要能力

  - 子命令：serve、run、validate、nodes、health、version、migrate、config
  - 中间件：Recovery、RequestID、SecurityHeaders、OTelTracing、
    AccessLog（访问日志与 HTTP 指标）、CORS、RateLimiter（基于 IP，429 带 Retry-After）、JWTAuth
  - /metrics 与 API 共用端口，按 chi 路由模式记录请求指标
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
