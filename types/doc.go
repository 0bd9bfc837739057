// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 nodeflow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 workflow、store、api 等
上层模块提供统一的错误码与 context 传播工具，以避免循环依赖。

# 核心类型

  - Error / ErrorCode：结构化错误，ErrorCode 自带默认 HTTP 状态与可重试判定
  - Context 传播：WithTraceID / WithRequestID / WithRunID / WithWorkflowID，IdentityFrom 一次取全

# 主要能力

  - 错误工具链：AsError / IsErrorCode / IsRetryable / CodeOf / Wrap
  - 执行错误码：CONFIGURATION_ERROR / NODE_EXECUTION_ERROR / RECURSION_ERROR
*/
package types
