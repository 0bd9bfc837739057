// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package nodes 提供 nodeflow 内置的通用节点实现目录。

# 概述

控制流节点（condition、try_catch、loop、sub_workflow）由引擎自身编排，
本包只提供普通节点的实现，并把它们与控制节点描述符一起按分类组织，
供编辑器面板与 HTTP API 的节点列表使用。

# 内置节点

  - start：入口节点，原样输出其数据
  - set_variable / append_variable：写入共享的全局变量层
  - log：向观察者输出一条日志
  - delay：等待指定时长，可被 context 取消
  - fail：以给定消息失败，用于测试错误路由
  - transform：使用 workflow/dsl 表达式计算一个值
  - http_request：发起 HTTP 请求，非 2xx 响应走 error 端口

# 使用方式

	registry := nodes.NewRegistry(nodes.Options{Logger: logger})
	engine := workflow.NewEngine(registry, workflow.WithLogger(logger))
*/
package nodes
