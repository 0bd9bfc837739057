// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供可视化自动化构建器的图执行引擎。

# 概述

workflow 包把由类型化节点与命名端口连线组成的图驱动至完成：从根节点并发
出发，解析节点间 {{path}} 变量引用，按命名输出端口分支，捕获错误，对集合
迭代，并在防环保护下递归调用子工作流。同一引擎既服务于交互式编辑器
（HTTP / WebSocket），也服务于无界面的命令行运行。

# 核心接口与类型

  - Graph / Node / Edge：工作流定义，节点 + 带命名源端口的有向连线
  - Definition：持久化形式（id、name、version、data: Graph）
  - Implementation：节点实现契约（Type、Outputs、DefaultData、Execute）
  - Registry / Category：节点类型到实现的查找表
  - StateStore：单次运行的节点执行状态（running / success / error）
  - Variables：全局变量层，与子工作流共享
  - Observer：日志、节点状态、连线动画、变量面板刷新事件
  - Engine：执行引擎（Run / RunWorkflow）
  - WorkflowLoader：子工作流的存储协作者

# 控制流节点

  - condition：OR 分组内 AND 比较，或 dsl 表达式；选择 true / false 端口
  - try_catch：try 分支中后代节点的错误被重定向到 catch 端口，每次激活仅一次
  - loop：对序列逐项串行执行 loop 子图，结束后走 done 端口
  - sub_workflow：加载并运行嵌套工作流，调用栈检测递归

# 并发模型

根节点与同一端口的扇出连线各自在独立 goroutine 中执行并汇合等待；汇聚
节点不做去重，每条到达的连线各执行一次。循环迭代严格串行。状态存储由
互斥锁保护，允许读取其他分支仍处于 running 的条目。
*/
package workflow
