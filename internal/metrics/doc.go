// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
HTTP、工作流执行、缓存与数据库四个维度。

# 概述

Collector 通过 promauto 注册全部指标，按 namespace 隔离。
它实现 workflow.MetricsRecorder，引擎在每次运行、节点执行、
catch 捕获、循环迭代与递归拒绝时回调对应方法。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 工作流指标：运行总数与耗时（按 workflow_id/status）、节点执行总数与耗时
    （按 node_type/status）、catch 次数、循环迭代次数、递归拒绝次数。
  - 缓存指标：工作流定义读穿缓存的命中与未命中。
  - 数据库指标：连接池打开/空闲连接数与查询耗时。
  - 在途运行：WatchActiveRuns 注册 GaugeFunc，抓取时读取 Runner 的计数。
*/
package metrics
