// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的缓存，供工作流定义存储的读穿缓存使用。

Manager 封装 go-redis 客户端，统一键前缀、默认 TTL（可按比例随机上浮）
与 JSON 编解码。Fetch 实现读穿：未命中时回源加载并写回，同一键上并发的
未命中经 singleflight 合并为一次回源；Redis 故障只记录日志，调用方仍拿到
回源结果。

Stats 返回本进程的命中、未命中、错误与合并计数，以及后台 PING 观察到的
健康状态；健康状态只在变化时记录日志。

错误：ErrCacheMiss（可用 IsCacheMiss 判断）与 ErrClosed。
*/
package cache
