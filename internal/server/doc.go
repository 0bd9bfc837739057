// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 nodeflow API 服务器的生命周期。

Manager 封装 net/http.Server：Listen 绑定地址，Run 在 errgroup 中服务
请求并在 ctx 结束时优雅关闭。关闭时先停止接收连接、等待进行中的请求，
再依次调用 OnDrain 注册的排空函数，例如等待 WebSocket 触发的工作流
运行结束。配置证书后以 HTTPS 启动，使用 tlsutil 的加固 TLS 配置。

	m := server.NewManager(router, cfg, logger)
	m.OnDrain("runs", runner.Drain)
	err := m.Run(ctx)
*/
package server
