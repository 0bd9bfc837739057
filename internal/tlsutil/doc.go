// Package tlsutil 集中维护 TLS 设置（TLS 1.2+，仅 AEAD 套件）：
// http_request 节点与 CLI 远程模式的 HTTP 客户端、HTTPS 监听端的证书加载，
// 以及 Redis 连接的客户端配置。
package tlsutil
