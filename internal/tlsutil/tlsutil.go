package tlsutil

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"
)

// TLS 1.2 suites nodeflow negotiates; TLS 1.3 suites are fixed by crypto/tls.
var aeadSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// DefaultTLSConfig 返回 TLS 1.2+、仅 AEAD 套件的配置，每次调用都是独立副本
func DefaultTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: append([]uint16(nil), aeadSuites...),
	}
}

// ClientConfig 用于连接 addr（host:port）上的服务，ServerName 取自 host
func ClientConfig(addr string) *tls.Config {
	cfg := DefaultTLSConfig()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		cfg.ServerName = host
	} else {
		cfg.ServerName = addr
	}
	return cfg
}

// ServerConfig 加载证书对。启动时调用，证书问题在绑定端口前暴露。
func ServerConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load tls key pair %s: %w", certFile, err)
	}
	cfg := DefaultTLSConfig()
	cfg.Certificates = []tls.Certificate{cert}
	return cfg, nil
}

// SecureTransport is the transport behind http_request nodes and the CLI's
// remote mode.
func SecureTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       DefaultTLSConfig(),
		TLSHandshakeTimeout:   10 * time.Second,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// SecureHTTPClient wraps SecureTransport. A zero timeout leaves each request
// bounded only by its context.
func SecureHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: SecureTransport()}
}
