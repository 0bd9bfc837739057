package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/nodeflow/internal/tlsutil"
)

// ErrStopped 表示服务器已关闭，不能再次监听
var ErrStopped = errors.New("server stopped")

// Config 服务器配置
type Config struct {
	// 监听地址，":0" 表示随机端口
	Addr string `yaml:"addr" json:"addr"`

	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// 同步运行工作流的请求在写超时内完成
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	IdleTimeout    time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes" json:"max_header_bytes"`

	// 关闭监听、等待请求与排空运行共用这一时限
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// 两者都设置时以 HTTPS 启动
	TLSCertFile string `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file" json:"tls_key_file"`
}

// DefaultConfig 返回默认服务器配置
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		IdleTimeout:     2 * time.Minute,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 30 * time.Second,
	}
}

// TLSEnabled 报告是否配置了证书
func (c Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

type drainer struct {
	name string
	fn   func(context.Context) error
}

// Manager 负责 API 服务器的监听、服务与优雅关闭。
//
// 关闭顺序：停止接收连接并等待进行中的请求，然后依注册顺序调用
// drainer（例如等待 WebSocket 触发的运行结束），整体受 ShutdownTimeout 约束。
type Manager struct {
	srv    *http.Server
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	ln       net.Listener
	serving  bool
	stopped  bool
	drainers []drainer
}

// NewManager 创建服务器管理器
func NewManager(handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &http.Server{
		Handler:        handler,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}
	return &Manager{
		srv:    srv,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "http_server")),
	}
}

// OnDrain 注册关闭时调用的排空函数
func (m *Manager) OnDrain(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drainers = append(m.drainers, drainer{name: name, fn: fn})
}

// Listen 绑定监听地址。Run 会在未绑定时自动调用。
func (m *Manager) Listen() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listenLocked()
}

func (m *Manager) listenLocked() error {
	if m.stopped {
		return ErrStopped
	}
	if m.ln != nil {
		return fmt.Errorf("already listening on %s", m.ln.Addr())
	}
	if m.cfg.TLSEnabled() {
		tlsCfg, err := tlsutil.ServerConfig(m.cfg.TLSCertFile, m.cfg.TLSKeyFile)
		if err != nil {
			return err
		}
		m.srv.TLSConfig = tlsCfg
	}
	ln, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.cfg.Addr, err)
	}
	m.ln = ln
	return nil
}

// Run 服务请求直到 ctx 结束或服务异常退出，随后优雅关闭。
// 因 ctx 结束而关闭时返回 nil（或排空错误）。
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.serving {
		m.mu.Unlock()
		return errors.New("server already running")
	}
	if m.ln == nil {
		if err := m.listenLocked(); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	m.serving = true
	ln := m.ln
	m.mu.Unlock()

	// serve 返回（包括被外部 Shutdown 停止）时也要结束等待协程
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		err := m.serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		m.logger.Error("server exited unexpectedly", zap.Error(err))
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		return m.Shutdown(context.WithoutCancel(ctx))
	})
	return g.Wait()
}

func (m *Manager) serve(ln net.Listener) error {
	if m.cfg.TLSEnabled() {
		m.logger.Info("serving HTTPS",
			zap.String("addr", ln.Addr().String()),
			zap.String("cert", m.cfg.TLSCertFile),
		)
		// certificates were loaded into TLSConfig by Listen
		return m.srv.ServeTLS(ln, "", "")
	}
	m.logger.Info("serving HTTP", zap.String("addr", ln.Addr().String()))
	return m.srv.Serve(ln)
}

// Shutdown 停止服务并排空，可重复调用
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	drainers := append([]drainer(nil), m.drainers...)
	ln := m.ln
	serving := m.serving
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
	defer cancel()

	start := time.Now()
	m.logger.Info("shutting down", zap.Int("drainers", len(drainers)))

	var errs []error
	if err := m.srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	// 绑定后未进入 Serve 的监听器需自行关闭
	if ln != nil && !serving {
		_ = ln.Close()
	}
	for _, d := range drainers {
		if err := d.fn(ctx); err != nil {
			m.logger.Warn("drain incomplete", zap.String("drainer", d.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("drain %s: %w", d.name, err))
		}
	}

	m.logger.Info("server stopped", zap.Duration("took", time.Since(start)))
	return errors.Join(errs...)
}

// Addr 返回实际监听地址；未绑定时返回配置地址
func (m *Manager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ln != nil {
		return m.ln.Addr().String()
	}
	return m.cfg.Addr
}

// Stopped 报告 Shutdown 是否已被调用
func (m *Manager) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}
