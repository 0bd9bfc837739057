package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/api/handlers"
	"github.com/BaSui01/nodeflow/config"
	"github.com/BaSui01/nodeflow/internal/metrics"
	"github.com/BaSui01/nodeflow/internal/server"
	"github.com/BaSui01/nodeflow/internal/telemetry"
	"github.com/BaSui01/nodeflow/store"
	"github.com/BaSui01/nodeflow/workflow"
	"github.com/BaSui01/nodeflow/workflow/nodes"
)

// 不经过 JWT 鉴权的路径
var publicPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the NodeFlow HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := initLogger(cfg.Log)
			defer func() { _ = logger.Sync() }()

			logger.Info("Starting NodeFlow",
				zap.String("version", Version),
				zap.String("build_time", BuildTime),
				zap.String("git_commit", GitCommit),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := NewServer(cfg, logger)
			if err := srv.Init(ctx); err != nil {
				srv.Shutdown()
				return err
			}
			defer srv.Shutdown()
			return srv.Run(ctx)
		},
	}
}

// =============================================================================
// 🖥️ Server
// =============================================================================

// Server 组装存储、引擎、处理器与中间件
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	store            store.Store
	runner           *handlers.Runner
	metricsCollector *metrics.Collector
	telemetry        *telemetry.Providers
	httpManager      *server.Manager

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// Init 初始化遥测、指标、存储与引擎
func (s *Server) Init(ctx context.Context) error {
	providers, err := telemetry.Init(s.cfg.Telemetry, s.logger, telemetry.WithServiceVersion(Version))
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	s.telemetry = providers

	s.metricsCollector = metrics.NewCollector("nodeflow", s.logger)

	st, err := store.New(ctx, s.cfg, store.Options{Logger: s.logger, Metrics: s.metricsCollector})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	s.store = st

	var history workflow.HistoryStore = workflow.NewMemoryHistory(s.cfg.Engine.HistoryLimit)
	if persistent, ok := store.HistoryOf(st); ok {
		history = persistent
	}

	registry := nodes.NewRegistry(nodes.Options{
		HTTPTimeout: s.cfg.Engine.HTTPTimeout,
		MaxDelay:    s.cfg.Engine.MaxDelay,
		Logger:      s.logger,
	})
	s.runner = handlers.NewRunner(registry, st, history, s.logger,
		workflow.WithMetrics(s.metricsCollector),
		workflow.WithTracer(providers.Tracer(telemetry.TracerWorkflow)),
	)
	s.metricsCollector.WatchActiveRuns(s.runner.ActiveRuns)

	s.logger.Info("Engine initialized",
		zap.String("storage", s.cfg.Storage.Type),
		zap.Int("node_types", len(registry.Types())),
	)
	return nil
}

// Handler 构建路由与中间件链
func (s *Server) Handler() http.Handler {
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	return newRouter(routerDeps{
		cfg:       s.cfg.Server,
		store:     s.store,
		runner:    s.runner,
		metrics:   s.metricsCollector,
		logger:    s.logger,
		limiterCx: rateLimiterCtx,
	})
}

// Run 启动 HTTP 服务并阻塞直到 ctx 结束
func (s *Server) Run(ctx context.Context) error {
	readTimeout := s.cfg.Server.ReadTimeout
	s.httpManager = server.NewManager(s.Handler(), server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     readTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * readTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		TLSCertFile:     s.cfg.Server.TLSCertFile,
		TLSKeyFile:      s.cfg.Server.TLSKeyFile,
	}, s.logger)
	// WebSocket 触发的运行不受 http.Server.Shutdown 等待，需单独排空
	s.httpManager.OnDrain("runs", s.runner.Drain)

	return s.httpManager.Run(ctx)
}

// Shutdown 释放服务器持有的资源
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("Store close error", zap.Error(err))
		}
	}

	if s.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}

// =============================================================================
// 🌐 路由
// =============================================================================

type routerDeps struct {
	cfg       config.ServerConfig
	store     store.Store
	runner    *handlers.Runner
	metrics   *metrics.Collector
	logger    *zap.Logger
	limiterCx context.Context
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(
		Recovery(d.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		AccessLog(d.logger, d.metrics),
		CORS(d.cfg.CORSAllowedOrigins),
		RateLimiter(d.limiterCx, d.cfg.RateLimitRPS, d.cfg.RateLimitBurst, d.logger),
		JWTAuth(JWTOptions{Secret: d.cfg.JWTSecret, Issuer: d.cfg.JWTIssuer}, publicPaths, d.logger),
	)

	health := handlers.NewHealthHandler(d.logger)
	health.RegisterCheck(handlers.NewCheck("store", d.store.Ping))
	cached, _ := d.store.(*store.CachedStore)
	if cached != nil {
		health.RegisterCheck(handlers.NewOptionalCheck("cache", cached.PingCache))
	}
	health.SetDetails(func() map[string]any {
		details := map[string]any{
			"active_runs": d.runner.ActiveRuns(),
			"node_types":  len(d.runner.Registry().Types()),
		}
		if cached != nil {
			details["cache"] = cached.CacheStats()
		}
		return details
	})
	r.Get("/health", health.HandleHealth)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/ready", health.HandleReady)
	r.Get("/readyz", health.HandleReady)
	r.Get("/version", health.HandleVersion(Version, BuildTime, GitCommit))
	r.Handle("/metrics", promhttp.Handler())

	handlers.NewWorkflowHandler(d.store, d.runner, d.logger).Mount(r)
	handlers.NewStreamHandler(d.store, d.runner, originHosts(d.cfg.CORSAllowedOrigins), d.logger).Mount(r)

	return r
}

// originHosts 将 CORS 来源转换为 WebSocket 的 host 匹配模式
func originHosts(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		if o = strings.TrimSuffix(o, "/"); o != "" {
			out = append(out, o)
		}
	}
	return out
}
