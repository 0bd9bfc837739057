package handlers

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// 健康状态
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// HealthCheck 就绪检查
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus /health 与 /ready 的响应体
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Details   map[string]any         `json:"details,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status   string `json:"status"` // pass | fail
	Optional bool   `json:"optional,omitempty"`
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency,omitempty"`
}

// HealthHandler 存活、就绪与版本端点。
// 就绪检查并发执行：必需检查失败返回 503，只有可选检查失败时返回 200 与 degraded。
type HealthHandler struct {
	logger  *zap.Logger
	timeout time.Duration
	started time.Time

	mu      sync.RWMutex
	checks  []HealthCheck
	details func() map[string]any
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:  logger.With(zap.String("component", "health_handler")),
		timeout: 5 * time.Second,
		started: time.Now(),
	}
}

// RegisterCheck 注册就绪检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// SetDetails 设置就绪响应附带的运行时信息（如正在执行的运行数）
func (h *HealthHandler) SetDetails(fn func() map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.details = fn
}

// HandleHealth 存活探针，只确认进程在运行
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    HealthHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Truncate(time.Second).String(),
	})
}

// HandleReady 就绪探针
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	details := h.details
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			results[i] = h.run(ctx, check)
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Status:    HealthHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Truncate(time.Second).String(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for i, check := range checks {
		res := results[i]
		status.Checks[check.Name()] = res
		if res.Status == "pass" {
			continue
		}
		if !res.Optional {
			status.Status = HealthUnhealthy
		} else if status.Status == HealthHealthy {
			status.Status = HealthDegraded
		}
	}
	if details != nil {
		status.Details = details()
	}

	code := http.StatusOK
	if status.Status == HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

func (h *HealthHandler) run(ctx context.Context, check HealthCheck) CheckResult {
	start := time.Now()
	err := check.Check(ctx)
	latency := time.Since(start)

	res := CheckResult{Status: "pass", Latency: latency.String()}
	if c, ok := check.(*CheckFunc); ok {
		res.Optional = c.optional
	}
	if err != nil {
		res.Status = "fail"
		res.Message = err.Error()
		h.logger.Warn("readiness check failed",
			zap.String("check", check.Name()),
			zap.Bool("optional", res.Optional),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
	}
	return res
}

// HandleVersion 版本信息
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
			"go_version": runtime.Version(),
		})
	}
}

// CheckFunc 以函数实现的检查，用于存储、缓存与数据库的 Ping
type CheckFunc struct {
	name     string
	ping     func(ctx context.Context) error
	optional bool
}

// NewCheck 创建必需检查
func NewCheck(name string, ping func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, ping: ping}
}

// NewOptionalCheck 创建可选检查，失败只会使状态降级
func NewOptionalCheck(name string, ping func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, ping: ping, optional: true}
}

func (c *CheckFunc) Name() string { return c.name }

func (c *CheckFunc) Check(ctx context.Context) error { return c.ping(ctx) }
