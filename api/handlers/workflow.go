package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/store"
	"github.com/BaSui01/nodeflow/types"
	"github.com/BaSui01/nodeflow/workflow"
)

// 运行结果状态，与引擎记录的指标标签一致
const (
	RunStatusCompleted           = string(workflow.ExecutionStatusCompleted)
	RunStatusCompletedWithErrors = string(workflow.ExecutionStatusCompletedWithErrors)
	RunStatusFailed              = string(workflow.ExecutionStatusFailed)
)

const defaultRunsLimit = 50

// =============================================================================
// 📦 请求与响应结构
// =============================================================================

// RunRequest 运行已存储工作流的请求体
type RunRequest struct {
	Globals map[string]any `json:"globals,omitempty"`
	Inputs  map[string]any `json:"inputs,omitempty"`
}

// RunGraphRequest 运行内联图的请求体
type RunGraphRequest struct {
	Graph   workflow.Graph `json:"graph"`
	Globals map[string]any `json:"globals,omitempty"`
	Inputs  map[string]any `json:"inputs,omitempty"`
}

// RunResponse 一次运行的结果
type RunResponse struct {
	RunID       string                        `json:"runId"`
	WorkflowID  string                        `json:"workflowId,omitempty"`
	Status      string                        `json:"status"`
	FailedNodes []string                      `json:"failedNodes,omitempty"`
	State       map[string]workflow.NodeState `json:"state"`
	Globals     map[string]any                `json:"globals"`
}

// ValidationResult 校验结果
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// NodeTypeInfo 节点目录中的一项
type NodeTypeInfo struct {
	Type     string         `json:"type"`
	Outputs  []string       `json:"outputs"`
	Defaults map[string]any `json:"defaults,omitempty"`
	Control  bool           `json:"control,omitempty"`
}

// NodeCategoryInfo 节点目录中的一个分类
type NodeCategoryInfo struct {
	Name  string         `json:"name"`
	Nodes []NodeTypeInfo `json:"nodes"`
}

// =============================================================================
// 🏃 Runner
// =============================================================================

// Runner 为每次运行构造独立的引擎。引擎同一时刻只执行一张图，
// 并发请求各自持有一个实例。
type Runner struct {
	registry *workflow.Registry
	loader   workflow.WorkflowLoader
	history  workflow.HistoryStore
	logger   *zap.Logger
	options  []workflow.EngineOption
	active   atomic.Int64
}

// NewRunner 创建 Runner。options 追加在默认选项之后（如 WithMetrics）。
func NewRunner(registry *workflow.Registry, loader workflow.WorkflowLoader, history workflow.HistoryStore, logger *zap.Logger, options ...workflow.EngineOption) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		registry: registry,
		loader:   loader,
		history:  history,
		logger:   logger,
		options:  options,
	}
}

// Registry 返回节点注册表
func (r *Runner) Registry() *workflow.Registry { return r.registry }

// History 返回运行历史存储，可能为 nil
func (r *Runner) History() workflow.HistoryStore { return r.history }

// ActiveRuns 返回正在执行的顶层运行数
func (r *Runner) ActiveRuns() int64 { return r.active.Load() }

// drainPollInterval 是 Drain 检查活跃运行数的间隔
const drainPollInterval = 50 * time.Millisecond

// Drain 等待所有活跃运行结束，ctx 结束时返回其错误。
// 服务器停止接收请求后调用。
func (r *Runner) Drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for {
		n := r.active.Load()
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d runs still active: %w", n, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *Runner) engine(obs workflow.Observer) *workflow.Engine {
	opts := []workflow.EngineOption{
		workflow.WithLoader(r.loader),
		workflow.WithLogger(r.logger),
		workflow.WithObserver(obs),
	}
	if r.history != nil {
		opts = append(opts, workflow.WithHistoryStore(r.history))
	}
	opts = append(opts, r.options...)
	return workflow.NewEngine(r.registry, opts...)
}

// RunWorkflow 加载并运行已存储的工作流
func (r *Runner) RunWorkflow(ctx context.Context, workflowID string, req RunRequest, obs workflow.Observer) (*RunResponse, error) {
	r.active.Add(1)
	defer r.active.Add(-1)

	globals := workflow.NewVariables(req.Globals)
	runID := uuid.NewString()
	state, err := r.engine(obs).RunWorkflow(ctx, workflowID, workflow.RunOptions{
		Globals:    globals,
		FormInputs: req.Inputs,
		RunID:      runID,
	})
	if state == nil && err != nil {
		return nil, err
	}
	return buildRunResponse(runID, workflowID, state, globals, err), err
}

// RunGraph 运行未存储的图
func (r *Runner) RunGraph(ctx context.Context, g *workflow.Graph, req RunRequest, obs workflow.Observer) (*RunResponse, error) {
	r.active.Add(1)
	defer r.active.Add(-1)

	globals := workflow.NewVariables(req.Globals)
	runID := uuid.NewString()
	state, err := r.engine(obs).Run(ctx, g, workflow.RunOptions{
		Globals:    globals,
		FormInputs: req.Inputs,
		RunID:      runID,
	})
	return buildRunResponse(runID, "", state, globals, err), err
}

func buildRunResponse(runID, workflowID string, state map[string]workflow.NodeState, globals *workflow.Variables, runErr error) *RunResponse {
	var failed []string
	for id, s := range state {
		if s.Status() == workflow.StatusError {
			failed = append(failed, id)
		}
	}
	status := RunStatusCompleted
	switch {
	case runErr != nil:
		status = RunStatusFailed
	case len(failed) > 0:
		status = RunStatusCompletedWithErrors
	}
	if state == nil {
		state = map[string]workflow.NodeState{}
	}
	return &RunResponse{
		RunID:       runID,
		WorkflowID:  workflowID,
		Status:      status,
		FailedNodes: sortedCopy(failed),
		State:       state,
		Globals:     globals.Snapshot(),
	}
}

func sortedCopy(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

// =============================================================================
// 🗂️ WorkflowHandler
// =============================================================================

// WorkflowHandler 工作流定义的 CRUD、校验、运行与历史查询
type WorkflowHandler struct {
	store  store.Store
	runner *Runner
	logger *zap.Logger
}

// NewWorkflowHandler 创建工作流处理器
func NewWorkflowHandler(s store.Store, runner *Runner, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowHandler{
		store:  s,
		runner: runner,
		logger: logger.With(zap.String("component", "workflow_handler")),
	}
}

// Mount 在路由上注册全部工作流端点
func (h *WorkflowHandler) Mount(r chi.Router) {
	r.Get("/api/v1/nodes", h.HandleNodes)
	r.Post("/api/v1/run", h.HandleRunGraph)
	r.Get("/api/v1/runs", h.HandleListRuns)
	r.Get("/api/v1/runs/{runID}", h.HandleGetRun)

	r.Get("/api/v1/workflows", h.HandleList)
	r.Post("/api/v1/workflows", h.HandleCreate)
	r.Post("/api/v1/workflows/validate", h.HandleValidate)
	r.Get("/api/v1/workflows/{id}", h.HandleGet)
	r.Put("/api/v1/workflows/{id}", h.HandleUpdate)
	r.Delete("/api/v1/workflows/{id}", h.HandleDelete)
	r.Post("/api/v1/workflows/{id}/run", h.HandleRun)
	r.Get("/api/v1/workflows/{id}/runs", h.HandleListRuns)
}

// HandleList 列出工作流定义
// @Summary 列出工作流
// @Tags 工作流
// @Produce json
// @Success 200 {object} Response "定义列表，按更新时间倒序"
// @Router /api/v1/workflows [get]
func (h *WorkflowHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	defs, err := h.store.List(r.Context())
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	if defs == nil {
		defs = []*workflow.Definition{}
	}
	WriteSuccess(w, defs)
}

// HandleGet 获取单个定义
func (h *WorkflowHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	def, err := h.store.GetWorkflowByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	WriteSuccess(w, def)
}

// HandleCreate 创建定义，未提供 id 时自动生成
// @Summary 创建工作流
// @Tags 工作流
// @Accept json
// @Produce json
// @Success 201 {object} Response "已保存的定义"
// @Failure 400 {object} Response "定义无效"
// @Router /api/v1/workflows [post]
func (h *WorkflowHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var def workflow.Definition
	if err := DecodeJSONBody(w, r, &def, h.logger); err != nil {
		return
	}
	if def.ID != "" {
		if _, err := h.store.GetWorkflowByID(r.Context(), def.ID); err == nil {
			WriteErrorMessage(w, http.StatusConflict, types.ErrConflict,
				fmt.Sprintf("workflow %q already exists", def.ID), h.logger)
			return
		}
	}
	if err := h.store.Save(r.Context(), &def); err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	h.logger.Info("workflow created", zap.String("workflow_id", def.ID))
	WriteSuccessStatus(w, http.StatusCreated, &def)
}

// HandleUpdate 替换定义，路径中的 id 优先
func (h *WorkflowHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := h.store.GetWorkflowByID(r.Context(), id); err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	var def workflow.Definition
	if err := DecodeJSONBody(w, r, &def, h.logger); err != nil {
		return
	}
	def.ID = id
	if err := h.store.Save(r.Context(), &def); err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	h.logger.Info("workflow updated", zap.String("workflow_id", id), zap.Int("version", def.Version))
	WriteSuccess(w, &def)
}

// HandleDelete 删除定义
func (h *WorkflowHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.Delete(r.Context(), id); err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	h.logger.Info("workflow deleted", zap.String("workflow_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// HandleValidate 校验定义与节点类型，不保存
func (h *WorkflowHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var def workflow.Definition
	if err := DecodeJSONBody(w, r, &def, h.logger); err != nil {
		return
	}
	WriteSuccess(w, h.validate(&def))
}

func (h *WorkflowHandler) validate(def *workflow.Definition) ValidationResult {
	var errs []string
	if err := workflow.ValidateDefinition(def); err != nil {
		errs = append(errs, err.Error())
	}
	if err := h.runner.Registry().Validate(&def.Data); err != nil {
		errs = append(errs, err.Error())
	}
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// HandleRun 同步运行已存储的工作流
// @Summary 运行工作流
// @Description 同步执行，返回最终执行状态与运行 ID。节点失败不会使请求失败，见 status 与 failedNodes。
// @Tags 工作流
// @Accept json
// @Produce json
// @Success 200 {object} Response "运行结果"
// @Failure 404 {object} Response "工作流不存在"
// @Failure 422 {object} Response "配置错误（如没有起始节点）"
// @Router /api/v1/workflows/{id}/run [post]
func (h *WorkflowHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if r.ContentLength != 0 {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}

	resp, err := h.runner.RunWorkflow(r.Context(), chi.URLParam(r, "id"), req, workflow.NopObserver{})
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	WriteSuccess(w, resp)
}

// HandleRunGraph 同步运行请求体中的图
func (h *WorkflowHandler) HandleRunGraph(w http.ResponseWriter, r *http.Request) {
	var req RunGraphRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := workflow.ValidateGraph(&req.Graph); err != nil {
		WriteError(w, types.NewError(types.ErrInvalidGraph, err.Error()), h.logger)
		return
	}

	resp, err := h.runner.RunGraph(r.Context(), &req.Graph, RunRequest{Globals: req.Globals, Inputs: req.Inputs}, workflow.NopObserver{})
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	WriteSuccess(w, resp)
}

// HandleListRuns 列出运行历史，新的在前，?limit= 默认 50。
// 挂在 /api/v1/runs 时不按工作流过滤。
func (h *WorkflowHandler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	history := h.runner.History()
	if history == nil {
		WriteErrorMessage(w, http.StatusNotImplemented, types.ErrServiceUnavailable, "run history is disabled", h.logger)
		return
	}

	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "limit must be a positive integer", h.logger)
			return
		}
		limit = n
	}

	runs, err := history.ListExecutions(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	if runs == nil {
		runs = []*workflow.ExecutionHistory{}
	}
	WriteSuccess(w, runs)
}

// HandleGetRun 获取单次运行的节点级历史
func (h *WorkflowHandler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	history := h.runner.History()
	if history == nil {
		WriteErrorMessage(w, http.StatusNotImplemented, types.ErrServiceUnavailable, "run history is disabled", h.logger)
		return
	}
	run, err := history.GetExecution(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		WriteFailure(w, err, h.logger)
		return
	}
	WriteSuccess(w, run)
}

// HandleNodes 返回节点目录，控制类节点排在最前
func (h *WorkflowHandler) HandleNodes(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, DescribeCatalog(h.runner.Registry()))
}

// DescribeCatalog 将注册表转换为可序列化的节点目录
func DescribeCatalog(registry *workflow.Registry) []NodeCategoryInfo {
	categories := registry.Categories()
	out := make([]NodeCategoryInfo, 0, len(categories))
	for _, c := range categories {
		info := NodeCategoryInfo{Name: c.Name, Nodes: make([]NodeTypeInfo, 0, len(c.Implementations))}
		for _, impl := range c.Implementations {
			info.Nodes = append(info.Nodes, NodeTypeInfo{
				Type:     impl.Type(),
				Outputs:  impl.Outputs(),
				Defaults: impl.DefaultData(),
				Control:  workflow.IsControlType(impl.Type()),
			})
		}
		out = append(out, info)
	}
	return out
}
