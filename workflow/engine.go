package workflow

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/nodeflow/types"
)

const tracerName = "github.com/BaSui01/nodeflow/workflow"

// MetricsRecorder receives engine measurements. internal/metrics provides
// the Prometheus implementation.
type MetricsRecorder interface {
	RecordRun(workflowID, status string, duration time.Duration)
	RecordNodeExecution(nodeType, status string, duration time.Duration)
	RecordCatch(workflowID string)
	RecordLoopIteration(workflowID string)
	RecordRecursionRejected(workflowID string)
}

type nopRecorder struct{}

func (nopRecorder) RecordRun(string, string, time.Duration)           {}
func (nopRecorder) RecordNodeExecution(string, string, time.Duration) {}
func (nopRecorder) RecordCatch(string)                                {}
func (nopRecorder) RecordLoopIteration(string)                        {}
func (nopRecorder) RecordRecursionRejected(string)                    {}

// RunOptions configures one run.
type RunOptions struct {
	// GlobalVariables seeds a fresh global layer when Globals is nil.
	GlobalVariables map[string]any
	// Globals is a shared global layer. Sub-workflow runs receive the
	// parent's so writes are visible in both directions.
	Globals *Variables
	// FormInputs is the caller-supplied input layer ({{form.x}}).
	FormInputs map[string]any
	// InvocationStack lists the workflow ids currently executing above this
	// run. A non-empty stack marks a nested run.
	InvocationStack []string
	// WorkflowID identifies the graph being run, when it has one.
	WorkflowID string
	// RunID overrides the generated run id.
	RunID string
	// ParentRunID links a sub-workflow run to the run that started it.
	// Runs with a parent report node failures as an error.
	ParentRunID string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLoader sets the storage collaborator used by sub-workflow nodes.
func WithLoader(loader WorkflowLoader) EngineOption {
	return func(e *Engine) { e.loader = loader }
}

// WithObserver sets the observer notified of run events.
func WithObserver(obs Observer) EngineOption {
	return func(e *Engine) {
		if obs != nil {
			e.observer = obs
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) EngineOption {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithHistoryStore persists an ExecutionHistory for every finished run.
func WithHistoryStore(store HistoryStore) EngineOption {
	return func(e *Engine) { e.history = store }
}

// Engine executes workflow graphs. One engine runs one graph at a time; a
// second Run while busy fails with ErrRunInProgress. Use separate engines
// for concurrent runs.
type Engine struct {
	registry *Registry
	loader   WorkflowLoader
	observer Observer
	logger   *zap.Logger
	tracer   trace.Tracer
	metrics  MetricsRecorder
	history  HistoryStore

	running atomic.Bool
	state   *StateStore
}

// NewEngine creates an engine over a registry.
func NewEngine(registry *Registry, opts ...EngineOption) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	e := &Engine{
		registry: registry,
		observer: NopObserver{},
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(tracerName),
		metrics:  nopRecorder{},
		state:    NewStateStore(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "workflow_engine"))
	return e
}

// Registry returns the engine's registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Running reports whether a run is in progress.
func (e *Engine) Running() bool { return e.running.Load() }

// State returns a snapshot of the current (or last) run's state. During a
// run it may include entries still in the running status.
func (e *Engine) State() map[string]NodeState { return e.state.Snapshot() }

// nested builds the engine instance that runs a sub-workflow.
func (e *Engine) nested(obs Observer) *Engine {
	return &Engine{
		registry: e.registry,
		loader:   e.loader,
		observer: obs,
		logger:   e.logger,
		tracer:   e.tracer,
		metrics:  e.metrics,
		history:  e.history,
		state:    NewStateStore(),
	}
}

// RunWorkflow loads a stored workflow and runs it.
func (e *Engine) RunWorkflow(ctx context.Context, workflowID string, opts RunOptions) (map[string]NodeState, error) {
	if e.loader == nil {
		return nil, fmt.Errorf("no workflow loader configured")
	}
	def, err := e.loader.GetWorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}
	opts.WorkflowID = workflowID
	return e.Run(ctx, &def.Data, opts)
}

// Run executes the graph to completion and returns the final state.
//
// Node failures stay inside their branch, so a top-level run returns a nil
// error even when nodes ended in error; inspect the returned state. A run
// with a non-empty InvocationStack (a sub-workflow) returns an error when
// any of its nodes errored. A non-empty graph without a root node returns a
// ConfigurationError and executes nothing.
func (e *Engine) Run(ctx context.Context, g *Graph, opts RunOptions) (map[string]NodeState, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer e.running.Store(false)

	if g == nil {
		g = NewGraph()
	}

	e.state.Reset()
	r := e.newRun(g.Clone(), opts)
	return r.execute(ctx)
}

// catchFrame is one entry of a branch's try/catch stack. Frames are
// immutable apart from the consumed flag, so sibling branches share their
// ancestors' frames safely.
type catchFrame struct {
	node     Node
	parent   *catchFrame
	consumed atomic.Bool
}

type run struct {
	engine     *Engine
	graph      *Graph
	id         string
	workflowID string
	parentID   string
	stack      []string
	globals    *Variables
	form       map[string]any
	state      *StateStore
	obs        Observer
	logger     *zap.Logger
	history    *ExecutionHistory
}

func (e *Engine) newRun(g *Graph, opts RunOptions) *run {
	id := opts.RunID
	if id == "" {
		id = uuid.NewString()
	}
	globals := opts.Globals
	if globals == nil {
		globals = NewVariables(opts.GlobalVariables)
	}
	form := opts.FormInputs
	if form == nil {
		form = map[string]any{}
	}
	return &run{
		engine:     e,
		graph:      g,
		id:         id,
		workflowID: opts.WorkflowID,
		parentID:   opts.ParentRunID,
		stack:      append([]string(nil), opts.InvocationStack...),
		globals:    globals,
		form:       cloneMap(form),
		state:      e.state,
		obs:        e.observer,
		logger: e.logger.With(
			zap.String("run_id", id),
			zap.String("workflow_id", opts.WorkflowID),
			zap.Int("depth", len(opts.InvocationStack)),
		),
		history: newRunHistory(id, opts),
	}
}

func newRunHistory(id string, opts RunOptions) *ExecutionHistory {
	h := NewExecutionHistory(id, opts.WorkflowID)
	h.ParentRunID = opts.ParentRunID
	h.Depth = len(opts.InvocationStack)
	return h
}

func (r *run) nestedRun() bool { return r.parentID != "" || len(r.stack) > 0 }

func (r *run) metricsID() string {
	if r.workflowID == "" {
		return "inline"
	}
	return r.workflowID
}

func (r *run) execute(ctx context.Context) (map[string]NodeState, error) {
	start := time.Now()
	ctx = types.WithRunID(ctx, r.id)
	if r.workflowID != "" {
		ctx = types.WithWorkflowID(ctx, r.workflowID)
	}
	ctx, span := r.engine.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.id", r.workflowID),
		attribute.String("workflow.run_id", r.id),
		attribute.Int("workflow.depth", len(r.stack)),
		attribute.Int("workflow.nodes", len(r.graph.Nodes)),
	))
	defer span.End()

	r.obs.Clear()
	r.logger.Info("starting workflow run", zap.Int("nodes", len(r.graph.Nodes)))

	if len(r.graph.Nodes) == 0 {
		r.obs.Info("workflow is empty, nothing to run")
		return r.finish(ctx, span, start, nil)
	}

	roots := r.graph.Roots()
	if len(roots) == 0 {
		err := NewConfigurationError("", "no start node: every node has an incoming connection")
		r.obs.Error(err.Message)
		r.logger.Error("workflow has no start node")
		state, _ := r.finish(ctx, span, start, err)
		return state, err
	}

	r.obs.Info(fmt.Sprintf("starting workflow with %d start node(s)", len(roots)))
	r.obs.UpdateVariables(r.globals.Snapshot(), r.form, r.state.Snapshot())

	var eg errgroup.Group
	for _, root := range roots {
		eg.Go(func() error {
			r.executeNode(ctx, root, nil)
			return nil
		})
	}
	_ = eg.Wait()

	var runErr error
	if failed := r.state.Errored(); len(failed) > 0 {
		if r.nestedRun() {
			first, _ := r.state.Get(failed[0])
			runErr = types.NewError(types.ErrNodeExecution,
				fmt.Sprintf("%d node(s) failed (%s); first error: %s",
					len(failed), strings.Join(failed, ", "), first.ErrorMessage()))
		}
		r.obs.Warn(fmt.Sprintf("workflow finished with %d failed node(s)", len(failed)))
	} else {
		r.obs.Success("workflow finished")
	}
	return r.finish(ctx, span, start, runErr)
}

func (r *run) finish(ctx context.Context, span trace.Span, start time.Time, runErr error) (map[string]NodeState, error) {
	snapshot := r.state.Snapshot()
	r.obs.UpdateVariables(r.globals.Snapshot(), r.form, snapshot)

	failed := r.state.Errored()
	r.history.Finish(failed, runErr)
	status := string(r.history.Status)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}
	duration := time.Since(start)
	r.engine.metrics.RecordRun(r.metricsID(), status, duration)

	if r.engine.history != nil {
		if err := r.engine.history.SaveExecution(ctx, r.history); err != nil {
			r.logger.Warn("failed to save execution history", zap.Error(err))
		}
	}

	r.logger.Info("workflow run finished",
		zap.String("status", status),
		zap.Int("failed_nodes", len(failed)),
		zap.Duration("duration", duration),
	)
	return snapshot, runErr
}

func (r *run) scope() Scope {
	return NewScope(r.globals.Snapshot(), r.form, r.state.Snapshot())
}

func (r *run) setState(nodeID string, state NodeState) {
	r.state.Set(nodeID, state)
	r.obs.NodeState(nodeID, state)
}

func (r *run) outputs(nodeType string) []string {
	outputs, _ := r.engine.registry.outputsFor(nodeType)
	return outputs
}

// executeNode runs one node and then the subgraph behind the port it
// selects. It returns once that whole subgraph has settled.
func (r *run) executeNode(ctx context.Context, node Node, frame *catchFrame) {
	data := ResolveData(node.Data, r.scope())

	var impl Implementation
	if !IsControlType(node.Type) {
		var ok bool
		impl, ok = r.engine.registry.FindImplementation(node.Type)
		if !ok {
			err := NewConfigurationError(node.ID, fmt.Sprintf("unknown node type %q", node.Type))
			r.history.EndNode(r.history.StartNode(node, data), Result{}, err)
			r.engine.metrics.RecordNodeExecution(node.Type, string(StatusError), 0)
			r.fail(ctx, node, err, frame)
			return
		}
	}

	ctx, span := r.engine.tracer.Start(ctx, "workflow.node", trace.WithAttributes(
		attribute.String("node.id", node.ID),
		attribute.String("node.type", node.Type),
	))
	defer span.End()

	r.setState(node.ID, RunningState())
	rec := r.history.StartNode(node, data)
	start := time.Now()

	var (
		result Result
		err    error
	)
	switch node.Type {
	case TypeTryCatch:
		r.complete(node, rec, start, Result{})
		r.follow(ctx, node, PortTry, &catchFrame{node: node, parent: frame})
		return
	case TypeLoop:
		r.runLoop(ctx, node, data, rec, start, frame)
		return
	case TypeCondition:
		result, err = r.evaluateCondition(data)
	case TypeSubWorkflow:
		result, err = r.runSubWorkflow(ctx, node, data)
	default:
		result, err = r.invoke(ctx, impl, node, data)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.history.EndNode(rec, Result{}, err)
		r.engine.metrics.RecordNodeExecution(node.Type, string(StatusError), time.Since(start))
		r.fail(ctx, node, err, frame)
		return
	}

	r.complete(node, rec, start, result)

	port := result.SelectedPort
	if port == "" {
		port = primaryPort(r.outputs(node.Type))
	}
	r.follow(ctx, node, port, frame)
}

func (r *run) complete(node Node, rec *NodeExecution, start time.Time, result Result) {
	state := SuccessState(result.Data)
	r.setState(node.ID, state)
	r.history.EndNode(rec, result, nil)
	r.engine.metrics.RecordNodeExecution(node.Type, string(StatusSuccess), time.Since(start))
	r.obs.UpdateVariables(r.globals.Snapshot(), r.form, r.state.Snapshot())
}

// invoke calls a registry implementation. Panics become node errors.
func (r *run) invoke(ctx context.Context, impl Implementation, node Node, data map[string]any) (result Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("node implementation panicked",
				zap.String("node_id", node.ID),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
			err = NewNodeExecutionError(node.ID, fmt.Errorf("panic: %v", p))
		}
	}()

	ec := &ExecContext{
		RunID:      r.id,
		WorkflowID: r.workflowID,
		Node:       node,
		Globals:    r.globals,
		FormInputs: r.form,
		State:      r.state,
		Logger:     r.logger.With(zap.String("node_id", node.ID)),
	}
	result, err = impl.Execute(ctx, data, r.obs, ec)
	if err != nil {
		return Result{}, NewNodeExecutionError(node.ID, err)
	}
	return result, nil
}

// follow dispatches every edge leaving node on port concurrently and waits
// for all of them. A destination reached by several edges runs once per
// arriving edge.
func (r *run) follow(ctx context.Context, node Node, port string, frame *catchFrame) {
	edges := r.graph.Outgoing(node.ID, port, defaultPort(r.outputs(node.Type)))
	if len(edges) == 0 {
		return
	}

	var eg errgroup.Group
	for _, edge := range edges {
		target, ok := r.graph.Node(edge.To)
		if !ok {
			r.logger.Warn("edge targets unknown node",
				zap.String("edge_id", edge.EdgeID()),
				zap.String("to", edge.To),
			)
			continue
		}
		next := *target
		eg.Go(func() error {
			r.obs.AnimateEdge(edge.EdgeID())
			r.executeNode(ctx, next, frame)
			return nil
		})
	}
	_ = eg.Wait()
}

// fail records a node error and routes it: to the nearest try/catch scope of
// the branch, else to the node's own error port, else nowhere. Configuration
// errors are never routed.
func (r *run) fail(ctx context.Context, node Node, err error, frame *catchFrame) {
	entry := errorEntry(err)
	r.setState(node.ID, entry)
	r.obs.Error(fmt.Sprintf("%s (%s) failed: %s", node.ID, node.Type, entry.ErrorMessage()))
	r.logger.Warn("node failed",
		zap.String("node_id", node.ID),
		zap.String("node_type", node.Type),
		zap.Error(err),
	)

	if IsConfigurationError(err) {
		return
	}

	if frame != nil {
		if !frame.consumed.CompareAndSwap(false, true) {
			// the scope already redirected once; the error stays contained
			r.logger.Debug("error absorbed by consumed try/catch scope",
				zap.String("node_id", node.ID),
				zap.String("scope", frame.node.ID),
			)
			return
		}
		r.engine.metrics.RecordCatch(r.metricsID())
		caught := r.state.Merge(frame.node.ID, map[string]any{
			"caughtError": entry.ErrorMessage(),
			"failedNode":  node.ID,
		})
		r.obs.NodeState(frame.node.ID, caught)
		r.obs.Warn(fmt.Sprintf("error in %s caught by %s", node.ID, frame.node.ID))
		r.follow(ctx, frame.node, PortCatch, frame.parent)
		return
	}

	if declaresPort(r.outputs(node.Type), PortError) {
		r.follow(ctx, node, PortError, nil)
	}
}

func (r *run) evaluateCondition(data map[string]any) (Result, error) {
	cfg, err := DecodeConditionConfig(data)
	if err != nil {
		return Result{}, err
	}
	ok, err := cfg.Evaluate(r.scope())
	if err != nil {
		return Result{}, fmt.Errorf("evaluate expression: %w", err)
	}
	port := PortFalse
	if ok {
		port = PortTrue
	}
	return Result{Data: map[string]any{"result": ok}, SelectedPort: port}, nil
}

// runLoop iterates serially: the subgraph behind the loop port fully settles
// for one item before the next item starts.
func (r *run) runLoop(ctx context.Context, node Node, data map[string]any, rec *NodeExecution, start time.Time, frame *catchFrame) {
	items, ok := toSequence(data["items"])
	if !ok {
		err := NewConfigurationError(node.ID,
			fmt.Sprintf("loop input must be a list, got %T", data["items"]))
		r.history.EndNode(rec, Result{}, err)
		r.engine.metrics.RecordNodeExecution(node.Type, string(StatusError), time.Since(start))
		r.fail(ctx, node, err, frame)
		return
	}

	total := len(items)
	for i, item := range items {
		r.setState(node.ID, NodeState{
			"status":       string(StatusRunning),
			"currentItem":  item,
			"currentIndex": i,
			"totalItems":   total,
		})
		r.engine.metrics.RecordLoopIteration(r.metricsID())
		r.follow(ctx, node, PortLoop, frame)
	}

	r.complete(node, rec, start, Result{Data: map[string]any{
		"items": items,
		"count": total,
	}})
	r.follow(ctx, node, PortDone, frame)
}

func toSequence(v any) ([]any, bool) {
	switch val := v.(type) {
	case []any:
		return val, true
	case nil, string:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// runSubWorkflow runs another stored workflow as this node's body.
func (r *run) runSubWorkflow(ctx context.Context, node Node, data map[string]any) (Result, error) {
	target := strings.TrimSpace(Stringify(data["workflowId"]))
	if target == "" || target == "null" {
		return Result{}, NewNodeError("sub-workflow node has no workflowId", nil)
	}

	chain := append([]string(nil), r.stack...)
	if r.workflowID != "" {
		chain = append(chain, r.workflowID)
	}
	for _, id := range chain {
		if id == target {
			r.engine.metrics.RecordRecursionRejected(target)
			return Result{}, NewRecursionError(node.ID, target, chain)
		}
	}

	if r.engine.loader == nil {
		return Result{}, NewNodeError("no workflow loader configured", map[string]any{"workflowId": target})
	}
	def, err := r.engine.loader.GetWorkflowByID(ctx, target)
	if err != nil {
		return Result{}, &NodeError{
			Message: fmt.Sprintf("failed to load workflow %q", target),
			Context: map[string]any{"workflowId": target},
			Cause:   err,
		}
	}

	form := data
	if inputs, ok := data["inputs"].(map[string]any); ok {
		form = inputs
	}

	r.obs.Info(fmt.Sprintf("running sub-workflow %s", displayName(def, target)))
	child := r.engine.nested(nestedObserver{parent: r.obs, workflowID: target})
	nested, err := child.Run(ctx, &def.Data, RunOptions{
		Globals:         r.globals,
		FormInputs:      form,
		InvocationStack: chain,
		WorkflowID:      target,
		ParentRunID:     r.id,
	})

	results := make(map[string]any, len(nested))
	for id, st := range nested {
		results[id] = map[string]any(st)
	}
	if err != nil {
		return Result{}, &NodeError{
			Message: fmt.Sprintf("sub-workflow %s failed: %s", displayName(def, target), messageOf(err)),
			Context: map[string]any{"workflowId": target, "results": results},
			Cause:   err,
		}
	}

	return Result{Data: map[string]any{
		"workflowId":   target,
		"workflowName": def.Name,
		"results":      results,
	}}, nil
}

func displayName(def *Definition, id string) string {
	if def != nil && def.Name != "" {
		return fmt.Sprintf("%q (%s)", def.Name, id)
	}
	return id
}

func messageOf(err error) string {
	if te, ok := types.AsError(err); ok {
		return te.Message
	}
	return err.Error()
}
