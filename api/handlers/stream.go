package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/store"
	"github.com/BaSui01/nodeflow/workflow"
)

// 流事件类型，与 Observer 的方法一一对应，另加结束事件
const (
	EventInfo        = "info"
	EventSuccess     = "success"
	EventWarn        = "warn"
	EventError       = "error"
	EventClear       = "clear"
	EventNodeState   = "node_state"
	EventAnimateEdge = "animate_edge"
	EventVariables   = "variables"
	EventDone        = "done"
	EventFailed      = "failed"
)

const (
	streamBuffer       = 256
	streamWriteTimeout = 10 * time.Second
	streamStartTimeout = 30 * time.Second
)

// StreamEvent 推送给编辑器的一条运行事件
type StreamEvent struct {
	Type       string                        `json:"type"`
	Message    string                        `json:"message,omitempty"`
	NodeID     string                        `json:"nodeId,omitempty"`
	EdgeID     string                        `json:"edgeId,omitempty"`
	State      workflow.NodeState            `json:"state,omitempty"`
	Global     map[string]any                `json:"global,omitempty"`
	FormInputs map[string]any                `json:"formInputs,omitempty"`
	States     map[string]workflow.NodeState `json:"states,omitempty"`
	Result     *RunResponse                  `json:"result,omitempty"`
	Error      *ErrorInfo                    `json:"error,omitempty"`
}

// =============================================================================
// 📡 StreamHandler
// =============================================================================

// StreamHandler 通过 WebSocket 运行工作流并实时推送观察者事件。
//
// 客户端连接后先发送一条 RunRequest JSON（可为 {}），随后服务端逐条推送
// StreamEvent，最后以 done 或 failed 事件结束并正常关闭连接。客户端断开
// 会取消运行。读取过慢的客户端会丢失中间事件，结束事件总会发送。
type StreamHandler struct {
	store          store.Store
	runner         *Runner
	originPatterns []string
	logger         *zap.Logger
}

// NewStreamHandler 创建流处理器。originPatterns 为空时只接受同源连接。
func NewStreamHandler(s store.Store, runner *Runner, originPatterns []string, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{
		store:          s,
		runner:         runner,
		originPatterns: originPatterns,
		logger:         logger.With(zap.String("component", "stream_handler")),
	}
}

// Mount 注册流端点
func (h *StreamHandler) Mount(r chi.Router) {
	r.Get("/api/v1/workflows/{id}/stream", h.HandleStream)
}

// HandleStream 升级连接并运行工作流
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "id")
	if _, err := h.store.GetWorkflowByID(r.Context(), workflowID); err != nil {
		WriteFailure(w, err, h.logger)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	req, err := h.readRunRequest(r.Context(), conn)
	if err != nil {
		h.logger.Debug("invalid run request", zap.Error(err))
		_ = conn.Close(websocket.StatusInvalidFramePayloadData, "first message must be a run request")
		return
	}

	// CloseRead 在后台处理控制帧，客户端断开时取消 ctx
	ctx := conn.CloseRead(r.Context())

	obs := newStreamObserver()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range obs.events {
			if err := writeEvent(ctx, conn, ev); err != nil {
				h.logger.Debug("stream write failed", zap.Error(err))
				obs.drain()
				return
			}
		}
	}()

	resp, runErr := h.runner.RunWorkflow(ctx, workflowID, req, obs)
	obs.close()
	wg.Wait()

	final := StreamEvent{Type: EventDone, Result: resp}
	if runErr != nil {
		apiErr := toAPIError(runErr)
		final = StreamEvent{Type: EventFailed, Result: resp, Error: errorInfo(apiErr)}
	}
	if err := writeEvent(ctx, conn, final); err != nil {
		h.logger.Debug("stream write failed", zap.Error(err))
		return
	}

	h.logger.Info("stream run finished",
		zap.String("workflow_id", workflowID),
		zap.String("type", final.Type),
		zap.Int64("dropped_events", obs.dropped.Load()),
	)
	_ = conn.Close(websocket.StatusNormalClosure, final.Type)
}

func (h *StreamHandler) readRunRequest(ctx context.Context, conn *websocket.Conn) (RunRequest, error) {
	var req RunRequest
	ctx, cancel := context.WithTimeout(ctx, streamStartTimeout)
	defer cancel()

	typ, data, err := conn.Read(ctx)
	if err != nil {
		return req, fmt.Errorf("websocket read: %w", err)
	}
	if typ != websocket.MessageText {
		return req, fmt.Errorf("unexpected message type %v", typ)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("unmarshal run request: %w", err)
	}
	return req, nil
}

// writeEvent 只在单个 goroutine 中调用，连接不支持并发写
func writeEvent(ctx context.Context, conn *websocket.Conn, ev StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// =============================================================================
// 👀 streamObserver
// =============================================================================

// streamObserver 把观察者回调转换为事件。缓冲满时丢弃事件并计数，
// 观察者调用从不等待客户端读取。
type streamObserver struct {
	events  chan StreamEvent
	dropped atomic.Int64
	once    sync.Once
}

func newStreamObserver() *streamObserver {
	return &streamObserver{events: make(chan StreamEvent, streamBuffer)}
}

func (o *streamObserver) emit(ev StreamEvent) {
	select {
	case o.events <- ev:
	default:
		o.dropped.Add(1)
	}
}

func (o *streamObserver) close() {
	o.once.Do(func() { close(o.events) })
}

// drain 在写出失败后丢弃剩余事件，避免运行阻塞
func (o *streamObserver) drain() {
	go func() {
		for range o.events {
		}
	}()
}

func (o *streamObserver) Info(message string)    { o.emit(StreamEvent{Type: EventInfo, Message: message}) }
func (o *streamObserver) Success(message string) { o.emit(StreamEvent{Type: EventSuccess, Message: message}) }
func (o *streamObserver) Warn(message string)    { o.emit(StreamEvent{Type: EventWarn, Message: message}) }
func (o *streamObserver) Error(message string)   { o.emit(StreamEvent{Type: EventError, Message: message}) }
func (o *streamObserver) Clear()                 { o.emit(StreamEvent{Type: EventClear}) }

func (o *streamObserver) NodeState(nodeID string, state workflow.NodeState) {
	cp := make(workflow.NodeState, len(state))
	for k, v := range state {
		cp[k] = v
	}
	o.emit(StreamEvent{Type: EventNodeState, NodeID: nodeID, State: cp})
}

func (o *streamObserver) AnimateEdge(edgeID string) {
	o.emit(StreamEvent{Type: EventAnimateEdge, EdgeID: edgeID})
}

func (o *streamObserver) UpdateVariables(global, formInputs map[string]any, state map[string]workflow.NodeState) {
	o.emit(StreamEvent{Type: EventVariables, Global: global, FormInputs: formInputs, States: state})
}
