package workflow

import (
	"go.uber.org/zap"
)

// Observer receives run lifecycle events. Every call is fire-and-forget: the
// engine never inspects a result, and implementations must not block for long
// since they are invoked from the running branch.
type Observer interface {
	Info(message string)
	Success(message string)
	Warn(message string)
	Error(message string)
	Clear()
	NodeState(nodeID string, state NodeState)
	AnimateEdge(edgeID string)
	UpdateVariables(global, formInputs map[string]any, state map[string]NodeState)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) Info(string)                                                {}
func (NopObserver) Success(string)                                             {}
func (NopObserver) Warn(string)                                                {}
func (NopObserver) Error(string)                                               {}
func (NopObserver) Clear()                                                     {}
func (NopObserver) NodeState(string, NodeState)                                {}
func (NopObserver) AnimateEdge(string)                                         {}
func (NopObserver) UpdateVariables(map[string]any, map[string]any, map[string]NodeState) {}

// LogObserver writes events to a zap logger. Used by headless runs.
type LogObserver struct {
	logger *zap.Logger
}

// NewLogObserver creates a LogObserver.
func NewLogObserver(logger *zap.Logger) *LogObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogObserver{logger: logger.With(zap.String("component", "run_observer"))}
}

func (o *LogObserver) Info(message string)    { o.logger.Info(message) }
func (o *LogObserver) Success(message string) { o.logger.Info(message, zap.Bool("success", true)) }
func (o *LogObserver) Warn(message string)    { o.logger.Warn(message) }
func (o *LogObserver) Error(message string)   { o.logger.Error(message) }
func (o *LogObserver) Clear()                 {}

func (o *LogObserver) NodeState(nodeID string, state NodeState) {
	fields := []zap.Field{
		zap.String("node_id", nodeID),
		zap.String("status", string(state.Status())),
	}
	if msg := state.ErrorMessage(); msg != "" {
		fields = append(fields, zap.String("error", msg))
	}
	o.logger.Debug("node state", fields...)
}

func (o *LogObserver) AnimateEdge(edgeID string) {
	o.logger.Debug("edge activated", zap.String("edge_id", edgeID))
}

func (o *LogObserver) UpdateVariables(global, formInputs map[string]any, state map[string]NodeState) {
	o.logger.Debug("variables updated",
		zap.Int("globals", len(global)),
		zap.Int("form_inputs", len(formInputs)),
		zap.Int("nodes", len(state)),
	)
}

// MultiObserver fans events out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) Info(message string) {
	for _, o := range m {
		o.Info(message)
	}
}

func (m MultiObserver) Success(message string) {
	for _, o := range m {
		o.Success(message)
	}
}

func (m MultiObserver) Warn(message string) {
	for _, o := range m {
		o.Warn(message)
	}
}

func (m MultiObserver) Error(message string) {
	for _, o := range m {
		o.Error(message)
	}
}

func (m MultiObserver) Clear() {
	for _, o := range m {
		o.Clear()
	}
}

func (m MultiObserver) NodeState(nodeID string, state NodeState) {
	for _, o := range m {
		o.NodeState(nodeID, state)
	}
}

func (m MultiObserver) AnimateEdge(edgeID string) {
	for _, o := range m {
		o.AnimateEdge(edgeID)
	}
}

func (m MultiObserver) UpdateVariables(global, formInputs map[string]any, state map[string]NodeState) {
	for _, o := range m {
		o.UpdateVariables(global, formInputs, state)
	}
}

// nestedObserver forwards only log lines of a sub-workflow run, prefixed with
// the workflow id. Node ids and edges of the nested graph mean nothing to the
// parent's canvas, so state and edge events are dropped.
type nestedObserver struct {
	parent     Observer
	workflowID string
}

func (n nestedObserver) prefix(message string) string {
	return "[" + n.workflowID + "] " + message
}

func (n nestedObserver) Info(message string)    { n.parent.Info(n.prefix(message)) }
func (n nestedObserver) Success(message string) { n.parent.Success(n.prefix(message)) }
func (n nestedObserver) Warn(message string)    { n.parent.Warn(n.prefix(message)) }
func (n nestedObserver) Error(message string)   { n.parent.Error(n.prefix(message)) }
func (nestedObserver) Clear()                   {}
func (nestedObserver) NodeState(string, NodeState) {}
func (nestedObserver) AnimateEdge(string)          {}
func (nestedObserver) UpdateVariables(map[string]any, map[string]any, map[string]NodeState) {
}
