package workflow

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ExecutionStatus is the outcome of a whole run. It mirrors the status
// reported by the run API and the run metrics.
type ExecutionStatus string

const (
	ExecutionStatusRunning             ExecutionStatus = "running"
	ExecutionStatusCompleted           ExecutionStatus = "completed"
	ExecutionStatusCompletedWithErrors ExecutionStatus = "completed_with_errors"
	ExecutionStatusFailed              ExecutionStatus = "failed"
)

// NodeExecution is one execution of one node. Loop bodies and reconvergent
// nodes produce one record per execution, in start order.
type NodeExecution struct {
	Seq       int            `json:"seq"`
	NodeID    string         `json:"node_id"`
	NodeType  string         `json:"node_type"`
	Status    NodeStatus     `json:"status"`
	Port      string         `json:"port,omitempty"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Duration  time.Duration  `json:"duration"`
	Input     map[string]any `json:"input,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// ExecutionHistory is the record of one run. It is safe for concurrent use
// while the run is in progress; once saved it is read-only.
type ExecutionHistory struct {
	ExecutionID string           `json:"execution_id"`
	WorkflowID  string           `json:"workflow_id,omitempty"`
	ParentRunID string           `json:"parent_run_id,omitempty"`
	Depth       int              `json:"depth"`
	Status      ExecutionStatus  `json:"status"`
	StartTime   time.Time        `json:"start_time"`
	EndTime     time.Time        `json:"end_time"`
	Duration    time.Duration    `json:"duration"`
	FailedNodes []string         `json:"failed_nodes,omitempty"`
	Error       string           `json:"error,omitempty"`
	Nodes       []*NodeExecution `json:"nodes"`

	mu sync.Mutex
}

// NewExecutionHistory starts the record of a run.
func NewExecutionHistory(executionID, workflowID string) *ExecutionHistory {
	return &ExecutionHistory{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		Status:      ExecutionStatusRunning,
		StartTime:   time.Now(),
		Nodes:       []*NodeExecution{},
	}
}

// StartNode appends a running record for node with its resolved input.
func (h *ExecutionHistory) StartNode(node Node, input map[string]any) *NodeExecution {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec := &NodeExecution{
		Seq:       len(h.Nodes) + 1,
		NodeID:    node.ID,
		NodeType:  node.Type,
		Status:    StatusRunning,
		StartTime: time.Now(),
		Input:     input,
	}
	h.Nodes = append(h.Nodes, rec)
	return rec
}

// EndNode settles rec with the node's result, or its error.
func (h *ExecutionHistory) EndNode(rec *NodeExecution, result Result, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec.EndTime = time.Now()
	rec.Duration = rec.EndTime.Sub(rec.StartTime)
	if err != nil {
		rec.Status = StatusError
		rec.Error = err.Error()
		return
	}
	rec.Status = StatusSuccess
	rec.Output = result.Data
	rec.Port = result.SelectedPort
}

// Finish closes the record. A run error marks it failed; failed nodes
// without a run error mark it completed with errors.
func (h *ExecutionHistory) Finish(failedNodes []string, runErr error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.EndTime = time.Now()
	h.Duration = h.EndTime.Sub(h.StartTime)
	h.FailedNodes = failedNodes
	switch {
	case runErr != nil:
		h.Status = ExecutionStatusFailed
		h.Error = runErr.Error()
	case len(failedNodes) > 0:
		h.Status = ExecutionStatusCompletedWithErrors
	default:
		h.Status = ExecutionStatusCompleted
	}
}

// Executions returns the records of nodeID in start order.
func (h *ExecutionHistory) Executions(nodeID string) []*NodeExecution {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []*NodeExecution
	for _, rec := range h.Nodes {
		if rec.NodeID == nodeID {
			out = append(out, rec)
		}
	}
	return out
}

// Last returns the latest record of nodeID, or nil.
func (h *ExecutionHistory) Last(nodeID string) *NodeExecution {
	recs := h.Executions(nodeID)
	if len(recs) == 0 {
		return nil
	}
	return recs[len(recs)-1]
}

// CountNode returns how many times nodeID executed.
func (h *ExecutionHistory) CountNode(nodeID string) int {
	return len(h.Executions(nodeID))
}

// Path returns the executed node ids in start order.
func (h *ExecutionHistory) Path() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]string, len(h.Nodes))
	for i, rec := range h.Nodes {
		out[i] = rec.NodeID
	}
	return out
}

// HistoryStore persists finished run histories. An empty workflowID lists
// every run; limit <= 0 means no limit. Lists are newest first.
type HistoryStore interface {
	SaveExecution(ctx context.Context, history *ExecutionHistory) error
	GetExecution(ctx context.Context, executionID string) (*ExecutionHistory, error)
	ListExecutions(ctx context.Context, workflowID string, limit int) ([]*ExecutionHistory, error)
}

// ErrExecutionNotFound is returned when a run history does not exist.
var ErrExecutionNotFound = errors.New("execution not found")
