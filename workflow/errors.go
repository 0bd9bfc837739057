package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BaSui01/nodeflow/types"
)

// ErrRunInProgress is returned when Run is called on an engine that is
// already executing a graph.
var ErrRunInProgress = types.NewError(types.ErrRunInProgress, "a run is already in progress on this engine")

// NewConfigurationError reports a graph or node setup problem: no start
// node, unknown node type, malformed loop input. It halts the affected
// branch and is never routed to a catch or error port.
func NewConfigurationError(nodeID, message string) *types.Error {
	return types.NewError(types.ErrConfiguration, message).
		WithNode(nodeID)
}

// NewNodeExecutionError wraps a failure returned (or panicked) by a node
// implementation.
func NewNodeExecutionError(nodeID string, cause error) *types.Error {
	msg := "node execution failed"
	if cause != nil {
		msg = cause.Error()
	}
	return types.Wrap(types.ErrNodeExecution, msg, cause).WithNode(nodeID)
}

// NewRecursionError reports a sub-workflow call that would re-enter a
// workflow already on the invocation stack.
func NewRecursionError(nodeID, workflowID string, chain []string) *types.Error {
	path := append(append([]string(nil), chain...), workflowID)
	return types.NewError(types.ErrRecursion,
		fmt.Sprintf("recursion detected: workflow %q is already running (%s)", workflowID, strings.Join(path, " -> "))).
		WithNode(nodeID)
}

// IsConfigurationError reports whether err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	return types.IsErrorCode(err, types.ErrConfiguration)
}

// IsRecursionError reports whether err is a RecursionError.
func IsRecursionError(err error) bool {
	return types.IsErrorCode(err, types.ErrRecursion)
}

// IsNodeExecutionError reports whether err is a NodeExecutionError.
func IsNodeExecutionError(err error) bool {
	return types.IsErrorCode(err, types.ErrNodeExecution)
}

// errorEntry builds the error-status state for a failure. A NodeError in
// the chain contributes its structured context.
func errorEntry(err error) NodeState {
	var ne *NodeError
	if errors.As(err, &ne) {
		return ErrorState(ne.Message, ne.Context)
	}
	if te, ok := types.AsError(err); ok {
		ctx := map[string]any{"code": string(te.Code)}
		msg := te.Message
		if te.Code == types.ErrNodeExecution && te.Cause != nil {
			msg = te.Cause.Error()
		}
		return ErrorState(msg, ctx)
	}
	return ErrorState(err.Error(), nil)
}
