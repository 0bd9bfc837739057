package workflow

import (
	"sort"
	"sync"
)

// NodeStatus is the lifecycle status of one node within a run.
type NodeStatus string

const (
	StatusRunning NodeStatus = "running"
	StatusSuccess NodeStatus = "success"
	StatusError   NodeStatus = "error"
)

// NodeState is an Execution State entry: a status plus the output payload
// (on success) or error message and context (on error).
type NodeState map[string]any

// Status returns the entry's status.
func (s NodeState) Status() NodeStatus {
	switch v := s["status"].(type) {
	case NodeStatus:
		return v
	case string:
		return NodeStatus(v)
	}
	return ""
}

// ErrorMessage returns the error text of an error entry.
func (s NodeState) ErrorMessage() string {
	msg, _ := s["error"].(string)
	return msg
}

// RunningState builds the entry recorded immediately before invocation.
func RunningState() NodeState {
	return NodeState{"status": string(StatusRunning)}
}

// SuccessState merges the payload into a success entry.
func SuccessState(payload map[string]any) NodeState {
	state := make(NodeState, len(payload)+1)
	for k, v := range payload {
		state[k] = v
	}
	state["status"] = string(StatusSuccess)
	return state
}

// ErrorState builds an error entry carrying the message and optional context.
func ErrorState(message string, context map[string]any) NodeState {
	state := make(NodeState, len(context)+2)
	for k, v := range context {
		state[k] = v
	}
	state["status"] = string(StatusError)
	state["error"] = message
	return state
}

// StateStore maps node ids to their latest Execution State entry for one run.
//
// Concurrent branches share the store. Any branch may read another branch's
// entry while it is still running or has only been partially replaced by a
// later arrival; live observers and the variable resolver rely on seeing
// these in-flight entries, so reads are never blocked on branch completion.
type StateStore struct {
	mu      sync.RWMutex
	entries map[string]NodeState
}

// NewStateStore creates an empty store.
func NewStateStore() *StateStore {
	return &StateStore{entries: make(map[string]NodeState)}
}

// Set replaces the entry for a node.
func (s *StateStore) Set(nodeID string, state NodeState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[nodeID] = state
}

// Merge adds fields to an existing entry (or creates it).
func (s *StateStore) Merge(nodeID string, fields map[string]any) NodeState {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make(NodeState, len(s.entries[nodeID])+len(fields))
	for k, v := range s.entries[nodeID] {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	s.entries[nodeID] = merged
	return merged
}

// Get returns the entry for a node.
func (s *StateStore) Get(nodeID string) (NodeState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.entries[nodeID]
	return state, ok
}

// Snapshot returns a copy of every entry. Entries themselves are replaced,
// never mutated, so the copy is shallow at the entry level.
func (s *StateStore) Snapshot() map[string]NodeState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(map[string]NodeState, len(s.entries))
	for k, v := range s.entries {
		snap[k] = v
	}
	return snap
}

// Reset drops every entry; called at the start of each run.
func (s *StateStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]NodeState)
}

// Len returns the number of recorded nodes.
func (s *StateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Errored returns the ids of nodes whose latest entry is an error, sorted.
func (s *StateStore) Errored() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0)
	for id, state := range s.entries {
		if state.Status() == StatusError {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Variables is a mutable variable layer (global variables) shared by every
// branch of a run and by nested sub-workflow runs.
type Variables struct {
	mu   sync.RWMutex
	vars map[string]any
}

// NewVariables wraps a copy of the initial values.
func NewVariables(initial map[string]any) *Variables {
	return &Variables{vars: cloneMap(initial)}
}

// Get returns a variable.
func (v *Variables) Get(name string) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.vars[name]
	return val, ok
}

// Set assigns a variable.
func (v *Variables) Set(name string, value any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.vars[name] = value
}

// Update applies fn to the current value under the lock and stores the result.
func (v *Variables) Update(name string, fn func(current any, exists bool) any) any {
	v.mu.Lock()
	defer v.mu.Unlock()
	cur, ok := v.vars[name]
	next := fn(cur, ok)
	v.vars[name] = next
	return next
}

// Snapshot returns a copy of all variables.
func (v *Variables) Snapshot() map[string]any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return cloneMap(v.vars)
}

func cloneMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = cloneValue(v)
	}
	return dst
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case NodeState:
		return NodeState(cloneMap(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
