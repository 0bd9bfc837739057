package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryHistory keeps the most recent run histories in memory. With a
// positive limit the oldest saved run is evicted first.
type MemoryHistory struct {
	mu    sync.RWMutex
	limit int
	byID  map[string]*ExecutionHistory
	// saved ids, oldest first
	order []string
}

// NewMemoryHistory returns an in-memory HistoryStore. limit <= 0 keeps
// every run.
func NewMemoryHistory(limit int) *MemoryHistory {
	return &MemoryHistory{limit: limit, byID: make(map[string]*ExecutionHistory)}
}

// SaveExecution stores h, replacing an earlier save of the same run.
func (m *MemoryHistory) SaveExecution(_ context.Context, h *ExecutionHistory) error {
	if h == nil || h.ExecutionID == "" {
		return fmt.Errorf("history without execution id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[h.ExecutionID]; !ok {
		m.order = append(m.order, h.ExecutionID)
	}
	m.byID[h.ExecutionID] = h

	if m.limit > 0 && len(m.order) > m.limit {
		evict := m.order[:len(m.order)-m.limit]
		for _, id := range evict {
			delete(m.byID, id)
		}
		m.order = append([]string(nil), m.order[len(evict):]...)
	}
	return nil
}

// GetExecution implements HistoryStore.
func (m *MemoryHistory) GetExecution(_ context.Context, executionID string) (*ExecutionHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.byID[executionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	return h, nil
}

// ListExecutions implements HistoryStore.
func (m *MemoryHistory) ListExecutions(_ context.Context, workflowID string, limit int) ([]*ExecutionHistory, error) {
	m.mu.RLock()
	out := make([]*ExecutionHistory, 0, len(m.order))
	for _, id := range m.order {
		h := m.byID[id]
		if workflowID == "" || h.WorkflowID == workflowID {
			out = append(out, h)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored runs.
func (m *MemoryHistory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}
