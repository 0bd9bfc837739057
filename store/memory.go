package store

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/nodeflow/workflow"
)

// MemoryStore is an in-memory implementation of Store.
// Suitable for development, tests and the CLI.
type MemoryStore struct {
	mu     sync.RWMutex
	defs   map[string]*workflow.Definition
	closed bool
	now    func() time.Time
}

// NewMemoryStore creates a memory store seeded with defs.
func NewMemoryStore(defs ...*workflow.Definition) *MemoryStore {
	s := &MemoryStore{
		defs: make(map[string]*workflow.Definition, len(defs)),
		now:  time.Now,
	}
	for _, def := range defs {
		if def != nil {
			s.defs[def.ID] = cloneDefinition(def)
		}
	}
	return s
}

// GetWorkflowByID implements workflow.WorkflowLoader.
func (s *MemoryStore) GetWorkflowByID(_ context.Context, id string) (*workflow.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	def, ok := s.defs[id]
	if !ok {
		return nil, notFound(id)
	}
	return cloneDefinition(def), nil
}

// List returns all definitions, most recently updated first.
func (s *MemoryStore) List(_ context.Context) ([]*workflow.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make([]*workflow.Definition, 0, len(s.defs))
	for _, def := range s.defs {
		out = append(out, cloneDefinition(def))
	}
	sortByUpdated(out)
	return out, nil
}

// Save creates or replaces a definition.
func (s *MemoryStore) Save(_ context.Context, def *workflow.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	var existing *workflow.Definition
	if def != nil {
		existing = s.defs[def.ID]
	}
	if err := prepareSave(def, existing, s.now()); err != nil {
		return err
	}
	s.defs[def.ID] = cloneDefinition(def)
	return nil
}

// Delete removes a definition.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.defs[id]; !ok {
		return notFound(id)
	}
	delete(s.defs, id)
	return nil
}

// Ping checks if the store is healthy
func (s *MemoryStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close closes the store
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
