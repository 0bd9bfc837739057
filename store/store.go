package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/nodeflow/workflow"
)

// Common errors. ErrNotFound wraps workflow.ErrWorkflowNotFound so a store
// can be handed to the engine as its WorkflowLoader.
var (
	ErrNotFound     = fmt.Errorf("definition %w", workflow.ErrWorkflowNotFound)
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
	ErrReadOnly     = errors.New("store is read-only")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeFile     StoreType = "file"
	StoreTypeDatabase StoreType = "database"
	StoreTypeRedis    StoreType = "redis"
	StoreTypeMongo    StoreType = "mongo"
)

// Store persists workflow definitions.
type Store interface {
	workflow.WorkflowLoader

	// List returns all definitions, most recently updated first.
	List(ctx context.Context) ([]*workflow.Definition, error)

	// Save creates or replaces a definition. An empty id is generated.
	// CreatedAt survives replacement, UpdatedAt is refreshed and Version
	// is bumped on every save.
	Save(ctx context.Context, def *workflow.Definition) error

	// Delete removes a definition. Unknown ids yield ErrNotFound.
	Delete(ctx context.Context, id string) error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error

	// Close closes the store and releases resources
	Close() error
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// prepareSave fills the id and bookkeeping fields of def from the stored
// version (nil when new) and validates the result.
func prepareSave(def, existing *workflow.Definition, now time.Time) error {
	if def == nil {
		return ErrInvalidInput
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if err := workflow.ValidateDefinition(def); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	def.UpdatedAt = now
	if existing != nil {
		def.CreatedAt = existing.CreatedAt
		def.Version = existing.Version + 1
		return nil
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	if def.Version <= 0 {
		def.Version = 1
	}
	return nil
}

// cloneDefinition copies a definition deeply enough that the copy's graph
// can be mutated without touching the original.
func cloneDefinition(def *workflow.Definition) *workflow.Definition {
	if def == nil {
		return nil
	}
	cp := *def
	cp.Data = *def.Data.Clone()
	return &cp
}

// sortByUpdated orders definitions newest first, breaking ties by id.
func sortByUpdated(defs []*workflow.Definition) {
	sort.Slice(defs, func(i, j int) bool {
		if !defs[i].UpdatedAt.Equal(defs[j].UpdatedAt) {
			return defs[i].UpdatedAt.After(defs[j].UpdatedAt)
		}
		return defs[i].ID < defs[j].ID
	})
}
