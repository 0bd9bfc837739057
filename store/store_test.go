package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/nodeflow/workflow"
)

func sampleDefinition(id string) *workflow.Definition {
	return &workflow.Definition{
		ID:          id,
		Name:        "Workflow " + id,
		Description: "sample",
		Data: workflow.Graph{
			Nodes: []workflow.Node{
				{ID: "start", Type: "start", Data: map[string]any{"score": 90.0}},
				{ID: "check", Type: "condition", Data: map[string]any{
					"groups": []any{[]any{map[string]any{
						"left": "{{start.score}}", "operator": ">", "right": 50.0,
					}}},
				}},
			},
			Edges: []workflow.Edge{{From: "start", To: "check"}},
		},
	}
}

// testStoreContract exercises the behaviour every Store shares.
func testStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		_, err := s.GetWorkflowByID(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, err, workflow.ErrWorkflowNotFound)
		assert.ErrorIs(t, s.Delete(ctx, "missing"), ErrNotFound)
	})

	t.Run("save and get", func(t *testing.T) {
		def := sampleDefinition("wf-a")
		require.NoError(t, s.Save(ctx, def))
		assert.Equal(t, 1, def.Version)
		assert.False(t, def.CreatedAt.IsZero())

		got, err := s.GetWorkflowByID(ctx, "wf-a")
		require.NoError(t, err)
		assert.Equal(t, "Workflow wf-a", got.Name)
		assert.Equal(t, 1, got.Version)
		require.Len(t, got.Data.Nodes, 2)
		assert.Equal(t, 90.0, got.Data.Nodes[0].Data["score"])
		assert.Equal(t, def.Data.Edges, got.Data.Edges)
	})

	t.Run("replace bumps version and keeps createdAt", func(t *testing.T) {
		first, err := s.GetWorkflowByID(ctx, "wf-a")
		require.NoError(t, err)

		update := sampleDefinition("wf-a")
		update.Name = "Renamed"
		require.NoError(t, s.Save(ctx, update))

		got, err := s.GetWorkflowByID(ctx, "wf-a")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)
		assert.Equal(t, 2, got.Version)
		assert.WithinDuration(t, first.CreatedAt, got.CreatedAt, time.Millisecond)
	})

	t.Run("generated id", func(t *testing.T) {
		def := sampleDefinition("")
		require.NoError(t, s.Save(ctx, def))
		assert.NotEmpty(t, def.ID)

		_, err := s.GetWorkflowByID(ctx, def.ID)
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, def.ID))
	})

	t.Run("invalid definition", func(t *testing.T) {
		def := sampleDefinition("bad")
		def.Name = ""
		assert.ErrorIs(t, s.Save(ctx, def), ErrInvalidInput)

		def = sampleDefinition("dangling")
		def.Data.Edges = append(def.Data.Edges, workflow.Edge{From: "check", To: "ghost"})
		assert.ErrorIs(t, s.Save(ctx, def), ErrInvalidInput)
		assert.ErrorIs(t, s.Save(ctx, nil), ErrInvalidInput)
	})

	t.Run("list newest first", func(t *testing.T) {
		time.Sleep(5 * time.Millisecond)
		require.NoError(t, s.Save(ctx, sampleDefinition("wf-b")))

		defs, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, defs, 2)
		assert.Equal(t, "wf-b", defs[0].ID)
		assert.Equal(t, "wf-a", defs[1].ID)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "wf-b"))
		_, err := s.GetWorkflowByID(ctx, "wf-b")
		assert.True(t, errors.Is(err, ErrNotFound))

		defs, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, defs, 1)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, s.Ping(ctx))
	})
}

func TestPrepareSave(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	created := now.Add(-time.Hour)

	def := sampleDefinition("x")
	require.NoError(t, prepareSave(def, nil, now))
	assert.Equal(t, 1, def.Version)
	assert.Equal(t, now, def.CreatedAt)
	assert.Equal(t, now, def.UpdatedAt)

	def = sampleDefinition("x")
	require.NoError(t, prepareSave(def, &workflow.Definition{CreatedAt: created, Version: 4}, now))
	assert.Equal(t, 5, def.Version)
	assert.Equal(t, created, def.CreatedAt)

	assert.ErrorIs(t, prepareSave(nil, nil, now), ErrInvalidInput)
}

func TestCloneDefinition_IsDeep(t *testing.T) {
	def := sampleDefinition("x")
	cp := cloneDefinition(def)
	cp.Data.Nodes[0].Data["score"] = 1.0
	cp.Name = "changed"

	assert.Equal(t, 90.0, def.Data.Nodes[0].Data["score"])
	assert.Equal(t, "Workflow x", def.Name)
	assert.Nil(t, cloneDefinition(nil))
}
