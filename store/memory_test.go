package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/nodeflow/workflow"
)

func TestMemoryStore_Contract(t *testing.T) {
	testStoreContract(t, NewMemoryStore())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(sampleDefinition("wf"))

	got, err := s.GetWorkflowByID(ctx, "wf")
	require.NoError(t, err)
	got.Data.Nodes[0].Data["score"] = 0.0

	again, err := s.GetWorkflowByID(ctx, "wf")
	require.NoError(t, err)
	assert.Equal(t, 90.0, again.Data.Nodes[0].Data["score"])
}

func TestMemoryStore_Closed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Close())

	_, err := s.GetWorkflowByID(ctx, "x")
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, s.Save(ctx, sampleDefinition("x")), ErrStoreClosed)
	assert.ErrorIs(t, s.Ping(ctx), ErrStoreClosed)
}

func TestMemoryStore_AsEngineLoader(t *testing.T) {
	child := &workflow.Definition{
		ID:   "child",
		Name: "Child",
		Data: workflow.Graph{Nodes: []workflow.Node{{ID: "a", Type: "echo"}}},
	}
	s := NewMemoryStore(child)

	var loader workflow.WorkflowLoader = s
	def, err := loader.GetWorkflowByID(context.Background(), "child")
	require.NoError(t, err)
	assert.Equal(t, "Child", def.Name)
}
