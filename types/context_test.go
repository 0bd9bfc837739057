package types

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ctx = WithTraceID(ctx, "t1")
	ctx = WithRequestID(ctx, "req")
	ctx = WithUserID(ctx, "user")
	ctx = WithRunID(ctx, "run")
	ctx = WithWorkflowID(ctx, "wf")

	assert.Equal(t, Identity{
		TraceID:    "t1",
		RequestID:  "req",
		RunID:      "run",
		WorkflowID: "wf",
		UserID:     "user",
	}, IdentityFrom(ctx))

	got, ok := RunID(WithRunID(ctx, "inner"))
	assert.True(t, ok)
	assert.Equal(t, "inner", got)
}

func TestContextHelpers_Empty(t *testing.T) {
	t.Parallel()

	_, ok := RunID(WithRunID(context.Background(), ""))
	assert.False(t, ok, "empty run id should not be reported")

	_, ok = WorkflowID(context.Background())
	assert.False(t, ok)
	assert.Equal(t, Identity{}, IdentityFrom(context.Background()))
}

func TestContextKeysDoNotCollide(t *testing.T) {
	t.Parallel()

	ctx := WithRunID(context.Background(), "run")
	_, ok := RequestID(ctx)
	assert.False(t, ok)
	ctx = context.WithValue(ctx, "run_id", "shadow") //nolint:staticcheck // plain string key must not shadow ours
	got, _ := RunID(ctx)
	assert.Equal(t, "run", got)
}
