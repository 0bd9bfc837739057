package workflow

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeStateConstructors(t *testing.T) {
	t.Parallel()

	assert.Equal(t, StatusRunning, RunningState().Status())

	ok := SuccessState(map[string]any{"value": 1, "status": "ignored"})
	assert.Equal(t, StatusSuccess, ok.Status())
	assert.Equal(t, 1, ok["value"])

	failed := ErrorState("boom", map[string]any{"code": 42})
	assert.Equal(t, StatusError, failed.Status())
	assert.Equal(t, "boom", failed.ErrorMessage())
	assert.Equal(t, 42, failed["code"])
}

func TestStateStore(t *testing.T) {
	t.Parallel()

	s := NewStateStore()
	s.Set("a", RunningState())
	s.Set("b", ErrorState("x", nil))
	s.Set("c", ErrorState("y", nil))

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, StatusRunning, got.Status())
	assert.Equal(t, []string{"b", "c"}, s.Errored())

	merged := s.Merge("a", map[string]any{"extra": true})
	assert.Equal(t, true, merged["extra"])
	assert.Equal(t, string(StatusRunning), merged["status"])

	snap := s.Snapshot()
	s.Set("d", RunningState())
	assert.Len(t, snap, 3)
	assert.Equal(t, 4, s.Len())

	s.Reset()
	assert.Equal(t, 0, s.Len())
}

func TestVariables_ConcurrentUpdate(t *testing.T) {
	t.Parallel()

	v := NewVariables(map[string]any{"count": 0})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v.Update("count", func(cur any, _ bool) any { return cur.(int) + 1 })
		}()
	}
	wg.Wait()

	got, ok := v.Get("count")
	require.True(t, ok)
	assert.Equal(t, 50, got)
}

func TestVariables_SnapshotIsolation(t *testing.T) {
	t.Parallel()

	initial := map[string]any{"list": []any{"a"}}
	v := NewVariables(initial)
	initial["list"].([]any)[0] = "mutated"

	snap := v.Snapshot()
	assert.Equal(t, []any{"a"}, snap["list"])

	snap["new"] = 1
	_, ok := v.Get("new")
	assert.False(t, ok)
}
