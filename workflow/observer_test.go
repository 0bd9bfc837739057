package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMultiObserver_FansOut(t *testing.T) {
	t.Parallel()

	a, b := &recordingObserver{}, &recordingObserver{}
	m := MultiObserver{a, b}

	m.Clear()
	m.Info("hello")
	m.Error("bad")
	m.NodeState("n1", SuccessState(nil))
	m.AnimateEdge("n1->n2")
	m.UpdateVariables(nil, nil, nil)

	for _, o := range []*recordingObserver{a, b} {
		assert.Equal(t, 1, o.clears)
		assert.Equal(t, []string{"info: hello", "error: bad"}, o.logs)
		assert.Equal(t, []string{"n1=success"}, o.states)
		assert.Equal(t, []string{"n1->n2"}, o.edges)
		assert.Equal(t, 1, o.varCalls)
	}
}

func TestNestedObserver_ForwardsOnlyLogs(t *testing.T) {
	t.Parallel()

	parent := &recordingObserver{}
	n := nestedObserver{parent: parent, workflowID: "child"}

	n.Clear()
	n.Warn("careful")
	n.Success("done")
	n.NodeState("inner", RunningState())
	n.AnimateEdge("inner->x")
	n.UpdateVariables(map[string]any{"a": 1}, nil, nil)

	assert.Equal(t, []string{"warn: [child] careful", "success: [child] done"}, parent.logs)
	assert.Zero(t, parent.clears)
	assert.Empty(t, parent.states)
	assert.Empty(t, parent.edges)
	assert.Zero(t, parent.varCalls)
}

func TestLogObserver(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	o := NewLogObserver(zap.New(core))

	o.Info("started")
	o.Error("broken")
	o.NodeState("n1", ErrorState("boom", nil))

	entries := logs.All()
	assert.Len(t, entries, 3)
	assert.Equal(t, "started", entries[0].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[2].ContextMap()["error"])
	assert.Equal(t, "run_observer", entries[2].ContextMap()["component"])
}
