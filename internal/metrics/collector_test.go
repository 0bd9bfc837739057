package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/workflow"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func newTestCollector() (*Collector, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewCollectorWithRegistry("nf", reg, zap.NewNop()), reg
}

var _ workflow.MetricsRecorder = (*Collector)(nil)

func TestNewCollector_DefaultRegistry(t *testing.T) {
	ns := nextTestNamespace()
	collector := NewCollector(ns, nil)
	collector.RecordRun("wf", "completed", time.Millisecond)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() == ns+"_workflow_runs_total" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector, _ := newTestCollector()

	collector.RecordHTTPRequest("GET", "/api/v1/workflows", 200, 100*time.Millisecond, 1024, 2048)
	collector.RecordHTTPRequest("GET", "/api/v1/workflows", 201, 50*time.Millisecond, 512, 1024)
	collector.RecordHTTPRequest("POST", "/api/v1/workflows", 422, 10*time.Millisecond, 10, 20)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.http.requests.WithLabelValues("GET", "/api/v1/workflows", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.http.requests.WithLabelValues("POST", "/api/v1/workflows", "4xx")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.http.duration))
}

func TestCollector_EngineMetrics(t *testing.T) {
	collector, _ := newTestCollector()

	collector.RecordRun("wf", "completed", time.Second)
	collector.RecordRun("wf", "completed_with_errors", time.Second)
	collector.RecordRun("wf", "completed", time.Second)
	collector.RecordNodeExecution("log", "success", time.Millisecond)
	collector.RecordNodeExecution("log", "error", time.Millisecond)
	collector.RecordCatch("wf")
	collector.RecordLoopIteration("wf")
	collector.RecordLoopIteration("wf")
	collector.RecordRecursionRejected("child")

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.engine.runs.WithLabelValues("wf", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.engine.runs.WithLabelValues("wf", "completed_with_errors")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.engine.nodes.WithLabelValues("log", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.engine.catches.WithLabelValues("wf")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.engine.loopIterations.WithLabelValues("wf")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.engine.recursionRejected.WithLabelValues("child")))
}

func TestCollector_StoreMetrics(t *testing.T) {
	collector, _ := newTestCollector()

	collector.RecordCacheHit("workflow")
	collector.RecordCacheHit("workflow")
	collector.RecordCacheMiss("workflow")
	collector.RecordDBConnections("primary", 5, 2)
	collector.RecordDBQuery("workflows", "get", 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.store.cacheHits.WithLabelValues("workflow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.store.cacheMisses.WithLabelValues("workflow")))
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.store.dbOpen.WithLabelValues("primary")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.store.dbIdle.WithLabelValues("primary")))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.store.dbQuery))
}

func TestCollector_WatchActiveRuns(t *testing.T) {
	collector, reg := newTestCollector()

	var active atomic.Int64
	collector.WatchActiveRuns(active.Load)
	active.Store(3)

	expected := `
# HELP nf_workflow_runs_in_flight Top-level workflow runs currently executing
# TYPE nf_workflow_runs_in_flight gauge
nf_workflow_runs_in_flight 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "nf_workflow_runs_in_flight"))

	active.Store(0)
	count, err := testutil.GatherAndCount(reg, "nf_workflow_runs_in_flight")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollector_WatchActiveRunsTwicePanics(t *testing.T) {
	collector, _ := newTestCollector()
	collector.WatchActiveRuns(func() int64 { return 0 })
	assert.Panics(t, func() { collector.WatchActiveRuns(func() int64 { return 0 }) })
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"}, {204, "2xx"}, {301, "3xx"}, {404, "4xx"}, {500, "5xx"}, {503, "5xx"}, {100, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusClass(tt.code), tt.code)
	}
}
