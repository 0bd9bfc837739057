package nodes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/types"
	"github.com/BaSui01/nodeflow/workflow"
)

type logCapture struct {
	workflow.NopObserver
	mu    sync.Mutex
	lines []string
}

func (l *logCapture) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, s)
}

func (l *logCapture) Info(m string)  { l.add("info:" + m) }
func (l *logCapture) Warn(m string)  { l.add("warn:" + m) }
func (l *logCapture) Error(m string) { l.add("error:" + m) }

func run(t *testing.T, g *workflow.Graph, opts workflow.RunOptions, engineOpts ...workflow.EngineOption) map[string]workflow.NodeState {
	t.Helper()
	engine := workflow.NewEngine(NewRegistry(Options{Logger: zap.NewNop()}), engineOpts...)
	state, err := engine.Run(context.Background(), g, opts)
	require.NoError(t, err)
	return state
}

func TestCatalog(t *testing.T) {
	t.Parallel()

	cats := Catalog(DefaultOptions())
	names := make([]string, 0, len(cats))
	for _, c := range cats {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"control", "basic", "variables", "integration"}, names)

	reg := NewRegistry(Options{})
	for _, typ := range []string{TypeStart, TypeSetVariable, TypeAppendVariable, TypeLog, TypeDelay, TypeFail, TypeTransform, TypeHTTPRequest} {
		_, ok := reg.FindImplementation(typ)
		assert.True(t, ok, typ)
	}
}

func TestVariables(t *testing.T) {
	t.Parallel()

	g := workflow.NewGraph().
		AddNode(workflow.Node{ID: "start", Type: TypeStart, Data: map[string]any{"greeting": "hello"}}).
		AddNode(workflow.Node{ID: "set", Type: TypeSetVariable, Data: map[string]any{"name": "msg", "value": "{{start.greeting}}"}}).
		AddNode(workflow.Node{ID: "push", Type: TypeAppendVariable, Data: map[string]any{"name": "list", "value": "{{global.msg}}"}}).
		Connect("start", "", "set").
		Connect("set", "", "push")

	globals := workflow.NewVariables(nil)
	state := run(t, g, workflow.RunOptions{Globals: globals})

	msg, _ := globals.Get("msg")
	assert.Equal(t, "hello", msg)
	list, _ := globals.Get("list")
	assert.Equal(t, []any{"hello"}, list)
	assert.Equal(t, 1, state["push"]["length"])
}

func TestAppendVariable_NotAList(t *testing.T) {
	t.Parallel()

	g := workflow.NewGraph().
		AddNode(workflow.Node{ID: "push", Type: TypeAppendVariable, Data: map[string]any{"name": "scalar", "value": 1}}).
		AddNode(workflow.Node{ID: "handler", Type: TypeLog, Data: map[string]any{"message": "{{push.error}}"}}).
		Connect("push", workflow.PortError, "handler")

	state := run(t, g, workflow.RunOptions{GlobalVariables: map[string]any{"scalar": 5}})
	assert.Equal(t, workflow.StatusError, state["push"].Status())
	assert.Equal(t, `variable "scalar" is not a list`, state["handler"]["message"])
}

func TestSetVariable_RequiresName(t *testing.T) {
	t.Parallel()

	g := workflow.NewGraph().AddNode(workflow.Node{ID: "set", Type: TypeSetVariable, Data: map[string]any{"value": 1}})
	state := run(t, g, workflow.RunOptions{})
	assert.Equal(t, "variable name is required", state["set"].ErrorMessage())
}

func TestLog(t *testing.T) {
	t.Parallel()

	obs := &logCapture{}
	g := workflow.NewGraph().
		AddNode(workflow.Node{ID: "a", Type: TypeLog, Data: map[string]any{"message": "plain"}}).
		AddNode(workflow.Node{ID: "b", Type: TypeLog, Data: map[string]any{"message": "{{global.obj}}", "level": "warn"}}).
		Connect("a", "", "b")

	state := run(t, g, workflow.RunOptions{GlobalVariables: map[string]any{"obj": map[string]any{"k": 1}}}, workflow.WithObserver(obs))
	assert.Contains(t, obs.lines, "info:plain")
	assert.Contains(t, obs.lines, `warn:{"k":1}`)
	assert.Equal(t, `{"k":1}`, state["b"]["message"])
}

func TestDelay(t *testing.T) {
	t.Parallel()

	impl := Delay(time.Second)
	ec := &workflow.ExecContext{}

	res, err := impl.Execute(context.Background(), map[string]any{"milliseconds": "5"}, workflow.NopObserver{}, ec)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Data["waitedMs"])

	res, err = impl.Execute(context.Background(), map[string]any{"duration": "10ms"}, workflow.NopObserver{}, ec)
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Data["waitedMs"])

	_, err = impl.Execute(context.Background(), map[string]any{"milliseconds": 5000}, workflow.NopObserver{}, ec)
	assert.ErrorContains(t, err, "exceeds the maximum")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Delay(0).Execute(ctx, map[string]any{"milliseconds": 1000}, workflow.NopObserver{}, ec)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFail(t *testing.T) {
	t.Parallel()

	g := workflow.NewGraph().
		AddNode(workflow.Node{ID: "try", Type: workflow.TypeTryCatch}).
		AddNode(workflow.Node{ID: "boom", Type: TypeFail, Data: map[string]any{"message": "nope", "context": map[string]any{"reason": "test"}}}).
		AddNode(workflow.Node{ID: "caught", Type: TypeLog, Data: map[string]any{"message": "{{try.caughtError}}"}}).
		Connect("try", workflow.PortTry, "boom").
		Connect("try", workflow.PortCatch, "caught")

	state := run(t, g, workflow.RunOptions{})
	assert.Equal(t, "nope", state["boom"].ErrorMessage())
	assert.Equal(t, "test", state["boom"]["reason"])
	assert.Equal(t, "nope", state["caught"]["message"])
}

func TestTransform(t *testing.T) {
	t.Parallel()

	g := workflow.NewGraph().
		AddNode(workflow.Node{ID: "start", Type: TypeStart, Data: map[string]any{"price": 20, "qty": 3}}).
		AddNode(workflow.Node{ID: "total", Type: TypeTransform, Data: map[string]any{
			"expression": "start.price * start.qty + global.shipping",
			"target":     "total",
		}}).
		AddNode(workflow.Node{ID: "check", Type: TypeTransform, Data: map[string]any{"expression": "total.value > 60"}}).
		Connect("start", "", "total").
		Connect("total", "", "check")

	globals := workflow.NewVariables(map[string]any{"shipping": 5})
	state := run(t, g, workflow.RunOptions{Globals: globals})

	assert.Equal(t, 65.0, state["total"]["value"])
	assert.Equal(t, true, state["check"]["value"])
	v, _ := globals.Get("total")
	assert.Equal(t, 65.0, v)

	bad := workflow.NewGraph().AddNode(workflow.Node{ID: "t", Type: TypeTransform, Data: map[string]any{"expression": "1 / 0"}})
	state = run(t, bad, workflow.RunOptions{})
	assert.Equal(t, workflow.StatusError, state["t"].Status())
}

func TestHTTPRequest(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/items":
			body, _ := io.ReadAll(r.Body)
			var payload map[string]any
			_ = json.Unmarshal(body, &payload)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"method": r.Method,
				"token":  r.Header.Get("X-Token"),
				"page":   r.URL.Query().Get("page"),
				"name":   payload["name"],
			})
		default:
			http.Error(w, "missing", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	engine := workflow.NewEngine(NewRegistry(Options{HTTPClient: srv.Client(), HTTPTimeout: 5 * time.Second}))

	g := workflow.NewGraph().
		AddNode(workflow.Node{ID: "call", Type: TypeHTTPRequest, Data: map[string]any{
			"method":  "post",
			"url":     srv.URL + "/items",
			"headers": map[string]any{"X-Token": "{{global.token}}"},
			"query":   map[string]any{"page": 2},
			"body":    map[string]any{"name": "{{form.name}}"},
		}}).
		AddNode(workflow.Node{ID: "missing", Type: TypeHTTPRequest, Data: map[string]any{"url": srv.URL + "/nope"}}).
		AddNode(workflow.Node{ID: "onMissing", Type: TypeLog, Data: map[string]any{"message": "{{missing.statusCode}}"}}).
		Connect("missing", workflow.PortError, "onMissing")

	state, err := engine.Run(context.Background(), g, workflow.RunOptions{
		GlobalVariables: map[string]any{"token": "secret"},
		FormInputs:      map[string]any{"name": "widget"},
	})
	require.NoError(t, err)

	require.Equal(t, workflow.StatusSuccess, state["call"].Status(), state["call"].ErrorMessage())
	assert.Equal(t, http.StatusOK, state["call"]["statusCode"])
	body, ok := state["call"]["body"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "POST", body["method"])
	assert.Equal(t, "secret", body["token"])
	assert.Equal(t, "2", body["page"])
	assert.Equal(t, "widget", body["name"])

	assert.Equal(t, workflow.StatusError, state["missing"].Status())
	assert.Equal(t, http.StatusNotFound, state["missing"]["statusCode"])
	assert.Equal(t, "404", state["onMissing"]["message"])
}

func TestHTTPRequest_ForwardsCorrelationHeaders(t *testing.T) {
	t.Parallel()

	headers := make(chan http.Header, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	engine := workflow.NewEngine(NewRegistry(Options{HTTPClient: srv.Client()}))
	g := workflow.NewGraph().
		AddNode(workflow.Node{ID: "call", Type: TypeHTTPRequest, Data: map[string]any{"url": srv.URL}}).
		AddNode(workflow.Node{ID: "override", Type: TypeHTTPRequest, Data: map[string]any{
			"url":     srv.URL,
			"headers": map[string]any{HeaderRunID: "custom"},
		}})

	ctx := types.WithRequestID(context.Background(), "req-7")
	_, err := engine.Run(ctx, g, workflow.RunOptions{RunID: "run-42"})
	require.NoError(t, err)

	got := []http.Header{<-headers, <-headers}
	runIDs := []string{got[0].Get(HeaderRunID), got[1].Get(HeaderRunID)}
	assert.ElementsMatch(t, []string{"run-42", "custom"}, runIDs)
	for _, h := range got {
		assert.Equal(t, "req-7", h.Get(HeaderRequestID))
	}
}
