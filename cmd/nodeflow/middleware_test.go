package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BaSui01/nodeflow/api/handlers"
	"github.com/BaSui01/nodeflow/config"
	"github.com/BaSui01/nodeflow/internal/metrics"
	"github.com/BaSui01/nodeflow/store"
	"github.com/BaSui01/nodeflow/types"
	"github.com/BaSui01/nodeflow/workflow/nodes"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("ok"))
})

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp handlers.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.False(t, resp.Success)
	return resp.Error.Code
}

func TestSecurityHeaders(t *testing.T) {
	w := serve(SecurityHeaders()(okHandler), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "1; mode=block", w.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = types.RequestID(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		w := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
		id := w.Header().Get("X-Request-ID")
		assert.Regexp(t, `^req-[0-9a-f]{32}$`, id)
		assert.Equal(t, id, seen)
	})

	t.Run("preserved", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Request-ID", "client-42")
		w := serve(h, r)
		assert.Equal(t, "client-42", w.Header().Get("X-Request-ID"))
		assert.Equal(t, "client-42", seen)
	})
}

func TestRecovery(t *testing.T) {
	h := Recovery(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(types.ErrInternalError), errorCode(t, w))
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://editor.example.com"})(okHandler)

	t.Run("allowed origin", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Origin", "https://editor.example.com")
		w := serve(h, r)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "https://editor.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("allowed preflight", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodOptions, "/", nil)
		r.Header.Set("Origin", "https://editor.example.com")
		w := serve(h, r)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("unknown origin preflight", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodOptions, "/", nil)
		r.Header.Set("Origin", "https://evil.example.com")
		w := serve(h, r)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("same origin", func(t *testing.T) {
		w := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("wildcard", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Origin", "https://anything.example.com")
		w := serve(CORS([]string{"*"})(okHandler), r)
		assert.Equal(t, "https://anything.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := RateLimiter(ctx, 0.001, 1, zap.NewNop())(okHandler)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, http.StatusOK, serve(h, r).Code)

	w := serve(h, r)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, string(types.ErrRateLimited), errorCode(t, w))
	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Greater(t, retry, 1)

	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	assert.Equal(t, http.StatusOK, serve(h, other).Code)
}

func TestRateLimiter_DisabledWithoutRPS(t *testing.T) {
	h := RateLimiter(context.Background(), 0, 0, zap.NewNop())(okHandler)
	for i := 0; i < 20; i++ {
		assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
	}
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTAuth(t *testing.T) {
	const secret = "test-secret"
	var userID string
	h := JWTAuth(JWTOptions{Secret: secret, Issuer: "nodeflow"}, []string{"/health"}, zap.NewNop())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, _ = types.UserID(r.Context())
		}),
	)

	request := func(token string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil)
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		return r
	}
	valid := jwt.MapClaims{
		"sub": "ada",
		"iss": "nodeflow",
		"exp": time.Now().Add(time.Hour).Unix(),
	}

	t.Run("valid token", func(t *testing.T) {
		userID = ""
		w := serve(h, request(signToken(t, secret, valid)))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ada", userID)
	})

	t.Run("user_id claim", func(t *testing.T) {
		userID = ""
		w := serve(h, request(signToken(t, secret, jwt.MapClaims{"user_id": "grace", "iss": "nodeflow"})))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "grace", userID)
	})

	t.Run("missing header", func(t *testing.T) {
		w := serve(h, request(""))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, string(types.ErrUnauthorized), errorCode(t, w))
	})

	t.Run("not a bearer token", func(t *testing.T) {
		r := request("")
		r.Header.Set("Authorization", "Basic YWRhOnB3")
		w := serve(h, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("none algorithm", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, valid).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		w := serve(h, request(unsigned))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		w := serve(h, request(signToken(t, "other", valid)))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired", func(t *testing.T) {
		w := serve(h, request(signToken(t, secret, jwt.MapClaims{
			"sub": "ada", "iss": "nodeflow", "exp": time.Now().Add(-time.Hour).Unix(),
		})))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		w := serve(h, request(signToken(t, secret, jwt.MapClaims{"sub": "ada", "iss": "someone-else"})))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("skip path", func(t *testing.T) {
		w := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestJWTAuth_DisabledWithoutSecret(t *testing.T) {
	h := JWTAuth(JWTOptions{}, nil, zap.NewNop())(okHandler)
	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil)).Code)
}

func TestAccessLog_RecordsRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollectorWithRegistry("test", reg, zap.NewNop())
	core, logs := observer.New(zapcore.InfoLevel)

	r := chi.NewRouter()
	r.Use(AccessLog(zap.New(core), collector))
	r.Get("/api/v1/workflows/{id}", okHandler)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/workflows/greet", nil))
	require.Equal(t, http.StatusOK, w.Code)
	w = serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/nowhere/3f2a9c1e", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	expected := `
# HELP test_http_requests_total Total number of HTTP requests
# TYPE test_http_requests_total counter
test_http_requests_total{method="GET",path="/api/v1/workflows/{id}",status="2xx"} 1
test_http_requests_total{method="GET",path="unmatched",status="4xx"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "test_http_requests_total"))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "/api/v1/workflows/{id}", entries[0].ContextMap()["route"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, int64(http.StatusNotFound), entries[1].ContextMap()["status"])
}

func TestAccessLog_ServerErrorsLogAtErrorLevel(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	serve(AccessLog(zap.New(core), nil)(failing), httptest.NewRequest(http.MethodPost, "/x", nil))
	serve(AccessLog(zap.New(core), nil)(okHandler), httptest.NewRequest(http.MethodGet, "/x", nil))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	assert.Equal(t, unmatchedRoute, entry.ContextMap()["route"])
}

func TestOTelTracing_NamesSpanAfterRoute(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var traceID string
	r := chi.NewRouter()
	r.Use(OTelTracing())
	r.Get("/api/v1/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		traceID, _ = types.TraceID(r.Context())
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/runs/abc", nil))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "GET /api/v1/runs/{id}", span.Name())
	assert.Equal(t, trace.SpanKindServer, span.SpanKind())
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Equal(t, span.SpanContext().TraceID().String(), traceID)

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "/api/v1/runs/{id}", attrs["http.route"].AsString())
	assert.Equal(t, int64(http.StatusServiceUnavailable), attrs["http.response.status_code"].AsInt64())
}

func TestClientLimiter_Sweep(t *testing.T) {
	l := newClientLimiter(1, 0)
	assert.Equal(t, 1, l.burst)

	now := time.Now()
	ok, _ := l.reserve("10.0.0.1", now.Add(-time.Hour))
	assert.True(t, ok)
	ok, _ = l.reserve("10.0.0.2", now)
	assert.True(t, ok)

	assert.Equal(t, 1, l.sweep(now, visitorIdleTTL))
	assert.Len(t, l.visitors, 1)
	assert.Contains(t, l.visitors, "10.0.0.2")
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 3, retryAfterSeconds(2100*time.Millisecond))
}

func TestOriginHosts(t *testing.T) {
	assert.Equal(t,
		[]string{"editor.example.com", "localhost:3000", "*"},
		originHosts([]string{"https://editor.example.com/", "http://localhost:3000", "*", ""}),
	)
}

func TestRouter_HealthIsPublicAndAPIRequiresToken(t *testing.T) {
	st := store.NewMemoryStore()
	runner := handlers.NewRunner(nodes.NewRegistry(nodes.DefaultOptions()), st, nil, zap.NewNop())

	cfg := config.DefaultConfig().Server
	cfg.JWTSecret = "router-secret"
	cfg.RateLimitRPS = 0

	h := newRouter(routerDeps{
		cfg:       cfg,
		store:     st,
		runner:    runner,
		logger:    zap.NewNop(),
		limiterCx: context.Background(),
	})

	w := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = serve(h, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"active_runs":0`)

	w = serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, "router-secret", jwt.MapClaims{"sub": "ada"}))
	w = serve(h, r)
	assert.Equal(t, http.StatusOK, w.Code)
}
