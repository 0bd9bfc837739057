package main

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/nodeflow/api/handlers"
	"github.com/BaSui01/nodeflow/internal/metrics"
	"github.com/BaSui01/nodeflow/types"
)

// Middleware 与 chi 的中间件签名一致
type Middleware = func(http.Handler) http.Handler

func passthrough(next http.Handler) http.Handler { return next }

// Recovery 把 handler 中的 panic 转为 500 错误响应
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"),
				)
				handlers.WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "internal server error", nil)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// unmatchedRoute labels requests that no chi route matched.
const unmatchedRoute = "unmatched"

// routeLabel returns the matched chi pattern, e.g. /api/v1/workflows/{id},
// so the path label never carries raw identifiers.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}

// AccessLog 记录每个请求的访问日志，collector 非空时同时上报 HTTP 指标。
// 5xx 以 Error 级别记录，4xx 以 Warn 级别记录。
func AccessLog(logger *zap.Logger, collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)
			elapsed := time.Since(start)
			route := routeLabel(r)

			if collector != nil {
				collector.RecordHTTPRequest(r.Method, route, rw.StatusCode, elapsed, max(r.ContentLength, 0), rw.BytesWritten)
			}

			level := zapcore.InfoLevel
			switch {
			case rw.StatusCode >= http.StatusInternalServerError:
				level = zapcore.ErrorLevel
			case rw.StatusCode >= http.StatusBadRequest:
				level = zapcore.WarnLevel
			}
			ce := logger.Check(level, "request")
			if ce == nil {
				return
			}
			id := types.IdentityFrom(r.Context())
			ce.Write(
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.Int("status", rw.StatusCode),
				zap.Int64("bytes", rw.BytesWritten),
				zap.Duration("duration", elapsed),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("request_id", id.RequestID),
				zap.String("trace_id", id.TraceID),
			)
		})
	}
}

// RequestID 保留客户端传入的 X-Request-ID，缺失时生成一个，并写入响应头与 context
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(headerRequestID)
			if id == "" {
				id = newRequestID()
			}
			w.Header().Set(headerRequestID, id)
			next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), id)))
		})
	}
}

const headerRequestID = "X-Request-ID"

func newRequestID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return "req-" + hex.EncodeToString(b[:])
}

var securityHeaders = [][2]string{
	{"X-Frame-Options", "DENY"},
	{"X-Content-Type-Options", "nosniff"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"X-XSS-Protection", "1; mode=block"},
	{"Content-Security-Policy", "default-src 'self'"},
}

// SecurityHeaders sets the fixed hardening headers on every response.
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, kv := range securityHeaders {
				h.Set(kv[0], kv[1])
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORS 仅对列出的来源回写 CORS 头，"*" 允许任意来源。
// 未列出来源的预检请求返回 403，普通请求照常处理但不带 CORS 头。
func CORS(allowedOrigins []string) Middleware {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	permits := func(origin string) bool { return allowed["*"] || allowed[origin] }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			preflight := r.Method == http.MethodOptions

			switch {
			case origin == "":
			case permits(origin):
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+headerRequestID)
				h.Set("Access-Control-Expose-Headers", headerRequestID)
				h.Set("Access-Control-Max-Age", "86400")
				if preflight {
					w.WriteHeader(http.StatusNoContent)
					return
				}
			case preflight:
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
