package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/types"
	"github.com/BaSui01/nodeflow/workflow"
)

// Correlation headers sent on every outbound call. Node-configured headers
// with the same name win.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderRunID     = "X-Nodeflow-Run-ID"
)

// maxResponseBody bounds how much of a response body is kept in state.
const maxResponseBody = 1 << 20

type httpRequestConfig struct {
	Method    string            `mapstructure:"method"`
	URL       string            `mapstructure:"url"`
	Headers   map[string]string `mapstructure:"headers"`
	Query     map[string]string `mapstructure:"query"`
	Body      any               `mapstructure:"body"`
	TimeoutMs int               `mapstructure:"timeoutMs"`
}

// HTTPRequest calls an HTTP endpoint. Non-2xx responses fail the node with
// the status code and body in the error context, so an error port or
// try/catch scope can inspect them.
func HTTPRequest(client *http.Client, defaultTimeout time.Duration, logger *zap.Logger) workflow.Implementation {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "http_request_node"))

	return workflow.NewFunc(TypeHTTPRequest, []string{workflow.PortSuccess, workflow.PortError},
		func(ctx context.Context, data map[string]any, _ workflow.Observer, _ *workflow.ExecContext) (workflow.Result, error) {
			var cfg httpRequestConfig
			if err := decode(data, &cfg); err != nil {
				return workflow.Result{}, err
			}
			if strings.TrimSpace(cfg.URL) == "" {
				return workflow.Result{}, workflow.NewNodeError("url is required", nil)
			}
			method := strings.ToUpper(strings.TrimSpace(cfg.Method))
			if method == "" {
				method = http.MethodGet
			}

			timeout := defaultTimeout
			if cfg.TimeoutMs > 0 {
				timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
			}
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			body, contentType, err := encodeBody(cfg.Body)
			if err != nil {
				return workflow.Result{}, workflow.NewNodeError(err.Error(), nil)
			}

			req, err := http.NewRequestWithContext(ctx, method, cfg.URL, body)
			if err != nil {
				return workflow.Result{}, workflow.NewNodeError(fmt.Sprintf("invalid request: %v", err), nil)
			}
			if contentType != "" {
				req.Header.Set("Content-Type", contentType)
			}
			propagateIdentity(ctx, req.Header)
			for k, v := range cfg.Headers {
				req.Header.Set(k, v)
			}
			if len(cfg.Query) > 0 {
				q := req.URL.Query()
				for k, v := range cfg.Query {
					q.Set(k, v)
				}
				req.URL.RawQuery = q.Encode()
			}

			id := types.IdentityFrom(ctx)
			start := time.Now()
			resp, err := client.Do(req)
			if err != nil {
				logger.Warn("http request failed",
					zap.String("method", method),
					zap.String("url", cfg.URL),
					zap.String("run_id", id.RunID),
					zap.Error(err),
				)
				return workflow.Result{}, &workflow.NodeError{
					Message: fmt.Sprintf("%s %s: %v", method, cfg.URL, err),
					Context: map[string]any{"url": cfg.URL, "method": method},
					Cause:   err,
				}
			}
			defer resp.Body.Close()

			raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
			if err != nil {
				return workflow.Result{}, workflow.NewNodeError(fmt.Sprintf("read response: %v", err), nil)
			}

			headers := make(map[string]any, len(resp.Header))
			for k := range resp.Header {
				headers[k] = resp.Header.Get(k)
			}
			out := map[string]any{
				"statusCode": resp.StatusCode,
				"headers":    headers,
				"body":       decodeBody(raw, resp.Header.Get("Content-Type")),
				"durationMs": time.Since(start).Milliseconds(),
			}

			logger.Debug("http request completed",
				zap.String("method", method),
				zap.String("url", cfg.URL),
				zap.Int("status", resp.StatusCode),
				zap.String("run_id", id.RunID),
				zap.String("workflow_id", id.WorkflowID),
			)

			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return workflow.Result{}, workflow.NewNodeError(
					fmt.Sprintf("%s %s returned %d", method, cfg.URL, resp.StatusCode), out)
			}
			return workflow.Result{Data: out}, nil
		}).WithDefaults(map[string]any{
		"method":  http.MethodGet,
		"url":     "",
		"headers": map[string]any{},
	})
}

func encodeBody(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case string:
		if b == "" {
			return nil, "", nil
		}
		return strings.NewReader(b), "text/plain; charset=utf-8", nil
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("encode body: %w", err)
		}
		return bytes.NewReader(raw), "application/json", nil
	}
}

func decodeBody(raw []byte, contentType string) any {
	if strings.Contains(contentType, "json") {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	}
	return string(raw)
}

// propagateIdentity forwards the trace context and the run's correlation ids.
func propagateIdentity(ctx context.Context, h http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
	id := types.IdentityFrom(ctx)
	if id.RequestID != "" {
		h.Set(HeaderRequestID, id.RequestID)
	}
	if id.RunID != "" {
		h.Set(HeaderRunID, id.RunID)
	}
}
