package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/store"
	"github.com/BaSui01/nodeflow/types"
	"github.com/BaSui01/nodeflow/workflow"
)

// maxBodyBytes 限制请求体大小
const maxBodyBytes = 1 << 20

// Response 是所有 JSON 端点共用的信封
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 是 types.Error 对外暴露的部分，Cause 不会出现在响应里
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	NodeID    string `json:"node_id,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func errorInfo(e *types.Error) *ErrorInfo {
	return &ErrorInfo{
		Code:      string(e.Code),
		Message:   e.Message,
		NodeID:    e.NodeID,
		Retryable: e.Retryable,
	}
}

// WriteJSON 写出任意 JSON 值
func WriteJSON(w http.ResponseWriter, status int, data any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	// headers are out; an encode failure cannot be reported to the client
	_ = json.NewEncoder(w).Encode(data)
}

func envelope(w http.ResponseWriter, data any, e *ErrorInfo) Response {
	return Response{
		Success:   e == nil,
		Data:      data,
		Error:     e,
		Timestamp: time.Now(),
		RequestID: w.Header().Get("X-Request-ID"),
	}
}

// WriteSuccess 以 200 写出成功信封
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, envelope(w, data, nil))
}

// WriteError 写出错误信封。5xx 记 Error 日志，其余记 Debug。
func WriteError(w http.ResponseWriter, err *types.Error, logger *zap.Logger) {
	status := err.Status()
	if logger != nil {
		fields := []zap.Field{
			zap.String("code", string(err.Code)),
			zap.String("message", err.Message),
			zap.Int("status", status),
		}
		if err.NodeID != "" {
			fields = append(fields, zap.String("node_id", err.NodeID))
		}
		if err.Cause != nil {
			fields = append(fields, zap.Error(err.Cause))
		}
		if status >= http.StatusInternalServerError {
			logger.Error("API error", fields...)
		} else {
			logger.Debug("API error", fields...)
		}
	}
	WriteJSON(w, status, envelope(w, nil, errorInfo(err)))
}

// WriteErrorMessage 用指定状态码写出一条简单错误
func WriteErrorMessage(w http.ResponseWriter, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	WriteError(w, types.NewError(code, message).WithHTTPStatus(status), logger)
}

// WriteFailure 把存储层、引擎返回的任意错误转换后写出
func WriteFailure(w http.ResponseWriter, err error, logger *zap.Logger) {
	WriteError(w, toAPIError(err), logger)
}

// sentinelCodes 把包级哨兵错误归类，顺序即匹配优先级
var sentinelCodes = []struct {
	target error
	code   types.ErrorCode
}{
	{store.ErrNotFound, types.ErrNotFound},
	{workflow.ErrWorkflowNotFound, types.ErrNotFound},
	{workflow.ErrExecutionNotFound, types.ErrNotFound},
	{store.ErrInvalidInput, types.ErrInvalidRequest},
	{store.ErrReadOnly, types.ErrForbidden},
	{store.ErrStoreClosed, types.ErrServiceUnavailable},
}

func toAPIError(err error) *types.Error {
	for _, s := range sentinelCodes {
		if errors.Is(err, s.target) {
			return types.NewError(s.code, err.Error())
		}
	}
	if te, ok := types.AsError(err); ok {
		return te
	}
	// the cause is logged, never echoed
	return types.Wrap(types.ErrInternalError, "internal server error", err)
}

// DecodeJSONBody 严格解码单个 JSON 对象：拒绝未知字段、尾随数据和超过 1 MB 的请求体。
// 失败时已写出错误响应。
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil || r.Body == http.NoBody {
		return reject(w, types.NewError(types.ErrInvalidRequest, "request body is empty"), logger)
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return reject(w, types.Wrap(types.ErrInvalidRequest,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), err).
				WithHTTPStatus(http.StatusRequestEntityTooLarge), logger)
		}
		return reject(w, types.Wrap(types.ErrInvalidRequest, "invalid JSON body", err), logger)
	}
	if dec.More() {
		return reject(w, types.NewError(types.ErrInvalidRequest, "unexpected data after JSON body"), logger)
	}
	return nil
}

func reject(w http.ResponseWriter, err *types.Error, logger *zap.Logger) error {
	WriteError(w, err, logger)
	return err
}

// ValidateContentType 要求 application/json，失败时写出 415
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err == nil && mediaType == "application/json" {
		return true
	}
	WriteError(w, types.NewError(types.ErrInvalidRequest, "Content-Type must be application/json").
		WithHTTPStatus(http.StatusUnsupportedMediaType), logger)
	return false
}

// ResponseWriter 记录状态码与写出字节数，供日志与指标中间件使用。
// Flush、Hijack 透传给底层 writer，WebSocket 升级可以穿过中间件链。
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode   int
	Written      bool
	BytesWritten int64
}

// NewResponseWriter 对已包装的 writer 原样返回，避免重复计数
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	if rw, ok := w.(*ResponseWriter); ok {
		return rw
	}
	return &ResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
}

// WriteHeader 只有第一次调用生效
func (rw *ResponseWriter) WriteHeader(code int) {
	if rw.Written {
		return
	}
	rw.StatusCode = code
	rw.Written = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.BytesWritten += int64(n)
	return n, err
}

func (rw *ResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack 成功后请求按 101 记录
func (rw *ResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("underlying ResponseWriter does not support hijacking")
	}
	rw.StatusCode = http.StatusSwitchingProtocols
	rw.Written = true
	return hj.Hijack()
}

// Unwrap 供 http.ResponseController 访问底层 writer
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
