package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/store"
	"github.com/BaSui01/nodeflow/types"
	"github.com/BaSui01/nodeflow/workflow"
)

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name       string
		data       any
		wantStatus int
	}{
		{name: "simple object", data: map[string]string{"message": "hello"}, wantStatus: http.StatusOK},
		{name: "array", data: []int{1, 2, 3}, wantStatus: http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteJSON(w, tt.wantStatus, tt.data)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		})
	}
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-1")

	WriteSuccess(w, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name           string
		err            *types.Error
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "invalid request",
			err:            types.NewError(types.ErrInvalidRequest, "name is required"),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   string(types.ErrInvalidRequest),
		},
		{
			name:           "not found",
			err:            types.NewError(types.ErrNotFound, "workflow not found"),
			expectedStatus: http.StatusNotFound,
			expectedCode:   string(types.ErrNotFound),
		},
		{
			name:           "explicit status wins",
			err:            types.NewError(types.ErrInternalError, "teapot").WithHTTPStatus(http.StatusTeapot),
			expectedStatus: http.StatusTeapot,
			expectedCode:   string(types.ErrInternalError),
		},
		{
			name:           "configuration error",
			err:            workflow.NewConfigurationError("a", "no start node"),
			expectedStatus: http.StatusUnprocessableEntity,
			expectedCode:   string(types.ErrConfiguration),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err, zap.NewNop())

			assert.Equal(t, tt.expectedStatus, w.Code)

			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.False(t, resp.Success)
			assert.Nil(t, resp.Data)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.expectedCode, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestWriteFailure_MapsSentinels(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   types.ErrorCode
	}{
		{"store not found", fmt.Errorf("get: %w", store.ErrNotFound), http.StatusNotFound, types.ErrNotFound},
		{"loader not found", workflow.ErrWorkflowNotFound, http.StatusNotFound, types.ErrNotFound},
		{"run not found", workflow.ErrExecutionNotFound, http.StatusNotFound, types.ErrNotFound},
		{"invalid input", fmt.Errorf("%w: name is required", store.ErrInvalidInput), http.StatusBadRequest, types.ErrInvalidRequest},
		{"read only", store.ErrReadOnly, http.StatusForbidden, types.ErrForbidden},
		{"closed", store.ErrStoreClosed, http.StatusServiceUnavailable, types.ErrServiceUnavailable},
		{"run in progress", workflow.ErrRunInProgress, http.StatusConflict, types.ErrRunInProgress},
		{"plain", errors.New("boom"), http.StatusInternalServerError, types.ErrInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteFailure(w, tt.err, zap.NewNop())

			assert.Equal(t, tt.status, w.Code)
			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.code), resp.Error.Code)
		})
	}
}

func TestWriteFailure_HidesInternalCause(t *testing.T) {
	w := httptest.NewRecorder()
	WriteFailure(w, errors.New("dial tcp 10.0.0.1:5432: secret"), zap.NewNop())

	assert.NotContains(t, w.Body.String(), "10.0.0.1")
}

func TestDecodeJSONBody(t *testing.T) {
	type TestStruct struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	tests := []struct {
		name      string
		body      string
		wantErr   bool
		checkFunc func(*testing.T, *TestStruct)
	}{
		{
			name: "valid JSON",
			body: `{"name":"test","value":123}`,
			checkFunc: func(t *testing.T, ts *TestStruct) {
				assert.Equal(t, "test", ts.Name)
				assert.Equal(t, 123, ts.Value)
			},
		},
		{name: "invalid JSON", body: `{"name":"test",}`, wantErr: true},
		{name: "unknown field", body: `{"name":"test","unknown":"field"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(tt.body))

			var result TestStruct
			err := DecodeJSONBody(w, r, &result, zap.NewNop())

			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, http.StatusBadRequest, w.Code)
				return
			}
			assert.NoError(t, err)
			if tt.checkFunc != nil {
				tt.checkFunc(t, &result)
			}
		})
	}
}

func TestDecodeJSONBody_Empty(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/test", nil)

	var v map[string]any
	assert.Error(t, DecodeJSONBody(w, r, &v, zap.NewNop()))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDecodeJSONBody_MaxBodySize(t *testing.T) {
	type TestStruct struct {
		Name string `json:"name"`
	}

	oversized := `{"name":"` + strings.Repeat("x", 2<<20) + `"}`

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(oversized))

	var result TestStruct
	assert.Error(t, DecodeJSONBody(w, r, &result, zap.NewNop()), "body exceeding 1 MB should be rejected")
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "exceeds")
}

func TestDecodeJSONBody_TrailingData(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"a":1} {"b":2}`))

	var v map[string]any
	assert.Error(t, DecodeJSONBody(w, r, &v, zap.NewNop()))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unexpected data")
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		want        bool
	}{
		{name: "valid application/json", contentType: "application/json", want: true},
		{name: "valid with charset", contentType: "application/json; charset=utf-8", want: true},
		{name: "valid with uppercase charset", contentType: "application/json; charset=UTF-8", want: true},
		{name: "invalid text/plain", contentType: "text/plain", want: false},
		{name: "empty", contentType: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/test", nil)
			r.Header.Set("Content-Type", tt.contentType)

			assert.Equal(t, tt.want, ValidateContentType(w, r, zap.NewNop()))
			if !tt.want {
				assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
			}
		})
	}
}

func TestResponseWriter(t *testing.T) {
	w := httptest.NewRecorder()
	rw := NewResponseWriter(w)

	assert.Equal(t, http.StatusOK, rw.StatusCode)
	assert.False(t, rw.Written)

	rw.WriteHeader(http.StatusCreated)
	assert.Equal(t, http.StatusCreated, rw.StatusCode)
	assert.True(t, rw.Written)

	// 再次写入应该被忽略
	rw.WriteHeader(http.StatusBadRequest)
	assert.Equal(t, http.StatusCreated, rw.StatusCode)

	n, err := rw.Write([]byte("test"))
	assert.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, int64(4), rw.BytesWritten)

	assert.Same(t, rw, NewResponseWriter(rw))
	assert.Equal(t, http.ResponseWriter(w), rw.Unwrap())
}

func TestResponseWriter_HijackUnsupported(t *testing.T) {
	rw := NewResponseWriter(httptest.NewRecorder())
	_, _, err := rw.Hijack()
	assert.Error(t, err)
}

func TestWriteFailure_TransientErrorsAreRetryable(t *testing.T) {
	w := httptest.NewRecorder()
	WriteFailure(w, fmt.Errorf("save: %w", store.ErrStoreClosed), zap.NewNop())

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.True(t, resp.Error.Retryable)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestWriteError_CarriesNodeID(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, workflow.NewRecursionError("call", "wf", []string{"wf"}), zap.NewNop())

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "call", resp.Error.NodeID)
	assert.Equal(t, string(types.ErrRecursion), resp.Error.Code)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
