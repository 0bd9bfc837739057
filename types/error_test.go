package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := Wrap(ErrNodeExecution, "node failed", root).
		WithRetryable(true).
		WithNode("http-1")

	assert.Equal(t, ErrNodeExecution, CodeOf(err))
	assert.True(t, IsRetryable(err))
	assert.True(t, errors.Is(err, root))
	assert.Equal(t, "http-1", err.NodeID)
	assert.Equal(t, "[NODE_EXECUTION_ERROR] node failed: root", err.Error())
	assert.Equal(t, http.StatusInternalServerError, err.Status())
}

func TestError_WrappedChain(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrRecursion, "cycle")
	wrapped := fmt.Errorf("sub-workflow: %w", inner)

	got, ok := AsError(wrapped)
	require.True(t, ok)
	assert.Same(t, inner, got)
	assert.True(t, IsErrorCode(wrapped, ErrRecursion))
	assert.False(t, IsErrorCode(wrapped, ErrConfiguration))
	assert.False(t, IsErrorCode(errors.New("plain"), ""))
	assert.False(t, IsRetryable(wrapped))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
}

func TestErrorCode_Defaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code      ErrorCode
		status    int
		retryable bool
	}{
		{ErrInvalidRequest, http.StatusBadRequest, false},
		{ErrNotFound, http.StatusNotFound, false},
		{ErrRunInProgress, http.StatusConflict, false},
		{ErrConfiguration, http.StatusUnprocessableEntity, false},
		{ErrInvalidGraph, http.StatusUnprocessableEntity, false},
		{ErrRateLimited, http.StatusTooManyRequests, true},
		{ErrTimeout, http.StatusGatewayTimeout, true},
		{ErrServiceUnavailable, http.StatusServiceUnavailable, true},
		{ErrNodeExecution, http.StatusInternalServerError, false},
		{"SOMETHING_NEW", http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		err := NewError(tt.code, "x")
		assert.Equal(t, tt.status, err.Status(), tt.code)
		assert.Equal(t, tt.retryable, err.Retryable, tt.code)
	}

	assert.Equal(t, http.StatusUnsupportedMediaType,
		NewError(ErrInvalidRequest, "x").WithHTTPStatus(http.StatusUnsupportedMediaType).Status())
}
