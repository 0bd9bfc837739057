package types

import "context"

type ctxKey uint8

const (
	traceIDKey ctxKey = iota
	requestIDKey
	runIDKey
	workflowIDKey
	userIDKey
)

func withValue(ctx context.Context, k ctxKey, v string) context.Context {
	return context.WithValue(ctx, k, v)
}

// value 只报告非空字符串
func value(ctx context.Context, k ctxKey) (string, bool) {
	v, ok := ctx.Value(k).(string)
	return v, ok && v != ""
}

// WithTraceID is set by the tracing middleware from the server span.
func WithTraceID(ctx context.Context, id string) context.Context {
	return withValue(ctx, traceIDKey, id)
}

func TraceID(ctx context.Context) (string, bool) {
	return value(ctx, traceIDKey)
}

// WithRequestID carries the X-Request-ID of the inbound request.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestIDKey, id)
}

func RequestID(ctx context.Context) (string, bool) {
	return value(ctx, requestIDKey)
}

// WithRunID is set by the engine for the duration of a run, nested runs
// included.
func WithRunID(ctx context.Context, id string) context.Context {
	return withValue(ctx, runIDKey, id)
}

func RunID(ctx context.Context) (string, bool) {
	return value(ctx, runIDKey)
}

func WithWorkflowID(ctx context.Context, id string) context.Context {
	return withValue(ctx, workflowIDKey, id)
}

func WorkflowID(ctx context.Context) (string, bool) {
	return value(ctx, workflowIDKey)
}

// WithUserID carries the authenticated subject.
func WithUserID(ctx context.Context, id string) context.Context {
	return withValue(ctx, userIDKey, id)
}

func UserID(ctx context.Context) (string, bool) {
	return value(ctx, userIDKey)
}

// Identity is every correlation id a context carries. Missing ids are "".
type Identity struct {
	TraceID    string
	RequestID  string
	RunID      string
	WorkflowID string
	UserID     string
}

// IdentityFrom collects the ids set on ctx.
func IdentityFrom(ctx context.Context) Identity {
	var id Identity
	id.TraceID, _ = TraceID(ctx)
	id.RequestID, _ = RequestID(ctx)
	id.RunID, _ = RunID(ctx)
	id.WorkflowID, _ = WorkflowID(ctx)
	id.UserID, _ = UserID(ctx)
	return id
}
