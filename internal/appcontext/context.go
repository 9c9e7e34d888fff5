package appcontext

import (
	"context"
)

type EXECUTION_CONTEXT string

var (
	ExecutionKey EXECUTION_CONTEXT = "executionKey"
	SessionKey   EXECUTION_CONTEXT = "sessionId"
)

// WithExecutionKey marks ctx with the key of one engine execution, used to correlate log lines.
func WithExecutionKey(ctx context.Context, key int64) context.Context {
	return context.WithValue(ctx, ExecutionKey, key)
}

func ExecutionKeyFromContext(ctx context.Context) (int64, bool) {
	executionContextKey := ctx.Value(ExecutionKey)
	if executionContextKey == nil {
		return 0, false
	}
	key, ok := executionContextKey.(int64)
	return key, ok
}

func WithSessionId(ctx context.Context, sessionId string) context.Context {
	return context.WithValue(ctx, SessionKey, sessionId)
}

func SessionIdFromContext(ctx context.Context) (string, bool) {
	sessionId, ok := ctx.Value(SessionKey).(string)
	return sessionId, ok && sessionId != ""
}
