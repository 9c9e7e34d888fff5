package process

import (
	"context"
	"maps"
	"time"

	"github.com/pbinitiative/zenstep/internal/appcontext"
	"github.com/pbinitiative/zenstep/pkg/process/runtime"
)

// ContextExecutionInfo is the context variable holding the lifecycle timestamps of an instance.
const ContextExecutionInfo = "executionInfo"

const (
	executionInfoUserId    = "userId"
	executionInfoSessionId = "sessionId"
	executionInfoStarted   = "started"
	executionInfoEnded     = "ended"
	executionInfoCancelled = "cancelled"
	executionInfoError     = "error"
)

func initExecutionInfo(instance *runtime.ProcessInstance) {
	instance.VariableHolder.SetLocalVariable(ContextExecutionInfo, map[string]any{
		executionInfoUserId:    instance.UserId,
		executionInfoSessionId: instance.SessionId,
	})
}

func setExecutionInfo(instance *runtime.ProcessInstance, key string, value any) {
	info := ExecutionInfo(instance)
	info[key] = value
	instance.VariableHolder.SetLocalVariable(ContextExecutionInfo, info)
}

// ExecutionInfo returns a copy of the execution info kept in the context of instance.
func ExecutionInfo(instance *runtime.ProcessInstance) map[string]any {
	res := map[string]any{}
	if raw, ok := instance.VariableHolder.GetLocalVariable(ContextExecutionInfo); ok {
		if info, ok := raw.(map[string]any); ok {
			maps.Copy(res, info)
		}
	}
	return res
}

func (engine *Engine) timestamp() string {
	return engine.clock().UTC().Format(time.RFC3339)
}

func executionKey(ctx context.Context) int64 {
	key, _ := appcontext.ExecutionKeyFromContext(ctx)
	return key
}
