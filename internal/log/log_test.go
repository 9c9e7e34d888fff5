package log

import (
	"context"
	"testing"

	"github.com/pbinitiative/zenstep/internal/appcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextLoggingAddsExecutionKey(t *testing.T) {
	// given
	core, logs := observer.New(zapcore.DebugLevel)
	Set(zap.New(core))
	ctx := appcontext.WithExecutionKey(context.Background(), 42)
	ctx = appcontext.WithSessionId(ctx, "s-1")

	// when
	Infof(ctx, "stepped %s", "i-1")
	Warn("plain %d", 7)

	// then
	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, "stepped i-1", entries[0].Message)
	assert.Equal(t, map[string]any{"executionKey": int64(42), "session": "s-1"}, entries[0].ContextMap())
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Empty(t, entries[1].Context)
}
