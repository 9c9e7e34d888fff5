// Package log is the process wide logger of the server. Library packages take an
// hclog.Logger instead.
package log

import (
	"context"
	"sync"

	"github.com/pbinitiative/zenstep/internal/appcontext"
	"github.com/pbinitiative/zenstep/internal/profile"
	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	logger = zap.NewNop().Sugar()
)

// Init builds the logger for the current profile. PROD logs JSON at info level,
// the other profiles log human readable at debug level.
func Init() {
	var base *zap.Logger
	var err error
	if profile.Current == profile.PROD {
		base, err = zap.NewProduction()
	} else {
		base, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	Set(base)
}

// Set replaces the logger, tests use it with zaptest or observer loggers.
func Set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

func Sync() {
	_ = current().Sync()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func withContext(ctx context.Context) *zap.SugaredLogger {
	l := current()
	if key, ok := appcontext.ExecutionKeyFromContext(ctx); ok {
		l = l.With("executionKey", key)
	}
	if sessionId, ok := appcontext.SessionIdFromContext(ctx); ok {
		l = l.With("session", sessionId)
	}
	return l
}

func Debug(format string, args ...any) {
	current().Debugf(format, args...)
}

func Info(format string, args ...any) {
	current().Infof(format, args...)
}

func Warn(format string, args ...any) {
	current().Warnf(format, args...)
}

func Error(format string, args ...any) {
	current().Errorf(format, args...)
}

func Debugf(ctx context.Context, format string, args ...any) {
	withContext(ctx).Debugf(format, args...)
}

func Infof(ctx context.Context, format string, args ...any) {
	withContext(ctx).Infof(format, args...)
}

func Warnf(ctx context.Context, format string, args ...any) {
	withContext(ctx).Warnf(format, args...)
}

func Errorf(ctx context.Context, format string, args ...any) {
	withContext(ctx).Errorf(format, args...)
}
