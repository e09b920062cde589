package zap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	logpkg "github.com/nstoddard17/chainreact-core/log"
)

func observedLogger(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return Wrap(zap.New(core)), logs
}

func TestNew(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Environment: EnvironmentDevelopment, Level: "debug"})
	require.NoError(t, err)
	assert.True(t, logger.Enabled(logpkg.LevelDebug))

	logger, err = New(Config{Environment: EnvironmentProduction})
	require.NoError(t, err)
	assert.False(t, logger.Enabled(logpkg.LevelDebug))
	assert.True(t, logger.Enabled(logpkg.LevelInfo))

	_, err = New(Config{Level: "loudest"})
	assert.Error(t, err)
}

func TestLog_LevelsAndFields(t *testing.T) {
	t.Parallel()

	logger, logs := observedLogger(zapcore.DebugLevel)

	logger.Log(context.Background(), logpkg.LevelWarn, "slow dependency",
		logpkg.String("dependency", "gmail"), logpkg.Int("attempt", 2))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "slow dependency", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Equal(t, "gmail", fields["dependency"])
	assert.EqualValues(t, 2, fields["attempt"])
}

func TestLog_ErrFieldUsesZapError(t *testing.T) {
	t.Parallel()

	logger, logs := observedLogger(zapcore.DebugLevel)

	logger.Log(context.Background(), logpkg.LevelError, "refresh failed", logpkg.Err(errors.New("boom")))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0].ContextMap()["error"])
}

func TestWith_AddsPersistentFields(t *testing.T) {
	t.Parallel()

	logger, logs := observedLogger(zapcore.DebugLevel)

	child := logger.With(logpkg.String("component", "engine"))
	child.Log(context.Background(), logpkg.LevelInfo, "chain completed")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "engine", entries[0].ContextMap()["component"])
}

func TestWithGroup_NamespacesFields(t *testing.T) {
	t.Parallel()

	logger, logs := observedLogger(zapcore.DebugLevel)

	grouped := logger.WithGroup("breaker")
	grouped.Log(context.Background(), logpkg.LevelInfo, "state changed", logpkg.String("to", "open"))

	entries := logs.All()
	require.Len(t, entries, 1)

	nested, ok := entries[0].ContextMap()["breaker"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "open", nested["to"])
}

func TestLog_NilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var logger *Logger

	logger.Log(context.Background(), logpkg.LevelInfo, "dropped")
	assert.NoError(t, logger.Sync(context.Background()))
}
