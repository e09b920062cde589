// Package zap provides the production implementation of log.Logger backed
// by go.uber.org/zap. Log entries emitted with a context carrying an active
// OpenTelemetry span are automatically annotated with trace_id and span_id.
package zap

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	logpkg "github.com/nstoddard17/chainreact-core/log"
)

// Environment controls the baseline logger profile.
type Environment string

const (
	EnvironmentProduction  Environment = "production"
	EnvironmentDevelopment Environment = "development"
	EnvironmentLocal       Environment = "local"
)

// Config contains the logger initialization inputs.
type Config struct {
	Environment Environment
	Level       string
}

// Logger is a structured logger implementing log.Logger.
type Logger struct {
	logger      *zap.Logger
	atomicLevel zap.AtomicLevel
}

// Compile-time assertion: *Logger implements log.Logger.
var _ logpkg.Logger = (*Logger)(nil)

// New creates a structured logger with a runtime-adjustable level handle.
func New(cfg Config) (*Logger, error) {
	baseConfig := buildConfigByEnvironment(cfg.Environment)

	level, err := resolveLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	baseConfig.Level = level
	baseConfig.DisableStacktrace = true

	built, err := baseConfig.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return &Logger{logger: built, atomicLevel: level}, nil
}

// Wrap adapts an existing zap logger. Useful in tests with zaptest.
func Wrap(logger *zap.Logger) *Logger {
	return &Logger{logger: logger}
}

func buildConfigByEnvironment(env Environment) zap.Config {
	switch env {
	case EnvironmentDevelopment, EnvironmentLocal:
		return zap.NewDevelopmentConfig()
	default:
		return zap.NewProductionConfig()
	}
}

func resolveLevel(raw string) (zap.AtomicLevel, error) {
	if strings.TrimSpace(raw) == "" {
		return zap.NewAtomicLevelAt(zapcore.InfoLevel), nil
	}

	var parsed zapcore.Level
	if err := parsed.Set(strings.TrimSpace(raw)); err != nil {
		return zap.AtomicLevel{}, fmt.Errorf("invalid level %q: %w", raw, err)
	}

	return zap.NewAtomicLevelAt(parsed), nil
}

func (l *Logger) must() *zap.Logger {
	if l == nil || l.logger == nil {
		return zap.NewNop()
	}

	return l.logger
}

// Log implements log.Logger, dispatching to the matching zap level.
func (l *Logger) Log(ctx context.Context, level logpkg.Level, msg string, fields ...logpkg.Field) {
	zapFields := logFieldsToZap(fields)

	if ctx != nil {
		if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
			zapFields = append(zapFields,
				zap.String("trace_id", sc.TraceID().String()),
				zap.String("span_id", sc.SpanID().String()),
			)
		}
	}

	switch level {
	case logpkg.LevelDebug:
		l.must().Debug(msg, zapFields...)
	case logpkg.LevelInfo:
		l.must().Info(msg, zapFields...)
	case logpkg.LevelWarn:
		l.must().Warn(msg, zapFields...)
	case logpkg.LevelError:
		l.must().Error(msg, zapFields...)
	default:
		l.must().Info(msg, zapFields...)
	}
}

// With returns a child logger with additional structured fields.
//
//nolint:ireturn
func (l *Logger) With(fields ...logpkg.Field) logpkg.Logger {
	return &Logger{
		logger:      l.must().With(logFieldsToZap(fields)...),
		atomicLevel: l.atomicLevel,
	}
}

// WithGroup returns a child logger that nests subsequent fields under a namespace.
//
//nolint:ireturn
func (l *Logger) WithGroup(name string) logpkg.Logger {
	return &Logger{
		logger:      l.must().With(zap.Namespace(name)),
		atomicLevel: l.atomicLevel,
	}
}

// Enabled reports whether the logger would emit a log at the given level.
func (l *Logger) Enabled(level logpkg.Level) bool {
	return l.must().Core().Enabled(logLevelToZap(level))
}

// Sync flushes buffered logs, respecting context cancellation.
func (l *Logger) Sync(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)

	go func() {
		done <- l.must().Sync()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Level returns the runtime-adjustable level handle for this logger.
func (l *Logger) Level() zap.AtomicLevel {
	return l.atomicLevel
}

func logLevelToZap(level logpkg.Level) zapcore.Level {
	switch level {
	case logpkg.LevelDebug:
		return zapcore.DebugLevel
	case logpkg.LevelInfo:
		return zapcore.InfoLevel
	case logpkg.LevelWarn:
		return zapcore.WarnLevel
	case logpkg.LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func logFieldsToZap(fields []logpkg.Field) []zap.Field {
	zapFields := make([]zap.Field, len(fields))
	for i, f := range fields {
		if err, ok := f.Value.(error); ok && f.Key == "error" {
			zapFields[i] = zap.Error(err)
			continue
		}

		zapFields[i] = zap.Any(f.Key, f.Value)
	}

	return zapFields
}
