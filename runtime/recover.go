// Package runtime provides panic recovery helpers for worker loops and
// fire-and-forget goroutines.
package runtime

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/nstoddard17/chainreact-core/internal/nilcheck"
	"github.com/nstoddard17/chainreact-core/log"
)

// RestartPolicy controls what SafeGo does after recovering a panic.
type RestartPolicy int

const (
	// KeepRunning logs the panic and lets the goroutine exit.
	KeepRunning RestartPolicy = iota
	// Restart logs the panic and re-invokes the function.
	Restart
)

// RecoverAndLog recovers from a panic, logs it with the stack trace, and
// continues execution. Use in defer statements for handlers and workers
// where a crash must not take the process down.
func RecoverAndLog(logger log.Logger, component, name string) {
	if r := recover(); r != nil {
		logPanic(context.Background(), logger, r, component, name)
	}
}

// RecoverAndLogWithContext is like RecoverAndLog but carries the caller's
// context so trace correlation survives into the panic log entry.
func RecoverAndLogWithContext(ctx context.Context, logger log.Logger, component, name string) {
	if r := recover(); r != nil {
		logPanic(ctx, logger, r, component, name)
	}
}

// HandlePanicValue logs an already-recovered panic value. Callers that need
// the recovered value for their own bookkeeping use this instead of the
// defer helpers.
func HandlePanicValue(ctx context.Context, logger log.Logger, panicValue any, component, name string) {
	logPanic(ctx, logger, panicValue, component, name)
}

// SafeGo runs fn in a goroutine with panic recovery. With the Restart
// policy the function is re-invoked after a recovered panic until it
// returns normally.
func SafeGo(logger log.Logger, name string, policy RestartPolicy, fn func()) {
	go func() {
		for {
			exited := func() bool {
				defer RecoverAndLog(logger, "runtime", name)

				fn()

				return true
			}()

			if exited || policy != Restart {
				return
			}
		}
	}()
}

func logPanic(ctx context.Context, logger log.Logger, panicValue any, component, name string) {
	if nilcheck.Interface(logger) {
		logger = log.NewNop()
	}

	logger.Log(ctx, log.LevelError, "recovered from panic",
		log.String("component", component),
		log.String("goroutine", name),
		log.String("panic", fmt.Sprintf("%v", panicValue)),
		log.String("stack", string(debug.Stack())),
	)
}
