// Package errgroup provides goroutine group management with shared
// cancellation and panic capture. A panic inside a group goroutine is
// recovered, logged (when a logger is set) and surfaced from Wait as an
// error instead of crashing the process.
package errgroup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nstoddard17/chainreact-core/log"
	"github.com/nstoddard17/chainreact-core/runtime"
)

// ErrPanicRecovered is returned when a goroutine in the group panics.
var ErrPanicRecovered = errors.New("errgroup: panic recovered")

// Group manages a set of goroutines that share a cancellation context.
// The first error returned by any goroutine cancels the group's context
// and is returned by Wait. Subsequent errors are discarded.
type Group struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	errOnce sync.Once
	err     error
	logger  log.Logger
}

// Option customizes a Group at construction.
type Option func(*Group)

// WithLogger attaches a logger used when a group goroutine panics.
func WithLogger(logger log.Logger) Option {
	return func(grp *Group) {
		grp.logger = logger
	}
}

// WithContext returns a new Group and a derived context.Context.
// The derived context is canceled when the first goroutine in the Group
// returns a non-nil error or when Wait returns, whichever occurs first.
func WithContext(ctx context.Context, opts ...Option) (*Group, context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	grp := &Group{ctx: ctx, cancel: cancel}

	for _, opt := range opts {
		if opt != nil {
			opt(grp)
		}
	}

	return grp, ctx
}

func (grp *Group) effectiveCtx() context.Context {
	if grp.ctx != nil {
		return grp.ctx
	}

	return context.Background()
}

// Go starts a new goroutine in the Group. The first non-nil error returned
// by a goroutine is recorded and triggers cancellation of the group context.
func (grp *Group) Go(fn func() error) {
	grp.wg.Add(1)

	go func() {
		defer grp.wg.Done()
		defer func() {
			if recovered := recover(); recovered != nil {
				runtime.HandlePanicValue(grp.effectiveCtx(), grp.logger, recovered, "errgroup", "group.Go")

				grp.errOnce.Do(func() {
					grp.err = fmt.Errorf("%w: %v", ErrPanicRecovered, recovered)
					if grp.cancel != nil {
						grp.cancel()
					}
				})
			}
		}()

		if err := fn(); err != nil {
			grp.errOnce.Do(func() {
				grp.err = err
				if grp.cancel != nil {
					grp.cancel()
				}
			})
		}
	}()
}

// Wait blocks until all goroutines in the Group have completed. It cancels
// the group context after all goroutines finish and returns the first
// non-nil error (if any) recorded by Go.
func (grp *Group) Wait() error {
	grp.wg.Wait()

	if grp.cancel != nil {
		grp.cancel()
	}

	return grp.err
}
