package sched

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bdt/log"
)

// Supervisor runs a set of long-lived loops (one per interface, one per
// tunnel keepalive ticker) under one cancellation scope, the same shape
// moto/run.go gives its listener goroutines but generalized with
// errgroup so the first loop to fail cancels its siblings instead of
// leaking them.
type Supervisor struct {
	group *errgroup.Group
	ctx   context.Context
}

// NewSupervisor derives a cancellable scope from parent and returns a
// Supervisor bound to it, plus a cancel func the caller should defer.
func NewSupervisor(parent context.Context) (*Supervisor, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)
	return &Supervisor{group: g, ctx: gctx}, cancel
}

// Context returns the supervisor's cancellation context, done when any
// supervised loop returns an error or the parent is cancelled.
func (s *Supervisor) Context() context.Context { return s.ctx }

// Go runs fn under the supervisor. If fn returns a non-nil error, the
// supervisor's context is cancelled and the error is logged with name.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.group.Go(func() error {
		err := fn(s.ctx)
		if err != nil && s.ctx.Err() == nil {
			log.Logger.Error("supervised loop exited", zap.String("loop", name), zap.Error(err))
		}
		return err
	})
}

// Wait blocks until every supervised loop has returned, yielding the
// first non-nil error.
func (s *Supervisor) Wait() error {
	return s.group.Wait()
}
