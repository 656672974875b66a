// Package service runs beacons and observers side by side until shutdown.
package service

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// Service is a long-running task. Run returns nil when ctx is cancelled.
type Service interface {
	Run(ctx context.Context) error
}

// Func adapts a function to Service.
type Func func(ctx context.Context) error

// Run implements Service.
func (f Func) Run(ctx context.Context) error {
	return f(ctx)
}

// RunAll runs every service concurrently. The first error cancels the others;
// RunAll waits for all of them and returns that error.
func RunAll(ctx context.Context, services ...Service) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range services {
		s := s
		g.Go(func() error {
			return s.Run(ctx)
		})
	}
	return g.Wait()
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
