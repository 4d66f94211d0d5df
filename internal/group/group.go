// Package group runs a set of goroutines that share a lifetime.
package group

import (
	"context"
	"sync"
)

// G runs goroutines from a common context. When any goroutine returns,
// the context is canceled and the others are expected to wind down.
type G struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	errs []error
}

// New returns a new group derived from ctx.
func New(ctx context.Context) *G {
	ctx, cancel := context.WithCancel(ctx)
	return &G{
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go starts fn in a new goroutine.
func (g *G) Go(fn func(context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.cancel()
		if err := fn(g.ctx); err != nil {
			g.mu.Lock()
			g.errs = append(g.errs, err)
			g.mu.Unlock()
		}
	}()
}

// Wait blocks until every goroutine has returned and reports the first
// error, ignoring context.Canceled from goroutines that were told to stop.
func (g *G) Wait() error {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, err := range g.errs {
		if err != context.Canceled {
			return err
		}
	}
	return nil
}
