package collection

import (
	"context"
	"sync"
)

// Completion is a settle-once signal for an asynchronous expansion step.
// A nil *Completion from Expand means everything finished synchronously.
type Completion struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Done is closed once the step has settled.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Err returns the settled error. Only valid after Done is closed.
func (c *Completion) Err() error {
	return c.err
}

// Wait blocks until the step settles or ctx is cancelled.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.err
	}
}

// settle resolves the completion. Later calls are no-ops, so a second idle
// report or a racing cancellation cannot re-resolve.
func (c *Completion) settle(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

func (c *Completion) settled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// joinCompletions folds several pending steps into one completion that
// settles once all have settled, carrying the first error encountered.
func joinCompletions(comps []*Completion) *Completion {
	switch len(comps) {
	case 0:
		return nil
	case 1:
		return comps[0]
	}
	out := newCompletion()
	go func() {
		var firstErr error
		for _, c := range comps {
			<-c.done
			if firstErr == nil {
				firstErr = c.err
			}
		}
		out.settle(firstErr)
	}()
	return out
}
