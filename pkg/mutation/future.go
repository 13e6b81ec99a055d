package mutation

import (
	"context"

	"github.com/cuemby/boardsync/pkg/types"
)

// Future is the eventual outcome of a submitted mutation
type Future struct {
	MutationID string

	done chan struct{}
	ack  *types.Ack
	err  error
}

func newFuture(id string) *Future {
	return &Future{MutationID: id, done: make(chan struct{})}
}

// resolve is called exactly once, from the pipeline's owning goroutine
func (f *Future) resolve(ack *types.Ack, err error) {
	f.ack, f.err = ack, err
	close(f.done)
}

// Done is closed once the mutation is confirmed, rolled back or rejected
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the mutation resolves or ctx ends
func (f *Future) Wait(ctx context.Context) (*types.Ack, error) {
	select {
	case <-f.done:
		return f.ack, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Failed returns a future that is already resolved with err
func Failed(id string, err error) *Future {
	f := newFuture(id)
	f.resolve(nil, err)
	return f
}

// Completed returns a future that is already resolved with ack, which may be
// nil for an intent that produced no mutation.
func Completed(id string, ack *types.Ack) *Future {
	f := newFuture(id)
	f.resolve(ack, nil)
	return f
}
