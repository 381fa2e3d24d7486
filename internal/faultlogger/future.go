package faultlogger

import (
	"context"
	"slices"

	"github.com/xtxerr/faultlogger/internal/storage/types"
)

// Future is the pending result of an asynchronous query. It resolves
// exactly once.
type Future struct {
	done    chan struct{}
	records []types.Record
	err     error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(records []types.Record, err error) {
	f.records = records
	f.err = err
	close(f.done)
}

// Done is closed once the query has completed.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the query completes or ctx is done. ctx only bounds
// the wait: the query itself keeps running and a later Await still
// observes its result.
func (f *Future) Await(ctx context.Context) ([]types.Record, error) {
	select {
	case <-f.done:
		if f.err != nil {
			return nil, f.err
		}
		return slices.Clone(f.records), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
