package faultlogger

import (
	"context"
	"fmt"

	"github.com/xtxerr/faultlogger/internal/errors"
	"github.com/xtxerr/faultlogger/internal/storage/query"
	"github.com/xtxerr/faultlogger/internal/storage/types"
)

// QueryRequest is the argument of the strict query entry points.
type QueryRequest struct {
	// FaultType selects one category, or every category with
	// CategoryUnspecified. It is required.
	FaultType *types.Category

	// Limit caps the number of records; out-of-range values are clamped
	// to the store maximum.
	Limit int

	// Module keeps only records of one module when set.
	Module string

	// Since drops records older than this unix time in seconds when set.
	Since int64
}

// LegacyQuery is the argument of QuerySelf. It carries the raw fault type
// as received from older callers.
type LegacyQuery struct {
	FaultType *int32
	Limit     int
}

// Callback receives the result of QueryWithCallback. Exactly one of
// records and err is meaningful.
type Callback func(records []types.Record, err error)

func (r QueryRequest) filter() (query.Filter, error) {
	if r.FaultType == nil {
		return query.Filter{}, errors.NewInvalidParameter("faultType", "required")
	}
	if !r.FaultType.Valid() {
		return query.Filter{}, errors.NewInvalidParameter("faultType",
			fmt.Sprintf("unknown fault type %d", int32(*r.FaultType)))
	}
	if r.Since < 0 {
		return query.Filter{}, errors.NewInvalidParameter("since", "negative")
	}
	return query.Filter{Category: *r.FaultType, Module: r.Module, Since: r.Since, Limit: r.Limit}, nil
}

// Query starts a query and returns its Future. An absent or unknown fault
// type fails immediately with an invalid-parameter error.
func (l *Logger) Query(req QueryRequest) (*Future, error) {
	f, err := req.filter()
	if err != nil {
		return nil, err
	}

	fut := newFuture()
	l.submit(f, fut.resolve)
	return fut, nil
}

// QueryWithCallback starts a query and invokes cb exactly once on a worker
// goroutine, including when req is invalid.
func (l *Logger) QueryWithCallback(req QueryRequest, cb Callback) {
	f, err := req.filter()
	if err != nil {
		l.submitResult(nil, err, l.guard(cb))
		return
	}
	l.submit(f, l.guard(cb))
}

// QuerySelf is the legacy query restricted to the bound caller's own
// records. Malformed input, or a Logger without a caller identity,
// yields nil instead of an error.
func (l *Logger) QuerySelf(q LegacyQuery) *Future {
	if q.FaultType == nil || !l.caller.bound() {
		return nil
	}
	cat := types.Category(*q.FaultType)
	if !cat.Valid() {
		return nil
	}

	uid := l.caller.UserID
	f := query.Filter{
		Category: cat,
		UserID:   &uid,
		Module:   l.caller.Module,
		Limit:    q.Limit,
	}

	fut := newFuture()
	l.submit(f, fut.resolve)
	return fut
}

// IsFaultExist reports whether a live record of the category exists for
// the process and user.
func (l *Logger) IsFaultExist(pid, uid int32, cat types.Category) bool {
	return l.store.Exists(pid, uid, cat)
}

// guard keeps a panicking callback from taking down a worker.
func (l *Logger) guard(cb Callback) func([]types.Record, error) {
	return func(records []types.Record, err error) {
		if cb == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				l.stats.panics.Add(1)
				l.logger.Error("query callback panic", "panic", r)
			}
		}()
		cb(records, err)
	}
}

// submit runs f on the worker pool and hands the outcome to deliver.
func (l *Logger) submit(f query.Filter, deliver func([]types.Record, error)) {
	l.run(func() ([]types.Record, error) {
		// Queries are not abandonable once issued.
		return l.store.Query(context.Background(), f)
	}, deliver)
}

// submitResult delivers a known outcome on the worker pool.
func (l *Logger) submitResult(records []types.Record, err error, deliver func([]types.Record, error)) {
	l.run(func() ([]types.Record, error) { return records, err }, deliver)
}

func (l *Logger) run(fn func() ([]types.Record, error), deliver func([]types.Record, error)) {
	c := l.core

	c.mu.RLock()
	closed := c.closed
	if !closed {
		c.wg.Add(1)
	}
	c.mu.RUnlock()

	c.stats.submitted.Add(1)

	if closed {
		c.stats.failed.Add(1)
		go deliver(nil, errors.ErrClosed)
		return
	}

	task := func() {
		defer c.wg.Done()

		records, err := c.call(fn)
		if err != nil {
			c.stats.failed.Add(1)
			records = nil
		} else {
			c.stats.completed.Add(1)
		}
		deliver(records, err)
	}

	if err := c.pool.Submit(task); err != nil {
		// Pool saturated: run beside it rather than block the caller.
		c.stats.overflow.Add(1)
		go task()
	}
}

// call runs fn, turning a panic into an error.
func (c *core) call(fn func() ([]types.Record, error)) (records []types.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.stats.panics.Add(1)
			c.logger.Error("query panic", "panic", r)
			err = fmt.Errorf("%w: panic: %v", errors.ErrInternal, r)
		}
	}()
	return fn()
}
