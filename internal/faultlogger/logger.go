// Package faultlogger is the asynchronous façade over a fault log store.
//
// Queries run on a bounded worker pool and are delivered either through a
// Future or a completion callback; both conventions share one code path.
// Producers report faults synchronously: Ingest returns once the record is
// durable, so the producer decides whether to retry.
package faultlogger

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	defaults "github.com/xtxerr/faultlogger/config"
	"github.com/xtxerr/faultlogger/internal/errors"
	"github.com/xtxerr/faultlogger/internal/logging"
	"github.com/xtxerr/faultlogger/internal/storage"
	"github.com/xtxerr/faultlogger/internal/storage/config"
)

// Caller identifies the application on whose behalf legacy self-queries run.
type Caller struct {
	UserID int32
	Module string
}

// bound reports whether the caller carries an identity.
func (c Caller) bound() bool {
	return c.Module != ""
}

// Options configures a Logger.
type Options struct {
	// Workers is the size of the query worker pool.
	// Defaults to the store's query.workers setting.
	Workers int

	// DrainTimeout bounds how long Close waits for in-flight queries.
	DrainTimeout time.Duration

	// Caller is the identity used by QuerySelf.
	Caller Caller

	// ScriptCrashInterval is the minimum time between two script crash
	// records of one process. Zero uses the default; negative disables
	// the limit.
	ScriptCrashInterval time.Duration

	// Clock drives the script crash limit. Defaults to time.Now.
	Clock func() time.Time
}

// Logger is the entry point for producers and query callers.
// Views returned by WithCaller share the same store and pool.
type Logger struct {
	*core
	caller Caller
}

type core struct {
	store    *storage.Service
	ownStore bool
	pool     *ants.Pool
	drain    time.Duration
	logger   *slog.Logger
	scripts  *pidLimiter

	// mu orders submissions against Close.
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	stats stats
}

type stats struct {
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	overflow  atomic.Int64
	panics    atomic.Int64
	limited   atomic.Int64
}

// Stats holds façade statistics.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
	Overflow  int64
	Panics    int64
	Limited   int64 // script crashes dropped by the per-process limit
	Running   int
	Store     storage.ServiceStats
}

// Open opens a store from cfg and returns a Logger that owns it.
func Open(cfg *config.Config, opts Options) (*Logger, error) {
	store, err := storage.Open(cfg)
	if err != nil {
		return nil, err
	}

	l, err := newLogger(store, true, opts)
	if err != nil {
		store.Close()
		return nil, err
	}
	return l, nil
}

// New returns a Logger over an already opened store. The caller keeps
// ownership of the store and must close it after the Logger.
func New(store *storage.Service, opts Options) (*Logger, error) {
	return newLogger(store, false, opts)
}

func newLogger(store *storage.Service, own bool, opts Options) (*Logger, error) {
	if opts.Workers <= 0 {
		opts.Workers = store.Config().Query.Workers
	}
	if opts.Workers <= 0 {
		opts.Workers = defaults.DefaultQueryWorkers
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaults.DefaultDrainTimeout
	}
	if opts.ScriptCrashInterval == 0 {
		opts.ScriptCrashInterval = defaults.ScriptCrashInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	logger := logging.Component("faultlogger")

	c := &core{
		store:    store,
		ownStore: own,
		drain:    opts.DrainTimeout,
		logger:   logger,
		scripts:  newPIDLimiter(opts.ScriptCrashInterval, opts.Clock),
	}

	pool, err := ants.NewPool(opts.Workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v any) {
			c.stats.panics.Add(1)
			logger.Error("query worker panic", "panic", v)
		}))
	if err != nil {
		return nil, errors.Wrap(err, "create worker pool")
	}
	c.pool = pool

	return &Logger{core: c, caller: opts.Caller}, nil
}

// WithCaller returns a view of l whose legacy self-queries are restricted
// to c. The view shares l's store and workers.
func (l *Logger) WithCaller(c Caller) *Logger {
	return &Logger{core: l.core, caller: c}
}

// Store returns the underlying store.
func (l *Logger) Store() *storage.Service {
	return l.store
}

// Close waits for in-flight queries, releases the workers and closes the
// store if the Logger opened it. Queries submitted after Close fail with
// ErrClosed.
//
// The wait is bounded by Options.DrainTimeout. When it expires, an owned
// store is closed under queries still running, and those fail with
// ErrNotRunning. Their Future or callback still completes exactly once.
func (l *Logger) Close() error {
	c := l.core

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(c.drain):
		c.logger.Warn("timed out waiting for queries", "timeout", c.drain)
	}

	var errs []error
	if err := c.pool.ReleaseTimeout(c.drain); err != nil {
		errs = append(errs, errors.Wrap(err, "release worker pool"))
	}
	if c.ownStore {
		if err := c.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns current statistics.
func (l *Logger) Stats() Stats {
	return Stats{
		Submitted: l.stats.submitted.Load(),
		Completed: l.stats.completed.Load(),
		Failed:    l.stats.failed.Load(),
		Overflow:  l.stats.overflow.Load(),
		Panics:    l.stats.panics.Load(),
		Limited:   l.stats.limited.Load(),
		Running:   l.pool.Running(),
		Store:     l.store.Stats(),
	}
}
