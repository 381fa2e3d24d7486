// Package testing holds helpers shared by the store and façade tests:
// a manual clock, a throwaway configuration and goroutine error
// collection.
//
// Import it as testutil so the standard testing package stays visible.
package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// GoroutineTest collects errors from goroutines started by a test.
//
// t.Fatal must not be called off the test goroutine, so workers return
// an error instead and Wait reports all of them.
//
//	gt := testutil.NewGoroutineTest(t)
//	gt.Go(func() error {
//	    _, err := store.Query(ctx, query.Filter{})
//	    return err
//	})
//	gt.Wait()
type GoroutineTest struct {
	t      *testing.T
	wg     sync.WaitGroup
	mu     sync.Mutex
	errs   []error
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGoroutineTest returns a collector whose context lives until Wait.
func NewGoroutineTest(t *testing.T) *GoroutineTest {
	ctx, cancel := context.WithCancel(context.Background())
	return &GoroutineTest{t: t, ctx: ctx, cancel: cancel}
}

// NewGoroutineTestWithTimeout is NewGoroutineTest with a deadline on the
// context handed to GoWithContext.
func NewGoroutineTestWithTimeout(t *testing.T, timeout time.Duration) *GoroutineTest {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return &GoroutineTest{t: t, ctx: ctx, cancel: cancel}
}

// Go runs fn on its own goroutine.
func (gt *GoroutineTest) Go(fn func() error) {
	gt.GoWithContext(func(context.Context) error { return fn() })
}

// GoWithContext runs fn on its own goroutine with the collector's context.
func (gt *GoroutineTest) GoWithContext(fn func(ctx context.Context) error) {
	gt.wg.Add(1)
	go func() {
		defer gt.wg.Done()
		if err := fn(gt.ctx); err != nil {
			gt.mu.Lock()
			gt.errs = append(gt.errs, err)
			gt.mu.Unlock()
		}
	}()
}

// Wait blocks until every goroutine returned and fails the test if any
// of them reported an error.
func (gt *GoroutineTest) Wait() {
	gt.t.Helper()
	gt.wg.Wait()
	gt.cancel()

	if len(gt.errs) == 0 {
		return
	}
	for i, err := range gt.errs {
		gt.t.Errorf("goroutine error %d/%d: %v", i+1, len(gt.errs), err)
	}
	gt.t.FailNow()
}

// Eventually polls condition every interval until it holds or timeout
// passes.
func Eventually(timeout, interval time.Duration, condition func() bool) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return nil
		}
		time.Sleep(interval)
	}
	return fmt.Errorf("condition not met within %v", timeout)
}
