// SPDX-License-Identifier: MPL-2.0

package updatecheck

import (
	"context"
	"sync"
)

// Background runs a single Check off the caller's goroutine.
type Background struct {
	checker *Checker
	once    sync.Once
	done    chan struct{}

	mu     sync.RWMutex
	result *Result
	ok     bool
}

// NewBackground returns a Background for checker.
func NewBackground(checker *Checker) *Background {
	return &Background{checker: checker, done: make(chan struct{})}
}

// Start launches the check. Only the first call has an effect.
func (b *Background) Start(ctx context.Context) {
	b.once.Do(func() {
		go func() {
			defer close(b.done)
			res, ok := b.checker.Check(ctx)

			b.mu.Lock()
			b.result, b.ok = res, ok
			b.mu.Unlock()
		}()
	})
}

// Result returns the check outcome, or false while it is still running or
// when it produced nothing.
func (b *Background) Result() (*Result, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.result, b.ok
}

// Wait blocks until the check finishes or ctx is done, then returns Result.
// It returns immediately when Start was never called, and Start has no
// effect afterwards.
func (b *Background) Wait(ctx context.Context) (*Result, bool) {
	started := true
	b.once.Do(func() {
		started = false
		close(b.done)
	})
	if !started {
		return nil, false
	}

	select {
	case <-b.done:
	case <-ctx.Done():
	}
	return b.Result()
}
