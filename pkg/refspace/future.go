package refspace

import (
	"context"
	"sync"
)

// Future is the single-assignment outcome of a call.
// It is safe for concurrent use.
type Future struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

// NewFuture creates an unresolved future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved creates a future that already holds an outcome.
func Resolved(value any, err error) *Future {
	f := NewFuture()
	f.Resolve(value, err)
	return f
}

// Resolve records the outcome. Only the first call has an effect; it
// returns false when the future was already resolved.
func (f *Future) Resolve(value any, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future resolves or ctx is done.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsResolved reports whether an outcome has been recorded.
func (f *Future) IsResolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
