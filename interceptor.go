package docchat

import (
	"context"
	"sync"
)

// Interceptor is one stage of a request or response pipeline. Either handler
// may be nil: a nil OnFulfilled passes the value through, a nil OnRejected
// lets the error continue to the next stage.
type Interceptor[T any] struct {
	OnFulfilled func(ctx context.Context, v T) (T, error)
	OnRejected  func(ctx context.Context, err error) (T, error)
}

// InterceptorManager stores interceptors in slots addressed by the index
// returned from Use. Ejected slots are emptied, never compacted, so indices
// stay valid for the manager's lifetime.
type InterceptorManager[T any] struct {
	mu       sync.RWMutex
	handlers []*Interceptor[T]
}

// NewInterceptorManager returns an empty manager.
func NewInterceptorManager[T any]() *InterceptorManager[T] {
	return &InterceptorManager[T]{}
}

// Use appends an interceptor and returns its slot index.
func (m *InterceptorManager[T]) Use(interceptor Interceptor[T]) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers = append(m.handlers, &interceptor)
	return len(m.handlers) - 1
}

// Eject empties the slot returned by Use. Unknown indices are ignored.
func (m *InterceptorManager[T]) Eject(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id >= 0 && id < len(m.handlers) {
		m.handlers[id] = nil
	}
}

// Clear removes every slot.
func (m *InterceptorManager[T]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers = nil
}

// ForEach visits the non-empty slots in insertion order.
func (m *InterceptorManager[T]) ForEach(fn func(Interceptor[T])) {
	for _, h := range m.snapshot() {
		fn(*h)
	}
}

// Len returns the number of non-empty slots.
func (m *InterceptorManager[T]) Len() int {
	return len(m.snapshot())
}

func (m *InterceptorManager[T]) snapshot() []*Interceptor[T] {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Interceptor[T], 0, len(m.handlers))
	for _, h := range m.handlers {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

// runInterceptors folds the stages over (v, err) the way a promise chain of
// then(onFulfilled, onRejected) would: success values go to the next success
// handler, errors skip forward to the next rejection handler, and a rejection
// handler that returns a nil error puts the chain back on the success path.
func runInterceptors[T any](ctx context.Context, stages []*InterceptorManager[T], v T, err error) (T, error) {
	for _, m := range stages {
		if m == nil {
			continue
		}
		m.ForEach(func(ic Interceptor[T]) {
			if err == nil {
				if ic.OnFulfilled != nil {
					v, err = ic.OnFulfilled(ctx, v)
				}
				return
			}
			if ic.OnRejected != nil {
				v, err = ic.OnRejected(ctx, err)
			}
		})
	}
	return v, err
}
