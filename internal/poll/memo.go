package poll

import (
	"context"
	"sync"
)

// ChangedFunc reports whether next differs meaningfully from prev
type ChangedFunc[T any] func(prev, next T) bool

// ChangedBy turns an equality function into a ChangedFunc
func ChangedBy[T any](equal func(a, b T) bool) ChangedFunc[T] {
	return func(prev, next T) bool {
		return !equal(prev, next)
	}
}

// MemoizedFetcher fetches a value and notifies onChange only when it differs
// from the last value that was emitted.
type MemoizedFetcher[T any] struct {
	fetch    func(ctx context.Context) (T, error)
	onChange func(T)
	changed  ChangedFunc[T]

	fetchMu sync.Mutex

	mu       sync.Mutex
	last     T
	hasLast  bool
	pending  []T
	emitting bool
}

// NewMemoizedFetcher creates a MemoizedFetcher. A nil changed treats every
// fetched value as a change.
func NewMemoizedFetcher[T any](fetch func(ctx context.Context) (T, error), onChange func(T), changed ChangedFunc[T]) *MemoizedFetcher[T] {
	if changed == nil {
		changed = func(T, T) bool { return true }
	}
	return &MemoizedFetcher[T]{
		fetch:    fetch,
		onChange: onChange,
		changed:  changed,
	}
}

// Fetch runs the fetch function and emits the result if it changed, if nothing
// was emitted yet, or if forceEmit is set. Fetch errors are returned without
// emitting. A result arriving after ctx was canceled is dropped.
//
// onChange may call Fetch again. Values are emitted in fetch order by
// whichever caller is already emitting, so a nested Fetch returns before its
// value is delivered.
func (m *MemoizedFetcher[T]) Fetch(ctx context.Context, forceEmit bool) error {
	queued, err := m.store(ctx, forceEmit)
	if err != nil {
		return err
	}
	if queued {
		m.deliver()
	}
	return nil
}

// store fetches and queues the value for emission. fetchMu covers fetch,
// compare and queue so the queue follows fetch order.
func (m *MemoizedFetcher[T]) store(ctx context.Context, forceEmit bool) (bool, error) {
	m.fetchMu.Lock()
	defer m.fetchMu.Unlock()

	next, err := m.fetch(ctx)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasLast && !forceEmit && !m.changed(m.last, next) {
		return false, nil
	}
	m.last = next
	m.hasLast = true
	m.pending = append(m.pending, next)
	return true, nil
}

// deliver drains the queue unless another caller is already draining it.
// onChange runs without any lock held.
func (m *MemoizedFetcher[T]) deliver() {
	m.mu.Lock()
	if m.emitting {
		m.mu.Unlock()
		return
	}
	m.emitting = true

	for len(m.pending) > 0 {
		next := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()
		m.onChange(next)
		m.mu.Lock()
	}
	// cleared under the same lock as the empty check so no queued value is stranded
	m.emitting = false
	m.mu.Unlock()
}

// Last returns the last emitted value
func (m *MemoizedFetcher[T]) Last() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.hasLast
}

// Reset forgets the last emitted value so the next fetch emits unconditionally
func (m *MemoizedFetcher[T]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	m.last = zero
	m.hasLast = false
	m.pending = nil
}
