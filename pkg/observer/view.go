package observer

import (
	"context"
	"sync"
	"time"
)

// View keeps the last value read from the source of truth. Its Refresh
// method is the refetch trigger handed to Channel.Subscribe: events only
// ever cause a re-read, never a local patch.
type View[T any] struct {
	fetch    func(context.Context) (T, error)
	onChange func(T)

	mu        sync.RWMutex
	value     T
	err       error
	fetchedAt time.Time
	refreshes int
}

// NewView builds a view over fetch. onChange, when set, runs after every
// successful refresh.
func NewView[T any](fetch func(context.Context) (T, error), onChange func(T)) *View[T] {
	return &View[T]{fetch: fetch, onChange: onChange}
}

// Refresh re-reads the value. A failed fetch keeps the previous value and
// records the error.
func (v *View[T]) Refresh(ctx context.Context) {
	value, err := v.fetch(ctx)

	v.mu.Lock()
	v.refreshes++
	if err != nil {
		v.err = err
		v.mu.Unlock()
		return
	}
	v.value = value
	v.err = nil
	v.fetchedAt = time.Now()
	v.mu.Unlock()

	if v.onChange != nil {
		v.onChange(value)
	}
}

// Value returns the last fetched value and the error of the last refresh.
func (v *View[T]) Value() (T, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value, v.err
}

// FetchedAt is the time of the last successful refresh.
func (v *View[T]) FetchedAt() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.fetchedAt
}

// Refreshes counts refresh attempts.
func (v *View[T]) Refreshes() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.refreshes
}

// Bind subscribes the view to ch and returns the unsubscribe func.
func (v *View[T]) Bind(ch *Channel, interest Interest) func() {
	return ch.Subscribe(interest, v.Refresh)
}
