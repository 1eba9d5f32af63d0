package realtime

import (
	"maps"
	"slices"
	"sync"
)

// listeners is a set of callbacks keyed by registration, so the same
// function value can be registered twice and removed independently.
type listeners[T any] struct {
	mu   sync.Mutex
	next uint64
	fns  map[uint64]T
}

func (l *listeners[T]) add(fn T) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fns == nil {
		l.fns = make(map[uint64]T)
	}
	id := l.next
	l.next++
	l.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.fns, id)
		})
	}
}

// snapshot returns the callbacks in registration order.
func (l *listeners[T]) snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]T, 0, len(l.fns))
	for _, id := range slices.Sorted(maps.Keys(l.fns)) {
		out = append(out, l.fns[id])
	}
	return out
}

func (l *listeners[T]) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fns = nil
}
