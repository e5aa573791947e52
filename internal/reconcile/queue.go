package reconcile

import "slices"

// Queue is an ordered list of pending requests keyed by id. Only the head is
// actionable. It is not safe for concurrent use.
type Queue[T any] struct {
	items []T
	key   func(T) string
}

// NewQueue creates an empty queue that identifies items with key.
func NewQueue[T any](key func(T) string) *Queue[T] {
	return &Queue[T]{key: key}
}

// Upsert replaces the item with the same id in place, or appends it.
func (q *Queue[T]) Upsert(item T) {
	id := q.key(item)
	for i := range q.items {
		if q.key(q.items[i]) == id {
			q.items[i] = item
			return
		}
	}
	q.items = append(q.items, item)
}

// Remove drops the item with the given id. It reports whether one was found.
func (q *Queue[T]) Remove(id string) bool {
	for i := range q.items {
		if q.key(q.items[i]) == id {
			q.items = slices.Delete(q.items, i, i+1)
			return true
		}
	}
	return false
}

// Head returns the actionable item.
func (q *Queue[T]) Head() (T, bool) {
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.items[0], true
}

// Items returns a copy of the queue in order.
func (q *Queue[T]) Items() []T {
	return slices.Clone(q.items)
}

func (q *Queue[T]) Len() int {
	return len(q.items)
}

func (q *Queue[T]) Clear() {
	q.items = nil
}
