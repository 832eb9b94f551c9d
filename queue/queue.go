// Package queue implements the event queue drained by a machine instance.
// It is not safe for concurrent use; callers guard it with their own lock.
package queue

// Queue is a FIFO with a leading partition for immediate items. Immediate
// items are popped before normal ones and keep FIFO order among themselves.
type Queue[T any] struct {
	items     []T
	partition int
}

func (q *Queue[T]) Len() int {
	return len(q.items)
}

func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if q.partition > 0 {
		q.partition--
	}
	return item, true
}

func (q *Queue[T]) Push(item T) {
	q.items = append(q.items, item)
}

// PushImmediate inserts item after any previously pushed immediate items but
// ahead of every normal item.
func (q *Queue[T]) PushImmediate(item T) {
	var zero T
	q.items = append(q.items, zero)
	copy(q.items[q.partition+1:], q.items[q.partition:])
	q.items[q.partition] = item
	q.partition++
}

// Clear drops every queued item and returns how many were dropped.
func (q *Queue[T]) Clear() int {
	n := len(q.items)
	q.items = nil
	q.partition = 0
	return n
}

func New[T any](maybeSize ...int) *Queue[T] {
	q := &Queue[T]{}
	if len(maybeSize) > 0 {
		q.items = make([]T, 0, maybeSize[0])
	}
	return q
}
