package router

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrEmpty means nothing is ready yet. It is a signal to go produce more input, not end of stream.
var ErrEmpty = errors.New("router: nothing ready")

// FirstIndex is released ahead of everything else whenever it reaches the head of an [OrderedQueue].
const FirstIndex = -1

type entry[T any] struct {
	index int
	value T
}

type entryHeap[T any] []entry[T]

func (h entryHeap[T]) Len() int           { return len(h) }
func (h entryHeap[T]) Less(i, j int) bool { return h[i].index < h[j].index }
func (h entryHeap[T]) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap[T]) Push(x any)        { *h = append(*h, x.(entry[T])) }
func (h *entryHeap[T]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	var zero entry[T]
	old[n-1] = zero
	*h = old[:n-1]
	return e
}

// OrderedQueue releases values strictly in increasing index order, starting at 0.
type OrderedQueue[T any] struct {
	mu      sync.Mutex
	items   entryHeap[T]
	next    int
	changed chan struct{}
}

func NewOrderedQueue[T any]() *OrderedQueue[T] {
	return &OrderedQueue[T]{changed: make(chan struct{})}
}

// Put stores value under index and wakes any waiting [OrderedQueue.Get].
func (q *OrderedQueue[T]) Put(index int, value T) {
	q.mu.Lock()
	heap.Push(&q.items, entry[T]{index: index, value: value})
	close(q.changed)
	q.changed = make(chan struct{})
	q.mu.Unlock()
}

// TryGet returns the value bearing the next expected index, if it has arrived.
func (q *OrderedQueue[T]) TryGet() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tryGet()
}

func (q *OrderedQueue[T]) tryGet() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	head := q.items[0].index
	switch {
	case head == FirstIndex:
		e := heap.Pop(&q.items).(entry[T])
		return e.value, true
	case head == q.next:
		e := heap.Pop(&q.items).(entry[T])
		q.next++
		return e.value, true
	default:
		return zero, false
	}
}

// Get waits up to timeout for the next expected index. It returns [ErrEmpty] on timeout
// and ctx.Err() if ctx ends first. A non-positive timeout does not wait.
func (q *OrderedQueue[T]) Get(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		q.mu.Lock()
		if v, ok := q.tryGet(); ok {
			q.mu.Unlock()
			return v, nil
		}
		changed := q.changed
		q.mu.Unlock()

		if deadline == nil {
			return zero, ErrEmpty
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-deadline:
			return zero, ErrEmpty
		case <-changed:
		}
	}
}

// Len is the number of buffered values, ready or not.
func (q *OrderedQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Next is the index the queue is waiting for.
func (q *OrderedQueue[T]) Next() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.next
}
