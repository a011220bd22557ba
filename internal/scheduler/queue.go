package scheduler

import "sync"

// queue is a FIFO of tasks ordered by sequence number with an insert-at-front escape hatch.
type queue struct {
	mu    sync.Mutex
	items []*Task
	next  int64
}

// pushBack assigns increasing sequence numbers and appends. It returns how many tasks were queued.
func (q *queue) pushBack(tasks []*Task) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, t := range tasks {
		if !t.markQueued() {
			continue
		}
		t.seq = q.next
		q.next++
		q.items = append(q.items, t)
		n++
	}
	return n
}

// pushFront gives tasks sequence numbers below the current head, keeping their relative order.
func (q *queue) pushFront(tasks []*Task) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	accepted := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		if t.markQueued() {
			accepted = append(accepted, t)
		}
	}
	if len(accepted) == 0 {
		return 0
	}

	if len(q.items) == 0 {
		for _, t := range accepted {
			t.seq = q.next
			q.next++
		}
		q.items = append(q.items, accepted...)
		return len(accepted)
	}

	lowest := q.items[0].seq - int64(len(accepted))
	for i, t := range accepted {
		t.seq = lowest + int64(i)
	}
	q.items = append(accepted, q.items...)
	return len(accepted)
}

// pop returns the next runnable task, discarding canceled ones on the way.
func (q *queue) pop() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) > 0 {
		t := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		if t.Valid() {
			return t, true
		}
	}
	return nil, false
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drain empties the queue and returns what was in it.
func (q *queue) drain() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
