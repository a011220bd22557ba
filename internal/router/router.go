package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/desertthunder/mlsync/internal/models"
)

type subQueue interface {
	put(r models.FetchResult)
	tryGet() (models.FetchResult, bool)
	size() int
}

// fifo is only touched under the router lock.
type fifo struct {
	items []models.FetchResult
}

func (f *fifo) put(r models.FetchResult) { f.items = append(f.items, r) }

func (f *fifo) tryGet() (models.FetchResult, bool) {
	if len(f.items) == 0 {
		return models.FetchResult{}, false
	}
	r := f.items[0]
	f.items[0] = models.FetchResult{}
	f.items = f.items[1:]
	return r, true
}

func (f *fifo) size() int { return len(f.items) }

type ordered struct {
	q *OrderedQueue[models.FetchResult]
}

func (o ordered) put(r models.FetchResult)           { o.q.Put(r.Index, r) }
func (o ordered) tryGet() (models.FetchResult, bool) { return o.q.TryGet() }
func (o ordered) size() int                          { return o.q.Len() }

type lane struct {
	section   *models.Section
	queue     subQueue
	delivered int
	total     int
	sealed    bool
}

func (l *lane) complete() bool { return l.sealed && l.delivered >= l.total }

// Router serves fetch results section by section, in registration order.
type Router struct {
	mu      sync.Mutex
	lanes   []*lane
	byKey   map[*models.Section]*lane
	changed chan struct{}
}

func New() *Router {
	return &Router{
		byKey:   make(map[*models.Section]*lane),
		changed: make(chan struct{}),
	}
}

// AddSection registers s behind every section already registered.
func (r *Router) AddSection(s *models.Section) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byKey[s]; ok {
		return
	}

	var q subQueue = &fifo{}
	if s.Kind.Ordered() {
		q = ordered{q: NewOrderedQueue[models.FetchResult]()}
	}
	l := &lane{section: s, queue: q}
	r.lanes = append(r.lanes, l)
	r.byKey[s] = l
}

// Put routes res to its section's sub-queue. Putting a result for an unregistered section is a
// programming error and panics.
func (r *Router) Put(res models.FetchResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.byKey[res.Section]
	if !ok {
		panic(fmt.Sprintf("router: result %d for unregistered section %v", res.Index, res.Section))
	}
	l.queue.put(res)
	r.notify()
}

// Seal fixes the number of results s will deliver. Until a section is sealed it is never popped.
func (r *Router) Seal(s *models.Section, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.byKey[s]
	if !ok {
		return
	}
	l.total = total
	l.sealed = true
	r.popCompleted()
	r.notify()
}

// Get returns the next result of the oldest registered section, or [ErrEmpty] if it has nothing ready.
func (r *Router) Get() (models.FetchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get()
}

func (r *Router) get() (models.FetchResult, error) {
	r.popCompleted()
	if len(r.lanes) == 0 {
		return models.FetchResult{}, ErrEmpty
	}

	head := r.lanes[0]
	res, ok := head.queue.tryGet()
	if !ok {
		return models.FetchResult{}, ErrEmpty
	}
	head.delivered++
	r.popCompleted()
	return res, nil
}

// GetWait is [Router.Get] that waits up to timeout for a result to become ready.
func (r *Router) GetWait(ctx context.Context, timeout time.Duration) (models.FetchResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		r.mu.Lock()
		res, err := r.get()
		changed := r.changed
		r.mu.Unlock()

		if err == nil {
			return res, nil
		}

		select {
		case <-ctx.Done():
			return models.FetchResult{}, ctx.Err()
		case <-timer.C:
			return models.FetchResult{}, ErrEmpty
		case <-changed:
		}
	}
}

// Remove drops s and its backlog, returning how many buffered results were discarded.
func (r *Router) Remove(s *models.Section) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.byKey[s]
	if !ok {
		return 0
	}
	delete(r.byKey, s)
	for i, candidate := range r.lanes {
		if candidate == l {
			r.lanes = append(r.lanes[:i], r.lanes[i+1:]...)
			break
		}
	}
	r.notify()
	return l.queue.size()
}

// TotalSize is the number of buffered results across every section.
func (r *Router) TotalSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, l := range r.lanes {
		n += l.queue.size()
	}
	return n
}

// Sections lists registered sections, oldest first.
func (r *Router) Sections() []*models.Section {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.Section, len(r.lanes))
	for i, l := range r.lanes {
		out[i] = l.section
	}
	return out
}

// Len is the number of registered sections.
func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lanes)
}

// Delivered reports how many results of s have been handed out, and whether s is still registered.
func (r *Router) Delivered(s *models.Section) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.byKey[s]
	if !ok {
		return 0, false
	}
	return l.delivered, true
}

func (r *Router) popCompleted() {
	for len(r.lanes) > 0 && r.lanes[0].complete() {
		delete(r.byKey, r.lanes[0].section)
		r.lanes[0] = nil
		r.lanes = r.lanes[1:]
	}
}

func (r *Router) notify() {
	close(r.changed)
	r.changed = make(chan struct{})
}
