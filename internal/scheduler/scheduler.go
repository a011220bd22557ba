package scheduler

import (
	"context"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

const (
	DefaultWorkers      = 6
	DefaultPollInterval = 50 * time.Millisecond
)

// Options configures a [Scheduler].
type Options struct {
	Name         string
	Workers      int
	Policy       IdlePolicy
	PollInterval time.Duration
	Logger       *log.Logger
}

func (o *Options) defaults() {
	if o.Name == "" {
		o.Name = "scheduler"
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard)
	}
}

// generation is one queue plus the workers draining it.
type generation struct {
	id      int
	ctx     context.Context
	cancel  context.CancelFunc
	queue   *queue
	workers []*worker
	policy  IdlePolicy
	poll    time.Duration
	logger  *log.Logger
	active  atomic.Int32
}

func newGeneration(parent context.Context, id int, opts Options) *generation {
	ctx, cancel := context.WithCancel(parent)
	g := &generation{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		queue:  &queue{},
		policy: opts.Policy,
		poll:   opts.PollInterval,
		logger: opts.Logger.With("generation", id),
	}
	for i := range opts.Workers {
		g.workers = append(g.workers, &worker{id: i, gen: g})
	}
	return g
}

func (g *generation) submit(tasks []*Task, front bool) {
	if g.ctx.Err() != nil {
		for _, t := range tasks {
			t.Cancel()
		}
		return
	}

	var n int
	if front {
		n = g.queue.pushFront(tasks)
	} else {
		n = g.queue.pushBack(tasks)
	}
	if n == 0 {
		return
	}
	for _, w := range g.workers {
		w.start()
	}
}

func (g *generation) working() bool {
	return g.active.Load() > 0 || g.queue.len() > 0
}

func (g *generation) abort() {
	g.cancel()
	for _, t := range g.queue.drain() {
		t.Cancel()
	}
}

func (g *generation) join() {
	for _, w := range g.workers {
		w.wait()
	}
}

// Scheduler owns the live worker generation and every abandoned one.
type Scheduler struct {
	ctx  context.Context
	opts Options

	mu        sync.Mutex
	current   *generation
	abandoned []*generation
	count     int
	closed    bool
}

// New creates a scheduler whose workers stop when ctx is canceled.
func New(ctx context.Context, opts Options) *Scheduler {
	opts.defaults()
	opts.Logger = opts.Logger.WithPrefix(opts.Name)
	s := &Scheduler{ctx: ctx, opts: opts}
	s.current = newGeneration(ctx, 0, opts)
	return s
}

// Submit queues one task.
func (s *Scheduler) Submit(t *Task) { s.SubmitBatch([]*Task{t}) }

// SubmitBatch queues tasks in order behind everything already queued.
func (s *Scheduler) SubmitBatch(tasks []*Task) {
	s.generation().submit(tasks, false)
}

// SubmitToFront queues tasks ahead of everything already queued, preserving their order.
// Tasks that are already running are unaffected.
func (s *Scheduler) SubmitToFront(tasks []*Task) {
	s.generation().submit(tasks, true)
}

// Working reports whether the live generation has queued or running tasks.
func (s *Scheduler) Working() bool {
	return s.generation().working()
}

// Pending is the number of tasks queued in the live generation.
func (s *Scheduler) Pending() int {
	return s.generation().queue.len()
}

// Generation is the id of the live generation. It increases by one on every effective [Scheduler.Reset].
func (s *Scheduler) Generation() int {
	return s.generation().id
}

// Reset abandons the live generation and installs a fresh one, unless the live generation is idle.
// The abandoned generation is aborted: its queued tasks are canceled and its running tasks see
// their context canceled. It is joined by [Scheduler.Shutdown].
func (s *Scheduler) Reset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if !s.current.working() && s.current.ctx.Err() == nil {
		return false
	}

	old := s.current
	old.abort()
	s.abandoned = append(s.abandoned, old)
	s.count++
	s.current = newGeneration(s.ctx, s.count, s.opts)
	s.opts.Logger.Info("scheduler reset", "abandoned", old.id, "generation", s.count)
	return true
}

// WaitAbandoned blocks until the workers of every generation abandoned so far have exited, or
// until ctx is done. Joined generations are dropped so [Scheduler.Shutdown] does not wait on them
// again. Calling it from a task of an abandoned generation returns once that task's ctx is done.
func (s *Scheduler) WaitAbandoned(ctx context.Context) error {
	s.mu.Lock()
	gens := append([]*generation(nil), s.abandoned...)
	s.mu.Unlock()
	if len(gens) == 0 {
		return nil
	}

	joined := make(chan struct{})
	go func() {
		defer close(joined)
		for _, g := range gens {
			g.join()
		}
	}()

	select {
	case <-joined:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	s.abandoned = slices.DeleteFunc(s.abandoned, func(g *generation) bool {
		return slices.Contains(gens, g)
	})
	s.mu.Unlock()
	return nil
}

// Abort cancels the live generation without waiting for its workers.
func (s *Scheduler) Abort() {
	s.generation().abort()
}

// Shutdown aborts the live generation and blocks until the workers of every generation have exited.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	gens := append(append([]*generation(nil), s.abandoned...), s.current)
	s.abandoned = nil
	s.mu.Unlock()

	for _, g := range gens {
		g.abort()
	}
	for _, g := range gens {
		g.join()
	}
	s.opts.Logger.Debug("scheduler stopped", "generations", len(gens))
}

func (s *Scheduler) generation() *generation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
