package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTaskPanic wraps a value recovered from a panicking task.
var ErrTaskPanic = errors.New("task panicked")

// IdlePolicy decides what a worker does when the queue is empty.
type IdlePolicy int

const (
	// ExitWhenIdle stops the worker; the next submission starts it again.
	ExitWhenIdle IdlePolicy = iota
	// PollWhenIdle keeps the worker alive, checking the queue every poll interval.
	PollWhenIdle
)

func (p IdlePolicy) String() string {
	if p == PollWhenIdle {
		return "poll"
	}
	return "exit"
}

type worker struct {
	id  int
	gen *generation

	mu    sync.Mutex
	alive bool
	done  chan struct{}
}

// start launches the worker goroutine unless it is already running or its generation was aborted.
func (w *worker) start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.alive || w.gen.ctx.Err() != nil {
		return
	}
	w.alive = true
	w.done = make(chan struct{})
	go w.loop(w.done)
}

// wait blocks until the worker goroutine, if any, has exited.
func (w *worker) wait() {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (w *worker) loop(done chan struct{}) {
	defer close(done)

	g := w.gen
	for {
		if g.ctx.Err() != nil {
			w.exit()
			return
		}

		g.active.Add(1)
		task, ok := g.queue.pop()
		if ok {
			w.run(task)
			g.active.Add(-1)
			continue
		}
		g.active.Add(-1)

		if g.policy == PollWhenIdle {
			timer := time.NewTimer(g.poll)
			select {
			case <-g.ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
			continue
		}

		if w.exitIfIdle() {
			return
		}
	}
}

// exitIfIdle marks the worker stopped if the queue is still empty. Holding w.mu here pairs with
// start, so a submission racing with the exit either sees alive=false or lands before the check.
func (w *worker) exitIfIdle() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.gen.queue.len() > 0 && w.gen.ctx.Err() == nil {
		return false
	}
	w.alive = false
	return true
}

func (w *worker) exit() {
	w.mu.Lock()
	w.alive = false
	w.mu.Unlock()
}

func (w *worker) run(t *Task) {
	ctx, cancel := context.WithCancel(w.gen.ctx)
	defer cancel()

	if !t.begin(cancel) {
		return
	}

	logger := w.gen.logger.With("task", t.name, "worker", w.id)
	start := time.Now()
	err := call(ctx, t.fn)
	t.finish()

	switch {
	case err == nil:
		logger.Debug("task finished", "elapsed", time.Since(start))
	case errors.Is(err, context.Canceled):
		logger.Debug("task canceled", "elapsed", time.Since(start))
	default:
		logger.Error("task failed", "err", err)
	}
}

func call(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()
	return fn(ctx)
}
