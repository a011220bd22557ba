package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
)

// State is the lifecycle position of a [Task].
type State int32

const (
	Created State = iota
	Queued
	Running
	Finished
	Canceled
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Task is a unit of background work.
type Task struct {
	name  string
	fn    func(ctx context.Context) error
	seq   int64
	state atomic.Int32

	mu   sync.Mutex
	stop context.CancelFunc
}

// NewTask wraps fn as a task. fn should return promptly once ctx is done.
func NewTask(name string, fn func(ctx context.Context) error) *Task {
	return &Task{name: name, fn: fn}
}

// NewFuncTask runs fn and hands its result to callback, unless fn fails or the task is canceled first.
func NewFuncTask[T any](name string, fn func(ctx context.Context) (T, error), callback func(T)) *Task {
	t := &Task{name: name}
	t.fn = func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		if callback != nil && ctx.Err() == nil && !t.Canceled() {
			callback(v)
		}
		return nil
	}
	return t
}

func (t *Task) Name() string { return t.name }

// Seq is the queue position assigned at submission. Lower runs first.
func (t *Task) Seq() int64 { return t.seq }

func (t *Task) State() State { return State(t.state.Load()) }

func (t *Task) Canceled() bool { return t.State() == Canceled }

func (t *Task) Finished() bool { return t.State() == Finished }

// Valid reports whether the task may still run.
func (t *Task) Valid() bool {
	s := t.State()
	return s != Canceled && s != Finished
}

// Cancel marks the task canceled. A queued task is discarded before it runs; a running task
// sees its context canceled but is never interrupted.
func (t *Task) Cancel() {
	for {
		s := t.state.Load()
		if State(s) == Finished || State(s) == Canceled {
			return
		}
		if t.state.CompareAndSwap(s, int32(Canceled)) {
			break
		}
	}

	t.mu.Lock()
	stop := t.stop
	t.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (t *Task) markQueued() bool {
	return t.state.CompareAndSwap(int32(Created), int32(Queued))
}

func (t *Task) begin(stop context.CancelFunc) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.CompareAndSwap(int32(Queued), int32(Running)) {
		return false
	}
	t.stop = stop
	return true
}

// finish moves Running to Finished. A task canceled mid-run stays Canceled.
func (t *Task) finish() {
	t.state.CompareAndSwap(int32(Running), int32(Finished))
	t.mu.Lock()
	t.stop = nil
	t.mu.Unlock()
}

// TaskList tracks tasks a caller may want to cancel later.
// Finished and canceled entries are dropped the next time the list is touched.
type TaskList struct {
	mu    sync.Mutex
	tasks []*Task
}

// Add appends tasks after sweeping stale entries.
func (l *TaskList) Add(tasks ...*Task) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep()
	for _, t := range tasks {
		if t.Valid() {
			l.tasks = append(l.tasks, t)
		}
	}
}

// Tasks returns the tasks that can still run.
func (l *TaskList) Tasks() []*Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep()
	return append([]*Task(nil), l.tasks...)
}

// Len is the number of tasks that can still run.
func (l *TaskList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep()
	return len(l.tasks)
}

// CancelAll cancels every tracked task and empties the list.
func (l *TaskList) CancelAll() {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = nil
	l.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
}

func (l *TaskList) sweep() {
	kept := l.tasks[:0]
	for _, t := range l.tasks {
		if t.Valid() {
			kept = append(kept, t)
		}
	}
	clear(l.tasks[len(kept):])
	l.tasks = kept
}
