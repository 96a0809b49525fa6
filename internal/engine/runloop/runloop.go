// Package runloop provides the single UI-thread loop the viewer runs on:
// tasks posted from any goroutine plus frame callbacks fired once per frame.
package runloop

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned by Do when the loop stopped before running the task.
var ErrStopped = errors.New("runloop: stopped")

// Handle identifies a requested frame callback.
type Handle uint64

// FrameFunc runs once on the next frame.
type FrameFunc func(now time.Time)

// Scheduler is the frame pacing primitive. Callbacks run on the UI thread.
type Scheduler interface {
	RequestFrame(fn FrameFunc) Handle
	CancelFrame(h Handle)
}

// Executor runs work on the UI thread.
type Executor interface {
	// Post queues fn and returns immediately.
	Post(fn func())
	// Do runs fn on the UI thread and waits for it. Must not be called from the UI thread.
	Do(ctx context.Context, fn func()) error
}

// Loop is a UI-thread run loop. The owning goroutine calls Step once per frame.
type Loop struct {
	mu      sync.Mutex
	tasks   []func()
	wake    chan struct{}
	stopped bool

	frames *Queue
}

// New creates an empty loop.
func New() *Loop {
	return &Loop{
		wake:   make(chan struct{}, 1),
		frames: NewQueue(),
	}
}

// Post queues fn to run during the next Step. Posting to a stopped loop drops fn.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do posts fn and blocks until it ran, ctx ended or the loop stopped.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrStopped
	}
	l.tasks = append(l.tasks, func() {
		defer close(done)
		fn()
	})
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestFrame schedules fn for the next Step.
func (l *Loop) RequestFrame(fn FrameFunc) Handle {
	return l.frames.RequestFrame(fn)
}

// CancelFrame drops a pending frame callback.
func (l *Loop) CancelFrame(h Handle) {
	l.frames.CancelFrame(h)
}

// Step runs the tasks queued so far, then the frame callbacks due this frame.
// It returns how many tasks and callbacks ran.
func (l *Loop) Step(now time.Time) int {
	n := l.RunTasks()
	return n + l.frames.Fire(now)
}

// RunTasks runs the tasks queued so far. Tasks posted while running wait for the next call.
func (l *Loop) RunTasks() int {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = nil
	l.mu.Unlock()

	for _, fn := range tasks {
		fn()
	}
	return len(tasks)
}

// Wait blocks until a task is posted or ctx ends.
func (l *Loop) Wait(ctx context.Context) error {
	l.mu.Lock()
	pending := len(l.tasks) > 0
	l.mu.Unlock()
	if pending {
		return nil
	}
	select {
	case <-l.wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued tasks and frame callbacks.
func (l *Loop) Pending() (tasks, frames int) {
	l.mu.Lock()
	tasks = len(l.tasks)
	l.mu.Unlock()
	return tasks, l.frames.Len()
}

// Stop runs the remaining tasks and refuses new ones. Pending Do calls are released.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	tasks := l.tasks
	l.tasks = nil
	l.mu.Unlock()

	for _, fn := range tasks {
		fn()
	}
}

// Inline runs every task on the caller's goroutine. Used headless and in tests.
type Inline struct{}

// Post runs fn immediately.
func (Inline) Post(fn func()) { fn() }

// Do runs fn immediately.
func (Inline) Do(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fn()
	return nil
}
