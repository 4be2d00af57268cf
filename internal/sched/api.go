// internal/sched/api.go

package sched

import (
	"context"
	"sync"
	"sync/atomic"
)

// Handle shares ownership of a spawned task so that it can still be
// registered with a Bundle after the task has finished.
type Handle struct {
	t *Task
}

// ID returns the task identifier.
func (h *Handle) ID() TaskID { return h.t.ID }

// State returns the task's current state.
func (h *Handle) State() TaskState { return h.t.State() }

// Done reports whether the task terminated.
func (h *Handle) Done() bool { return h.t.State() == StateTerminated }

// Err returns the task's result once it terminated.
func (h *Handle) Err() error { return h.t.Err() }

// Task returns the underlying task.
func (h *Handle) Task() *Task { return h.t }

// Go spawns fn from inside a running task. The new task starts on the
// spawning worker's queue and may be stolen by other workers.
func Go(ctx context.Context, fn TaskFunc) *Handle {
	return spawnFrom(mustCurrent(ctx, "go"), fn, false)
}

// GoPure spawns fn from inside a running task. The new task never leaves the
// spawning worker.
func GoPure(ctx context.Context, fn TaskFunc) *Handle {
	return spawnFrom(mustCurrent(ctx, "go_pure"), fn, true)
}

func spawnFrom(parent *Task, fn TaskFunc, pure bool) *Handle {
	m := parent.m
	m.live.Add(1)
	return m.spawn(parent.worker.Load(), fn, pure)
}

// Pollable is an operation that completes outside the runtime and whose
// completion is discovered by polling.
type Pollable interface {
	Poll() bool
}

// PollFunc adapts a function to Pollable.
type PollFunc func() bool

// Poll calls f.
func (f PollFunc) Poll() bool { return f() }

// Await parks the calling task on its worker's blocked list until op polls
// as complete.
func Await(ctx context.Context, op Pollable) {
	t := mustCurrent(ctx, "await")
	t.pending = op
	t.park(StateBlocked)
	t.yieldOut(StateBlocked)
}

// Bundle is a TaskGroup over handles.
//
//	b := sched.NewBundle()
//	b.Register(sched.Go(ctx, foo)).Register(sched.Go(ctx, bar))
//	b.Wait(ctx)
type Bundle struct {
	group *TaskGroup
}

// NewBundle creates a bundle with an empty group.
func NewBundle() *Bundle {
	return &Bundle{group: NewTaskGroup()}
}

// Register adds the handle's task unless it already finished.
func (b *Bundle) Register(h *Handle) *Bundle {
	b.group.Register(h.t)
	return b
}

// Wait suspends the calling task until every registered task finished.
func (b *Bundle) Wait(ctx context.Context) {
	b.group.Wait(ctx)
}

// Pending returns the number of registered tasks still running.
func (b *Bundle) Pending() int { return b.group.Pending() }

// Latch is a countdown latch. Its release goes through the same
// termination path as a real task: a sentinel task that is never scheduled
// terminates when the count reaches zero, which releases the waiter of the
// sentinel's group.
type Latch struct {
	counter atomic.Int64

	mu       sync.Mutex
	sentinel *Task
	group    *TaskGroup
	released bool
}

// NewLatch creates a latch with a zero count; call Add before Wait.
func NewLatch() *Latch {
	return &Latch{
		sentinel: newTask(nil, nil, true),
		group:    NewTaskGroup(),
	}
}

// Add sets the count. A latch that was already released is re-armed;
// n <= 0 releases it immediately.
func (l *Latch) Add(n int) {
	l.mu.Lock()
	if l.released {
		l.sentinel = newTask(nil, nil, true)
		l.group = NewTaskGroup()
		l.released = false
	}
	l.counter.Store(int64(n))
	l.mu.Unlock()

	if n <= 0 {
		l.release()
	}
}

// Down decrements the count; reaching exactly zero releases the latch.
// Further calls drive the count negative and do nothing.
func (l *Latch) Down() {
	if l.counter.Add(-1) == 0 {
		l.release()
	}
}

// Count returns the remaining count.
func (l *Latch) Count() int64 { return l.counter.Load() }

func (l *Latch) release() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	s := l.sentinel
	l.mu.Unlock()

	s.terminate(nil)
}

// Wait suspends the calling task until the latch is released. Only one task
// may wait at a time.
func (l *Latch) Wait(ctx context.Context) {
	l.mu.Lock()
	s, g := l.sentinel, l.group
	l.mu.Unlock()

	g.Register(s).Wait(ctx)
}
