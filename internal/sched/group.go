// internal/sched/group.go

package sched

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/emirpasic/gods/sets/hashset"
)

var nextGroupID atomic.Uint64

// TaskGroup is a completion barrier over a dynamic set of tasks. At most one
// task may wait on a group at a time.
//
// Lock order is task.mu -> group.mu. A group never holds its members alive;
// it only records that they have not finished yet.
type TaskGroup struct {
	ID uint64

	mu      sync.Mutex
	members *hashset.Set // *Task still running
	waiter  *Task
}

// NewTaskGroup creates an empty group.
func NewTaskGroup() *TaskGroup {
	return &TaskGroup{
		ID:      nextGroupID.Add(1),
		members: hashset.New(),
	}
}

// Register adds t to the group unless it already terminated. Registering the
// same task twice is a no-op.
func (g *TaskGroup) Register(t *Task) *TaskGroup {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateTerminated {
		return g
	}

	g.mu.Lock()
	g.members.Add(t)
	g.mu.Unlock()
	t.groups.Add(g)
	return g
}

// Pending returns the number of registered tasks that have not terminated.
func (g *TaskGroup) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.members.Size()
}

// informDone is called by a terminating member while it holds its own lock.
func (g *TaskGroup) informDone(t *Task) {
	g.mu.Lock()
	g.members.Remove(t)
	var w *Task
	if g.members.Empty() && g.waiter != nil {
		w, g.waiter = g.waiter, nil
	}
	g.mu.Unlock()

	if w != nil {
		w.wake()
		w.m.addRunnable(w)
	}
}

// Wait suspends the calling task until every registered member terminated.
// It returns immediately when nothing is pending.
func (g *TaskGroup) Wait(ctx context.Context) {
	t := mustCurrent(ctx, "group wait")

	// park first so that a release racing with the yield below already sees
	// the waiter in GroupWait
	t.park(StateGroupWait)

	g.mu.Lock()
	if g.members.Empty() {
		g.mu.Unlock()
		t.park(StateRunnable)
		return
	}
	if g.waiter != nil {
		g.mu.Unlock()
		t.park(StateRunnable)
		panic(&ContractError{Op: "group wait", TaskID: t.ID, State: StateRunnable, Reason: "group already has a waiter"})
	}
	if g.members.Contains(t) {
		g.mu.Unlock()
		t.park(StateRunnable)
		panic(&ContractError{Op: "group wait", TaskID: t.ID, State: StateRunnable, Reason: "task waits on a group it belongs to"})
	}
	g.waiter = t
	g.mu.Unlock()

	t.yieldOut(StateGroupWait)
}
