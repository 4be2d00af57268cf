// internal/sched/task.go

package sched

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/emirpasic/gods/sets/hashset"
)

// TaskID uniquely identifies a task in the runtime.
type TaskID uint64

// TaskState is a task's position in its lifecycle.
type TaskState int32

const (
	StateInitial TaskState = iota
	StateRunnable
	StateBlocked   // parked on a Pollable, sits on its worker's blocked list
	StateGroupWait // parked on a TaskGroup, owned by that group until released
	StateTerminated
)

func (s TaskState) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateRunnable:
		return "Runnable"
	case StateBlocked:
		return "Blocked"
	case StateGroupWait:
		return "GroupWait"
	case StateTerminated:
		return "Terminated"
	default:
		return "<unknown>"
	}
}

// TaskFunc is the body of a task. The ctx it receives identifies the running
// task and must be passed to Go, GoPure, Await and the Wait methods.
type TaskFunc func(ctx context.Context) error

var nextTaskID atomic.Uint64

// Task represents one cooperatively scheduled unit of work. Its body runs on
// a dedicated goroutine that only executes while a worker has handed it the
// baton through resumeInto.
type Task struct {
	ID   TaskID
	pure bool // never leaves the worker it was spawned on
	run  TaskFunc
	m    *Mediator

	mu     sync.Mutex // guards state, groups and err
	state  TaskState
	groups *hashset.Set // *TaskGroup this task is registered with
	err    error

	worker  atomic.Pointer[Worker] // last (or, for pure tasks, only) home
	in      chan *Worker           // worker -> task: continue running
	out     chan TaskState         // task -> worker: parked or finished
	resumed bool                   // touched only by the task goroutine
	pending Pollable               // set by Await, polled by the worker
}

func newTask(m *Mediator, fn TaskFunc, pure bool) *Task {
	return &Task{
		ID:     TaskID(nextTaskID.Add(1)),
		pure:   pure,
		run:    fn,
		m:      m,
		state:  StateInitial,
		groups: hashset.New(),
		in:     make(chan *Worker),
		out:    make(chan TaskState),
	}
}

// State returns the current lifecycle state.
func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns what the body returned, or a *PanicError if it panicked.
// It is nil until the task terminates.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Pure reports whether the task is pinned to its origin worker.
func (t *Task) Pure() bool { return t.pure }

// resumeInto runs the task on the calling worker until it parks or
// finishes, and returns the state it left in.
func (t *Task) resumeInto(w *Worker) TaskState {
	t.mu.Lock()
	switch t.state {
	case StateInitial:
		t.state = StateRunnable
		t.mu.Unlock()
		go t.main()
	case StateRunnable:
		t.mu.Unlock()
	default:
		st := t.state
		t.mu.Unlock()
		panic(&ContractError{Op: "resume", TaskID: t.ID, State: st, Reason: "task is not resumable"})
	}

	t.in <- w
	return <-t.out
}

// yieldOut hands control back to the worker that last resumed the task and
// blocks until some worker resumes it again.
func (t *Task) yieldOut(reason TaskState) {
	if !t.resumed {
		panic(&ContractError{Op: "yield", TaskID: t.ID, State: reason, Reason: "no resuming worker to return to"})
	}
	t.resumed = false
	t.out <- reason
	t.enter(<-t.in)
}

func (t *Task) enter(w *Worker) {
	t.worker.Store(w)
	t.resumed = true
}

func (t *Task) main() {
	t.enter(<-t.in)
	err := t.invoke()
	t.resumed = false
	t.terminate(err)
	t.out <- StateTerminated
}

func (t *Task) invoke() (err error) {
	defer func() {
		if r := recover(); r != nil {
			// broken runtime invariants stay fatal
			if ce, ok := r.(*ContractError); ok {
				panic(ce)
			}
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return t.run(withTask(context.Background(), t))
}

// terminate marks the task finished and reports it to every group it is
// registered with. Notification happens under the task lock so that it
// cannot interleave with a concurrent TaskGroup.Register of this task.
func (t *Task) terminate(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateTerminated {
		panic(&ContractError{Op: "terminate", TaskID: t.ID, State: t.state, Reason: "already terminated"})
	}
	t.state = StateTerminated
	t.err = err

	for _, g := range t.groups.Values() {
		g.(*TaskGroup).informDone(t)
	}
	t.groups.Clear()
}

// park moves a running task into a suspension state before it yields.
func (t *Task) park(state TaskState) {
	t.mu.Lock()
	t.state = state
	t.mu.Unlock()
}

// wake moves a parked task back to Runnable. Only the component that parked
// it may call this.
func (t *Task) wake() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateBlocked && t.state != StateGroupWait {
		panic(&ContractError{Op: "wake", TaskID: t.ID, State: t.state, Reason: "task is not parked"})
	}
	t.state = StateRunnable
}

type taskKey struct{}

func withTask(ctx context.Context, t *Task) context.Context {
	return context.WithValue(ctx, taskKey{}, t)
}

// Current returns the task running under ctx, or nil outside of a task.
func Current(ctx context.Context) *Task {
	t, _ := ctx.Value(taskKey{}).(*Task)
	return t
}

func mustCurrent(ctx context.Context, op string) *Task {
	t := Current(ctx)
	if t == nil {
		panic(&ContractError{Op: op, Reason: "not called from a running task"})
	}
	return t
}
