package sched

import (
	"errors"
	"fmt"
)

var (
	// ErrTerminated is returned when work is submitted from outside the
	// runtime after Terminate was called.
	ErrTerminated = errors.New("sched: mediator terminated")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("sched: mediator already running")
)

// ContractError is the panic value raised when the runtime detects that one
// of its own invariants was broken (resuming a finished task, two waiters on
// one group, terminating twice). These are bugs, not runtime conditions.
type ContractError struct {
	Op     string
	TaskID TaskID
	State  TaskState
	Reason string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("sched: contract violation in %s: task %d in state %s: %s",
		e.Op, e.TaskID, e.State, e.Reason)
}

// PanicError records a panic recovered at the boundary of a task body.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("sched: task panicked: %v", e.Value)
}
