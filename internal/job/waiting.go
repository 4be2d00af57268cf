package job

import (
	"context"
	"time"

	"cosched/internal/sched"
)

// Deadline is a Pollable that completes once the wall clock passes At.
type Deadline struct {
	At time.Time
}

// After returns a Deadline d from now.
func After(d time.Duration) Deadline {
	return Deadline{At: time.Now().Add(d)}
}

// Poll reports whether the deadline has passed.
func (d Deadline) Poll() bool { return !time.Now().Before(d.At) }

// Recv is a Pollable that completes when a value can be received from Ch.
// The received value is kept in Value.
type Recv[T any] struct {
	Ch    <-chan T
	Value T
	OK    bool
}

// Poll tries one non-blocking receive.
func (r *Recv[T]) Poll() bool {
	select {
	case v, ok := <-r.Ch:
		r.Value, r.OK = v, ok
		return true
	default:
		return false
	}
}

// SleepWork returns a task body that parks on a deadline ms milliseconds
// away instead of blocking its worker thread.
func SleepWork(ms int64) sched.TaskFunc {
	return func(ctx context.Context) error {
		sched.Await(ctx, After(time.Duration(ms)*time.Millisecond))
		return nil
	}
}
