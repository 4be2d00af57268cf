package job

import (
	"context"
	"sync/atomic"

	"cosched/internal/sched"
)

// Fib computes the n-th Fibonacci number by spawning a task per recursive
// call and joining each pair with a Bundle. Below cutoff it recurses inline.
func Fib(n, cutoff int, out *int64) sched.TaskFunc {
	return func(ctx context.Context) error {
		if n < 2 {
			*out = int64(n)
			return nil
		}
		if n <= cutoff {
			*out = fibSerial(n)
			return nil
		}

		var a, b int64
		sched.NewBundle().
			Register(sched.Go(ctx, Fib(n-1, cutoff, &a))).
			Register(sched.Go(ctx, Fib(n-2, cutoff, &b))).
			Wait(ctx)
		*out = a + b
		return nil
	}
}

func fibSerial(n int) int64 {
	a, b := int64(0), int64(1)
	for i := 0; i < n; i++ {
		a, b = b, a+b
	}
	return a
}

// FanOut spawns tasks children that each sleep sleepMS milliseconds and
// count down a shared latch, then waits on the latch. done receives the
// number of children that finished.
func FanOut(tasks int, sleepMS int64, done *atomic.Int64) sched.TaskFunc {
	return func(ctx context.Context) error {
		latch := sched.NewLatch()
		latch.Add(tasks)
		for i := 0; i < tasks; i++ {
			sched.Go(ctx, func(ctx context.Context) error {
				defer latch.Down()
				if err := SleepWork(sleepMS)(ctx); err != nil {
					return err
				}
				done.Add(1)
				return nil
			})
		}
		latch.Wait(ctx)
		return nil
	}
}
