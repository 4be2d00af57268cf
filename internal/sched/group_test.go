package sched

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
)

func TestTaskGroup_ReleasesAfterAllMembers(t *testing.T) {
	m := newTestMediator(1)
	ops := []*flag{{}, {}, {}}
	released := false

	root, _ := m.Go(func(ctx context.Context) error {
		b := NewBundle()
		for _, op := range ops {
			op := op
			b.Register(Go(ctx, func(ctx context.Context) error {
				Await(ctx, op)
				return nil
			}))
		}
		if b.Pending() != 3 {
			t.Errorf("Pending = %d, want 3", b.Pending())
		}
		b.Wait(ctx)
		released = true
		return nil
	})

	w := m.workers[0]
	w.drain()
	if root.State() != StateGroupWait {
		t.Fatalf("root state = %s, want GroupWait", root.State())
	}

	for i, op := range ops {
		op.done.Store(true)
		w.drain()
		if i < len(ops)-1 && released {
			t.Fatalf("waiter released after %d of %d members", i+1, len(ops))
		}
	}
	if !released || !root.Done() {
		t.Fatalf("waiter not released (state %s)", root.State())
	}
}

func TestTaskGroup_TerminatedMemberIsIgnored(t *testing.T) {
	m := newTestMediator(1)
	var pending = -1

	m.Go(func(ctx context.Context) error {
		child := Go(ctx, func(context.Context) error { return nil })
		// let the child run to completion first
		Await(ctx, PollFunc(func() bool { return true }))
		if !child.Done() {
			t.Error("child should have terminated")
		}
		b := NewBundle().Register(child)
		pending = b.Pending()
		b.Wait(ctx)
		return nil
	})
	m.workers[0].drain()

	if pending != 0 {
		t.Fatalf("Pending after registering a finished task = %d, want 0", pending)
	}
	if m.Live() != 0 {
		t.Fatalf("Live = %d, want 0", m.Live())
	}
}

func TestTaskGroup_IdempotentRegistration(t *testing.T) {
	m := newTestMediator(1)
	op := &flag{}
	var pending int

	root, _ := m.Go(func(ctx context.Context) error {
		child := Go(ctx, func(ctx context.Context) error {
			Await(ctx, op)
			return nil
		})
		b := NewBundle().Register(child).Register(child)
		pending = b.Pending()
		b.Wait(ctx)
		return nil
	})

	w := m.workers[0]
	w.drain()
	op.done.Store(true)
	w.drain()

	if pending != 1 {
		t.Fatalf("Pending after double registration = %d, want 1", pending)
	}
	if !root.Done() {
		t.Fatalf("one termination should release the waiter, root state %s", root.State())
	}
}

func TestTaskGroup_FailedMemberStillReleases(t *testing.T) {
	m := newTestMediator(1)
	var childErr error

	root, _ := m.Go(func(ctx context.Context) error {
		child := Go(ctx, func(context.Context) error { panic("child failed") })
		NewBundle().Register(child).Wait(ctx)
		childErr = child.Err()
		return nil
	})
	m.workers[0].drain()

	if !root.Done() {
		t.Fatalf("root state = %s, want Terminated", root.State())
	}
	if _, ok := childErr.(*PanicError); !ok {
		t.Fatalf("child Err = %v, want *PanicError", childErr)
	}
}

func TestTaskGroup_WaitOnEmptyReturns(t *testing.T) {
	m := newTestMediator(1)
	h, _ := m.Go(func(ctx context.Context) error {
		NewTaskGroup().Wait(ctx)
		return nil
	})
	m.workers[0].drain()
	if !h.Done() {
		t.Fatalf("state = %s, want Terminated", h.State())
	}
}

func TestTaskGroup_SecondWaiterIsContractViolation(t *testing.T) {
	g := NewTaskGroup()
	member := newTask(nil, nil, false)
	first := newTask(nil, nil, false)
	second := newTask(nil, nil, false)
	second.state = StateRunnable

	g.Register(member)
	g.waiter = first

	mustContractPanic(t, func() { g.Wait(withTask(context.Background(), second)) })
	if g.waiter != first {
		t.Fatal("failed wait replaced the parked waiter")
	}
	if second.State() != StateRunnable {
		t.Fatalf("second waiter left in state %s, want Runnable", second.State())
	}
}

// A broken invariant inside a running task must take the process down
// rather than become the task's result.
func TestTaskGroup_SecondWaiterAbortsProcess(t *testing.T) {
	if os.Getenv("COSCHED_SECOND_WAITER") == "1" {
		m := newTestMediator(1)
		op := &flag{}
		g := NewTaskGroup()
		m.Go(func(ctx context.Context) error {
			g.Register(Go(ctx, func(ctx context.Context) error {
				Await(ctx, op)
				return nil
			}).Task())
			Go(ctx, func(ctx context.Context) error {
				g.Wait(ctx)
				return nil
			})
			g.Wait(ctx)
			return nil
		})
		m.workers[0].drain()
		os.Exit(0)
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestTaskGroup_SecondWaiterAbortsProcess$")
	cmd.Env = append(os.Environ(), "COSCHED_SECOND_WAITER=1")
	out, err := cmd.CombinedOutput()
	if err == nil {
		t.Fatalf("process survived a second waiter; output:\n%s", out)
	}
	if !strings.Contains(string(out), "group already has a waiter") {
		t.Fatalf("crash output does not name the violation:\n%s", out)
	}
}

func TestTaskGroup_RegisterRacesTerminate(t *testing.T) {
	for round := 0; round < 200; round++ {
		task := newTask(nil, nil, false)
		groups := make([]*TaskGroup, 16)
		for i := range groups {
			groups[i] = NewTaskGroup()
		}

		var wg sync.WaitGroup
		start := make(chan struct{})
		for _, g := range groups {
			wg.Add(1)
			go func(g *TaskGroup) {
				defer wg.Done()
				<-start
				g.Register(task)
			}(g)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			task.terminate(nil)
		}()
		close(start)
		wg.Wait()

		for i, g := range groups {
			if n := g.Pending(); n != 0 {
				t.Fatalf("round %d: group %d still holds %d members after terminate", round, i, n)
			}
		}
		if n := task.groups.Size(); n != 0 {
			t.Fatalf("round %d: terminated task still references %d groups", round, n)
		}
	}
}
