// internal/sched/worker.go

package sched

import (
	"sync/atomic"

	"github.com/emirpasic/gods/lists/arraylist"
)

// Worker is the scheduler local to one OS thread. It owns a stealable run
// queue, a run queue for pure tasks that thieves never see, and the list of
// tasks blocked on a Pollable.
type Worker struct {
	id int
	m  *Mediator

	seq      atomic.Uint64    // shared by both local queues
	runnable *RunQueue[*Task] // stealable
	pinned   *RunQueue[*Task] // pure tasks only
	blocked  *arraylist.List  // *Task; touched only by this worker's goroutine
	wake     chan struct{}
	current  atomic.Pointer[Task]
}

func newWorker(id int, m *Mediator) *Worker {
	w := &Worker{
		id:      id,
		m:       m,
		blocked: arraylist.New(),
		wake:    make(chan struct{}, 1),
	}
	w.runnable = newRunQueue[*Task](&w.seq)
	w.pinned = newRunQueue[*Task](&w.seq)
	return w
}

// ID returns the worker index within its mediator.
func (w *Worker) ID() int { return w.id }

// Current returns the task the worker is running right now, if any.
func (w *Worker) Current() *Task { return w.current.Load() }

// Pending returns how many tasks wait in the local run queues.
func (w *Worker) Pending() int { return w.runnable.Len() + w.pinned.Len() }

// addRunnable queues t locally and wakes the worker if it is idle.
func (w *Worker) addRunnable(t *Task) {
	if t.pure {
		w.pinned.Enqueue(t)
	} else {
		w.runnable.Enqueue(t)
	}
	w.notify()
}

func (w *Worker) notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// next pops whichever local queue holds the task that became runnable first.
func (w *Worker) next() (*Task, bool) {
	ps, pok := w.pinned.Front()
	rs, rok := w.runnable.Front()
	if pok && (!rok || ps < rs) {
		return w.pinned.Dequeue()
	}
	if t, ok := w.runnable.Dequeue(); ok {
		return t, true
	}
	// a thief may have emptied the stealable queue since Front
	return w.pinned.Dequeue()
}

// runRunnable resumes the next local task. It reports whether there was one.
func (w *Worker) runRunnable() bool {
	t, ok := w.next()
	if !ok {
		return false
	}
	w.resume(t)
	return true
}

func (w *Worker) resume(t *Task) {
	w.current.Store(t)
	w.m.emit(StatusDispatch, t.ID, w.id, "")
	reason := t.resumeInto(w)
	w.current.Store(nil)

	switch reason {
	case StateBlocked:
		w.blocked.Add(t)
		w.m.metrics.RecordBlocked(w.id, w.blocked.Size())
		w.m.emit(StatusBlock, t.ID, w.id, "")
	case StateGroupWait:
		w.m.emit(StatusPark, t.ID, w.id, "")
	case StateTerminated:
		w.m.finished(w, t)
	}
	w.m.metrics.RecordQueueDepth(w.id, w.Pending())
}

// runBlocked polls every blocked task once and requeues those whose
// operation completed. It reports whether any did.
func (w *Worker) runBlocked() bool {
	if w.blocked.Empty() {
		return false
	}

	still := arraylist.New()
	woke := false
	it := w.blocked.Iterator()
	for it.Next() {
		t := it.Value().(*Task)
		if !t.pending.Poll() {
			still.Add(t)
			continue
		}
		t.pending = nil
		t.wake()
		w.addRunnable(t)
		w.m.emit(StatusWake, t.ID, w.id, "blocked")
		woke = true
	}
	w.blocked = still
	w.m.metrics.RecordBlocked(w.id, still.Size())
	return woke
}

// loop is the worker's run loop: local work, then blocked polls, then
// stealing, then an idle wait bounded by the mediator's tick.
func (w *Worker) loop() {
	for {
		if w.runRunnable() {
			continue
		}
		if w.runBlocked() {
			continue
		}
		if w.m.steal(w) {
			continue
		}
		if w.m.drained() {
			return
		}
		<-w.wake
	}
}

// drain runs local and blocked work on the calling goroutine until neither
// makes progress. It never steals or sleeps.
func (w *Worker) drain() {
	for w.runRunnable() || w.runBlocked() {
	}
}
