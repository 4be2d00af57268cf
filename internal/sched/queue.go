// internal/sched/queue.go

package sched

import (
	"sync"
	"sync/atomic"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/emirpasic/gods/utils"
)

// RunQueue is a FIFO of runnable elements kept in a red-black tree keyed by
// arrival sequence. The owning worker enqueues and dequeues while thieves on
// other workers split it with DequeueHalf; all three are safe to call
// concurrently.
type RunQueue[T any] struct {
	mu  sync.Mutex
	rbt *redblacktree.Tree // arrival sequence -> element
	seq *atomic.Uint64     // may be shared with sibling queues of the same worker
}

// NewRunQueue creates an empty queue with its own sequence counter.
func NewRunQueue[T any]() *RunQueue[T] {
	return newRunQueue[T](new(atomic.Uint64))
}

func newRunQueue[T any](seq *atomic.Uint64) *RunQueue[T] {
	return &RunQueue[T]{
		rbt: redblacktree.NewWith(utils.UInt64Comparator),
		seq: seq,
	}
}

// Enqueue appends v behind everything already queued.
func (q *RunQueue[T]) Enqueue(v T) {
	q.mu.Lock()
	q.rbt.Put(q.seq.Add(1), v)
	q.mu.Unlock()
}

// Dequeue removes the earliest-arrived element. ok is false when the queue is
// empty, which callers read as "no work".
func (q *RunQueue[T]) Dequeue() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	node := q.rbt.Left()
	if node == nil {
		return v, false
	}
	q.rbt.Remove(node.Key)
	return node.Value.(T), true
}

// Front reports the arrival sequence of the element Dequeue would return.
func (q *RunQueue[T]) Front() (uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	node := q.rbt.Left()
	if node == nil {
		return 0, false
	}
	return node.Key.(uint64), true
}

// DequeueHalf moves roughly the older half of the queue into a new queue and
// returns it. The split point is the tree root, so the halves are only as
// even as the tree is balanced. With two or more elements both halves are
// non-empty; a single element always goes to the returned queue.
func (q *RunQueue[T]) DequeueHalf() *RunQueue[T] {
	half := NewRunQueue[T]()

	q.mu.Lock()
	defer q.mu.Unlock()

	root := q.rbt.Root
	if root == nil {
		return half
	}
	pivot := root.Key.(uint64)
	if root.Left == nil {
		// nothing older than the root: take the root itself
		pivot++
	}

	var moved []uint64
	it := q.rbt.Iterator()
	for it.Next() {
		key := it.Key().(uint64)
		if key >= pivot {
			break
		}
		half.rbt.Put(key, it.Value())
		moved = append(moved, key)
	}
	for _, key := range moved {
		q.rbt.Remove(key)
	}
	if n := len(moved); n > 0 {
		half.seq.Store(moved[n-1])
	}
	return half
}

// Len returns the number of queued elements.
func (q *RunQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.rbt.Size()
}
