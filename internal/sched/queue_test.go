package sched

import (
	"sync"
	"sync/atomic"
	"testing"
)

type rainbow struct {
	name string
	when int
}

func TestRunQueue_FIFO(t *testing.T) {
	q := NewRunQueue[*rainbow]()
	const total = 128
	for i := 0; i < total; i++ {
		q.Enqueue(&rainbow{name: "multiColor", when: i})
	}

	for i := 0; i < 55; i++ {
		r, ok := q.Dequeue()
		if !ok {
			t.Fatalf("dequeue %d: queue unexpectedly empty", i)
		}
		if r.when != i {
			t.Fatalf("dequeue %d: got when=%d", i, r.when)
		}
	}
	if q.Len() != total-55 {
		t.Fatalf("Len = %d, want %d", q.Len(), total-55)
	}
}

func TestRunQueue_Interleaved(t *testing.T) {
	q := NewRunQueue[*rainbow]()
	const (
		total      = 128
		firstPart  = 55
		secondPart = total - firstPart
	)

	for i := 0; i < total; i++ {
		q.Enqueue(&rainbow{name: "multiColor", when: i})
	}
	for i := 0; i < firstPart; i++ {
		if r, _ := q.Dequeue(); r.when != i {
			t.Fatalf("first part %d: got when=%d", i, r.when)
		}
	}
	for i := 0; i < firstPart; i++ {
		q.Enqueue(&rainbow{name: "multiColor", when: i + 1000})
	}
	for i := 0; i < secondPart; i++ {
		if r, _ := q.Dequeue(); r.when != i+firstPart {
			t.Fatalf("second part %d: got when=%d, want %d", i, r.when, i+firstPart)
		}
	}
	for i := 0; i < firstPart; i++ {
		if r, _ := q.Dequeue(); r.when != i+1000 {
			t.Fatalf("new part %d: got when=%d, want %d", i, r.when, i+1000)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("queue should be empty")
	}
}

func TestRunQueue_EmptyDequeue(t *testing.T) {
	q := NewRunQueue[int]()
	if v, ok := q.Dequeue(); ok || v != 0 {
		t.Fatalf("Dequeue on empty queue = (%d, %v)", v, ok)
	}
	if _, ok := q.Front(); ok {
		t.Fatal("Front on empty queue reported an element")
	}
}

func TestRunQueue_DequeueHalf(t *testing.T) {
	for k := 0; k <= 200; k++ {
		q := NewRunQueue[int]()
		for i := 0; i < k; i++ {
			q.Enqueue(i)
		}

		half := q.DequeueHalf()
		if half.Len()+q.Len() != k {
			t.Fatalf("k=%d: sizes %d+%d do not sum to k", k, half.Len(), q.Len())
		}
		if k >= 2 && (half.Len() == 0 || q.Len() == 0) {
			t.Fatalf("k=%d: split left an empty side (%d, %d)", k, half.Len(), q.Len())
		}
		if k == 1 && half.Len() != 1 {
			t.Fatalf("k=1: single element should move to the returned queue")
		}

		seen := make(map[int]bool, k)
		for _, part := range []*RunQueue[int]{half, q} {
			prev := -1
			for {
				v, ok := part.Dequeue()
				if !ok {
					break
				}
				if seen[v] {
					t.Fatalf("k=%d: value %d duplicated across split", k, v)
				}
				if v <= prev {
					t.Fatalf("k=%d: half not in arrival order (%d after %d)", k, v, prev)
				}
				seen[v] = true
				prev = v
			}
		}
		if len(seen) != k {
			t.Fatalf("k=%d: %d values survived the split", k, len(seen))
		}
	}
}

func TestRunQueue_DequeueHalfTakesOlderElements(t *testing.T) {
	q := NewRunQueue[int]()
	for i := 0; i < 64; i++ {
		q.Enqueue(i)
	}
	half := q.DequeueHalf()

	first, _ := q.Dequeue()
	last := -1
	for {
		v, ok := half.Dequeue()
		if !ok {
			break
		}
		last = v
	}
	if last >= first {
		t.Fatalf("stolen half should precede the kept half: stolen up to %d, kept from %d", last, first)
	}
}

func TestRunQueue_EnqueueAfterSplit(t *testing.T) {
	q := NewRunQueue[int]()
	for i := 0; i < 10; i++ {
		q.Enqueue(i)
	}
	half := q.DequeueHalf()
	half.Enqueue(100)

	var got []int
	for {
		v, ok := half.Dequeue()
		if !ok {
			break
		}
		got = append(got, v)
	}
	if got[len(got)-1] != 100 {
		t.Fatalf("element enqueued after split should come last, got %v", got)
	}
}

func TestRunQueue_ConcurrentSteal(t *testing.T) {
	const total = 20000
	q := NewRunQueue[int]()

	var (
		mu       sync.Mutex
		seen     = make(map[int]int, total)
		stop     atomic.Bool
		thieves  sync.WaitGroup
		observed atomic.Int64
	)
	record := func(v int) {
		mu.Lock()
		seen[v]++
		mu.Unlock()
		observed.Add(1)
	}

	for i := 0; i < 4; i++ {
		thieves.Add(1)
		go func() {
			defer thieves.Done()
			for !stop.Load() {
				batch := q.DequeueHalf()
				for {
					v, ok := batch.Dequeue()
					if !ok {
						break
					}
					record(v)
				}
			}
		}()
	}

	for i := 0; i < total; i++ {
		q.Enqueue(i)
		if i%3 == 0 {
			if v, ok := q.Dequeue(); ok {
				record(v)
			}
		}
	}
	stop.Store(true)
	thieves.Wait()
	for {
		v, ok := q.Dequeue()
		if !ok {
			break
		}
		record(v)
	}

	if observed.Load() != total {
		t.Fatalf("observed %d elements, want %d", observed.Load(), total)
	}
	for v, n := range seen {
		if n != 1 {
			t.Fatalf("value %d observed %d times", v, n)
		}
	}
}
