// internal/sched/mediator.go

package sched

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Mediator owns every Worker and coordinates submission, stealing and the
// runtime lifecycle. Construct it with New, spawn the initial tasks, then
// call Run; Terminate (or cancelling Run's context) shuts it down once all
// spawned tasks have finished.
type Mediator struct {
	cfg     Config
	workers []*Worker
	log     *slog.Logger
	metrics Metrics
	clock   *TickClock

	live    atomic.Int64  // spawned tasks not yet terminated
	rr      atomic.Uint64 // round robin for submissions from outside a task
	victim  atomic.Uint64 // rotating start of the steal sweep
	running atomic.Bool

	stopOnce sync.Once
	stop     chan struct{}

	// event stream
	evMu      sync.RWMutex
	evClosed  bool
	events    chan StatusEvent
	out       io.Writer
	csvFile   *os.File
	csvWriter *csv.Writer
}

// Option customizes a Mediator.
type Option func(*Mediator)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mediator) { m.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt Metrics) Option {
	return func(m *Mediator) { m.metrics = mt }
}

// WithEventWriter prints one line per status event to w when tracing is on.
func WithEventWriter(w io.Writer) Option {
	return func(m *Mediator) { m.out = w }
}

// New creates a mediator with cfg.Workers idle workers.
func New(cfg Config, opts ...Option) *Mediator {
	cfg = cfg.sanitize()
	m := &Mediator{
		cfg:     cfg,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: noopMetrics{},
		clock:   NewTickClock(1),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if cfg.Trace {
		m.events = make(chan StatusEvent, cfg.EventBuffer)
	}
	m.workers = make([]*Worker, cfg.Workers)
	for i := range m.workers {
		m.workers[i] = newWorker(i, m)
	}
	return m
}

// EnableCSVLogging opens the given file path for CSV logging of events and
// turns tracing on. Must be called before Run().
func (m *Mediator) EnableCSVLogging(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	w := csv.NewWriter(f)

	// write header
	w.Write([]string{"timestamp", "tick", "event", "task_id", "worker", "detail"})
	w.Flush()
	m.csvFile = f
	m.csvWriter = w
	if m.events == nil {
		m.events = make(chan StatusEvent, m.cfg.EventBuffer)
	}
	return nil
}

// Workers exposes the per-thread schedulers, mainly for inspection.
func (m *Mediator) Workers() []*Worker { return m.workers }

// Live returns the number of spawned tasks that have not terminated.
func (m *Mediator) Live() int64 { return m.live.Load() }

// Go submits fn from outside the runtime.
func (m *Mediator) Go(fn TaskFunc) (*Handle, error) {
	return m.submit(fn, false)
}

// GoPure submits fn from outside the runtime as a task that stays on the
// worker it is assigned to.
func (m *Mediator) GoPure(fn TaskFunc) (*Handle, error) {
	return m.submit(fn, true)
}

func (m *Mediator) submit(fn TaskFunc, pure bool) (*Handle, error) {
	m.live.Add(1)
	if m.stopping() {
		m.live.Add(-1)
		return nil, ErrTerminated
	}
	w := m.workers[m.rr.Add(1)%uint64(len(m.workers))]
	return m.spawn(w, fn, pure), nil
}

// spawn creates a task homed on w. The caller accounted for it in live.
func (m *Mediator) spawn(w *Worker, fn TaskFunc, pure bool) *Handle {
	t := newTask(m, fn, pure)
	t.worker.Store(w)
	m.metrics.RecordSpawn(pure)
	kind := "stealable"
	if pure {
		kind = "pure"
	}
	m.emit(StatusSpawn, t.ID, w.id, kind)
	w.addRunnable(t)
	return &Handle{t: t}
}

// addRunnable requeues a woken task on the worker it last ran on.
func (m *Mediator) addRunnable(t *Task) {
	w := t.worker.Load()
	if w == nil {
		w = m.workers[m.rr.Add(1)%uint64(len(m.workers))]
		t.worker.Store(w)
	}
	m.emit(StatusWake, t.ID, w.id, "group")
	w.addRunnable(t)
}

// steal sweeps the other workers, starting at a rotating offset, and moves
// half of the first non-empty stealable queue it finds onto thief.
func (m *Mediator) steal(thief *Worker) bool {
	n := len(m.workers)
	if n < 2 {
		return false
	}

	start := int(m.victim.Add(1) % uint64(n))
	for i := 0; i < n; i++ {
		victim := m.workers[(start+i)%n]
		if victim == thief {
			continue
		}
		batch := victim.runnable.DequeueHalf()
		stolen := batch.Len()
		if stolen == 0 {
			continue
		}
		for {
			t, ok := batch.Dequeue()
			if !ok {
				break
			}
			t.worker.Store(thief)
			thief.runnable.Enqueue(t)
		}
		m.metrics.RecordSteal(thief.id, victim.id, stolen)
		m.emit(StatusSteal, 0, thief.id, fmt.Sprintf("victim=%d n=%d", victim.id, stolen))
		m.log.Debug("stole tasks", "thief", thief.id, "victim", victim.id, "n", stolen)
		return true
	}
	return false
}

func (m *Mediator) finished(w *Worker, t *Task) {
	err := t.Err()
	m.metrics.RecordFinish(err != nil)

	var pe *PanicError
	if errors.As(err, &pe) {
		m.log.Warn("task panicked", "task", t.ID, "worker", w.id, "panic", pe.Value)
	}
	detail := "ok"
	if err != nil {
		detail = "failed"
	}
	m.emit(StatusFinish, t.ID, w.id, detail)

	if m.live.Add(-1) == 0 && m.stopping() {
		m.notifyAll()
	}
}

func (m *Mediator) stopping() bool {
	select {
	case <-m.stop:
		return true
	default:
		return false
	}
}

// drained reports whether a worker may leave its loop.
func (m *Mediator) drained() bool {
	return m.stopping() && m.live.Load() == 0
}

func (m *Mediator) notifyAll() {
	for _, w := range m.workers {
		w.notify()
	}
}

// Terminate asks the runtime to shut down. Workers keep running until every
// task spawned so far has terminated; new submissions from outside a task
// are rejected with ErrTerminated.
func (m *Mediator) Terminate() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.log.Info("terminate requested", "live", m.live.Load())
		m.notifyAll()
	})
}

// Run drives all workers on their own OS threads and blocks until they have
// drained after Terminate. Cancelling ctx is equivalent to Terminate.
func (m *Mediator) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	consumed := make(chan struct{})
	go m.consume(consumed)

	m.clock.Start(time.Duration(m.cfg.TickMS) * time.Millisecond)
	ticked := make(chan struct{})
	go func() {
		defer close(ticked)
		// periodic wake so idle workers re-check for remote work
		for range m.clock.Ch {
			m.notifyAll()
		}
	}()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			m.Terminate()
		case <-done:
		}
	}()

	m.log.Info("runtime started", "workers", len(m.workers), "tick_ms", m.cfg.TickMS)
	var wg sync.WaitGroup
	for _, w := range m.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			m.log.Debug("worker started", "worker", w.id)
			w.loop()
			m.log.Debug("worker stopped", "worker", w.id)
		}(w)
	}
	wg.Wait()
	close(done)

	m.clock.Stop()
	<-ticked
	m.closeEvents()
	<-consumed

	if m.csvFile != nil {
		m.csvWriter.Flush()
		m.csvFile.Close()
	}
	m.log.Info("runtime stopped", "ticks", m.clock.Count())
	return nil
}

// emit queues a status event without ever blocking the caller.
func (m *Mediator) emit(kind StatusKind, id TaskID, worker int, detail string) {
	if m.events == nil {
		return
	}
	ev := StatusEvent{
		Time:   time.Now(),
		Tick:   m.clock.Count(),
		Kind:   kind,
		TaskID: id,
		Worker: worker,
		Detail: detail,
	}

	m.evMu.RLock()
	defer m.evMu.RUnlock()
	if m.evClosed {
		return
	}
	select {
	case m.events <- ev:
	default:
		m.metrics.RecordEventDropped()
	}
}

func (m *Mediator) closeEvents() {
	if m.events == nil {
		return
	}
	m.evMu.Lock()
	m.evClosed = true
	close(m.events)
	m.evMu.Unlock()
}

func (m *Mediator) consume(done chan<- struct{}) {
	defer close(done)
	if m.events == nil {
		return
	}
	for ev := range m.events {
		m.handleEvent(ev)
	}
}

func (m *Mediator) handleEvent(ev StatusEvent) {
	if m.out != nil {
		// an auxiliary function to center the event kind in the output
		center := func(str string, width int) string {
			spaces := int(float64(width-len(str)) / 2)
			return strings.Repeat(" ", spaces) + str + strings.Repeat(" ", width-(spaces+len(str)))
		}

		fmt.Fprintf(m.out, "%s = Tick: %07d [%s] => Worker: %02d, Task: %04d %s\n",
			ev.Time.Format("Jan 02 15:04:05.000"),
			ev.Tick,
			center(ev.Kind.String(), 12),
			ev.Worker,
			ev.TaskID,
			ev.Detail,
		)
	}

	// CSV output
	if m.csvWriter != nil {
		rec := []string{
			ev.Time.Format(time.RFC3339Nano),
			strconv.FormatInt(ev.Tick, 10),
			ev.Kind.String(),
			strconv.FormatUint(uint64(ev.TaskID), 10),
			strconv.Itoa(ev.Worker),
			ev.Detail,
		}
		m.csvWriter.Write(rec)
	}
}
