package prometheus

import (
	"errors"
	"fmt"
	"strconv"

	prom "github.com/prometheus/client_golang/prometheus"

	"cosched/internal/sched"
)

// MetricsExporter adapts sched.Metrics to Prometheus collectors.
type MetricsExporter struct {
	tasksSpawnedTotal  *prom.CounterVec
	tasksFinishedTotal *prom.CounterVec
	stealsTotal        *prom.CounterVec
	stolenTasksTotal   *prom.CounterVec
	queueDepth         *prom.GaugeVec
	blockedTasks       *prom.GaugeVec
	eventsDroppedTotal prom.Counter
}

var _ sched.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for sched.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "cosched"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}

	spawnedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_spawned_total",
		Help:      "Total number of spawned tasks.",
	}, []string{"kind"})
	finishedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_finished_total",
		Help:      "Total number of terminated tasks.",
	}, []string{"result"})
	stealsVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "steals_total",
		Help:      "Total number of successful steal attempts.",
	}, []string{"thief"})
	stolenVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "stolen_tasks_total",
		Help:      "Total number of tasks moved by stealing, by victim.",
	}, []string{"victim"})
	depthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Current local run queue depth.",
	}, []string{"worker"})
	blockedVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "blocked_tasks",
		Help:      "Tasks currently parked on a pollable operation.",
	}, []string{"worker"})
	dropped := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Status events dropped because the event buffer was full.",
	})

	var err error
	if spawnedVec, err = registerCollector(reg, spawnedVec); err != nil {
		return nil, err
	}
	if finishedVec, err = registerCollector(reg, finishedVec); err != nil {
		return nil, err
	}
	if stealsVec, err = registerCollector(reg, stealsVec); err != nil {
		return nil, err
	}
	if stolenVec, err = registerCollector(reg, stolenVec); err != nil {
		return nil, err
	}
	if depthVec, err = registerCollector(reg, depthVec); err != nil {
		return nil, err
	}
	if blockedVec, err = registerCollector(reg, blockedVec); err != nil {
		return nil, err
	}
	if dropped, err = registerCollector(reg, dropped); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		tasksSpawnedTotal:  spawnedVec,
		tasksFinishedTotal: finishedVec,
		stealsTotal:        stealsVec,
		stolenTasksTotal:   stolenVec,
		queueDepth:         depthVec,
		blockedTasks:       blockedVec,
		eventsDroppedTotal: dropped,
	}, nil
}

// RecordSpawn counts a spawned task by kind.
func (m *MetricsExporter) RecordSpawn(pure bool) {
	if m == nil {
		return
	}
	kind := "stealable"
	if pure {
		kind = "pure"
	}
	m.tasksSpawnedTotal.WithLabelValues(kind).Inc()
}

// RecordFinish counts a terminated task by outcome.
func (m *MetricsExporter) RecordFinish(failed bool) {
	if m == nil {
		return
	}
	result := "ok"
	if failed {
		result = "failed"
	}
	m.tasksFinishedTotal.WithLabelValues(result).Inc()
}

// RecordSteal records one successful steal of n tasks.
func (m *MetricsExporter) RecordSteal(thief, victim, n int) {
	if m == nil {
		return
	}
	m.stealsTotal.WithLabelValues(workerLabel(thief)).Inc()
	m.stolenTasksTotal.WithLabelValues(workerLabel(victim)).Add(float64(n))
}

// RecordQueueDepth records a worker's local queue depth.
func (m *MetricsExporter) RecordQueueDepth(worker, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(workerLabel(worker)).Set(float64(depth))
}

// RecordBlocked records how many tasks a worker has parked on pollables.
func (m *MetricsExporter) RecordBlocked(worker, n int) {
	if m == nil {
		return
	}
	m.blockedTasks.WithLabelValues(workerLabel(worker)).Set(float64(n))
}

// RecordEventDropped counts a dropped status event.
func (m *MetricsExporter) RecordEventDropped() {
	if m == nil {
		return
	}
	m.eventsDroppedTotal.Inc()
}

func workerLabel(id int) string {
	if id < 0 {
		return "none"
	}
	return strconv.Itoa(id)
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
