package sched

// Metrics receives runtime counters. Implementations must be safe for
// concurrent use; every worker reports into the same sink.
type Metrics interface {
	RecordSpawn(pure bool)
	RecordFinish(failed bool)
	RecordSteal(thief, victim, n int)
	RecordQueueDepth(worker, depth int)
	RecordBlocked(worker, n int)
	RecordEventDropped()
}

type noopMetrics struct{}

func (noopMetrics) RecordSpawn(bool)          {}
func (noopMetrics) RecordFinish(bool)         {}
func (noopMetrics) RecordSteal(int, int, int) {}
func (noopMetrics) RecordQueueDepth(int, int) {}
func (noopMetrics) RecordBlocked(int, int)    {}
func (noopMetrics) RecordEventDropped()       {}
