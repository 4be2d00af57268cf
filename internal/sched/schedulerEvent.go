// internal/sched/schedulerEvent.go

package sched

import (
	"time"
)

// StatusKind represents the type of runtime event
type StatusKind int

const (
	StatusIdle StatusKind = iota
	StatusSpawn
	StatusDispatch
	StatusPark  // task suspended in GroupWait
	StatusBlock // task suspended on a Pollable
	StatusWake
	StatusSteal
	StatusFinish
)

// StatusEvent is emitted on every scheduling decision while tracing is on.
type StatusEvent struct {
	Time   time.Time
	Tick   int64
	Kind   StatusKind
	TaskID TaskID
	Worker int // -1 when no worker is involved
	Detail string
}

func (sk StatusKind) String() string {
	switch sk {
	case StatusIdle:
		return "Idle"
	case StatusSpawn:
		return "Spawn"
	case StatusDispatch:
		return "Dispatch"
	case StatusPark:
		return "Park"
	case StatusBlock:
		return "Block"
	case StatusWake:
		return "Wake"
	case StatusSteal:
		return "Steal"
	case StatusFinish:
		return "Finish"
	default:
		return "Unknown"
	}
}
