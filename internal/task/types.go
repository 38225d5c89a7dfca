// Package task implements the task executor and scheduler:
// per-task sink files, probe-worker fan-out, progress checkpointing, and
// FIFO dispatch with Fresh/Resumed handling (Kind Completed has no dispatch
// branch of its own).
package task

import "time"

// Kind distinguishes how a task's input was assembled.
type Kind int

const (
	Fresh Kind = iota
	Resumed
	Completed
)

// Status is the runtime lifecycle of a Result.
type Status int

const (
	NotStarted Status = iota
	Ongoing
	Stopped
	Erred
	TaskCompleted
	AutoStopped
)

func (s Status) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Ongoing:
		return "ongoing"
	case Stopped:
		return "stopped"
	case Erred:
		return "erred"
	case TaskCompleted:
		return "completed"
	case AutoStopped:
		return "auto_stopped"
	default:
		return "unknown"
	}
}

// Counts is the per-outcome tally routed to the ok/not_ok/unknown sinks.
type Counts struct {
	OK      uint32
	NotOK   uint32
	Unknown uint32
}

// Files is the set of sink/input paths an AtomicTask carries. Fresh tasks
// have empty paths until first open; Resumed tasks have all four set.
type Files struct {
	Input   string
	OK      string
	OK2     string
	NotOK   string
	Unknown string
}

// AtomicTask is the unit the scheduler's FIFO carries.
// ScheduledAt and SchedulerID record when, and by which scheduler
// instance, the task was dequeued.
type AtomicTask struct {
	Kind           Kind
	TaskID         uint32
	WebsiteID      uint32
	ScansPerIP     uint32
	Processed      uint32
	Total          uint32
	Counts         Counts
	Files          Files
	WebsiteAddress string
	NumberIDs      []uint32
	ScheduledAt    time.Time
	SchedulerID    uint32
	// CheckpointPath is set for a Resumed(file-reference) task; empty for
	// Fresh or Resumed(free).
	CheckpointPath string
	// Free marks a Resumed(free) task: its input is rebuilt from NumberIDs
	// like Fresh. Processed and Counts are not carried into the Executor,
	// whose counters start at zero.
	Free bool
}

// Result is the runtime mirror of AtomicTask plus operation status and the
// two cancellation-related booleans. DataIDs is the comma-joined
// upload-file id list, persisted alongside progress so a restarted control
// plane can show what the task was built from.
type Result struct {
	TaskID      uint32
	WebsiteID   uint32
	ScansPerIP  uint32
	Processed   uint32
	Total       uint32
	Counts      Counts
	IPUsed      uint32
	DataIDs     string
	Status      Status
	Stopped     bool
	SavingState bool
}

// StoppedTaskRow is what the executor persists when a task stops with
// saving enabled.
type StoppedTaskRow struct {
	TaskID         uint32
	CheckpointPath string
	Files          Files
}

// ErredTaskRow is what the scheduler persists when a task's executor loop
// itself fails.
type ErredTaskRow struct {
	TaskID uint32
	Reason string
}

// ProgressSink is the narrow slice of a database collaborator the executor
// and scheduler need: recording progress, persisting stopped and erred
// tasks. A concrete implementation lives in internal/store; this
// interface is declared here, not imported from there, so internal/task has
// no dependency on the storage backend.
type ProgressSink interface {
	WriteProgress(taskID uint32, processed, ipUsed uint32, status Status) error
	PersistStopped(row StoppedTaskRow) error
	PersistErred(row ErredTaskRow) error
	PersistCompleted(taskID uint32) error
}
