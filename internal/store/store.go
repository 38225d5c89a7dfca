// Package store persists task progress, stopped-task checkpoints, uploaded
// number files, and website rows. internal/task.Executor and
// internal/task.Scheduler only need somewhere to report terminal state and
// resolve uploads by id, so Store stays a narrow interface with one
// concrete KV-backed implementation and one in-memory implementation for
// tests.
package store

import (
	"errors"
	"time"

	"github.com/grishkovelli/phonewatch/internal/task"
)

// ErrNotFound is returned by lookups (websites, uploads, stopped-task rows)
// when the requested key does not exist.
var ErrNotFound = errors.New("store: not found")

// Website is one row of the website table referenced by AtomicTask.WebsiteID.
type Website struct {
	ID      uint32
	Alias   string
	Address string
}

// TaskRow is the persisted projection of a task's current/terminal state.
type TaskRow struct {
	TaskID      uint32
	Status      task.Status
	Processed   uint32
	IPUsed      uint32
	Counts      task.Counts
	WebsiteID   uint32
	ScansPerIP  uint32
	ScheduledAt time.Time
}

// Store is the persistence surface consumed by internal/task and the
// control plane. It embeds task.ProgressSink and task.UploadResolver so a
// Store value can be handed directly to task.NewScheduler and
// task.Executor without an adapter shim.
type Store interface {
	task.ProgressSink
	task.UploadResolver

	// Website looks up a website row by id (control plane's GET /websites/:id).
	Website(id uint32) (Website, error)
	// PutWebsite inserts or replaces a website row.
	PutWebsite(w Website) error

	// PutUpload registers the on-disk path of an uploaded number file under
	// id, so a later Fresh/Resumed(free) task can resolve it.
	PutUpload(id uint32, path string) error

	// TaskRow returns the last-persisted row for taskID, for the control
	// plane's status endpoints and for resuming a task from its checkpoint.
	TaskRow(taskID uint32) (TaskRow, error)

	// StoppedTask returns the checkpoint row for a task previously stopped
	// with saving=true, so the scheduler can resume it as Resumed(file).
	StoppedTask(taskID uint32) (task.StoppedTaskRow, error)

	// Close releases any underlying connection.
	Close() error
}
