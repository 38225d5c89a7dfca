package dashboard

import (
	"context"
	"time"

	"github.com/grishkovelli/phonewatch/internal/proxypool"
	"github.com/grishkovelli/phonewatch/internal/task"
)

// PoolStats is a point-in-time view of one proxypool.Pool, shaped from its
// already-exported accessors rather than reaching into its internals.
type PoolStats struct {
	WebsiteID uint32 `json:"website_id"`
	Len       int    `json:"len"`
	TotalUsed uint64 `json:"total_used"`
	ErrorFlag bool   `json:"error_flag"`
}

// Snapshot is one broadcast "stat" payload: every tracked pool plus which
// task the scheduler is currently running.
type Snapshot struct {
	Pools         []PoolStats `json:"pools"`
	CurrentTaskID uint32      `json:"current_task_id"`
	TaskRunning   bool        `json:"task_running"`
}

// PoolSnapshot reads pool's current counters.
func PoolSnapshot(webID uint32, pool *proxypool.Pool) PoolStats {
	return PoolStats{
		WebsiteID: webID,
		Len:       pool.Len(),
		TotalUsed: pool.TotalUsed(),
		ErrorFlag: pool.ErrorFlag(),
	}
}

// BroadcastStats periodically publishes a Snapshot built from pools and
// sched until ctx is cancelled.
func BroadcastStats(ctx context.Context, h *Hub, pools map[uint32]*proxypool.Pool, sched *task.Scheduler, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := Snapshot{Pools: make([]PoolStats, 0, len(pools))}
			for webID, pool := range pools {
				snap.Pools = append(snap.Pools, PoolSnapshot(webID, pool))
			}
			if id, ok := sched.CurrentTaskID(); ok {
				snap.CurrentTaskID = id
				snap.TaskRunning = true
			}
			h.Publish("stat", snap)
		}
	}
}
