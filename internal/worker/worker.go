// Package worker implements the aggregation stage: each instance owns
// exactly one shard of the global flow hash space and is the only
// goroutine ever allowed to read or write it.
package worker

import (
	"time"

	"github.com/pavelkim/flowprobe/internal/shard"
	"github.com/pavelkim/flowprobe/internal/stats"
	"github.com/pavelkim/flowprobe/internal/task"
)

// Worker is one replica of the aggregation stage (C5).
type Worker struct {
	ID                int
	Shard             *shard.Table
	FlowsPerTaskCheck int64 // -1 means unbounded
	Stats             *stats.Counters
}

// New builds a worker owning a fresh shard sized bucketsPerShard.
func New(id int, bucketsPerShard, maxActiveFlows uint32, idleTimeout, lifetimeTimeout int64, flowsPerTaskCheck int64) *Worker {
	return &Worker{
		ID:                id,
		Shard:             shard.New(bucketsPerShard, maxActiveFlows, idleTimeout, lifetimeTimeout),
		FlowsPerTaskCheck: flowsPerTaskCheck,
	}
}

// Process runs one activation of the aggregation stage on t: upsert
// this worker's sub-queue, then either flush (on EOF) or run a bounded
// incremental expiry sweep, appending expired records to the task's
// shared export queue.
func (w *Worker) Process(t *task.Task) {
	before := len(t.ToExport)

	incoming := t.ToAdd[w.ID]
	w.Shard.UpsertBatch(incoming, &t.ToExport)

	if t.EOF {
		w.Shard.Flush(&t.ToExport)
	} else {
		now := time.Now().Unix()
		w.Shard.ExpireSweep(w.FlowsPerTaskCheck, &t.ToExport, now)
	}

	if w.Stats != nil {
		if n := len(t.ToExport) - before; n > 0 {
			w.Stats.FlowsExpired.Add(uint64(n))
		}
	}
}
