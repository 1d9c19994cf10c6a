// Package task defines the message passed along the pipeline: one per
// capture activation, carrying per-worker new-flow batches and a shared
// export batch.
package task

import "github.com/pavelkim/flowprobe/internal/flow"

// Task is created by the capture stage, mutated by every aggregation
// stage it passes through, and consumed by the export stage.
type Task struct {
	// Timestamp is the coarse wall-clock second captured at batch start;
	// every record parsed during this activation shares it as First.
	Timestamp int64

	// ToAdd holds one sub-batch of freshly parsed records per worker,
	// indexed by the worker id the record's HashID routes to.
	ToAdd [][]flow.Record

	// ToExport accumulates records the aggregation stages have expired
	// out of their shards during this activation.
	ToExport []flow.Record

	// EOF marks the final task of the run: aggregation stages must flush
	// their shard (instead of an incremental sweep) and the export stage
	// must emit a final, possibly partial, PDU.
	EOF bool
}

// New allocates a Task with workerCount empty sub-queues.
func New(workerCount int, timestamp int64) *Task {
	t := &Task{
		Timestamp: timestamp,
		ToAdd:     make([][]flow.Record, workerCount),
	}
	return t
}

// Route appends a parsed record to the sub-queue of the worker that owns
// its hash bucket.
func (t *Task) Route(workerID int, r flow.Record) {
	t.ToAdd[workerID] = append(t.ToAdd[workerID], r)
}
