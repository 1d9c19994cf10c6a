package capture

import (
	"context"
	"errors"
	"io"
	"math"
	"sync/atomic"
	"time"

	"github.com/pavelkim/flowprobe/internal/stats"
	"github.com/pavelkim/flowprobe/internal/task"
)

// UnboundedBatch is the sentinel maxPerBatch value (-1 on the CLI) that
// means "drain until the source has nothing left".
const UnboundedBatch = -1

// Logger is the narrow logging surface the capture stage needs.
type Logger interface {
	Warn(msg string, fields ...interface{})
}

// Stage is the capture stage (C1 + C4): it owns one Source and, on each
// activation, parses up to maxPerBatch frames and routes them into a
// fresh Task.
type Stage struct {
	Source      Source
	WorkerCount int
	MaxPerBatch int64 // UnboundedBatch (-1) means drain the source
	HashSize    uint32
	ShardSize   uint32 // HashSize / WorkerCount

	// Terminated is the shared termination flag SIGINT sets; only this
	// stage's goroutine ever reads it.
	Terminated *atomic.Bool

	Log   Logger
	Stats *stats.Counters

	eofEmitted      bool
	sourceExhausted bool
}

func (s *Stage) batchLimit() uint64 {
	if s.MaxPerBatch < 0 {
		return math.MaxUint32
	}
	return uint64(s.MaxPerBatch)
}

// Activate runs one capture activation:
//
//  1. If termination is signaled or the source is exhausted, emit an EOF
//     task and report that no further activations should run.
//  2. Allocate a task, stamp it with the coarse per-batch timestamp.
//  3. Pull up to maxPerBatch packets non-blocking, parsing and routing
//     each one; an activation that reads zero packets still returns its
//     (empty) task, since downstream expiry is time-driven.
//  4. Return the task.
func (s *Stage) Activate(ctx context.Context) (t *task.Task, more bool) {
	if s.eofEmitted {
		return nil, false
	}

	if s.sourceExhausted || (s.Terminated != nil && s.Terminated.Load()) {
		s.eofEmitted = true
		return s.eofTask(), false
	}

	now := time.Now().Unix()
	t = task.New(s.WorkerCount, now)

	limit := s.batchLimit()
	readAny := false
	for i := uint64(0); i < limit; i++ {
		data, _, err := s.Source.ReadPacketData(ctx)
		if err != nil {
			if errors.Is(err, ErrNoPacket) {
				break // nothing more this activation; still return the task
			}
			if errors.Is(err, io.EOF) {
				s.sourceExhausted = true
				break // deliver this (possibly partial) task first; next
				// activation's precondition check emits the EOF task.
			}
			if s.Log != nil {
				s.Log.Warn("capture: read error, skipping rest of batch", "error", err)
			}
			break
		}
		readAny = true
		if s.Stats != nil {
			s.Stats.PacketsSeen.Add(1)
		}

		rec, ok := ParseRecord(data, now, s.HashSize)
		if !ok {
			if s.Stats != nil {
				s.Stats.ParseDropped.Add(1)
			}
			continue
		}
		workerID := int(rec.HashID / s.ShardSize)
		t.Route(workerID, rec)
	}

	if s.sourceExhausted && !readAny {
		// The source had nothing left from the very start of this
		// activation: there is no point scheduling another one before
		// the EOF task, so signal more=false a call early.
		return t, false
	}
	return t, true
}

func (s *Stage) eofTask() *task.Task {
	t := task.New(s.WorkerCount, time.Now().Unix())
	t.EOF = true
	return t
}
