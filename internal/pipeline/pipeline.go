// Package pipeline wires the capture, aggregation, and export stages
// into a staged pipeline: capture feeds a chain of per-worker
// aggregation stages, which feeds export, each stage its own goroutine
// connected by bounded channels — or, in -sequential mode, all three
// kinds of stage driven in turn on a single goroutine.
package pipeline

import (
	"context"
	"runtime"
	"sync"

	"github.com/pavelkim/flowprobe/internal/capture"
	"github.com/pavelkim/flowprobe/internal/export"
	"github.com/pavelkim/flowprobe/internal/stats"
	"github.com/pavelkim/flowprobe/internal/task"
	"github.com/pavelkim/flowprobe/internal/worker"
)

// chanDepth is the bound on every inter-stage channel. A depth of 32
// lets a slow downstream stage absorb a few activations' worth of burst
// without the upstream stage blocking immediately.
const chanDepth = 32

// Logger is the narrow logging surface the pipeline driver needs.
type Logger interface {
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
}

// Pipeline owns every stage of one probe run.
type Pipeline struct {
	Capture  *capture.Stage
	Workers  []*worker.Worker
	Exporter *export.Exporter

	// IndependentExporter runs export as its own stage/goroutine when
	// true (the default); when false the exporter is fused into the
	// final worker's goroutine.
	IndependentExporter bool

	// Sequential collapses every stage onto the calling goroutine —
	// useful for deterministic single-core runs and for tests.
	Sequential bool

	Stats *stats.Counters
	Log   Logger
}

// Run drives the pipeline to completion: until the capture stage's EOF
// task has propagated through every stage, or ctx is canceled.
func (p *Pipeline) Run(ctx context.Context) {
	if p.Sequential {
		p.runSequential(ctx)
		return
	}
	p.runStaged(ctx)
}

func (p *Pipeline) runSequential(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		t, more := p.Capture.Activate(ctx)
		for _, w := range p.Workers {
			w.Process(t)
		}
		if err := p.Exporter.Process(t); err != nil && p.Log != nil {
			p.Log.Warn("export: activation failed", "error", err)
		}
		p.recordExportStats()
		if !more {
			return
		}
	}
}

// runStaged runs capture, one goroutine per worker, and (optionally) the
// exporter as a chain of stages joined by bounded channels, each pinned
// to its own OS thread to model per-stage thread affinity.
func (p *Pipeline) runStaged(ctx context.Context) {
	stageCount := len(p.Workers)
	if p.IndependentExporter {
		stageCount++
	}

	chans := make([]chan *task.Task, stageCount+1)
	for i := range chans {
		chans[i] = make(chan *task.Task, chanDepth)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(chans[0])
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		for {
			if ctx.Err() != nil {
				return
			}
			t, more := p.Capture.Activate(ctx)
			p.send(chans[0], t)
			if !more {
				return
			}
		}
	}()

	for i, w := range p.Workers {
		in, out := chans[i], chans[i+1]
		w := w
		last := i == len(p.Workers)-1

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(out)
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			for t := range in {
				w.Process(t)
				if last && !p.IndependentExporter {
					if err := p.Exporter.Process(t); err != nil && p.Log != nil {
						p.Log.Warn("export: activation failed", "error", err)
					}
					p.recordExportStats()
					continue
				}
				p.send(out, t)
				if t.EOF {
					return
				}
			}
		}()
	}

	if p.IndependentExporter {
		in := chans[stageCount-1]
		wg.Add(1)
		go func() {
			defer wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			for t := range in {
				if err := p.Exporter.Process(t); err != nil && p.Log != nil {
					p.Log.Warn("export: activation failed", "error", err)
				}
				p.recordExportStats()
				if t.EOF {
					return
				}
			}
		}()
	}

	wg.Wait()
}

// send delivers t to ch, counting (once per call) into Stats whenever
// the channel is full enough that the non-blocking attempt fails: a
// spin-retry push with a counted event for telemetry.
func (p *Pipeline) send(ch chan<- *task.Task, t *task.Task) {
	select {
	case ch <- t:
		return
	default:
	}
	if p.Stats != nil {
		p.Stats.BackpressureN.Add(1)
	}
	ch <- t
}

// recordExportStats mirrors the exporter's cumulative totals into the
// shared counters after every activation, so the periodic reporter
// reflects PDUs sent and records dropped by the minimum-flow-size
// filter without the exporter needing to know about stats at all.
func (p *Pipeline) recordExportStats() {
	if p.Stats == nil {
		return
	}
	pdusSent, recordsDropped := p.Exporter.Stats()
	p.Stats.PDUsSent.Store(pdusSent)
	p.Stats.RecordsDropped.Store(recordsDropped)
}
