package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pavelkim/flowprobe/internal/capture"
	"github.com/pavelkim/flowprobe/internal/config"
	"github.com/pavelkim/flowprobe/internal/export"
	"github.com/pavelkim/flowprobe/internal/logger"
	"github.com/pavelkim/flowprobe/internal/pipeline"
	"github.com/pavelkim/flowprobe/internal/stats"
	"github.com/pavelkim/flowprobe/internal/version"
	"github.com/pavelkim/flowprobe/internal/worker"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-version" {
		fmt.Printf("flowprobe version %s\n", version.GetVersion())
		return
	}

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "flowprobe: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&logger.Config{
		Level:         "info",
		ConsoleOutput: cfg.Logging.Console.Enabled || !cfg.Logging.File.Enabled,
		ConsoleLevel:  cfg.Logging.Console.Level,
		ConsoleFormat: cfg.Logging.Console.Format,
		FileOutput:    cfg.Logging.File.Enabled,
		FilePath:      cfg.Logging.File.Path,
		FileLevel:     cfg.Logging.File.Level,
		FileFormat:    cfg.Logging.File.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "flowprobe: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("starting flowprobe", "version", version.GetVersion(),
		"interfaces", cfg.Interfaces, "tzsp_listen", cfg.TZSPListen,
		"workers", cfg.Workers, "readers", cfg.Readers)

	source, err := openSource(cfg, log)
	if err != nil {
		log.Error("failed to open capture source", "error", err)
		os.Exit(1)
	}

	systemStart := time.Now()
	exp, err := export.New(export.Config{
		CollectorAddr: fmt.Sprintf("%s:%d", cfg.Collector, cfg.Port),
		TextLogPath:   cfg.OutputFile,
		QueueTimeout:  time.Duration(cfg.QueueTimeout) * time.Second,
		MinFlowSize:   cfg.MinFlowSize,
		SystemStart:   systemStart,
		Logger:        log,
	})
	if err != nil {
		log.Error("failed to initialize NetFlow exporter", "error", err)
		os.Exit(1)
	}
	defer exp.Close()

	counters := &stats.Counters{}

	shardSize := cfg.ShardSize()
	workers := make([]*worker.Worker, cfg.Workers)
	for i := range workers {
		workers[i] = worker.New(i, shardSize, cfg.MaxActiveFlows, cfg.IdleTimeout, cfg.LifetimeTimeout, cfg.FlowsPerTaskCheck)
		workers[i].Stats = counters
	}

	terminated := new(atomic.Bool)
	stage := &capture.Stage{
		Source:      source,
		WorkerCount: cfg.Workers,
		MaxPerBatch: cfg.MaxPerBatch,
		HashSize:    cfg.HashSize,
		ShardSize:   shardSize,
		Terminated:  terminated,
		Log:         log,
		Stats:       counters,
	}

	reporter := stats.NewReporter(counters, log)
	reporterDone := make(chan struct{})
	go reporter.Run(reporterDone)
	defer close(reporterDone)

	pipe := &pipeline.Pipeline{
		Capture:             stage,
		Workers:             workers,
		Exporter:            exp,
		IndependentExporter: cfg.IndependentExporter,
		Sequential:          cfg.Sequential,
		Stats:               counters,
		Log:                 log,
	}

	pinToCores(cfg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("received shutdown signal, finishing current activation")
		terminated.Store(true)
	}()

	ctx := context.Background()
	pipe.Run(ctx)

	if err := source.Close(); err != nil {
		log.Warn("error closing capture source", "error", err)
	}

	log.Info("flowprobe terminated", "pdus_sent", counters.PDUsSent.Load(),
		"flows_expired", counters.FlowsExpired.Load(),
		"records_dropped", counters.RecordsDropped.Load())
}

// openSource builds the capture.Source the pipeline will drive. When
// -tzspListen is set it is a single TZSPSource listening for tunneled
// frames from a remote access point; otherwise it is one
// AFPacketSource/PcapSource per configured interface and reader, merged
// with a capture.MultiReader when more than one is requested.
func openSource(cfg *config.Config, log *logger.Logger) (capture.Source, error) {
	if cfg.TZSPListen != "" {
		return capture.OpenTZSP(cfg.TZSPListen)
	}

	var sources []capture.Source
	promisc := !cfg.NoPromisc

	for _, iface := range cfg.Interfaces {
		for r := 0; r < cfg.Readers; r++ {
			s, err := openOneSource(iface, promisc, cfg.Readers, cfg.Chip)
			if err != nil {
				for _, opened := range sources {
					opened.Close()
				}
				return nil, fmt.Errorf("interface %s reader %d: %w", iface, r, err)
			}
			sources = append(sources, s)
		}
	}

	if len(sources) == 1 {
		return sources[0], nil
	}
	return capture.NewMultiReader(sources), nil
}

// pinToCores approximates explicit per-thread core affinity with
// runtime.LockOSThread on the calling goroutine; Go exposes no portable
// sched_setaffinity, so the configured core list is only used to decide
// whether pinning is requested at all.
func pinToCores(cfg *config.Config) {
	if len(cfg.Cores) == 0 {
		return
	}
	runtime.LockOSThread()
}
