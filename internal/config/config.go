// Package config parses flowprobe's command-line surface and, when a
// -config file is given, layers a YAML logging configuration on top of
// the flag defaults.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved, validated set of run parameters for one
// probe invocation.
type Config struct {
	Interfaces []string // one or more capture interfaces; required unless TZSPListen is set

	// TZSPListen, when non-empty, replaces interface capture with a
	// single TZSPSource listening on this host:port for frames relayed
	// from a remote access point over a TZSP UDP tunnel.
	TZSPListen string

	IdleTimeout     int64 // seconds
	LifetimeTimeout int64 // seconds
	QueueTimeout    int64 // seconds

	Readers             int
	Workers             int
	IndependentExporter bool

	Cores []int // OS thread pinning; empty means no pinning
	Chip  int

	HashSize       uint32 // must be divisible by Workers
	MaxActiveFlows uint32 // per worker
	MaxPerBatch    int64  // -1 = drain until empty

	OutputFile        string
	FlowsPerTaskCheck int64

	Collector string
	Port      int

	MinFlowSize uint32

	NoPromisc  bool
	Sequential bool

	Logging LoggingConfig
}

// LoggingConfig holds the console/file logger split; it can only be set
// via -config, since it is ambient rather than part of the documented
// command-line surface.
type LoggingConfig struct {
	Console ConsoleLoggingConfig `yaml:"console"`
	File    FileLoggingConfig    `yaml:"file"`
}

type ConsoleLoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

type FileLoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Path    string `yaml:"path"`
}

type yamlOverlay struct {
	Logging LoggingConfig `yaml:"logging"`
}

// Parse builds a Config from args (typically os.Args[1:]), applying the
// documented defaults, then validates cross-field invariants.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("flowprobe", flag.ContinueOnError)

	iface := fs.String("interface", "", "capture interface(s), _-separated (required unless -tzspListen is set)")
	idleTimeout := fs.Int64("idleTimeout", 30, "idle eviction threshold, seconds")
	lifetimeTimeout := fs.Int64("lifetimeTimeout", 120, "lifetime eviction threshold, seconds")
	queueTimeout := fs.Int64("queueTimeout", 30, "export queue drain ceiling, seconds")
	readers := fs.Int("readers", 1, "capture reader count")
	workers := fs.Int("workers", 1, "aggregation worker count")
	independentExporter := fs.Int("independentExporter", 1, "run export as its own pipeline stage (0|1)")
	cores := fs.String("cores", "", "OS thread pinning, _-separated core ids")
	chip := fs.Int("chip", 0, "chip id, used as the AF_PACKET fanout group id when -readers > 1")
	hashSize := fs.Uint("hashSize", 32762, "total hash bucket count across all shards")
	maxActiveFlows := fs.Uint("maxActiveFlows", 3_000_000, "max active flows per worker shard")
	maxPerBatch := fs.Int64("maxPerBatch", 10_000, "packets parsed per capture activation (-1 = drain)")
	outputFile := fs.String("outputFile", "", "pipe-delimited text log of expired flows")
	flowsPerTaskCheck := fs.Int64("flowsPerTaskCheck", 200, "expiry-sweep records checked per activation (-1 = unbounded)")
	collector := fs.String("collector", "127.0.0.1", "NetFlow collector address")
	port := fs.Int("port", 2055, "NetFlow collector port")
	minFlowSize := fs.Uint("minFlowSize", 0, "minimum octet count for a TCP flow to be exported; non-TCP flows are always exported (0 = unlimited)")
	nopromisc := fs.Bool("nopromisc", false, "disable promiscuous-mode capture")
	sequential := fs.Bool("sequential", false, "run all stages on a single goroutine/thread")
	tzspListen := fs.String("tzspListen", "", "listen address (host:port) for a TZSP tunnel capture source; when set, -interface is not required and interface capture is not used")
	configPath := fs.String("config", "", "optional YAML file supplying ambient logging settings")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *iface == "" && *tzspListen == "" {
		return nil, fmt.Errorf("config: -interface or -tzspListen is required")
	}

	coreList, err := parseCoreList(*cores)
	if err != nil {
		return nil, fmt.Errorf("config: -cores: %w", err)
	}

	var interfaces []string
	if *iface != "" {
		interfaces = strings.Split(*iface, "_")
	}

	cfg := &Config{
		Interfaces:          interfaces,
		TZSPListen:          *tzspListen,
		IdleTimeout:         *idleTimeout,
		LifetimeTimeout:     *lifetimeTimeout,
		QueueTimeout:        *queueTimeout,
		Readers:             *readers,
		Workers:             *workers,
		IndependentExporter: *independentExporter != 0,
		Cores:               coreList,
		Chip:                *chip,
		HashSize:            uint32(*hashSize),
		MaxActiveFlows:      uint32(*maxActiveFlows),
		MaxPerBatch:         *maxPerBatch,
		OutputFile:          *outputFile,
		FlowsPerTaskCheck:   *flowsPerTaskCheck,
		Collector:           *collector,
		Port:                *port,
		MinFlowSize:         uint32(*minFlowSize),
		NoPromisc:           *nopromisc,
		Sequential:          *sequential,
		Logging: LoggingConfig{
			Console: ConsoleLoggingConfig{Enabled: true, Level: "info", Format: "text"},
		},
	}

	// Sequential mode runs a single aggregation worker.
	if cfg.Sequential {
		cfg.Workers = 1
	}

	if *configPath != "" {
		overlay, err := loadYAMLOverlay(*configPath)
		if err != nil {
			return nil, err
		}
		cfg.Logging = overlay.Logging
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the cross-field invariants treated as configuration
// errors: divisibility of hashSize by workers, and a capture source
// (interface list or TZSP listener) having been configured.
func (c *Config) Validate() error {
	if (len(c.Interfaces) == 0 || c.Interfaces[0] == "") && c.TZSPListen == "" {
		return fmt.Errorf("config: at least one -interface or -tzspListen is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("config: -workers must be positive, got %d", c.Workers)
	}
	if c.HashSize%uint32(c.Workers) != 0 {
		return fmt.Errorf("config: -hashSize (%d) must be divisible by -workers (%d)", c.HashSize, c.Workers)
	}
	if c.Readers <= 0 {
		return fmt.Errorf("config: -readers must be positive, got %d", c.Readers)
	}
	return nil
}

// ShardSize is the per-worker bucket count, hashSize/workers.
func (c *Config) ShardSize() uint32 {
	return c.HashSize / uint32(c.Workers)
}

func parseCoreList(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "_")
	cores := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid core id %q", p)
		}
		cores = append(cores, n)
	}
	return cores, nil
}

func loadYAMLOverlay(path string) (*yamlOverlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var overlay yamlOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &overlay, nil
}
