// Package export implements the export stage (C6): it batches expired
// flow records into NetFlow v5 PDUs, emits them by UDP, and optionally
// mirrors each record to a pipe-delimited text log.
package export

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/pavelkim/flowprobe/internal/flow"
	"github.com/pavelkim/flowprobe/internal/task"
)

// sendBufferBytes sizes the UDP socket's send buffer to comfortably hold
// a handful of back-to-back 30-record PDUs (1464 bytes each) without the
// kernel default making sendto a frequent blocking point.
const sendBufferBytes = 1 << 20

// Logger is the narrow logging surface the export stage needs; satisfied
// by internal/logger.Logger.
type Logger interface {
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Exporter is the export stage's mutable state, exclusively owned by the
// goroutine that drives it.
type Exporter struct {
	conn          *net.UDPConn
	textLog       *TextLog
	log           Logger
	qTimeout      time.Duration
	minFlowSize   uint32
	systemStart   time.Time
	pending       []flow.Record
	lastEmission  time.Time
	flowSequence  uint32

	pdusSent      uint64
	recordsDropped uint64
}

// Config carries construction parameters for an Exporter.
type Config struct {
	CollectorAddr string
	TextLogPath   string
	QueueTimeout  time.Duration
	MinFlowSize   uint32
	SystemStart   time.Time
	Logger        Logger
}

// New resolves the collector address, opens the UDP socket and the
// optional text log, and returns a ready Exporter.
func New(cfg Config) (*Exporter, error) {
	addr, err := net.ResolveUDPAddr("udp4", cfg.CollectorAddr)
	if err != nil {
		return nil, fmt.Errorf("export: resolve collector address: %w", err)
	}

	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("export: dial collector: %w", err)
	}
	tuneSendBuffer(conn, cfg.Logger)

	textLog, err := NewTextLog(cfg.TextLogPath)
	if err != nil {
		if cfg.Logger != nil {
			cfg.Logger.Warn("text output disabled: failed to open file", "path", cfg.TextLogPath, "error", err)
		}
		textLog = &TextLog{}
	}

	return &Exporter{
		conn:         conn,
		textLog:      textLog,
		log:          cfg.Logger,
		qTimeout:     cfg.QueueTimeout,
		minFlowSize:  cfg.MinFlowSize,
		systemStart:  cfg.SystemStart,
		lastEmission: time.Now(),
	}, nil
}

// tuneSendBuffer raises SO_SNDBUF on the UDP socket's underlying file
// descriptor so bursts of back-to-back PDUs don't contend with the
// kernel's default buffer size. Best-effort: failure is logged, not fatal.
func tuneSendBuffer(conn *net.UDPConn, log Logger) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return
	}
	ctrlErr := raw.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, sendBufferBytes); err != nil {
			if log != nil {
				log.Warn("failed to raise UDP send buffer", "error", err)
			}
		}
	})
	if ctrlErr != nil && log != nil {
		log.Warn("failed to access UDP socket fd for tuning", "error", ctrlErr)
	}
}

// Process runs one activation of the export stage on t: admit or drop
// each expired record (the min-TCP-size filter applies only to TCP),
// emit a PDU whenever the pending queue fills, and on EOF flush
// whatever remains as a final PDU.
func (e *Exporter) Process(t *task.Task) error {
	for _, r := range t.ToExport {
		if r.Proto == flow.ProtoTCP && r.Octets < e.minFlowSize {
			e.recordsDropped++
			continue
		}
		e.pending = append(e.pending, r)
		if len(e.pending) == flow.MaxRecordsPerPDU {
			if err := e.emit(); err != nil {
				return err
			}
		}
	}

	if t.EOF {
		if len(e.pending) > 0 {
			return e.emit()
		}
		return nil
	}

	if time.Since(e.lastEmission) >= e.qTimeout && len(e.pending) > 0 {
		return e.emit()
	}
	return nil
}

// emit builds and sends one PDU from the current pending queue, then
// clears it. A sendto failure is logged and the PDU dropped; the
// sequence numbers it consumed are not reissued, which the collector
// is expected to tolerate as a sequence gap.
func (e *Exporter) emit() error {
	n := len(e.pending)
	if n == 0 {
		return nil
	}

	for _, r := range e.pending {
		e.textLog.WriteRecord(r)
	}

	pdu, err := EncodePDU(e.pending, e.flowSequence, e.systemStart)
	if err != nil {
		return err
	}

	if _, err := e.conn.Write(pdu); err != nil {
		if e.log != nil {
			e.log.Error("failed to send NetFlow PDU, dropping", "records", n, "error", err)
		}
	} else {
		e.pdusSent++
	}

	e.flowSequence += uint32(n)
	e.pending = e.pending[:0]
	e.lastEmission = time.Now()
	return nil
}

// Stats returns lightweight export counters for internal/stats.
func (e *Exporter) Stats() (pdusSent, recordsDropped uint64) {
	return e.pdusSent, e.recordsDropped
}

// Close flushes the text log and closes the UDP socket. Any records
// still pending are not sent; callers should drive a final EOF task
// through Process before calling Close.
func (e *Exporter) Close() error {
	if err := e.textLog.Close(); err != nil && e.log != nil {
		e.log.Warn("failed to close text log", "error", err)
	}
	return e.conn.Close()
}
