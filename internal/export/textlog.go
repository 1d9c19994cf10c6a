package export

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/pavelkim/flowprobe/internal/flow"
)

// TextLog writes the optional pipe-delimited flow log: the file is
// opened when the TextLog is created, and a failure to open disables the
// sink instead of aborting the probe — a bad text-log path should never take down flow export.
type TextLog struct {
	mu      sync.Mutex
	file    *os.File
	w       *bufio.Writer
	enabled bool
}

const textLogHeader = "IPV4_SRC|IPV4_DST|OUT_PKTS|OUT_BYTES|FIRST_SEC|LAST_SEC|L4_SRC_PORT|L4_DST_PORT|TCP_FLAGS|PROTOCOL|SRC_TOS|"

// NewTextLog opens path for appending and writes the header line. If
// path is empty the returned TextLog is a disabled no-op.
func NewTextLog(path string) (*TextLog, error) {
	if path == "" {
		return &TextLog{}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	tl := &TextLog{file: f, w: bufio.NewWriter(f), enabled: true}
	fmt.Fprintln(tl.w, textLogHeader)
	return tl, nil
}

// WriteRecord appends one flow's line to the log. A no-op when disabled.
func (tl *TextLog) WriteRecord(r flow.Record) {
	if !tl.enabled {
		return
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()

	fmt.Fprintf(tl.w, "%s|%s|%d|%d|%d|%d|%d|%d|%d|%d|%d|\n",
		net.IPv4(byte(r.SrcAddr>>24), byte(r.SrcAddr>>16), byte(r.SrcAddr>>8), byte(r.SrcAddr)).String(),
		net.IPv4(byte(r.DstAddr>>24), byte(r.DstAddr>>16), byte(r.DstAddr>>8), byte(r.DstAddr)).String(),
		r.Packets, r.Octets, r.First.Sec, r.Last.Sec,
		r.SrcPort, r.DstPort, r.TCPFlags, r.Proto, r.ToS,
	)
}

// Close flushes and closes the log file, if one is open.
func (tl *TextLog) Close() error {
	if !tl.enabled {
		return nil
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.w.Flush()
	return tl.file.Close()
}
