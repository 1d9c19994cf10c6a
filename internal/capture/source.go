// Package capture implements the capture stage (C1 + C4): reading raw
// frames from an abstract packet source, parsing their L2/L3/L4 headers,
// and routing each parsed flow record to the worker that owns its shard.
package capture

import (
	"context"
	"time"
)

// Source is the abstraction over the kernel capture ring: something
// that yields (timestamp, bytes) pairs. Implementations: PcapSource
// (libpcap), AFPacketSource (Linux raw AF_PACKET sockets, Linux-only),
// TZSPSource (frames relayed over a TZSP UDP tunnel from a remote
// access point).
type Source interface {
	// ReadPacketData returns the next captured frame and its capture
	// time, or an error. A deadline-exceeded/would-block condition must
	// be reported as ErrNoPacket so the capture stage can distinguish
	// "nothing available right now" from a fatal source error.
	ReadPacketData(ctx context.Context) (data []byte, capturedAt time.Time, err error)
	Close() error
}

// ErrNoPacket is returned by Source.ReadPacketData when a non-blocking
// read found nothing to deliver this activation.
var ErrNoPacket = errNoPacket{}

type errNoPacket struct{}

func (errNoPacket) Error() string { return "capture: no packet available" }
