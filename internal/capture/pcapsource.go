package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket/pcap"
)

// snapLen is large enough to capture a full Ethernet frame; flows are
// keyed on the L3/L4 headers alone so nothing beyond that is needed.
const snapLen = 1600

// pollTimeout bounds how long a single ReadPacketData call may block,
// which is what makes the capture stage's "non-blocking" batch read
// actually non-blocking in practice: an activation that finds nothing
// returns within one pollTimeout instead of hanging.
const pollTimeout = 50 * time.Millisecond

// PcapSource reads live packets off a network interface via libpcap. It
// is the interface backend on non-Linux platforms and the fallback on
// Linux when an AF_PACKET socket cannot be opened; github.com/google/gopacket is used
// here purely as a raw-byte producer — the L2/L3/L4 decode stays in
// parse.go's hand-rolled byte walk, to keep the hot path allocation-free.
type PcapSource struct {
	handle *pcap.Handle
}

// OpenPcap opens iface in read-only, fixed-snaplen mode. promisc selects
// promiscuous mode for the capture.
func OpenPcap(iface string, promisc bool) (*PcapSource, error) {
	handle, err := pcap.OpenLive(iface, snapLen, promisc, pollTimeout)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", iface, err)
	}
	return &PcapSource{handle: handle}, nil
}

// ReadPacketData returns the next frame, ErrNoPacket if the poll timeout
// elapsed with nothing captured, or io.EOF if reading an offline capture
// file has run out of packets.
func (s *PcapSource) ReadPacketData(ctx context.Context) ([]byte, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, time.Time{}, err
	}

	data, ci, err := s.handle.ReadPacketData()
	if err != nil {
		if errors.Is(err, pcap.NextErrorTimeoutExpired) {
			return nil, time.Time{}, ErrNoPacket
		}
		return nil, time.Time{}, err
	}
	return data, ci.Timestamp, nil
}

// Close releases the underlying pcap handle.
func (s *PcapSource) Close() error {
	s.handle.Close()
	return nil
}
