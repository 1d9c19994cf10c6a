//go:build linux

package main

import (
	"golang.org/x/net/bpf"

	"github.com/pavelkim/flowprobe/internal/capture"
)

// openOneSource opens the Linux AF_PACKET fast path, falling back to
// libpcap if the raw socket cannot be opened (e.g. missing
// CAP_NET_RAW).
func openOneSource(iface string, promisc bool, readers, fanoutGroup int) (capture.Source, error) {
	s, err := capture.OpenAFPacket(iface, promisc, []bpf.RawInstruction{}, readers, fanoutGroup)
	if err == nil {
		return s, nil
	}
	return capture.OpenPcap(iface, promisc)
}
