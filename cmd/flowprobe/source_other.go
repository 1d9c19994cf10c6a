//go:build !linux

package main

import "github.com/pavelkim/flowprobe/internal/capture"

// openOneSource falls back to libpcap on platforms without AF_PACKET.
func openOneSource(iface string, promisc bool, readers, fanoutGroup int) (capture.Source, error) {
	return capture.OpenPcap(iface, promisc)
}
