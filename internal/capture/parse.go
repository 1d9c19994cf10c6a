package capture

import (
	"encoding/binary"

	"github.com/pavelkim/flowprobe/internal/flow"
)

// datalinkOffset is the fixed Ethernet header length this probe expects
// every captured frame to start with. Non-Ethernet links (802.11 without
// a radiotap/Ethernet re-framing step, raw IP, etc.) are not supported,
// an acknowledged limitation rather than a silently generalized one.
const datalinkOffset = 14

const (
	etherTypeIPv4 = 0x0800
	minIPv4Header = 20
	tcpHeaderLen  = 20
	udpHeaderLen  = 8
)

// ParseRecord extracts a flow.Record from one captured Ethernet frame.
// capturedAtSec is the coarse, per-batch wall-clock second the capture
// stage stamped at activation start — sub-second timestamps are not
// attempted. ok is false for anything this probe does not understand:
// truncated frames, non-IPv4 EtherTypes, or a malformed IPv4 header.
func ParseRecord(frame []byte, capturedAtSec int64, hashSize uint32) (rec flow.Record, ok bool) {
	if len(frame) < datalinkOffset+minIPv4Header {
		return flow.Record{}, false
	}

	etherType := binary.BigEndian.Uint16(frame[12:14])
	if etherType != etherTypeIPv4 {
		return flow.Record{}, false
	}

	ip := frame[datalinkOffset:]
	ihl := int(ip[0]&0x0f) * 4
	if ihl < minIPv4Header || datalinkOffset+ihl > len(frame) {
		return flow.Record{}, false
	}

	tos := ip[1]
	proto := ip[9]
	srcAddr := binary.BigEndian.Uint32(ip[12:16])
	dstAddr := binary.BigEndian.Uint32(ip[16:20])

	transport := frame[datalinkOffset+ihl:]
	var srcPort, dstPort uint16
	var tcpFlags uint8

	switch proto {
	case flow.ProtoTCP:
		if len(transport) < tcpHeaderLen {
			return flow.Record{}, false
		}
		srcPort = binary.BigEndian.Uint16(transport[0:2])
		dstPort = binary.BigEndian.Uint16(transport[2:4])
		// Byte 13 of the TCP header is, per RFC 793/3168, CWR ECE URG ACK
		// PSH RST SYN FIN from MSB to LSB — exactly the layout
		// flow.Record.TCPFlags wants, so it is copied as-is.
		tcpFlags = transport[13]
	case flow.ProtoUDP:
		if len(transport) < udpHeaderLen {
			return flow.Record{}, false
		}
		srcPort = binary.BigEndian.Uint16(transport[0:2])
		dstPort = binary.BigEndian.Uint16(transport[2:4])
	default:
		srcPort, dstPort = 0, 0
	}

	key := flow.Key{
		SrcAddr: srcAddr,
		DstAddr: dstAddr,
		SrcPort: srcPort,
		DstPort: dstPort,
		Proto:   proto,
		ToS:     tos,
	}

	rec = flow.Record{
		Key:      key,
		Octets:   uint32(len(frame) - datalinkOffset),
		First:    flow.Timeval{Sec: capturedAtSec},
		TCPFlags: tcpFlags,
		HashID:   key.HashID(hashSize),
	}
	return rec, true
}
