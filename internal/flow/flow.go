// Package flow defines the flow key and flow record types shared by the
// shard hash table, the capture stage and the export stage.
package flow

const (
	// TCP and UDP protocol numbers as carried in the IPv4 header.
	ProtoTCP = 0x06
	ProtoUDP = 0x11

	// MaxRecordsPerPDU is the number of flow records a single NetFlow v5
	// PDU can carry.
	MaxRecordsPerPDU = 30

	// TCP control bits remapped into Record.TCPFlags, MSB to LSB:
	// CWR, ECE, URG, ACK, PSH, RST, SYN, FIN.
	FlagFIN = 0x01
	FlagSYN = 0x02
	FlagRST = 0x04
	FlagPSH = 0x08
	FlagACK = 0x10
	FlagURG = 0x20
	FlagECE = 0x40
	FlagCWR = 0x80

	// expireReasonFlags is the mask checked by Expired: FIN or RST.
	expireReasonFlags = FlagFIN | FlagRST
)

// Key is the immutable 6-tuple identifying a unidirectional flow. All
// fields are stored exactly as read off the wire (network byte order);
// equality is bitwise.
type Key struct {
	SrcAddr uint32
	DstAddr uint32
	SrcPort uint16
	DstPort uint16
	Proto   uint8
	ToS     uint8
}

// Equal reports whether two keys denote the same flow.
func (k Key) Equal(o Key) bool {
	return k.SrcAddr == o.SrcAddr && k.DstAddr == o.DstAddr &&
		k.SrcPort == o.SrcPort && k.DstPort == o.DstPort &&
		k.Proto == o.Proto && k.ToS == o.ToS
}

// HashID computes the value from which a flow's owning shard and bucket
// are derived: (src+dst+proto+srcPort+dstPort+tos) mod hashSize.
func (k Key) HashID(hashSize uint32) uint32 {
	sum := k.SrcAddr + k.DstAddr + uint32(k.Proto) + uint32(k.SrcPort) + uint32(k.DstPort) + uint32(k.ToS)
	return sum % hashSize
}

// Timeval mirrors the C `struct timeval` the original probe stamps on
// every record: whole seconds plus a microsecond residual.
type Timeval struct {
	Sec  int64
	Usec int64
}

// Millis returns the timestamp in milliseconds, as NetFlow v5 wants it.
func (t Timeval) Millis() uint32 {
	return uint32(t.Sec*1000 + t.Usec/1000)
}

// Record is a Key plus the mutable counters accumulated for that flow.
type Record struct {
	Key
	Packets  uint32
	Octets   uint32
	First    Timeval
	Last     Timeval
	TCPFlags uint8
	// HashID is the cached hash value computed once by the capture stage;
	// it lets a shard re-derive its own identity without recomputing the
	// hash, and is never mutated after insertion.
	HashID uint32
}

// Expired reports whether r should be evicted given the current wall
// clock second `now`, an idle timeout and a lifetime timeout (both in
// seconds). There is no "no clock" form of this check: shard.Table
// implements its expire-everything flush by not calling this function
// at all (its sweep's force flag).
func (r *Record) Expired(now, idleTimeout, lifetimeTimeout int64) bool {
	if now-r.Last.Sec > idleTimeout {
		return true
	}
	if r.Last.Sec-r.First.Sec > lifetimeTimeout {
		return true
	}
	if r.TCPFlags&expireReasonFlags != 0 {
		return true
	}
	return false
}

// RemapTCPFlags converts raw TCP header control bits (fin, syn, rst, psh,
// ack, urg, ece, cwr — each 0 or 1) into the cumulative bit layout used
// by Record.TCPFlags.
func RemapTCPFlags(fin, syn, rst, psh, ack, urg, ece, cwr bool) uint8 {
	var f uint8
	if fin {
		f |= FlagFIN
	}
	if syn {
		f |= FlagSYN
	}
	if rst {
		f |= FlagRST
	}
	if psh {
		f |= FlagPSH
	}
	if ack {
		f |= FlagACK
	}
	if urg {
		f |= FlagURG
	}
	if ece {
		f |= FlagECE
	}
	if cwr {
		f |= FlagCWR
	}
	return f
}
