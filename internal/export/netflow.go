package export

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pavelkim/flowprobe/internal/flow"
)

const (
	headerSize = 24
	recordSize = 48
	version5   = 5
)

// EncodePDU serializes a NetFlow v5 PDU for records (1..=30 of them),
// with the first record's sequence number set to firstSeq and uptime
// fields computed relative to systemStart.
func EncodePDU(records []flow.Record, firstSeq uint32, systemStart time.Time) ([]byte, error) {
	n := len(records)
	if n == 0 || n > flow.MaxRecordsPerPDU {
		return nil, fmt.Errorf("export: cannot build PDU for %d records (want 1..=%d)", n, flow.MaxRecordsPerPDU)
	}

	buf := make([]byte, headerSize+n*recordSize)

	now := time.Now()
	uptime := uint32(now.Sub(systemStart).Milliseconds())

	binary.BigEndian.PutUint16(buf[0:2], version5)
	binary.BigEndian.PutUint16(buf[2:4], uint16(n))
	binary.BigEndian.PutUint32(buf[4:8], uptime)
	binary.BigEndian.PutUint32(buf[8:12], uint32(now.Unix()))
	binary.BigEndian.PutUint32(buf[12:16], uint32(now.Nanosecond()/1000)*1000) // "unix_nsecs": microseconds*1000, per spec
	binary.BigEndian.PutUint32(buf[16:20], firstSeq)
	buf[20], buf[21], buf[22] = 0, 0, 0 // engine_type, engine_id, sampling_interval
	// buf[23] is the low byte of sampling_interval's 16-bit field in some
	// implementations; the original ffProbe layout leaves it zero too.

	off := headerSize
	for _, r := range records {
		binary.BigEndian.PutUint32(buf[off:off+4], r.SrcAddr)
		binary.BigEndian.PutUint32(buf[off+4:off+8], r.DstAddr)
		// nexthop, input, output are always zero (bytes off+8..off+16).
		binary.BigEndian.PutUint32(buf[off+16:off+20], r.Packets)
		binary.BigEndian.PutUint32(buf[off+20:off+24], r.Octets)
		binary.BigEndian.PutUint32(buf[off+24:off+28], msSince(r.First, systemStart))
		binary.BigEndian.PutUint32(buf[off+28:off+32], msSince(r.Last, systemStart))
		binary.BigEndian.PutUint16(buf[off+32:off+34], r.SrcPort)
		binary.BigEndian.PutUint16(buf[off+34:off+36], r.DstPort)
		buf[off+36] = 0 // pad1
		buf[off+37] = r.TCPFlags
		buf[off+38] = r.Proto
		buf[off+39] = r.ToS
		// src_as, dst_as, src_mask, dst_mask, pad2 (off+40..off+48) stay zero.
		off += recordSize
	}

	return buf, nil
}

func msSince(t flow.Timeval, start time.Time) uint32 {
	abs := time.Unix(t.Sec, t.Usec*1000)
	d := abs.Sub(start)
	if d < 0 {
		return 0
	}
	return uint32(d.Milliseconds())
}
