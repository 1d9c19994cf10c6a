package capture

import (
	"context"
	"encoding/binary"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pavelkim/flowprobe/internal/stats"
)

// sliceSource replays a fixed list of frames, then reports io.EOF.
type sliceSource struct {
	frames [][]byte
	i      int
}

func (s *sliceSource) ReadPacketData(context.Context) ([]byte, time.Time, error) {
	if s.i >= len(s.frames) {
		return nil, time.Time{}, io.EOF
	}
	f := s.frames[s.i]
	s.i++
	return f, time.Now(), nil
}

func (s *sliceSource) Close() error { return nil }

// ethIPv4UDP builds a minimal Ethernet+IPv4+UDP frame carrying payloadLen
// bytes of payload, for use as fixture data in capture-stage tests.
func ethIPv4UDP(srcPort, dstPort uint16, payloadLen int) []byte {
	udpLen := 8 + payloadLen
	ipLen := 20 + udpLen
	frame := make([]byte, 14+ipLen)

	binary.BigEndian.PutUint16(frame[12:14], etherTypeIPv4)

	ip := frame[14:]
	ip[0] = 0x45 // version 4, IHL 5
	ip[1] = 0    // tos
	binary.BigEndian.PutUint16(ip[2:4], uint16(ipLen))
	ip[9] = 17 // UDP
	binary.BigEndian.PutUint32(ip[12:16], 0x0a000001)
	binary.BigEndian.PutUint32(ip[16:20], 0x0a000002)

	udp := ip[20:]
	binary.BigEndian.PutUint16(udp[0:2], srcPort)
	binary.BigEndian.PutUint16(udp[2:4], dstPort)
	binary.BigEndian.PutUint16(udp[4:6], uint16(udpLen))

	return frame
}

func TestActivateRoutesToCorrectWorker(t *testing.T) {
	frame := ethIPv4UDP(1000, 53, 10)
	src := &sliceSource{frames: [][]byte{frame}}

	hashSize := uint32(16)
	workerCount := 4
	shardSize := hashSize / uint32(workerCount)

	stage := &Stage{
		Source:      src,
		WorkerCount: workerCount,
		MaxPerBatch: 10,
		HashSize:    hashSize,
		ShardSize:   shardSize,
		Terminated:  new(atomic.Bool),
	}

	tk, more := stage.Activate(context.Background())
	if !more {
		t.Fatalf("expected more=true after a normal batch")
	}

	rec, ok := ParseRecord(frame, 0, hashSize)
	if !ok {
		t.Fatalf("fixture frame failed to parse")
	}
	wantWorker := int(rec.HashID / shardSize)

	total := 0
	for w, batch := range tk.ToAdd {
		total += len(batch)
		if len(batch) > 0 && w != wantWorker {
			t.Fatalf("record routed to worker %d, want %d", w, wantWorker)
		}
	}
	if total != 1 {
		t.Fatalf("expected exactly 1 routed record, got %d", total)
	}
}

func TestActivateEmitsEOFAfterSourceExhausted(t *testing.T) {
	src := &sliceSource{frames: nil}
	stage := &Stage{
		Source:      src,
		WorkerCount: 1,
		MaxPerBatch: 10,
		HashSize:    16,
		ShardSize:   16,
		Terminated:  new(atomic.Bool),
	}

	tk, more := stage.Activate(context.Background())
	if more {
		t.Fatalf("expected more=false once the first activation hits EOF")
	}
	if tk.EOF {
		t.Fatalf("first activation with nothing to deliver should still carry EOF")
	}

	tk2, more2 := stage.Activate(context.Background())
	if more2 {
		t.Fatalf("expected more=false on the final EOF activation")
	}
	if !tk2.EOF {
		t.Fatalf("expected the final activation's task to be EOF-marked")
	}
}

func TestActivateHonorsTerminationFlag(t *testing.T) {
	src := &sliceSource{frames: [][]byte{ethIPv4UDP(1, 2, 1)}}
	term := new(atomic.Bool)
	term.Store(true)

	stage := &Stage{
		Source:      src,
		WorkerCount: 1,
		MaxPerBatch: 10,
		HashSize:    16,
		ShardSize:   16,
		Terminated:  term,
	}

	tk, more := stage.Activate(context.Background())
	if more || !tk.EOF {
		t.Fatalf("expected immediate EOF task when termination flag is set")
	}
}

func TestActivateUpdatesStatsCounters(t *testing.T) {
	good := ethIPv4UDP(1, 2, 1)
	junk := []byte{1, 2, 3} // too short to parse
	src := &sliceSource{frames: [][]byte{good, junk}}

	counters := &stats.Counters{}
	stage := &Stage{
		Source:      src,
		WorkerCount: 1,
		MaxPerBatch: 10,
		HashSize:    16,
		ShardSize:   16,
		Terminated:  new(atomic.Bool),
		Stats:       counters,
	}

	stage.Activate(context.Background())

	if got := counters.PacketsSeen.Load(); got != 2 {
		t.Fatalf("PacketsSeen = %d, want 2", got)
	}
	if got := counters.ParseDropped.Load(); got != 1 {
		t.Fatalf("ParseDropped = %d, want 1", got)
	}
}

func TestMaxPerBatchLimitsPacketsPerActivation(t *testing.T) {
	frames := [][]byte{ethIPv4UDP(1, 2, 1), ethIPv4UDP(3, 4, 1), ethIPv4UDP(5, 6, 1)}
	src := &sliceSource{frames: frames}

	stage := &Stage{
		Source:      src,
		WorkerCount: 1,
		MaxPerBatch: 2,
		HashSize:    16,
		ShardSize:   16,
		Terminated:  new(atomic.Bool),
	}

	tk, more := stage.Activate(context.Background())
	if !more {
		t.Fatalf("source still has a frame left; expected more=true")
	}
	if len(tk.ToAdd[0]) != 2 {
		t.Fatalf("got %d records, want exactly maxPerBatch=2", len(tk.ToAdd[0]))
	}
}
