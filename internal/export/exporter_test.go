package export

import (
	"net"
	"testing"
	"time"

	"github.com/pavelkim/flowprobe/internal/flow"
	"github.com/pavelkim/flowprobe/internal/task"
)

// newTestExporter wires an Exporter to a local UDP listener so Process
// can exercise the real emit() path without touching a real collector.
func newTestExporter(t *testing.T, minFlowSize uint32) (*Exporter, *net.UDPConn) {
	t.Helper()

	collector, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { collector.Close() })

	exp, err := New(Config{
		CollectorAddr: collector.LocalAddr().String(),
		QueueTimeout:  time.Hour,
		MinFlowSize:   minFlowSize,
		SystemStart:   time.Now(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { exp.Close() })

	return exp, collector
}

func recordOfSize(proto uint8, octets uint32) flow.Record {
	return flow.Record{
		Key:     flow.Key{SrcAddr: 1, DstAddr: 2, Proto: proto},
		Packets: 1,
		Octets:  octets,
	}
}

func TestPDUBoundarySplitsAt30(t *testing.T) {
	exp, collector := newTestExporter(t, 0)

	records := make([]flow.Record, 31)
	for i := range records {
		records[i] = recordOfSize(flow.ProtoUDP, 10)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- exp.Process(&task.Task{ToExport: records})
	}()

	buf := make([]byte, 2048)
	collector.SetReadDeadline(time.Now().Add(2 * time.Second))
	n1, _, err := collector.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read first PDU: %v", err)
	}
	if got := int(buf[2])<<8 | int(buf[3]); got != 30 {
		t.Fatalf("first PDU count = %d, want 30", got)
	}
	if n1 != headerSize+30*recordSize {
		t.Fatalf("first PDU length = %d, want %d", n1, headerSize+30*recordSize)
	}
	firstSeq := uint32(buf[16])<<24 | uint32(buf[17])<<16 | uint32(buf[18])<<8 | uint32(buf[19])

	if err := <-errCh; err != nil {
		t.Fatalf("Process: %v", err)
	}
	// Final EOF task flushes the one remaining record.
	if err := exp.Process(&task.Task{EOF: true}); err != nil {
		t.Fatalf("Process EOF: %v", err)
	}

	collector.SetReadDeadline(time.Now().Add(2 * time.Second))
	n2, _, err := collector.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read second PDU: %v", err)
	}
	if got := int(buf[2])<<8 | int(buf[3]); got != 1 {
		t.Fatalf("second PDU count = %d, want 1", got)
	}
	if n2 != headerSize+recordSize {
		t.Fatalf("second PDU length = %d, want %d", n2, headerSize+recordSize)
	}
	secondSeq := uint32(buf[16])<<24 | uint32(buf[17])<<16 | uint32(buf[18])<<8 | uint32(buf[19])
	if secondSeq != firstSeq+30 {
		t.Fatalf("second PDU sequence = %d, want %d", secondSeq, firstSeq+30)
	}
}

func TestMinFlowSizeFiltersTCPOnly(t *testing.T) {
	exp, collector := newTestExporter(t, 1000)

	tcpSmall := recordOfSize(flow.ProtoTCP, 500)
	udpSmall := recordOfSize(flow.ProtoUDP, 500)

	if err := exp.Process(&task.Task{ToExport: []flow.Record{tcpSmall, udpSmall}, EOF: true}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	buf := make([]byte, 2048)
	collector.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := collector.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read PDU: %v", err)
	}
	count := int(buf[2])<<8 | int(buf[3])
	if count != 1 {
		t.Fatalf("PDU count = %d, want 1 (only the UDP record should survive the filter)", count)
	}
	if n != headerSize+recordSize {
		t.Fatalf("PDU length = %d, want %d", n, headerSize+recordSize)
	}
	if gotProto := buf[headerSize+38]; gotProto != flow.ProtoUDP {
		t.Fatalf("surviving record proto = %#x, want UDP", gotProto)
	}
}
