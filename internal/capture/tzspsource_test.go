package capture

import (
	"context"
	"net"
	"testing"

	"github.com/pavelkim/flowprobe/internal/tzsp"
)

// encodeTZSP wraps an Ethernet frame in a minimal TZSP
// received-tagged-packet header: version 1, type
// TypeReceivedTaggedPacket, protocol Ethernet, an immediate TagEnd
// (no tags), followed by the encapsulated frame.
func encodeTZSP(frame []byte) []byte {
	out := make([]byte, 0, 5+len(frame))
	out = append(out, tzsp.Version, tzsp.TypeReceivedTaggedPacket, 0, 1, tzsp.TagEnd)
	return append(out, frame...)
}

func TestTZSPSourceDecodesTunneledFrame(t *testing.T) {
	src, err := OpenTZSP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("OpenTZSP: %v", err)
	}
	defer src.Close()

	sender, err := net.DialUDP("udp4", nil, src.conn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer sender.Close()

	frame := ethIPv4UDP(1000, 53, 10)
	if _, err := sender.Write(encodeTZSP(frame)); err != nil {
		t.Fatalf("write tunnel packet: %v", err)
	}

	data, _, err := src.ReadPacketData(context.Background())
	if err != nil {
		t.Fatalf("ReadPacketData: %v", err)
	}
	if string(data) != string(frame) {
		t.Fatalf("decoded frame mismatch: got %v, want %v", data, frame)
	}
}

func TestTZSPSourceSkipsNonEthernetPayload(t *testing.T) {
	src, err := OpenTZSP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("OpenTZSP: %v", err)
	}
	defer src.Close()

	sender, err := net.DialUDP("udp4", nil, src.conn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer sender.Close()

	nonEthernet := []byte{tzsp.Version, tzsp.TypeReceivedTaggedPacket, 0, 2, tzsp.TagEnd, 0xaa, 0xbb}
	if _, err := sender.Write(nonEthernet); err != nil {
		t.Fatalf("write non-ethernet packet: %v", err)
	}

	frame := ethIPv4UDP(2000, 80, 5)
	if _, err := sender.Write(encodeTZSP(frame)); err != nil {
		t.Fatalf("write tunnel packet: %v", err)
	}

	data, _, err := src.ReadPacketData(context.Background())
	if err != nil {
		t.Fatalf("ReadPacketData: %v", err)
	}
	if string(data) != string(frame) {
		t.Fatalf("expected the non-Ethernet packet to be skipped, got %v", data)
	}
}
