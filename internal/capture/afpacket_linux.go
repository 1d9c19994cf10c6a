//go:build linux

package capture

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// fanoutGroupBase is ORed with a small per-probe-instance id to form the
// PACKET_FANOUT group id; sibling sockets that share a group id and mode
// are load-balanced by the kernel.
const fanoutGroupBase = 0x4c50 // "LP"

// AFPacketSource is a high-throughput capture backend built directly on
// Linux AF_PACKET raw sockets, bypassing libpcap. When readers is
// greater than one, every reader's socket joins the same
// PACKET_FANOUT group in PACKET_FANOUT_HASH mode: the kernel hashes each
// frame's flow and always delivers it to the same member socket. That
// keeps packets of one 5-tuple landing on the same reader, which is
// what keeps the single-writer-per-shard invariant intact downstream.
type AFPacketSource struct {
	fd int
}

// OpenAFPacket opens iface with a raw AF_PACKET socket. filter, if
// non-empty, is a set of classic BPF instructions installed with
// SO_ATTACH_FILTER before the socket is bound, so unwanted traffic is
// dropped in-kernel rather than copied into user space. readers > 1
// joins fanout group fanoutGroupBase|readerGroup in hash mode; readerGroup
// should be the same value across all readers of one probe instance, and
// distinct across instances sharing a host so their fanout groups don't
// collide.
func OpenAFPacket(iface string, promisc bool, filter []bpf.RawInstruction, readers, readerGroup int) (*AFPacketSource, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("capture: af_packet socket: %w", err)
	}

	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("capture: lookup interface %s: %w", iface, err)
	}

	if len(filter) > 0 {
		if err := attachFilter(fd, filter); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("capture: attach BPF filter: %w", err)
		}
	}

	addr := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  ifi.Index,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("capture: bind af_packet socket to %s: %w", iface, err)
	}

	if promisc {
		mreq := unix.PacketMreq{
			Ifindex: int32(ifi.Index),
			Type:    unix.PACKET_MR_PROMISC,
		}
		if err := unix.SetsockoptPacketMreq(fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, &mreq); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("capture: enable promiscuous mode: %w", err)
		}
	}

	if readers > 1 {
		groupID := (fanoutGroupBase | (readerGroup & 0xff)) & 0xffff
		fanoutVal := groupID<<16 | unix.PACKET_FANOUT_HASH
		if err := unix.SetsockoptInt(fd, unix.SOL_PACKET, unix.PACKET_FANOUT, fanoutVal); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("capture: join fanout group: %w", err)
		}
	}

	tv := unix.NsecToTimeval(pollTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("capture: set receive timeout: %w", err)
	}

	return &AFPacketSource{fd: fd}, nil
}

func attachFilter(fd int, insns []bpf.RawInstruction) error {
	prog := make([]unix.SockFilter, len(insns))
	for i, in := range insns {
		prog[i] = unix.SockFilter{Code: in.Op, Jt: in.Jt, Jf: in.Jf, K: in.K}
	}
	fprog := unix.SockFprog{
		Len:    uint16(len(prog)),
		Filter: &prog[0],
	}
	return unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &fprog)
}

// ReadPacketData reads the next frame, or ErrNoPacket if SO_RCVTIMEO
// elapsed with nothing to read.
func (s *AFPacketSource) ReadPacketData(ctx context.Context) ([]byte, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, time.Time{}, err
	}

	buf := make([]byte, snapLen)
	n, _, err := unix.Recvfrom(s.fd, buf, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, time.Time{}, ErrNoPacket
		}
		return nil, time.Time{}, err
	}
	return buf[:n], time.Now(), nil
}

// Close releases the raw socket.
func (s *AFPacketSource) Close() error {
	return unix.Close(s.fd)
}

func htons(v uint16) uint16 {
	return (v << 8) | (v >> 8)
}
