package capture

import (
	"context"
	"net"
	"time"

	"github.com/pavelkim/flowprobe/internal/tzsp"
)

// TZSPSource is a Source that receives frames relayed from a remote
// access point over a TZSP UDP tunnel, and unwraps each tunnel packet
// into the raw Ethernet frame the rest of the capture stage expects.
// Only the TZSP-encapsulated-Ethernet case (matching parse.go's
// datalinkOffset=14 assumption) is supported; other encapsulated link
// types are rejected the same way non-Ethernet frames are in parse.go.
type TZSPSource struct {
	conn    *net.UDPConn
	decoder *tzsp.Decoder
}

// OpenTZSP listens for TZSP tunnel traffic on listenAddr (host:port).
func OpenTZSP(listenAddr string) (*TZSPSource, error) {
	addr, err := net.ResolveUDPAddr("udp4", listenAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, err
	}
	return &TZSPSource{conn: conn, decoder: tzsp.NewDecoder()}, nil
}

// ReadPacketData blocks, bounded by pollTimeout, for the next TZSP tunnel
// packet and returns its encapsulated Ethernet frame.
func (s *TZSPSource) ReadPacketData(ctx context.Context) ([]byte, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, time.Time{}, err
	}

	s.conn.SetReadDeadline(time.Now().Add(pollTimeout))
	buf := make([]byte, 65535)

	for {
		n, remote, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return nil, time.Time{}, ErrNoPacket
			}
			return nil, time.Time{}, err
		}

		pkt, err := s.decoder.Decode(buf[:n], remote.String())
		if err != nil || pkt.Protocol != 1 /* Ethernet */ || len(pkt.EncapPacket) == 0 {
			continue // malformed or non-Ethernet tunnel payload: skip and keep polling
		}

		ts := pkt.ReceivedTime
		if tag := pkt.GetTimestamp(); tag != nil {
			ts = *tag
		}
		return pkt.EncapPacket, ts, nil
	}
}

// Close releases the tunnel's listening socket.
func (s *TZSPSource) Close() error {
	return s.conn.Close()
}
