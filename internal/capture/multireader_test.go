package capture

import (
	"context"
	"testing"
	"time"
)

type staticSource struct {
	frame   []byte
	served  bool
	closed  bool
}

func (s *staticSource) ReadPacketData(context.Context) ([]byte, time.Time, error) {
	if s.served {
		return nil, time.Time{}, ErrNoPacket
	}
	s.served = true
	return s.frame, time.Now(), nil
}

func (s *staticSource) Close() error {
	s.closed = true
	return nil
}

func TestMultiReaderMergesAllSources(t *testing.T) {
	a := &staticSource{frame: []byte{1}}
	b := &staticSource{frame: []byte{2}}
	m := NewMultiReader([]Source{a, b})

	seen := map[byte]bool{}
	for i := 0; i < 2; i++ {
		data, _, err := m.ReadPacketData(context.Background())
		if err != nil {
			t.Fatalf("ReadPacketData: %v", err)
		}
		seen[data[0]] = true
	}
	if !seen[1] || !seen[2] {
		t.Fatalf("expected frames from both sources, got %v", seen)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !a.closed || !b.closed {
		t.Fatalf("Close did not close every underlying source")
	}
}
