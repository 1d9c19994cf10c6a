package flow

import "testing"

func TestRemapTCPFlagsBitOrder(t *testing.T) {
	got := RemapTCPFlags(true, true, false, false, false, false, false, false)
	want := FlagFIN | FlagSYN
	if got != uint8(want) {
		t.Fatalf("RemapTCPFlags(fin,syn) = %#x, want %#x", got, want)
	}

	all := RemapTCPFlags(true, true, true, true, true, true, true, true)
	if all != 0xff {
		t.Fatalf("RemapTCPFlags(all) = %#x, want 0xff", all)
	}

	none := RemapTCPFlags(false, false, false, false, false, false, false, false)
	if none != 0 {
		t.Fatalf("RemapTCPFlags(none) = %#x, want 0", none)
	}
}

func TestKeyHashIDStableForSameKey(t *testing.T) {
	k := Key{SrcAddr: 10, DstAddr: 20, SrcPort: 80, DstPort: 443, Proto: ProtoTCP, ToS: 0}
	h1 := k.HashID(997)
	h2 := k.HashID(997)
	if h1 != h2 {
		t.Fatalf("HashID not stable: %d != %d", h1, h2)
	}
	if h1 >= 997 {
		t.Fatalf("HashID %d out of range [0,997)", h1)
	}
}

func TestRecordExpiredReasons(t *testing.T) {
	r := Record{Last: Timeval{Sec: 100}, First: Timeval{Sec: 100}}
	if r.Expired(110, 30, 120) {
		t.Fatalf("should not be expired: within both windows")
	}
	if !r.Expired(200, 30, 120) {
		t.Fatalf("should be expired: idle timeout exceeded")
	}

	lifetime := Record{Last: Timeval{Sec: 300}, First: Timeval{Sec: 0}}
	if !lifetime.Expired(300, 30, 120) {
		t.Fatalf("should be expired: lifetime timeout exceeded")
	}

	finFlagged := Record{Last: Timeval{Sec: 100}, First: Timeval{Sec: 100}, TCPFlags: FlagFIN}
	if !finFlagged.Expired(100, 30, 120) {
		t.Fatalf("should be expired: FIN flag forces eviction regardless of age")
	}
}
