package protocol

import (
	"bytes"
	"testing"
)

func TestFrameUnframeRoundTrip(t *testing.T) {
	subPackets := [][]byte{
		[]byte{0x01, 0x02, 0x03},
		[]byte{},
		bytes.Repeat([]byte{0xAB}, 300), // exceeds a single varint byte
	}

	framed := Frame(subPackets)
	got, err := Unframe(framed)
	if err != nil {
		t.Fatalf("Unframe: %v", err)
	}
	if len(got) != len(subPackets) {
		t.Fatalf("got %d sub-packets, want %d", len(got), len(subPackets))
	}
	for i := range subPackets {
		if !bytes.Equal(got[i], subPackets[i]) {
			t.Errorf("sub-packet %d: got %x, want %x", i, got[i], subPackets[i])
		}
	}
}

func TestUnframeEmpty(t *testing.T) {
	out, err := Unframe(nil)
	if err != nil {
		t.Fatalf("Unframe(nil): %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no sub-packets, got %d", len(out))
	}
}

func TestUnframeTruncated(t *testing.T) {
	// A varint declaring 10 bytes followed by only 2.
	framed := []byte{10, 0x01, 0x02}
	if _, err := Unframe(framed); err != ErrTruncatedFrame {
		t.Fatalf("got %v, want ErrTruncatedFrame", err)
	}
}

func TestUnframeVarintTooLong(t *testing.T) {
	framed := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}
	if _, err := Unframe(framed); err != ErrVarintTooLong {
		t.Fatalf("got %v, want ErrVarintTooLong", err)
	}
}
