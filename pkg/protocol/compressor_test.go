package protocol

import (
	"bytes"
	"testing"
)

func TestCompressorBelowThresholdIsNotCompressed(t *testing.T) {
	c := &Compressor{Enabled: true, Threshold: 512}
	framed := bytes.Repeat([]byte{0x42}, 10)

	method, payload, err := c.Deflate(framed)
	if err != nil {
		t.Fatalf("Deflate: %v", err)
	}
	if method != MethodNone {
		t.Fatalf("method = %v, want MethodNone", method)
	}
	if !bytes.Equal(payload, framed) {
		t.Fatalf("payload was mutated below threshold")
	}
}

func TestCompressorDisabledNeverCompresses(t *testing.T) {
	c := &Compressor{Enabled: false, Threshold: 1}
	framed := bytes.Repeat([]byte{0x42}, 4096)

	method, payload, err := c.Deflate(framed)
	if err != nil {
		t.Fatalf("Deflate: %v", err)
	}
	if method != MethodNone {
		t.Fatalf("method = %v, want MethodNone", method)
	}
	if !bytes.Equal(payload, framed) {
		t.Fatalf("payload should pass through unchanged")
	}
}

func TestCompressorZlibRoundTrip(t *testing.T) {
	c := &Compressor{Enabled: true, Threshold: 8}
	framed := bytes.Repeat([]byte("the quick brown fox "), 50)

	method, payload, err := c.Deflate(framed)
	if err != nil {
		t.Fatalf("Deflate: %v", err)
	}
	if method != MethodZlib {
		t.Fatalf("method = %v, want MethodZlib", method)
	}
	if len(payload) >= len(framed) {
		t.Fatalf("zlib payload (%d) should be smaller than input (%d)", len(payload), len(framed))
	}

	out, err := c.Inflate(method, payload)
	if err != nil {
		t.Fatalf("Inflate: %v", err)
	}
	if !bytes.Equal(out, framed) {
		t.Fatalf("round trip mismatch")
	}
}

func TestCompressorSnappyRoundTrip(t *testing.T) {
	c := &Compressor{Enabled: true, Threshold: 8, UseSnappy: true}
	framed := bytes.Repeat([]byte("snappy payload content "), 50)

	method, payload, err := c.Deflate(framed)
	if err != nil {
		t.Fatalf("Deflate: %v", err)
	}
	if method != MethodSnappy {
		t.Fatalf("method = %v, want MethodSnappy", method)
	}

	out, err := c.Inflate(method, payload)
	if err != nil {
		t.Fatalf("Inflate: %v", err)
	}
	if !bytes.Equal(out, framed) {
		t.Fatalf("round trip mismatch")
	}
}

func TestCompressorEncodeDecodeBatchEnvelope(t *testing.T) {
	c := &Compressor{Enabled: true, Threshold: 4}
	framed := bytes.Repeat([]byte("envelope"), 20)

	batch, err := c.EncodeBatch(framed)
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}
	if batch[0] != LeaderByte {
		t.Fatalf("batch[0] = 0x%02x, want leader byte 0x%02x", batch[0], LeaderByte)
	}

	out, err := c.DecodeBatch(batch)
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	if !bytes.Equal(out, framed) {
		t.Fatalf("round trip mismatch")
	}
}

func TestCompressorDecodeBatchRejectsMissingLeader(t *testing.T) {
	c := NewCompressor()
	if _, err := c.DecodeBatch([]byte{0x00, 0x00}); err == nil {
		t.Fatal("expected error for missing leader byte")
	}
}

func TestCompressorInflateUnsupportedMethod(t *testing.T) {
	c := NewCompressor()
	if _, err := c.Inflate(CompressionMethod(0x42), nil); err == nil {
		t.Fatal("expected ErrUnsupportedCompression")
	}
}
