package protocol

import "testing"

func TestWriterReaderPrimitiveRoundTrip(t *testing.T) {
	w := NewWriter()
	w.Uint8(0xAB)
	w.Bool(true)
	w.Uint16(0x1234)
	w.Int32(-12345)
	w.Uint32(0xDEADBEEF)
	w.Int64(-9001)
	w.Uint64(0xCAFEBABECAFEBABE)
	w.Float32(3.14159)
	w.Varint32(-300)
	w.Varuint32(300)
	w.String("hello, bedrock")
	w.ByteSlice([]byte{1, 2, 3, 4})
	w.UUID([16]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15})

	r := NewReader(w.Bytes())
	if got := r.Uint8(); got != 0xAB {
		t.Errorf("Uint8 = 0x%x, want 0xab", got)
	}
	if got := r.Bool(); !got {
		t.Errorf("Bool = false, want true")
	}
	if got := r.Uint16(); got != 0x1234 {
		t.Errorf("Uint16 = 0x%x, want 0x1234", got)
	}
	if got := r.Int32(); got != -12345 {
		t.Errorf("Int32 = %d, want -12345", got)
	}
	if got := r.Uint32(); got != 0xDEADBEEF {
		t.Errorf("Uint32 = 0x%x, want 0xdeadbeef", got)
	}
	if got := r.Int64(); got != -9001 {
		t.Errorf("Int64 = %d, want -9001", got)
	}
	if got := r.Uint64(); got != 0xCAFEBABECAFEBABE {
		t.Errorf("Uint64 = 0x%x, want 0xcafebabecafebabe", got)
	}
	if got := r.Float32(); got != float32(3.14159) {
		t.Errorf("Float32 = %v, want 3.14159", got)
	}
	if got := r.Varint32(); got != -300 {
		t.Errorf("Varint32 = %d, want -300", got)
	}
	if got := r.Varuint32(); got != 300 {
		t.Errorf("Varuint32 = %d, want 300", got)
	}
	if got := r.String(); got != "hello, bedrock" {
		t.Errorf("String = %q, want %q", got, "hello, bedrock")
	}
	if got := r.ByteSlice(); string(got) != "\x01\x02\x03\x04" {
		t.Errorf("ByteSlice = %v, want [1 2 3 4]", got)
	}
	if got := r.UUID(); got != [16]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15} {
		t.Errorf("UUID = %v, unexpected", got)
	}
	if err := r.Err(); err != nil {
		t.Fatalf("unexpected reader error: %v", err)
	}
}

func TestReaderErrOnShortRead(t *testing.T) {
	r := NewReader([]byte{0x01})
	_ = r.Uint64()
	if r.Err() == nil {
		t.Fatal("expected an error reading Uint64 from 1 byte")
	}
	// Once failed, subsequent reads stay zero-valued and don't panic.
	if got := r.Uint32(); got != 0 {
		t.Errorf("Uint32 after failure = %d, want 0", got)
	}
}

func TestVarintZigzagNegativeRange(t *testing.T) {
	for _, v := range []int32{0, 1, -1, 2147483647, -2147483648, 63, -64, 64, -65} {
		w := NewWriter()
		w.Varint32(v)
		r := NewReader(w.Bytes())
		if got := r.Varint32(); got != v {
			t.Errorf("Varint32 round trip for %d: got %d", v, got)
		}
	}
}
