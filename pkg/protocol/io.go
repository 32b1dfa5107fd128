package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Writer serializes Bedrock primitive types into a byte buffer. It mirrors
// the shape of a typical Bedrock protocol writer: little-endian fixed-width
// integers, unsigned-varint-prefixed strings/byte arrays.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the serialized payload accumulated so far.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

func (w *Writer) Uint8(v uint8)   { w.buf.WriteByte(v) }
func (w *Writer) Bool(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *Writer) Uint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) Int32(v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	w.buf.Write(b[:])
}

func (w *Writer) Uint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) Int64(v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	w.buf.Write(b[:])
}

func (w *Writer) Uint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) Float32(v float32) {
	w.Uint32(math.Float32bits(v))
}

func (w *Writer) Varuint32(v uint32) {
	writeUvarint(&w.buf, uint64(v))
}

func (w *Writer) Varint32(v int32) {
	w.Varuint32(zigzag32(v))
}

func (w *Writer) String(s string) {
	w.Varuint32(uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *Writer) ByteSlice(b []byte) {
	w.Varuint32(uint32(len(b)))
	w.buf.Write(b)
}

// UUID writes a 16-byte UUID verbatim.
func (w *Writer) UUID(u [16]byte) { w.buf.Write(u[:]) }

// Raw appends b verbatim, with no length prefix. Used for tail fields that
// carry an already-serialized remainder forward unchanged.
func (w *Writer) Raw(b []byte) { w.buf.Write(b) }

func zigzag32(v int32) uint32 {
	return uint32((v << 1) ^ (v >> 31))
}

func unzigzag32(v uint32) int32 {
	return int32((v >> 1) ^ -(v & 1))
}

// Reader deserializes Bedrock primitive types, mirroring Writer.
type Reader struct {
	r   *bytes.Reader
	err error
}

// NewReader wraps buf for sequential reads.
func NewReader(buf []byte) *Reader {
	return &Reader{r: bytes.NewReader(buf)}
}

// Err returns the first error encountered by any Reader method, if any.
func (r *Reader) Err() error { return r.err }

// Remaining returns the bytes not yet consumed.
func (r *Reader) Remaining() []byte {
	b := make([]byte, r.r.Len())
	_, _ = r.r.Read(b)
	return b
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) Uint8() uint8 {
	b, err := r.r.ReadByte()
	if err != nil {
		r.fail(err)
		return 0
	}
	return b
}

func (r *Reader) Bool() bool { return r.Uint8() != 0 }

func (r *Reader) Uint16() uint16 {
	var b [2]byte
	if _, err := readFull(r.r, b[:]); err != nil {
		r.fail(err)
		return 0
	}
	return binary.LittleEndian.Uint16(b[:])
}

func (r *Reader) Int32() int32 {
	return int32(r.Uint32())
}

func (r *Reader) Uint32() uint32 {
	var b [4]byte
	if _, err := readFull(r.r, b[:]); err != nil {
		r.fail(err)
		return 0
	}
	return binary.LittleEndian.Uint32(b[:])
}

func (r *Reader) Int64() int64 {
	return int64(r.Uint64())
}

func (r *Reader) Uint64() uint64 {
	var b [8]byte
	if _, err := readFull(r.r, b[:]); err != nil {
		r.fail(err)
		return 0
	}
	return binary.LittleEndian.Uint64(b[:])
}

func (r *Reader) Float32() float32 {
	return math.Float32frombits(r.Uint32())
}

func (r *Reader) Varuint32() uint32 {
	v, err := readUvarint(r.r)
	if err != nil {
		r.fail(err)
		return 0
	}
	if v > math.MaxUint32 {
		r.fail(fmt.Errorf("protocol: varuint32 overflow"))
		return 0
	}
	return uint32(v)
}

func (r *Reader) Varint32() int32 {
	return unzigzag32(r.Varuint32())
}

func (r *Reader) String() string {
	n := r.Varuint32()
	if r.err != nil {
		return ""
	}
	b := make([]byte, n)
	if _, err := readFull(r.r, b); err != nil {
		r.fail(err)
		return ""
	}
	return string(b)
}

func (r *Reader) ByteSlice() []byte {
	n := r.Varuint32()
	if r.err != nil {
		return nil
	}
	b := make([]byte, n)
	if _, err := readFull(r.r, b); err != nil {
		r.fail(err)
		return nil
	}
	return b
}

func (r *Reader) UUID() [16]byte {
	var u [16]byte
	if _, err := readFull(r.r, u[:]); err != nil {
		r.fail(err)
	}
	return u
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	n, err := r.Read(b)
	if err == nil && n != len(b) {
		err = errors.New("protocol: short read")
	}
	return n, err
}
