package protocol

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"
)

// CompressionMethod identifies which codec, if any, was applied to a batch.
type CompressionMethod byte

const (
	MethodZlib    CompressionMethod = CompressionZlib
	MethodSnappy  CompressionMethod = CompressionSnappy
	MethodNone    CompressionMethod = CompressionNone
)

// ErrUnsupportedCompression is returned for a method byte this build does not
// carry.
var ErrUnsupportedCompression = errors.New("protocol: unsupported compression method")

// Compressor deflates/inflates whole framed batches, gated by a threshold.
// It is deliberately ignorant of the leader byte and of encryption: those are
// layered on by Session (see spec §4.3).
type Compressor struct {
	// Enabled reports whether compression is negotiated at all for this
	// direction. When false, Deflate always emits MethodNone verbatim.
	Enabled bool
	// Threshold is the framed-batch length, in bytes, that Deflate must
	// exceed before it invokes zlib/snappy. At or below it the method byte
	// is "none" and the bytes are carried unchanged.
	Threshold uint16
	// UseSnappy selects Snappy over zlib when compression does fire. Bedrock
	// servers negotiate this via NetworkSettings; zlib is the default.
	UseSnappy bool
}

// NewCompressor returns a Compressor with zlib selected and compression
// disabled, matching a freshly connected Session before NetworkSettings.
func NewCompressor() *Compressor {
	return &Compressor{Threshold: DefaultCompressionThreshold}
}

// Deflate applies the policy described in spec §4.3: compress only if
// compression is enabled and the framed batch exceeds the threshold.
// It returns the method byte actually used and the (possibly compressed)
// payload bytes that should follow it on the wire.
func (c *Compressor) Deflate(framed []byte) (method CompressionMethod, payload []byte, err error) {
	if !c.Enabled || len(framed) <= int(c.Threshold) {
		return MethodNone, framed, nil
	}

	if c.UseSnappy {
		return MethodSnappy, snappy.Encode(nil, framed), nil
	}

	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, 7)
	if err != nil {
		return 0, nil, fmt.Errorf("protocol: zlib writer: %w", err)
	}
	if _, err := zw.Write(framed); err != nil {
		return 0, nil, fmt.Errorf("protocol: zlib write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, nil, fmt.Errorf("protocol: zlib close: %w", err)
	}
	return MethodZlib, buf.Bytes(), nil
}

// Inflate reverses Deflate given the method byte that was read off the wire.
func (c *Compressor) Inflate(method CompressionMethod, payload []byte) ([]byte, error) {
	switch method {
	case MethodNone:
		return payload, nil
	case MethodZlib:
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("protocol: zlib reader: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("protocol: zlib read: %w", err)
		}
		return out, nil
	case MethodSnappy:
		out, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: snappy decode: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnsupportedCompression, byte(method))
	}
}

// EncodeBatch produces the full outer envelope for an unencrypted batch:
// leader byte, method byte, (possibly) compressed framed bytes. Encrypted
// batches do not call this — Session applies the leader byte itself and
// omits the method byte per spec §4.3 step 3.
func (c *Compressor) EncodeBatch(framed []byte) ([]byte, error) {
	method, payload, err := c.Deflate(framed)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(payload)+2)
	out = append(out, LeaderByte, byte(method))
	out = append(out, payload...)
	return out, nil
}

// DecodeBatch reverses EncodeBatch: strips the leader byte, reads the method
// byte, inflates.
func (c *Compressor) DecodeBatch(batch []byte) ([]byte, error) {
	if len(batch) < 2 || batch[0] != LeaderByte {
		return nil, fmt.Errorf("protocol: batch missing 0x%02x leader", LeaderByte)
	}
	method := CompressionMethod(batch[1])
	return c.Inflate(method, batch[2:])
}
