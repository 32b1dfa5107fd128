package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func newTestKey(t *testing.T) [32]byte {
	t.Helper()
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return key
}

func TestEncryptorRoundTripRequiresSynchronizedCounters(t *testing.T) {
	key := newTestKey(t)

	client, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor client: %v", err)
	}
	server, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor server: %v", err)
	}

	plaintexts := [][]byte{
		[]byte("first batch"),
		[]byte("second batch, a little longer this time"),
		{},
	}

	for i, want := range plaintexts {
		encrypted := client.Encrypt(want)
		// The server's recv stream must be fed client's send stream in the
		// same order client produced it — each side owns only one direction.
		got, err := server.Decrypt(encrypted)
		if err != nil {
			t.Fatalf("batch %d: Decrypt: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("batch %d: got %q, want %q", i, got, want)
		}
	}
}

func TestEncryptorDetectsTamperedBatch(t *testing.T) {
	key := newTestKey(t)
	client, _ := NewEncryptor(key)
	server, _ := NewEncryptor(key)

	encrypted := client.Encrypt([]byte("authentic payload"))
	tampered := append([]byte(nil), encrypted...)
	tampered[0] ^= 0xFF

	if _, err := server.Decrypt(tampered); err != ErrChecksumMismatch {
		t.Fatalf("got %v, want ErrChecksumMismatch", err)
	}
}

func TestEncryptorOutOfOrderBatchFailsChecksum(t *testing.T) {
	key := newTestKey(t)
	client, _ := NewEncryptor(key)
	server, _ := NewEncryptor(key)

	first := client.Encrypt([]byte("one"))
	second := client.Encrypt([]byte("two"))

	// Feeding the server the second batch before the first desynchronizes
	// the counter-bound checksum immediately.
	if _, err := server.Decrypt(second); err != ErrChecksumMismatch {
		t.Fatalf("got %v, want ErrChecksumMismatch for out-of-order batch", err)
	}
	_ = first
}

func TestEncryptorZeroClearsKey(t *testing.T) {
	key := newTestKey(t)
	e, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	e.Zero()
	for i, b := range e.key {
		if b != 0 {
			t.Fatalf("key byte %d not zeroed: 0x%02x", i, b)
		}
	}
}
