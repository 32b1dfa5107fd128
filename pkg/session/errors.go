package session

import "errors"

// The error taxonomy from spec §7, one sentinel per category. Session wraps
// these with fmt.Errorf("...: %w", ...) at the point of detection, mirroring
// the teacher's Err* = errors.New(...) convention
// (shared/protocol's ErrInvalidLength-style sentinels).
var (
	// ErrTransport covers RakNet connect/read/write failures. Fatal: the
	// session moves straight to DISCONNECTED with no Disconnect packet.
	ErrTransport = errors.New("session: transport error")

	// ErrProtocol covers a packet arriving in a state that does not expect
	// it (e.g. Login before NetworkSettings). Fatal: a Disconnect with
	// reason "protocol" is sent before closing.
	ErrProtocol = errors.New("session: protocol error")

	// ErrAuth covers JWT signature/chain failures, untrusted roots when
	// trust is required, or missing claims. Fatal: Disconnect is sent with
	// the "version mismatch" reason real servers use for maximum client
	// compatibility.
	ErrAuth = errors.New("session: auth error")

	// ErrEncryption covers checksum mismatch, counter desync, or key
	// derivation failure. Fatal: the session closes immediately with no
	// Disconnect packet, since any further framing is untrustworthy.
	ErrEncryption = errors.New("session: encryption error")

	// ErrIntegration names the category of failures an external Auth
	// Broker surfaces (2FA required, no Xbox profile). Nothing in this
	// module wraps an error in it: authbroker.CreateOnline returns the
	// provider's own error, and Connect returns that before any RakNet
	// connection is opened.
	ErrIntegration = errors.New("session: integration error")

	// ErrClosed is returned by Send, Queue and QueueRaw after Disconnect.
	ErrClosed = errors.New("session: closed")
)

// DecodeError categorizes a single packet's deserialize failure (spec §7:
// per-packet, logged and dropped, never fatal). Session's own decode path
// logs the failure and drops the packet without wrapping it in a
// DecodeError, and never closes the connection for it.
type DecodeError struct {
	PacketID uint32
	Err      error
}

func (e *DecodeError) Error() string {
	return "session: decode packet 0x" + hex(e.PacketID) + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

func hex(v uint32) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xF]
		v >>= 4
	}
	return string(buf[i:])
}
