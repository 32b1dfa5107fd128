// Package raknetiface defines the minimal boundary a Session needs from the
// RakNet reliability/ordering layer (spec §6.1). The layer itself — MTU
// negotiation, the offline ping/open-connection handshake, split-packet
// reassembly — is explicitly out of scope; this package only names the
// interface a real RakNet implementation (e.g. a Conn from
// ventosilenzioso/go-raknet, see other_examples) would satisfy.
package raknetiface

import "net"

// Conn is a single established RakNet connection carrying Bedrock's game
// channel (channel 0, reliable-ordered). Every buffer that crosses this
// interface is one encapsulated game-layer payload: Session hands
// WritePacket a buffer that already begins with 0xFE, and ReadPacket
// returns buffers in that same shape.
type Conn interface {
	// ReadPacket blocks for the next encapsulated datagram. It returns
	// an error once the peer disconnects or the connection is closed
	// locally.
	ReadPacket() ([]byte, error)
	// WritePacket sends one encapsulated datagram, reliable-ordered.
	WritePacket(payload []byte) error
	// RemoteAddr identifies the peer this Conn is connected to.
	RemoteAddr() net.Addr
	// Close tears down the connection. Idempotent.
	Close() error
}

// Listener accepts inbound RakNet connections, the server-side counterpart
// of Conn. A real implementation performs RakNet's unconnected
// ping/open-connection handshake before handing back an accepted Conn.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() net.Addr
}

// Dialer originates an outbound RakNet connection, the client-side
// counterpart of Listener.
type Dialer interface {
	Dial(address string) (Conn, error)
}
