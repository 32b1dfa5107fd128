package protocol

import (
	"fmt"
)

// Catalog resolves packet ids to constructors for typed Packet values, the
// way the teacher's encodePayload/decodePayload type switch resolves a
// msgType byte to a concrete struct. Unlike that switch, Catalog is a map so
// callers can register their own ids and override the handshake defaults.
type Catalog struct {
	pool map[uint32]func() Packet
}

// NewCatalog returns a Catalog pre-populated with every handshake packet
// this module defines. Callers add game packets (outside handshake scope)
// with Register.
func NewCatalog() *Catalog {
	c := &Catalog{pool: make(map[uint32]func() Packet)}
	c.Register(IDRequestNetworkSettings, func() Packet { return &RequestNetworkSettingsPacket{} })
	c.Register(IDNetworkSettings, func() Packet { return &NetworkSettingsPacket{} })
	c.Register(IDLogin, func() Packet { return &LoginPacket{} })
	c.Register(IDServerToClientHandshake, func() Packet { return &ServerToClientHandshakePacket{} })
	c.Register(IDClientToServerHandshake, func() Packet { return &ClientToServerHandshakePacket{} })
	c.Register(IDPlayStatus, func() Packet { return &PlayStatusPacket{} })
	c.Register(IDDisconnect, func() Packet { return &DisconnectPacket{} })
	c.Register(IDResourcePacksInfo, func() Packet { return &ResourcePacksInfoPacket{} })
	c.Register(IDResourcePackStack, func() Packet { return &ResourcePackStackPacket{} })
	c.Register(IDResourcePackClientResponse, func() Packet { return &ResourcePackClientResponsePacket{} })
	c.Register(IDStartGame, func() Packet { return &StartGamePacket{} })
	c.Register(IDRequestChunkRadius, func() Packet { return &RequestChunkRadiusPacket{} })
	c.Register(IDSetLocalPlayerAsInitialized, func() Packet { return &SetLocalPlayerAsInitializedPacket{} })
	c.Register(IDServerboundLoadingScreenPacket, func() Packet { return &ServerboundLoadingScreenPacket{} })
	c.Register(IDClientCacheStatus, func() Packet { return &ClientCacheStatusPacket{} })
	return c
}

// Register installs or overrides the constructor for id. Last writer wins,
// which is what lets a caller override one of the defaults registered by
// NewCatalog without forking the catalog type.
func (c *Catalog) Register(id uint32, ctor func() Packet) {
	c.pool[id] = ctor
}

// New returns a zero-value Packet for id, or (nil, false) if id is unknown
// to this catalog.
func (c *Catalog) New(id uint32) (Packet, bool) {
	if id > MaxPacketID {
		return nil, false
	}
	ctor, ok := c.pool[id]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

// Encode serializes pk into a sub-packet body: a varuint32 id followed by
// pk's own Marshal output. This is the unit Frame expects as one element of
// its subPackets slice.
func Encode(pk Packet) []byte {
	w := NewWriter()
	w.Varuint32(pk.ID())
	pk.Marshal(w)
	return w.Bytes()
}

// Decode reads the leading id varint off buf and, if the catalog knows that
// id, unmarshals the remainder into a fresh typed Packet. An unknown id is
// not an error: it is returned as (id, nil, nil, false) so callers such as
// the bridge can still forward the raw bytes on.
func (c *Catalog) Decode(buf []byte) (id uint32, pk Packet, err error, known bool) {
	r := NewReader(buf)
	id = r.Varuint32()
	if err := r.Err(); err != nil {
		return 0, nil, fmt.Errorf("protocol: decode packet id: %w", err), false
	}
	pk, known = c.New(id)
	if !known {
		return id, nil, nil, false
	}
	if err := pk.Unmarshal(r); err != nil {
		return id, nil, fmt.Errorf("protocol: decode packet 0x%02x: %w", id, err), true
	}
	return id, pk, nil, true
}
