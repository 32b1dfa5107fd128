// Package protocol implements the Bedrock wire layer: packet framing, the
// compression envelope, and the catalog of typed handshake packets.
package protocol

import "time"

// Wire-level constants shared across the framing, compression, and catalog
// pieces of the pipeline.
const (
	// LeaderByte is unconditionally the first byte of every outbound
	// game-layer payload handed to RakNet.
	LeaderByte byte = 0xFE

	// Compression method bytes (see spec §6.4).
	CompressionZlib   byte = 0x00
	CompressionSnappy byte = 0x01
	CompressionNone   byte = 0xFF

	// MaxPacketID bounds the ids the catalog is willing to resolve; ids
	// beyond this are still carried as opaque bytes but are never looked up.
	MaxPacketID = 511
)

// Handshake packet ids (spec §6.5). Ids for non-handshake game packets are
// catalog-defined by callers via Catalog.Register.
const (
	IDRequestNetworkSettings       uint32 = 0xc1
	IDNetworkSettings               uint32 = 0x8f
	IDLogin                          uint32 = 0x01
	IDPlayStatus                     uint32 = 0x02
	IDServerToClientHandshake        uint32 = 0x03
	IDClientToServerHandshake        uint32 = 0x04
	IDDisconnect                     uint32 = 0x05
	IDResourcePacksInfo              uint32 = 0x06
	IDResourcePackStack              uint32 = 0x07
	IDResourcePackClientResponse     uint32 = 0x08
	IDStartGame                      uint32 = 0x0b
	IDRequestChunkRadius             uint32 = 0x45
	IDSetLocalPlayerAsInitialized    uint32 = 0x71
	IDServerboundLoadingScreenPacket uint32 = 0xaa
	IDClientCacheStatus              uint32 = 0x81 // 129
)

// PlayStatus values carried in a PlayStatusPacket.
const (
	PlayStatusLoginSuccess              int32 = 0
	PlayStatusLoginFailedClient         int32 = 1
	PlayStatusLoginFailedServer         int32 = 2
	PlayStatusPlayerSpawn               int32 = 3
	PlayStatusLoginFailedInvalidTenant  int32 = 4
	PlayStatusLoginFailedVanillaEdu     int32 = 5
	PlayStatusLoginFailedEduVanilla     int32 = 6
	PlayStatusLoginFailedServerFull     int32 = 7
)

// ResourcePack response codes.
const (
	PackResponseRefused            byte = 1
	PackResponseSendPacks           byte = 2
	PackResponseAllPacksDownloaded  byte = 3
	PackResponseCompleted           byte = 4
)

// DefaultCompressionThreshold is the threshold a Session uses (and a server
// sends in NetworkSettings) when its config sets none.
var DefaultCompressionThreshold uint16 = 512

// HandshakeTimeout bounds how long a Session waits in a pre-ENCRYPTED state
// before it is considered stalled. RakNet's own connection timeout (the spec
// default of two minutes) is the real keepalive; this is a looser upper bound
// used only to free resources on a peer that never completes login.
const HandshakeTimeout = 2 * time.Minute
