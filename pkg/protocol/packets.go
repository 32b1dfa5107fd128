package protocol

// Packet is implemented by every typed record the catalog knows how to
// produce. Marshal/Unmarshal operate on the packet body only: the leading
// packet-id varint is handled by the catalog, not by the packet itself.
type Packet interface {
	ID() uint32
	Marshal(w *Writer)
	Unmarshal(r *Reader) error
}

// RequestNetworkSettingsPacket is the first packet a client sends, carrying
// the protocol version it wants to speak.
type RequestNetworkSettingsPacket struct {
	ClientProtocol int32
}

func (p *RequestNetworkSettingsPacket) ID() uint32 { return IDRequestNetworkSettings }
func (p *RequestNetworkSettingsPacket) Marshal(w *Writer) {
	w.Int32(p.ClientProtocol)
}
func (p *RequestNetworkSettingsPacket) Unmarshal(r *Reader) error {
	p.ClientProtocol = r.Int32()
	return r.Err()
}

// NetworkSettingsPacket is the server's reply, negotiating compression.
type NetworkSettingsPacket struct {
	CompressionThreshold uint16
	CompressionAlgorithm uint16
	ClientThrottleEnabled bool
	ClientThrottleThreshold uint8
	ClientThrottleScalar  float32
}

func (p *NetworkSettingsPacket) ID() uint32 { return IDNetworkSettings }
func (p *NetworkSettingsPacket) Marshal(w *Writer) {
	w.Uint16(p.CompressionThreshold)
	w.Uint16(p.CompressionAlgorithm)
	w.Bool(p.ClientThrottleEnabled)
	w.Uint8(p.ClientThrottleThreshold)
	w.Float32(p.ClientThrottleScalar)
}
func (p *NetworkSettingsPacket) Unmarshal(r *Reader) error {
	p.CompressionThreshold = r.Uint16()
	p.CompressionAlgorithm = r.Uint16()
	p.ClientThrottleEnabled = r.Bool()
	p.ClientThrottleThreshold = r.Uint8()
	p.ClientThrottleScalar = r.Float32()
	return r.Err()
}

// LoginPacket carries the client's protocol version and its two-JWT-chain
// identity/client-data payload, encoded as raw bytes: verification of these
// chains is the job of the jwt and authbroker packages, not this struct.
type LoginPacket struct {
	ClientProtocol  int32
	ConnectionRequest []byte
}

func (p *LoginPacket) ID() uint32 { return IDLogin }
func (p *LoginPacket) Marshal(w *Writer) {
	w.Int32(p.ClientProtocol)
	w.ByteSlice(p.ConnectionRequest)
}
func (p *LoginPacket) Unmarshal(r *Reader) error {
	p.ClientProtocol = r.Int32()
	p.ConnectionRequest = r.ByteSlice()
	return r.Err()
}

// ServerToClientHandshakePacket carries the server's ES384 handshake JWT.
type ServerToClientHandshakePacket struct {
	JWT string
}

func (p *ServerToClientHandshakePacket) ID() uint32 { return IDServerToClientHandshake }
func (p *ServerToClientHandshakePacket) Marshal(w *Writer) {
	w.String(p.JWT)
}
func (p *ServerToClientHandshakePacket) Unmarshal(r *Reader) error {
	p.JWT = r.String()
	return r.Err()
}

// ClientToServerHandshakePacket is the client's empty acknowledgement, sent
// as the first packet encrypted under the freshly derived session key.
type ClientToServerHandshakePacket struct{}

func (p *ClientToServerHandshakePacket) ID() uint32          { return IDClientToServerHandshake }
func (p *ClientToServerHandshakePacket) Marshal(w *Writer)   {}
func (p *ClientToServerHandshakePacket) Unmarshal(r *Reader) error { return r.Err() }

// PlayStatusPacket communicates login outcome or spawn progression.
type PlayStatusPacket struct {
	Status int32
}

func (p *PlayStatusPacket) ID() uint32 { return IDPlayStatus }
func (p *PlayStatusPacket) Marshal(w *Writer) {
	w.Int32(p.Status)
}
func (p *PlayStatusPacket) Unmarshal(r *Reader) error {
	p.Status = r.Int32()
	return r.Err()
}

// DisconnectPacket closes the session, optionally carrying a user-facing
// message.
type DisconnectPacket struct {
	HideDisconnectScreen bool
	Message              string
}

func (p *DisconnectPacket) ID() uint32 { return IDDisconnect }
func (p *DisconnectPacket) Marshal(w *Writer) {
	w.Bool(p.HideDisconnectScreen)
	if !p.HideDisconnectScreen {
		w.String(p.Message)
	}
}
func (p *DisconnectPacket) Unmarshal(r *Reader) error {
	p.HideDisconnectScreen = r.Bool()
	if !p.HideDisconnectScreen {
		p.Message = r.String()
	}
	return r.Err()
}

// ResourcePackEntry names one resource pack within the info/stack exchange.
type ResourcePackEntry struct {
	UUID      string
	Version   string
	Size      uint64
	ContentKey string
	SubPackName string
	ContentID string
}

// ResourcePacksInfoPacket announces the server's resource packs. Baltica
// always sends this empty: resource-pack distribution is out of scope, and
// an empty list causes a conforming client to proceed straight to the stack.
type ResourcePacksInfoPacket struct {
	MustAccept      bool
	HasAddons       bool
	HasScripts      bool
	TexturePacks    []ResourcePackEntry
	BehaviorPacks   []ResourcePackEntry
}

func (p *ResourcePacksInfoPacket) ID() uint32 { return IDResourcePacksInfo }
func (p *ResourcePacksInfoPacket) Marshal(w *Writer) {
	w.Bool(p.MustAccept)
	w.Bool(p.HasAddons)
	w.Bool(p.HasScripts)
	w.Uint16(uint16(len(p.BehaviorPacks)))
	for _, e := range p.BehaviorPacks {
		writeResourcePackEntry(w, e)
	}
	w.Uint16(uint16(len(p.TexturePacks)))
	for _, e := range p.TexturePacks {
		writeResourcePackEntry(w, e)
	}
}
func (p *ResourcePacksInfoPacket) Unmarshal(r *Reader) error {
	p.MustAccept = r.Bool()
	p.HasAddons = r.Bool()
	p.HasScripts = r.Bool()
	for n := r.Uint16(); n > 0 && r.Err() == nil; n-- {
		p.BehaviorPacks = append(p.BehaviorPacks, readResourcePackEntry(r))
	}
	for n := r.Uint16(); n > 0 && r.Err() == nil; n-- {
		p.TexturePacks = append(p.TexturePacks, readResourcePackEntry(r))
	}
	return r.Err()
}

func writeResourcePackEntry(w *Writer, e ResourcePackEntry) {
	w.String(e.UUID)
	w.String(e.Version)
	w.Uint64(e.Size)
	w.String(e.ContentKey)
	w.String(e.SubPackName)
	w.String(e.ContentID)
}

func readResourcePackEntry(r *Reader) ResourcePackEntry {
	return ResourcePackEntry{
		UUID:        r.String(),
		Version:     r.String(),
		Size:        r.Uint64(),
		ContentKey:  r.String(),
		SubPackName: r.String(),
		ContentID:   r.String(),
	}
}

// ResourcePackStackPacket finalizes pack ordering. Baltica always sends it
// empty, immediately following ResourcePacksInfoPacket.
type ResourcePackStackPacket struct {
	MustAccept      bool
	BehaviorPacks   []ResourcePackEntry
	TexturePacks    []ResourcePackEntry
	BaseGameVersion string
	Experiments     bool
	ExperimentsPreviouslyToggled bool
}

func (p *ResourcePackStackPacket) ID() uint32 { return IDResourcePackStack }
func (p *ResourcePackStackPacket) Marshal(w *Writer) {
	w.Bool(p.MustAccept)
	w.Varuint32(uint32(len(p.BehaviorPacks)))
	for _, e := range p.BehaviorPacks {
		writeResourcePackEntry(w, e)
	}
	w.Varuint32(uint32(len(p.TexturePacks)))
	for _, e := range p.TexturePacks {
		writeResourcePackEntry(w, e)
	}
	w.String(p.BaseGameVersion)
	w.Bool(p.Experiments)
	w.Bool(p.ExperimentsPreviouslyToggled)
}
func (p *ResourcePackStackPacket) Unmarshal(r *Reader) error {
	p.MustAccept = r.Bool()
	for n := r.Varuint32(); n > 0 && r.Err() == nil; n-- {
		p.BehaviorPacks = append(p.BehaviorPacks, readResourcePackEntry(r))
	}
	for n := r.Varuint32(); n > 0 && r.Err() == nil; n-- {
		p.TexturePacks = append(p.TexturePacks, readResourcePackEntry(r))
	}
	p.BaseGameVersion = r.String()
	p.Experiments = r.Bool()
	p.ExperimentsPreviouslyToggled = r.Bool()
	return r.Err()
}

// ResourcePackClientResponsePacket is the client's acknowledgement of the
// pack stack. Baltica expects PackResponseCompleted since it never offers
// any packs to download.
type ResourcePackClientResponsePacket struct {
	Response byte
	PackIDs  []string
}

func (p *ResourcePackClientResponsePacket) ID() uint32 { return IDResourcePackClientResponse }
func (p *ResourcePackClientResponsePacket) Marshal(w *Writer) {
	w.Uint8(p.Response)
	w.Uint16(uint16(len(p.PackIDs)))
	for _, id := range p.PackIDs {
		w.String(id)
	}
}
func (p *ResourcePackClientResponsePacket) Unmarshal(r *Reader) error {
	p.Response = r.Uint8()
	for n := r.Uint16(); n > 0 && r.Err() == nil; n-- {
		p.PackIDs = append(p.PackIDs, r.String())
	}
	return r.Err()
}

// StartGamePacket is the large world-bootstrap record. Baltica carries only
// the fields a session or a bridge actually inspects or forwards; everything
// else rides in Extra as opaque already-serialized bytes appended verbatim,
// so a field this struct doesn't model is still forwarded byte-for-byte.
type StartGamePacket struct {
	EntityIDSelf     int64
	RuntimeEntityID  uint64
	PlayerGameMode   int32
	PlayerPosition   [3]float32
	WorldSeed        int64
	LevelID          string
	WorldName        string
	Extra            []byte
}

func (p *StartGamePacket) ID() uint32 { return IDStartGame }
func (p *StartGamePacket) Marshal(w *Writer) {
	w.Varint32(int32(p.EntityIDSelf))
	w.Varuint32(uint32(p.RuntimeEntityID))
	w.Varint32(p.PlayerGameMode)
	w.Float32(p.PlayerPosition[0])
	w.Float32(p.PlayerPosition[1])
	w.Float32(p.PlayerPosition[2])
	w.Int64(p.WorldSeed)
	w.String(p.LevelID)
	w.String(p.WorldName)
	w.Raw(p.Extra)
}
func (p *StartGamePacket) Unmarshal(r *Reader) error {
	p.EntityIDSelf = int64(r.Varint32())
	p.RuntimeEntityID = uint64(r.Varuint32())
	p.PlayerGameMode = r.Varint32()
	p.PlayerPosition[0] = r.Float32()
	p.PlayerPosition[1] = r.Float32()
	p.PlayerPosition[2] = r.Float32()
	p.WorldSeed = r.Int64()
	p.LevelID = r.String()
	p.WorldName = r.String()
	p.Extra = r.Remaining()
	return r.Err()
}

// RequestChunkRadiusPacket asks the server for a view distance, in chunks.
type RequestChunkRadiusPacket struct {
	ChunkRadius int32
}

func (p *RequestChunkRadiusPacket) ID() uint32 { return IDRequestChunkRadius }
func (p *RequestChunkRadiusPacket) Marshal(w *Writer) {
	w.Varint32(p.ChunkRadius)
}
func (p *RequestChunkRadiusPacket) Unmarshal(r *Reader) error {
	p.ChunkRadius = r.Varint32()
	return r.Err()
}

// SetLocalPlayerAsInitializedPacket marks the point the client considers
// itself spawned. A client-role Session sends it on reaching SPAWNED (after
// PlayStatus PlayerSpawn); receiving it changes no Session state.
type SetLocalPlayerAsInitializedPacket struct {
	RuntimeEntityID uint64
}

func (p *SetLocalPlayerAsInitializedPacket) ID() uint32 { return IDSetLocalPlayerAsInitialized }
func (p *SetLocalPlayerAsInitializedPacket) Marshal(w *Writer) {
	w.Varuint32(uint32(p.RuntimeEntityID))
}
func (p *SetLocalPlayerAsInitializedPacket) Unmarshal(r *Reader) error {
	p.RuntimeEntityID = uint64(r.Varuint32())
	return r.Err()
}

// ServerboundLoadingScreenPacket reports client loading-screen progress.
type ServerboundLoadingScreenPacket struct {
	Type       int32
	HasScreenID bool
	ScreenID   int32
}

func (p *ServerboundLoadingScreenPacket) ID() uint32 { return IDServerboundLoadingScreenPacket }
func (p *ServerboundLoadingScreenPacket) Marshal(w *Writer) {
	w.Int32(p.Type)
	w.Bool(p.HasScreenID)
	if p.HasScreenID {
		w.Int32(p.ScreenID)
	}
}
func (p *ServerboundLoadingScreenPacket) Unmarshal(r *Reader) error {
	p.Type = r.Int32()
	p.HasScreenID = r.Bool()
	if p.HasScreenID {
		p.ScreenID = r.Int32()
	}
	return r.Err()
}

// ClientCacheStatusPacket tells the server whether the client supports
// blob/chunk caching. Baltica's bridge always rewrites Enabled to false
// before forwarding upstream (see spec §9's resolution of this field's
// naming Open Question).
type ClientCacheStatusPacket struct {
	Enabled bool
}

func (p *ClientCacheStatusPacket) ID() uint32 { return IDClientCacheStatus }
func (p *ClientCacheStatusPacket) Marshal(w *Writer) {
	w.Bool(p.Enabled)
}
func (p *ClientCacheStatusPacket) Unmarshal(r *Reader) error {
	p.Enabled = r.Bool()
	return r.Err()
}
