package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/brinebound/baltica/pkg/auditstore"
	"github.com/brinebound/baltica/pkg/authbroker"
	"github.com/brinebound/baltica/pkg/crypto"
	"github.com/brinebound/baltica/pkg/jwt"
	"github.com/brinebound/baltica/pkg/logging"
	"github.com/brinebound/baltica/pkg/protocol"
)

// decodeClientPayload returns the unverified JSON claims of a Login
// packet's client-data JWT (spec §3's Payload record) — the client signs
// this itself, so there is no chain to walk, only the payload segment to
// decode.
func decodeClientPayload(clientJWT string) (map[string]interface{}, error) {
	raw, err := jwt.Payload(clientJWT)
	if err != nil {
		return nil, err
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("session: client-data payload: %w", err)
	}
	return payload, nil
}

// handshakeTokenPayload is the ServerToClientHandshakePacket JWT's payload
// shape (spec §4.7): salt is base64-encoded, signedToken just restates the
// server's own x5u for a peer that wants to double-check it against the
// header without a separate lookup.
type handshakeTokenPayload struct {
	Salt        string `json:"salt"`
	SignedToken string `json:"signedToken"`
}

// handleHandshakePacket runs the state-machine transition id triggers. It is
// only ever called for ids shouldHandleInternally approved, so every case
// here may assume it owns the reply to this packet. Errors returned are
// always one of the sentinels in errors.go; handleSubPacket decides whether
// that makes the packet fatal.
func (s *Session) handleHandshakePacket(id uint32, pk protocol.Packet) error {
	switch id {
	case protocol.IDRequestNetworkSettings:
		return s.onRequestNetworkSettings(pk.(*protocol.RequestNetworkSettingsPacket))
	case protocol.IDNetworkSettings:
		return s.onNetworkSettings(pk.(*protocol.NetworkSettingsPacket))
	case protocol.IDLogin:
		return s.onLogin(pk.(*protocol.LoginPacket))
	case protocol.IDServerToClientHandshake:
		return s.onServerToClientHandshake(pk.(*protocol.ServerToClientHandshakePacket))
	case protocol.IDClientToServerHandshake:
		return s.onClientToServerHandshake()
	case protocol.IDPlayStatus:
		return s.onPlayStatus(pk.(*protocol.PlayStatusPacket))
	case protocol.IDResourcePacksInfo:
		return s.onResourcePacksInfo()
	case protocol.IDResourcePackStack:
		return s.onResourcePackStack()
	case protocol.IDResourcePackClientResponse:
		return s.onResourcePackClientResponse(pk.(*protocol.ResourcePackClientResponsePacket))
	case protocol.IDStartGame:
		return s.onStartGame(pk.(*protocol.StartGamePacket))
	case protocol.IDRequestChunkRadius, protocol.IDSetLocalPlayerAsInitialized, protocol.IDServerboundLoadingScreenPacket:
		return nil // informational only; the generic dispatch in handleSubPacket surfaces these
	default:
		return nil
	}
}

// onRequestNetworkSettings: server only, AWAIT_NETSET -> AWAIT_LOGIN.
func (s *Session) onRequestNetworkSettings(pk *protocol.RequestNetworkSettingsPacket) error {
	if s.role != RoleServer || s.State() != StateAwaitNetworkSettings {
		return fmt.Errorf("%w: unexpected RequestNetworkSettings in state %s", ErrProtocol, s.State())
	}
	s.mu.Lock()
	s.compression.Enabled = true
	algorithm := uint16(0)
	if s.compression.UseSnappy {
		algorithm = 1
	}
	threshold := s.compression.Threshold
	s.mu.Unlock()

	if err := s.Send(&protocol.NetworkSettingsPacket{
		CompressionThreshold: threshold,
		CompressionAlgorithm: algorithm,
	}); err != nil {
		return fmt.Errorf("%w: send NetworkSettings: %v", ErrTransport, err)
	}
	s.setState(StateAwaitLogin)
	return nil
}

// onNetworkSettings: client only, AWAIT_NETSET -> AWAIT_HANDSHAKE, sends Login.
func (s *Session) onNetworkSettings(pk *protocol.NetworkSettingsPacket) error {
	if s.role != RoleClient || s.State() != StateAwaitNetworkSettings {
		return fmt.Errorf("%w: unexpected NetworkSettings in state %s", ErrProtocol, s.State())
	}
	if s.identity == nil {
		return fmt.Errorf("%w: client session has no identity configured", ErrAuth)
	}

	s.mu.Lock()
	s.compression.Enabled = true
	s.compression.Threshold = pk.CompressionThreshold
	s.compression.UseSnappy = pk.CompressionAlgorithm == 1
	s.mu.Unlock()

	login := &protocol.LoginPacket{
		ClientProtocol:    s.cfg.Protocol,
		ConnectionRequest: encodeConnectionRequest(s.identity.Chain, s.identity.ClientJWT),
	}
	if err := s.Send(login); err != nil {
		return fmt.Errorf("%w: send Login: %v", ErrTransport, err)
	}
	s.setState(StateAwaitHandshake)
	return nil
}

// onLogin: server only, AWAIT_LOGIN -> AWAIT_HANDSHAKE (then ENCRYPTED once
// the handshake JWT is sent). Verifies the identity chain, derives the
// shared secret, and sends ServerToClientHandshakePacket.
func (s *Session) onLogin(pk *protocol.LoginPacket) error {
	if s.role != RoleServer || s.State() != StateAwaitLogin {
		return fmt.Errorf("%w: unexpected Login in state %s", ErrProtocol, s.State())
	}

	chain, clientJWT, err := decodeConnectionRequest(pk.ConnectionRequest)
	if err != nil {
		return fmt.Errorf("%w: connection request: %v", ErrProtocol, err)
	}

	profile, identityKey, verified, err := authbroker.VerifyChain(chain, s.cfg.TrustedRoot)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if s.cfg.RequireTrustedRoot && !verified {
		return fmt.Errorf("%w: identity chain not traced to trusted root", ErrAuth)
	}

	clientPayload, err := decodeClientPayload(clientJWT)
	if err != nil {
		s.log.Warn("login: client-data JWT payload", logging.Fields{"error": err.Error()})
		clientPayload = nil
	}

	serverKey, err := crypto.GenerateIdentityKeyPair()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	sharedSecret, err := crypto.SharedSecret(serverKey.Private, identityKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	sessionKey := crypto.DeriveSessionKey(crypto.Salt[:], sharedSecret)
	enc, err := crypto.NewEncryptor(sessionKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	x5u, err := jwt.MarshalPublicKey(&serverKey.Private.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	token, err := jwt.New(jwt.Header{X5U: x5u}, handshakeTokenPayload{
		Salt:        base64.StdEncoding.EncodeToString(crypto.Salt[:]),
		SignedToken: x5u,
	}, serverKey.Private)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	s.mu.Lock()
	s.profile = profile
	s.clientPayload = clientPayload
	s.mu.Unlock()

	s.setState(StateAwaitHandshake)
	if err := s.Send(&protocol.ServerToClientHandshakePacket{JWT: token}); err != nil {
		return fmt.Errorf("%w: send ServerToClientHandshake: %v", ErrTransport, err)
	}

	// Encryption activates for whatever this side sends or receives next;
	// the handshake packet just sent travels unencrypted (spec §4.3).
	s.mu.Lock()
	s.encryptor = enc
	s.mu.Unlock()
	s.setState(StateEncrypted)

	s.log.Info("login verified", logging.Fields{"display_name": profile.DisplayName, "xuid": profile.XUID, "verified": verified})
	return nil
}

// onServerToClientHandshake: client only, AWAIT_HANDSHAKE -> ENCRYPTED.
// Installs encryption before sending the (first encrypted) reply.
func (s *Session) onServerToClientHandshake(pk *protocol.ServerToClientHandshakePacket) error {
	if s.role != RoleClient || s.State() != StateAwaitHandshake {
		return fmt.Errorf("%w: unexpected ServerToClientHandshake in state %s", ErrProtocol, s.State())
	}

	header, err := jwt.HeaderFrom(pk.JWT)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	peerPub, err := jwt.ParsePublicKey(header.X5U)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	ok, err := jwt.Verify(pk.JWT, peerPub, true)
	if err != nil || !ok {
		return fmt.Errorf("%w: handshake JWT signature invalid: %v", ErrAuth, err)
	}

	rawPayload, err := jwt.Payload(pk.JWT)
	if err != nil {
		return fmt.Errorf("%w: handshake payload: %v", ErrAuth, err)
	}
	var payload handshakeTokenPayload
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		return fmt.Errorf("%w: handshake payload: %v", ErrAuth, err)
	}
	salt, err := base64.StdEncoding.DecodeString(payload.Salt)
	if err != nil {
		return fmt.Errorf("%w: handshake salt: %v", ErrAuth, err)
	}

	sharedSecret, err := crypto.SharedSecret(s.identity.KeyPair.Private, peerPub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	sessionKey := crypto.DeriveSessionKey(salt, sharedSecret)
	enc, err := crypto.NewEncryptor(sessionKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	s.mu.Lock()
	s.encryptor = enc
	s.mu.Unlock()
	s.setState(StateEncrypted)

	if err := s.Send(&protocol.ClientToServerHandshakePacket{}); err != nil {
		return fmt.Errorf("%w: send ClientToServerHandshake: %v", ErrTransport, err)
	}
	return nil
}

// onClientToServerHandshake: server only, ENCRYPTED -> LOGGED_IN. Reaching
// this handler at all means Decrypt already succeeded on the enclosing
// batch, so the handshake is cryptographically confirmed.
func (s *Session) onClientToServerHandshake() error {
	if s.role != RoleServer || s.State() != StateEncrypted {
		return fmt.Errorf("%w: unexpected ClientToServerHandshake in state %s", ErrProtocol, s.State())
	}
	s.setState(StateLoggedIn)
	if s.OnLoggedIn != nil {
		s.OnLoggedIn()
	}

	if s.audit != nil {
		p := s.Profile()
		_ = s.audit.RecordLogin(auditstore.Login{
			PeerAddress: s.conn.RemoteAddr().String(),
			ProfileName: p.DisplayName,
			ProfileUUID: p.Identity,
			XUID:        p.XUID,
		})
	}

	if err := s.Queue(&protocol.PlayStatusPacket{Status: protocol.PlayStatusLoginSuccess}); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if err := s.Queue(&protocol.ResourcePacksInfoPacket{}); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if err := s.Queue(&protocol.ResourcePackStackPacket{}); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if err := s.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// onPlayStatus: client only. LoginSuccess moves ENCRYPTED -> LOGGED_IN;
// PlayerSpawn moves IN_GAME -> SPAWNED and ends the loading screen. Any
// other status arriving before LOGGED_IN reports a server-side login
// rejection.
func (s *Session) onPlayStatus(pk *protocol.PlayStatusPacket) error {
	if s.role != RoleClient {
		return nil
	}
	switch s.State() {
	case StateEncrypted:
		if pk.Status != protocol.PlayStatusLoginSuccess {
			return fmt.Errorf("%w: login rejected, status %d", ErrAuth, pk.Status)
		}
		s.setState(StateLoggedIn)
		return nil
	case StateInGame:
		if pk.Status != protocol.PlayStatusPlayerSpawn {
			return nil
		}
		s.setState(StateSpawned)
		rt := s.startGame.RuntimeEntityID
		if err := s.Queue(&protocol.SetLocalPlayerAsInitializedPacket{RuntimeEntityID: rt}); err != nil {
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
		if err := s.Queue(&protocol.ServerboundLoadingScreenPacket{Type: 0, HasScreenID: false}); err != nil {
			return fmt.Errorf("%w: %v", ErrTransport, err)
		}
		return s.Flush()
	default:
		return nil
	}
}

// onResourcePacksInfo: client only, LOGGED_IN. Baltica never actually
// downloads anything, so it claims every pack is already present.
func (s *Session) onResourcePacksInfo() error {
	if s.role != RoleClient {
		return nil
	}
	return s.Send(&protocol.ResourcePackClientResponsePacket{Response: protocol.PackResponseAllPacksDownloaded})
}

// onResourcePackStack: client only, LOGGED_IN.
func (s *Session) onResourcePackStack() error {
	if s.role != RoleClient {
		return nil
	}
	return s.Send(&protocol.ResourcePackClientResponsePacket{Response: protocol.PackResponseCompleted})
}

// onResourcePackClientResponse: server only, LOGGED_IN. Once the client
// reports Completed, the server hands the caller a chance to produce the
// StartGame packet.
func (s *Session) onResourcePackClientResponse(pk *protocol.ResourcePackClientResponsePacket) error {
	if s.role != RoleServer || pk.Response != protocol.PackResponseCompleted {
		return nil
	}
	if s.cfg.StartGameProvider == nil {
		return nil
	}
	sg := s.cfg.StartGameProvider()
	if sg == nil {
		return nil
	}
	if err := s.Send(sg); err != nil {
		return fmt.Errorf("%w: send StartGame: %v", ErrTransport, err)
	}
	s.setState(StateInGame)
	if s.cfg.OnStartGameSent != nil {
		s.cfg.OnStartGameSent()
	}
	return nil
}

// onStartGame: client only, LOGGED_IN -> IN_GAME. Requests a view distance
// and unblocks Connect.
func (s *Session) onStartGame(pk *protocol.StartGamePacket) error {
	if s.role != RoleClient {
		return nil
	}
	s.mu.Lock()
	s.startGame = StartGameData{
		EntityIDSelf:    pk.EntityIDSelf,
		RuntimeEntityID: pk.RuntimeEntityID,
		PlayerGameMode:  pk.PlayerGameMode,
		PlayerPosition:  pk.PlayerPosition,
		WorldSeed:       pk.WorldSeed,
		LevelID:         pk.LevelID,
		WorldName:       pk.WorldName,
	}
	start := s.startGame
	s.mu.Unlock()
	s.setState(StateInGame)

	radius := s.cfg.ChunkRadius
	if radius == 0 {
		radius = 8
	}
	if err := s.Send(&protocol.RequestChunkRadiusPacket{ChunkRadius: radius}); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	select {
	case s.connectResult <- connectOutcome{profile: s.Profile(), start: start}:
	default:
	}
	return nil
}

