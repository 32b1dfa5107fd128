// Package session implements the Bedrock per-connection state machine: it
// negotiates network settings, drives the Login/Handshake/ECDH/JWT sequence,
// installs symmetric encryption, frames and compresses outbound batches, and
// dispatches decoded packets to listeners. Grounded on the teacher's
// ConnectionManager (client/daemon/connection.go) and ClientConnection
// (relay/server/connection.go): the enum-plus-String() state field, the
// mutex-guarded state transitions, and the context-based goroutine lifecycle
// all carry over; the Bedrock-specific state names and transition triggers
// replace the teacher's VPN handshake.
package session

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/brinebound/baltica/pkg/authbroker"
	"github.com/brinebound/baltica/pkg/auditstore"
	"github.com/brinebound/baltica/pkg/crypto"
	"github.com/brinebound/baltica/pkg/dispatcher"
	"github.com/brinebound/baltica/pkg/logging"
	"github.com/brinebound/baltica/pkg/protocol"
	"github.com/brinebound/baltica/pkg/raknetiface"
)

// Config configures a new Session. Only the fields relevant to Role need be
// set; the other side's fields are ignored.
type Config struct {
	Role Role
	Conn raknetiface.Conn

	Protocol             int32
	CompressionThreshold uint16
	HandshakeTimeout     time.Duration

	Catalog *protocol.Catalog
	Logger  *logging.Logger
	Audit   *auditstore.Store // server-only, optional

	// Client-only.
	Identity *authbroker.Identity

	// Server-only.
	TrustedRoot        *ecdsa.PublicKey
	RequireTrustedRoot bool
	StartGameProvider  func() *protocol.StartGamePacket
	// OnStartGameSent, if set, is called immediately after a server-role
	// Session successfully sends the packet StartGameProvider produced. A
	// Bridge Pair uses this to release chunk packets it queued while
	// waiting for its downstream Session to reach this point (spec §4.9).
	OnStartGameSent func()

	// Client-only.
	ChunkRadius int32
}

// StartGameData is the subset of the server's StartGame packet a Client
// facade surfaces to its caller once the session reaches SPAWNED-adjacent
// readiness (spec §6.2: Client.Connect() → Profile × StartGameData).
type StartGameData struct {
	EntityIDSelf    int64
	RuntimeEntityID uint64
	PlayerGameMode  int32
	PlayerPosition  [3]float32
	WorldSeed       int64
	LevelID         string
	WorldName       string
}

// Session is the per-connection state machine described in spec §3/§4.7.
type Session struct {
	cfg    Config
	conn   raknetiface.Conn
	role   Role
	log    *logging.Logger
	audit  *auditstore.Store
	catalog *protocol.Catalog
	disp   *dispatcher.Dispatcher

	mu          sync.Mutex
	state       State
	compression *protocol.Compressor
	encryptor   *crypto.Encryptor

	identity *authbroker.Identity // own identity, client-only
	profile  authbroker.Profile   // peer's authenticated profile (server) or own (client)
	startGame StartGameData

	// clientPayload is the peer's decoded (but unverified) client-data JWT
	// claims, captured off the Login packet on the server side (spec §3's
	// Payload record).
	clientPayload map[string]interface{}

	// cancelPastLogin, set only by a Bridge Pair on its upstream Session,
	// stops the session's own auto-reply handling of resource-pack/
	// play-status/StartGame packets once LOGGED_IN so the Bridge can
	// observe and forward them itself (spec §4.9).
	cancelPastLogin bool

	// RawHandler, when set, receives every packet this Session does not
	// handle internally (non-handshake ids, plus the ids cancelPastLogin
	// gives up once LOGGED_IN), after the catalog decode and before
	// Dispatch; a packet that fails to decode is dropped before it gets
	// here. Returning true means the
	// handler fully owns this packet (forwarded, dropped, or queued) and
	// Session does nothing further with it. A Bridge Pair installs this
	// on both of its Sessions to implement interception (spec §4.9); a
	// plain Client/Server facade leaves it nil.
	RawHandler func(id uint32, name string, raw []byte) (handled bool)

	// OnLoggedIn is called exactly once, after a server-role Session
	// reaches LOGGED_IN (spec §4.7) — i.e. once the client's Login has
	// been verified, encryption installed, and the handshake
	// cryptographically confirmed. A Bridge Pair sets this on its
	// downstream Session to defer constructing its upstream Session until
	// this point, as spec §4.9's Lifecycle requires.
	OnLoggedIn func()

	// OnDisconnect is called exactly once, from Disconnect, with the
	// reason string (the Disconnect packet's message when available).
	OnDisconnect func(reason string)

	pendingMu sync.Mutex
	pending   [][]byte

	closeOnce sync.Once
	closed    chan struct{}

	connectResult chan connectOutcome // client-only, buffered 1

	ctx    context.Context
	cancel context.CancelFunc
}

type connectOutcome struct {
	profile authbroker.Profile
	start   StartGameData
	err     error
}

// New constructs a Session in state CONNECTING. Call Serve to drive it.
func New(cfg Config) *Session {
	if cfg.Catalog == nil {
		cfg.Catalog = protocol.NewCatalog()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = protocol.HandshakeTimeout
	}
	if cfg.CompressionThreshold == 0 {
		cfg.CompressionThreshold = protocol.DefaultCompressionThreshold
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:     cfg,
		conn:    cfg.Conn,
		role:    cfg.Role,
		log:     cfg.Logger.WithPeer(cfg.Conn.RemoteAddr().String()),
		audit:   cfg.Audit,
		catalog: cfg.Catalog,
		disp:    dispatcher.New(),
		state:   StateConnecting,
		compression: &protocol.Compressor{Threshold: cfg.CompressionThreshold},
		identity: cfg.Identity,
		closed:   make(chan struct{}),
		connectResult: make(chan connectOutcome, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.disp.ErrorHandler = func(name string, err error) {
		s.log.Warn("listener error", logging.Fields{"packet": name, "error": err.Error()})
	}
	if cfg.Role == RoleClient && cfg.Identity != nil {
		s.profile = cfg.Identity.Profile
	}
	return s
}

// Conn returns the underlying raknetiface.Conn this Session drives.
func (s *Session) Conn() raknetiface.Conn {
	return s.conn
}

// State returns the Session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	s.log.Debug("state transition", logging.Fields{"from": prev.String(), "to": next.String()})
}

func (s *Session) isEncrypted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encryptor != nil
}

// Profile returns the peer's authenticated profile (server role) or this
// session's own profile (client role). Valid once LOGGED_IN.
func (s *Session) Profile() authbroker.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// ClientPayload returns a copy of the peer's decoded client-data JWT
// claims captured off its Login packet (server role only; valid once
// LOGGED_IN). A Bridge Pair uses this to build its upstream Session's own
// client-data JWT (spec §4.9).
func (s *Session) ClientPayload() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]interface{}, len(s.clientPayload))
	for k, v := range s.clientPayload {
		out[k] = v
	}
	return out
}

// On registers fn for packets named name (or the generic "packet" name),
// the outward subscription primitive from spec §6.2.
func (s *Session) On(name string, fn dispatcher.Handler) (off func()) {
	return s.disp.On(name, fn)
}

// HasListeners reports whether any listener would fire for name.
func (s *Session) HasListeners(name string) bool {
	return s.disp.HasListeners(name)
}

// AwaitReady blocks until a client-role Session has received StartGame (or
// closed before getting there), the primitive a Client facade's Connect
// builds on.
func (s *Session) AwaitReady() (authbroker.Profile, StartGameData, error) {
	out := <-s.connectResult
	return out.profile, out.start, out.err
}

// SetCancelPastLogin is used only by a Bridge Pair on its upstream Session.
func (s *Session) SetCancelPastLogin(v bool) {
	s.mu.Lock()
	s.cancelPastLogin = v
	s.mu.Unlock()
}

// Queue appends pk to the pending outbound batch without sending it.
func (s *Session) Queue(pk protocol.Packet) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	s.pendingMu.Lock()
	s.pending = append(s.pending, protocol.Encode(pk))
	s.pendingMu.Unlock()
	return nil
}

// QueueRaw appends an already-encoded sub-packet (id + body) to the pending
// batch, the path a Bridge Pair uses to forward bytes it never deserialized.
func (s *Session) QueueRaw(subPacket []byte) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	s.pendingMu.Lock()
	s.pending = append(s.pending, append([]byte(nil), subPacket...))
	s.pendingMu.Unlock()
	return nil
}

// Flush sends every pending sub-packet as one batch (spec §5: sending never
// suspends after the handshake — frame→deflate→encrypt→hand to RakNet is
// synchronous).
func (s *Session) Flush() error {
	s.pendingMu.Lock()
	batch := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return s.sendBatch(batch)
}

// Send queues pk and immediately flushes, the common case of sending one
// packet (spec §6.2).
func (s *Session) Send(pk protocol.Packet) error {
	if err := s.Queue(pk); err != nil {
		return err
	}
	return s.Flush()
}

func (s *Session) sendBatch(subPackets [][]byte) error {
	framed := protocol.Frame(subPackets)

	s.mu.Lock()
	enc := s.encryptor
	compression := s.compression
	s.mu.Unlock()

	var out []byte
	if enc != nil {
		// Once encryption is active, no compression-method byte is ever
		// emitted (spec §4.3 step 3); Baltica resolves the accompanying
		// ambiguity by never compressing an already-encrypted batch — see
		// DESIGN.md.
		ciphertext := enc.Encrypt(framed)
		out = make([]byte, 0, 1+len(ciphertext))
		out = append(out, protocol.LeaderByte)
		out = append(out, ciphertext...)
	} else {
		method, payload, err := compression.Deflate(framed)
		if err != nil {
			return fmt.Errorf("session: deflate: %w", err)
		}
		out = make([]byte, 0, 2+len(payload))
		out = append(out, protocol.LeaderByte, byte(method))
		out = append(out, payload...)
	}

	if err := s.conn.WritePacket(out); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

func (s *Session) parseBatch(batch []byte) ([][]byte, error) {
	if len(batch) < 1 || batch[0] != protocol.LeaderByte {
		return nil, fmt.Errorf("%w: missing leader byte", ErrProtocol)
	}
	rest := batch[1:]

	s.mu.Lock()
	enc := s.encryptor
	compression := s.compression
	s.mu.Unlock()

	var framed []byte
	if enc != nil {
		plain, err := enc.Decrypt(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
		}
		framed = plain
	} else {
		if len(rest) < 1 {
			return nil, fmt.Errorf("%w: missing compression method byte", ErrProtocol)
		}
		method := protocol.CompressionMethod(rest[0])
		payload := rest[1:]
		out, err := compression.Inflate(method, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		framed = out
	}
	return protocol.Unframe(framed)
}

// Disconnect tears the session down, idempotently (spec §5/§8 law 10),
// sending a Disconnect packet carrying reason when the session is still
// able to send one.
func (s *Session) Disconnect(reason string) error {
	return s.teardown(reason, true)
}

// receiveDisconnect tears the session down in response to a Disconnect
// packet the peer sent; it never originates one of its own.
func (s *Session) receiveDisconnect(reason string) {
	s.teardown(reason, false)
}

func (s *Session) teardown(reason string, sendWire bool) error {
	var sendErr error
	s.closeOnce.Do(func() {
		if sendWire {
			s.mu.Lock()
			canSend := s.encryptor != nil || s.state == StateLoggedIn || s.state == StateInGame || s.state == StateSpawned || s.state == StateAwaitLogin
			s.mu.Unlock()
			if canSend && reason != "" {
				sendErr = s.Send(&protocol.DisconnectPacket{Message: reason})
			}
		}

		s.setState(StateDisconnected)
		s.mu.Lock()
		if s.encryptor != nil {
			s.encryptor.Zero()
			s.encryptor = nil
		}
		s.mu.Unlock()

		if s.audit != nil {
			p := s.Profile()
			_ = s.audit.RecordDisconnect(s.conn.RemoteAddr().String(), p.DisplayName, reason)
		}

		s.cancel()
		_ = s.conn.Close()
		close(s.closed)

		if s.OnDisconnect != nil {
			s.OnDisconnect(reason)
		}

		select {
		case s.connectResult <- connectOutcome{err: fmt.Errorf("%w: %s", ErrTransport, reason)}:
		default:
		}
	})
	return sendErr
}

// fatal logs err, sends a Disconnect packet carrying wireReason when
// non-empty, and closes the session. Used for ProtocolError/AuthError paths
// that must notify the peer (spec §7); EncryptionError paths also come
// through here, with the empty reason fatalWireReason gives them, so no
// Disconnect packet is sent.
func (s *Session) fatal(err error, wireReason string) {
	s.log.Error("fatal session error", logging.Fields{"error": err.Error()})
	s.Disconnect(wireReason)
}

// Serve drives the Session's read loop until the connection closes or a
// fatal error occurs. It blocks; callers run it in its own goroutine (the
// teacher's readLoop/writeLoop pattern, generalized to one loop here since
// Bedrock's batches are request/response driven rather than independently
// streamed).
func (s *Session) Serve() {
	if s.role == RoleClient {
		s.setState(StateAwaitNetworkSettings)
		if err := s.Send(&protocol.RequestNetworkSettingsPacket{ClientProtocol: s.cfg.Protocol}); err != nil {
			s.fatal(fmt.Errorf("%w: send RequestNetworkSettings: %v", ErrTransport, err), "")
			return
		}
	} else {
		s.setState(StateAwaitNetworkSettings)
	}

	timer := time.AfterFunc(s.cfg.HandshakeTimeout, func() {
		if st := s.State(); st != StateDisconnected && st < StateEncrypted {
			s.fatal(fmt.Errorf("%w: handshake timed out", ErrProtocol), "timed out")
		}
	})
	defer timer.Stop()

	for {
		batch, err := s.conn.ReadPacket()
		if err != nil {
			select {
			case <-s.closed:
			default:
				s.fatal(fmt.Errorf("%w: %v", ErrTransport, err), "")
			}
			return
		}

		subPackets, err := s.parseBatch(batch)
		if err != nil {
			if isFatalCategory(err) {
				s.fatal(err, fatalWireReason(err))
				return
			}
			s.log.Warn("dropping unparseable batch", logging.Fields{"error": err.Error()})
			continue
		}

		for _, sub := range subPackets {
			if s.handleSubPacket(sub) {
				return // fatal error already handled
			}
		}
	}
}

// handleSubPacket processes one decoded sub-packet. It returns true if the
// session was torn down as a result (the caller should stop reading).
func (s *Session) handleSubPacket(raw []byte) (stopped bool) {
	id, pk, decodeErr, known := s.catalog.Decode(raw)
	if decodeErr != nil {
		// Per-packet decode failure is never fatal (spec §7): log and
		// drop, keep serving.
		s.log.Warn("decode error", logging.Fields{"id": id, "error": decodeErr.Error()})
		return false
	}

	name, isHandshakeID := handshakeName(id)
	if isHandshakeID && s.shouldHandleInternally(id) {
		if id == protocol.IDDisconnect {
			if dc, ok := pk.(*protocol.DisconnectPacket); ok {
				s.receiveDisconnect(dc.Message)
			}
			return true
		}
		if err := s.handleHandshakePacket(id, pk); err != nil {
			if isFatalCategory(err) {
				s.fatal(err, fatalWireReason(err))
				return true
			}
			s.log.Warn("handshake packet error", logging.Fields{"id": id, "error": err.Error()})
		}
		if s.disp.HasListeners(name) {
			s.disp.Dispatch(name, pk)
		}
		return false
	}

	if s.RawHandler != nil {
		if s.RawHandler(id, name, raw) {
			return false
		}
	}

	if !known {
		// Unknown ids are tolerated; route them by numeric id as opaque
		// bytes (spec §4.1).
		genericName := fmt.Sprintf("packet:0x%x", id)
		if s.disp.HasListeners(genericName) || s.disp.HasListeners("packet") {
			s.disp.Dispatch(genericName, raw)
		}
		return false
	}

	if !s.disp.HasListeners(name) {
		return false
	}
	s.disp.Dispatch(name, pk)
	return false
}

// shouldHandleInternally reports whether id's normal state-machine handling
// should run. It is false exactly when a Bridge Pair's upstream Session has
// set cancelPastLogin and the session is already LOGGED_IN — at that point
// resource-pack/play-status/StartGame traffic is the Bridge's business, not
// the Session's own auto-reply logic (spec §4.9). Disconnect and Login/
// handshake-core ids are always handled internally regardless.
func (s *Session) shouldHandleInternally(id uint32) bool {
	s.mu.Lock()
	cancel := s.cancelPastLogin
	state := s.state
	s.mu.Unlock()

	if !cancel || state == StateConnecting || state == StateAwaitNetworkSettings ||
		state == StateAwaitLogin || state == StateAwaitHandshake || state == StateEncrypted {
		return true
	}
	switch id {
	case protocol.IDDisconnect:
		return true
	case protocol.IDResourcePacksInfo, protocol.IDResourcePackStack, protocol.IDStartGame, protocol.IDPlayStatus:
		return false
	default:
		return true
	}
}

func handshakeName(id uint32) (name string, isHandshake bool) {
	switch id {
	case protocol.IDRequestNetworkSettings:
		return "RequestNetworkSettings", true
	case protocol.IDNetworkSettings:
		return "NetworkSettings", true
	case protocol.IDLogin:
		return "Login", true
	case protocol.IDServerToClientHandshake:
		return "ServerToClientHandshake", true
	case protocol.IDClientToServerHandshake:
		return "ClientToServerHandshake", true
	case protocol.IDPlayStatus:
		return "PlayStatus", true
	case protocol.IDDisconnect:
		return "Disconnect", true
	case protocol.IDResourcePacksInfo:
		return "ResourcePacksInfo", true
	case protocol.IDResourcePackStack:
		return "ResourcePackStack", true
	case protocol.IDResourcePackClientResponse:
		return "ResourcePackClientResponse", true
	case protocol.IDStartGame:
		return "StartGame", true
	case protocol.IDRequestChunkRadius:
		return "RequestChunkRadius", true
	case protocol.IDSetLocalPlayerAsInitialized:
		return "SetLocalPlayerAsInitialized", true
	case protocol.IDServerboundLoadingScreenPacket:
		return "ServerboundLoadingScreen", true
	case protocol.IDClientCacheStatus:
		return "ClientCacheStatus", false // treated as an ordinary game packet, not a state-machine input
	default:
		return fmt.Sprintf("packet:0x%x", id), false
	}
}

func isFatalCategory(err error) bool {
	return errors.Is(err, ErrProtocol) || errors.Is(err, ErrAuth) || errors.Is(err, ErrEncryption) || errors.Is(err, ErrTransport)
}

func fatalWireReason(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return "version mismatch"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrEncryption):
		return "" // no Disconnect packet on encryption failure (spec §7)
	default:
		return ""
	}
}

// connectionRequest is the Login packet's JSON-encoded chain wrapper,
// carried alongside the raw client-data JWT in Login.ConnectionRequest.
type connectionRequest struct {
	Chain []string `json:"chain"`
}

func encodeConnectionRequest(chain []string, clientJWT string) []byte {
	chainJSON, _ := json.Marshal(connectionRequest{Chain: chain})
	w := protocol.NewWriter()
	w.String(string(chainJSON))
	w.String(clientJWT)
	return w.Bytes()
}

func decodeConnectionRequest(raw []byte) (chain []string, clientJWT string, err error) {
	r := protocol.NewReader(raw)
	chainJSON := r.String()
	clientJWT = r.String()
	if err := r.Err(); err != nil {
		return nil, "", err
	}
	var wrap connectionRequest
	if err := json.Unmarshal([]byte(chainJSON), &wrap); err != nil {
		return nil, "", fmt.Errorf("session: decode connection request chain: %w", err)
	}
	return wrap.Chain, clientJWT, nil
}
