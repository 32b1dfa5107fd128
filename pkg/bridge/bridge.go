// Package bridge couples two Sessions — a server-role Session facing a real
// Bedrock client and a client-role Session facing a real Bedrock server —
// into a transparent MITM pipeline (spec §4.9). It owns the interception,
// pre-StartGame chunk queue, and ClientCacheStatus rewrite the two Sessions
// can't do on their own, grounded on the teacher's Router
// (relay/server/router.go): decrypt-on-one-side/re-encrypt-on-the-other
// becomes decode-on-one-Session/re-encode-into-the-other here, and the
// atomic stats counters follow RouterStats directly.
package bridge

import (
	"crypto/ecdsa"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/brinebound/baltica/pkg/auditstore"
	"github.com/brinebound/baltica/pkg/authbroker"
	"github.com/brinebound/baltica/pkg/crypto"
	"github.com/brinebound/baltica/pkg/dispatcher"
	"github.com/brinebound/baltica/pkg/logging"
	"github.com/brinebound/baltica/pkg/protocol"
	"github.com/brinebound/baltica/pkg/raknetiface"
	"github.com/brinebound/baltica/pkg/session"
)

// Config configures a Bridge Pair.
type Config struct {
	// DownstreamConn carries traffic between the Bridge and the real
	// client; the Bridge plays the server role on it.
	DownstreamConn raknetiface.Conn

	// UpstreamAddress/UpstreamDialer originate the upstream Session once
	// the downstream Session reaches LOGGED_IN — not before (spec §4.9
	// Lifecycle: "the Bridge Pair is born when D has completed its own
	// handshake ... at that moment the bridge constructs U and connects
	// it to the real server").
	UpstreamAddress string
	UpstreamDialer  raknetiface.Dialer

	Protocol             int32
	CompressionThreshold uint16
	ChunkRadius          int32

	Catalog *protocol.Catalog
	Logger  *logging.Logger
	Audit   *auditstore.Store

	// TrustedRoot/RequireTrustedRoot gate the real client's Login on the
	// Bridge's downstream Session, exactly as a plain server would.
	TrustedRoot        *ecdsa.PublicKey
	RequireTrustedRoot bool
}

// Stats counts traffic a Pair has routed, grounded on the teacher's
// RouterStats (relay/server/router.go).
type Stats struct {
	ClientboundForwarded atomic.Uint64
	ClientboundCancelled atomic.Uint64
	ServerboundForwarded atomic.Uint64
	ServerboundCancelled atomic.Uint64
	ChunksQueued         atomic.Uint64
	ChunksFlushed        atomic.Uint64
}

// StatsSnapshot is a point-in-time, non-atomic copy of Stats, the shape the
// inspector feed and any polling caller want.
type StatsSnapshot struct {
	ClientboundForwarded uint64
	ClientboundCancelled uint64
	ServerboundForwarded uint64
	ServerboundCancelled uint64
	ChunksQueued         uint64
	ChunksFlushed        uint64
}

// Pair is one MITM session: a downstream (server-role) Session paired with
// an upstream (client-role) Session, with interception wired between them.
type Pair struct {
	cfg     Config
	log     *logging.Logger
	catalog *protocol.Catalog

	Downstream *session.Session
	// Upstream is nil until the downstream Session reaches LOGGED_IN (spec
	// §4.9 Lifecycle). Access it through upstreamSession, which takes mu.
	Upstream *session.Session

	clientbound *interceptRegistry // traffic flowing server -> real client
	serverbound *interceptRegistry // traffic flowing client -> real server

	stats Stats

	mu                      sync.Mutex
	pendingStartGame        *protocol.StartGamePacket
	downstreamStartGameSent bool
	chunkQueue              [][]byte

	startGameReady chan struct{}
	startGameOnce  sync.Once

	clientProfile authbroker.Profile
}

// NewPair constructs a Pair and its downstream Session. The upstream Session
// is built by onDownstreamLoggedIn once the downstream reaches LOGGED_IN.
// Call Run to drive the downstream Session.
func NewPair(cfg Config) *Pair {
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = protocol.NewCatalog()
	}

	p := &Pair{
		cfg:            cfg,
		log:            log,
		catalog:        catalog,
		clientbound:    newInterceptRegistry(),
		serverbound:    newInterceptRegistry(),
		startGameReady: make(chan struct{}),
	}

	p.Downstream = session.New(session.Config{
		Role:                 session.RoleServer,
		Conn:                 cfg.DownstreamConn,
		Protocol:             cfg.Protocol,
		CompressionThreshold: cfg.CompressionThreshold,
		Catalog:              catalog,
		Logger:               log,
		Audit:                cfg.Audit,
		TrustedRoot:          cfg.TrustedRoot,
		RequireTrustedRoot:   cfg.RequireTrustedRoot,
		StartGameProvider:    p.provideStartGame,
		OnStartGameSent:      p.onDownstreamStartGameSent,
	})
	// U is not constructed here: spec §4.9 Lifecycle requires the Bridge
	// Pair construct and connect U only once D has completed its own
	// handshake and reached LOGGED_IN. onDownstreamLoggedIn does that.
	p.Downstream.OnLoggedIn = p.onDownstreamLoggedIn

	p.Downstream.RawHandler = p.handleServerbound

	p.Downstream.On("RequestChunkRadius", func(name string, pk interface{}) error {
		up := p.upstreamSession()
		if up == nil {
			return nil
		}
		rc := pk.(*protocol.RequestChunkRadiusPacket)
		return up.Send(&protocol.RequestChunkRadiusPacket{ChunkRadius: rc.ChunkRadius})
	})
	p.Downstream.On("SetLocalPlayerAsInitialized", func(name string, pk interface{}) error {
		up := p.upstreamSession()
		if up == nil {
			return nil
		}
		return up.Send(&protocol.SetLocalPlayerAsInitializedPacket{RuntimeEntityID: p.upstreamRuntimeEntityID()})
	})
	p.Downstream.On("ServerboundLoadingScreen", func(name string, pk interface{}) error {
		up := p.upstreamSession()
		if up == nil {
			return nil
		}
		ls := pk.(*protocol.ServerboundLoadingScreenPacket)
		return up.Send(&protocol.ServerboundLoadingScreenPacket{Type: ls.Type, HasScreenID: ls.HasScreenID, ScreenID: ls.ScreenID})
	})

	p.Downstream.OnDisconnect = func(reason string) {
		if up := p.upstreamSession(); up != nil {
			up.Disconnect(reason)
		}
	}

	return p
}

// onDownstreamLoggedIn is D's OnLoggedIn hook: it builds U's identity from
// D's own verified client-data payload (spec §4.9: "U inherits the identity
// payload of D ... so the real server sees a faithful forward of the
// user"), dials the real server, and starts U. It runs exactly once, at the
// moment D reaches LOGGED_IN — never before.
func (p *Pair) onDownstreamLoggedIn() {
	p.mu.Lock()
	p.clientProfile = p.Downstream.Profile()
	p.mu.Unlock()

	kp, err := crypto.GenerateIdentityKeyPair()
	if err != nil {
		p.log.Warn("bridge: generate upstream identity key", logging.Fields{"error": err.Error()})
		p.Downstream.Disconnect("disconnectionScreen.internalError")
		return
	}
	identity, err := authbroker.CreateOfflineForUpstream(kp, p.clientProfile.DisplayName, p.cfg.UpstreamAddress, p.Downstream.ClientPayload())
	if err != nil {
		p.log.Warn("bridge: build upstream identity", logging.Fields{"error": err.Error()})
		p.Downstream.Disconnect("disconnectionScreen.internalError")
		return
	}

	conn, err := p.cfg.UpstreamDialer.Dial(p.cfg.UpstreamAddress)
	if err != nil {
		p.log.Warn("bridge: dial upstream", logging.Fields{"address": p.cfg.UpstreamAddress, "error": err.Error()})
		p.Downstream.Disconnect("disconnectionScreen.noReason")
		return
	}

	up := session.New(session.Config{
		Role:                 session.RoleClient,
		Conn:                 conn,
		Protocol:             p.cfg.Protocol,
		CompressionThreshold: p.cfg.CompressionThreshold,
		Catalog:              p.catalog,
		Logger:               p.log,
		Identity:             identity,
		ChunkRadius:          p.cfg.ChunkRadius,
	})
	// Past LOGGED_IN, resource-pack/play-status/StartGame traffic on the
	// upstream Session is this Pair's business, not the Session's own
	// auto-reply logic (spec §4.9).
	up.SetCancelPastLogin(true)
	up.RawHandler = p.handleClientbound
	up.OnDisconnect = func(reason string) { p.Downstream.Disconnect(reason) }

	p.mu.Lock()
	p.Upstream = up
	p.mu.Unlock()

	go up.Serve()
}

func (p *Pair) upstreamSession() *session.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Upstream
}

// Run drives the downstream Session until the pair tears down. The
// upstream Session is driven separately, starting only once
// onDownstreamLoggedIn constructs it.
func (p *Pair) Run() {
	p.Downstream.Serve()
}

// OnClientbound registers fn to intercept decoded packets named name
// flowing from the real server to the real client. Registering for a name
// forces the Bridge to decode and, if fn reports Modified, re-encode that
// packet rather than forwarding its raw bytes untouched.
func (p *Pair) OnClientbound(name string, fn dispatcher.InterceptHandler) {
	p.clientbound.On(name, fn)
}

// OnServerbound registers fn to intercept decoded packets named name
// flowing from the real client to the real server.
func (p *Pair) OnServerbound(name string, fn dispatcher.InterceptHandler) {
	p.serverbound.On(name, fn)
}

// ClientProfile returns the real client's authenticated Profile, valid once
// its Login completes, for logging/audit consumers. U presents its own
// offline identity upstream (see onDownstreamLoggedIn), built from D's
// client-data payload rather than D's cryptographic identity itself.
func (p *Pair) ClientProfile() authbroker.Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientProfile
}

// Stats returns a point-in-time snapshot of routed-traffic counters.
func (p *Pair) Stats() StatsSnapshot {
	return StatsSnapshot{
		ClientboundForwarded: p.stats.ClientboundForwarded.Load(),
		ClientboundCancelled: p.stats.ClientboundCancelled.Load(),
		ServerboundForwarded: p.stats.ServerboundForwarded.Load(),
		ServerboundCancelled: p.stats.ServerboundCancelled.Load(),
		ChunksQueued:         p.stats.ChunksQueued.Load(),
		ChunksFlushed:        p.stats.ChunksFlushed.Load(),
	}
}

func (p *Pair) upstreamRuntimeEntityID() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pendingStartGame == nil {
		return 0
	}
	return p.pendingStartGame.RuntimeEntityID
}

// provideStartGame is the downstream Session's StartGameProvider: it blocks
// until the upstream Session has observed the real server's StartGame
// packet, then hands back that exact packet so the real client receives it
// byte-faithfully rather than a Bridge-reconstructed one.
func (p *Pair) provideStartGame() *protocol.StartGamePacket {
	<-p.startGameReady
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pendingStartGame
}

// onDownstreamStartGameSent releases every clientbound packet queued while
// waiting for the real client to be ready for world data (spec §4.9's
// pre-StartGame chunk queue).
func (p *Pair) onDownstreamStartGameSent() {
	p.mu.Lock()
	p.downstreamStartGameSent = true
	queued := p.chunkQueue
	p.chunkQueue = nil
	p.mu.Unlock()

	for _, raw := range queued {
		if err := p.Downstream.QueueRaw(raw); err != nil {
			p.log.Warn("bridge: flush queued chunk", logging.Fields{"error": err.Error()})
		}
	}
	if len(queued) == 0 {
		return
	}
	if err := p.Downstream.Flush(); err != nil {
		p.log.Warn("bridge: flush queued chunks", logging.Fields{"error": err.Error()})
		return
	}
	p.stats.ChunksFlushed.Add(uint64(len(queued)))
}

// handleClientbound is the upstream Session's RawHandler: every packet the
// real server sends that the upstream Session's own cancelPastLogin gate
// suppressed, plus every packet the catalog never registered at all.
func (p *Pair) handleClientbound(id uint32, name string, raw []byte) bool {
	switch id {
	case protocol.IDResourcePacksInfo:
		if err := p.Upstream.Send(&protocol.ResourcePackClientResponsePacket{Response: protocol.PackResponseAllPacksDownloaded}); err != nil {
			p.log.Warn("bridge: ack ResourcePacksInfo upstream", logging.Fields{"error": err.Error()})
		}
		return true
	case protocol.IDResourcePackStack:
		if err := p.Upstream.Send(&protocol.ResourcePackClientResponsePacket{Response: protocol.PackResponseCompleted}); err != nil {
			p.log.Warn("bridge: ack ResourcePackStack upstream", logging.Fields{"error": err.Error()})
		}
		return true
	case protocol.IDStartGame:
		_, pk, err, known := p.catalog.Decode(raw)
		if err != nil || !known {
			p.log.Warn("bridge: decode StartGame", logging.Fields{"known": known, "error": fmt.Sprint(err)})
			return true
		}
		p.mu.Lock()
		p.pendingStartGame = pk.(*protocol.StartGamePacket)
		p.mu.Unlock()
		p.startGameOnce.Do(func() { close(p.startGameReady) })
		return true
	case protocol.IDPlayStatus:
		_, pk, err, known := p.catalog.Decode(raw)
		if err == nil && known {
			if ps := pk.(*protocol.PlayStatusPacket); ps.Status == protocol.PlayStatusPlayerSpawn {
				if err := p.Downstream.Send(&protocol.PlayStatusPacket{Status: protocol.PlayStatusPlayerSpawn}); err != nil {
					p.log.Warn("bridge: forward PlayerSpawn", logging.Fields{"error": err.Error()})
				}
			}
		}
		return true
	default:
		return p.forwardClientbound(id, name, raw)
	}
}

func (p *Pair) forwardClientbound(id uint32, name string, raw []byte) bool {
	p.mu.Lock()
	ready := p.downstreamStartGameSent
	if !ready {
		p.chunkQueue = append(p.chunkQueue, append([]byte(nil), raw...))
	}
	p.mu.Unlock()
	if !ready {
		p.stats.ChunksQueued.Add(1)
		return true
	}

	sig, out := p.runIntercept(p.clientbound, id, name, raw)
	if sig.Cancelled {
		p.stats.ClientboundCancelled.Add(1)
		return true
	}
	if err := p.forward(p.Downstream, out); err != nil {
		p.log.Warn("bridge: forward clientbound", logging.Fields{"id": id, "error": err.Error()})
		return true
	}
	p.stats.ClientboundForwarded.Add(1)
	return true
}

// handleServerbound is the downstream Session's RawHandler: every packet
// the real client sends that isn't one of Session's own internally handled
// handshake ids (the Bridge's downstream Session never sets
// cancelPastLogin, so this is only ever genuinely unknown/game ids plus
// ClientCacheStatus, which the catalog decodes but treats as an ordinary
// game packet).
func (p *Pair) handleServerbound(id uint32, name string, raw []byte) bool {
	if id == protocol.IDClientCacheStatus {
		_, pk, err, known := p.catalog.Decode(raw)
		if err == nil && known {
			cc := pk.(*protocol.ClientCacheStatusPacket)
			// The Bridge keeps no chunk cache of its own to key off client
			// hashes, so it never offers client-cache support upstream
			// regardless of what the real client advertised.
			cc.Enabled = false
			raw = protocol.Encode(cc)
		}
	}
	return p.forwardServerbound(id, name, raw)
}

func (p *Pair) forwardServerbound(id uint32, name string, raw []byte) bool {
	up := p.upstreamSession()
	if up == nil {
		// D is not yet LOGGED_IN, so U doesn't exist yet; nothing real to
		// forward this to.
		return true
	}

	sig, out := p.runIntercept(p.serverbound, id, name, raw)
	if sig.Cancelled {
		p.stats.ServerboundCancelled.Add(1)
		return true
	}
	if err := p.forward(up, out); err != nil {
		p.log.Warn("bridge: forward serverbound", logging.Fields{"id": id, "error": err.Error()})
		return true
	}
	p.stats.ServerboundForwarded.Add(1)
	return true
}

// forward hands an already sub-packet-encoded (id + body) buffer to dst's
// outbound batch and flushes it immediately. Raw bytes the Bridge never
// deserialized bypass Session.Send (which expects a protocol.Packet to
// encode) entirely.
func (p *Pair) forward(dst *session.Session, subPacket []byte) error {
	if err := dst.QueueRaw(subPacket); err != nil {
		return err
	}
	return dst.Flush()
}

// runIntercept decodes raw only if a listener is registered for name — the
// resolved Open Question in DESIGN.md: an unlistened packet's bytes pass
// through untouched, and a listened one is re-encoded from its decoded form
// only when a listener reports Modified; otherwise its original bytes are
// forwarded.
func (p *Pair) runIntercept(reg *interceptRegistry, id uint32, name string, raw []byte) (dispatcher.Signal, []byte) {
	if !reg.HasListeners(name) {
		return dispatcher.Signal{}, raw
	}
	_, pk, err, known := p.catalog.Decode(raw)
	if err != nil || !known {
		return dispatcher.Signal{}, raw
	}
	sig := reg.Run(name, pk)
	if sig.Modified {
		raw = protocol.Encode(pk)
	}
	return sig, raw
}
