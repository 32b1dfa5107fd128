package bridge

import (
	"testing"
	"time"

	"github.com/brinebound/baltica/pkg/authbroker"
	"github.com/brinebound/baltica/pkg/dispatcher"
	"github.com/brinebound/baltica/pkg/protocol"
	"github.com/brinebound/baltica/pkg/raknetiface"
	"github.com/brinebound/baltica/pkg/session"
)

// fixedDialer hands back a pre-wired Conn regardless of the address it's
// asked to dial, standing in for a real RakNet dialer in tests.
type fixedDialer struct {
	conn raknetiface.Conn
}

func (d fixedDialer) Dial(address string) (raknetiface.Conn, error) {
	return d.conn, nil
}

func demoStartGame() *protocol.StartGamePacket {
	return &protocol.StartGamePacket{
		EntityIDSelf:    42,
		RuntimeEntityID: 42,
		PlayerGameMode:  0,
		PlayerPosition:  [3]float32{1, 65, 1},
		LevelID:         "bridged-world",
		WorldName:       "Bridged World",
	}
}

// harness wires a real server, a Bridge Pair, and a real client back to
// back over two LoopbackConn pairs, all Serve()-running, the shape
// spec §4.9's MITM pipeline describes end to end.
type harness struct {
	realServer *session.Session
	realClient *session.Session
	pair       *Pair
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	serverConn, upstreamConn := raknetiface.NewLoopbackPair("real-server", "bridge-upstream")
	downstreamConn, clientConn := raknetiface.NewLoopbackPair("bridge-downstream", "real-client")

	clientIdentity, err := authbroker.CreateOffline("RealClient", "bridge-downstream")
	if err != nil {
		t.Fatalf("CreateOffline client: %v", err)
	}

	realServer := session.New(session.Config{
		Role:              session.RoleServer,
		Conn:              serverConn,
		Protocol:          800,
		HandshakeTimeout:  5 * time.Second,
		StartGameProvider: demoStartGame,
	})

	pair := NewPair(Config{
		DownstreamConn:  downstreamConn,
		UpstreamAddress: "real-server",
		UpstreamDialer:  fixedDialer{conn: upstreamConn},
		Protocol:        800,
	})

	realClient := session.New(session.Config{
		Role:             session.RoleClient,
		Conn:             clientConn,
		Protocol:         800,
		HandshakeTimeout: 5 * time.Second,
		Identity:         clientIdentity,
	})

	go realServer.Serve()
	go pair.Run()
	go realClient.Serve()

	h := &harness{realServer: realServer, realClient: realClient, pair: pair}
	t.Cleanup(func() {
		realClient.Disconnect("")
		pair.Downstream.Disconnect("")
		realServer.Disconnect("")
	})
	return h
}

func TestBridgeForwardsHandshakeAndStartGame(t *testing.T) {
	h := newHarness(t)

	profile, start, err := h.realClient.AwaitReady()
	if err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}
	if profile.DisplayName != "RealClient" {
		t.Fatalf("client-visible profile DisplayName = %q, want %q", profile.DisplayName, "RealClient")
	}
	if start.WorldName != "Bridged World" {
		t.Fatalf("WorldName = %q, want %q (bridge should pass the real server's StartGame through byte-faithfully)", start.WorldName, "Bridged World")
	}
	if start.RuntimeEntityID != 42 {
		t.Fatalf("RuntimeEntityID = %d, want 42", start.RuntimeEntityID)
	}

	if h.pair.ClientProfile().DisplayName != "RealClient" {
		t.Fatalf("pair.ClientProfile().DisplayName = %q, want %q", h.pair.ClientProfile().DisplayName, "RealClient")
	}
}

func TestBridgeClientCacheStatusAlwaysRewrittenFalseUpstream(t *testing.T) {
	h := newHarness(t)
	if _, _, err := h.realClient.AwaitReady(); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}

	seen := make(chan *protocol.ClientCacheStatusPacket, 1)
	h.realServer.On("ClientCacheStatus", func(name string, pk interface{}) error {
		if cc, ok := pk.(*protocol.ClientCacheStatusPacket); ok {
			seen <- cc
		}
		return nil
	})

	if err := h.realClient.Send(&protocol.ClientCacheStatusPacket{Enabled: true}); err != nil {
		t.Fatalf("realClient.Send: %v", err)
	}

	select {
	case cc := <-seen:
		if cc.Enabled {
			t.Fatal("real server observed Enabled=true; bridge should always rewrite it to false upstream")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("real server never received the forwarded ClientCacheStatus packet")
	}
}

func TestBridgeOnClientboundModifyRewritesForwardedPacket(t *testing.T) {
	h := newHarness(t)
	if _, _, err := h.realClient.AwaitReady(); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}

	h.pair.OnClientbound("ClientCacheStatus", func(name string, pk interface{}) dispatcher.Signal {
		cc := pk.(*protocol.ClientCacheStatusPacket)
		cc.Enabled = false
		return dispatcher.Signal{Modified: true}
	})

	seen := make(chan *protocol.ClientCacheStatusPacket, 1)
	h.realClient.On("ClientCacheStatus", func(name string, pk interface{}) error {
		if cc, ok := pk.(*protocol.ClientCacheStatusPacket); ok {
			seen <- cc
		}
		return nil
	})

	if err := h.realServer.Send(&protocol.ClientCacheStatusPacket{Enabled: true}); err != nil {
		t.Fatalf("realServer.Send: %v", err)
	}

	select {
	case cc := <-seen:
		if cc.Enabled {
			t.Fatal("expected the clientbound interceptor's modification (Enabled=false) to reach the real client")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("real client never received the bridged packet")
	}

	if h.pair.Stats().ClientboundForwarded == 0 {
		t.Fatal("expected ClientboundForwarded to be nonzero after a forwarded clientbound packet")
	}
}

func TestBridgeOnServerboundCancelDropsPacket(t *testing.T) {
	h := newHarness(t)
	if _, _, err := h.realClient.AwaitReady(); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}

	h.pair.OnServerbound("ClientCacheStatus", func(name string, pk interface{}) dispatcher.Signal {
		return dispatcher.Signal{Cancelled: true}
	})

	cacheStatusSeen := make(chan struct{}, 1)
	h.realServer.On("ClientCacheStatus", func(name string, pk interface{}) error {
		cacheStatusSeen <- struct{}{}
		return nil
	})
	radiusSeen := make(chan struct{}, 1)
	h.realServer.On("RequestChunkRadius", func(name string, pk interface{}) error {
		radiusSeen <- struct{}{}
		return nil
	})

	if err := h.realClient.Send(&protocol.ClientCacheStatusPacket{Enabled: true}); err != nil {
		t.Fatalf("realClient.Send ClientCacheStatus: %v", err)
	}
	if err := h.realClient.Send(&protocol.RequestChunkRadiusPacket{ChunkRadius: 12}); err != nil {
		t.Fatalf("realClient.Send RequestChunkRadius: %v", err)
	}

	select {
	case <-radiusSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("real server never received the marker RequestChunkRadius packet sent after the cancelled one")
	}

	select {
	case <-cacheStatusSeen:
		t.Fatal("a cancelled serverbound packet reached the real server")
	default:
	}

	if h.pair.Stats().ServerboundCancelled == 0 {
		t.Fatal("expected ServerboundCancelled to be nonzero")
	}
}
