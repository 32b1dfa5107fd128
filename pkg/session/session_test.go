package session

import (
	"testing"
	"time"

	"github.com/brinebound/baltica/pkg/authbroker"
	"github.com/brinebound/baltica/pkg/protocol"
	"github.com/brinebound/baltica/pkg/raknetiface"
)

func demoStartGame() *protocol.StartGamePacket {
	return &protocol.StartGamePacket{
		EntityIDSelf:    1,
		RuntimeEntityID: 1,
		PlayerGameMode:  0,
		PlayerPosition:  [3]float32{0, 64, 0},
		LevelID:         "test-world",
		WorldName:       "Test World",
	}
}

// newHandshakenPair starts a real client/server Session pair over a
// LoopbackConn and returns both, already Serve()-running in background
// goroutines; callers wait on client.AwaitReady for the handshake.
func newHandshakenPair(t *testing.T) (client, server *Session) {
	t.Helper()

	clientConn, serverConn := raknetiface.NewLoopbackPair("client", "server")

	identity, err := authbroker.CreateOffline("Tester", "loopback:1")
	if err != nil {
		t.Fatalf("CreateOffline: %v", err)
	}

	server = New(Config{
		Role:              RoleServer,
		Conn:              serverConn,
		Protocol:          800,
		HandshakeTimeout:  5 * time.Second,
		StartGameProvider: demoStartGame,
	})
	client = New(Config{
		Role:             RoleClient,
		Conn:             clientConn,
		Protocol:         800,
		HandshakeTimeout: 5 * time.Second,
		Identity:         identity,
	})

	go server.Serve()
	go client.Serve()

	t.Cleanup(func() {
		client.Disconnect("")
		server.Disconnect("")
	})

	return client, server
}

func TestSessionHandshakeReachesInGame(t *testing.T) {
	client, server := newHandshakenPair(t)

	profile, start, err := client.AwaitReady()
	if err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}
	if profile.DisplayName != "Tester" {
		t.Fatalf("DisplayName = %q, want %q", profile.DisplayName, "Tester")
	}
	if start.WorldName != "Test World" {
		t.Fatalf("WorldName = %q, want %q", start.WorldName, "Test World")
	}

	deadline := time.After(2 * time.Second)
	for client.State() != StateInGame {
		select {
		case <-deadline:
			t.Fatalf("client never reached IN_GAME, stuck in %s", client.State())
		case <-time.After(time.Millisecond):
		}
	}
	for server.State() != StateLoggedIn && server.State() != StateInGame {
		select {
		case <-deadline:
			t.Fatalf("server never reached LOGGED_IN/IN_GAME, stuck in %s", server.State())
		case <-time.After(time.Millisecond):
		}
	}

	if server.Profile().DisplayName != "Tester" {
		t.Fatalf("server's view of peer DisplayName = %q, want %q", server.Profile().DisplayName, "Tester")
	}
}

func TestSessionPacketExchangeAfterStartGame(t *testing.T) {
	client, server := newHandshakenPair(t)
	if _, _, err := client.AwaitReady(); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}

	// ClientCacheStatus is an ordinary game packet (not part of the
	// handshake's internally-handled set), so it reaches the client's
	// listeners via the normal dispatch path.
	received := make(chan *protocol.ClientCacheStatusPacket, 1)
	client.On("ClientCacheStatus", func(name string, pk interface{}) error {
		if cs, ok := pk.(*protocol.ClientCacheStatusPacket); ok {
			received <- cs
		}
		return nil
	})

	if err := server.Send(&protocol.ClientCacheStatusPacket{Enabled: true}); err != nil {
		t.Fatalf("server.Send: %v", err)
	}

	select {
	case cs := <-received:
		if !cs.Enabled {
			t.Fatal("Enabled = false, want true")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client never received the ClientCacheStatus packet it dispatched")
	}
}

func TestSessionDisconnectIsIdempotent(t *testing.T) {
	client, _ := newHandshakenPair(t)
	if _, _, err := client.AwaitReady(); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}

	if err := client.Disconnect("bye"); err != nil {
		t.Fatalf("first Disconnect: %v", err)
	}
	if err := client.Disconnect("bye again"); err != nil {
		t.Fatalf("second Disconnect should be a no-op, got: %v", err)
	}
	if client.State() != StateDisconnected {
		t.Fatalf("state = %s, want DISCONNECTED", client.State())
	}
}

func TestSessionQueueAfterCloseReturnsErrClosed(t *testing.T) {
	client, _ := newHandshakenPair(t)
	if _, _, err := client.AwaitReady(); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}
	client.Disconnect("")

	if err := client.Send(&protocol.DisconnectPacket{Message: "too late"}); err != ErrClosed {
		t.Fatalf("Send after close: got %v, want ErrClosed", err)
	}
}
