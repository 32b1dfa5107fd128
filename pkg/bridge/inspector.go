package bridge

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brinebound/baltica/pkg/dispatcher"
	"github.com/brinebound/baltica/pkg/logging"
	"github.com/brinebound/baltica/pkg/protocol"
)

// Event is one line of the Inspector's live feed: a packet the Bridge
// decoded for interception in either direction, published after that
// packet's specific listeners ran.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Direction string    `json:"direction"` // "clientbound" or "serverbound"
	PacketID  uint32    `json:"packet_id"`
	Name      string    `json:"name"`
	Size      int       `json:"size"`
	Cancelled bool      `json:"cancelled"`
}

// Inspector broadcasts Bridge traffic to connected websocket viewers — a
// read-only feed for watching a Pair's traffic live, grounded on
// cmd/relay-server/main.go's Upgrader + per-connection send channel +
// broadcast pattern, repurposed here from peer-to-peer relaying to a
// one-way fan-out of observed events.
type Inspector struct {
	log      *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	viewers map[*inspectorViewer]struct{}
}

type inspectorViewer struct {
	conn *websocket.Conn
	send chan []byte
}

// NewInspector returns an Inspector ready to be attached to one or more
// Pairs and served over HTTP.
func NewInspector(log *logging.Logger) *Inspector {
	if log == nil {
		log = logging.Default()
	}
	return &Inspector{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		viewers: make(map[*inspectorViewer]struct{}),
	}
}

// Attach registers generic observers on p's interception registries. Each
// packet that reaches interception and decodes through the catalog is
// published to this Inspector's viewers, after its specific listeners ran.
// Packets queued before StartGame and flushed later, the handshake packets
// the Pair answers itself (ResourcePacksInfo/Stack, StartGame, PlayStatus),
// and ids the catalog cannot decode are not published, and Attach never
// sets Cancelled. Registering under the generic "packet" name means
// Attach forces the Bridge to decode every packet reaching interception, trading some
// throughput for visibility — callers that don't need a live feed should
// simply not Attach one.
func (i *Inspector) Attach(p *Pair) {
	p.OnClientbound(genericName, func(name string, pk interface{}) dispatcher.Signal {
		i.Publish(eventFor("clientbound", name, pk))
		return dispatcher.Signal{}
	})
	p.OnServerbound(genericName, func(name string, pk interface{}) dispatcher.Signal {
		i.Publish(eventFor("serverbound", name, pk))
		return dispatcher.Signal{}
	})
}

func eventFor(direction, name string, pk interface{}) Event {
	ev := Event{Timestamp: time.Now(), Direction: direction, Name: name}
	if typed, ok := pk.(protocol.Packet); ok {
		ev.PacketID = typed.ID()
		ev.Size = len(protocol.Encode(typed))
	}
	return ev
}

// ServeHTTP upgrades the request to a websocket and streams Events to it
// until the viewer disconnects.
func (i *Inspector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := i.upgrader.Upgrade(w, r, nil)
	if err != nil {
		i.log.Warn("inspector: upgrade failed", logging.Fields{"error": err.Error()})
		return
	}

	v := &inspectorViewer{conn: conn, send: make(chan []byte, 256)}
	i.mu.Lock()
	i.viewers[v] = struct{}{}
	i.mu.Unlock()

	defer func() {
		i.mu.Lock()
		delete(i.viewers, v)
		i.mu.Unlock()
		conn.Close()
	}()

	go func() {
		for frame := range v.send {
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}()

	// The feed is one-way; the read loop exists only to notice the viewer
	// closing the socket (control frames, or an unexpected client message).
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			close(v.send)
			return
		}
	}
}

// Publish encodes ev and fans it out to every connected viewer, dropping
// it for any viewer whose send buffer is full rather than blocking the
// Bridge's forwarding path on a slow client.
func (i *Inspector) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	for v := range i.viewers {
		select {
		case v.send <- data:
		default:
			i.log.Warn("inspector: viewer send buffer full, dropping event")
		}
	}
}
