package raknetiface

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// WSConn adapts a gorilla/websocket connection to the Conn interface,
// grounded on shared/networking/transport.go's Transport: a binary
// websocket message here carries exactly one batch buffer, as Session
// hands it to WritePacket (framed, 0xFE leader included), the
// same way Transport carries one encoded protocol.Message per frame.
//
// WSConn exists because spec §6.1 places RakNet's reliability/ordering
// layer out of scope, and no retrieved example ships a real RakNet
// dependency; it is a pluggable stand-in so the cmd/ binaries have a real,
// runnable transport until a genuine raknetiface.Conn is substituted.
type WSConn struct {
	conn       *websocket.Conn
	remoteAddr net.Addr
}

func newWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn, remoteAddr: wsAddr{conn.RemoteAddr()}}
}

type wsAddr struct{ net.Addr }

func (wsAddr) Network() string { return "ws" }

// ReadPacket blocks for the next binary message and returns its payload.
func (c *WSConn) ReadPacket() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("raknetiface: ws read: %w", err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

// WritePacket sends payload as a single binary message.
func (c *WSConn) WritePacket(payload []byte) error {
	if err := c.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return fmt.Errorf("raknetiface: ws write: %w", err)
	}
	return nil
}

func (c *WSConn) RemoteAddr() net.Addr { return c.remoteAddr }

func (c *WSConn) Close() error {
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing")
	_ = c.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
	return c.conn.Close()
}

// WSDialer originates an outbound Conn over a plain websocket dial,
// grounded on Transport.Connect's dialer construction.
type WSDialer struct {
	HandshakeTimeout time.Duration
}

// Dial connects to address, which must be a ws:// or wss:// URL.
func (d WSDialer) Dial(address string) (Conn, error) {
	if _, err := url.Parse(address); err != nil {
		return nil, fmt.Errorf("raknetiface: invalid dial address %q: %w", address, err)
	}

	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			nd := &net.Dialer{Timeout: timeout}
			return nd.DialContext(ctx, network, addr)
		},
	}

	conn, _, err := dialer.Dial(address, nil)
	if err != nil {
		return nil, fmt.Errorf("raknetiface: dial %s: %w", address, err)
	}
	return newWSConn(conn), nil
}

// WSListener accepts inbound Conns over an http.Server performing the
// websocket upgrade, grounded on cmd/relay-server/main.go's
// upgrader-plus-handler shape, but handing each accepted connection to a
// blocking Accept call instead of managing a peer registry itself — that
// bookkeeping belongs to pkg/server.Server, not the transport.
type WSListener struct {
	addr     net.Addr
	upgrader websocket.Upgrader
	accepted chan *WSConn
	errs     chan error
	srv      *http.Server
	ln       net.Listener
}

// NewWSListener binds addr and begins accepting websocket upgrades on it.
func NewWSListener(addr string) (*WSListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("raknetiface: listen %s: %w", addr, err)
	}

	l := &WSListener{
		addr: ln.Addr(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		accepted: make(chan *WSConn, 16),
		errs:     make(chan error, 1),
		ln:       ln,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handleUpgrade)
	l.srv = &http.Server{Handler: mux}

	go func() {
		if err := l.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			select {
			case l.errs <- err:
			default:
			}
		}
	}()

	return l, nil
}

func (l *WSListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	select {
	case l.accepted <- newWSConn(conn):
	default:
		conn.Close()
	}
}

// Accept blocks for the next upgraded connection.
func (l *WSListener) Accept() (Conn, error) {
	select {
	case c := <-l.accepted:
		return c, nil
	case err := <-l.errs:
		return nil, err
	}
}

func (l *WSListener) Close() error {
	return l.srv.Close()
}

func (l *WSListener) Addr() net.Addr { return l.addr }
