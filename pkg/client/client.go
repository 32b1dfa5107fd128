// Package client originates an outbound RakNet connection and drives it as
// a client-role session.Session, surfacing a single blocking Connect call
// grounded on the teacher's ConnectionManager.connect() (client/daemon/
// connection.go): dial, then block until the handshake either completes or
// fails, then hand the caller a ready-to-use handle.
package client

import (
	"fmt"
	"time"

	"github.com/brinebound/baltica/pkg/authbroker"
	"github.com/brinebound/baltica/pkg/dispatcher"
	"github.com/brinebound/baltica/pkg/logging"
	"github.com/brinebound/baltica/pkg/protocol"
	"github.com/brinebound/baltica/pkg/raknetiface"
	"github.com/brinebound/baltica/pkg/session"
)

// Config configures a client connection attempt.
type Config struct {
	Dialer        raknetiface.Dialer
	ServerAddress string

	Protocol             int32
	CompressionThreshold uint16
	HandshakeTimeout     time.Duration
	ChunkRadius          int32

	Catalog *protocol.Catalog
	Logger  *logging.Logger

	// Identity is required: the client presents it during Login.
	Identity *authbroker.Identity
}

// Client wraps a ready, LOGGED_IN-or-further session.Session as the
// outbound persona's facade (spec §6.2).
type Client struct {
	cfg     Config
	log     *logging.Logger
	session *session.Session
}

// Connect dials cfg.Dialer, drives the handshake, and blocks until the
// session is ready to send and receive game packets (StartGame received)
// or the attempt fails. On success it returns the peer-authenticated
// Profile this client was issued and the StartGameData the server sent.
func Connect(cfg Config) (*Client, authbroker.Profile, session.StartGameData, error) {
	if cfg.Identity == nil {
		return nil, authbroker.Profile{}, session.StartGameData{}, fmt.Errorf("client: Identity is required")
	}

	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}

	conn, err := cfg.Dialer.Dial(cfg.ServerAddress)
	if err != nil {
		return nil, authbroker.Profile{}, session.StartGameData{}, fmt.Errorf("client: dial %s: %w", cfg.ServerAddress, err)
	}

	sess := session.New(session.Config{
		Role:                 session.RoleClient,
		Conn:                 conn,
		Protocol:             cfg.Protocol,
		CompressionThreshold: cfg.CompressionThreshold,
		HandshakeTimeout:     cfg.HandshakeTimeout,
		Catalog:              cfg.Catalog,
		Logger:               log,
		Identity:             cfg.Identity,
		ChunkRadius:          cfg.ChunkRadius,
	})

	go sess.Serve()

	profile, start, err := sess.AwaitReady()
	if err != nil {
		return nil, profile, start, fmt.Errorf("client: connect: %w", err)
	}

	return &Client{cfg: cfg, log: log, session: sess}, profile, start, nil
}

// Session returns the underlying Session, for callers that need lower-level
// access (Queue/Flush, RawHandler) than this facade exposes.
func (c *Client) Session() *session.Session { return c.session }

// On registers fn for packets named name (or the generic "packet" name).
func (c *Client) On(name string, fn dispatcher.Handler) (off func()) {
	return c.session.On(name, fn)
}

// Send transmits pk immediately.
func (c *Client) Send(pk protocol.Packet) error {
	return c.session.Send(pk)
}

// Disconnect tears the connection down, sending reason to the server when
// possible.
func (c *Client) Disconnect(reason string) error {
	return c.session.Disconnect(reason)
}
