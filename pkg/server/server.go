// Package server accepts inbound RakNet connections and drives each one as
// a server-role session.Session, grounded on the teacher's ConnectionManager
// (relay/server/connection.go): the accept-loop-plus-registry shape, the
// sync.RWMutex-guarded connection map, and the atomic connection counters
// all carry over directly; only the per-connection driver (a Session instead
// of a raw websocket relay) is Bedrock-specific.
package server

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brinebound/baltica/pkg/auditstore"
	"github.com/brinebound/baltica/pkg/logging"
	"github.com/brinebound/baltica/pkg/protocol"
	"github.com/brinebound/baltica/pkg/raknetiface"
	"github.com/brinebound/baltica/pkg/session"
)

// Config configures a Server. Listener and StartGameProvider are required;
// everything else defaults the way session.Config does.
type Config struct {
	Listener raknetiface.Listener

	Protocol             int32
	CompressionThreshold uint16
	HandshakeTimeout     time.Duration

	// MaxConnections caps concurrently accepted sessions. Zero means
	// unbounded.
	MaxConnections int

	Catalog *protocol.Catalog
	Logger  *logging.Logger
	Audit   *auditstore.Store

	TrustedRoot        *ecdsa.PublicKey
	RequireTrustedRoot bool
	StartGameProvider  func() *protocol.StartGamePacket
}

// Stats is a point-in-time snapshot of a Server's connection counters.
type Stats struct {
	Accepted uint64
	Active   uint64
	Rejected uint64
}

// Server owns one raknetiface.Listener and the set of Sessions accepted
// from it.
type Server struct {
	cfg     Config
	log     *logging.Logger
	catalog *protocol.Catalog

	// OnConnect, if set, is called from the session's own goroutine right
	// after it is registered and before Serve starts reading from it.
	OnConnect func(s *session.Session)
	// OnDisconnect, if set, is called once a registered session tears down.
	OnDisconnect func(s *session.Session, reason string)

	mu       sync.RWMutex
	sessions map[string]*session.Session

	accepted atomic.Uint64
	rejected atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Server bound to cfg.Listener. Call Serve to start
// accepting.
func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = protocol.NewCatalog()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		log:      log,
		catalog:  catalog,
		sessions: make(map[string]*session.Session),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Serve runs the accept loop until Close is called or the listener returns
// a permanent error. It blocks; callers run it in its own goroutine unless
// it's the last thing the calling goroutine does.
func (srv *Server) Serve() error {
	for {
		conn, err := srv.cfg.Listener.Accept()
		if err != nil {
			select {
			case <-srv.ctx.Done():
				return nil
			default:
				return fmt.Errorf("server: accept: %w", err)
			}
		}

		if srv.cfg.MaxConnections > 0 && srv.activeCount() >= srv.cfg.MaxConnections {
			srv.rejected.Add(1)
			srv.log.Warn("server: rejecting connection, at capacity", logging.Fields{"remote": conn.RemoteAddr().String()})
			_ = conn.Close()
			continue
		}

		srv.accepted.Add(1)
		srv.wg.Add(1)
		go srv.handleConn(conn)
	}
}

func (srv *Server) handleConn(conn raknetiface.Conn) {
	defer srv.wg.Done()

	key := conn.RemoteAddr().String()
	sess := session.New(session.Config{
		Role:                 session.RoleServer,
		Conn:                 conn,
		Protocol:             srv.cfg.Protocol,
		CompressionThreshold: srv.cfg.CompressionThreshold,
		HandshakeTimeout:     srv.cfg.HandshakeTimeout,
		Catalog:              srv.catalog,
		Logger:               srv.log,
		Audit:                srv.cfg.Audit,
		TrustedRoot:          srv.cfg.TrustedRoot,
		RequireTrustedRoot:   srv.cfg.RequireTrustedRoot,
		StartGameProvider:    srv.cfg.StartGameProvider,
	})

	sess.OnDisconnect = func(reason string) {
		srv.unregister(key)
		if srv.OnDisconnect != nil {
			srv.OnDisconnect(sess, reason)
		}
	}

	srv.register(key, sess)
	if srv.OnConnect != nil {
		srv.OnConnect(sess)
	}

	sess.Serve()
}

func (srv *Server) register(key string, s *session.Session) {
	srv.mu.Lock()
	srv.sessions[key] = s
	srv.mu.Unlock()
}

func (srv *Server) unregister(key string) {
	srv.mu.Lock()
	delete(srv.sessions, key)
	srv.mu.Unlock()
}

func (srv *Server) activeCount() int {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	return len(srv.sessions)
}

// Sessions returns a snapshot of the currently registered Sessions.
func (srv *Server) Sessions() []*session.Session {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	out := make([]*session.Session, 0, len(srv.sessions))
	for _, s := range srv.sessions {
		out = append(out, s)
	}
	return out
}

// Lookup returns the Session registered for remoteAddr, if any.
func (srv *Server) Lookup(remoteAddr string) (*session.Session, bool) {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	s, ok := srv.sessions[remoteAddr]
	return s, ok
}

// Stats returns a snapshot of the Server's connection counters.
func (srv *Server) Stats() Stats {
	return Stats{
		Accepted: srv.accepted.Load(),
		Active:   uint64(srv.activeCount()),
		Rejected: srv.rejected.Load(),
	}
}

// Close stops accepting new connections, disconnects every registered
// Session, and waits for their Serve goroutines to return.
func (srv *Server) Close() error {
	srv.cancel()
	err := srv.cfg.Listener.Close()

	srv.mu.RLock()
	live := make([]*session.Session, 0, len(srv.sessions))
	for _, s := range srv.sessions {
		live = append(live, s)
	}
	srv.mu.RUnlock()

	for _, s := range live {
		_ = s.Disconnect("disconnectionScreen.serverShutdown")
	}

	srv.wg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server: close listener: %w", err)
	}
	return nil
}
