// Command baltica-server accepts inbound Bedrock clients and drives each as
// a server-role session, the inbound persona of spec §6.3.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brinebound/baltica/pkg/auditstore"
	"github.com/brinebound/baltica/pkg/config"
	"github.com/brinebound/baltica/pkg/logging"
	"github.com/brinebound/baltica/pkg/protocol"
	"github.com/brinebound/baltica/pkg/raknetiface"
	"github.com/brinebound/baltica/pkg/server"
	"github.com/brinebound/baltica/pkg/session"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "baltica-server",
		Short: "Accept inbound Bedrock clients and log their session lifecycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "server.yaml", "path to server config")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "baltica-server:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		return err
	}

	log, err := logging.New("baltica-server", logging.ParseLevel(cfg.Logging.Level), cfg.Logging.OutputFile)
	if err != nil {
		return err
	}
	defer log.Close()

	var audit *auditstore.Store
	if cfg.Audit.Enabled {
		audit, err = auditstore.Open(auditstore.Config{
			Host:     cfg.Audit.Postgres.Host,
			Port:     cfg.Audit.Postgres.Port,
			User:     cfg.Audit.Postgres.User,
			Password: cfg.Audit.Postgres.Password,
			DBName:   cfg.Audit.Postgres.DBName,
			SSLMode:  cfg.Audit.Postgres.SSLMode,
		})
		if err != nil {
			return fmt.Errorf("audit store: %w", err)
		}
	}

	ln, err := raknetiface.NewWSListener(cfg.BindAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	srv := server.New(server.Config{
		Listener:             ln,
		Protocol:             cfg.ServerProtocol,
		CompressionThreshold: cfg.CompressionThreshold,
		HandshakeTimeout:     cfg.HandshakeTimeout,
		MaxConnections:       cfg.MaxConnections,
		Catalog:              protocol.NewCatalog(),
		Logger:               log,
		Audit:                audit,
		StartGameProvider:    demoWorld,
	})

	srv.OnConnect = func(s *session.Session) {
		log.Info("client connected", logging.Fields{"remote": s.Conn().RemoteAddr().String()})
	}
	srv.OnDisconnect = func(s *session.Session, reason string) {
		log.Info("client disconnected", logging.Fields{"reason": reason})
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sig:
		log.Info("shutting down")
		return srv.Close()
	}
}

// demoWorld is the StartGameProvider a standalone server offers a client
// once login completes: a single fixed overworld spawn, since Baltica has
// no world/chunk generator of its own (spec's Non-goals exclude game-world
// simulation entirely).
func demoWorld() *protocol.StartGamePacket {
	return &protocol.StartGamePacket{
		EntityIDSelf:    1,
		RuntimeEntityID: 1,
		PlayerGameMode:  0,
		PlayerPosition:  [3]float32{0, 64, 0},
		WorldSeed:       0,
		LevelID:         "baltica",
		WorldName:       "Baltica",
	}
}
