// Command baltica-bridge sits between a real Bedrock client and a real
// Bedrock server, transparently relaying traffic while exposing an optional
// live inspector feed (spec §6.4/§4.9).
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brinebound/baltica/pkg/bridge"
	"github.com/brinebound/baltica/pkg/config"
	"github.com/brinebound/baltica/pkg/logging"
	"github.com/brinebound/baltica/pkg/protocol"
	"github.com/brinebound/baltica/pkg/raknetiface"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "baltica-bridge",
		Short: "Relay traffic between a real Bedrock client and a real Bedrock server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "bridge.yaml", "path to bridge config")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "baltica-bridge:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadBridgeConfig(configPath)
	if err != nil {
		return err
	}

	log, err := logging.New("baltica-bridge", logging.ParseLevel(cfg.Logging.Level), cfg.Logging.OutputFile)
	if err != nil {
		return err
	}
	defer log.Close()

	var inspector *bridge.Inspector
	if cfg.Inspector.Enabled {
		inspector = bridge.NewInspector(log)
		mux := http.NewServeMux()
		mux.Handle("/", inspector)
		srv := &http.Server{Addr: cfg.Inspector.Address, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("inspector: serve failed", logging.Fields{"error": err.Error()})
			}
		}()
		log.Info("inspector listening", logging.Fields{"address": cfg.Inspector.Address})
	}

	ln, err := raknetiface.NewWSListener(cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	accepted := make(chan raknetiface.Conn)
	acceptErr := make(chan error, 1)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				acceptErr <- err
				return
			}
			accepted <- conn
		}
	}()

	for {
		select {
		case <-sig:
			log.Info("shutting down")
			return ln.Close()
		case err := <-acceptErr:
			return err
		case downstream := <-accepted:
			go handlePeer(downstream, cfg, log, inspector)
		}
	}
}

// handlePeer constructs the Bridge Pair's downstream Session immediately on
// accept. The upstream Session is dialed and constructed later, by the Pair
// itself, only once the downstream Session reaches LOGGED_IN (spec §4.9).
func handlePeer(downstream raknetiface.Conn, cfg *config.BridgeConfig, log *logging.Logger, inspector *bridge.Inspector) {
	p := bridge.NewPair(bridge.Config{
		DownstreamConn:  downstream,
		UpstreamAddress: cfg.UpstreamAddress,
		UpstreamDialer:  raknetiface.WSDialer{HandshakeTimeout: 10 * time.Second},
		Protocol:        cfg.ClientProtocol,
		ChunkRadius:     8,
		Catalog:         protocol.NewCatalog(),
		Logger:          log,
	})

	if inspector != nil {
		inspector.Attach(p)
	}

	p.Run()

	stats := p.Stats()
	log.Info("bridge pair closed", logging.Fields{
		"clientbound_forwarded": stats.ClientboundForwarded,
		"serverbound_forwarded": stats.ServerboundForwarded,
	})
}
