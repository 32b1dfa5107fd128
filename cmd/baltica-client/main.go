// Command baltica-client drives the outbound client persona (spec §6.2)
// against a real or bridged Bedrock server, the first consumer in this
// lineage to actually exercise github.com/spf13/cobra — the teacher
// declares it in go.mod but its own client/cli/main.go is a hand-rolled
// os.Args switch.
package main

import (
	"crypto/x509"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brinebound/baltica/pkg/authbroker"
	"github.com/brinebound/baltica/pkg/client"
	"github.com/brinebound/baltica/pkg/config"
	"github.com/brinebound/baltica/pkg/crypto"
	"github.com/brinebound/baltica/pkg/dispatcher"
	"github.com/brinebound/baltica/pkg/logging"
	"github.com/brinebound/baltica/pkg/protocol"
	"github.com/brinebound/baltica/pkg/raknetiface"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "baltica-client",
		Short: "Connect to a Bedrock server and log its session lifecycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "client.yaml", "path to client config")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "baltica-client:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadClientConfig(configPath)
	if err != nil {
		return err
	}

	log, err := logging.New("baltica-client", logging.ParseLevel(cfg.Logging.Level), cfg.Logging.OutputFile)
	if err != nil {
		return err
	}
	defer log.Close()

	identity, err := loadOrCreateIdentity(cfg)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}

	dialer := raknetiface.WSDialer{HandshakeTimeout: 10 * time.Second}

	c, profile, start, err := client.Connect(client.Config{
		Dialer:               dialer,
		ServerAddress:        cfg.RemoteAddress,
		Protocol:             cfg.ClientProtocol,
		HandshakeTimeout:     cfg.HandshakeTimeout,
		ChunkRadius:          8,
		Catalog:              protocol.NewCatalog(),
		Logger:               log,
		Identity:             identity,
	})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	log.Info("connected", logging.Fields{
		"display_name": profile.DisplayName,
		"identity":     profile.Identity,
		"level_id":     start.LevelID,
		"world_name":   start.WorldName,
	})

	c.On(dispatcher.GenericName, func(name string, pk interface{}) error {
		log.Debug("packet", logging.Fields{"name": name})
		return nil
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	return c.Disconnect("disconnectionScreen.disconnect")
}

// loadOrCreateIdentity keeps a stable offline identity keypair across runs
// by caching its private key in cfg.TokenCache, rather than generating a
// fresh one on every connection attempt. The player UUID depends only on
// the display name.
func loadOrCreateIdentity(cfg *config.ClientConfig) (*authbroker.Identity, error) {
	if !cfg.Offline {
		return nil, fmt.Errorf("online identity provider is an external collaborator (spec §1); only offline identities are supported here")
	}

	store, err := openTokenStore(cfg.TokenCache)
	if err != nil {
		return nil, err
	}

	key := "identity-key:" + cfg.Username
	if raw, err := store.Load(key); err == nil {
		priv, err := x509.ParseECPrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("parse cached identity key: %w", err)
		}
		return authbroker.CreateOfflineFromKey(&crypto.IdentityKeyPair{Private: priv}, cfg.Username, cfg.RemoteAddress)
	} else if err != authbroker.ErrNotFound {
		return nil, err
	}

	identity, err := authbroker.CreateOffline(cfg.Username, cfg.RemoteAddress)
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalECPrivateKey(identity.KeyPair.Private)
	if err != nil {
		return nil, fmt.Errorf("marshal identity key: %w", err)
	}
	if err := store.Save(key, der); err != nil {
		return nil, fmt.Errorf("cache identity key: %w", err)
	}
	return identity, nil
}

func openTokenStore(cfg config.TokenCacheConfig) (authbroker.TokenStore, error) {
	switch cfg.Backend {
	case "redis":
		return authbroker.NewRedisTokenStore(authbroker.RedisTokenStoreConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
	default:
		if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
			return nil, fmt.Errorf("create token cache directory: %w", err)
		}
		return authbroker.NewFileTokenStore(cfg.Directory+"/tokens.json", cfg.Passphrase)
	}
}
