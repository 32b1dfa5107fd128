// Package config loads YAML configuration for the client, server, and
// bridge facades, grounded on CG-8663-shadowmesh/pkg/config/config.go's
// load/setDefaults/validate shape.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ClientConfig configures the outbound client facade.
type ClientConfig struct {
	RemoteAddress    string        `yaml:"remote_address"`
	ClientProtocol   int32         `yaml:"client_protocol"`
	Username         string        `yaml:"username"`
	Offline          bool          `yaml:"offline"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	TokenCache       TokenCacheConfig `yaml:"token_cache"`
	Logging          LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the inbound server facade.
type ServerConfig struct {
	BindAddress          string        `yaml:"bind_address"`
	ServerProtocol       int32         `yaml:"server_protocol"`
	CompressionThreshold uint16        `yaml:"compression_threshold"`
	MaxConnections       int           `yaml:"max_connections"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	Audit                AuditConfig   `yaml:"audit"`
	Logging              LoggingConfig `yaml:"logging"`
}

// BridgeConfig configures the man-in-the-middle bridge facade.
type BridgeConfig struct {
	ListenAddress  string        `yaml:"listen_address"`
	UpstreamAddress string       `yaml:"upstream_address"`
	ClientProtocol int32         `yaml:"client_protocol"`
	Inspector      InspectorConfig `yaml:"inspector"`
	Logging        LoggingConfig `yaml:"logging"`
}

// TokenCacheConfig selects and configures the authbroker token cache backend.
type TokenCacheConfig struct {
	Backend    string `yaml:"backend"` // "file" or "redis"
	Directory  string `yaml:"directory"`
	Passphrase string `yaml:"passphrase"`
	Redis      RedisConfig `yaml:"redis"`
}

// AuditConfig enables and configures the server's Postgres-backed audit trail.
type AuditConfig struct {
	Enabled  bool         `yaml:"enabled"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// InspectorConfig enables the bridge's read-only websocket packet feed.
type InspectorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// PostgresConfig holds connection settings for pkg/auditstore.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig holds connection settings for the Redis token cache backend.
type RedisConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	OutputFile string `yaml:"output_file"`
}

// LoadClientConfig loads and validates a ClientConfig from path.
func LoadClientConfig(path string) (*ClientConfig, error) {
	var c ClientConfig
	if err := load(path, &c); err != nil {
		return nil, err
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("config: invalid client config: %w", err)
	}
	return &c, nil
}

func (c *ClientConfig) setDefaults() {
	if c.ClientProtocol == 0 {
		c.ClientProtocol = 671
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 2 * time.Minute
	}
	if c.TokenCache.Backend == "" {
		c.TokenCache.Backend = "file"
	}
	if c.TokenCache.Directory == "" {
		c.TokenCache.Directory = "tokens"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *ClientConfig) validate() error {
	if c.RemoteAddress == "" {
		return fmt.Errorf("remote_address is required")
	}
	if !c.Offline && c.TokenCache.Backend != "file" && c.TokenCache.Backend != "redis" {
		return fmt.Errorf("token_cache.backend must be \"file\" or \"redis\", got %q", c.TokenCache.Backend)
	}
	return validLevel(c.Logging.Level)
}

// LoadServerConfig loads and validates a ServerConfig from path.
func LoadServerConfig(path string) (*ServerConfig, error) {
	var c ServerConfig
	if err := load(path, &c); err != nil {
		return nil, err
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("config: invalid server config: %w", err)
	}
	return &c, nil
}

func (c *ServerConfig) setDefaults() {
	if c.BindAddress == "" {
		c.BindAddress = "0.0.0.0:19132"
	}
	if c.ServerProtocol == 0 {
		c.ServerProtocol = 671
	}
	if c.CompressionThreshold == 0 {
		c.CompressionThreshold = 512
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 100
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 2 * time.Minute
	}
	if c.Audit.Enabled && c.Audit.Postgres.Port == 0 {
		c.Audit.Postgres.Port = 5432
	}
	if c.Audit.Enabled && c.Audit.Postgres.SSLMode == "" {
		c.Audit.Postgres.SSLMode = "disable"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *ServerConfig) validate() error {
	if c.MaxConnections < 1 {
		return fmt.Errorf("max_connections must be positive")
	}
	if c.Audit.Enabled {
		if c.Audit.Postgres.Host == "" {
			return fmt.Errorf("audit.postgres.host is required when audit is enabled")
		}
		if c.Audit.Postgres.DBName == "" {
			return fmt.Errorf("audit.postgres.dbname is required when audit is enabled")
		}
	}
	return validLevel(c.Logging.Level)
}

// LoadBridgeConfig loads and validates a BridgeConfig from path.
func LoadBridgeConfig(path string) (*BridgeConfig, error) {
	var c BridgeConfig
	if err := load(path, &c); err != nil {
		return nil, err
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("config: invalid bridge config: %w", err)
	}
	return &c, nil
}

func (c *BridgeConfig) setDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = "0.0.0.0:19133"
	}
	if c.ClientProtocol == 0 {
		c.ClientProtocol = 671
	}
	if c.Inspector.Enabled && c.Inspector.Address == "" {
		c.Inspector.Address = "127.0.0.1:19134"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *BridgeConfig) validate() error {
	if c.UpstreamAddress == "" {
		return fmt.Errorf("upstream_address is required")
	}
	return validLevel(c.Logging.Level)
}

func validLevel(level string) error {
	switch level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("invalid logging level: %s", level)
	}
}

func load(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
