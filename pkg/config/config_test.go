package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadClientConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "remote_address: \"127.0.0.1:19132\"\noffline: true\n")

	c, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("LoadClientConfig: %v", err)
	}
	if c.ClientProtocol != 671 {
		t.Fatalf("ClientProtocol = %d, want 671", c.ClientProtocol)
	}
	if c.HandshakeTimeout != 2*time.Minute {
		t.Fatalf("HandshakeTimeout = %v, want 2m", c.HandshakeTimeout)
	}
	if c.TokenCache.Backend != "file" {
		t.Fatalf("TokenCache.Backend = %q, want %q", c.TokenCache.Backend, "file")
	}
	if c.Logging.Level != "info" {
		t.Fatalf("Logging.Level = %q, want %q", c.Logging.Level, "info")
	}
}

func TestLoadClientConfigRequiresRemoteAddress(t *testing.T) {
	path := writeConfig(t, "offline: true\n")
	if _, err := LoadClientConfig(path); err == nil {
		t.Fatal("expected an error when remote_address is missing")
	}
}

func TestLoadClientConfigRejectsUnknownTokenCacheBackend(t *testing.T) {
	path := writeConfig(t, "remote_address: \"127.0.0.1:19132\"\ntoken_cache:\n  backend: \"memcached\"\n")
	if _, err := LoadClientConfig(path); err == nil {
		t.Fatal("expected an error for an unsupported token_cache.backend")
	}
}

func TestLoadClientConfigRejectsInvalidLoggingLevel(t *testing.T) {
	path := writeConfig(t, "remote_address: \"127.0.0.1:19132\"\noffline: true\nlogging:\n  level: \"verbose\"\n")
	if _, err := LoadClientConfig(path); err == nil {
		t.Fatal("expected an error for an invalid logging level")
	}
}

func TestLoadServerConfigAppliesDefaultsAndPostgresPort(t *testing.T) {
	path := writeConfig(t, "audit:\n  enabled: true\n  postgres:\n    host: \"db.internal\"\n    dbname: \"baltica\"\n")

	c, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if c.BindAddress != "0.0.0.0:19132" {
		t.Fatalf("BindAddress = %q, want %q", c.BindAddress, "0.0.0.0:19132")
	}
	if c.MaxConnections != 100 {
		t.Fatalf("MaxConnections = %d, want 100", c.MaxConnections)
	}
	if c.Audit.Postgres.Port != 5432 {
		t.Fatalf("Audit.Postgres.Port = %d, want 5432", c.Audit.Postgres.Port)
	}
	if c.Audit.Postgres.SSLMode != "disable" {
		t.Fatalf("Audit.Postgres.SSLMode = %q, want %q", c.Audit.Postgres.SSLMode, "disable")
	}
}

func TestLoadServerConfigRequiresPostgresSettingsWhenAuditEnabled(t *testing.T) {
	path := writeConfig(t, "audit:\n  enabled: true\n")
	if _, err := LoadServerConfig(path); err == nil {
		t.Fatal("expected an error when audit is enabled but postgres.host/dbname are missing")
	}
}

func TestLoadServerConfigRejectsNonPositiveMaxConnections(t *testing.T) {
	// max_connections: 0 is indistinguishable from "absent" (setDefaults
	// fills it to 100), so the rejection path needs a negative value,
	// which YAML does carry through untouched.
	path := writeConfig(t, "max_connections: -1\n")
	if _, err := LoadServerConfig(path); err == nil {
		t.Fatal("expected an error for a negative max_connections")
	}
}

func TestLoadBridgeConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "upstream_address: \"play.example.com:19132\"\n")

	c, err := LoadBridgeConfig(path)
	if err != nil {
		t.Fatalf("LoadBridgeConfig: %v", err)
	}
	if c.ListenAddress != "0.0.0.0:19133" {
		t.Fatalf("ListenAddress = %q, want %q", c.ListenAddress, "0.0.0.0:19133")
	}
	if c.ClientProtocol != 671 {
		t.Fatalf("ClientProtocol = %d, want 671", c.ClientProtocol)
	}
}

func TestLoadBridgeConfigInspectorAddressDefaultsOnlyWhenEnabled(t *testing.T) {
	path := writeConfig(t, "upstream_address: \"play.example.com:19132\"\ninspector:\n  enabled: true\n")
	c, err := LoadBridgeConfig(path)
	if err != nil {
		t.Fatalf("LoadBridgeConfig: %v", err)
	}
	if c.Inspector.Address != "127.0.0.1:19134" {
		t.Fatalf("Inspector.Address = %q, want %q", c.Inspector.Address, "127.0.0.1:19134")
	}

	path2 := writeConfig(t, "upstream_address: \"play.example.com:19132\"\n")
	c2, err := LoadBridgeConfig(path2)
	if err != nil {
		t.Fatalf("LoadBridgeConfig: %v", err)
	}
	if c2.Inspector.Address != "" {
		t.Fatalf("Inspector.Address = %q, want empty when inspector is disabled", c2.Inspector.Address)
	}
}

func TestLoadBridgeConfigRequiresUpstreamAddress(t *testing.T) {
	path := writeConfig(t, "listen_address: \"0.0.0.0:19133\"\n")
	if _, err := LoadBridgeConfig(path); err == nil {
		t.Fatal("expected an error when upstream_address is missing")
	}
}

func TestLoadClientConfigMissingFile(t *testing.T) {
	if _, err := LoadClientConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
