// Package auditstore records session lifecycle metadata — never packet
// payloads — to Postgres, grounded on
// CG-8663-shadowmesh/pkg/persistence/postgres.go.
package auditstore

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Config holds connection settings for the audit database.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Store persists session audit records to PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres and ensures the audit schema exists.
func Open(cfg Config) (*Store, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("auditstore: connect: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("auditstore: ping: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("auditstore: init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS session_logins (
			id BIGSERIAL PRIMARY KEY,
			peer_address VARCHAR(64) NOT NULL,
			profile_name VARCHAR(16) NOT NULL,
			profile_uuid VARCHAR(36) NOT NULL,
			xuid VARCHAR(32) NOT NULL,
			logged_in_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_session_logins_peer ON session_logins(peer_address);

		CREATE TABLE IF NOT EXISTS session_disconnects (
			id BIGSERIAL PRIMARY KEY,
			peer_address VARCHAR(64) NOT NULL,
			profile_name VARCHAR(16) NOT NULL,
			reason VARCHAR(256) NOT NULL,
			disconnected_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_session_disconnects_peer ON session_disconnects(peer_address);
	`)
	return err
}

// Login record persists in the session_logins table.
type Login struct {
	PeerAddress string
	ProfileName string
	ProfileUUID string
	XUID        string
}

// RecordLogin inserts a row for a Session transitioning to LOGGED_IN.
func (s *Store) RecordLogin(l Login) error {
	_, err := s.db.Exec(
		`INSERT INTO session_logins (peer_address, profile_name, profile_uuid, xuid) VALUES ($1, $2, $3, $4)`,
		l.PeerAddress, l.ProfileName, l.ProfileUUID, l.XUID,
	)
	return err
}

// RecordDisconnect inserts a row for a Session's terminal disconnect.
func (s *Store) RecordDisconnect(peerAddress, profileName, reason string) error {
	_, err := s.db.Exec(
		`INSERT INTO session_disconnects (peer_address, profile_name, reason) VALUES ($1, $2, $3)`,
		peerAddress, profileName, reason,
	)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
