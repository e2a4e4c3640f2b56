// Package db provides the optional Postgres storage: connection helpers,
// schema migration, the key/value table holding sync state and the table
// holding the bot's Matrix session.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/virto-network/reference-bot/crypto"
)

// Connect opens a Postgres connection for dsn and verifies it answers.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("db: empty DSN")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	database.SetMaxOpenConns(4)
	database.SetConnMaxIdleTime(5 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		database.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return database, nil
}

// Store reads and writes bot state. A nil Sealer stores the access token in
// plaintext (encryption_version = 0).
type Store struct {
	DB     *sql.DB
	Sealer crypto.Sealer
}

// NewStore wraps database. encryptionKey may be empty.
func NewStore(database *sql.DB, encryptionKey string) (*Store, error) {
	s := &Store{DB: database}
	if encryptionKey == "" {
		slog.Warn("ENCRYPTION_KEY not set, the matrix access token will be stored in plaintext", slog.String("component", "db_encryption"))
		return s, nil
	}
	sealer, err := crypto.NewAESSealer(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}
	slog.Info("session token encryption enabled (AES-256-GCM)", slog.String("component", "db_encryption"), slog.String("key_id", sealer.KeyID()))
	s.Sealer = sealer
	return s, nil
}

// Ping checks the connection for readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

// Get returns the value stored under key and whether it exists.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v sql.NullString
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=$1`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v.String, true, nil
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO kv(key, value, updated_at) VALUES($1,$2,NOW())
		ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`, key, value)
	return err
}

// MatrixSession is one row of matrix_sessions.
type MatrixSession struct {
	UserID      string
	DeviceID    string
	AccessToken string
	Homeserver  string
}

// UpsertMatrixSession stores the session, sealing the access token when a
// Sealer is configured. encryption_version=1 marks sealed tokens.
func (s *Store) UpsertMatrixSession(ctx context.Context, ms MatrixSession) error {
	token := ms.AccessToken
	encVersion := 0
	encKeyID := ""
	if s.Sealer != nil {
		sealed, err := s.Sealer.Seal(token, ms.UserID)
		if err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		token = sealed
		encVersion = 1
		encKeyID = s.Sealer.KeyID()
	}
	q := `INSERT INTO matrix_sessions(user_id, device_id, access_token, homeserver, encryption_version, encryption_key_id, updated_at)
		  VALUES($1,$2,$3,$4,$5,$6,NOW())
		  ON CONFLICT(user_id) DO UPDATE SET
		    device_id=EXCLUDED.device_id,
		    access_token=EXCLUDED.access_token,
		    homeserver=EXCLUDED.homeserver,
		    encryption_version=EXCLUDED.encryption_version,
		    encryption_key_id=EXCLUDED.encryption_key_id,
		    updated_at=NOW()`
	_, err := s.DB.ExecContext(ctx, q, ms.UserID, ms.DeviceID, token, ms.Homeserver, encVersion, encKeyID)
	return err
}

// GetMatrixSession returns the stored session for userID, or nil if there is none.
// Plaintext rows (encryption_version=0) are read as-is.
func (s *Store) GetMatrixSession(ctx context.Context, userID string) (*MatrixSession, error) {
	var ms MatrixSession
	var encVersion int
	row := s.DB.QueryRowContext(ctx,
		`SELECT user_id, device_id, access_token, homeserver, COALESCE(encryption_version, 0)
		 FROM matrix_sessions WHERE user_id = $1`, userID)
	err := row.Scan(&ms.UserID, &ms.DeviceID, &ms.AccessToken, &ms.Homeserver, &encVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if encVersion == 1 {
		if s.Sealer == nil {
			return nil, errors.New("session token is encrypted but ENCRYPTION_KEY not configured")
		}
		token, err := s.Sealer.Open(ms.AccessToken, ms.UserID)
		if err != nil {
			return nil, fmt.Errorf("decrypt access token: %w", err)
		}
		ms.AccessToken = token
	}
	return &ms, nil
}
