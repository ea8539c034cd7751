package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS room_state (
	code     TEXT PRIMARY KEY,
	version  INTEGER NOT NULL,
	snapshot BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS room_members (
	code      TEXT NOT NULL,
	slot      INTEGER NOT NULL,
	player_id TEXT NOT NULL,
	PRIMARY KEY (code, slot)
);
CREATE TABLE IF NOT EXISTS sessions (
	player_id  TEXT PRIMARY KEY,
	room_code  TEXT NOT NULL,
	slot       INTEGER NOT NULL,
	status     TEXT NOT NULL,
	last_seen  INTEGER NOT NULL,
	expires_at INTEGER
);
`

// SQLite is the durable StateStore. modernc.org/sqlite keeps the build
// cgo-free, and the single-writer access pattern fits SQLite's locking
// model: each room is only ever written by its owning actor.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the store at dsn. Use ":memory:" for
// an ephemeral store.
func OpenSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY churn under concurrent room actors.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite store: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) GetState(ctx context.Context, roomCode string) ([]byte, int64, error) {
	var snapshot []byte
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot, version FROM room_state WHERE code = ?`, roomCode,
	).Scan(&snapshot, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get state %s: %w", roomCode, err)
	}
	return snapshot, version, nil
}

func (s *SQLite) PutState(ctx context.Context, roomCode string, snapshot []byte, expectedVersion int64) (int64, error) {
	next := expectedVersion + 1
	if expectedVersion == 0 {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO room_state (code, version, snapshot) VALUES (?, ?, ?)`,
			roomCode, next, snapshot)
		if err != nil {
			// A unique-constraint failure means the room already exists,
			// i.e. someone else created it first.
			return 0, ErrVersionConflict
		}
		return next, nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE room_state SET version = ?, snapshot = ? WHERE code = ? AND version = ?`,
		next, snapshot, roomCode, expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("put state %s: %w", roomCode, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("put state %s: %w", roomCode, err)
	}
	if affected == 0 {
		return 0, ErrVersionConflict
	}
	return next, nil
}

func (s *SQLite) DeleteRoom(ctx context.Context, roomCode string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete room %s: %w", roomCode, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM room_state WHERE code = ?`, roomCode); err != nil {
		return fmt.Errorf("delete room %s: %w", roomCode, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM room_members WHERE code = ?`, roomCode); err != nil {
		return fmt.Errorf("delete room %s members: %w", roomCode, err)
	}
	return tx.Commit()
}

func (s *SQLite) ActiveRooms(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code FROM room_state`)
	if err != nil {
		return nil, fmt.Errorf("list active rooms: %w", err)
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("list active rooms: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (s *SQLite) GetSession(ctx context.Context, playerID string) (*Session, error) {
	var sess Session
	var lastSeen int64
	var expiresAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT player_id, room_code, slot, status, last_seen, expires_at FROM sessions WHERE player_id = ?`,
		playerID,
	).Scan(&sess.PlayerID, &sess.RoomCode, &sess.Slot, &sess.Status, &lastSeen, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", playerID, err)
	}
	if expiresAt.Valid && time.Now().UnixMilli() > expiresAt.Int64 {
		_ = s.DeleteSession(ctx, playerID)
		return nil, ErrNotFound
	}
	sess.LastSeen = time.UnixMilli(lastSeen).UTC()
	return &sess, nil
}

func (s *SQLite) PutSession(ctx context.Context, session *Session, ttl time.Duration) error {
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: time.Now().Add(ttl).UnixMilli(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (player_id, room_code, slot, status, last_seen, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(player_id) DO UPDATE SET
		   room_code = excluded.room_code,
		   slot = excluded.slot,
		   status = excluded.status,
		   last_seen = excluded.last_seen,
		   expires_at = excluded.expires_at`,
		session.PlayerID, session.RoomCode, session.Slot, session.Status,
		session.LastSeen.UnixMilli(), expiresAt)
	if err != nil {
		return fmt.Errorf("put session %s: %w", session.PlayerID, err)
	}
	return nil
}

func (s *SQLite) DeleteSession(ctx context.Context, playerID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE player_id = ?`, playerID); err != nil {
		return fmt.Errorf("delete session %s: %w", playerID, err)
	}
	return nil
}

func (s *SQLite) PutMembers(ctx context.Context, roomCode string, playerIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put members %s: %w", roomCode, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM room_members WHERE code = ?`, roomCode); err != nil {
		return fmt.Errorf("put members %s: %w", roomCode, err)
	}
	for slot, playerID := range playerIDs {
		if playerID == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO room_members (code, slot, player_id) VALUES (?, ?, ?)`,
			roomCode, slot, playerID); err != nil {
			return fmt.Errorf("put members %s: %w", roomCode, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) GetMembers(ctx context.Context, roomCode string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT slot, player_id FROM room_members WHERE code = ? ORDER BY slot`, roomCode)
	if err != nil {
		return nil, fmt.Errorf("get members %s: %w", roomCode, err)
	}
	defer rows.Close()
	members := make([]string, 0, 4)
	found := false
	for rows.Next() {
		var slot int
		var playerID string
		if err := rows.Scan(&slot, &playerID); err != nil {
			return nil, fmt.Errorf("get members %s: %w", roomCode, err)
		}
		for len(members) <= slot {
			members = append(members, "")
		}
		members[slot] = playerID
		found = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return members, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
