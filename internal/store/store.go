// Package store defines the durable session and room-state store.
//
// Room snapshots are versioned and written with compare-and-swap: only
// one actor owns a room in-process, so the CAS exists to fence out a
// prior instance that has not yet noticed it lost ownership.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the key has no stored value.
	ErrNotFound = errors.New("store: not found")

	// ErrVersionConflict indicates a PutState lost a CAS race with a
	// concurrent writer. The caller must reload and retry.
	ErrVersionConflict = errors.New("store: version conflict")
)

// ConnectionStatus is a session's transport liveness.
type ConnectionStatus string

const (
	StatusActive       ConnectionStatus = "active"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// Session records a player's membership in a room. At most one session
// exists per player; sessions outlive transports.
type Session struct {
	PlayerID string           `json:"player_id"`
	RoomCode string           `json:"room_code"`
	Slot     int              `json:"slot"`
	Status   ConnectionStatus `json:"connection_status"`
	LastSeen time.Time        `json:"last_seen"`
}

// StateStore is the single source of truth for room state and sessions
// across restarts.
//
// PutState is a conditional write: it succeeds only when the stored
// version equals expectedVersion and returns expectedVersion+1. A new
// room is written with expectedVersion 0.
type StateStore interface {
	GetState(ctx context.Context, roomCode string) (snapshot []byte, version int64, err error)
	PutState(ctx context.Context, roomCode string, snapshot []byte, expectedVersion int64) (int64, error)
	DeleteRoom(ctx context.Context, roomCode string) error
	ActiveRooms(ctx context.Context) ([]string, error)

	GetSession(ctx context.Context, playerID string) (*Session, error)
	PutSession(ctx context.Context, session *Session, ttl time.Duration) error
	DeleteSession(ctx context.Context, playerID string) error

	PutMembers(ctx context.Context, roomCode string, playerIDs []string) error
	GetMembers(ctx context.Context, roomCode string) ([]string, error)

	Close() error
}
