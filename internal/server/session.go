package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/ParisaSokuti/DS-project-sub000/internal/store"
)

// sessionTTL bounds how long an abandoned session survives in the
// store. Any activity refreshes it.
const sessionTTL = 24 * time.Hour

// SessionManager maps player identities to their current transport and
// keeps the durable session records fresh. The binding table mutex is
// never held across store calls or room mailbox sends; callers receive
// the superseded transport and close it outside the lock.
type SessionManager struct {
	store  store.StateStore
	clock  quartz.Clock
	logger *log.Logger

	mu       sync.Mutex
	bindings map[string]*Connection
}

// NewSessionManager creates a session manager over the given store.
func NewSessionManager(st store.StateStore, clock quartz.Clock, logger *log.Logger) *SessionManager {
	return &SessionManager{
		store:    st,
		clock:    clock,
		logger:   logger.WithPrefix("sessions"),
		bindings: make(map[string]*Connection),
	}
}

// Bind associates a transport with a player, returning the transport it
// superseded (nil if none). The caller closes the superseded transport.
func (sm *SessionManager) Bind(playerID string, conn *Connection) *Connection {
	sm.mu.Lock()
	prev := sm.bindings[playerID]
	sm.bindings[playerID] = conn
	sm.mu.Unlock()
	if prev == conn {
		return nil
	}
	return prev
}

// Unbind removes the binding for playerID if it still points at conn.
// Returns false when a newer transport has already taken over.
func (sm *SessionManager) Unbind(playerID string, conn *Connection) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.bindings[playerID] != conn {
		return false
	}
	delete(sm.bindings, playerID)
	return true
}

// Lookup returns the transport currently bound to playerID, or nil.
func (sm *SessionManager) Lookup(playerID string) *Connection {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.bindings[playerID]
}

// Session returns the player's durable session, or nil if none exists.
func (sm *SessionManager) Session(ctx context.Context, playerID string) (*store.Session, error) {
	sess, err := sm.store.GetSession(ctx, playerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", playerID, err)
	}
	return sess, nil
}

// CreateSession records a new active session for a player in a room.
func (sm *SessionManager) CreateSession(ctx context.Context, playerID, roomCode string, slot int) error {
	return sm.store.PutSession(ctx, &store.Session{
		PlayerID: playerID,
		RoomCode: roomCode,
		Slot:     slot,
		Status:   store.StatusActive,
		LastSeen: sm.clock.Now().UTC(),
	}, sessionTTL)
}

// MarkStatus updates a session's connection status and last-seen time.
func (sm *SessionManager) MarkStatus(ctx context.Context, playerID string, status store.ConnectionStatus) error {
	sess, err := sm.Session(ctx, playerID)
	if err != nil || sess == nil {
		return err
	}
	sess.Status = status
	sess.LastSeen = sm.clock.Now().UTC()
	return sm.store.PutSession(ctx, sess, sessionTTL)
}

// DeleteSession removes a player's durable session.
func (sm *SessionManager) DeleteSession(ctx context.Context, playerID string) error {
	return sm.store.DeleteSession(ctx, playerID)
}
