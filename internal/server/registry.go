package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/ParisaSokuti/DS-project-sub000/internal/game"
	"github.com/ParisaSokuti/DS-project-sub000/internal/store"
)

// RoomRegistry is the in-memory index from room code to the actor that
// owns that room. Creation is idempotent: concurrent creators agree on
// one actor per code. Each actor gets its own engine so the random
// sources are never shared across goroutines.
type RoomRegistry struct {
	store     store.StateStore
	sessions  *SessionManager
	out       Sender
	clock     quartz.Clock
	logger    *log.Logger
	newEngine func() *game.Engine

	mu    sync.RWMutex
	rooms map[string]*RoomActor
}

// NewRoomRegistry creates an empty registry.
func NewRoomRegistry(st store.StateStore, sessions *SessionManager, out Sender,
	clock quartz.Clock, logger *log.Logger, newEngine func() *game.Engine) *RoomRegistry {
	return &RoomRegistry{
		store:     st,
		sessions:  sessions,
		out:       out,
		clock:     clock,
		logger:    logger.WithPrefix("registry"),
		newEngine: newEngine,
		rooms:     make(map[string]*RoomActor),
	}
}

// Get returns the actor for a room code, or nil.
func (r *RoomRegistry) Get(code string) *RoomActor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[code]
}

// GetOrCreate returns the room's actor, creating and starting it on
// first use.
func (r *RoomRegistry) GetOrCreate(code string) *RoomActor {
	r.mu.RLock()
	actor := r.rooms[code]
	r.mu.RUnlock()
	if actor != nil {
		return actor
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if actor := r.rooms[code]; actor != nil {
		return actor
	}
	actor = newRoomActor(code, r.newEngine(), r.store, r.sessions, r, r.out, r.clock, r.logger)
	r.rooms[code] = actor
	go actor.run()
	r.logger.Debug("Created room actor", "room", code)
	return actor
}

// remove drops the actor for code if it is still the registered one.
func (r *RoomRegistry) remove(code string, actor *RoomActor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[code] == actor {
		delete(r.rooms, code)
	}
}

// Count returns the number of live rooms.
func (r *RoomRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Recover re-creates actors for every room with stored state. Called
// once at startup; players then resume via their existing sessions.
func (r *RoomRegistry) Recover(ctx context.Context) error {
	codes, err := r.store.ActiveRooms(ctx)
	if err != nil {
		return fmt.Errorf("list active rooms: %w", err)
	}
	for _, code := range codes {
		r.GetOrCreate(code)
	}
	if len(codes) > 0 {
		r.logger.Info("Recovered active rooms", "count", len(codes))
	}
	return nil
}

// StopAll shuts down every actor without touching stored state.
func (r *RoomRegistry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, actor := range r.rooms {
		actor.Stop()
	}
	r.rooms = make(map[string]*RoomActor)
}
