package store

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
)

// Memory is an in-process StateStore used by tests and single-node dev
// deployments. The quartz clock is injectable so session TTL behaviour
// is testable without sleeping.
type Memory struct {
	clock quartz.Clock

	mu       sync.Mutex
	states   map[string]versioned
	sessions map[string]sessionEntry
	members  map[string][]string
}

type versioned struct {
	snapshot []byte
	version  int64
}

type sessionEntry struct {
	session   Session
	expiresAt time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory(clock quartz.Clock) *Memory {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Memory{
		clock:    clock,
		states:   make(map[string]versioned),
		sessions: make(map[string]sessionEntry),
		members:  make(map[string][]string),
	}
}

func (m *Memory) GetState(ctx context.Context, roomCode string) ([]byte, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.states[roomCode]
	if !ok {
		return nil, 0, ErrNotFound
	}
	snap := append([]byte(nil), v.snapshot...)
	return snap, v.version, nil
}

func (m *Memory) PutState(ctx context.Context, roomCode string, snapshot []byte, expectedVersion int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.states[roomCode]
	if !ok {
		if expectedVersion != 0 {
			return 0, ErrVersionConflict
		}
	} else if current.version != expectedVersion {
		return 0, ErrVersionConflict
	}
	next := expectedVersion + 1
	m.states[roomCode] = versioned{
		snapshot: append([]byte(nil), snapshot...),
		version:  next,
	}
	return next, nil
}

func (m *Memory) DeleteRoom(ctx context.Context, roomCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, roomCode)
	delete(m.members, roomCode)
	return nil
}

func (m *Memory) ActiveRooms(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := make([]string, 0, len(m.states))
	for code := range m.states {
		codes = append(codes, code)
	}
	return codes, nil
}

func (m *Memory) GetSession(ctx context.Context, playerID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[playerID]
	if !ok {
		return nil, ErrNotFound
	}
	if !entry.expiresAt.IsZero() && m.clock.Now().After(entry.expiresAt) {
		delete(m.sessions, playerID)
		return nil, ErrNotFound
	}
	session := entry.session
	return &session, nil
}

func (m *Memory) PutSession(ctx context.Context, session *Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = m.clock.Now().Add(ttl)
	}
	m.sessions[session.PlayerID] = sessionEntry{session: *session, expiresAt: expires}
	return nil
}

func (m *Memory) DeleteSession(ctx context.Context, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, playerID)
	return nil
}

func (m *Memory) PutMembers(ctx context.Context, roomCode string, playerIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[roomCode] = append([]string(nil), playerIDs...)
	return nil
}

func (m *Memory) GetMembers(ctx context.Context, roomCode string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.members[roomCode]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]string(nil), members...), nil
}

func (m *Memory) Close() error {
	return nil
}
