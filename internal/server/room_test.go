package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ParisaSokuti/DS-project-sub000/internal/deck"
	"github.com/ParisaSokuti/DS-project-sub000/internal/game"
	"github.com/ParisaSokuti/DS-project-sub000/internal/randutil"
	"github.com/ParisaSokuti/DS-project-sub000/internal/store"
)

const waitTimeout = 2 * time.Second

// captureSender records every delivered message per player so tests can
// assert on the actor's outbound traffic without transports.
type captureSender struct {
	mu   sync.Mutex
	msgs map[string][]*Message
}

func newCaptureSender() *captureSender {
	return &captureSender{msgs: make(map[string][]*Message)}
}

func (c *captureSender) Deliver(playerID string, msg *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs[playerID] = append(c.msgs[playerID], msg)
}

func (c *captureSender) ofType(playerID string, t MessageType) []*Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Message
	for _, msg := range c.msgs[playerID] {
		if msg.Type == t {
			out = append(out, msg)
		}
	}
	return out
}

func (c *captureSender) lastOfType(playerID string, t MessageType) *Message {
	msgs := c.ofType(playerID, t)
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

type roomHarness struct {
	store    store.StateStore
	sessions *SessionManager
	registry *RoomRegistry
	out      *captureSender
	clock    *quartz.Mock
}

func newRoomHarness(t *testing.T) *roomHarness {
	mClock := quartz.NewMock(t)
	return newRoomHarnessWithStore(t, mClock, store.NewMemory(mClock))
}

func newRoomHarnessWithStore(t *testing.T, mClock *quartz.Mock, st store.StateStore) *roomHarness {
	t.Helper()
	logger := log.New(io.Discard)
	out := newCaptureSender()
	sessions := NewSessionManager(st, mClock, logger)
	seed := int64(0)
	var mu sync.Mutex
	registry := NewRoomRegistry(st, sessions, out, mClock, logger, func() *game.Engine {
		mu.Lock()
		defer mu.Unlock()
		seed++
		return game.NewEngine(randutil.New(seed))
	})
	t.Cleanup(registry.StopAll)
	return &roomHarness{store: st, sessions: sessions, registry: registry, out: out, clock: mClock}
}

func (h *roomHarness) waitFor(t *testing.T, playerID string, mt MessageType) *Message {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.out.lastOfType(playerID, mt) != nil
	}, waitTimeout, 5*time.Millisecond, "waiting for %s to receive %s", playerID, mt)
	return h.out.lastOfType(playerID, mt)
}

// barrier waits until the actor has drained its mailbox up to this
// point. It enqueues a leave for a player who was never seated; the
// resulting error proves all earlier inputs were handled.
func (h *roomHarness) barrier(t *testing.T, actor *RoomActor, tag string) {
	t.Helper()
	ghost := "barrier-" + tag
	require.True(t, actor.Enqueue(roomInput{kind: inputLeave, playerID: ghost}))
	h.waitFor(t, ghost, MessageTypeError)
}

func (h *roomHarness) seatFour(t *testing.T, code string) *RoomActor {
	t.Helper()
	actor := h.registry.GetOrCreate(code)
	for i := 0; i < game.NumSlots; i++ {
		require.True(t, actor.Enqueue(roomInput{
			kind:     inputJoin,
			playerID: fmt.Sprintf("p%d", i),
			name:     fmt.Sprintf("Player %d", i),
		}))
	}
	for i := 0; i < game.NumSlots; i++ {
		h.waitFor(t, fmt.Sprintf("p%d", i), MessageTypeInitialDeal)
	}
	return actor
}

// hakemID returns the player who was prompted to choose hokm.
func (h *roomHarness) hakemID(t *testing.T) string {
	t.Helper()
	for i := 0; i < game.NumSlots; i++ {
		id := fmt.Sprintf("p%d", i)
		if h.out.lastOfType(id, MessageTypeHokmChoiceRequired) != nil {
			return id
		}
	}
	t.Fatal("no player received hokm_choice_required")
	return ""
}

func parseSuit(t *testing.T, s string) deck.Suit {
	t.Helper()
	suit, err := deck.ParseSuit(s)
	require.NoError(t, err)
	return suit
}

func decodePayload[T any](t *testing.T, msg *Message) T {
	t.Helper()
	require.NotNil(t, msg)
	var v T
	require.NoError(t, json.Unmarshal(msg.Data, &v))
	return v
}

func TestRoomJoinDealsAfterFourth(t *testing.T) {
	h := newRoomHarness(t)
	h.seatFour(t, "ROOM01")

	for i := 0; i < game.NumSlots; i++ {
		id := fmt.Sprintf("p%d", i)

		join := decodePayload[JoinSuccessData](t, h.out.lastOfType(id, MessageTypeJoinSuccess))
		assert.Equal(t, "ROOM01", join.RoomCode)
		assert.Equal(t, i, join.Slot, "slots fill in join order")
		assert.Equal(t, id, join.You)

		deal := decodePayload[game.DealPayload](t, h.out.lastOfType(id, MessageTypeInitialDeal))
		assert.Len(t, deal.Hand, 5)

		assert.NotNil(t, h.out.lastOfType(id, MessageTypeTeamAssignment))
	}

	// Exactly one player is prompted for hokm.
	prompted := 0
	for i := 0; i < game.NumSlots; i++ {
		if h.out.lastOfType(fmt.Sprintf("p%d", i), MessageTypeHokmChoiceRequired) != nil {
			prompted++
		}
	}
	assert.Equal(t, 1, prompted)

	// The room is durably persisted with its members.
	ctx := context.Background()
	_, version, err := h.store.GetState(ctx, "ROOM01")
	require.NoError(t, err)
	assert.Positive(t, version)
	members, err := h.store.GetMembers(ctx, "ROOM01")
	require.NoError(t, err)
	assert.Equal(t, []string{"p0", "p1", "p2", "p3"}, members)

	sess, err := h.sessions.Session(ctx, "p2")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "ROOM01", sess.RoomCode)
	assert.Equal(t, 2, sess.Slot)
	assert.Equal(t, store.StatusActive, sess.Status)
}

func TestRoomBlocksJoinWhileInAnotherRoom(t *testing.T) {
	h := newRoomHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sessions.CreateSession(ctx, "p0", "OTHER1", 0))

	actor := h.registry.GetOrCreate("ROOM01")
	require.True(t, actor.Enqueue(roomInput{kind: inputJoin, playerID: "p0", name: "Player 0"}))

	msg := h.waitFor(t, "p0", MessageTypeError)
	errData := decodePayload[ErrorData](t, msg)
	assert.Equal(t, "invalid_action", errData.Code)
	assert.Contains(t, errData.Message, "OTHER1")
	assert.Nil(t, h.out.lastOfType("p0", MessageTypeJoinSuccess))
}

func TestRoomHokmSelection(t *testing.T) {
	h := newRoomHarness(t)
	actor := h.seatFour(t, "ROOM01")
	hakem := h.hakemID(t)

	// A non-hakem attempt is rejected without state change.
	other := "p0"
	if hakem == "p0" {
		other = "p1"
	}
	require.True(t, actor.Enqueue(roomInput{kind: inputSelectHokm, playerID: other, suit: parseSuit(t, "spades")}))
	errData := decodePayload[ErrorData](t, h.waitFor(t, other, MessageTypeError))
	assert.Equal(t, "not_hakem", errData.Code)

	require.True(t, actor.Enqueue(roomInput{kind: inputSelectHokm, playerID: hakem, suit: parseSuit(t, "spades")}))
	for i := 0; i < game.NumSlots; i++ {
		id := fmt.Sprintf("p%d", i)
		hokm := decodePayload[game.HokmSelectedPayload](t, h.waitFor(t, id, MessageTypeHokmSelected))
		assert.Equal(t, "spades", hokm.Suit.String())
		deal := decodePayload[game.DealPayload](t, h.waitFor(t, id, MessageTypeFinalDeal))
		assert.Len(t, deal.Hand, 13)
		assert.NotNil(t, h.out.lastOfType(id, MessageTypeTurnStart))
	}
}

func TestRoomLeaveMidGameCancels(t *testing.T) {
	h := newRoomHarness(t)
	actor := h.seatFour(t, "ROOM01")

	require.True(t, actor.Enqueue(roomInput{kind: inputLeave, playerID: "p2"}))
	for i := 0; i < game.NumSlots; i++ {
		cancelled := decodePayload[GameCancelledData](t, h.waitFor(t, fmt.Sprintf("p%d", i), MessageTypeGameCancelled))
		assert.Equal(t, "player_left", cancelled.Reason)
	}

	ctx := context.Background()
	require.Eventually(t, func() bool {
		return h.registry.Get("ROOM01") == nil
	}, waitTimeout, 5*time.Millisecond)
	_, _, err := h.store.GetState(ctx, "ROOM01")
	assert.ErrorIs(t, err, store.ErrNotFound)
	sess, err := h.sessions.Session(ctx, "p0")
	require.NoError(t, err)
	assert.Nil(t, sess, "sessions are dropped with the cancelled game")
}

func TestRoomLobbyLeaveFreesSeat(t *testing.T) {
	h := newRoomHarness(t)
	actor := h.registry.GetOrCreate("ROOM01")
	require.True(t, actor.Enqueue(roomInput{kind: inputJoin, playerID: "p0", name: "Player 0"}))
	require.True(t, actor.Enqueue(roomInput{kind: inputJoin, playerID: "p1", name: "Player 1"}))
	h.waitFor(t, "p1", MessageTypeJoinSuccess)

	require.True(t, actor.Enqueue(roomInput{kind: inputLeave, playerID: "p0"}))
	h.barrier(t, actor, "leave")

	ctx := context.Background()
	sess, err := h.sessions.Session(ctx, "p0")
	require.NoError(t, err)
	assert.Nil(t, sess)

	// The freed seat is handed to the next joiner.
	require.True(t, actor.Enqueue(roomInput{kind: inputJoin, playerID: "p9", name: "Player 9"}))
	join := decodePayload[JoinSuccessData](t, h.waitFor(t, "p9", MessageTypeJoinSuccess))
	assert.Equal(t, 0, join.Slot)
}

func TestRoomLobbyDisconnectRemovesPlayer(t *testing.T) {
	h := newRoomHarness(t)
	actor := h.registry.GetOrCreate("ROOM01")
	require.True(t, actor.Enqueue(roomInput{kind: inputJoin, playerID: "p0", name: "Player 0"}))
	require.True(t, actor.Enqueue(roomInput{kind: inputJoin, playerID: "p1", name: "Player 1"}))
	h.waitFor(t, "p1", MessageTypeJoinSuccess)

	require.True(t, actor.Enqueue(roomInput{kind: inputDisconnected, playerID: "p1"}))
	h.waitFor(t, "p0", MessageTypePlayerDisconnected)
	h.barrier(t, actor, "disc")

	ctx := context.Background()
	sess, err := h.sessions.Session(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, sess, "a lobby disconnect leaves no session behind")
}

func TestRoomDisconnectGraceCancelsPreGameplay(t *testing.T) {
	h := newRoomHarness(t)
	actor := h.seatFour(t, "ROOM01")

	require.True(t, actor.Enqueue(roomInput{kind: inputDisconnected, playerID: "p0"}))
	h.waitFor(t, "p1", MessageTypePlayerDisconnected)
	h.barrier(t, actor, "disc")

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	h.clock.Advance(disconnectGrace).MustWait(ctx)

	for _, id := range []string{"p1", "p2", "p3"} {
		cancelled := decodePayload[GameCancelledData](t, h.waitFor(t, id, MessageTypeGameCancelled))
		assert.Equal(t, "player_disconnected", cancelled.Reason)
	}
	require.Eventually(t, func() bool {
		return h.registry.Get("ROOM01") == nil
	}, waitTimeout, 5*time.Millisecond)
}

func TestRoomReconnectBeforeGraceRestores(t *testing.T) {
	h := newRoomHarness(t)
	actor := h.seatFour(t, "ROOM01")

	require.True(t, actor.Enqueue(roomInput{kind: inputDisconnected, playerID: "p0"}))
	h.waitFor(t, "p1", MessageTypePlayerDisconnected)

	require.True(t, actor.Enqueue(roomInput{kind: inputReconnected, playerID: "p0"}))
	h.waitFor(t, "p1", MessageTypePlayerReconnected)
	state := decodePayload[game.Summary](t, h.waitFor(t, "p0", MessageTypeGameState))
	assert.Equal(t, "ROOM01", state.RoomCode)
	assert.Equal(t, game.PhaseWaitingForHokm, state.Phase)
	assert.Equal(t, 0, state.YourSlot)
	assert.Len(t, state.Hand, 5, "reconnect replays the player's own hand")

	// The cancelled timer must not fire later.
	h.barrier(t, actor, "rejoin")
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	h.clock.Advance(disconnectGrace).MustWait(ctx)
	h.barrier(t, actor, "after-advance")
	for i := 0; i < game.NumSlots; i++ {
		assert.Nil(t, h.out.lastOfType(fmt.Sprintf("p%d", i), MessageTypeGameCancelled))
	}
}

func TestRoomGameplayDisconnectPauses(t *testing.T) {
	h := newRoomHarness(t)
	actor := h.seatFour(t, "ROOM01")
	hakem := h.hakemID(t)

	require.True(t, actor.Enqueue(roomInput{kind: inputSelectHokm, playerID: hakem, suit: parseSuit(t, "hearts")}))
	h.waitFor(t, "p0", MessageTypeFinalDeal)

	require.True(t, actor.Enqueue(roomInput{kind: inputDisconnected, playerID: "p2"}))
	h.waitFor(t, "p0", MessageTypePlayerDisconnected)
	h.barrier(t, actor, "disc")

	// No grace timer in gameplay: the room waits indefinitely.
	for i := 0; i < game.NumSlots; i++ {
		assert.Nil(t, h.out.lastOfType(fmt.Sprintf("p%d", i), MessageTypeGameCancelled))
	}
	assert.NotNil(t, h.registry.Get("ROOM01"))
}

func TestRoomRecoveryMarksPlayersDisconnected(t *testing.T) {
	h := newRoomHarness(t)
	h.seatFour(t, "ROOM01")

	// Simulate a restart: drop the actor, keep the store.
	h.registry.StopAll()
	require.Nil(t, h.registry.Get("ROOM01"))

	actor := h.registry.GetOrCreate("ROOM01")
	require.True(t, actor.Enqueue(roomInput{kind: inputReconnected, playerID: "p3"}))
	state := decodePayload[game.Summary](t, h.waitFor(t, "p3", MessageTypeGameState))
	assert.Equal(t, game.PhaseWaitingForHokm, state.Phase)
	assert.Equal(t, 3, state.YourSlot)
	assert.Len(t, state.Hand, 5)
}

func TestRoomEnqueueLimits(t *testing.T) {
	h := newRoomHarness(t)
	logger := log.New(io.Discard)
	engine := game.NewEngine(randutil.New(1))
	actor := newRoomActor("ROOMX", engine, h.store, h.sessions, h.registry, h.out, h.clock, logger)

	// Not running: the mailbox fills and further inputs are refused.
	for i := 0; i < mailboxSize; i++ {
		require.True(t, actor.Enqueue(roomInput{kind: inputLeave, playerID: "p0"}))
	}
	assert.False(t, actor.Enqueue(roomInput{kind: inputLeave, playerID: "p0"}))

	actor.Stop()
	assert.False(t, actor.Enqueue(roomInput{kind: inputLeave, playerID: "p0"}), "stopped actors accept nothing")
}

// conflictStore fails every PutState, simulating an unreachable or
// contended store.
type conflictStore struct {
	store.StateStore
}

func (c *conflictStore) PutState(ctx context.Context, roomCode string, snapshot []byte, expectedVersion int64) (int64, error) {
	return 0, store.ErrVersionConflict
}

func TestRoomPersistFailureTearsDown(t *testing.T) {
	mClock := quartz.NewMock(t)
	st := &conflictStore{StateStore: store.NewMemory(mClock)}
	h := newRoomHarnessWithStore(t, mClock, st)

	actor := h.registry.GetOrCreate("ROOM01")
	require.True(t, actor.Enqueue(roomInput{kind: inputJoin, playerID: "p0", name: "Player 0"}))

	require.Eventually(t, func() bool {
		return h.registry.Get("ROOM01") == nil
	}, waitTimeout, 5*time.Millisecond, "three failed persists tear the room down")
	assert.Nil(t, h.out.lastOfType("p0", MessageTypeJoinSuccess))
}
