package server

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/ParisaSokuti/DS-project-sub000/internal/deck"
	"github.com/ParisaSokuti/DS-project-sub000/internal/game"
	"github.com/ParisaSokuti/DS-project-sub000/internal/store"
)

const (
	// mailboxSize bounds the per-room inbound queue; a full mailbox
	// surfaces server_busy to the sender.
	mailboxSize = 64

	// disconnectGrace is how long a non-gameplay phase waits for a
	// disconnected player before the game is cancelled.
	disconnectGrace = 30 * time.Second

	// casAttempts bounds CAS retries before the room is torn down.
	casAttempts = 3
)

type inputKind int

const (
	inputJoin inputKind = iota
	inputLeave
	inputSelectHokm
	inputPlayCard
	inputDisconnected
	inputReconnected
	inputGraceExpired
)

type roomInput struct {
	kind     inputKind
	playerID string
	name     string
	slot     int
	suit     deck.Suit
	card     deck.Card
}

// Sender delivers an outbound message to whatever transport is bound to
// a player. Implemented by the Dispatcher.
type Sender interface {
	Deliver(playerID string, msg *Message)
}

// RoomActor owns exactly one room. Inputs are processed strictly
// serially from a bounded mailbox: player commands from the dispatcher,
// transport events from the session manager, and grace timers. Each
// input is one engine transition followed by a CAS persist; only after
// the persist succeeds are outbound events emitted.
type RoomActor struct {
	code     string
	engine   *game.Engine
	store    store.StateStore
	sessions *SessionManager
	registry *RoomRegistry
	out      Sender
	clock    quartz.Clock
	logger   *log.Logger

	mailbox chan roomInput
	ctx     context.Context
	cancel  context.CancelFunc

	// Fields below are owned by the actor goroutine.
	state        *game.State
	version      int64
	disconnected map[int]bool
	graceTimers  map[int]*quartz.Timer
}

func newRoomActor(code string, engine *game.Engine, st store.StateStore, sessions *SessionManager,
	registry *RoomRegistry, out Sender, clock quartz.Clock, logger *log.Logger) *RoomActor {
	ctx, cancel := context.WithCancel(context.Background())
	return &RoomActor{
		code:         code,
		engine:       engine,
		store:        st,
		sessions:     sessions,
		registry:     registry,
		out:          out,
		clock:        clock,
		logger:       logger.WithPrefix("room").With("room", code),
		mailbox:      make(chan roomInput, mailboxSize),
		ctx:          ctx,
		cancel:       cancel,
		disconnected: make(map[int]bool),
		graceTimers:  make(map[int]*quartz.Timer),
	}
}

// Enqueue offers an input to the room's mailbox without blocking.
// Returns false when the mailbox is full or the room has shut down;
// the caller replies server_busy.
func (a *RoomActor) Enqueue(in roomInput) bool {
	select {
	case <-a.ctx.Done():
		return false
	default:
	}
	select {
	case a.mailbox <- in:
		return true
	default:
		return false
	}
}

// Stop shuts the actor down without touching stored state.
func (a *RoomActor) Stop() {
	a.cancel()
}

// run is the actor's single-threaded mutation loop.
func (a *RoomActor) run() {
	if err := a.load(); err != nil {
		a.logger.Error("Failed to load room state", "error", err)
		a.registry.remove(a.code, a)
		a.cancel()
		return
	}
	for {
		select {
		case in := <-a.mailbox:
			a.handle(in)
		case <-a.ctx.Done():
			return
		}
	}
}

// load restores the room from the store, or starts an empty lobby.
// After a restore every seated player is disconnected until their
// transport reappears.
func (a *RoomActor) load() error {
	snapshot, version, err := a.store.GetState(a.ctx, a.code)
	if errors.Is(err, store.ErrNotFound) {
		a.state = game.NewState(a.code)
		a.version = 0
		return nil
	}
	if err != nil {
		return err
	}
	state, err := game.RestoreSnapshot(snapshot)
	if err != nil {
		return err
	}
	a.state = state
	a.version = version
	for slot := range state.Players {
		a.disconnected[slot] = true
	}
	a.logger.Info("Recovered room from store", "phase", state.Phase, "version", version, "players", len(state.Players))
	return nil
}

func (a *RoomActor) handle(in roomInput) {
	switch in.kind {
	case inputJoin:
		a.handleJoin(in)
	case inputLeave:
		a.handleLeave(in)
	case inputSelectHokm:
		a.handleSelectHokm(in)
	case inputPlayCard:
		a.handlePlayCard(in)
	case inputDisconnected:
		a.handleDisconnected(in)
	case inputReconnected:
		a.handleReconnected(in)
	case inputGraceExpired:
		a.handleGraceExpired(in)
	}
}

// apply runs one engine transition and persists the result with CAS.
// A conflict reloads the stored state and retries the transition;
// persistent failure is fatal for the room, not the process.
func (a *RoomActor) apply(mutate func(s *game.State) (*game.State, []game.Event, error)) ([]game.Event, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		next, events, err := mutate(a.state)
		if err != nil {
			return nil, err
		}
		snapshot, err := next.Snapshot()
		if err != nil {
			return nil, err
		}
		version, err := a.store.PutState(a.ctx, a.code, snapshot, a.version)
		if err == nil {
			a.state = next
			a.version = version
			return events, nil
		}
		if errors.Is(err, store.ErrVersionConflict) {
			a.logger.Warn("CAS conflict on room state, reloading", "attempt", attempt+1)
			if loadErr := a.reload(); loadErr != nil {
				a.logger.Error("Failed to reload after CAS conflict", "error", loadErr)
			}
			continue
		}
		a.logger.Error("Failed to persist room state", "error", err, "attempt", attempt+1)
	}
	a.fatal()
	return nil, errors.New("room state persistence failed")
}

func (a *RoomActor) reload() error {
	snapshot, version, err := a.store.GetState(a.ctx, a.code)
	if err != nil {
		return err
	}
	state, err := game.RestoreSnapshot(snapshot)
	if err != nil {
		return err
	}
	a.state = state
	a.version = version
	return nil
}

func (a *RoomActor) handleJoin(in roomInput) {
	if slot := a.state.SlotOf(in.playerID); slot != game.NoSlot {
		// Already seated: treat the join as a resume.
		a.restorePlayer(in.playerID, slot)
		return
	}

	// One active session per player: a live session for another room
	// blocks the join until the player leaves that room.
	sess, err := a.sessions.Session(a.ctx, in.playerID)
	if err != nil {
		a.logger.Error("Failed to load session", "error", err, "player", in.playerID)
	}
	if sess != nil && sess.RoomCode != a.code {
		a.sendError(in.playerID, "invalid_action", "already in room "+sess.RoomCode)
		return
	}

	events, err := a.apply(func(s *game.State) (*game.State, []game.Event, error) {
		return a.engine.AddPlayer(s, in.playerID, in.name)
	})
	if err != nil {
		a.rejectAction(in.playerID, err)
		return
	}

	slot := a.state.SlotOf(in.playerID)
	a.disconnected[slot] = false
	if err := a.sessions.CreateSession(a.ctx, in.playerID, a.code, slot); err != nil {
		a.logger.Error("Failed to create session", "error", err, "player", in.playerID)
	}
	a.persistMembers()

	a.sendTo(in.playerID, MessageTypeJoinSuccess, JoinSuccessData{
		RoomCode: a.code,
		Slot:     slot,
		You:      in.playerID,
	})
	a.emit(events)
}

func (a *RoomActor) handleLeave(in roomInput) {
	slot := a.state.SlotOf(in.playerID)
	if slot == game.NoSlot {
		a.sendError(in.playerID, string(game.ErrNotInRoom), "not seated in room "+a.code)
		return
	}

	if a.state.Phase != game.PhaseLobby {
		// A started game cannot continue three-handed; a voluntary exit
		// cancels it for everyone.
		a.broadcastMessage(MessageTypeGameCancelled, GameCancelledData{Reason: "player_left"})
		a.teardown(true)
		return
	}

	events, err := a.apply(func(s *game.State) (*game.State, []game.Event, error) {
		return a.engine.RemovePlayer(s, slot)
	})
	if err != nil {
		a.rejectAction(in.playerID, err)
		return
	}
	delete(a.disconnected, slot)
	a.cancelGraceTimer(slot)
	if err := a.sessions.DeleteSession(a.ctx, in.playerID); err != nil {
		a.logger.Error("Failed to delete session", "error", err, "player", in.playerID)
	}
	a.persistMembers()
	a.emit(events)
	a.sendTo(in.playerID, MessageTypeRoomUpdate, game.RoomUpdatePayload{
		ConnectedPlayers: a.state.ConnectedNames(),
		Phase:            a.state.Phase,
	})

	if len(a.state.Players) == 0 {
		a.teardown(false)
	}
}

func (a *RoomActor) handleSelectHokm(in roomInput) {
	slot := a.state.SlotOf(in.playerID)
	if slot == game.NoSlot {
		a.sendError(in.playerID, string(game.ErrNotInRoom), "not seated in room "+a.code)
		return
	}
	events, err := a.apply(func(s *game.State) (*game.State, []game.Event, error) {
		return a.engine.SelectHokm(s, slot, in.suit)
	})
	if err != nil {
		a.rejectAction(in.playerID, err)
		return
	}
	a.emit(events)
}

func (a *RoomActor) handlePlayCard(in roomInput) {
	slot := a.state.SlotOf(in.playerID)
	if slot == game.NoSlot {
		a.sendError(in.playerID, string(game.ErrNotInRoom), "not seated in room "+a.code)
		return
	}
	events, err := a.apply(func(s *game.State) (*game.State, []game.Event, error) {
		return a.engine.PlayCard(s, slot, in.card)
	})
	if err != nil {
		a.rejectAction(in.playerID, err)
		return
	}
	a.emit(events)

	if a.state.Phase == game.PhaseGameComplete {
		// The game is over: drop room state and sessions. Transports
		// stay open so players can join a fresh room.
		a.teardown(true)
	}
}

func (a *RoomActor) handleDisconnected(in roomInput) {
	slot := a.state.SlotOf(in.playerID)
	if slot == game.NoSlot {
		return
	}
	a.disconnected[slot] = true
	if err := a.sessions.MarkStatus(a.ctx, in.playerID, store.StatusDisconnected); err != nil {
		a.logger.Error("Failed to mark session disconnected", "error", err, "player", in.playerID)
	}
	a.broadcastMessage(MessageTypePlayerDisconnected, PlayerPresenceData{Slot: slot})

	switch a.state.Phase {
	case game.PhaseLobby:
		// No game to protect; free the seat immediately.
		events, err := a.apply(func(s *game.State) (*game.State, []game.Event, error) {
			return a.engine.RemovePlayer(s, slot)
		})
		if err != nil {
			a.logger.Error("Failed to remove disconnected lobby player", "error", err)
			return
		}
		delete(a.disconnected, slot)
		if err := a.sessions.DeleteSession(a.ctx, in.playerID); err != nil {
			a.logger.Error("Failed to delete session", "error", err, "player", in.playerID)
		}
		a.persistMembers()
		a.emit(events)
		if len(a.state.Players) == 0 {
			a.teardown(false)
		}

	case game.PhaseTeamAssignment, game.PhaseInitialDeal, game.PhaseWaitingForHokm, game.PhaseFinalDeal:
		// Pre-gameplay phases tolerate a short absence, then cancel.
		a.cancelGraceTimer(slot)
		timerSlot := slot
		a.graceTimers[slot] = a.clock.AfterFunc(disconnectGrace, func() {
			a.Enqueue(roomInput{kind: inputGraceExpired, slot: timerSlot})
		})

	case game.PhaseGameplay:
		// The room pauses indefinitely; the turn does not time out.

	case game.PhaseRoundComplete, game.PhaseGameComplete:
	}
}

func (a *RoomActor) handleReconnected(in roomInput) {
	slot := a.state.SlotOf(in.playerID)
	if slot == game.NoSlot {
		return
	}
	a.restorePlayer(in.playerID, slot)
}

// restorePlayer marks a player active again and replays the full
// redacted room view, including their own hand, on their transport.
func (a *RoomActor) restorePlayer(playerID string, slot int) {
	a.cancelGraceTimer(slot)
	a.disconnected[slot] = false
	if err := a.sessions.MarkStatus(a.ctx, playerID, store.StatusActive); err != nil {
		a.logger.Error("Failed to mark session active", "error", err, "player", playerID)
	}
	a.broadcastMessage(MessageTypePlayerReconnected, PlayerPresenceData{Slot: slot})
	a.sendTo(playerID, MessageTypeJoinSuccess, JoinSuccessData{
		RoomCode: a.code,
		Slot:     slot,
		You:      playerID,
	})
	a.sendTo(playerID, MessageTypeGameState, a.state.SummaryFor(slot))
}

// handleGraceExpired acts on a fired disconnect timer. The timer may
// have raced a reconnect or a phase change, so current membership is
// re-checked before anything is cancelled.
func (a *RoomActor) handleGraceExpired(in roomInput) {
	if !a.disconnected[in.slot] {
		return
	}
	switch a.state.Phase {
	case game.PhaseGameplay, game.PhaseGameComplete, game.PhaseLobby:
		return
	}
	active := 0
	for slot := range a.state.Players {
		if !a.disconnected[slot] {
			active++
		}
	}
	if active >= game.NumSlots {
		return
	}
	a.logger.Info("Disconnect grace expired, cancelling game", "slot", in.slot, "active", active)
	a.broadcastMessage(MessageTypeGameCancelled, GameCancelledData{Reason: "player_disconnected"})
	a.teardown(true)
}

// rejectAction reports an engine rejection to the offending player only.
func (a *RoomActor) rejectAction(playerID string, err error) {
	var ia *game.InvalidAction
	if errors.As(err, &ia) {
		a.sendError(playerID, string(ia.Kind), ia.Message)
		return
	}
	a.logger.Error("Transition failed", "error", err, "player", playerID)
}

// fatal tears the room down after unrecoverable storage failure.
func (a *RoomActor) fatal() {
	a.broadcastMessage(MessageTypeGameCancelled, GameCancelledData{Reason: "internal"})
	a.teardown(true)
}

// teardown deletes durable room state, optionally the members'
// sessions, and removes the actor. Transports stay open.
func (a *RoomActor) teardown(deleteSessions bool) {
	for _, timer := range a.graceTimers {
		timer.Stop()
	}
	if deleteSessions {
		for _, playerID := range a.state.Players {
			if err := a.sessions.DeleteSession(a.ctx, playerID); err != nil {
				a.logger.Error("Failed to delete session", "error", err, "player", playerID)
			}
		}
	}
	if err := a.store.DeleteRoom(context.Background(), a.code); err != nil {
		a.logger.Error("Failed to delete room state", "error", err)
	}
	a.registry.remove(a.code, a)
	a.cancel()
}

func (a *RoomActor) cancelGraceTimer(slot int) {
	if timer, ok := a.graceTimers[slot]; ok {
		timer.Stop()
		delete(a.graceTimers, slot)
	}
}

// persistMembers mirrors the slot->player mapping into the store.
func (a *RoomActor) persistMembers() {
	members := make([]string, game.NumSlots)
	for slot, playerID := range a.state.Players {
		members[slot] = playerID
	}
	if err := a.store.PutMembers(a.ctx, a.code, members); err != nil {
		a.logger.Error("Failed to persist room members", "error", err)
	}
}

// emit fans engine events out to their recipients. Broadcasts are not
// mutually ordered across recipients, but each player's own stream is.
func (a *RoomActor) emit(events []game.Event) {
	for _, ev := range events {
		msg, err := NewMessage(MessageType(ev.Type), ev.Payload)
		if err != nil {
			a.logger.Error("Failed to encode event", "error", err, "type", ev.Type)
			continue
		}
		if ev.Target == game.BroadcastSlot {
			for slot := 0; slot < game.NumSlots; slot++ {
				if playerID, ok := a.state.Players[slot]; ok {
					a.out.Deliver(playerID, msg)
				}
			}
			continue
		}
		if playerID, ok := a.state.Players[ev.Target]; ok {
			a.out.Deliver(playerID, msg)
		}
	}
}

func (a *RoomActor) broadcastMessage(t MessageType, payload any) {
	msg, err := NewMessage(t, payload)
	if err != nil {
		a.logger.Error("Failed to encode message", "error", err, "type", t)
		return
	}
	for slot := 0; slot < game.NumSlots; slot++ {
		if playerID, ok := a.state.Players[slot]; ok {
			a.out.Deliver(playerID, msg)
		}
	}
}

func (a *RoomActor) sendTo(playerID string, t MessageType, payload any) {
	msg, err := NewMessage(t, payload)
	if err != nil {
		a.logger.Error("Failed to encode message", "error", err, "type", t)
		return
	}
	a.out.Deliver(playerID, msg)
}

func (a *RoomActor) sendError(playerID, code, message string) {
	a.sendTo(playerID, MessageTypeError, ErrorData{Code: code, Message: message})
}
