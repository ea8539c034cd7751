// Package game implements the Hokm rules as a pure state machine.
//
// Every transition takes the current state plus one input and returns a
// new state and the outbound events it produced, or an *InvalidAction
// that leaves the input state untouched. The engine performs no I/O, so
// a room rebuilt from a persisted snapshot continues exactly where it
// stopped.
package game

import (
	rand "math/rand/v2"

	"github.com/ParisaSokuti/DS-project-sub000/internal/deck"
)

const (
	initialDealSize = 5
	finalDealSize   = 8
	tricksPerRound  = 13
	tricksToWin     = 7
	roundsToWin     = 7
)

// teamPartitions are the three distinct ways to split four slots into
// two teams of two. Team 0 is always the pair containing slot 0.
var teamPartitions = [3][2][2]int{
	{{0, 1}, {2, 3}},
	{{0, 2}, {1, 3}},
	{{0, 3}, {1, 2}},
}

// Engine applies Hokm transitions. The random source drives shuffles,
// team assignment, and hakem selection; production callers seed it from
// the CSPRNG (randutil.NewCrypto), tests inject a deterministic one.
type Engine struct {
	rng *rand.Rand
}

// NewEngine creates an engine around the given random source.
func NewEngine(rng *rand.Rand) *Engine {
	return &Engine{rng: rng}
}

// AddPlayer seats a player in the next free slot. The fourth join runs
// team assignment and the initial deal in the same apply step, leaving
// the room in WAITING_FOR_HOKM.
func (e *Engine) AddPlayer(s *State, playerID, name string) (*State, []Event, error) {
	if s.Phase != PhaseLobby {
		return nil, nil, invalid(ErrWrongPhase, "cannot join in phase %s", s.Phase)
	}
	if s.SlotOf(playerID) != NoSlot {
		return nil, nil, invalid(ErrAlreadySeated, "player already seated in this room")
	}
	slot := NoSlot
	for i := 0; i < NumSlots; i++ {
		if _, taken := s.Players[i]; !taken {
			slot = i
			break
		}
	}
	if slot == NoSlot {
		return nil, nil, invalid(ErrRoomFull, "room %s already has %d players", s.RoomCode, NumSlots)
	}

	next := s.Clone()
	next.Players[slot] = playerID
	next.Names[slot] = name

	events := []Event{broadcast(EventRoomUpdate, RoomUpdatePayload{
		ConnectedPlayers: next.ConnectedNames(),
		Phase:            next.Phase,
	})}

	if len(next.Players) == NumSlots {
		events = append(events, e.beginGame(next)...)
	}
	return next, events, nil
}

// RemovePlayer unseats a player. Legal only before the game has begun;
// mid-game departures are handled by the room's disconnect flow.
func (e *Engine) RemovePlayer(s *State, slot int) (*State, []Event, error) {
	if s.Phase != PhaseLobby {
		return nil, nil, invalid(ErrWrongPhase, "cannot leave in phase %s", s.Phase)
	}
	if _, ok := s.Players[slot]; !ok {
		return nil, nil, invalid(ErrNotInRoom, "slot %d is not seated", slot)
	}
	next := s.Clone()
	delete(next.Players, slot)
	delete(next.Names, slot)
	events := []Event{broadcast(EventRoomUpdate, RoomUpdatePayload{
		ConnectedPlayers: next.ConnectedNames(),
		Phase:            next.Phase,
	})}
	return next, events, nil
}

// beginGame runs the transient TEAM_ASSIGNMENT and INITIAL_DEAL phases.
// The partition and hakem are uniform random choices.
func (e *Engine) beginGame(s *State) []Event {
	s.Phase = PhaseTeamAssignment
	partition := teamPartitions[e.rng.IntN(len(teamPartitions))]
	s.Teams[0] = []int{partition[0][0], partition[0][1]}
	s.Teams[1] = []int{partition[1][0], partition[1][1]}
	s.HakemSlot = e.rng.IntN(NumSlots)
	s.RoundNumber = 1

	events := []Event{broadcast(EventTeamAssignment, TeamAssignmentPayload{
		Teams: stringifyKeys(s.Teams),
		Hakem: s.HakemSlot,
	})}
	events = append(events, e.dealInitial(s)...)
	return events
}

// dealInitial shuffles a fresh deck, deals five cards to each slot, and
// holds the remaining 32 back for the final deal.
func (e *Engine) dealInitial(s *State) []Event {
	s.Phase = PhaseInitialDeal
	d := deck.New(e.rng)
	d.Shuffle()

	events := make([]Event, 0, NumSlots+2)
	for slot := 0; slot < NumSlots; slot++ {
		hand := d.DealN(initialDealSize)
		deck.Sort(hand)
		s.Hands[slot] = hand
		s.TricksWon[slot] = 0
		events = append(events, private(EventInitialDeal, slot, DealPayload{Hand: hand}))
	}
	s.Undealt = d.Remaining()
	s.Phase = PhaseWaitingForHokm

	events = append(events,
		private(EventHokmChoiceRequired, s.HakemSlot, struct{}{}),
		broadcast(EventRoomUpdate, RoomUpdatePayload{
			ConnectedPlayers: s.ConnectedNames(),
			Phase:            s.Phase,
		}),
	)
	return events
}

// SelectHokm records the hakem's trump choice and completes the deal.
// The FINAL_DEAL phase is transient: the same apply step leaves the
// room in GAMEPLAY with the hakem leading the first trick.
func (e *Engine) SelectHokm(s *State, slot int, suit deck.Suit) (*State, []Event, error) {
	if s.Phase != PhaseWaitingForHokm {
		return nil, nil, invalid(ErrWrongPhase, "hokm cannot be selected in phase %s", s.Phase)
	}
	if slot != s.HakemSlot {
		return nil, nil, invalid(ErrNotHakem, "only the hakem (slot %d) may select hokm", s.HakemSlot)
	}
	if suit < deck.Hearts || suit > deck.Spades {
		return nil, nil, invalid(ErrInvalidSuit, "unknown suit")
	}

	next := s.Clone()
	next.Phase = PhaseFinalDeal
	trump := suit
	next.TrumpSuit = &trump

	events := []Event{broadcast(EventHokmSelected, HokmSelectedPayload{Suit: suit})}

	// Final deal: each slot receives eight more cards for thirteen total.
	undealt := next.Undealt
	for slot := 0; slot < NumSlots; slot++ {
		hand := append(next.Hands[slot], undealt[:finalDealSize]...)
		undealt = undealt[finalDealSize:]
		deck.Sort(hand)
		next.Hands[slot] = hand
		events = append(events, private(EventFinalDeal, slot, DealPayload{Hand: hand}))
	}
	next.Undealt = nil

	next.Phase = PhaseGameplay
	next.TurnSlot = next.HakemSlot
	events = append(events, broadcast(EventTurnStart, TurnStartPayload{TurnSlot: next.TurnSlot}))
	return next, events, nil
}

// PlayCard validates and applies one card play, resolving the trick,
// round, and game as they complete.
func (e *Engine) PlayCard(s *State, slot int, card deck.Card) (*State, []Event, error) {
	if s.Phase != PhaseGameplay {
		return nil, nil, invalid(ErrWrongPhase, "cards cannot be played in phase %s", s.Phase)
	}
	if slot != s.TurnSlot {
		return nil, nil, invalid(ErrNotYourTurn, "it is slot %d's turn", s.TurnSlot)
	}
	idx := s.handIndex(slot, card)
	if idx < 0 {
		return nil, nil, invalid(ErrNotInHand, "%s is not in your hand", card)
	}
	if s.LedSuit != nil && card.Suit != *s.LedSuit && s.holdsSuit(slot, *s.LedSuit) {
		return nil, nil, invalid(ErrMustFollowSuit, "must follow %s", *s.LedSuit)
	}

	next := s.Clone()
	next.Hands[slot] = append(next.Hands[slot][:idx:idx], next.Hands[slot][idx+1:]...)
	if len(next.CurrentTrick) == 0 {
		led := card.Suit
		next.LedSuit = &led
	}
	next.CurrentTrick = append(next.CurrentTrick, TrickPlay{Slot: slot, Card: card})
	next.TurnSlot = (slot + 1) % NumSlots

	events := []Event{broadcast(EventCardPlayed, CardPlayedPayload{Slot: slot, Card: card})}

	if len(next.CurrentTrick) < NumSlots {
		events = append(events, broadcast(EventTurnStart, TurnStartPayload{
			TurnSlot: next.TurnSlot,
			LedSuit:  next.LedSuit,
		}))
		return next, events, nil
	}

	winner, err := resolveTrick(next)
	if err != nil {
		return nil, nil, err
	}
	trick := next.CurrentTrick
	next.Collected = append(next.Collected, trick)
	next.CurrentTrick = nil
	next.LedSuit = nil
	next.TurnSlot = winner
	next.TricksWon[winner]++
	next.TrickNumber++

	events = append(events, broadcast(EventTrickComplete, TrickCompletePayload{
		WinnerSlot: winner,
		Trick:      trick,
	}))

	winnerTeam := next.TeamOf(winner)
	if next.TeamTricks(winnerTeam) >= tricksToWin || next.TrickNumber == tricksPerRound {
		events = append(events, e.completeRound(next, winnerTeam)...)
		return next, events, nil
	}

	events = append(events, broadcast(EventTurnStart, TurnStartPayload{TurnSlot: winner}))
	return next, events, nil
}

// resolveTrick determines the winning slot of a four-card trick: the
// highest trump if any trump was played, otherwise the highest card of
// the led suit. Off-suit cards can never win.
func resolveTrick(s *State) (int, *InvalidAction) {
	if len(s.CurrentTrick) == 0 {
		return NoSlot, invalid(ErrTrickUnderflow, "trick_underflow")
	}
	winner := NoSlot
	best := -1
	scoreOf := func(c deck.Card) int {
		if s.TrumpSuit != nil && c.Suit == *s.TrumpSuit {
			return 100 + c.Value()
		}
		if s.LedSuit != nil && c.Suit == *s.LedSuit {
			return c.Value()
		}
		return -1
	}
	for _, play := range s.CurrentTrick {
		if score := scoreOf(play.Card); score > best {
			best = score
			winner = play.Slot
		}
	}
	return winner, nil
}

// completeRound scores the finished round and either ends the game or
// deals the next round. The next hakem is the winning team's player
// with the most tricks this round, ties broken by lowest slot.
func (e *Engine) completeRound(s *State, winnerTeam int) []Event {
	s.Phase = PhaseRoundComplete
	s.RoundScores[winnerTeam]++

	events := []Event{broadcast(EventRoundComplete, RoundCompletePayload{
		WinnerTeam:  winnerTeam,
		RoundScores: stringifyKeys(s.RoundScores),
	})}

	if s.RoundScores[winnerTeam] >= roundsToWin {
		s.Phase = PhaseGameComplete
		s.TurnSlot = NoSlot
		events = append(events, broadcast(EventGameComplete, GameCompletePayload{
			WinnerTeam:  winnerTeam,
			RoundScores: stringifyKeys(s.RoundScores),
		}))
		return events
	}

	hakem := NoSlot
	bestTricks := -1
	for _, slot := range s.Teams[winnerTeam] {
		if s.TricksWon[slot] > bestTricks || (s.TricksWon[slot] == bestTricks && slot < hakem) {
			bestTricks = s.TricksWon[slot]
			hakem = slot
		}
	}
	s.HakemSlot = hakem

	// Reset per-round state and deal the next round.
	s.TrumpSuit = nil
	s.Collected = nil
	s.TrickNumber = 0
	s.TurnSlot = NoSlot
	s.RoundNumber++
	events = append(events, e.dealInitial(s)...)
	return events
}
