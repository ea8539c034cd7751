package game

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ParisaSokuti/DS-project-sub000/internal/deck"
)

// Phase is the room's position in the game state machine.
type Phase string

const (
	PhaseLobby          Phase = "lobby"
	PhaseTeamAssignment Phase = "team_assignment"
	PhaseInitialDeal    Phase = "initial_deal"
	PhaseWaitingForHokm Phase = "waiting_for_hokm"
	PhaseFinalDeal      Phase = "final_deal"
	PhaseGameplay       Phase = "gameplay"
	PhaseRoundComplete  Phase = "round_complete"
	PhaseGameComplete   Phase = "game_complete"
)

// NumSlots is the fixed table size; slots double as turn order.
const NumSlots = 4

// NoSlot marks an unassigned slot-valued field (hakem before team
// assignment, turn outside gameplay).
const NoSlot = -1

// TrickPlay is one card laid into the current trick.
type TrickPlay struct {
	Slot int       `json:"slot"`
	Card deck.Card `json:"card"`
}

// State is the complete per-room game state. It is a plain value owned
// by exactly one room actor; the engine transitions it without I/O.
type State struct {
	RoomCode string

	Phase     Phase
	Players   map[int]string // slot -> player_id
	Names     map[int]string // slot -> display name
	Teams     map[int][]int  // team -> slots, each sorted ascending
	HakemSlot int
	TrumpSuit *deck.Suit

	Hands   map[int][]deck.Card // slot -> hand, canonical (suit, rank) order
	Undealt []deck.Card         // held back between initial and final deal

	CurrentTrick []TrickPlay
	LedSuit      *deck.Suit
	TurnSlot     int

	TricksWon   map[int]int   // slot -> tricks this round
	Collected   [][]TrickPlay // completed tricks this round
	RoundScores map[int]int   // team -> rounds won
	RoundNumber int
	TrickNumber int
}

// NewState creates an empty lobby-phase state for a room.
func NewState(roomCode string) *State {
	return &State{
		RoomCode:    roomCode,
		Phase:       PhaseLobby,
		Players:     make(map[int]string),
		Names:       make(map[int]string),
		Teams:       make(map[int][]int),
		HakemSlot:   NoSlot,
		Hands:       make(map[int][]deck.Card),
		TurnSlot:    NoSlot,
		TricksWon:   make(map[int]int),
		RoundScores: map[int]int{0: 0, 1: 0},
		RoundNumber: 0,
		TrickNumber: 0,
	}
}

// Clone deep-copies the state. Transitions mutate a clone so a rejected
// action leaves the caller's state untouched.
func (s *State) Clone() *State {
	c := &State{
		RoomCode:    s.RoomCode,
		Phase:       s.Phase,
		Players:     make(map[int]string, len(s.Players)),
		Names:       make(map[int]string, len(s.Names)),
		Teams:       make(map[int][]int, len(s.Teams)),
		HakemSlot:   s.HakemSlot,
		TurnSlot:    s.TurnSlot,
		Hands:       make(map[int][]deck.Card, len(s.Hands)),
		TricksWon:   make(map[int]int, len(s.TricksWon)),
		RoundScores: make(map[int]int, len(s.RoundScores)),
		RoundNumber: s.RoundNumber,
		TrickNumber: s.TrickNumber,
	}
	for k, v := range s.Players {
		c.Players[k] = v
	}
	for k, v := range s.Names {
		c.Names[k] = v
	}
	for k, v := range s.Teams {
		c.Teams[k] = append([]int(nil), v...)
	}
	for k, v := range s.Hands {
		c.Hands[k] = append([]deck.Card(nil), v...)
	}
	for k, v := range s.TricksWon {
		c.TricksWon[k] = v
	}
	for k, v := range s.RoundScores {
		c.RoundScores[k] = v
	}
	if s.TrumpSuit != nil {
		t := *s.TrumpSuit
		c.TrumpSuit = &t
	}
	if s.LedSuit != nil {
		l := *s.LedSuit
		c.LedSuit = &l
	}
	c.Undealt = append([]deck.Card(nil), s.Undealt...)
	c.CurrentTrick = append([]TrickPlay(nil), s.CurrentTrick...)
	for _, trick := range s.Collected {
		c.Collected = append(c.Collected, append([]TrickPlay(nil), trick...))
	}
	return c
}

// SlotOf returns the slot seated by playerID, or NoSlot.
func (s *State) SlotOf(playerID string) int {
	for slot, id := range s.Players {
		if id == playerID {
			return slot
		}
	}
	return NoSlot
}

// TeamOf returns the team owning slot, or -1 before team assignment.
func (s *State) TeamOf(slot int) int {
	for team, slots := range s.Teams {
		for _, sl := range slots {
			if sl == slot {
				return team
			}
		}
	}
	return -1
}

// TeamTricks returns the trick count for a team this round.
func (s *State) TeamTricks(team int) int {
	total := 0
	for _, slot := range s.Teams[team] {
		total += s.TricksWon[slot]
	}
	return total
}

// handIndex returns the position of card in slot's hand, or -1.
func (s *State) handIndex(slot int, card deck.Card) int {
	for i, c := range s.Hands[slot] {
		if c == card {
			return i
		}
	}
	return -1
}

// holdsSuit reports whether slot's hand contains at least one card of suit.
func (s *State) holdsSuit(slot int, suit deck.Suit) bool {
	for _, c := range s.Hands[slot] {
		if c.Suit == suit {
			return true
		}
	}
	return false
}

// snapshot is the persisted form of State. Integer-keyed maps are
// stringified so the stored form round-trips through any JSON store;
// hands are kept in canonical (suit, rank) order.
type snapshot struct {
	RoomCode     string                 `json:"room_code"`
	Phase        Phase                  `json:"phase"`
	Players      map[string]string      `json:"players"`
	Names        map[string]string      `json:"names"`
	Teams        map[string][]int       `json:"teams"`
	HakemSlot    int                    `json:"hakem_slot"`
	TrumpSuit    *deck.Suit             `json:"trump_suit"`
	Hands        map[string][]deck.Card `json:"hands"`
	Undealt      []deck.Card            `json:"undealt"`
	CurrentTrick []TrickPlay            `json:"current_trick"`
	LedSuit      *deck.Suit             `json:"led_suit"`
	TurnSlot     int                    `json:"turn_slot"`
	TricksWon    map[string]int         `json:"tricks_won"`
	Collected    [][]TrickPlay          `json:"collected_tricks"`
	RoundScores  map[string]int         `json:"round_scores"`
	RoundNumber  int                    `json:"round_number"`
	TrickNumber  int                    `json:"trick_number"`
}

// Snapshot serializes the state into its canonical persisted form.
func (s *State) Snapshot() ([]byte, error) {
	snap := snapshot{
		RoomCode:     s.RoomCode,
		Phase:        s.Phase,
		Players:      stringifyKeys(s.Players),
		Names:        stringifyKeys(s.Names),
		Teams:        stringifyKeys(s.Teams),
		HakemSlot:    s.HakemSlot,
		TrumpSuit:    s.TrumpSuit,
		Hands:        make(map[string][]deck.Card, len(s.Hands)),
		Undealt:      s.Undealt,
		CurrentTrick: s.CurrentTrick,
		LedSuit:      s.LedSuit,
		TurnSlot:     s.TurnSlot,
		TricksWon:    stringifyKeys(s.TricksWon),
		Collected:    s.Collected,
		RoundScores:  stringifyKeys(s.RoundScores),
		RoundNumber:  s.RoundNumber,
		TrickNumber:  s.TrickNumber,
	}
	for slot, hand := range s.Hands {
		sorted := append([]deck.Card(nil), hand...)
		deck.Sort(sorted)
		snap.Hands[strconv.Itoa(slot)] = sorted
	}
	return json.Marshal(snap)
}

// RestoreSnapshot rebuilds a State from its persisted form.
func RestoreSnapshot(data []byte) (*State, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	s := NewState(snap.RoomCode)
	s.Phase = snap.Phase
	s.HakemSlot = snap.HakemSlot
	s.TrumpSuit = snap.TrumpSuit
	s.Undealt = snap.Undealt
	s.CurrentTrick = snap.CurrentTrick
	s.LedSuit = snap.LedSuit
	s.TurnSlot = snap.TurnSlot
	s.Collected = snap.Collected
	s.RoundNumber = snap.RoundNumber
	s.TrickNumber = snap.TrickNumber

	var err error
	if s.Players, err = intifyKeys(snap.Players); err != nil {
		return nil, err
	}
	if s.Names, err = intifyKeys(snap.Names); err != nil {
		return nil, err
	}
	if s.Teams, err = intifyKeys(snap.Teams); err != nil {
		return nil, err
	}
	if s.Hands, err = intifyKeys(snap.Hands); err != nil {
		return nil, err
	}
	if s.TricksWon, err = intifyKeys(snap.TricksWon); err != nil {
		return nil, err
	}
	if s.RoundScores, err = intifyKeys(snap.RoundScores); err != nil {
		return nil, err
	}
	return s, nil
}

func stringifyKeys[V any](in map[int]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[strconv.Itoa(k)] = v
	}
	return out
}

func intifyKeys[V any](in map[string]V) (map[int]V, error) {
	out := make(map[int]V, len(in))
	for k, v := range in {
		n, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("non-integer map key %q in snapshot", k)
		}
		out[n] = v
	}
	return out, nil
}

// Summary is the redacted per-player view of a room: everything public
// plus the recipient's own hand. The same shape serves steady-state
// room updates and reconnect restores.
type Summary struct {
	RoomCode     string            `json:"room_code"`
	Phase        Phase             `json:"phase"`
	Players      map[string]string `json:"players"` // slot -> display name
	Teams        map[string][]int  `json:"teams"`
	HakemSlot    int               `json:"hakem_slot"`
	TrumpSuit    *deck.Suit        `json:"trump_suit,omitempty"`
	YourSlot     int               `json:"your_slot"`
	Hand         []deck.Card       `json:"hand"`
	TurnSlot     int               `json:"turn_slot"`
	CurrentTrick []TrickPlay       `json:"current_trick"`
	LedSuit      *deck.Suit        `json:"led_suit,omitempty"`
	TricksWon    map[string]int    `json:"tricks_won"`
	RoundScores  map[string]int    `json:"round_scores"`
	RoundNumber  int               `json:"round_number"`
	TrickNumber  int               `json:"trick_number"`
}

// SummaryFor builds the redacted view for one slot. Only that slot's
// hand is included; other hands never leave the engine.
func (s *State) SummaryFor(slot int) Summary {
	hand := append([]deck.Card(nil), s.Hands[slot]...)
	deck.Sort(hand)
	return Summary{
		RoomCode:     s.RoomCode,
		Phase:        s.Phase,
		Players:      stringifyKeys(s.Names),
		Teams:        stringifyKeys(s.Teams),
		HakemSlot:    s.HakemSlot,
		TrumpSuit:    s.TrumpSuit,
		YourSlot:     slot,
		Hand:         hand,
		TurnSlot:     s.TurnSlot,
		CurrentTrick: append([]TrickPlay(nil), s.CurrentTrick...),
		LedSuit:      s.LedSuit,
		TricksWon:    stringifyKeys(s.TricksWon),
		RoundScores:  stringifyKeys(s.RoundScores),
		RoundNumber:  s.RoundNumber,
		TrickNumber:  s.TrickNumber,
	}
}

// ConnectedNames returns the display names of seated players ordered by
// slot, for room_update payloads.
func (s *State) ConnectedNames() []string {
	names := make([]string, 0, len(s.Names))
	for slot := 0; slot < NumSlots; slot++ {
		if name, ok := s.Names[slot]; ok {
			names = append(names, name)
		}
	}
	return names
}
