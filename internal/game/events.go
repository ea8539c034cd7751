package game

import "github.com/ParisaSokuti/DS-project-sub000/internal/deck"

// EventType identifies an outbound game event.
type EventType string

const (
	EventRoomUpdate         EventType = "room_update"
	EventTeamAssignment     EventType = "team_assignment"
	EventInitialDeal        EventType = "initial_deal"
	EventHokmChoiceRequired EventType = "hokm_choice_required"
	EventHokmSelected       EventType = "hokm_selected"
	EventFinalDeal          EventType = "final_deal"
	EventTurnStart          EventType = "turn_start"
	EventCardPlayed         EventType = "card_played"
	EventTrickComplete      EventType = "trick_complete"
	EventRoundComplete      EventType = "round_complete"
	EventGameComplete       EventType = "game_complete"
)

// BroadcastSlot targets an event at every seated player.
const BroadcastSlot = -1

// Event is an outbound notification produced by a transition. Target is
// either BroadcastSlot or the slot index of the single recipient;
// addressing by slot keeps the engine free of player identity and
// transport concerns.
type Event struct {
	Type    EventType
	Target  int
	Payload any
}

func broadcast(t EventType, payload any) Event {
	return Event{Type: t, Target: BroadcastSlot, Payload: payload}
}

func private(t EventType, slot int, payload any) Event {
	return Event{Type: t, Target: slot, Payload: payload}
}

// Event payloads. These marshal directly onto the wire, so field names
// follow the client protocol.

type RoomUpdatePayload struct {
	ConnectedPlayers []string `json:"connected_players"`
	Phase            Phase    `json:"phase"`
}

type TeamAssignmentPayload struct {
	Teams map[string][]int `json:"teams"`
	Hakem int              `json:"hakem"`
}

type DealPayload struct {
	Hand []deck.Card `json:"hand"`
}

type HokmSelectedPayload struct {
	Suit deck.Suit `json:"suit"`
}

type TurnStartPayload struct {
	TurnSlot int        `json:"turn_slot"`
	LedSuit  *deck.Suit `json:"led_suit,omitempty"`
}

type CardPlayedPayload struct {
	Slot int       `json:"slot"`
	Card deck.Card `json:"card"`
}

type TrickCompletePayload struct {
	WinnerSlot int         `json:"winner_slot"`
	Trick      []TrickPlay `json:"trick"`
}

type RoundCompletePayload struct {
	WinnerTeam  int            `json:"winner_team"`
	RoundScores map[string]int `json:"round_scores"`
}

type GameCompletePayload struct {
	WinnerTeam  int            `json:"winner_team"`
	RoundScores map[string]int `json:"round_scores"`
}
