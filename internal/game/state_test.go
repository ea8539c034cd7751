package game

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ParisaSokuti/DS-project-sub000/internal/deck"
)

func midRoundState() *State {
	s := gameplayFixture(deck.Spades, map[int][]deck.Card{
		0: {card("A_diamonds"), card("2_clubs")},
		1: {card("K_hearts")},
		2: {card("Q_diamonds")},
		3: {card("J_spades")},
	})
	s.TricksWon = map[int]int{0: 2, 1: 1, 2: 1, 3: 0}
	s.RoundScores = map[int]int{0: 1, 1: 2}
	s.RoundNumber = 4
	s.TrickNumber = 4
	s.CurrentTrick = []TrickPlay{{Slot: 0, Card: card("A_hearts")}}
	s.LedSuit = suitPtr(deck.Hearts)
	s.TurnSlot = 1
	s.Collected = [][]TrickPlay{{
		{Slot: 0, Card: card("2_hearts")},
		{Slot: 1, Card: card("3_hearts")},
		{Slot: 2, Card: card("4_hearts")},
		{Slot: 3, Card: card("5_hearts")},
	}}
	return s
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := midRoundState()

	data, err := s.Snapshot()
	require.NoError(t, err)
	restored, err := RestoreSnapshot(data)
	require.NoError(t, err)

	again, err := restored.Snapshot()
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))

	assert.Equal(t, s.Phase, restored.Phase)
	assert.Equal(t, s.Players, restored.Players)
	assert.Equal(t, s.Teams, restored.Teams)
	assert.Equal(t, s.Hands, restored.Hands)
	assert.Equal(t, s.TricksWon, restored.TricksWon)
	assert.Equal(t, s.RoundScores, restored.RoundScores)
	assert.Equal(t, s.CurrentTrick, restored.CurrentTrick)
	assert.Equal(t, s.Collected, restored.Collected)
	require.NotNil(t, restored.TrumpSuit)
	assert.Equal(t, deck.Spades, *restored.TrumpSuit)
	require.NotNil(t, restored.LedSuit)
	assert.Equal(t, deck.Hearts, *restored.LedSuit)
}

func TestSnapshotStringifiesSlotKeys(t *testing.T) {
	s := midRoundState()
	data, err := s.Snapshot()
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))

	var hands map[string][]string
	require.NoError(t, json.Unmarshal(raw["hands"], &hands))
	assert.Contains(t, hands, "0")
	assert.NotContains(t, hands, "-1")

	var cards []string
	require.NoError(t, json.Unmarshal(raw["undealt"], &cards))
	assert.Empty(t, cards)
}

func TestSnapshotHandsAreSorted(t *testing.T) {
	s := NewState("ROOM01")
	s.Hands[0] = []deck.Card{card("A_spades"), card("2_hearts"), card("K_hearts")}

	data, err := s.Snapshot()
	require.NoError(t, err)
	restored, err := RestoreSnapshot(data)
	require.NoError(t, err)

	assert.Equal(t, []deck.Card{card("2_hearts"), card("K_hearts"), card("A_spades")}, restored.Hands[0])
	// The in-memory state is not reordered by snapshotting.
	assert.Equal(t, card("A_spades"), s.Hands[0][0])
}

func TestRestoreSnapshotRejectsBadKeys(t *testing.T) {
	_, err := RestoreSnapshot([]byte(`{"room_code":"R","phase":"lobby","players":{"zero":"p0"}}`))
	require.Error(t, err)

	_, err = RestoreSnapshot([]byte(`{not json`))
	require.Error(t, err)
}

func TestCloneIsIndependent(t *testing.T) {
	s := midRoundState()
	c := s.Clone()

	c.Hands[0][0] = card("9_clubs")
	c.Players[0] = "other"
	c.TricksWon[0] = 99
	*c.TrumpSuit = deck.Hearts
	c.CurrentTrick[0].Slot = 3

	assert.Equal(t, card("A_diamonds"), s.Hands[0][0])
	assert.Equal(t, "p0", s.Players[0])
	assert.Equal(t, 2, s.TricksWon[0])
	assert.Equal(t, deck.Spades, *s.TrumpSuit)
	assert.Equal(t, 0, s.CurrentTrick[0].Slot)
}

func TestSummaryForRedactsOtherHands(t *testing.T) {
	s := midRoundState()
	sum := s.SummaryFor(1)

	assert.Equal(t, 1, sum.YourSlot)
	assert.Equal(t, []deck.Card{card("K_hearts")}, sum.Hand)
	assert.Equal(t, s.Phase, sum.Phase)
	assert.Equal(t, 1, sum.TurnSlot)
	require.NotNil(t, sum.TrumpSuit)

	// Nothing but the recipient's own hand appears anywhere in the
	// serialized summary.
	data, err := json.Marshal(sum)
	require.NoError(t, err)
	for slot, hand := range s.Hands {
		if slot == 1 {
			continue
		}
		for _, c := range hand {
			assert.NotContains(t, string(data), c.String())
		}
	}
}

func TestTeamHelpers(t *testing.T) {
	s := midRoundState()
	assert.Equal(t, 0, s.TeamOf(0))
	assert.Equal(t, 0, s.TeamOf(2))
	assert.Equal(t, 1, s.TeamOf(3))
	assert.Equal(t, -1, NewState("R").TeamOf(0))

	assert.Equal(t, 3, s.TeamTricks(0))
	assert.Equal(t, 1, s.TeamTricks(1))

	assert.Equal(t, 2, s.SlotOf("p2"))
	assert.Equal(t, NoSlot, s.SlotOf("nobody"))
}

func TestConnectedNamesOrderedBySlot(t *testing.T) {
	s := NewState("R")
	s.Names[2] = "c"
	s.Names[0] = "a"
	assert.Equal(t, []string{"a", "c"}, s.ConnectedNames())
}
