package server

// MessageType represents a WebSocket message type with type safety
type MessageType string

// WebSocket message type constants
const (
	// Client to server messages
	MessageTypeAuthenticate MessageType = "authenticate"
	MessageTypeJoin         MessageType = "join"
	MessageTypeReconnect    MessageType = "reconnect"
	MessageTypeLeave        MessageType = "leave"
	MessageTypeSelectHokm   MessageType = "select_hokm"
	MessageTypePlayCard     MessageType = "play_card"
	MessageTypePing         MessageType = "ping"

	// Server to client messages
	MessageTypeAuthResponse       MessageType = "auth_response"
	MessageTypeJoinSuccess        MessageType = "join_success"
	MessageTypeRoomUpdate         MessageType = "room_update"
	MessageTypeTeamAssignment     MessageType = "team_assignment"
	MessageTypeInitialDeal        MessageType = "initial_deal"
	MessageTypeHokmChoiceRequired MessageType = "hokm_choice_required"
	MessageTypeHokmSelected       MessageType = "hokm_selected"
	MessageTypeFinalDeal          MessageType = "final_deal"
	MessageTypeTurnStart          MessageType = "turn_start"
	MessageTypeCardPlayed         MessageType = "card_played"
	MessageTypeTrickComplete      MessageType = "trick_complete"
	MessageTypeRoundComplete      MessageType = "round_complete"
	MessageTypeGameComplete       MessageType = "game_complete"
	MessageTypePlayerDisconnected MessageType = "player_disconnected"
	MessageTypePlayerReconnected  MessageType = "player_reconnected"
	MessageTypeGameCancelled      MessageType = "game_cancelled"
	MessageTypeGameState          MessageType = "game_state"
	MessageTypeError              MessageType = "error"
	MessageTypePong               MessageType = "pong"
)

// inboundTypes is the whitelist of message types clients may send.
var inboundTypes = map[MessageType]bool{
	MessageTypeAuthenticate: true,
	MessageTypeJoin:         true,
	MessageTypeReconnect:    true,
	MessageTypeLeave:        true,
	MessageTypeSelectHokm:   true,
	MessageTypePlayCard:     true,
	MessageTypePing:         true,
}

// String returns the string representation of the message type
func (mt MessageType) String() string {
	return string(mt)
}
