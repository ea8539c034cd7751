package server

import (
	"encoding/json"
	"regexp"
	"time"
)

// Message represents the base WebSocket message structure
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(messageType MessageType, data interface{}) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      messageType,
		Data:      dataBytes,
		Timestamp: time.Now(),
	}, nil
}

// Field validation patterns from the wire protocol.
var (
	cardPattern = regexp.MustCompile(`^(2|3|4|5|6|7|8|9|10|J|Q|K|A)_(hearts|diamonds|clubs|spades)$`)
)

// Client → Server Messages

type AuthenticateData struct {
	Token string `json:"token"`
}

type JoinData struct {
	RoomCode string `json:"room_code"`
}

type ReconnectData struct {
	PlayerID string `json:"player_id"`
}

type LeaveData struct {
	RoomCode string `json:"room_code"`
}

type SelectHokmData struct {
	RoomCode string `json:"room_code"`
	Suit     string `json:"suit"`
}

type PlayCardData struct {
	RoomCode string `json:"room_code"`
	Card     string `json:"card"`
}

// Server → Client Messages

type AuthResponseData struct {
	OK       bool   `json:"ok"`
	PlayerID string `json:"player_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type JoinSuccessData struct {
	RoomCode string `json:"room_code"`
	Slot     int    `json:"slot"`
	You      string `json:"you"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PlayerPresenceData struct {
	Slot int `json:"slot"`
}

type GameCancelledData struct {
	Reason string `json:"reason"`
}

// Error codes surfaced to clients. Engine rejections additionally carry
// the engine's own kind as the code (not_your_turn, not_in_hand, ...).
const (
	ErrCodeMalformed        = "malformed"
	ErrCodeUnknownType      = "unknown_type"
	ErrCodeNotAuthenticated = "not_authenticated"
	ErrCodeInvalidToken     = "invalid_token"
	ErrCodeInvalidRoomCode  = "invalid_room_code"
	ErrCodeInvalidSuit      = "invalid_suit"
	ErrCodeInvalidCard      = "invalid_card"
	ErrCodeServerBusy       = "server_busy"
	ErrCodeRoomNotFound     = "room_not_found"
	ErrCodeInternal         = "internal"
)

// Close reasons for transports the server terminates.
const (
	CloseReasonSuperseded   = "superseded"
	CloseReasonRateLimited  = "rate_limited"
	CloseReasonSlowConsumer = "slow_consumer"
)
