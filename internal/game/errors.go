package game

import "fmt"

// ErrorKind identifies why an action was rejected. Kinds map 1:1 to the
// error codes sent back to the offending player.
type ErrorKind string

const (
	ErrWrongPhase     ErrorKind = "wrong_phase"
	ErrRoomFull       ErrorKind = "room_full"
	ErrAlreadySeated  ErrorKind = "already_seated"
	ErrNotInRoom      ErrorKind = "not_in_room"
	ErrNotHakem       ErrorKind = "not_hakem"
	ErrInvalidSuit    ErrorKind = "invalid_suit"
	ErrNotYourTurn    ErrorKind = "not_your_turn"
	ErrNotInHand      ErrorKind = "not_in_hand"
	ErrMustFollowSuit ErrorKind = "must_follow_suit"
	ErrTrickUnderflow ErrorKind = "trick_underflow"
)

// InvalidAction is returned when a transition is rejected. The engine
// never mutates state on the rejection path; the error is surfaced only
// to the submitting player and the room continues.
type InvalidAction struct {
	Kind    ErrorKind
	Message string
}

func (e *InvalidAction) Error() string {
	return fmt.Sprintf("invalid action (%s): %s", e.Kind, e.Message)
}

func invalid(kind ErrorKind, format string, args ...any) *InvalidAction {
	return &InvalidAction{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
