package server

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/charmbracelet/log"

	"github.com/ParisaSokuti/DS-project-sub000/internal/auth"
	"github.com/ParisaSokuti/DS-project-sub000/internal/deck"
	"github.com/ParisaSokuti/DS-project-sub000/internal/roomcode"
)

// Dispatcher is the only component that speaks to transports. Inbound:
// decode, validate shape, authenticate the sender, route to the room
// actor. Outbound: resolve each recipient's current transport and
// write, isolating per-recipient failures.
type Dispatcher struct {
	sessions *SessionManager
	verifier auth.Verifier
	logger   *log.Logger
	registry *RoomRegistry
}

// NewDispatcher creates a dispatcher. The registry is attached
// separately because the registry needs the dispatcher as its outbound
// sender.
func NewDispatcher(sessions *SessionManager, verifier auth.Verifier, logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		verifier: verifier,
		logger:   logger.WithPrefix("dispatch"),
	}
}

// SetRegistry attaches the room registry. Must be called before the
// server accepts connections.
func (d *Dispatcher) SetRegistry(registry *RoomRegistry) {
	d.registry = registry
}

// HandleMessage processes one decoded inbound message from a transport.
func (d *Dispatcher) HandleMessage(c *Connection, msg *Message) {
	if !inboundTypes[msg.Type] {
		c.sendError(ErrCodeUnknownType, "unknown message type: "+msg.Type.String())
		return
	}

	if msg.Type == MessageTypePing {
		if pong, err := NewMessage(MessageTypePong, struct{}{}); err == nil {
			_ = c.Send(pong)
		}
		return
	}

	if msg.Type == MessageTypeAuthenticate || msg.Type == MessageTypeReconnect {
		d.handleAuthenticate(c, msg)
		return
	}

	playerID := c.PlayerID()
	if playerID == "" {
		c.sendError(ErrCodeNotAuthenticated, "authenticate first")
		return
	}

	switch msg.Type {
	case MessageTypeJoin:
		var data JoinData
		if !decode(c, msg.Data, &data) {
			return
		}
		code := data.RoomCode
		if code == "" {
			// No code means open a fresh room; the minted code comes
			// back in join_success.
			code = roomcode.Generate()
			for d.registry.Get(code) != nil {
				code = roomcode.Generate()
			}
		} else if err := roomcode.Validate(code); err != nil {
			c.sendError(ErrCodeInvalidRoomCode, err.Error())
			return
		}
		actor := d.registry.GetOrCreate(code)
		name := c.PlayerName()
		if name == "" {
			name = playerID
		}
		d.enqueue(c, actor, roomInput{kind: inputJoin, playerID: playerID, name: name})

	case MessageTypeLeave:
		var data LeaveData
		if !decode(c, msg.Data, &data) {
			return
		}
		if err := roomcode.Validate(data.RoomCode); err != nil {
			c.sendError(ErrCodeInvalidRoomCode, err.Error())
			return
		}
		actor := d.registry.Get(data.RoomCode)
		if actor == nil {
			c.sendError(ErrCodeRoomNotFound, "no such room: "+data.RoomCode)
			return
		}
		d.enqueue(c, actor, roomInput{kind: inputLeave, playerID: playerID})

	case MessageTypeSelectHokm:
		var data SelectHokmData
		if !decode(c, msg.Data, &data) {
			return
		}
		if err := roomcode.Validate(data.RoomCode); err != nil {
			c.sendError(ErrCodeInvalidRoomCode, err.Error())
			return
		}
		suit, err := deck.ParseSuit(data.Suit)
		if err != nil {
			c.sendError(ErrCodeInvalidSuit, err.Error())
			return
		}
		actor := d.registry.Get(data.RoomCode)
		if actor == nil {
			c.sendError(ErrCodeRoomNotFound, "no such room: "+data.RoomCode)
			return
		}
		d.enqueue(c, actor, roomInput{kind: inputSelectHokm, playerID: playerID, suit: suit})

	case MessageTypePlayCard:
		var data PlayCardData
		if !decode(c, msg.Data, &data) {
			return
		}
		if err := roomcode.Validate(data.RoomCode); err != nil {
			c.sendError(ErrCodeInvalidRoomCode, err.Error())
			return
		}
		if !cardPattern.MatchString(data.Card) {
			c.sendError(ErrCodeInvalidCard, "card must match <rank>_<suit>")
			return
		}
		card, err := deck.ParseCard(data.Card)
		if err != nil {
			c.sendError(ErrCodeInvalidCard, err.Error())
			return
		}
		actor := d.registry.Get(data.RoomCode)
		if actor == nil {
			c.sendError(ErrCodeRoomNotFound, "no such room: "+data.RoomCode)
			return
		}
		d.enqueue(c, actor, roomInput{kind: inputPlayCard, playerID: playerID, card: card})
	}
}

// handleAuthenticate verifies identity and binds the transport. A new
// binding supersedes any previous transport for the same player, and a
// live session triggers the reconnect flow on the owning room.
func (d *Dispatcher) handleAuthenticate(c *Connection, msg *Message) {
	var token string
	if msg.Type == MessageTypeAuthenticate {
		var data AuthenticateData
		if !decode(c, msg.Data, &data) {
			return
		}
		token = data.Token
	} else {
		// reconnect: a previously issued player id stands in for a
		// token when the deployment runs without an issuer.
		var data ReconnectData
		if !decode(c, msg.Data, &data) {
			return
		}
		token = data.PlayerID
	}

	identity, err := d.verifier.Verify(context.Background(), token)
	if err != nil {
		reason := ErrCodeInternal
		if errors.Is(err, auth.ErrInvalidToken) {
			reason = ErrCodeInvalidToken
		}
		if resp, merr := NewMessage(MessageTypeAuthResponse, AuthResponseData{OK: false, Reason: reason}); merr == nil {
			_ = c.Send(resp)
		}
		return
	}

	c.SetPlayer(identity.PlayerID, identity.Name)
	if prev := d.sessions.Bind(identity.PlayerID, c); prev != nil {
		d.logger.Info("Superseding previous transport", "player", identity.PlayerID)
		prev.CloseWithReason(CloseReasonSuperseded)
	}

	if resp, merr := NewMessage(MessageTypeAuthResponse, AuthResponseData{OK: true, PlayerID: identity.PlayerID}); merr == nil {
		_ = c.Send(resp)
	}

	// Resume a live room if the player has one.
	sess, err := d.sessions.Session(context.Background(), identity.PlayerID)
	if err != nil {
		d.logger.Error("Failed to load session", "error", err, "player", identity.PlayerID)
		return
	}
	if sess == nil {
		return
	}
	if actor := d.registry.GetOrCreate(sess.RoomCode); actor != nil {
		if !actor.Enqueue(roomInput{kind: inputReconnected, playerID: identity.PlayerID}) {
			c.sendError(ErrCodeServerBusy, "room mailbox full")
		}
	}
}

// HandleTransportClosed unbinds a closed transport and notifies the
// owning room. A stale close (superseded transport) is ignored.
func (d *Dispatcher) HandleTransportClosed(c *Connection) {
	playerID := c.PlayerID()
	if playerID == "" {
		return
	}
	d.transportLost(playerID, c)
}

// transportLost is the single path that turns a dead transport into a
// room disconnect. Whichever side notices first (the read pump closing
// or a failed Deliver) wins the Unbind; the other is a stale no-op.
func (d *Dispatcher) transportLost(playerID string, c *Connection) {
	if !d.sessions.Unbind(playerID, c) {
		return
	}
	sess, err := d.sessions.Session(context.Background(), playerID)
	if err != nil || sess == nil {
		return
	}
	if actor := d.registry.Get(sess.RoomCode); actor != nil {
		actor.Enqueue(roomInput{kind: inputDisconnected, playerID: playerID})
	}
}

// Deliver writes a message to the transport currently bound to a
// player. Messages for unbound players are discarded; a failed write
// is treated as a transport loss so the room still learns about the
// disconnect, without affecting other recipients.
func (d *Dispatcher) Deliver(playerID string, msg *Message) {
	conn := d.sessions.Lookup(playerID)
	if conn == nil {
		return
	}
	if err := conn.Send(msg); err != nil {
		d.logger.Warn("Failed to deliver message, dropping transport", "player", playerID, "error", err)
		d.transportLost(playerID, conn)
	}
}

func (d *Dispatcher) enqueue(c *Connection, actor *RoomActor, in roomInput) {
	if !actor.Enqueue(in) {
		c.sendError(ErrCodeServerBusy, "room mailbox full")
	}
}

func decode(c *Connection, raw json.RawMessage, v any) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		c.sendError(ErrCodeMalformed, "failed to parse message data")
		return false
	}
	return true
}
