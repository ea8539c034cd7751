package server

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ParisaSokuti/DS-project-sub000/internal/auth"
	"github.com/ParisaSokuti/DS-project-sub000/internal/game"
	"github.com/ParisaSokuti/DS-project-sub000/internal/randutil"
	"github.com/ParisaSokuti/DS-project-sub000/internal/store"
)

// deadConnection returns a transport whose Send always fails, without
// ever touching an underlying socket.
func deadConnection() *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return &Connection{
		send:   make(chan *Message),
		ctx:    ctx,
		cancel: cancel,
		logger: log.New(io.Discard),
	}
}

func TestDeliverFailureNotifiesRoom(t *testing.T) {
	mClock := quartz.NewMock(t)
	st := store.NewMemory(mClock)
	logger := log.New(io.Discard)
	sessions := NewSessionManager(st, mClock, logger)
	d := NewDispatcher(sessions, auth.NoopVerifier{}, logger)
	registry := NewRoomRegistry(st, sessions, d, mClock, logger, func() *game.Engine {
		return game.NewEngine(randutil.New(1))
	})
	d.SetRegistry(registry)
	t.Cleanup(registry.StopAll)

	actor := registry.GetOrCreate("ROOM01")
	for i := 0; i < game.NumSlots; i++ {
		require.True(t, actor.Enqueue(roomInput{
			kind:     inputJoin,
			playerID: fmt.Sprintf("p%d", i),
			name:     fmt.Sprintf("Player %d", i),
		}))
	}
	ctx := context.Background()
	require.Eventually(t, func() bool {
		sess, err := sessions.Session(ctx, "p3")
		return err == nil && sess != nil
	}, waitTimeout, 5*time.Millisecond, "waiting for all joins to land")

	conn := deadConnection()
	conn.SetPlayer("p0", "Player 0")
	sessions.Bind("p0", conn)

	msg, err := NewMessage(MessageTypePong, struct{}{})
	require.NoError(t, err)
	d.Deliver("p0", msg)

	// A failed write is a transport loss: the binding is gone and the
	// room marks the player disconnected instead of silently dropping
	// the event.
	assert.Nil(t, sessions.Lookup("p0"))
	require.Eventually(t, func() bool {
		sess, err := sessions.Session(ctx, "p0")
		return err == nil && sess != nil && sess.Status == store.StatusDisconnected
	}, waitTimeout, 5*time.Millisecond, "room never learned about the dead transport")

	// The read pump's own close arrives later and must not re-notify.
	d.HandleTransportClosed(conn)
}

func TestDeliverDropsUnboundPlayers(t *testing.T) {
	mClock := quartz.NewMock(t)
	st := store.NewMemory(mClock)
	logger := log.New(io.Discard)
	sessions := NewSessionManager(st, mClock, logger)
	d := NewDispatcher(sessions, auth.NoopVerifier{}, logger)
	registry := NewRoomRegistry(st, sessions, d, mClock, logger, func() *game.Engine {
		return game.NewEngine(randutil.New(1))
	})
	d.SetRegistry(registry)
	t.Cleanup(registry.StopAll)

	msg, err := NewMessage(MessageTypePong, struct{}{})
	require.NoError(t, err)
	d.Deliver("nobody", msg)
}
