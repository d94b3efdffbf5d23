package handlers

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trentd187/match-reservations/internal/middleware"
	realtime "github.com/trentd187/match-reservations/internal/websocket"
)

// serveWS starts the WebSocket routes on a loopback port and returns its ws:// base URL.
func serveWS(t *testing.T, hub *realtime.Hub, user uuid.UUID) string {
	t.Helper()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	ws := app.Group("/ws", UpgradeGuard, func(c *fiber.Ctx) error {
		c.Locals(middleware.LocalUserID, user.String())
		return c.Next()
	})
	ws.Get("/matches/:id", WatchMatch(hub, zerolog.Nop()))
	ws.Get("/me", WatchMe(hub, zerolog.Nop()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })
	return "ws://" + ln.Addr().String()
}

func startHub(t *testing.T) *realtime.Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := realtime.NewHub()
	go hub.Run(ctx)
	return hub
}

func readEnvelope(t *testing.T, conn *fws.Conn) realtime.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env realtime.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestWatchMatch_StreamsStateChanges(t *testing.T) {
	hub := startHub(t)
	base := serveWS(t, hub, uuid.New())
	matchID := uuid.New()

	conn, _, err := fws.DefaultDialer.Dial(base+"/ws/matches/"+matchID.String(), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers(realtime.MatchTopic(matchID)) == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Broadcast(matchID, map[string]string{"match_status": "confirmed"}))
	env := readEnvelope(t, conn)
	assert.Equal(t, "match.state", env.Type)
	assert.Equal(t, "confirmed", env.Payload.(map[string]any)["match_status"])
}

func TestWatchMe_OnlyOwnEvents(t *testing.T) {
	hub := startHub(t)
	me := uuid.New()
	base := serveWS(t, hub, me)

	conn, _, err := fws.DefaultDialer.Dial(base+"/ws/me", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers(realtime.UserTopic(me)) == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, hub.ToUser(uuid.New(), "application.confirmed", nil))
	require.NoError(t, hub.ToUser(me, "application.waitlisted", map[string]string{"match_id": "m1"}))

	env := readEnvelope(t, conn)
	assert.Equal(t, "application.waitlisted", env.Type)
}

func TestWatch_ClosingUnregisters(t *testing.T) {
	hub := startHub(t)
	me := uuid.New()
	base := serveWS(t, hub, me)

	conn, _, err := fws.DefaultDialer.Dial(base+"/ws/me", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Subscribers(realtime.UserTopic(me)) == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Subscribers(realtime.UserTopic(me)) == 0 },
		2*time.Second, 10*time.Millisecond)
}
