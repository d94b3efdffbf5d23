package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/trentd187/match-reservations/internal/middleware"
	realtime "github.com/trentd187/match-reservations/internal/websocket"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsWriteWait  = 10 * time.Second
)

// UpgradeGuard rejects plain HTTP requests to the WebSocket routes with 426.
func UpgradeGuard(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// WatchMatch returns a handler for GET /ws/matches/:id, streaming the match's state
// changes to anyone looking at it.
func WatchMatch(hub *realtime.Hub, log zerolog.Logger) fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		matchID, err := uuid.Parse(conn.Params("id"))
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "id must be a UUID"),
				time.Now().Add(wsWriteWait))
			return
		}
		serve(conn, hub, realtime.MatchTopic(matchID), log)
	})
}

// WatchMe returns a handler for GET /ws/me, streaming the caller's own application events.
func WatchMe(hub *realtime.Hub, log zerolog.Logger) fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		s, _ := conn.Locals(middleware.LocalUserID).(string)
		userID, err := uuid.Parse(s)
		if err != nil {
			return
		}
		serve(conn, hub, realtime.UserTopic(userID), log)
	})
}

// serve pumps hub messages for topic to conn until either side goes away. The reader
// exists only to answer pongs and notice the close.
func serve(conn *websocket.Conn, hub *realtime.Hub, topic string, log zerolog.Logger) {
	client := realtime.NewClient(topic)
	hub.Register(client)
	defer hub.Unregister(client)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				// Hub shut down or dropped us for being slow.
				_ = conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug().Err(err).Str("topic", topic).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
