package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func receive(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		require.True(t, ok, "client channel closed")
		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return Envelope{}
	}
}

func TestHub_BroadcastReachesOnlyMatchTopic(t *testing.T) {
	h := startHub(t)
	matchID := uuid.New()

	watcher := NewClient(MatchTopic(matchID))
	other := NewClient(MatchTopic(uuid.New()))
	h.Register(watcher)
	h.Register(other)

	require.NoError(t, h.Broadcast(matchID, map[string]string{"status": "confirmed"}))

	env := receive(t, watcher)
	assert.Equal(t, "match.state", env.Type)
	assert.Equal(t, map[string]any{"status": "confirmed"}, env.Payload)

	select {
	case <-other.Send:
		t.Fatal("message leaked to another match")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_ToUser(t *testing.T) {
	h := startHub(t)
	userID := uuid.New()
	c := NewClient(UserTopic(userID))
	h.Register(c)

	require.NoError(t, h.ToUser(userID, "application.waitlisted", map[string]string{"application_id": "a"}))

	env := receive(t, c)
	assert.Equal(t, "application.waitlisted", env.Type)
}

func TestHub_UnregisterClosesChannelOnce(t *testing.T) {
	h := startHub(t)
	c := NewClient("match:x")
	h.Register(c)
	require.Eventually(t, func() bool { return h.Subscribers("match:x") == 1 }, time.Second, 5*time.Millisecond)

	h.Unregister(c)
	h.Unregister(c)

	_, ok := <-c.Send
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers("match:x"))
}

func TestHub_SlowClientIsDropped(t *testing.T) {
	h := startHub(t)
	c := &Client{Topic: "match:slow", Send: make(chan []byte)} // unbuffered and never read
	h.Register(c)

	require.NoError(t, h.Publish("match:slow", []byte("{}")))
	require.Eventually(t, func() bool { return h.Subscribers("match:slow") == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_RunStopsOnCancel(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() { h.Run(ctx); close(stopped) }()

	c := NewClient("user:x")
	h.Register(c)
	cancel()
	<-stopped

	_, ok := <-c.Send
	assert.False(t, ok)

	// Registration after shutdown must not block.
	late := NewClient("user:y")
	h.Register(late)
	_, ok = <-late.Send
	assert.False(t, ok)
}
