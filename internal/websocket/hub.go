// Package websocket implements a WebSocket Hub for pushing reservation updates in real time.
// Clients subscribe to a topic: either one match ("match:<id>", anyone watching the match
// page) or one user ("user:<id>", that user's own application events). The engine publishes
// through Broadcast and ToUser; the Hub fans each message out to every client on the topic.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrHubBusy = errors.New("websocket hub: broadcast queue full")

// MatchTopic is the topic carrying state changes of one match.
func MatchTopic(matchID uuid.UUID) string { return "match:" + matchID.String() }

// UserTopic is the topic carrying one user's personal events.
func UserTopic(userID uuid.UUID) string { return "user:" + userID.String() }

// Client represents a single connected WebSocket client.
type Client struct {
	Topic string      // Which topic this client listens to
	Send  chan []byte // Buffered outgoing messages; the connection writer drains it
}

// NewClient returns a client with a small send buffer.
func NewClient(topic string) *Client {
	return &Client{Topic: topic, Send: make(chan []byte, 16)}
}

// Message is a unit of data to deliver to all clients of a topic.
type Message struct {
	Topic string
	Data  []byte
}

// Envelope is the JSON shape of every pushed message.
type Envelope struct {
	Type    string    `json:"type"`
	Payload any       `json:"payload"`
	SentAt  time.Time `json:"sent_at"`
}

// Hub manages all active WebSocket connections grouped by topic. Only the Run goroutine
// writes the clients map, so registration, removal and fan-out never race.
type Hub struct {
	clients map[string]map[*Client]bool

	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex
}

// NewHub creates a Hub. Call Run in its own goroutine before registering clients.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the Hub's event loop. It returns when ctx is cancelled, closing every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for topic, clients := range h.clients {
				for client := range clients {
					close(client.Send)
				}
				delete(h.clients, topic)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.Topic] == nil {
				h.clients[client.Topic] = make(map[*Client]bool)
			}
			h.clients[client.Topic][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.mu.RLock()
			var slow []*Client
			for client := range h.clients[msg.Topic] {
				select {
				case client.Send <- msg.Data:
				default:
					// Too slow to keep up; drop it rather than stall every other client.
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			for _, client := range slow {
				h.remove(client)
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.clients[client.Topic]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.Topic)
	}
}

// Register adds a client so it starts receiving messages for its topic.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

// Unregister removes a client when its connection closes. Unregistering twice is harmless.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribers reports how many clients listen on a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// Publish queues raw bytes for a topic without blocking.
func (h *Hub) Publish(topic string, data []byte) error {
	select {
	case h.broadcast <- &Message{Topic: topic, Data: data}:
		return nil
	default:
		return ErrHubBusy
	}
}

// Broadcast publishes a match's new state to everyone watching it.
func (h *Hub) Broadcast(matchID uuid.UUID, state any) error {
	return h.publishJSON(MatchTopic(matchID), "match.state", state)
}

// ToUser publishes an event to one user's connections.
func (h *Hub) ToUser(userID uuid.UUID, event string, payload any) error {
	return h.publishJSON(UserTopic(userID), event, payload)
}

func (h *Hub) publishJSON(topic, typ string, payload any) error {
	data, err := json.Marshal(Envelope{Type: typ, Payload: payload, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return h.Publish(topic, data)
}
