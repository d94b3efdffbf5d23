// Package notify holds the outbound adapters for the notification and chat services.
// When a service URL is not configured the log-only adapters stand in, so a development
// server runs without any sibling service.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/trentd187/match-reservations/internal/events"
)

// serviceClient posts JSON to a sibling service authenticated by a shared token.
type serviceClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func newServiceClient(baseURL, token string) serviceClient {
	return serviceClient{
		BaseURL: baseURL,
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c serviceClient) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("X-Service-Token", c.Token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("POST %s returned %d: %s", path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

// WebhookNotifier delivers notifications by POSTing them to a webhook.
type WebhookNotifier struct {
	client serviceClient
}

func NewWebhookNotifier(url, token string) *WebhookNotifier {
	return &WebhookNotifier{client: newServiceClient(url, token)}
}

type notificationPayload struct {
	UserID   uuid.UUID               `json:"user_id"`
	Type     events.NotificationType `json:"type"`
	Message  string                  `json:"message"`
	Metadata map[string]any          `json:"metadata,omitempty"`
	SentAt   time.Time               `json:"sent_at"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, userID uuid.UUID, eventType events.NotificationType, message string, metadata map[string]any) error {
	return n.client.post(ctx, "", notificationPayload{
		UserID:   userID,
		Type:     eventType,
		Message:  message,
		Metadata: metadata,
		SentAt:   time.Now().UTC(),
	})
}

// ChatClient talks to the match chat service.
type ChatClient struct {
	client serviceClient
}

func NewChatClient(baseURL, token string) *ChatClient {
	return &ChatClient{client: newServiceClient(baseURL, token)}
}

func (c *ChatClient) CreateIntroMessage(ctx context.Context, matchID, fromUserID, toUserID uuid.UUID, slot events.SlotDetails) error {
	return c.client.post(ctx, fmt.Sprintf("/matches/%s/intro", matchID), map[string]any{
		"from_user_id": fromUserID,
		"to_user_id":   toUserID,
		"slot":         slot,
	})
}

func (c *ChatClient) PurgeMatchHistory(ctx context.Context, matchID uuid.UUID) error {
	return c.client.post(ctx, fmt.Sprintf("/matches/%s/purge", matchID), struct{}{})
}

// LogNotifier writes notifications to the log instead of delivering them.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) Notify(_ context.Context, userID uuid.UUID, eventType events.NotificationType, message string, _ map[string]any) error {
	n.Log.Info().Str("user_id", userID.String()).Str("type", string(eventType)).Msg(message)
	return nil
}

// LogChat records chat requests in the log.
type LogChat struct {
	Log zerolog.Logger
}

func (c LogChat) CreateIntroMessage(_ context.Context, matchID, fromUserID, toUserID uuid.UUID, _ events.SlotDetails) error {
	c.Log.Info().
		Str("match_id", matchID.String()).
		Str("from_user_id", fromUserID.String()).
		Str("to_user_id", toUserID.String()).
		Msg("chat intro message")
	return nil
}

func (c LogChat) PurgeMatchHistory(_ context.Context, matchID uuid.UUID) error {
	c.Log.Info().Str("match_id", matchID.String()).Msg("chat history purge")
	return nil
}
