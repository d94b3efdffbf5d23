// Package events carries the reservation engine's side effects to the services around it:
// user notifications, chat, realtime broadcast and cache invalidation.
//
// Every side effect is a value implementing Event. The engine builds them while it works,
// and hands them to a Dispatcher only after its transaction has committed. Delivery is
// best-effort: a failed or slow collaborator is logged and counted, never reported back.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NotificationType names a user-facing lifecycle message.
type NotificationType string

const (
	NotifyApplicationReceived NotificationType = "application_received"  // to the creator
	NotifyApplicationAccepted NotificationType = "application_confirmed" // to the applicant
	NotifyMatchConfirmed      NotificationType = "match_confirmed"       // to the creator
	NotifyApplicationRejected NotificationType = "application_rejected"
	NotifyAutoRejected        NotificationType = "application_auto_rejected" // overlap pruning
	NotifyWaitlisted          NotificationType = "application_waitlisted"
	NotifySpotOpened          NotificationType = "match_spot_opened"
	NotifyOpeningFilled       NotificationType = "match_opening_filled"
	NotifyApplicantWithdrew   NotificationType = "applicant_withdrew"
	NotifyMatchCancelled      NotificationType = "match_cancelled"
	NotifyApplicationExpired  NotificationType = "application_expired"
)

// SlotDetails describes the slot an intro message is about.
type SlotDetails struct {
	SlotID    uuid.UUID `json:"slot_id"`
	CourtID   uuid.UUID `json:"court_id"`
	Date      string    `json:"date"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Notifier delivers user-facing messages (push, email, in-app).
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, eventType NotificationType, message string, metadata map[string]any) error
}

// Chat is the match chat service.
type Chat interface {
	CreateIntroMessage(ctx context.Context, matchID, fromUserID, toUserID uuid.UUID, slot SlotDetails) error
	PurgeMatchHistory(ctx context.Context, matchID uuid.UUID) error
}

// Broadcaster pushes realtime updates to connected clients.
type Broadcaster interface {
	Broadcast(matchID uuid.UUID, state any) error
	ToUser(userID uuid.UUID, event string, payload any) error
}

// CacheInvalidator drops read-through caches of a match's detail view.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, matchID uuid.UUID) error
}

// Sinks bundles the collaborators. Nil members are skipped.
type Sinks struct {
	Notifier    Notifier
	Chat        Chat
	Broadcaster Broadcaster
	Cache       CacheInvalidator
}

// Event is one side effect waiting to be delivered.
type Event interface {
	// Kind is a short label for logs and metrics.
	Kind() string
	// partition is the entity whose events must be delivered in emit order.
	partition() uuid.UUID
	deliver(ctx context.Context, s Sinks) error
}

// Notification asks the Notifier to message a user.
type Notification struct {
	UserID   uuid.UUID
	Type     NotificationType
	Message  string
	Metadata map[string]any
}

func (Notification) Kind() string { return "notification" }

func (e Notification) partition() uuid.UUID { return e.UserID }

func (e Notification) deliver(ctx context.Context, s Sinks) error {
	if s.Notifier == nil {
		return nil
	}
	return s.Notifier.Notify(ctx, e.UserID, e.Type, e.Message, e.Metadata)
}

// IntroMessage opens the chat between creator and confirmed applicant.
type IntroMessage struct {
	MatchID    uuid.UUID
	FromUserID uuid.UUID
	ToUserID   uuid.UUID
	Slot       SlotDetails
}

func (IntroMessage) Kind() string { return "chat_intro" }

func (e IntroMessage) partition() uuid.UUID { return e.MatchID }

func (e IntroMessage) deliver(ctx context.Context, s Sinks) error {
	if s.Chat == nil {
		return nil
	}
	return s.Chat.CreateIntroMessage(ctx, e.MatchID, e.FromUserID, e.ToUserID, e.Slot)
}

// ChatPurge wipes a match's chat so a new participant never sees the previous one's messages.
type ChatPurge struct {
	MatchID uuid.UUID
}

func (ChatPurge) Kind() string { return "chat_purge" }

func (e ChatPurge) partition() uuid.UUID { return e.MatchID }

func (e ChatPurge) deliver(ctx context.Context, s Sinks) error {
	if s.Chat == nil {
		return nil
	}
	return s.Chat.PurgeMatchHistory(ctx, e.MatchID)
}

// MatchBroadcast publishes the new state of a match to everyone watching it.
type MatchBroadcast struct {
	MatchID uuid.UUID
	State   any
}

func (MatchBroadcast) Kind() string { return "broadcast_match" }

func (e MatchBroadcast) partition() uuid.UUID { return e.MatchID }

func (e MatchBroadcast) deliver(_ context.Context, s Sinks) error {
	if s.Broadcaster == nil {
		return nil
	}
	return s.Broadcaster.Broadcast(e.MatchID, e.State)
}

// UserEvent pushes a realtime event to one user's connections.
type UserEvent struct {
	UserID  uuid.UUID
	Event   string
	Payload any
}

func (UserEvent) Kind() string { return "broadcast_user" }

func (e UserEvent) partition() uuid.UUID { return e.UserID }

func (e UserEvent) deliver(_ context.Context, s Sinks) error {
	if s.Broadcaster == nil {
		return nil
	}
	return s.Broadcaster.ToUser(e.UserID, e.Event, e.Payload)
}

// CacheInvalidation drops cached detail views of a match.
type CacheInvalidation struct {
	MatchID uuid.UUID
}

func (CacheInvalidation) Kind() string { return "cache_invalidate" }

func (e CacheInvalidation) partition() uuid.UUID { return e.MatchID }

func (e CacheInvalidation) deliver(ctx context.Context, s Sinks) error {
	if s.Cache == nil {
		return nil
	}
	return s.Cache.Invalidate(ctx, e.MatchID)
}
