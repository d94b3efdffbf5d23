// Package eventstest provides an in-memory implementation of every side-effect sink.
package eventstest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/trentd187/match-reservations/internal/events"
)

type Notification struct {
	UserID   uuid.UUID
	Type     events.NotificationType
	Message  string
	Metadata map[string]any
}

type Intro struct {
	MatchID, From, To uuid.UUID
	Slot              events.SlotDetails
}

type UserPush struct {
	UserID uuid.UUID
	Event  string
}

// Recorder captures every call. Set Err to make all sinks fail.
type Recorder struct {
	mu sync.Mutex

	Err error

	Notifications []Notification
	Intros        []Intro
	Purged        []uuid.UUID
	Broadcasts    []uuid.UUID
	UserPushes    []UserPush
	Invalidated   []uuid.UUID
}

// Sinks wires the recorder into every slot of events.Sinks.
func (r *Recorder) Sinks() events.Sinks {
	return events.Sinks{Notifier: r, Chat: r, Broadcaster: r, Cache: r}
}

func (r *Recorder) Notify(_ context.Context, userID uuid.UUID, t events.NotificationType, msg string, md map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Notifications = append(r.Notifications, Notification{UserID: userID, Type: t, Message: msg, Metadata: md})
	return r.Err
}

func (r *Recorder) CreateIntroMessage(_ context.Context, matchID, from, to uuid.UUID, slot events.SlotDetails) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Intros = append(r.Intros, Intro{MatchID: matchID, From: from, To: to, Slot: slot})
	return r.Err
}

func (r *Recorder) PurgeMatchHistory(_ context.Context, matchID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Purged = append(r.Purged, matchID)
	return r.Err
}

func (r *Recorder) Broadcast(matchID uuid.UUID, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Broadcasts = append(r.Broadcasts, matchID)
	return r.Err
}

func (r *Recorder) ToUser(userID uuid.UUID, event string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.UserPushes = append(r.UserPushes, UserPush{UserID: userID, Event: event})
	return r.Err
}

func (r *Recorder) Invalidate(_ context.Context, matchID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Invalidated = append(r.Invalidated, matchID)
	return r.Err
}

// NotificationsFor returns the notification types a user received, in order.
func (r *Recorder) NotificationsFor(userID uuid.UUID) []events.NotificationType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.NotificationType
	for _, n := range r.Notifications {
		if n.UserID == userID {
			out = append(out, n.Type)
		}
	}
	return out
}
