package reservations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trentd187/match-reservations/internal/conflict"
	"github.com/trentd187/match-reservations/internal/events"
	"github.com/trentd187/match-reservations/internal/models"
	"github.com/trentd187/match-reservations/internal/store"
)

// Apply records userID's claim on a slot.
//
// On a pending match the application starts pending and the slot is left as it is. On a
// confirmed singles match it goes straight to the waitlist. A confirmed doubles match
// accepts no one.
func (e *Engine) Apply(ctx context.Context, userID, slotID uuid.UUID, guestName *string) (app *models.Application, err error) {
	defer e.observe("apply", time.Now(), &err)

	if guestName != nil {
		trimmed := strings.TrimSpace(*guestName)
		if trimmed == "" {
			guestName = nil
		} else {
			guestName = &trimmed
		}
	}

	slot, err := e.store.GetSlot(ctx, slotID)
	if err != nil {
		return nil, lookup(err, "slot")
	}
	status, err := applyStatus(slot.Match, slot, userID)
	if err != nil {
		return nil, err
	}

	if status == models.ApplicationStatusPending {
		if err := e.checkAdvisoryLock(ctx, userID, slotID); err != nil {
			return nil, err
		}
		if err := e.checkConflicts(ctx, userID, slot); err != nil {
			return nil, err
		}
	}

	var match *models.Match
	err = e.store.Transaction(ctx, func(tx *store.Store) error {
		// The match lock orders this insert against confirmations of the same match, so
		// a match that filled in the meantime yields a waitlisted row, not a stray pending one.
		m, err := tx.LockMatch(ctx, slot.MatchID)
		if err != nil {
			return lookup(err, "match")
		}
		fresh, err := tx.GetSlot(ctx, slotID)
		if err != nil {
			return lookup(err, "slot")
		}
		if status, err = applyStatus(m, fresh, userID); err != nil {
			return err
		}
		match = m

		app = &models.Application{
			MatchSlotID:      slotID,
			ApplicantUserID:  userID,
			GuestPartnerName: guestName,
			Status:           status,
		}
		if err := tx.CreateApplication(ctx, app); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyApplied
			}
			return fmt.Errorf("create application: %w", err)
		}
		return e.audit(ctx, tx, m.ID, &app.ID, &userID, models.MatchEventApplied, map[string]any{
			"slot_id": slotID,
			"status":  status,
		})
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("match_id", match.ID.String()).
		Str("slot_id", slotID.String()).
		Str("application_id", app.ID.String()).
		Str("status", string(app.Status)).
		Msg("application created")

	var fx effects
	msg := "A player applied to your match"
	if app.Status == models.ApplicationStatusWaitlisted {
		msg = "A player joined the waitlist of your match"
		fx.notify(userID, events.NotifyWaitlisted, "The match is full; you are on the waitlist", map[string]any{
			"match_id": match.ID, "application_id": app.ID,
		})
	}
	fx.notify(match.CreatorID, events.NotifyApplicationReceived, msg, map[string]any{
		"match_id": match.ID, "slot_id": slotID, "application_id": app.ID, "applicant_user_id": userID,
	})
	fx.add(events.UserEvent{UserID: match.CreatorID, Event: "application.created", Payload: NewApplicationView(app)})
	fx.changed(StateChange{
		Event:             models.MatchEventApplied,
		MatchID:           match.ID,
		MatchStatus:       match.Status,
		SlotID:            &slotID,
		ApplicationID:     &app.ID,
		ApplicationStatus: app.Status,
	})
	e.emit(ctx, fx)

	return app, nil
}

// applyStatus decides the initial status of a new application, or why there can't be one.
func applyStatus(m *models.Match, slot *models.MatchSlot, userID uuid.UUID) (models.ApplicationStatus, error) {
	if m == nil {
		return "", fmt.Errorf("slot %s has no match: %w", slot.ID, ErrNotFound)
	}
	if m.CreatorID == userID {
		return "", fmt.Errorf("creator cannot apply to their own match: %w", ErrForbidden)
	}

	switch m.Status {
	case models.MatchStatusConfirmed:
		if m.Format != models.MatchFormatSingles {
			return "", fmt.Errorf("doubles match already filled: %w", ErrInvalidState)
		}
		return models.ApplicationStatusWaitlisted, nil
	case models.MatchStatusPending:
		switch slot.Status {
		case models.SlotStatusAvailable:
			return models.ApplicationStatusPending, nil
		case models.SlotStatusLocked:
			if slot.LockedByUserID != nil && *slot.LockedByUserID == userID {
				return models.ApplicationStatusPending, nil
			}
		}
		return "", ErrSlotTaken
	default:
		return "", fmt.Errorf("match is %s: %w", m.Status, ErrInvalidState)
	}
}

// checkAdvisoryLock refuses early when another player holds the slot's advisory key.
// An unreachable lock store is not a reason to refuse: the store decides anyway.
func (e *Engine) checkAdvisoryLock(ctx context.Context, userID, slotID uuid.UUID) error {
	if e.locks == nil {
		return nil
	}
	holder, held, err := e.locks.Holder(ctx, slotID)
	if err != nil {
		e.lockStoreFailed(err, slotID, "holder")
		return nil
	}
	if held && holder != userID {
		return ErrSlotTaken
	}
	return nil
}

// checkConflicts refuses a slot that collides with one of the user's confirmed matches.
// Detector failures are logged and ignored.
func (e *Engine) checkConflicts(ctx context.Context, userID uuid.UUID, slot *models.MatchSlot) error {
	if e.conflicts == nil {
		return nil
	}
	candidate := conflict.TimeRange{Start: slot.StartTime, End: slot.EndTime}
	found, err := e.conflicts.HasConfirmedConflict(ctx, userID, slot.Match.Date, candidate)
	if err != nil {
		e.log.Warn().Err(err).
			Str("user_id", userID.String()).
			Str("slot_id", slot.ID.String()).
			Msg("conflict check failed, allowing application")
		return nil
	}
	if found {
		return ErrScheduleConflict
	}
	return nil
}
