package reservations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trentd187/match-reservations/internal/conflict"
	"github.com/trentd187/match-reservations/internal/events"
	"github.com/trentd187/match-reservations/internal/models"
	"github.com/trentd187/match-reservations/internal/store"
)

// Confirm accepts a pending application. Once the match is full every other open
// application on it is waitlisted, and the applicant's pending applications elsewhere that
// fall near the confirmed slot are rejected.
func (e *Engine) Confirm(ctx context.Context, creatorID, applicationID uuid.UUID) (app *models.Application, err error) {
	defer e.observe("confirm", time.Now(), &err)
	return e.promote(ctx, creatorID, applicationID, models.ApplicationStatusPending)
}

// ApproveFromWaitlist promotes a waitlisted application on a singles match that reopened
// after its confirmed player withdrew. The remaining waitlist stays where it is and is told
// the opening was filled.
func (e *Engine) ApproveFromWaitlist(ctx context.Context, creatorID, applicationID uuid.UUID) (app *models.Application, err error) {
	defer e.observe("approve_from_waitlist", time.Now(), &err)
	return e.promote(ctx, creatorID, applicationID, models.ApplicationStatusWaitlisted)
}

// promote runs both confirm (from pending) and approve-from-waitlist (from waitlisted).
func (e *Engine) promote(ctx context.Context, creatorID, applicationID uuid.UUID, from models.ApplicationStatus) (*models.Application, error) {
	var (
		fx     effects
		app    *models.Application
		match  *models.Match
		filled bool
	)
	fromWaitlist := from == models.ApplicationStatusWaitlisted
	eventType := models.MatchEventConfirmed
	if fromWaitlist {
		eventType = models.MatchEventApprovedFromWaitlist
	}

	err := e.store.Transaction(ctx, func(tx *store.Store) error {
		a, m, err := e.loadForCreator(ctx, tx, creatorID, applicationID)
		if err != nil {
			return err
		}

		if a.Status != from {
			return fmt.Errorf("application is %s, want %s: %w", a.Status, from, ErrInvalidState)
		}
		switch {
		case m.Status == models.MatchStatusConfirmed:
			return ErrMatchFull
		case m.Status != models.MatchStatusPending:
			return fmt.Errorf("match is %s: %w", m.Status, ErrInvalidState)
		case fromWaitlist && m.Format != models.MatchFormatSingles:
			return fmt.Errorf("waitlist promotion is singles only: %w", ErrInvalidState)
		}

		confirmed, err := tx.CountConfirmed(ctx, m.ID)
		if err != nil {
			return err
		}
		required := requiredConfirmations(m.Format)
		if confirmed >= required {
			return ErrMatchFull
		}

		ok, err := tx.TransitionApplication(ctx, a.ID, models.ApplicationStatusConfirmed, from)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("application changed concurrently: %w", ErrInvalidState)
		}
		now := e.now()
		if ok, err = tx.ConfirmSlot(ctx, a.MatchSlotID, now); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("slot already confirmed: %w", ErrInvalidState)
		}
		a.Status = models.ApplicationStatusConfirmed
		a.MatchSlot.Status = models.SlotStatusConfirmed
		a.MatchSlot.ConfirmedAt = &now

		if err := e.audit(ctx, tx, m.ID, &a.ID, &creatorID, eventType, map[string]any{
			"slot_id":      a.MatchSlotID,
			"applicant_id": a.ApplicantUserID,
		}); err != nil {
			return err
		}

		if confirmed+1 >= required {
			if ok, err = tx.TransitionMatch(ctx, m.ID, models.MatchStatusConfirmed, models.MatchStatusPending); err != nil {
				return err
			} else if !ok {
				return ErrMatchFull
			}
			m.Status = models.MatchStatusConfirmed
			filled = true

			if err := e.waitlistOthers(ctx, tx, m, a, fromWaitlist, &fx); err != nil {
				return err
			}
		}

		if err := e.pruneOverlapping(ctx, tx, m, a, &fx); err != nil {
			return err
		}

		app, match = a, m
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("match_id", match.ID.String()).
		Str("application_id", app.ID.String()).
		Str("user_id", app.ApplicantUserID.String()).
		Bool("match_filled", filled).
		Msg("application confirmed")

	// The slot is settled; its advisory key, if any, is now meaningless.
	e.releaseKey(ctx, app.MatchSlotID)

	md := map[string]any{"match_id": match.ID, "slot_id": app.MatchSlotID, "application_id": app.ID}
	fx.notify(app.ApplicantUserID, events.NotifyApplicationAccepted, "You are confirmed for the match", md)
	fx.notify(creatorID, events.NotifyMatchConfirmed, "Your match is confirmed", md)
	fx.add(
		events.IntroMessage{
			MatchID:    match.ID,
			FromUserID: creatorID,
			ToUserID:   app.ApplicantUserID,
			Slot:       slotDetails(match, app.MatchSlot),
		},
		events.UserEvent{UserID: app.ApplicantUserID, Event: "application.confirmed", Payload: NewApplicationView(app)},
	)
	fx.changed(StateChange{
		Event:             eventType,
		MatchID:           match.ID,
		MatchStatus:       match.Status,
		SlotID:            &app.MatchSlotID,
		SlotStatus:        models.SlotStatusConfirmed,
		ApplicationID:     &app.ID,
		ApplicationStatus: app.Status,
	})
	e.emit(ctx, fx)

	app.MatchSlot = nil
	return app, nil
}

// loadForCreator loads an application, takes its match's row lock, checks the caller owns
// the match, and re-reads the application so its status reflects anything committed while
// we waited for the lock.
func (e *Engine) loadForCreator(ctx context.Context, tx *store.Store, creatorID, applicationID uuid.UUID) (*models.Application, *models.Match, error) {
	a, err := tx.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, nil, lookup(err, "application")
	}
	m, err := tx.LockMatch(ctx, a.MatchSlot.MatchID)
	if err != nil {
		return nil, nil, lookup(err, "match")
	}
	if m.CreatorID != creatorID {
		return nil, nil, fmt.Errorf("only the match creator can do this: %w", ErrForbidden)
	}
	if a, err = tx.GetApplication(ctx, applicationID); err != nil {
		return nil, nil, lookup(err, "application")
	}
	return a, m, nil
}

// waitlistOthers moves every other pending or rejected application on a now-full match to
// the waitlist. With notifyWaitlist set, applicants already waiting hear that the opening
// was taken.
func (e *Engine) waitlistOthers(ctx context.Context, tx *store.Store, m *models.Match, winner *models.Application, notifyWaitlist bool, fx *effects) error {
	statuses := []models.ApplicationStatus{models.ApplicationStatusPending, models.ApplicationStatusRejected}
	if notifyWaitlist {
		statuses = append(statuses, models.ApplicationStatusWaitlisted)
	}
	others, err := tx.ListMatchApplications(ctx, m.ID, statuses...)
	if err != nil {
		return err
	}

	for _, o := range others {
		if o.ID == winner.ID {
			continue
		}
		md := map[string]any{"match_id": m.ID, "application_id": o.ID}
		if o.Status == models.ApplicationStatusWaitlisted {
			fx.notify(o.ApplicantUserID, events.NotifyOpeningFilled, "The opening in the match was filled by another player", md)
			continue
		}
		ok, err := tx.TransitionApplication(ctx, o.ID, models.ApplicationStatusWaitlisted, o.Status)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		fx.notify(o.ApplicantUserID, events.NotifyWaitlisted, "The match filled up; you are on the waitlist", md)
		fx.add(events.UserEvent{UserID: o.ApplicantUserID, Event: "application.waitlisted", Payload: md})
	}
	return nil
}

// pruneOverlapping rejects the winner's pending applications on other matches of the same
// date whose slot falls within OverlapBuffer of the confirmed slot. Running it again finds
// nothing left to change.
func (e *Engine) pruneOverlapping(ctx context.Context, tx *store.Store, m *models.Match, winner *models.Application, fx *effects) error {
	pending, err := tx.ListUserApplicationsOnDate(ctx, winner.ApplicantUserID, m.Date, m.ID, models.ApplicationStatusPending)
	if err != nil {
		return err
	}
	window := conflict.TimeRange{Start: winner.MatchSlot.StartTime, End: winner.MatchSlot.EndTime}.Widen(e.overlapBuffer)

	for _, p := range pending {
		if p.MatchSlot == nil {
			continue
		}
		if !window.Overlaps(conflict.TimeRange{Start: p.MatchSlot.StartTime, End: p.MatchSlot.EndTime}) {
			continue
		}
		ok, err := tx.TransitionApplication(ctx, p.ID, models.ApplicationStatusRejected, models.ApplicationStatusPending)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := e.audit(ctx, tx, p.MatchSlot.MatchID, &p.ID, nil, models.MatchEventRejected, map[string]any{
			"reason":              "overlaps_confirmed_match",
			"confirmed_match_id":  m.ID,
			"confirmed_slot_id":   winner.MatchSlotID,
			"overlap_buffer_secs": int64(e.overlapBuffer / time.Second),
		}); err != nil {
			return err
		}
		md := map[string]any{"match_id": p.MatchSlot.MatchID, "application_id": p.ID, "confirmed_match_id": m.ID}
		fx.notify(p.ApplicantUserID, events.NotifyAutoRejected, "Your application was withdrawn because you are confirmed for another match at that time", md)
		fx.add(events.CacheInvalidation{MatchID: p.MatchSlot.MatchID})
	}
	return nil
}
