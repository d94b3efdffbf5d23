package reservations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trentd187/match-reservations/internal/events"
	"github.com/trentd187/match-reservations/internal/models"
	"github.com/trentd187/match-reservations/internal/store"
)

// Reject turns down a pending application. A slot the applicant was holding goes back
// to available.
func (e *Engine) Reject(ctx context.Context, creatorID, applicationID uuid.UUID) (app *models.Application, err error) {
	defer e.observe("reject", time.Now(), &err)

	var (
		match    *models.Match
		unlocked bool
	)
	err = e.store.Transaction(ctx, func(tx *store.Store) error {
		a, m, err := e.loadForCreator(ctx, tx, creatorID, applicationID)
		if err != nil {
			return err
		}
		ok, err := tx.TransitionApplication(ctx, a.ID, models.ApplicationStatusRejected, models.ApplicationStatusPending)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("application is %s: %w", a.Status, ErrInvalidState)
		}
		a.Status = models.ApplicationStatusRejected

		if unlocked, err = tx.UnlockSlot(ctx, a.MatchSlotID, a.ApplicantUserID); err != nil {
			return err
		}
		if unlocked {
			a.MatchSlot.Status = models.SlotStatusAvailable
		}

		app, match = a, m
		return e.audit(ctx, tx, m.ID, &a.ID, &creatorID, models.MatchEventRejected, map[string]any{
			"slot_id":       a.MatchSlotID,
			"slot_unlocked": unlocked,
		})
	})
	if err != nil {
		return nil, err
	}

	if unlocked {
		e.releaseKey(ctx, app.MatchSlotID)
	}

	var fx effects
	fx.notify(app.ApplicantUserID, events.NotifyApplicationRejected, "Your application was declined", map[string]any{
		"match_id": match.ID, "application_id": app.ID,
	})
	fx.add(events.UserEvent{UserID: app.ApplicantUserID, Event: "application.rejected", Payload: NewApplicationView(app)})
	fx.changed(StateChange{
		Event:             models.MatchEventRejected,
		MatchID:           match.ID,
		MatchStatus:       match.Status,
		SlotID:            &app.MatchSlotID,
		SlotStatus:        app.MatchSlot.Status,
		ApplicationID:     &app.ID,
		ApplicationStatus: app.Status,
	})
	e.emit(ctx, fx)

	app.MatchSlot = nil
	return app, nil
}

// Withdraw deletes the caller's application. Withdrawing the only confirmed application
// reopens the match and its slot, tells the waitlist, wipes the match chat, and counts a
// late cancellation against the user.
func (e *Engine) Withdraw(ctx context.Context, userID, applicationID uuid.UUID) (err error) {
	defer e.observe("withdraw", time.Now(), &err)

	var (
		fx       effects
		app      *models.Application
		match    *models.Match
		reopened bool
		unlocked bool
	)
	err = e.store.Transaction(ctx, func(tx *store.Store) error {
		a, err := tx.GetApplication(ctx, applicationID)
		if err != nil {
			return lookup(err, "application")
		}
		if a.ApplicantUserID != userID {
			return fmt.Errorf("only the applicant can withdraw: %w", ErrForbidden)
		}
		m, err := tx.LockMatch(ctx, a.MatchSlot.MatchID)
		if err != nil {
			return lookup(err, "match")
		}
		if m.Status == models.MatchStatusCompleted {
			return fmt.Errorf("match already played: %w", ErrInvalidState)
		}
		if a, err = tx.GetApplication(ctx, applicationID); err != nil {
			return lookup(err, "application")
		}

		if ok, err := tx.DeleteApplication(ctx, a.ID); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("application: %w", ErrNotFound)
		}
		wasConfirmed := a.Status == models.ApplicationStatusConfirmed
		matchWasConfirmed := m.Status == models.MatchStatusConfirmed

		if err := e.audit(ctx, tx, m.ID, &a.ID, &userID, models.MatchEventWithdrawn, map[string]any{
			"slot_id":         a.MatchSlotID,
			"previous_status": a.Status,
		}); err != nil {
			return err
		}

		if wasConfirmed {
			fx.add(events.ChatPurge{MatchID: m.ID})
			fx.notify(m.CreatorID, events.NotifyApplicantWithdrew, "Your confirmed opponent withdrew", map[string]any{
				"match_id": m.ID, "slot_id": a.MatchSlotID,
			})

			remaining, err := tx.CountConfirmed(ctx, m.ID)
			if err != nil {
				return err
			}
			if remaining == 0 && m.Status != models.MatchStatusCancelled {
				if reopened, err = e.reopen(ctx, tx, m, a, &fx); err != nil {
					return err
				}
			}
			if matchWasConfirmed {
				if err := tx.IncrementCancellations(ctx, userID); err != nil {
					return fmt.Errorf("count cancellation: %w", err)
				}
			}
		}

		// A slot the user was still holding must not stay locked behind a deleted application.
		if unlocked, err = tx.UnlockSlot(ctx, a.MatchSlotID, userID); err != nil {
			return err
		}

		app, match = a, m
		return nil
	})
	if err != nil {
		return err
	}

	e.log.Info().
		Str("match_id", match.ID.String()).
		Str("application_id", app.ID.String()).
		Str("user_id", userID.String()).
		Bool("match_reopened", reopened).
		Msg("application withdrawn")

	if unlocked || reopened {
		e.releaseKey(ctx, app.MatchSlotID)
	}

	sc := StateChange{
		Event:       models.MatchEventWithdrawn,
		MatchID:     match.ID,
		MatchStatus: match.Status,
		SlotID:      &app.MatchSlotID,
	}
	if reopened || unlocked {
		sc.SlotStatus = models.SlotStatusAvailable
	}
	fx.changed(sc)
	e.emit(ctx, fx)
	return nil
}

// reopen returns a match whose only confirmed player left to pending with its slot
// available again, and tells every waitlisted applicant.
func (e *Engine) reopen(ctx context.Context, tx *store.Store, m *models.Match, withdrawn *models.Application, fx *effects) (bool, error) {
	if _, err := tx.TransitionMatch(ctx, m.ID, models.MatchStatusPending, models.MatchStatusConfirmed); err != nil {
		return false, err
	}
	m.Status = models.MatchStatusPending

	if _, err := tx.ReopenSlot(ctx, withdrawn.MatchSlotID); err != nil {
		return false, err
	}

	if err := e.audit(ctx, tx, m.ID, nil, nil, models.MatchEventReopened, map[string]any{
		"slot_id": withdrawn.MatchSlotID,
	}); err != nil {
		return false, err
	}

	waiting, err := tx.ListMatchApplications(ctx, m.ID, models.ApplicationStatusWaitlisted)
	if err != nil {
		return false, err
	}
	for _, w := range waiting {
		fx.notify(w.ApplicantUserID, events.NotifySpotOpened, "A spot opened up in a match you are waitlisted for", map[string]any{
			"match_id": m.ID, "application_id": w.ID,
		})
	}
	return true, nil
}
