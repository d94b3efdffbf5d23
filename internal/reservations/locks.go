package reservations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trentd187/match-reservations/internal/events"
	"github.com/trentd187/match-reservations/internal/models"
	"github.com/trentd187/match-reservations/internal/store"
)

// errLockGone ends an expiry transaction whose slot was refreshed or released since it was
// listed.
var errLockGone = errors.New("lock no longer expired")

// LockSlot holds a slot for userID while they decide, for LockTTL. Calling it again
// while holding the slot extends the hold.
func (e *Engine) LockSlot(ctx context.Context, userID, slotID uuid.UUID) (slot *models.MatchSlot, err error) {
	defer e.observe("lock_slot", time.Now(), &err)

	slot, err = e.store.GetSlot(ctx, slotID)
	if err != nil {
		return nil, lookup(err, "slot")
	}
	m := slot.Match
	if m.CreatorID == userID {
		return nil, fmt.Errorf("creator cannot hold their own slot: %w", ErrForbidden)
	}
	if m.Status != models.MatchStatusPending {
		return nil, fmt.Errorf("match is %s: %w", m.Status, ErrInvalidState)
	}

	acquired := false
	if e.locks != nil {
		ok, err := e.locks.Acquire(ctx, slotID, userID, e.lockTTL)
		switch {
		case err != nil:
			e.lockStoreFailed(err, slotID, "acquire")
		case !ok:
			return nil, ErrSlotTaken
		default:
			acquired = true
		}
	}

	now := e.now()
	expires := now.Add(e.lockTTL)
	err = e.store.Transaction(ctx, func(tx *store.Store) error {
		ok, err := tx.LockSlot(ctx, slotID, userID, now, expires)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSlotTaken
		}
		return e.audit(ctx, tx, m.ID, nil, &userID, models.MatchEventSlotLocked, map[string]any{
			"slot_id":    slotID,
			"expires_at": expires,
		})
	})
	if err != nil {
		if acquired {
			e.releaseKey(ctx, slotID)
		}
		return nil, err
	}

	slot.Status = models.SlotStatusLocked
	slot.LockedByUserID = &userID
	slot.LockedAt = &now
	slot.ExpiresAt = &expires

	var fx effects
	fx.changed(StateChange{
		Event:       models.MatchEventSlotLocked,
		MatchID:     m.ID,
		MatchStatus: m.Status,
		SlotID:      &slotID,
		SlotStatus:  slot.Status,
	})
	e.emit(ctx, fx)

	slot.Match = nil
	return slot, nil
}

// ReleaseSlot gives up userID's hold on a slot.
func (e *Engine) ReleaseSlot(ctx context.Context, userID, slotID uuid.UUID) (err error) {
	defer e.observe("release_slot", time.Now(), &err)

	var slot *models.MatchSlot
	err = e.store.Transaction(ctx, func(tx *store.Store) error {
		s, err := tx.GetSlot(ctx, slotID)
		if err != nil {
			return lookup(err, "slot")
		}
		ok, err := tx.UnlockSlot(ctx, slotID, userID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("slot is not held by you: %w", ErrInvalidState)
		}
		slot = s
		return e.audit(ctx, tx, s.MatchID, nil, &userID, models.MatchEventSlotReleased, map[string]any{"slot_id": slotID})
	})
	if err != nil {
		return err
	}

	e.releaseKey(ctx, slotID)

	var fx effects
	fx.changed(StateChange{
		Event:       models.MatchEventSlotReleased,
		MatchID:     slot.MatchID,
		MatchStatus: slot.Match.Status,
		SlotID:      &slotID,
		SlotStatus:  models.SlotStatusAvailable,
	})
	e.emit(ctx, fx)
	return nil
}

// ExpireLocks returns every slot whose lock has outlived its expiry to available, expires
// the lock holder's pending application on it and drops its advisory key. It reports how many slots
// were reset. A slot that fails is logged and left for the next run.
func (e *Engine) ExpireLocks(ctx context.Context) (expired int, err error) {
	defer e.observe("expire_locks", time.Now(), &err)

	now := e.now()
	slots, err := e.store.ListExpiredLocks(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired locks: %w", err)
	}

	for i := range slots {
		s := &slots[i]
		var fx effects
		var matchStatus models.MatchStatus

		err := e.store.Transaction(ctx, func(tx *store.Store) error {
			m, err := tx.LockMatch(ctx, s.MatchID)
			if err != nil {
				return lookup(err, "match")
			}
			ok, err := tx.ExpireSlotLock(ctx, s.ID, now)
			if err != nil {
				return err
			}
			if !ok {
				return errLockGone
			}
			matchStatus = m.Status

			pending, err := tx.ListSlotApplications(ctx, s.ID, models.ApplicationStatusPending)
			if err != nil {
				return err
			}
			expiredApps := 0
			for _, a := range pending {
				// Only the abandoned holder loses their claim; other applicants on the
				// slot applied independently of this lock.
				if s.LockedByUserID == nil || a.ApplicantUserID != *s.LockedByUserID {
					continue
				}
				ok, err := tx.TransitionApplication(ctx, a.ID, models.ApplicationStatusExpired, models.ApplicationStatusPending)
				if err != nil {
					return err
				}
				if ok {
					expiredApps++
					fx.notify(a.ApplicantUserID, events.NotifyApplicationExpired, "Your hold on a match slot expired", map[string]any{
						"match_id": m.ID, "slot_id": s.ID, "application_id": a.ID,
					})
				}
			}

			details := map[string]any{"slot_id": s.ID, "expired_applications": expiredApps}
			if s.LockedByUserID != nil {
				details["locked_by_user_id"] = *s.LockedByUserID
			}
			return e.audit(ctx, tx, m.ID, nil, nil, models.MatchEventLockExpired, details)
		})
		if errors.Is(err, errLockGone) {
			continue
		}
		if err != nil {
			e.log.Error().Err(err).Str("slot_id", s.ID.String()).Msg("failed to expire slot lock")
			continue
		}

		e.releaseKey(ctx, s.ID)
		fx.changed(StateChange{
			Event:       models.MatchEventLockExpired,
			MatchID:     s.MatchID,
			MatchStatus: matchStatus,
			SlotID:      &s.ID,
			SlotStatus:  models.SlotStatusAvailable,
		})
		e.emit(ctx, fx)
		expired++
	}

	if expired > 0 {
		e.log.Info().Int("expired", expired).Msg("slot locks expired")
	}
	return expired, nil
}
