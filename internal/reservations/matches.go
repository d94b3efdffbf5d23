package reservations

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trentd187/match-reservations/internal/conflict"
	"github.com/trentd187/match-reservations/internal/events"
	"github.com/trentd187/match-reservations/internal/models"
	"github.com/trentd187/match-reservations/internal/store"
)

// dateLayout is how match dates are written.
const dateLayout = "2006-01-02"

type SlotInput struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type CreateMatchInput struct {
	CourtID uuid.UUID          `json:"court_id"`
	Date    string             `json:"date"`
	Format  models.MatchFormat `json:"format"`
	Slots   []SlotInput        `json:"slots"`
}

// validate checks the input and returns the slots as ranges in UTC.
func (in CreateMatchInput) validate() ([]conflict.TimeRange, error) {
	day, err := time.Parse(dateLayout, in.Date)
	if err != nil {
		return nil, fmt.Errorf("date must be YYYY-MM-DD: %w", ErrInvalidInput)
	}
	if in.Format != models.MatchFormatSingles && in.Format != models.MatchFormatDoubles {
		return nil, fmt.Errorf("format must be singles or doubles: %w", ErrInvalidInput)
	}
	if in.CourtID == uuid.Nil {
		return nil, fmt.Errorf("court_id is required: %w", ErrInvalidInput)
	}
	if len(in.Slots) == 0 {
		return nil, fmt.Errorf("at least one slot is required: %w", ErrInvalidInput)
	}

	ranges := make([]conflict.TimeRange, 0, len(in.Slots))
	for i, s := range in.Slots {
		tr, err := conflict.NewTimeRange(s.StartTime.UTC(), s.EndTime.UTC())
		if err != nil {
			return nil, fmt.Errorf("slot %d must end after it starts: %w", i, ErrInvalidInput)
		}
		if tr.Start.Format(dateLayout) != day.Format(dateLayout) {
			return nil, fmt.Errorf("slot %d does not start on %s: %w", i, in.Date, ErrInvalidInput)
		}
		for j, prev := range ranges {
			if prev.Intersects(tr) {
				return nil, fmt.Errorf("slots %d and %d overlap: %w", j, i, ErrInvalidInput)
			}
		}
		ranges = append(ranges, tr)
	}
	return ranges, nil
}

// CreateMatch publishes a pending match with available slots.
func (e *Engine) CreateMatch(ctx context.Context, creatorID uuid.UUID, in CreateMatchInput) (match *models.Match, err error) {
	defer e.observe("create_match", time.Now(), &err)

	ranges, err := in.validate()
	if err != nil {
		return nil, err
	}
	if _, err := e.store.GetCourt(ctx, in.CourtID); err != nil {
		return nil, lookup(err, "court")
	}

	match = &models.Match{
		CreatorID: creatorID,
		CourtID:   in.CourtID,
		Date:      in.Date,
		Format:    in.Format,
		Status:    models.MatchStatusPending,
	}
	for _, r := range ranges {
		match.Slots = append(match.Slots, models.MatchSlot{
			StartTime: r.Start,
			EndTime:   r.End,
			Status:    models.SlotStatusAvailable,
		})
	}

	err = e.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.CreateMatch(ctx, match); err != nil {
			return fmt.Errorf("create match: %w", err)
		}
		return e.audit(ctx, tx, match.ID, nil, &creatorID, models.MatchEventCreated, map[string]any{
			"slots": len(match.Slots),
		})
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().Str("match_id", match.ID.String()).Int("slots", len(match.Slots)).Msg("match created")
	return match, nil
}

// GetMatch returns the detail view, served from the cache when possible. A fill is
// skipped when a write invalidated the match while the view was being loaded.
func (e *Engine) GetMatch(ctx context.Context, matchID uuid.UUID) (*MatchView, error) {
	gen, cacheable := int64(0), false
	if e.cache != nil {
		data, ok, err := e.cache.Get(ctx, matchID)
		if err != nil {
			e.log.Warn().Err(err).Str("match_id", matchID.String()).Msg("match cache read failed")
		} else if ok {
			var v MatchView
			if err := json.Unmarshal(data, &v); err == nil {
				return &v, nil
			}
		}
		if err == nil {
			gen, err = e.cache.Generation(ctx, matchID)
			cacheable = err == nil
		}
	}

	m, err := e.store.GetMatchDetail(ctx, matchID)
	if err != nil {
		return nil, lookup(err, "match")
	}
	v := NewMatchView(m)

	if cacheable {
		if data, err := json.Marshal(v); err == nil {
			if _, err := e.cache.SetIfCurrent(ctx, matchID, data, gen); err != nil {
				e.log.Warn().Err(err).Str("match_id", matchID.String()).Msg("match cache write failed")
			}
		}
	}
	return &v, nil
}

// CancelMatch calls off a match that has not been played. Held slots are released and
// every applicant still in play is told.
func (e *Engine) CancelMatch(ctx context.Context, creatorID, matchID uuid.UUID) (match *models.Match, err error) {
	defer e.observe("cancel_match", time.Now(), &err)

	var (
		fx       effects
		released []uuid.UUID
	)
	err = e.store.Transaction(ctx, func(tx *store.Store) error {
		m, err := tx.LockMatch(ctx, matchID)
		if err != nil {
			return lookup(err, "match")
		}
		if m.CreatorID != creatorID {
			return fmt.Errorf("only the match creator can cancel: %w", ErrForbidden)
		}
		ok, err := tx.TransitionMatch(ctx, m.ID, models.MatchStatusCancelled, models.MatchStatusPending, models.MatchStatusConfirmed)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("match is %s: %w", m.Status, ErrInvalidState)
		}
		m.Status = models.MatchStatusCancelled

		if released, err = tx.ReleaseMatchLocks(ctx, m.ID); err != nil {
			return err
		}

		open, err := tx.ListMatchApplications(ctx, m.ID,
			models.ApplicationStatusPending, models.ApplicationStatusConfirmed, models.ApplicationStatusWaitlisted)
		if err != nil {
			return err
		}
		for _, a := range open {
			fx.notify(a.ApplicantUserID, events.NotifyMatchCancelled, "A match you applied to was cancelled", map[string]any{
				"match_id": m.ID, "application_id": a.ID,
			})
		}

		match = m
		return e.audit(ctx, tx, m.ID, nil, &creatorID, models.MatchEventCancelled, map[string]any{
			"released_slots": len(released),
		})
	})
	if err != nil {
		return nil, err
	}

	for _, id := range released {
		e.releaseKey(ctx, id)
	}
	e.log.Info().Str("match_id", match.ID.String()).Msg("match cancelled")

	fx.changed(StateChange{Event: models.MatchEventCancelled, MatchID: match.ID, MatchStatus: match.Status})
	e.emit(ctx, fx)
	return match, nil
}

// CompleteMatch marks a confirmed match as played.
func (e *Engine) CompleteMatch(ctx context.Context, creatorID, matchID uuid.UUID) (match *models.Match, err error) {
	defer e.observe("complete_match", time.Now(), &err)

	err = e.store.Transaction(ctx, func(tx *store.Store) error {
		m, err := tx.LockMatch(ctx, matchID)
		if err != nil {
			return lookup(err, "match")
		}
		if m.CreatorID != creatorID {
			return fmt.Errorf("only the match creator can complete: %w", ErrForbidden)
		}
		ok, err := tx.TransitionMatch(ctx, m.ID, models.MatchStatusCompleted, models.MatchStatusConfirmed)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("match is %s: %w", m.Status, ErrInvalidState)
		}
		m.Status = models.MatchStatusCompleted
		match = m
		return e.audit(ctx, tx, m.ID, nil, &creatorID, models.MatchEventCompleted, nil)
	})
	if err != nil {
		return nil, err
	}

	var fx effects
	fx.changed(StateChange{Event: models.MatchEventCompleted, MatchID: match.ID, MatchStatus: match.Status})
	e.emit(ctx, fx)
	return match, nil
}
