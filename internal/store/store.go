// Package store is the reservation state store: every read and conditional write the
// lifecycle engine performs against matches, slots, and applications goes through here.
//
// Writes that guard a state transition are compare-and-swap updates
// (UPDATE ... WHERE id = ? AND status = ?) and report whether they changed a row. Callers
// must treat "false" as "someone else got there first" rather than as an error.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trentd187/match-reservations/internal/models"
)

// Store wraps a *gorm.DB, which may be a transaction handle.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Transaction runs fn against a Store bound to a single database transaction. Returning an
// error from fn rolls everything back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// --- Reads ---

func (s *Store) GetCourt(ctx context.Context, id uuid.UUID) (*models.Court, error) {
	var c models.Court
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetMatch loads a match without associations.
func (s *Store) GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	var m models.Match
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// LockMatch loads a match with SELECT ... FOR UPDATE. Every transaction that changes
// the confirmed state of a match takes this lock first, so competing confirmations on
// the same match run one after the other.
func (s *Store) LockMatch(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	var m models.Match
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&m, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMatchDetail loads the read model behind GET /matches/:id.
func (s *Store) GetMatchDetail(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	var m models.Match
	err := s.db.WithContext(ctx).
		Preload("Court").
		Preload("Slots", func(db *gorm.DB) *gorm.DB { return db.Order("start_time ASC") }).
		Preload("Slots.Applications", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&m, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetSlot loads a slot with its match.
func (s *Store) GetSlot(ctx context.Context, id uuid.UUID) (*models.MatchSlot, error) {
	var slot models.MatchSlot
	if err := s.db.WithContext(ctx).Preload("Match").First(&slot, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &slot, nil
}

// GetApplication loads an application with its slot and the slot's match.
func (s *Store) GetApplication(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	var app models.Application
	err := s.db.WithContext(ctx).
		Preload("MatchSlot").
		Preload("MatchSlot.Match").
		First(&app, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// CountConfirmed counts confirmed applications across all slots of a match.
func (s *Store) CountConfirmed(ctx context.Context, matchID uuid.UUID) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.Application{}).
		Joins("JOIN match_slots ON match_slots.id = applications.match_slot_id").
		Where("match_slots.match_id = ? AND applications.status = ?", matchID, models.ApplicationStatusConfirmed).
		Count(&n).Error
	return n, err
}

// ListMatchApplications returns the applications on any slot of matchID whose status is
// one of statuses, oldest first.
func (s *Store) ListMatchApplications(ctx context.Context, matchID uuid.UUID, statuses ...models.ApplicationStatus) ([]models.Application, error) {
	var apps []models.Application
	err := s.db.WithContext(ctx).
		Joins("JOIN match_slots ON match_slots.id = applications.match_slot_id").
		Where("match_slots.match_id = ? AND applications.status IN ?", matchID, statuses).
		Order("applications.created_at ASC").
		Find(&apps).Error
	return apps, err
}

// ListSlotApplications returns the applications on one slot with the given statuses.
func (s *Store) ListSlotApplications(ctx context.Context, slotID uuid.UUID, statuses ...models.ApplicationStatus) ([]models.Application, error) {
	var apps []models.Application
	err := s.db.WithContext(ctx).
		Where("match_slot_id = ? AND status IN ?", slotID, statuses).
		Order("created_at ASC").
		Find(&apps).Error
	return apps, err
}

// ListUserApplicationsOnDate returns userID's applications with the given status on
// matches dated date, excluding excludeMatchID. Slots are preloaded so callers can test
// their time windows.
func (s *Store) ListUserApplicationsOnDate(ctx context.Context, userID uuid.UUID, date string, excludeMatchID uuid.UUID, status models.ApplicationStatus) ([]models.Application, error) {
	var apps []models.Application
	err := s.db.WithContext(ctx).
		Preload("MatchSlot").
		Joins("JOIN match_slots ON match_slots.id = applications.match_slot_id").
		Joins("JOIN matches ON matches.id = match_slots.match_id").
		Where("applications.applicant_user_id = ? AND applications.status = ?", userID, status).
		Where("matches.date = ? AND matches.id <> ?", date, excludeMatchID).
		Find(&apps).Error
	return apps, err
}

// ConfirmedSlotsForUser returns the confirmed slots userID is committed to on date: slots
// of matches they created and slots of their confirmed applications. Cancelled matches
// never count.
func (s *Store) ConfirmedSlotsForUser(ctx context.Context, userID uuid.UUID, date string) ([]models.MatchSlot, error) {
	var asCreator []models.MatchSlot
	err := s.db.WithContext(ctx).
		Joins("JOIN matches ON matches.id = match_slots.match_id").
		Where("matches.creator_id = ? AND matches.date = ?", userID, date).
		Where("matches.status <> ? AND match_slots.status = ?", models.MatchStatusCancelled, models.SlotStatusConfirmed).
		Find(&asCreator).Error
	if err != nil {
		return nil, err
	}

	var asApplicant []models.MatchSlot
	err = s.db.WithContext(ctx).
		Joins("JOIN matches ON matches.id = match_slots.match_id").
		Joins("JOIN applications ON applications.match_slot_id = match_slots.id").
		Where("applications.applicant_user_id = ? AND applications.status = ?", userID, models.ApplicationStatusConfirmed).
		Where("matches.date = ? AND matches.status <> ?", date, models.MatchStatusCancelled).
		Find(&asApplicant).Error
	if err != nil {
		return nil, err
	}

	return append(asCreator, asApplicant...), nil
}

// ListExpiredLocks returns locked slots whose expiry is at or before now.
func (s *Store) ListExpiredLocks(ctx context.Context, now time.Time) ([]models.MatchSlot, error) {
	var slots []models.MatchSlot
	err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", models.SlotStatusLocked, now).
		Order("expires_at ASC").
		Find(&slots).Error
	return slots, err
}

// --- Writes ---

// CreateMatch inserts the match and its slots. Associations other than Slots are skipped
// so a preloaded Court or Creator is never upserted.
func (s *Store) CreateMatch(ctx context.Context, m *models.Match) error {
	return s.db.WithContext(ctx).Omit("Creator", "Court").Create(m).Error
}

// CreateApplication inserts a new application. A second application by the same user on
// the same slot fails with gorm.ErrDuplicatedKey.
func (s *Store) CreateApplication(ctx context.Context, app *models.Application) error {
	return s.db.WithContext(ctx).Omit(clause.Associations).Create(app).Error
}

// TransitionApplication moves an application to "to" only while its status is one of
// from. Reports whether the row changed.
func (s *Store) TransitionApplication(ctx context.Context, id uuid.UUID, to models.ApplicationStatus, from ...models.ApplicationStatus) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Application{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	return res.RowsAffected == 1, res.Error
}

// DeleteApplication hard-deletes an application.
func (s *Store) DeleteApplication(ctx context.Context, id uuid.UUID) (bool, error) {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Application{})
	return res.RowsAffected == 1, res.Error
}

// TransitionMatch moves a match to "to" only while its status is one of from.
func (s *Store) TransitionMatch(ctx context.Context, id uuid.UUID, to models.MatchStatus, from ...models.MatchStatus) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Match{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	return res.RowsAffected == 1, res.Error
}

// ConfirmSlot marks a slot confirmed from either available or locked, clearing any lock.
func (s *Store) ConfirmSlot(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.MatchSlot{}).
		Where("id = ? AND status IN ?", id, []models.SlotStatus{models.SlotStatusAvailable, models.SlotStatusLocked}).
		Updates(map[string]any{
			"status":            models.SlotStatusConfirmed,
			"confirmed_at":      at,
			"locked_by_user_id": nil,
			"locked_at":         nil,
			"expires_at":        nil,
		})
	return res.RowsAffected == 1, res.Error
}

// LockSlot places or refreshes an advisory hold for userID. It succeeds when the slot is
// available, or already locked by the same user.
func (s *Store) LockSlot(ctx context.Context, id, userID uuid.UUID, at, expiresAt time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.MatchSlot{}).
		Where("id = ?", id).
		Where("status = ? OR (status = ? AND locked_by_user_id = ?)", models.SlotStatusAvailable, models.SlotStatusLocked, userID).
		Updates(map[string]any{
			"status":            models.SlotStatusLocked,
			"locked_by_user_id": userID,
			"locked_at":         at,
			"expires_at":        expiresAt,
		})
	return res.RowsAffected == 1, res.Error
}

// UnlockSlot returns a slot held by userID to available.
func (s *Store) UnlockSlot(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	return s.resetSlot(ctx, s.db.WithContext(ctx).
		Where("id = ? AND status = ? AND locked_by_user_id = ?", id, models.SlotStatusLocked, userID))
}

// ExpireSlotLock returns a slot to available only if it is still locked with an expiry
// at or before now; a lock refreshed since it was listed is left alone.
func (s *Store) ExpireSlotLock(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	return s.resetSlot(ctx, s.db.WithContext(ctx).
		Where("id = ? AND status = ? AND expires_at <= ?", id, models.SlotStatusLocked, now))
}

// ReopenSlot returns a confirmed slot to available.
func (s *Store) ReopenSlot(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.resetSlot(ctx, s.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, models.SlotStatusConfirmed))
}

// ReleaseMatchLocks frees every locked slot of a match and returns their IDs.
func (s *Store) ReleaseMatchLocks(ctx context.Context, matchID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).
		Model(&models.MatchSlot{}).
		Where("match_id = ? AND status = ?", matchID, models.SlotStatusLocked).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	_, err = s.resetSlot(ctx, s.db.WithContext(ctx).Where("id IN ? AND status = ?", ids, models.SlotStatusLocked))
	return ids, err
}

func (s *Store) resetSlot(_ context.Context, scoped *gorm.DB) (bool, error) {
	res := scoped.Model(&models.MatchSlot{}).Updates(map[string]any{
		"status":            models.SlotStatusAvailable,
		"locked_by_user_id": nil,
		"locked_at":         nil,
		"expires_at":        nil,
		"confirmed_at":      nil,
	})
	return res.RowsAffected > 0, res.Error
}

// IncrementCancellations bumps a user's cancellation counter, creating the stats row on
// first use.
func (s *Store) IncrementCancellations(ctx context.Context, userID uuid.UUID) error {
	stats := models.UserStats{UserID: userID, CancellationCount: 1}
	return s.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"cancellation_count": gorm.Expr("user_stats.cancellation_count + 1"),
				"updated_at":         time.Now().UTC(),
			}),
		}).
		Create(&stats).Error
}

// GetUserStats returns the stats row, or a zero row when none exists yet.
func (s *Store) GetUserStats(ctx context.Context, userID uuid.UUID) (*models.UserStats, error) {
	var stats models.UserStats
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&stats).Error
	if err != nil {
		return nil, err
	}
	stats.UserID = userID
	return &stats, nil
}

// RecordEvent appends an audit entry.
func (s *Store) RecordEvent(ctx context.Context, e *models.MatchEvent) error {
	return s.db.WithContext(ctx).Create(e).Error
}

// ListEvents returns a match's audit trail in insertion order.
func (s *Store) ListEvents(ctx context.Context, matchID uuid.UUID) ([]models.MatchEvent, error) {
	var events []models.MatchEvent
	err := s.db.WithContext(ctx).
		Where("match_id = ?", matchID).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
}
