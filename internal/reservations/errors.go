package reservations

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Errors returned by Engine commands. Wrapped errors keep these reachable through errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidState     = errors.New("invalid state")
	ErrInvalidInput     = errors.New("invalid input")
	ErrAlreadyApplied   = errors.New("already applied to this slot")
	ErrSlotTaken        = errors.New("slot is held by another player")
	ErrScheduleConflict = errors.New("overlaps a confirmed match")
	ErrMatchFull        = errors.New("match is already full")
)

// Kind returns a stable machine-readable label for err, used in API error bodies and
// metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrAlreadyApplied):
		return "already_applied"
	case errors.Is(err, ErrSlotTaken):
		return "slot_taken"
	case errors.Is(err, ErrScheduleConflict):
		return "schedule_conflict"
	case errors.Is(err, ErrMatchFull):
		return "match_full"
	default:
		return "internal"
	}
}

// lookup maps a missing row to ErrNotFound and wraps anything else.
func lookup(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("load %s: %w", what, err)
}
