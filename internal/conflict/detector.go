// Package conflict decides whether a user is already committed elsewhere at a given time.
package conflict

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/trentd187/match-reservations/internal/models"
)

// CommitmentSource lists the confirmed slots a user is bound to on a date, either as the
// creator of a confirmed slot or as the applicant of a confirmed application.
type CommitmentSource interface {
	ConfirmedSlotsForUser(ctx context.Context, userID uuid.UUID, date string) ([]models.MatchSlot, error)
}

// Detector answers schedule conflict questions for the reservation engine.
type Detector struct {
	source CommitmentSource
}

func NewDetector(source CommitmentSource) *Detector {
	return &Detector{source: source}
}

// HasConfirmedConflict reports whether [start, end] on date touches any confirmed
// commitment of userID. Pending and waitlisted applications never count.
func (d *Detector) HasConfirmedConflict(ctx context.Context, userID uuid.UUID, date string, candidate TimeRange) (bool, error) {
	slots, err := d.source.ConfirmedSlotsForUser(ctx, userID, date)
	if err != nil {
		return false, fmt.Errorf("load confirmed commitments: %w", err)
	}

	existing := make([]TimeRange, 0, len(slots))
	for _, s := range slots {
		existing = append(existing, TimeRange{Start: s.StartTime, End: s.EndTime})
	}

	found, _ := HasOverlap(candidate, existing)
	return found, nil
}
