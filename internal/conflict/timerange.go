package conflict

import (
	"errors"
	"time"
)

var ErrInvalidTimeRange = errors.New("invalid time range")

// TimeRange is a closed interval [Start, End].
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// NewTimeRange validates that both bounds are set and End is after Start.
func NewTimeRange(start, end time.Time) (TimeRange, error) {
	if start.IsZero() || end.IsZero() || !end.After(start) {
		return TimeRange{}, ErrInvalidTimeRange
	}
	return TimeRange{Start: start, End: end}, nil
}

// Widen moves both bounds outward by buffer.
func (r TimeRange) Widen(buffer time.Duration) TimeRange {
	return TimeRange{Start: r.Start.Add(-buffer), End: r.End.Add(buffer)}
}

// Overlaps treats touching endpoints as an overlap: a match ending at 11:00 collides with
// one starting at 11:00.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return !r.Start.After(other.End) && !other.Start.After(r.End)
}

// Intersects treats the ranges as half-open [Start, End): back-to-back ranges do not
// intersect.
func (r TimeRange) Intersects(other TimeRange) bool {
	return r.Start.Before(other.End) && other.Start.Before(r.End)
}

// HasOverlap reports whether candidate touches any of existing and returns the offenders.
func HasOverlap(candidate TimeRange, existing []TimeRange) (bool, []TimeRange) {
	var conflicts []TimeRange
	for _, tr := range existing {
		if candidate.Overlaps(tr) {
			conflicts = append(conflicts, tr)
		}
	}
	return len(conflicts) > 0, conflicts
}
