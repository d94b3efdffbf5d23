package reservations

import (
	"time"

	"github.com/google/uuid"

	"github.com/trentd187/match-reservations/internal/models"
)

// MatchView is the JSON read model of a match with its slots and applications.
type MatchView struct {
	ID        uuid.UUID          `json:"id"`
	CreatorID uuid.UUID          `json:"creator_id"`
	CourtID   uuid.UUID          `json:"court_id"`
	CourtName string             `json:"court_name,omitempty"`
	Date      string             `json:"date"`
	Format    models.MatchFormat `json:"format"`
	Status    models.MatchStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	Slots     []SlotView         `json:"slots"`
}

type SlotView struct {
	ID             uuid.UUID         `json:"id"`
	StartTime      time.Time         `json:"start_time"`
	EndTime        time.Time         `json:"end_time"`
	Status         models.SlotStatus `json:"status"`
	LockedByUserID *uuid.UUID        `json:"locked_by_user_id,omitempty"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
	ConfirmedAt    *time.Time        `json:"confirmed_at,omitempty"`
	Applications   []ApplicationView `json:"applications"`
}

type ApplicationView struct {
	ID               uuid.UUID                `json:"id"`
	MatchSlotID      uuid.UUID                `json:"match_slot_id"`
	ApplicantUserID  uuid.UUID                `json:"applicant_user_id"`
	GuestPartnerName *string                  `json:"guest_partner_name,omitempty"`
	Status           models.ApplicationStatus `json:"status"`
	CreatedAt        time.Time                `json:"created_at"`
}

// StateChange is the realtime payload pushed after every lifecycle command.
type StateChange struct {
	Event             models.MatchEventType    `json:"event"`
	MatchID           uuid.UUID                `json:"match_id"`
	MatchStatus       models.MatchStatus       `json:"match_status"`
	SlotID            *uuid.UUID               `json:"slot_id,omitempty"`
	SlotStatus        models.SlotStatus        `json:"slot_status,omitempty"`
	ApplicationID     *uuid.UUID               `json:"application_id,omitempty"`
	ApplicationStatus models.ApplicationStatus `json:"application_status,omitempty"`
}

func NewMatchView(m *models.Match) MatchView {
	v := MatchView{
		ID:        m.ID,
		CreatorID: m.CreatorID,
		CourtID:   m.CourtID,
		CourtName: m.Court.Name,
		Date:      m.Date,
		Format:    m.Format,
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
		Slots:     make([]SlotView, 0, len(m.Slots)),
	}
	for i := range m.Slots {
		v.Slots = append(v.Slots, NewSlotView(&m.Slots[i]))
	}
	return v
}

func NewSlotView(s *models.MatchSlot) SlotView {
	v := SlotView{
		ID:             s.ID,
		StartTime:      s.StartTime,
		EndTime:        s.EndTime,
		Status:         s.Status,
		LockedByUserID: s.LockedByUserID,
		ExpiresAt:      s.ExpiresAt,
		ConfirmedAt:    s.ConfirmedAt,
		Applications:   make([]ApplicationView, 0, len(s.Applications)),
	}
	for i := range s.Applications {
		v.Applications = append(v.Applications, NewApplicationView(&s.Applications[i]))
	}
	return v
}

func NewApplicationView(a *models.Application) ApplicationView {
	return ApplicationView{
		ID:               a.ID,
		MatchSlotID:      a.MatchSlotID,
		ApplicantUserID:  a.ApplicantUserID,
		GuestPartnerName: a.GuestPartnerName,
		Status:           a.Status,
		CreatedAt:        a.CreatedAt,
	}
}
