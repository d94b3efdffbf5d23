// Package models defines the data structures (models) that map to database tables.
// GORM uses these structs to generate SQL queries and map database rows back to Go values.
// The struct field tags (the backtick strings like `gorm:"..."`) tell GORM how to handle
// each field: its column type, constraints, default values, and relationships.
//
// The data model represents a court match reservation platform where:
//   - A creator publishes a Match at a Court on a date, with one or more MatchSlots
//   - Other Users apply to a slot, producing an Application
//   - Exactly one Application per match ends up confirmed; the rest are waitlisted
//
// The authoritative schema lives in migrations/; AutoMigrate below mirrors it for
// local development and tests.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// --- Enums ---

// UserRole represents a user's global permission level across the entire platform.
type UserRole string

const (
	UserRoleAdmin UserRole = "admin" // Can trigger maintenance jobs such as the lock sweep
	UserRoleUser  UserRole = "user"  // Regular player: creates matches and applies to slots
)

// MatchFormat describes how many players take part in a match.
type MatchFormat string

const (
	MatchFormatSingles MatchFormat = "singles"
	MatchFormatDoubles MatchFormat = "doubles"
)

// MatchStatus tracks the lifecycle of a match.
type MatchStatus string

const (
	MatchStatusPending   MatchStatus = "pending"   // Open: applications are being collected
	MatchStatusConfirmed MatchStatus = "confirmed" // Filled: an applicant was confirmed
	MatchStatusCancelled MatchStatus = "cancelled" // Called off by the creator
	MatchStatusCompleted MatchStatus = "completed" // Played
)

// SlotStatus tracks a single bookable time window.
type SlotStatus string

const (
	SlotStatusAvailable SlotStatus = "available"
	SlotStatusLocked    SlotStatus = "locked"    // Advisory hold by one user, bounded by ExpiresAt
	SlotStatusConfirmed SlotStatus = "confirmed" // An application on this slot was confirmed
)

// ApplicationStatus tracks one user's claim on a slot.
type ApplicationStatus string

const (
	ApplicationStatusPending    ApplicationStatus = "pending"
	ApplicationStatusConfirmed  ApplicationStatus = "confirmed"
	ApplicationStatusRejected   ApplicationStatus = "rejected"
	ApplicationStatusWaitlisted ApplicationStatus = "waitlisted"
	ApplicationStatusExpired    ApplicationStatus = "expired"
)

// MatchEventType names an entry in the match audit trail.
type MatchEventType string

const (
	MatchEventCreated              MatchEventType = "match_created"
	MatchEventApplied              MatchEventType = "application_created"
	MatchEventConfirmed            MatchEventType = "application_confirmed"
	MatchEventRejected             MatchEventType = "application_rejected"
	MatchEventApprovedFromWaitlist MatchEventType = "application_approved_from_waitlist"
	MatchEventWithdrawn            MatchEventType = "application_withdrawn"
	MatchEventReopened             MatchEventType = "match_reopened"
	MatchEventCancelled            MatchEventType = "match_cancelled"
	MatchEventCompleted            MatchEventType = "match_completed"
	MatchEventSlotLocked           MatchEventType = "slot_locked"
	MatchEventSlotReleased         MatchEventType = "slot_released"
	MatchEventLockExpired          MatchEventType = "slot_lock_expired"
)

// --- Models ---

// User represents a registered person in the system.
// Users are created automatically the first time a Clerk-authenticated user hits the API.
type User struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	ClerkID     *string   `gorm:"uniqueIndex:idx_users_clerk_id"` // pointer = nullable for seeded rows
	DisplayName string    `gorm:"not null"`
	Email       string    `gorm:"uniqueIndex;not null"`
	Role        UserRole  `gorm:"type:user_role;not null;default:'user'"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserStats holds per-user counters maintained by the reservation engine.
// CancellationCount grows when a user withdraws from an already confirmed match.
type UserStats struct {
	UserID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	User              User      `gorm:"foreignKey:UserID"`
	CancellationCount int       `gorm:"not null;default:0"`
	UpdatedAt         time.Time
}

// Court is a physical venue where matches are played.
type Court struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"not null"`
	City      string    `gorm:"not null;default:''"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Match is a proposed session at a court on a date, owned by its creator.
// Date is stored as "YYYY-MM-DD" so that same-day comparisons are plain equality
// regardless of the database's timezone handling.
type Match struct {
	ID        uuid.UUID   `gorm:"type:uuid;primaryKey"`
	CreatorID uuid.UUID   `gorm:"type:uuid;not null;index"`
	Creator   User        `gorm:"foreignKey:CreatorID"`
	CourtID   uuid.UUID   `gorm:"type:uuid;not null;index"`
	Court     Court       `gorm:"foreignKey:CourtID"`
	Date      string      `gorm:"type:varchar(10);not null;index"`
	Format    MatchFormat `gorm:"type:match_format;not null"`
	Status    MatchStatus `gorm:"type:match_status;not null;default:'pending';index"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Slots     []MatchSlot `gorm:"foreignKey:MatchID"`
}

// MatchSlot is one concrete time window belonging to a Match.
// A locked slot always carries LockedByUserID and ExpiresAt; a confirmed slot carries ConfirmedAt.
type MatchSlot struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	MatchID        uuid.UUID  `gorm:"type:uuid;not null;index"`
	Match          *Match     `gorm:"foreignKey:MatchID"`
	StartTime      time.Time  `gorm:"not null"`
	EndTime        time.Time  `gorm:"not null"`
	Status         SlotStatus `gorm:"type:slot_status;not null;default:'available';index"`
	LockedByUserID *uuid.UUID `gorm:"type:uuid"`
	LockedAt       *time.Time
	ExpiresAt      *time.Time `gorm:"index"`
	ConfirmedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Applications   []Application `gorm:"foreignKey:MatchSlotID"`
}

// Application is one user's claim on a slot.
// The composite unique index idx_applications_slot_applicant is what makes duplicate
// applications impossible, even when two requests race.
type Application struct {
	ID               uuid.UUID         `gorm:"type:uuid;primaryKey"`
	MatchSlotID      uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_applications_slot_applicant"`
	MatchSlot        *MatchSlot        `gorm:"foreignKey:MatchSlotID"`
	ApplicantUserID  uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_applications_slot_applicant;index"`
	Applicant        *User             `gorm:"foreignKey:ApplicantUserID"`
	GuestPartnerName *string           `gorm:"type:varchar(255)"`
	Status           ApplicationStatus `gorm:"type:application_status;not null;default:'pending';index"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// MatchEvent is an append-only audit entry written in the same transaction as the
// state change it describes.
type MatchEvent struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey"`
	MatchID       uuid.UUID      `gorm:"type:uuid;not null;index"`
	ApplicationID *uuid.UUID     `gorm:"type:uuid;index"`
	ActorUserID   *uuid.UUID     `gorm:"type:uuid"`
	EventType     MatchEventType `gorm:"type:varchar(64);not null;index"`
	Details       datatypes.JSON
	CreatedAt     time.Time `gorm:"index"`
}

// --- Hooks ---
// The production schema generates UUIDs in Postgres; assigning them here as well keeps
// inserts portable (SQLite in tests has no gen_random_uuid()).

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

func (c *Court) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

func (m *Match) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

func (s *MatchSlot) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (a *Application) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (e *MatchEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// AutoMigrate creates or updates every table of the reservation schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&UserStats{},
		&Court{},
		&Match{},
		&MatchSlot{},
		&Application{},
		&MatchEvent{},
	)
}
