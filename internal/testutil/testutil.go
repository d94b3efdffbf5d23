// Package testutil opens throwaway databases and seeds fixtures for package tests.
package testutil

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/trentd187/match-reservations/internal/database"
	"github.com/trentd187/match-reservations/internal/models"
)

// Day is the date every fixture match is played on unless a test picks another.
const Day = "2024-06-01"

// NewDB returns a migrated in-memory SQLite database private to t. A single connection
// keeps the in-memory schema alive and serialises transactions the way row locks would.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), database.Config(zerolog.New(io.Discard)))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// At builds a UTC time on Day from "15:04".
func At(hhmm string) time.Time {
	return AtOn(Day, hhmm)
}

// AtOn builds a UTC time on date from "15:04".
func AtOn(date, hhmm string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", date+" "+hhmm)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func CreateUser(t testing.TB, db *gorm.DB, name string) models.User {
	t.Helper()
	u := models.User{DisplayName: name, Email: name + "-" + uuid.NewString()[:8] + "@example.com", Role: models.UserRoleUser}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func CreateCourt(t testing.TB, db *gorm.DB) models.Court {
	t.Helper()
	c := models.Court{Name: "Centre Court", City: "Springfield"}
	if err := db.Create(&c).Error; err != nil {
		t.Fatalf("create court: %v", err)
	}
	return c
}

// SlotTimes is a "15:04" window on the match date.
type SlotTimes struct {
	Start, End string
}

// CreateMatch inserts a pending match with available slots directly, bypassing the engine.
func CreateMatch(t testing.TB, db *gorm.DB, creator models.User, court models.Court, date string, format models.MatchFormat, windows ...SlotTimes) models.Match {
	t.Helper()
	m := models.Match{
		CreatorID: creator.ID,
		CourtID:   court.ID,
		Date:      date,
		Format:    format,
		Status:    models.MatchStatusPending,
	}
	for _, w := range windows {
		m.Slots = append(m.Slots, models.MatchSlot{
			StartTime: AtOn(date, w.Start),
			EndTime:   AtOn(date, w.End),
			Status:    models.SlotStatusAvailable,
		})
	}
	if err := db.Omit("Creator", "Court").Create(&m).Error; err != nil {
		t.Fatalf("create match: %v", err)
	}
	return m
}

// CreateApplication inserts an application in the given status directly.
func CreateApplication(t testing.TB, db *gorm.DB, slot models.MatchSlot, applicant models.User, status models.ApplicationStatus) models.Application {
	t.Helper()
	app := models.Application{MatchSlotID: slot.ID, ApplicantUserID: applicant.ID, Status: status}
	if err := db.Omit("MatchSlot", "Applicant").Create(&app).Error; err != nil {
		t.Fatalf("create application: %v", err)
	}
	return app
}

// Reload fetches a fresh copy of a row by primary key.
func Reload[T any](t testing.TB, db *gorm.DB, id uuid.UUID) T {
	t.Helper()
	var v T
	if err := db.First(&v, "id = ?", id).Error; err != nil {
		t.Fatalf("reload %T: %v", v, err)
	}
	return v
}
