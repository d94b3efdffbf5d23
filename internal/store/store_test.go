package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/trentd187/match-reservations/internal/models"
	"github.com/trentd187/match-reservations/internal/testutil"
)

type fixture struct {
	store   *Store
	db      *gorm.DB
	creator models.User
	alice   models.User
	court   models.Court
	match   models.Match
	slot    models.MatchSlot
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testutil.NewDB(t)
	creator := testutil.CreateUser(t, db, "creator")
	court := testutil.CreateCourt(t, db)
	match := testutil.CreateMatch(t, db, creator, court, testutil.Day, models.MatchFormatSingles, testutil.SlotTimes{Start: "10:00", End: "11:00"})
	return fixture{
		store:   New(db),
		db:      db,
		creator: creator,
		alice:   testutil.CreateUser(t, db, "alice"),
		court:   court,
		match:   match,
		slot:    match.Slots[0],
	}
}

func TestCreateApplication_DuplicateIsTranslated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := &models.Application{MatchSlotID: f.slot.ID, ApplicantUserID: f.alice.ID, Status: models.ApplicationStatusPending}
	require.NoError(t, f.store.CreateApplication(ctx, first))

	second := &models.Application{MatchSlotID: f.slot.ID, ApplicantUserID: f.alice.ID, Status: models.ApplicationStatusPending}
	err := f.store.CreateApplication(ctx, second)
	assert.True(t, errors.Is(err, gorm.ErrDuplicatedKey), "got %v", err)
}

func TestTransitionApplication_OnlyFromExpectedStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := testutil.CreateApplication(t, f.db, f.slot, f.alice, models.ApplicationStatusPending)

	ok, err := f.store.TransitionApplication(ctx, app.ID, models.ApplicationStatusConfirmed, models.ApplicationStatusPending)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second attempt loses: the row is no longer pending.
	ok, err = f.store.TransitionApplication(ctx, app.ID, models.ApplicationStatusConfirmed, models.ApplicationStatusPending)
	require.NoError(t, err)
	assert.False(t, ok)

	got := testutil.Reload[models.Application](t, f.db, app.ID)
	assert.Equal(t, models.ApplicationStatusConfirmed, got.Status)
}

func TestLockSlot_AvailableOrSameHolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := testutil.CreateUser(t, f.db, "bob")
	now := time.Now().UTC()

	ok, err := f.store.LockSlot(ctx, f.slot.ID, f.alice.ID, now, now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.store.LockSlot(ctx, f.slot.ID, bob.ID, now, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "another user cannot take a held slot")

	ok, err = f.store.LockSlot(ctx, f.slot.ID, f.alice.ID, now, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok, "holder may refresh")

	slot := testutil.Reload[models.MatchSlot](t, f.db, f.slot.ID)
	assert.Equal(t, models.SlotStatusLocked, slot.Status)
	require.NotNil(t, slot.LockedByUserID)
	assert.Equal(t, f.alice.ID, *slot.LockedByUserID)
	require.NotNil(t, slot.ExpiresAt)
}

func TestExpireSlotLock_LeavesFreshLocksAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := f.store.LockSlot(ctx, f.slot.ID, f.alice.ID, now, now.Add(time.Hour))
	require.NoError(t, err)

	expired, err := f.store.ListExpiredLocks(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, expired)

	ok, err := f.store.ExpireSlotLock(ctx, f.slot.ID, now)
	require.NoError(t, err)
	assert.False(t, ok)

	later := now.Add(2 * time.Hour)
	expired, err = f.store.ListExpiredLocks(ctx, later)
	require.NoError(t, err)
	require.Len(t, expired, 1)

	ok, err = f.store.ExpireSlotLock(ctx, f.slot.ID, later)
	require.NoError(t, err)
	assert.True(t, ok)

	slot := testutil.Reload[models.MatchSlot](t, f.db, f.slot.ID)
	assert.Equal(t, models.SlotStatusAvailable, slot.Status)
	assert.Nil(t, slot.LockedByUserID)
	assert.Nil(t, slot.ExpiresAt)
}

func TestConfirmedSlotsForUser_CreatorAndApplicant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	app := testutil.CreateApplication(t, f.db, f.slot, f.alice, models.ApplicationStatusConfirmed)
	_, err := f.store.ConfirmSlot(ctx, f.slot.ID, time.Now().UTC())
	require.NoError(t, err)
	_, err = f.store.TransitionMatch(ctx, f.match.ID, models.MatchStatusConfirmed, models.MatchStatusPending)
	require.NoError(t, err)

	asApplicant, err := f.store.ConfirmedSlotsForUser(ctx, f.alice.ID, testutil.Day)
	require.NoError(t, err)
	require.Len(t, asApplicant, 1)
	assert.Equal(t, f.slot.ID, asApplicant[0].ID)

	asCreator, err := f.store.ConfirmedSlotsForUser(ctx, f.creator.ID, testutil.Day)
	require.NoError(t, err)
	assert.Len(t, asCreator, 1)

	otherDay, err := f.store.ConfirmedSlotsForUser(ctx, f.alice.ID, "2024-06-02")
	require.NoError(t, err)
	assert.Empty(t, otherDay)

	// Cancelled matches stop counting.
	_, err = f.store.TransitionMatch(ctx, f.match.ID, models.MatchStatusCancelled, models.MatchStatusConfirmed)
	require.NoError(t, err)
	asApplicant, err = f.store.ConfirmedSlotsForUser(ctx, f.alice.ID, testutil.Day)
	require.NoError(t, err)
	assert.Empty(t, asApplicant, "application %s belongs to a cancelled match", app.ID)
}

func TestIncrementCancellations_Upserts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stats, err := f.store.GetUserStats(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Zero(t, stats.CancellationCount)

	require.NoError(t, f.store.IncrementCancellations(ctx, f.alice.ID))
	require.NoError(t, f.store.IncrementCancellations(ctx, f.alice.ID))

	stats, err = f.store.GetUserStats(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.CancellationCount)
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := f.store.Transaction(ctx, func(tx *Store) error {
		if _, err := tx.TransitionMatch(ctx, f.match.ID, models.MatchStatusCancelled, models.MatchStatusPending); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	m := testutil.Reload[models.Match](t, f.db, f.match.ID)
	assert.Equal(t, models.MatchStatusPending, m.Status)
}

func TestListUserApplicationsOnDate_ExcludesMatchAndOtherDates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := testutil.CreateMatch(t, f.db, f.creator, f.court, testutil.Day, models.MatchFormatSingles, testutil.SlotTimes{Start: "12:00", End: "13:00"})
	nextDay := testutil.CreateMatch(t, f.db, f.creator, f.court, "2024-06-02", models.MatchFormatSingles, testutil.SlotTimes{Start: "10:00", End: "11:00"})

	testutil.CreateApplication(t, f.db, f.slot, f.alice, models.ApplicationStatusPending)
	want := testutil.CreateApplication(t, f.db, other.Slots[0], f.alice, models.ApplicationStatusPending)
	testutil.CreateApplication(t, f.db, nextDay.Slots[0], f.alice, models.ApplicationStatusPending)

	apps, err := f.store.ListUserApplicationsOnDate(ctx, f.alice.ID, testutil.Day, f.match.ID, models.ApplicationStatusPending)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, want.ID, apps[0].ID)
	require.NotNil(t, apps[0].MatchSlot)
	assert.True(t, apps[0].MatchSlot.StartTime.Equal(testutil.At("12:00")))
}

// The compare-and-swap contract depends on the exact shape of the UPDATE: the status
// guard must be in the WHERE clause and zero affected rows must read as "lost".
func TestTransitionApplication_SQLShapeOnPostgres(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "applications" SET "status"=\$1,"updated_at"=\$2 WHERE id = \$3 AND status IN \(\$4\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ok, err := New(db).TransitionApplication(context.Background(), uuid.New(), models.ApplicationStatusConfirmed, models.ApplicationStatusPending)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockMatch_UsesRowLockOnPostgres(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)

	id := uuid.New()
	mock.ExpectQuery(`SELECT \* FROM "matches" WHERE id = \$1 ORDER BY .* LIMIT .* FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(id.String(), "pending"))

	m, err := New(db).LockMatch(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusPending, m.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}
