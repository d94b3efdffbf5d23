package reservations

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/trentd187/match-reservations/internal/cache"
	"github.com/trentd187/match-reservations/internal/conflict"
	"github.com/trentd187/match-reservations/internal/events"
	"github.com/trentd187/match-reservations/internal/lockstore"
	"github.com/trentd187/match-reservations/internal/models"
	"github.com/trentd187/match-reservations/internal/store"
	"github.com/trentd187/match-reservations/internal/testutil"
)

// captured records emitted side effects synchronously.
type captured struct {
	mu   sync.Mutex
	evts []events.Event
}

func (c *captured) Emit(evts ...events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evts = append(c.evts, evts...)
}

func (c *captured) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evts = nil
}

func (c *captured) notifications(userID uuid.UUID) []events.NotificationType {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.NotificationType
	for _, e := range c.evts {
		if n, ok := e.(events.Notification); ok && n.UserID == userID {
			out = append(out, n.Type)
		}
	}
	return out
}

func (c *captured) count(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.evts {
		if e.Kind() == kind {
			n++
		}
	}
	return n
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	db     *gorm.DB
	store  *store.Store
	engine *Engine
	fx     *captured
	locks  *lockstore.Store
	cache  *cache.MatchCache
	mr     *miniredis.Miniredis
	clock  time.Time

	creator, bob, carol, dave models.User
	court                     models.Court
}

type harnessOption func(*Deps)

func withConflicts(c ConflictChecker) harnessOption {
	return func(d *Deps) { d.Conflicts = c }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	return newHarnessOn(t, testutil.NewDB(t), opts...)
}

// newHarnessOn builds the harness over an already migrated database.
func newHarnessOn(t *testing.T, db *gorm.DB, opts ...harnessOption) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{
		t:     t,
		ctx:   context.Background(),
		db:    db,
		store: store.New(db),
		fx:    &captured{},
		locks: lockstore.New(rdb),
		cache: cache.NewMatchCache(rdb, time.Minute),
		mr:    mr,
		clock: time.Now().UTC().Truncate(time.Second),
	}

	deps := Deps{
		Store:     h.store,
		Locks:     h.locks,
		Conflicts: conflict.NewDetector(h.store),
		Events:    h.fx,
		Cache:     h.cache,
	}
	for _, o := range opts {
		o(&deps)
	}
	h.engine = New(deps, Options{
		LockTTL:       2 * time.Hour,
		OverlapBuffer: 2 * time.Hour,
		Now:           func() time.Time { return h.clock },
	}, zerolog.Nop())

	h.creator = testutil.CreateUser(t, db, "creator")
	h.bob = testutil.CreateUser(t, db, "bob")
	h.carol = testutil.CreateUser(t, db, "carol")
	h.dave = testutil.CreateUser(t, db, "dave")
	h.court = testutil.CreateCourt(t, db)
	return h
}

// match creates a pending match owned by h.creator on testutil.Day.
func (h *harness) match(format models.MatchFormat, windows ...testutil.SlotTimes) models.Match {
	h.t.Helper()
	return h.matchOn(h.creator, testutil.Day, format, windows...)
}

func (h *harness) matchOn(creator models.User, date string, format models.MatchFormat, windows ...testutil.SlotTimes) models.Match {
	h.t.Helper()
	return testutil.CreateMatch(h.t, h.db, creator, h.court, date, format, windows...)
}

func (h *harness) apply(user models.User, slot models.MatchSlot) models.Application {
	h.t.Helper()
	app, err := h.engine.Apply(h.ctx, user.ID, slot.ID, nil)
	require.NoError(h.t, err)
	return *app
}

func (h *harness) confirm(app models.Application) {
	h.t.Helper()
	_, err := h.engine.Confirm(h.ctx, h.creator.ID, app.ID)
	require.NoError(h.t, err)
}

func (h *harness) application(id uuid.UUID) models.Application {
	h.t.Helper()
	return testutil.Reload[models.Application](h.t, h.db, id)
}

func (h *harness) slot(id uuid.UUID) models.MatchSlot {
	h.t.Helper()
	return testutil.Reload[models.MatchSlot](h.t, h.db, id)
}

func (h *harness) matchRow(id uuid.UUID) models.Match {
	h.t.Helper()
	return testutil.Reload[models.Match](h.t, h.db, id)
}

func (h *harness) applicationExists(id uuid.UUID) bool {
	h.t.Helper()
	var n int64
	require.NoError(h.t, h.db.Model(&models.Application{}).Where("id = ?", id).Count(&n).Error)
	return n == 1
}

func (h *harness) confirmedCount(matchID uuid.UUID) int64 {
	h.t.Helper()
	n, err := h.store.CountConfirmed(h.ctx, matchID)
	require.NoError(h.t, err)
	return n
}

var (
	tenToEleven = testutil.SlotTimes{Start: "10:00", End: "11:00"}
	twelveToOne = testutil.SlotTimes{Start: "12:00", End: "13:00"}
)
