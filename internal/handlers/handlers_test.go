package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/trentd187/match-reservations/internal/conflict"
	"github.com/trentd187/match-reservations/internal/middleware"
	"github.com/trentd187/match-reservations/internal/models"
	"github.com/trentd187/match-reservations/internal/reservations"
	"github.com/trentd187/match-reservations/internal/store"
	"github.com/trentd187/match-reservations/internal/testutil"
)

type fakeSweeper struct {
	n   int
	err error
}

func (f fakeSweeper) RunOnce(context.Context) (int, error) { return f.n, f.err }

type apiFixture struct {
	t       *testing.T
	db      *gorm.DB
	app     *fiber.App
	creator models.User
	player  models.User
	court   models.Court
}

// newAPI wires the handlers the way main does, except that the caller is taken from the
// X-Test-User header instead of a Clerk token.
func newAPI(t *testing.T, sweeper LockSweeper) *apiFixture {
	t.Helper()
	db := testutil.NewDB(t)
	st := store.New(db)
	engine := reservations.New(reservations.Deps{
		Store:     st,
		Conflicts: conflict.NewDetector(st),
	}, reservations.Options{}, zerolog.Nop())

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zerolog.Nop())})
	app.Get("/health", HealthCheck(db, nil))

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		if u := c.Get("X-Test-User"); u != "" {
			c.Locals(middleware.LocalUserID, u)
		}
		return c.Next()
	})
	api.Post("/matches", CreateMatch(engine))
	api.Get("/matches/:id", GetMatch(engine))
	api.Post("/matches/:id/cancel", CancelMatch(engine))
	api.Post("/matches/:id/complete", CompleteMatch(engine))
	api.Post("/slots/:id/applications", Apply(engine))
	api.Post("/slots/:id/lock", LockSlot(engine))
	api.Delete("/slots/:id/lock", ReleaseSlot(engine))
	api.Post("/applications/:id/confirm", Confirm(engine))
	api.Post("/applications/:id/reject", Reject(engine))
	api.Post("/applications/:id/approve", ApproveFromWaitlist(engine))
	api.Delete("/applications/:id", Withdraw(engine))
	api.Post("/admin/locks/expire", ExpireLocks(sweeper, zerolog.Nop()))
	app.Get("/ws/matches/:id", UpgradeGuard, func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	return &apiFixture{
		t:       t,
		db:      db,
		app:     app,
		creator: testutil.CreateUser(t, db, "creator"),
		player:  testutil.CreateUser(t, db, "player"),
		court:   testutil.CreateCourt(t, db),
	}
}

func (f *apiFixture) do(method, path string, user *models.User, body string) (int, map[string]any) {
	f.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != nil {
		req.Header.Set("X-Test-User", user.ID.String())
	}
	resp, err := f.app.Test(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(f.t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(f.t, json.Unmarshal(raw, &out), "body: %s", raw)
	}
	return resp.StatusCode, out
}

func (f *apiFixture) pendingMatch() models.Match {
	f.t.Helper()
	return testutil.CreateMatch(f.t, f.db, f.creator, f.court, testutil.Day, models.MatchFormatSingles,
		testutil.SlotTimes{Start: "10:00", End: "11:00"})
}

func TestCreateMatch_Endpoint(t *testing.T) {
	f := newAPI(t, fakeSweeper{})

	body := fmt.Sprintf(`{"court_id":%q,"date":"2024-06-01","format":"singles",
		"slots":[{"start_time":"2024-06-01T10:00:00Z","end_time":"2024-06-01T11:00:00Z"},
		         {"start_time":"2024-06-01T12:00:00Z","end_time":"2024-06-01T13:00:00Z"}]}`, f.court.ID)

	status, out := f.do(http.MethodPost, "/api/v1/matches", &f.creator, body)
	require.Equal(t, fiber.StatusCreated, status, out)
	assert.Equal(t, "pending", out["status"])
	assert.Len(t, out["slots"], 2)

	status, out = f.do(http.MethodGet, "/api/v1/matches/"+out["id"].(string), &f.player, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, f.creator.ID.String(), out["creator_id"])
}

func TestCreateMatch_RejectsBadRequests(t *testing.T) {
	f := newAPI(t, fakeSweeper{})

	status, _ := f.do(http.MethodPost, "/api/v1/matches", nil, `{}`)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, out := f.do(http.MethodPost, "/api/v1/matches", &f.creator, `{not json`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_input", out["code"])

	status, out = f.do(http.MethodPost, "/api/v1/matches", &f.creator,
		fmt.Sprintf(`{"court_id":%q,"date":"2024-06-01","format":"mixed","slots":[]}`, f.court.ID))
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_input", out["code"])
}

func TestGetMatch_Errors(t *testing.T) {
	f := newAPI(t, fakeSweeper{})

	status, out := f.do(http.MethodGet, "/api/v1/matches/nope", &f.player, "")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "id must be a UUID", out["error"])

	status, out = f.do(http.MethodGet, "/api/v1/matches/"+f.court.ID.String(), &f.player, "")
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "not_found", out["code"])
}

func TestApplicationFlow_Endpoints(t *testing.T) {
	f := newAPI(t, fakeSweeper{})
	m := f.pendingMatch()
	slotPath := "/api/v1/slots/" + m.Slots[0].ID.String()

	status, app := f.do(http.MethodPost, slotPath+"/applications", &f.player, "")
	require.Equal(t, fiber.StatusCreated, status, app)
	assert.Equal(t, "pending", app["status"])
	appPath := "/api/v1/applications/" + app["id"].(string)

	status, out := f.do(http.MethodPost, slotPath+"/applications", &f.player, "")
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "already_applied", out["code"])

	status, out = f.do(http.MethodPost, appPath+"/confirm", &f.player, "")
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "forbidden", out["code"])

	status, out = f.do(http.MethodPost, appPath+"/confirm", &f.creator, "")
	require.Equal(t, fiber.StatusOK, status, out)
	assert.Equal(t, "confirmed", out["status"])

	status, out = f.do(http.MethodGet, "/api/v1/matches/"+m.ID.String(), &f.player, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "confirmed", out["status"])

	status, _ = f.do(http.MethodDelete, appPath, &f.player, "")
	assert.Equal(t, fiber.StatusNoContent, status)

	reopened := testutil.Reload[models.Match](t, f.db, m.ID)
	assert.Equal(t, models.MatchStatusPending, reopened.Status)
}

func TestApply_GuestPartnerBody(t *testing.T) {
	f := newAPI(t, fakeSweeper{})
	m := testutil.CreateMatch(t, f.db, f.creator, f.court, testutil.Day, models.MatchFormatDoubles,
		testutil.SlotTimes{Start: "10:00", End: "11:00"})

	status, out := f.do(http.MethodPost, "/api/v1/slots/"+m.Slots[0].ID.String()+"/applications",
		&f.player, `{"guest_partner_name":"  Sam  "}`)
	require.Equal(t, fiber.StatusCreated, status, out)
	assert.Equal(t, "Sam", out["guest_partner_name"])
}

func TestReject_Endpoint(t *testing.T) {
	f := newAPI(t, fakeSweeper{})
	m := f.pendingMatch()
	app := testutil.CreateApplication(t, f.db, m.Slots[0], f.player, models.ApplicationStatusPending)

	status, out := f.do(http.MethodPost, "/api/v1/applications/"+app.ID.String()+"/reject", &f.creator, "")
	require.Equal(t, fiber.StatusOK, status, out)
	assert.Equal(t, "rejected", out["status"])

	status, out = f.do(http.MethodPost, "/api/v1/applications/"+app.ID.String()+"/approve", &f.creator, "")
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "invalid_state", out["code"])
}

func TestMatchCommands_Endpoints(t *testing.T) {
	f := newAPI(t, fakeSweeper{})
	m := f.pendingMatch()

	status, _ := f.do(http.MethodPost, "/api/v1/matches/"+m.ID.String()+"/cancel", &f.player, "")
	assert.Equal(t, fiber.StatusForbidden, status)

	status, out := f.do(http.MethodPost, "/api/v1/matches/"+m.ID.String()+"/complete", &f.creator, "")
	assert.Equal(t, fiber.StatusConflict, status, "only confirmed matches complete")
	assert.Equal(t, "invalid_state", out["code"])

	status, out = f.do(http.MethodPost, "/api/v1/matches/"+m.ID.String()+"/cancel", &f.creator, "")
	require.Equal(t, fiber.StatusOK, status, out)
	assert.Equal(t, "cancelled", out["status"])
}

func TestSlotLock_Endpoints(t *testing.T) {
	f := newAPI(t, fakeSweeper{})
	m := f.pendingMatch()
	lockPath := "/api/v1/slots/" + m.Slots[0].ID.String() + "/lock"

	status, out := f.do(http.MethodPost, lockPath, &f.player, "")
	require.Equal(t, fiber.StatusOK, status, out)
	assert.Equal(t, "locked", out["status"])
	assert.Equal(t, f.player.ID.String(), out["locked_by_user_id"])

	status, out = f.do(http.MethodPost, lockPath, &f.creator, "")
	assert.Equal(t, fiber.StatusForbidden, status, out)

	status, _ = f.do(http.MethodDelete, lockPath, &f.player, "")
	assert.Equal(t, fiber.StatusNoContent, status)

	slot := testutil.Reload[models.MatchSlot](t, f.db, m.Slots[0].ID)
	assert.Equal(t, models.SlotStatusAvailable, slot.Status)
}

func TestExpireLocks_Endpoint(t *testing.T) {
	f := newAPI(t, fakeSweeper{n: 3})
	status, out := f.do(http.MethodPost, "/api/v1/admin/locks/expire", &f.creator, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 3, out["expired"])

	f = newAPI(t, fakeSweeper{err: errors.New("connection reset")})
	status, out = f.do(http.MethodPost, "/api/v1/admin/locks/expire", &f.creator, "")
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "internal", out["code"])
	assert.NotContains(t, out["error"], "connection reset")
}

func TestHealthCheck(t *testing.T) {
	f := newAPI(t, fakeSweeper{})
	status, out := f.do(http.MethodGet, "/health", nil, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "disabled", out["checks"].(map[string]any)["redis"])

	app := fiber.New()
	app.Get("/health", HealthCheck(f.db, func(context.Context) error { return errors.New("redis down") }))
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode, "redis is optional")
}

func TestUpgradeGuard(t *testing.T) {
	f := newAPI(t, fakeSweeper{})
	status, _ := f.do(http.MethodGet, "/ws/matches/"+f.court.ID.String(), nil, "")
	assert.Equal(t, fiber.StatusUpgradeRequired, status)
}

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{reservations.ErrNotFound, fiber.StatusNotFound},
		{reservations.ErrForbidden, fiber.StatusForbidden},
		{reservations.ErrInvalidInput, fiber.StatusBadRequest},
		{reservations.ErrInvalidState, fiber.StatusConflict},
		{reservations.ErrAlreadyApplied, fiber.StatusConflict},
		{reservations.ErrSlotTaken, fiber.StatusConflict},
		{reservations.ErrScheduleConflict, fiber.StatusConflict},
		{fmt.Errorf("slot 1: %w", reservations.ErrMatchFull), fiber.StatusConflict},
		{errors.New("disk on fire"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zerolog.Nop())})
		err := tt.err
		app.Get("/", func(c *fiber.Ctx) error { return writeError(c, err) })

		resp, e := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
		require.NoError(t, e)
		resp.Body.Close()
		assert.Equal(t, tt.want, resp.StatusCode, "%v", tt.err)
	}
}
