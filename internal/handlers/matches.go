package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/trentd187/match-reservations/internal/middleware"
	"github.com/trentd187/match-reservations/internal/reservations"
)

// CreateMatch returns a handler for POST /api/v1/matches.
//
//	{"court_id": "...", "date": "2024-06-01", "format": "singles",
//	 "slots": [{"start_time": "2024-06-01T10:00:00Z", "end_time": "2024-06-01T11:00:00Z"}]}
func CreateMatch(engine *reservations.Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := middleware.UserID(c)
		if !ok {
			return unauthorized(c)
		}

		var req reservations.CreateMatchInput
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}

		m, err := engine.CreateMatch(c.UserContext(), userID, req)
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(reservations.NewMatchView(m))
	}
}

// GetMatch returns a handler for GET /api/v1/matches/:id. Any authenticated user may
// look at a match, including its slots and applications.
func GetMatch(engine *reservations.Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		_, matchID, err := ids(c, "id")
		if err != nil {
			return rejectIDs(c, "id", err)
		}
		v, err := engine.GetMatch(c.UserContext(), matchID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(v)
	}
}

// CancelMatch returns a handler for POST /api/v1/matches/:id/cancel (creator only).
func CancelMatch(engine *reservations.Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, matchID, err := ids(c, "id")
		if err != nil {
			return rejectIDs(c, "id", err)
		}
		m, err := engine.CancelMatch(c.UserContext(), userID, matchID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"id": m.ID, "status": m.Status})
	}
}

// CompleteMatch returns a handler for POST /api/v1/matches/:id/complete (creator only).
func CompleteMatch(engine *reservations.Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, matchID, err := ids(c, "id")
		if err != nil {
			return rejectIDs(c, "id", err)
		}
		m, err := engine.CompleteMatch(c.UserContext(), userID, matchID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"id": m.ID, "status": m.Status})
	}
}
