package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/trentd187/match-reservations/internal/models"
	"github.com/trentd187/match-reservations/internal/reservations"
)

// ApplyRequest is the optional JSON body of POST /api/v1/slots/:id/applications.
type ApplyRequest struct {
	GuestPartnerName *string `json:"guest_partner_name"` // doubles partner without an account
}

// Apply returns a handler for POST /api/v1/slots/:id/applications.
// The new application is pending, or waitlisted when the singles match is already full.
func Apply(engine *reservations.Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, slotID, err := ids(c, "id")
		if err != nil {
			return rejectIDs(c, "id", err)
		}

		var req ApplyRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return badRequest(c, "invalid request body")
			}
		}

		app, err := engine.Apply(c.UserContext(), userID, slotID, req.GuestPartnerName)
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(reservations.NewApplicationView(app))
	}
}

type applicationCommand func(ctx context.Context, creatorID, applicationID uuid.UUID) (*models.Application, error)

// creatorCommand wraps the creator-side decisions on an application, which share a shape.
func creatorCommand(cmd applicationCommand) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, appID, err := ids(c, "id")
		if err != nil {
			return rejectIDs(c, "id", err)
		}
		app, err := cmd(c.UserContext(), userID, appID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(reservations.NewApplicationView(app))
	}
}

// Confirm returns a handler for POST /api/v1/applications/:id/confirm (match creator only).
func Confirm(engine *reservations.Engine) fiber.Handler {
	return creatorCommand(engine.Confirm)
}

// Reject returns a handler for POST /api/v1/applications/:id/reject (match creator only).
func Reject(engine *reservations.Engine) fiber.Handler {
	return creatorCommand(engine.Reject)
}

// ApproveFromWaitlist returns a handler for POST /api/v1/applications/:id/approve.
func ApproveFromWaitlist(engine *reservations.Engine) fiber.Handler {
	return creatorCommand(engine.ApproveFromWaitlist)
}

// Withdraw returns a handler for DELETE /api/v1/applications/:id (applicant only).
func Withdraw(engine *reservations.Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, appID, err := ids(c, "id")
		if err != nil {
			return rejectIDs(c, "id", err)
		}
		if err := engine.Withdraw(c.UserContext(), userID, appID); err != nil {
			return writeError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// LockSlot returns a handler for POST /api/v1/slots/:id/lock.
func LockSlot(engine *reservations.Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, slotID, err := ids(c, "id")
		if err != nil {
			return rejectIDs(c, "id", err)
		}
		slot, err := engine.LockSlot(c.UserContext(), userID, slotID)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(reservations.NewSlotView(slot))
	}
}

// ReleaseSlot returns a handler for DELETE /api/v1/slots/:id/lock.
func ReleaseSlot(engine *reservations.Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, slotID, err := ids(c, "id")
		if err != nil {
			return rejectIDs(c, "id", err)
		}
		if err := engine.ReleaseSlot(c.UserContext(), userID, slotID); err != nil {
			return writeError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// LockSweeper runs one lock expiry sweep on demand.
type LockSweeper interface {
	RunOnce(ctx context.Context) (int, error)
}

// ExpireLocks returns a handler for POST /api/v1/admin/locks/expire (admin only), which
// runs the sweep now instead of waiting for the next tick.
func ExpireLocks(sweeper LockSweeper, log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		n, err := sweeper.RunOnce(c.UserContext())
		if err != nil {
			return err
		}
		log.Info().Int("expired", n).Msg("lock sweep triggered by admin")
		return c.JSON(fiber.Map{"expired": n})
	}
}
