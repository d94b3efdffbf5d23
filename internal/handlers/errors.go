// Package handlers contains the HTTP route handlers for the match reservation API.
//
// Each exported function follows the handler factory pattern: it takes its dependencies
// (the reservation engine, the hub, the database) and returns a fiber.Handler, so nothing
// hangs off package globals.
package handlers

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/trentd187/match-reservations/internal/middleware"
	"github.com/trentd187/match-reservations/internal/reservations"
)

// statusFor maps engine error kinds to HTTP statuses. Anything missing is a 500.
var statusFor = map[string]int{
	"not_found":         fiber.StatusNotFound,
	"forbidden":         fiber.StatusForbidden,
	"invalid_input":     fiber.StatusBadRequest,
	"invalid_state":     fiber.StatusConflict,
	"already_applied":   fiber.StatusConflict,
	"slot_taken":        fiber.StatusConflict,
	"schedule_conflict": fiber.StatusConflict,
	"match_full":        fiber.StatusConflict,
}

// writeError renders a known engine error as {"error", "code"}. Unknown errors are
// returned to Fiber so ErrorHandler logs them and answers 500.
func writeError(c *fiber.Ctx, err error) error {
	kind := reservations.Kind(err)
	status, ok := statusFor[kind]
	if !ok {
		return fmt.Errorf("%s %s: %w", c.Method(), c.Path(), err)
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"code":  kind,
	})
}

// ErrorHandler is the app-wide Fiber error handler. Fiber's own errors (404 route, 426
// upgrade required) keep their status; everything else is logged and hidden behind a 500.
func ErrorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}
		log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("request failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal error",
			"code":  "internal",
		})
	}
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "invalid user ID",
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
		"code":  "invalid_input",
	})
}

// ids reads the authenticated caller and the UUID route parameter name.
func ids(c *fiber.Ctx, name string) (userID, id uuid.UUID, err error) {
	var ok bool
	if userID, ok = middleware.UserID(c); !ok {
		return uuid.Nil, uuid.Nil, errUnauthorized
	}
	if id, err = uuid.Parse(c.Params(name)); err != nil {
		return uuid.Nil, uuid.Nil, errBadParam
	}
	return userID, id, nil
}

var (
	errUnauthorized = errors.New("unauthorized")
	errBadParam     = errors.New("bad route parameter")
)

// rejectIDs answers the failure ids reported.
func rejectIDs(c *fiber.Ctx, name string, err error) error {
	if errors.Is(err, errUnauthorized) {
		return unauthorized(c)
	}
	return badRequest(c, name+" must be a UUID")
}
