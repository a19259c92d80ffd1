package audit

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"backend-walkguard/internal/walk"
)

// SessionLookup loads the session a manual seal is requested for.
type SessionLookup interface {
	Get(ctx context.Context, id string) (walk.Session, error)
}

func RegisterRoutes(r fiber.Router, b *Builder, sessions SessionLookup, authMiddleware fiber.Handler) {
	r.Get("/sessions/:id", func(c *fiber.Ctx) error {
		block, err := b.Block(c.Context(), c.Params("id"))
		if err != nil {
			return fiber.NewError(status(err), err.Error())
		}
		return c.JSON(block)
	})

	r.Post("/sessions/:id/seal", authMiddleware, func(c *fiber.Ctx) error {
		s, err := sessions.Get(c.Context(), c.Params("id"))
		if err != nil {
			return fiber.NewError(status(err), err.Error())
		}
		block, err := b.Seal(c.Context(), s)
		if err != nil {
			return fiber.NewError(status(err), err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(block)
	})

	r.Get("/sessions/:id/verify", func(c *fiber.Ctx) error {
		report, err := b.VerifySession(c.Context(), c.Params("id"))
		if err != nil {
			return fiber.NewError(status(err), err.Error())
		}
		return c.JSON(report)
	})

	r.Get("/verify", func(c *fiber.Ctx) error {
		report, err := b.Verify(c.Context())
		if err != nil {
			return fiber.NewError(status(err), err.Error())
		}
		return c.JSON(report)
	})
}

func status(err error) int {
	switch {
	case errors.Is(err, ErrBlockNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrChainAppendConflict):
		return fiber.StatusServiceUnavailable
	default:
		return walk.HTTPStatus(err)
	}
}
