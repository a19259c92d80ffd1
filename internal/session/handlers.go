package session

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"backend-walkguard/internal/audit"
	"backend-walkguard/internal/walk"
)

type bookingRequest struct {
	PickupLat          *float64  `json:"pickup_lat"`
	PickupLng          *float64  `json:"pickup_lng"`
	SafeZoneRadiusM    *float64  `json:"safe_zone_radius_m"`
	ScheduledStart     time.Time `json:"scheduled_start"`
	PlannedDurationMin int       `json:"planned_duration_min"`
}

type startRequest struct {
	SessionID        string   `json:"session_id"`
	ConfirmationCode string   `json:"confirmation_code"`
	Lat              *float64 `json:"lat"`
	Lng              *float64 `json:"lng"`
}

type completeRequest struct {
	SessionID       string `json:"session_id"`
	CompletionNotes string `json:"completion_notes"`
}

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req bookingRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.PickupLat == nil || req.PickupLng == nil {
			return fiber.NewError(fiber.StatusBadRequest, "pickup_lat and pickup_lng required")
		}
		created, err := svc.Create(c.Context(), Booking{
			OwnerID:            userID(c),
			PickupLat:          *req.PickupLat,
			PickupLng:          *req.PickupLng,
			RadiusM:            req.SafeZoneRadiusM,
			ScheduledStart:     req.ScheduledStart,
			PlannedDurationMin: req.PlannedDurationMin,
		})
		if err != nil {
			return fiber.NewError(status(err), err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(created)
	})

	r.Post("/start", authMiddleware, func(c *fiber.Ctx) error {
		var req startRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.SessionID == "" || req.Lat == nil || req.Lng == nil {
			return fiber.NewError(fiber.StatusBadRequest, "session_id, lat and lng required")
		}
		started, err := svc.Start(c.Context(), req.SessionID, req.ConfirmationCode, *req.Lat, *req.Lng)
		if err != nil {
			return fiber.NewError(status(err), err.Error())
		}
		return c.JSON(started)
	})

	r.Post("/complete", authMiddleware, func(c *fiber.Ctx) error {
		var req completeRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.SessionID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "session_id required")
		}
		done, err := svc.Complete(c.Context(), req.SessionID, req.CompletionNotes)
		if err != nil {
			return fiber.NewError(status(err), err.Error())
		}
		return c.JSON(done)
	})

	r.Get("/:id", func(c *fiber.Ctx) error {
		sess, err := svc.Get(c.Context(), c.Params("id"))
		if err != nil {
			return fiber.NewError(status(err), err.Error())
		}
		return c.JSON(sess)
	})

	r.Post("/:id/confirm", authMiddleware, func(c *fiber.Ctx) error {
		sess, err := svc.Confirm(c.Context(), c.Params("id"), userID(c))
		if err != nil {
			return fiber.NewError(status(err), err.Error())
		}
		return c.JSON(sess)
	})

	r.Post("/:id/cancel", authMiddleware, func(c *fiber.Ctx) error {
		sess, err := svc.Cancel(c.Context(), c.Params("id"))
		if err != nil {
			return fiber.NewError(status(err), err.Error())
		}
		return c.JSON(sess)
	})

	r.Post("/:id/emergency", authMiddleware, func(c *fiber.Ctx) error {
		sess, err := svc.EmergencyStop(c.Context(), c.Params("id"))
		if err != nil {
			return fiber.NewError(status(err), err.Error())
		}
		return c.JSON(sess)
	})
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

func status(err error) int {
	if errors.Is(err, audit.ErrChainAppendConflict) {
		return fiber.StatusServiceUnavailable
	}
	return walk.HTTPStatus(err)
}
