package tracking

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"backend-walkguard/internal/walk"
)

type locationRequest struct {
	SessionID    string     `json:"session_id"`
	Lat          *float64   `json:"lat"`
	Lng          *float64   `json:"lng"`
	Accuracy     *float64   `json:"accuracy"`
	Speed        *float64   `json:"speed"`
	Heading      *float64   `json:"heading"`
	BatteryLevel *float64   `json:"battery_level"`
	ReportedAt   *time.Time `json:"reported_at"`
}

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/locations", authMiddleware, func(c *fiber.Ctx) error {
		var req locationRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.SessionID == "" || req.Lat == nil || req.Lng == nil {
			return fiber.NewError(fiber.StatusBadRequest, "session_id, lat and lng required")
		}
		report := Report{
			Lat:        *req.Lat,
			Lng:        *req.Lng,
			AccuracyM:  req.Accuracy,
			SpeedMps:   req.Speed,
			HeadingDeg: req.Heading,
			BatteryPct: req.BatteryLevel,
		}
		if req.ReportedAt != nil {
			report.ReportedAt = *req.ReportedAt
		}
		res, err := svc.Record(c.Context(), req.SessionID, report)
		if err != nil {
			return fiber.NewError(walk.HTTPStatus(err), err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	})

	r.Get("/sessions/:id/trail", authMiddleware, func(c *fiber.Ctx) error {
		points, err := svc.Trail(c.Context(), c.Params("id"), c.QueryInt("limit", 0))
		if err != nil {
			return fiber.NewError(walk.HTTPStatus(err), err.Error())
		}
		return c.JSON(points)
	})

	r.Get("/sessions/:id/trail.geojson", authMiddleware, func(c *fiber.Ctx) error {
		feature, err := svc.TrailFeature(c.Context(), c.Params("id"))
		if err != nil {
			return fiber.NewError(walk.HTTPStatus(err), err.Error())
		}
		body, err := feature.MarshalJSON()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		c.Set(fiber.HeaderContentType, "application/geo+json")
		return c.Send(body)
	})

	r.Get("/sessions/:id/last-point", authMiddleware, func(c *fiber.Ctx) error {
		activity, err := svc.LastPoint(c.Context(), c.Params("id"))
		if err != nil {
			return fiber.NewError(walk.HTTPStatus(err), err.Error())
		}
		return c.JSON(activity)
	})
}
