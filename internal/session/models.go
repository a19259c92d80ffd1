package session

import (
	"time"

	"backend-walkguard/internal/tracking"
	"backend-walkguard/internal/walk"
)

// Booking is what an owner submits to request a walk.
type Booking struct {
	OwnerID            string    `json:"owner_id"`
	PickupLat          float64   `json:"pickup_lat"`
	PickupLng          float64   `json:"pickup_lng"`
	RadiusM            *float64  `json:"safe_zone_radius_m,omitempty"`
	ScheduledStart     time.Time `json:"scheduled_start"`
	PlannedDurationMin int       `json:"planned_duration_min"`
}

// Created carries the only copy of the clear confirmation code.
type Created struct {
	Session          walk.Session `json:"session"`
	ConfirmationCode string       `json:"confirmation_code"`
}

type Started struct {
	Session    walk.Session    `json:"session"`
	FirstPoint tracking.Result `json:"first_point"`
}

type Completed struct {
	Session walk.Session `json:"session"`
	walk.Summary
}
