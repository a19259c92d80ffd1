package tracking

import (
	"fmt"
	"time"

	"backend-walkguard/internal/geofence"
	"backend-walkguard/internal/shared/geo"
	"backend-walkguard/internal/walk"
)

// Report is one location fix as sent by the walker's device.
type Report struct {
	Lat        float64
	Lng        float64
	AccuracyM  *float64
	SpeedMps   *float64
	HeadingDeg *float64
	BatteryPct *float64
	ReportedAt time.Time
}

func (r Report) Validate() error {
	if !geo.ValidCoordinate(r.Lat, r.Lng) {
		return fmt.Errorf("%w: lat=%v lng=%v", walk.ErrInvalidCoordinate, r.Lat, r.Lng)
	}
	if r.AccuracyM != nil && *r.AccuracyM < 0 {
		return fmt.Errorf("%w: accuracy must be >= 0", walk.ErrInvalidPayload)
	}
	if r.SpeedMps != nil && *r.SpeedMps < 0 {
		return fmt.Errorf("%w: speed must be >= 0", walk.ErrInvalidPayload)
	}
	if r.HeadingDeg != nil && (*r.HeadingDeg < 0 || *r.HeadingDeg > 360) {
		return fmt.Errorf("%w: heading must be within [0,360]", walk.ErrInvalidPayload)
	}
	if r.BatteryPct != nil && (*r.BatteryPct < 0 || *r.BatteryPct > 100) {
		return fmt.Errorf("%w: battery_level must be within [0,100]", walk.ErrInvalidPayload)
	}
	return nil
}

// Recorded is the outcome of a committed point write.
type Recorded struct {
	Point      walk.Point
	Edge       geofence.Edge
	Violations int
}

func (r Recorded) Result() Result {
	return Result{
		InsidePerimeter: r.Point.InsidePerimeter,
		DistanceM:       r.Point.DistanceM,
		Sequence:        r.Point.Seq,
		ViolationCount:  r.Violations,
	}
}

type Result struct {
	InsidePerimeter bool    `json:"inside_perimeter"`
	DistanceM       float64 `json:"distance_meters"`
	Sequence        int64   `json:"sequence"`
	ViolationCount  int     `json:"violation_count"`
}

// Activity is what an external inactivity watchdog needs to decide on a session.
type Activity struct {
	SessionID   string     `json:"session_id"`
	State       walk.State `json:"state"`
	PointCount  int64      `json:"point_count"`
	LastPointAt *time.Time `json:"last_point_at,omitempty"`
	IdleSeconds *float64   `json:"idle_seconds,omitempty"`
}

type Limits struct {
	Default int
	Max     int
}

func (l Limits) clamp(n int) int {
	if n <= 0 {
		n = l.Default
	}
	if l.Max > 0 && n > l.Max {
		n = l.Max
	}
	return n
}
