// Package geofence decides whether a reported point lies inside a session's
// circular safe zone and classifies inside/outside edges.
package geofence

import (
	"errors"
	"math"

	"backend-walkguard/internal/shared/geo"
)

var ErrInvalidZone = errors.New("invalid safe zone")

type Zone struct {
	CenterLat float64 `json:"center_lat"`
	CenterLng float64 `json:"center_lng"`
	RadiusM   float64 `json:"radius_m"`
}

func (z Zone) Validate() error {
	if !geo.ValidCoordinate(z.CenterLat, z.CenterLng) {
		return ErrInvalidZone
	}
	if math.IsNaN(z.RadiusM) || math.IsInf(z.RadiusM, 0) || z.RadiusM < 0 {
		return ErrInvalidZone
	}
	return nil
}

// Degenerate reports a zero radius: only the exact center counts as inside.
func (z Zone) Degenerate() bool {
	return z.RadiusM == 0
}

type Result struct {
	InsidePerimeter bool    `json:"inside_perimeter"`
	DistanceM       float64 `json:"distance_meters"`
}

func Evaluate(z Zone, lat, lng float64) Result {
	d := geo.HaversineMeters(z.CenterLat, z.CenterLng, lat, lng)
	return Result{InsidePerimeter: d <= z.RadiusM, DistanceM: d}
}

type Edge int

const (
	EdgeNone Edge = iota
	EdgeExit
	EdgeReturn
)

func (e Edge) String() string {
	switch e {
	case EdgeExit:
		return "exit"
	case EdgeReturn:
		return "return"
	}
	return "none"
}

// Transition classifies the move between two consecutive samples. Only
// EdgeExit counts as a violation.
func Transition(wasInside, inside bool) Edge {
	switch {
	case wasInside && !inside:
		return EdgeExit
	case !wasInside && inside:
		return EdgeReturn
	}
	return EdgeNone
}

// CountExits recomputes the edge-triggered violation counter from raw
// per-point flags. A session starts inside.
func CountExits(flags []bool) int {
	inside := true
	exits := 0
	for _, f := range flags {
		if Transition(inside, f) == EdgeExit {
			exits++
		}
		inside = f
	}
	return exits
}
