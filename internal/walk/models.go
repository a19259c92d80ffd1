package walk

import "time"

type State string

const (
	StatePending    State = "pending"
	StateConfirmed  State = "confirmed"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateCancelled  State = "cancelled"
)

// DefaultSafeZoneRadiusM applies when a booking does not carry a radius.
const DefaultSafeZoneRadiusM = 500.0

var transitions = map[State][]State{
	StatePending:    {StateConfirmed, StateCancelled},
	StateConfirmed:  {StateInProgress, StateCancelled},
	StateInProgress: {StateCompleted},
}

// CanTransition reports whether a session may move from one state to another.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions or points are accepted.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

type Session struct {
	ID                 string     `json:"id"`
	OwnerID            string     `json:"owner_id"`
	WalkerID           string     `json:"walker_id,omitempty"`
	State              State      `json:"state"`
	Version            int64      `json:"version"`
	PickupLat          float64    `json:"pickup_lat"`
	PickupLng          float64    `json:"pickup_lng"`
	CenterLat          *float64   `json:"center_lat,omitempty"`
	CenterLng          *float64   `json:"center_lng,omitempty"`
	RadiusM            float64    `json:"radius_m"`
	ScheduledStart     time.Time  `json:"scheduled_start"`
	PlannedDurationMin int        `json:"planned_duration_min"`
	ActualStart        *time.Time `json:"actual_start,omitempty"`
	ActualEnd          *time.Time `json:"actual_end,omitempty"`
	ViolationCount     int        `json:"violation_count"`
	EmergencyStopped   bool       `json:"emergency_stopped"`
	LastPointAt        *time.Time `json:"last_point_at,omitempty"`
	CompletionNotes    string     `json:"completion_notes,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`

	CodeHash string `json:"-"`
}

// Point is one reported fix. Seq is assigned by the server in arrival order.
type Point struct {
	SessionID       string    `json:"session_id"`
	Seq             int64     `json:"seq"`
	Lat             float64   `json:"lat"`
	Lng             float64   `json:"lng"`
	AccuracyM       *float64  `json:"accuracy,omitempty"`
	SpeedMps        *float64  `json:"speed,omitempty"`
	HeadingDeg      *float64  `json:"heading,omitempty"`
	BatteryPct      *float64  `json:"battery_level,omitempty"`
	InsidePerimeter bool      `json:"inside_perimeter"`
	DistanceM       float64   `json:"distance_meters"`
	ReportedAt      time.Time `json:"reported_at"`
	ReceivedAt      time.Time `json:"received_at"`
}

// Summary is what a completed walk hands to billing and to the caller.
type Summary struct {
	SessionID         string  `json:"session_id"`
	DistanceKm        float64 `json:"distance_km"`
	DurationMinutes   float64 `json:"duration_minutes"`
	PointCount        int     `json:"point_count"`
	ViolationCount    int     `json:"violation_count"`
	CompliancePercent float64 `json:"compliance_percent"`
	LowConfidence     bool    `json:"low_confidence"`
	BlockHash         string  `json:"block_hash"`
}
