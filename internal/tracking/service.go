package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend-walkguard/internal/db"
	"backend-walkguard/internal/geofence"
	"backend-walkguard/internal/notify"
	"backend-walkguard/internal/shared/geo"
	"backend-walkguard/internal/walk"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	gjson "github.com/twpayne/go-geom/encoding/geojson"
)

// Broadcaster pushes recorded points to live map viewers.
type Broadcaster interface {
	Publish(sessionID string, v any)
}

type Service struct {
	db       db.TxQuerier
	hub      Broadcaster
	notifier notify.Sink
	limits   Limits
	zones    *zoneCache
	now      func() time.Time
}

func NewService(db db.TxQuerier, hub Broadcaster, notifier notify.Sink, limits Limits) *Service {
	if notifier == nil {
		notifier = notify.Discard
	}
	if limits.Default <= 0 {
		limits.Default = 100
	}
	return &Service{
		db:       db,
		hub:      hub,
		notifier: notifier,
		limits:   limits,
		zones:    newZoneCache(),
		now:      time.Now,
	}
}

// Record validates and appends one point to an in-progress session, then
// raises alerts and live updates once the write is durable.
func (s *Service) Record(ctx context.Context, sessionID string, r Report) (Result, error) {
	if err := r.Validate(); err != nil {
		return Result{}, err
	}
	zone, err := s.zone(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("begin point tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, err := s.RecordTx(ctx, tx, zone, sessionID, r)
	if err != nil {
		return Result{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("commit point: %w", err)
	}

	s.Announce(rec)
	return rec.Result(), nil
}

// RecordTx runs the point write inside a caller-owned transaction. The
// session row lock taken here serializes writers of one session; the
// sequence number only becomes visible when the caller commits.
func (s *Service) RecordTx(ctx context.Context, q db.Querier, zone geofence.Zone, sessionID string, r Report) (Recorded, error) {
	if err := r.Validate(); err != nil {
		return Recorded{}, err
	}

	var state walk.State
	var seq int64
	var lastInside bool
	var violations int
	err := q.QueryRow(ctx, `
		SELECT state, point_seq, last_inside, violation_count
		FROM walk_sessions WHERE id=$1
		FOR UPDATE
	`, sessionID).Scan(&state, &seq, &lastInside, &violations)
	if errors.Is(err, pgx.ErrNoRows) {
		return Recorded{}, fmt.Errorf("%w: unknown session %s", walk.ErrSessionNotActive, sessionID)
	}
	if err != nil {
		return Recorded{}, fmt.Errorf("lock session: %w", err)
	}
	if state != walk.StateInProgress {
		if state.Terminal() {
			s.zones.drop(sessionID)
		}
		return Recorded{}, fmt.Errorf("%w: session is %s", walk.ErrSessionNotActive, state)
	}

	res := geofence.Evaluate(zone, r.Lat, r.Lng)
	edge := geofence.Transition(lastInside, res.InsidePerimeter)
	if edge == geofence.EdgeExit {
		violations++
	}
	seq++

	now := s.now().UTC()
	reportedAt := r.ReportedAt.UTC()
	if r.ReportedAt.IsZero() {
		reportedAt = now
	}

	if _, err := q.Exec(ctx, `
		UPDATE walk_sessions
		SET point_seq=$2, last_inside=$3, violation_count=$4, last_point_at=$5
		WHERE id=$1
	`, sessionID, seq, res.InsidePerimeter, violations, now); err != nil {
		return Recorded{}, fmt.Errorf("update session counters: %w", err)
	}

	point := walk.Point{
		SessionID:       sessionID,
		Seq:             seq,
		Lat:             r.Lat,
		Lng:             r.Lng,
		AccuracyM:       r.AccuracyM,
		SpeedMps:        r.SpeedMps,
		HeadingDeg:      r.HeadingDeg,
		BatteryPct:      r.BatteryPct,
		InsidePerimeter: res.InsidePerimeter,
		DistanceM:       res.DistanceM,
		ReportedAt:      reportedAt,
		ReceivedAt:      now,
	}
	if _, err := q.Exec(ctx, `
		INSERT INTO walk_points (session_id, seq, lat, lng, accuracy_m, speed_mps, heading_deg, battery_pct, inside_perimeter, distance_m, reported_at, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, point.SessionID, point.Seq, point.Lat, point.Lng, point.AccuracyM, point.SpeedMps, point.HeadingDeg, point.BatteryPct,
		point.InsidePerimeter, point.DistanceM, point.ReportedAt, point.ReceivedAt); err != nil {
		return Recorded{}, fmt.Errorf("append point: %w", err)
	}

	return Recorded{Point: point, Edge: edge, Violations: violations}, nil
}

// Announce emits the side effects of a committed point. Alerts fire once
// per edge, never per outside sample.
func (s *Service) Announce(rec Recorded) {
	p := rec.Point
	switch rec.Edge {
	case geofence.EdgeExit:
		s.notifier.Alert(notify.Alert{
			SessionID: p.SessionID,
			Type:      notify.AlertGeofenceExit,
			Severity:  notify.SeverityHigh,
			Message:   fmt.Sprintf("walker left the safe zone, %.0f m from pickup", p.DistanceM),
		})
		logrus.WithFields(logrus.Fields{"session_id": p.SessionID, "seq": p.Seq, "violations": rec.Violations}).
			Warn("geofence exit")
	case geofence.EdgeReturn:
		s.notifier.Alert(notify.Alert{
			SessionID: p.SessionID,
			Type:      notify.AlertGeofenceReturn,
			Severity:  notify.SeverityInfo,
			Message:   "walker is back inside the safe zone",
		})
	}
	if s.hub != nil {
		s.hub.Publish(p.SessionID, p)
	}
}

// Remember caches the zone of a session that just started.
func (s *Service) Remember(sessionID string, z geofence.Zone) {
	s.zones.put(sessionID, z)
}

// Forget drops the cached zone of a session that ended.
func (s *Service) Forget(sessionID string) {
	s.zones.drop(sessionID)
}

func (s *Service) zone(ctx context.Context, sessionID string) (geofence.Zone, error) {
	if z, ok := s.zones.get(sessionID); ok {
		return z, nil
	}

	var state walk.State
	var lat, lng *float64
	var radius float64
	err := s.db.QueryRow(ctx, `
		SELECT state, center_lat, center_lng, radius_m
		FROM walk_sessions WHERE id=$1
	`, sessionID).Scan(&state, &lat, &lng, &radius)
	if errors.Is(err, pgx.ErrNoRows) {
		return geofence.Zone{}, fmt.Errorf("%w: unknown session %s", walk.ErrSessionNotActive, sessionID)
	}
	if err != nil {
		return geofence.Zone{}, fmt.Errorf("load safe zone: %w", err)
	}
	if state != walk.StateInProgress || lat == nil || lng == nil {
		return geofence.Zone{}, fmt.Errorf("%w: session is %s", walk.ErrSessionNotActive, state)
	}

	z := geofence.Zone{CenterLat: *lat, CenterLng: *lng, RadiusM: radius}
	s.zones.put(sessionID, z)
	return z, nil
}

const pointColumns = `session_id, seq, lat, lng, accuracy_m, speed_mps, heading_deg, battery_pct, inside_perimeter, distance_m, reported_at, received_at`

// Trail returns the most recent points of a session in chronological order.
func (s *Service) Trail(ctx context.Context, sessionID string, limit int) ([]walk.Point, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+pointColumns+`
		FROM (
			SELECT `+pointColumns+`
			FROM walk_points WHERE session_id=$1
			ORDER BY seq DESC
			LIMIT $2
		) recent
		ORDER BY seq
	`, sessionID, s.limits.clamp(limit))
	if err != nil {
		return nil, err
	}
	return scanPoints(rows)
}

// Points returns the full point history of a session in arrival order.
func (s *Service) Points(ctx context.Context, sessionID string) ([]walk.Point, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+pointColumns+`
		FROM walk_points WHERE session_id=$1
		ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, err
	}
	return scanPoints(rows)
}

func scanPoints(rows pgx.Rows) ([]walk.Point, error) {
	defer rows.Close()

	points := []walk.Point{}
	for rows.Next() {
		var p walk.Point
		if err := rows.Scan(&p.SessionID, &p.Seq, &p.Lat, &p.Lng, &p.AccuracyM, &p.SpeedMps, &p.HeadingDeg, &p.BatteryPct,
			&p.InsidePerimeter, &p.DistanceM, &p.ReportedAt, &p.ReceivedAt); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *Service) LastPoint(ctx context.Context, sessionID string) (Activity, error) {
	a := Activity{SessionID: sessionID}
	err := s.db.QueryRow(ctx, `
		SELECT state, point_seq, last_point_at
		FROM walk_sessions WHERE id=$1
	`, sessionID).Scan(&a.State, &a.PointCount, &a.LastPointAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Activity{}, walk.ErrSessionNotFound
	}
	if err != nil {
		return Activity{}, err
	}
	if a.LastPointAt != nil {
		idle := s.now().Sub(*a.LastPointAt).Seconds()
		a.IdleSeconds = &idle
	}
	return a, nil
}

// TrailFeature renders the whole trail as a GeoJSON LineString.
func (s *Service) TrailFeature(ctx context.Context, sessionID string) (*gjson.Feature, error) {
	points, err := s.Points(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	coords := make([]geo.Coord, 0, len(points))
	for _, p := range points {
		coords = append(coords, geo.Coord{Lat: p.Lat, Lng: p.Lng})
	}
	return geo.LineStringFeature(sessionID, coords, map[string]interface{}{
		"point_count": len(points),
		"distance_m":  geo.PathLengthMeters(coords),
	})
}
