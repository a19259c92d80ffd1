package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"backend-walkguard/internal/audit"
	"backend-walkguard/internal/db"
	"backend-walkguard/internal/geofence"
	"backend-walkguard/internal/notify"
	"backend-walkguard/internal/shared/geo"
	"backend-walkguard/internal/tracking"
	"backend-walkguard/internal/walk"
)

// Tracker is the part of point ingestion the lifecycle drives.
type Tracker interface {
	RecordTx(ctx context.Context, q db.Querier, zone geofence.Zone, sessionID string, r tracking.Report) (tracking.Recorded, error)
	Announce(rec tracking.Recorded)
	Remember(sessionID string, z geofence.Zone)
	Forget(sessionID string)
}

// Sealer appends the audit block of a completed session.
type Sealer interface {
	Seal(ctx context.Context, s walk.Session) (audit.Block, error)
}

type Service struct {
	db            db.TxQuerier
	tracker       Tracker
	sealer        Sealer
	notifier      notify.Sink
	defaultRadius float64
	now           func() time.Time
}

func NewService(db db.TxQuerier, tracker Tracker, sealer Sealer, notifier notify.Sink, defaultRadius float64) *Service {
	if notifier == nil {
		notifier = notify.Discard
	}
	if defaultRadius <= 0 {
		logrus.WithField("configured", defaultRadius).Warnf("default safe zone radius unset, using %.0f m", walk.DefaultSafeZoneRadiusM)
		defaultRadius = walk.DefaultSafeZoneRadiusM
	}
	return &Service{
		db:            db,
		tracker:       tracker,
		sealer:        sealer,
		notifier:      notifier,
		defaultRadius: defaultRadius,
		now:           time.Now,
	}
}

const sessionColumns = `id, owner_id, COALESCE(walker_id, ''), state, version, confirmation_code_hash, pickup_lat, pickup_lng,
	center_lat, center_lng, radius_m, scheduled_start, planned_duration_min, actual_start, actual_end,
	violation_count, emergency_stopped, last_point_at, completion_notes, created_at`

func scanSession(row pgx.Row) (walk.Session, error) {
	var s walk.Session
	err := row.Scan(&s.ID, &s.OwnerID, &s.WalkerID, &s.State, &s.Version, &s.CodeHash, &s.PickupLat, &s.PickupLng,
		&s.CenterLat, &s.CenterLng, &s.RadiusM, &s.ScheduledStart, &s.PlannedDurationMin, &s.ActualStart, &s.ActualEnd,
		&s.ViolationCount, &s.EmergencyStopped, &s.LastPointAt, &s.CompletionNotes, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return walk.Session{}, walk.ErrSessionNotFound
	}
	return s, err
}

func (s *Service) Get(ctx context.Context, id string) (walk.Session, error) {
	return s.get(ctx, s.db, id)
}

func (s *Service) get(ctx context.Context, q db.Querier, id string) (walk.Session, error) {
	return scanSession(q.QueryRow(ctx, `SELECT `+sessionColumns+` FROM walk_sessions WHERE id=$1`, id))
}

// Create books a pending walk and returns the clear confirmation code once.
func (s *Service) Create(ctx context.Context, b Booking) (Created, error) {
	if b.OwnerID == "" {
		return Created{}, fmt.Errorf("%w: owner_id required", walk.ErrInvalidPayload)
	}
	if !geo.ValidCoordinate(b.PickupLat, b.PickupLng) {
		return Created{}, fmt.Errorf("%w: pickup lat=%v lng=%v", walk.ErrInvalidCoordinate, b.PickupLat, b.PickupLng)
	}
	if b.PlannedDurationMin < 0 {
		return Created{}, fmt.Errorf("%w: planned_duration_min must be >= 0", walk.ErrInvalidPayload)
	}
	radius := s.defaultRadius
	if b.RadiusM != nil {
		radius = *b.RadiusM
	}
	zone := geofence.Zone{CenterLat: b.PickupLat, CenterLng: b.PickupLng, RadiusM: radius}
	if err := zone.Validate(); err != nil {
		return Created{}, fmt.Errorf("%w: %v", walk.ErrInvalidPayload, err)
	}
	if zone.Degenerate() {
		logrus.WithField("owner_id", b.OwnerID).Warn("booking with zero safe zone radius, every point will be outside")
	}

	code, err := newConfirmationCode()
	if err != nil {
		return Created{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return Created{}, fmt.Errorf("hash confirmation code: %w", err)
	}

	now := s.now().UTC()
	scheduled := b.ScheduledStart
	if scheduled.IsZero() {
		scheduled = now
	}
	sess := walk.Session{
		ID:                 uuid.NewString(),
		OwnerID:            b.OwnerID,
		State:              walk.StatePending,
		Version:            1,
		PickupLat:          b.PickupLat,
		PickupLng:          b.PickupLng,
		RadiusM:            radius,
		ScheduledStart:     scheduled.UTC(),
		PlannedDurationMin: b.PlannedDurationMin,
		CreatedAt:          now,
		CodeHash:           string(hash),
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO walk_sessions (id, owner_id, state, version, confirmation_code_hash, pickup_lat, pickup_lng, radius_m, scheduled_start, planned_duration_min, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, sess.ID, sess.OwnerID, sess.State, sess.Version, sess.CodeHash, sess.PickupLat, sess.PickupLng, sess.RadiusM,
		sess.ScheduledStart, sess.PlannedDurationMin, sess.CreatedAt)
	if err != nil {
		return Created{}, fmt.Errorf("insert session: %w", err)
	}

	s.notifier.Alert(notify.Alert{
		SessionID: sess.ID,
		Type:      notify.AlertNewBooking,
		Severity:  notify.SeverityInfo,
		Message:   fmt.Sprintf("new walk booked for %s", sess.ScheduledStart.Format(time.RFC3339)),
	})
	return Created{Session: sess, ConfirmationCode: code}, nil
}

// Confirm assigns the walker and fixes the safe zone on the pickup point.
func (s *Service) Confirm(ctx context.Context, id, walkerID string) (walk.Session, error) {
	if walkerID == "" {
		return walk.Session{}, fmt.Errorf("%w: walker required", walk.ErrInvalidPayload)
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return walk.Session{}, err
	}
	return s.transition(ctx, s.db, cur, walk.StateConfirmed,
		`, walker_id=$5, center_lat=pickup_lat, center_lng=pickup_lng`, walkerID)
}

// Start checks the owner's code and records the first point in the same
// transaction as the state change.
func (s *Service) Start(ctx context.Context, id, code string, lat, lng float64) (Started, error) {
	if !geo.ValidCoordinate(lat, lng) {
		return Started{}, fmt.Errorf("%w: lat=%v lng=%v", walk.ErrInvalidCoordinate, lat, lng)
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return Started{}, err
	}
	if !walk.CanTransition(cur.State, walk.StateInProgress) {
		return Started{}, &walk.TransitionError{From: cur.State, To: walk.StateInProgress}
	}
	if bcrypt.CompareHashAndPassword([]byte(cur.CodeHash), []byte(code)) != nil {
		return Started{}, walk.ErrConfirmationCodeMismatch
	}
	if cur.CenterLat == nil || cur.CenterLng == nil {
		return Started{}, fmt.Errorf("%w: session %s has no safe zone", walk.ErrInvalidTransition, id)
	}
	zone := geofence.Zone{CenterLat: *cur.CenterLat, CenterLng: *cur.CenterLng, RadiusM: cur.RadiusM}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Started{}, fmt.Errorf("begin start tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := s.now().UTC()
	started, err := s.transition(ctx, tx, cur, walk.StateInProgress, `, actual_start=$5`, now)
	if err != nil {
		return Started{}, err
	}
	rec, err := s.tracker.RecordTx(ctx, tx, zone, id, tracking.Report{Lat: lat, Lng: lng, ReportedAt: now})
	if err != nil {
		return Started{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Started{}, fmt.Errorf("commit start: %w", err)
	}

	started.ViolationCount = rec.Violations
	started.LastPointAt = &rec.Point.ReceivedAt
	s.tracker.Remember(id, zone)
	s.tracker.Announce(rec)
	s.notifier.Alert(notify.Alert{
		SessionID: id,
		Type:      notify.AlertWalkStarted,
		Severity:  notify.SeverityInfo,
		Message:   "walk started",
	})
	return Started{Session: started, FirstPoint: rec.Result()}, nil
}

// Complete ends the walk and seals it into the audit chain. A seal failure
// leaves the session completed; the seal can be retried on its own.
func (s *Service) Complete(ctx context.Context, id, notes string) (Completed, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return Completed{}, err
	}
	if cur.State != walk.StateInProgress {
		return Completed{}, &walk.TransitionError{From: cur.State, To: walk.StateCompleted}
	}

	end := s.now().UTC()
	if cur.ActualStart != nil && end.Before(*cur.ActualStart) {
		end = *cur.ActualStart
	}
	done, err := s.transition(ctx, s.db, cur, walk.StateCompleted, `, actual_end=$5, completion_notes=$6`, end, notes)
	if err != nil {
		return Completed{}, err
	}
	s.tracker.Forget(id)

	log := logrus.WithField("session_id", id)
	block, err := s.sealer.Seal(ctx, done)
	if err != nil {
		log.WithError(err).Error("walk completed but not sealed")
		return Completed{Session: done}, fmt.Errorf("seal walk: %w", err)
	}

	summary := block.Summary()
	s.notifier.Summary(summary)
	s.notifier.Alert(notify.Alert{
		SessionID: id,
		Type:      notify.AlertCompletion,
		Severity:  notify.SeverityInfo,
		Message:   fmt.Sprintf("walk completed: %.2f km in %.0f min", summary.DistanceKm, summary.DurationMinutes),
	})
	log.WithFields(logrus.Fields{"points": summary.PointCount, "compliance": summary.CompliancePercent}).Info("walk completed")
	return Completed{Session: done, Summary: summary}, nil
}

func (s *Service) Cancel(ctx context.Context, id string) (walk.Session, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return walk.Session{}, err
	}
	cancelled, err := s.transition(ctx, s.db, cur, walk.StateCancelled, ``)
	if err != nil {
		return walk.Session{}, err
	}
	s.tracker.Forget(id)
	return cancelled, nil
}

// EmergencyStop flags an active walk and raises a critical alert. The walk
// stays in progress until it is completed.
func (s *Service) EmergencyStop(ctx context.Context, id string) (walk.Session, error) {
	sess, err := scanSession(s.db.QueryRow(ctx, `
		UPDATE walk_sessions SET emergency_stopped=TRUE
		WHERE id=$1 AND state=$2
		RETURNING `+sessionColumns, id, walk.StateInProgress))
	if errors.Is(err, walk.ErrSessionNotFound) {
		if _, err := s.Get(ctx, id); err != nil {
			return walk.Session{}, err
		}
		return walk.Session{}, fmt.Errorf("%w: emergency stop needs an active walk", walk.ErrSessionNotActive)
	}
	if err != nil {
		return walk.Session{}, fmt.Errorf("flag emergency: %w", err)
	}

	s.notifier.Alert(notify.Alert{
		SessionID: id,
		Type:      notify.AlertEmergencyStop,
		Severity:  notify.SeverityCritical,
		Message:   "emergency stop triggered",
	})
	logrus.WithField("session_id", id).Warn("emergency stop")
	return sess, nil
}

// transition applies cur -> to only if the row still has the version and
// state cur was read with. The loser of a race gets a TransitionError
// carrying the state it lost to.
func (s *Service) transition(ctx context.Context, q db.Querier, cur walk.Session, to walk.State, assignments string, args ...any) (walk.Session, error) {
	if !walk.CanTransition(cur.State, to) {
		return walk.Session{}, &walk.TransitionError{From: cur.State, To: to}
	}
	params := append([]any{cur.ID, cur.Version, cur.State, to}, args...)
	next, err := scanSession(q.QueryRow(ctx, `
		UPDATE walk_sessions SET state=$4, version=version+1`+assignments+`
		WHERE id=$1 AND version=$2 AND state=$3
		RETURNING `+sessionColumns, params...))
	if errors.Is(err, walk.ErrSessionNotFound) {
		latest, rerr := s.get(ctx, q, cur.ID)
		if rerr != nil {
			return walk.Session{}, rerr
		}
		logrus.WithFields(logrus.Fields{"session_id": cur.ID, "from": cur.State, "to": to, "now": latest.State}).
			Info("session changed concurrently")
		return walk.Session{}, &walk.TransitionError{From: latest.State, To: to}
	}
	if err != nil {
		return walk.Session{}, fmt.Errorf("update session state: %w", err)
	}
	return next, nil
}

func newConfirmationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generate confirmation code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
