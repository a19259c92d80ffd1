package audit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"backend-walkguard/internal/geofence"
	"backend-walkguard/internal/walk"
)

const verifyPageSize = 100

// PointSource reads a session's full point history in arrival order.
type PointSource interface {
	Points(ctx context.Context, sessionID string) ([]walk.Point, error)
}

type Builder struct {
	store   Store
	points  PointSource
	keyring *Keyring
	retries int
	now     func() time.Time
}

// NewBuilder wires the chain. A nil keyring leaves blocks unsigned.
func NewBuilder(store Store, points PointSource, keyring *Keyring, retries int) *Builder {
	if retries < 1 {
		retries = 1
	}
	return &Builder{
		store:   store,
		points:  points,
		keyring: keyring,
		retries: retries,
		now:     time.Now,
	}
}

// Seal appends the block for a completed session, or returns the block it
// already has. A lost race against another seal re-reads the tip and retries.
func (b *Builder) Seal(ctx context.Context, s walk.Session) (Block, error) {
	if existing, err := b.store.BySession(ctx, s.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrBlockNotFound) {
		return Block{}, err
	}

	if s.State != walk.StateCompleted || s.ActualStart == nil || s.ActualEnd == nil {
		return Block{}, fmt.Errorf("%w: session %s is %s", walk.ErrSessionNotActive, s.ID, s.State)
	}

	points, err := b.points.Points(ctx, s.ID)
	if err != nil {
		return Block{}, fmt.Errorf("load points: %w", err)
	}
	stats := Summarize(points, *s.ActualStart, *s.ActualEnd, s.ViolationCount)
	log := logrus.WithField("session_id", s.ID)
	if stats.LowConfidence {
		log.Warn("sealing walk with no recorded points")
	}

	block := Block{
		SessionID:         s.ID,
		StartedAt:         Truncate(*s.ActualStart),
		EndedAt:           Truncate(*s.ActualEnd),
		DurationSec:       stats.DurationSec,
		DistanceM:         stats.DistanceM,
		PointCount:        stats.PointCount,
		OutsidePoints:     stats.OutsidePoints,
		ViolationCount:    stats.ViolationCount,
		CompliancePercent: stats.CompliancePercent,
		LowConfidence:     stats.LowConfidence,
		Fingerprint:       Fingerprint(points),
	}

	for attempt := 1; attempt <= b.retries; attempt++ {
		tip, ok, err := b.store.Tip(ctx)
		if err != nil {
			return Block{}, err
		}
		block.Height, block.PreviousHash = 1, GenesisHash
		if ok {
			block.Height, block.PreviousHash = tip.Height+1, tip.Hash
		}
		block.CreatedAt = Truncate(b.now())
		block.Hash = ComputeHash(block)
		if b.keyring != nil {
			if block.Signature, block.SignatureKeyID, err = b.keyring.Sign(block.Hash); err != nil {
				return Block{}, err
			}
		}

		err = b.store.Append(ctx, block)
		switch {
		case err == nil:
			log.WithFields(logrus.Fields{"height": block.Height, "block_hash": block.Hash}).Info("walk sealed")
			return block, nil
		case errors.Is(err, ErrAlreadySealed):
			return b.store.BySession(ctx, s.ID)
		case errors.Is(err, ErrChainAppendConflict):
			log.WithField("attempt", attempt).Debug("chain tip moved, retrying seal")
			if err := ctx.Err(); err != nil {
				return Block{}, err
			}
		default:
			return Block{}, err
		}
	}
	return Block{}, fmt.Errorf("%w: gave up after %d attempts", ErrChainAppendConflict, b.retries)
}

// Block returns the sealed block of a session.
func (b *Builder) Block(ctx context.Context, sessionID string) (Block, error) {
	return b.store.BySession(ctx, sessionID)
}

// ChainReport is the outcome of replaying the chain from genesis.
type ChainReport struct {
	Valid    bool   `json:"valid"`
	Blocks   int64  `json:"blocks"`
	TipHash  string `json:"tip_hash"`
	BrokenAt int64  `json:"broken_at,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Verify replays every block in height order, checking contiguity, links,
// recomputed hashes and signatures.
func (b *Builder) Verify(ctx context.Context) (ChainReport, error) {
	report := ChainReport{Valid: true, TipHash: GenesisHash}
	var height int64
	for {
		page, err := b.store.List(ctx, height, verifyPageSize)
		if err != nil {
			return ChainReport{}, err
		}
		for _, blk := range page {
			if reason := b.checkLink(blk, height+1, report.TipHash); reason != "" {
				report.Valid = false
				report.BrokenAt = blk.Height
				report.Reason = reason
				return report, nil
			}
			height = blk.Height
			report.Blocks++
			report.TipHash = blk.Hash
		}
		if len(page) < verifyPageSize {
			return report, nil
		}
	}
}

func (b *Builder) checkLink(blk Block, wantHeight int64, wantPrev string) string {
	switch {
	case blk.Height != wantHeight:
		return fmt.Sprintf("expected height %d, found %d", wantHeight, blk.Height)
	case blk.PreviousHash != wantPrev:
		return "previous hash does not match predecessor"
	case ComputeHash(blk) != blk.Hash:
		return "block hash does not match content"
	}
	if b.keyring == nil {
		return ""
	}
	if blk.Signature == "" {
		return "unsigned block"
	}
	if err := b.keyring.Verify(blk.Hash, blk.Signature, blk.SignatureKeyID); err != nil {
		return err.Error()
	}
	return ""
}

// SessionReport compares a sealed block with the trail stored today.
type SessionReport struct {
	SessionID          string `json:"session_id"`
	Valid              bool   `json:"valid"`
	HashMatches        bool   `json:"hash_matches"`
	FingerprintMatches bool   `json:"fingerprint_matches"`
	DistanceMatches    bool   `json:"distance_matches"`
	PointCountMatches  bool   `json:"point_count_matches"`
	OutsidePointsMatch bool   `json:"outside_points_match"`
	ViolationsMatch    bool   `json:"violations_match"`
}

func (b *Builder) VerifySession(ctx context.Context, sessionID string) (SessionReport, error) {
	blk, err := b.store.BySession(ctx, sessionID)
	if err != nil {
		return SessionReport{}, err
	}
	points, err := b.points.Points(ctx, sessionID)
	if err != nil {
		return SessionReport{}, fmt.Errorf("load points: %w", err)
	}

	flags := make([]bool, len(points))
	for i, p := range points {
		flags[i] = p.InsidePerimeter
	}
	stats := Summarize(points, blk.StartedAt, blk.EndedAt, geofence.CountExits(flags))
	r := SessionReport{
		SessionID:          sessionID,
		HashMatches:        ComputeHash(blk) == blk.Hash,
		FingerprintMatches: Fingerprint(points) == blk.Fingerprint,
		DistanceMatches:    math.Abs(stats.DistanceM-blk.DistanceM) < 1e-6,
		PointCountMatches:  stats.PointCount == blk.PointCount,
		OutsidePointsMatch: stats.OutsidePoints == blk.OutsidePoints,
		ViolationsMatch:    stats.ViolationCount == blk.ViolationCount,
	}
	r.Valid = r.HashMatches && r.FingerprintMatches && r.DistanceMatches && r.PointCountMatches &&
		r.OutsidePointsMatch && r.ViolationsMatch
	return r, nil
}
