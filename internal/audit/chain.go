// Package audit seals completed walks into a single append-only chain of
// hash-linked blocks and verifies that chain after the fact.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"backend-walkguard/internal/shared/geo"
	"backend-walkguard/internal/walk"
)

// GenesisHash is the previous hash of the first block.
var GenesisHash = strings.Repeat("0", 64)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Block is one immutable ledger entry for one completed session.
type Block struct {
	Height            int64     `json:"height"`
	SessionID         string    `json:"session_id"`
	StartedAt         time.Time `json:"started_at"`
	EndedAt           time.Time `json:"ended_at"`
	DurationSec       int64     `json:"duration_seconds"`
	DistanceM         float64   `json:"distance_meters"`
	PointCount        int       `json:"point_count"`
	OutsidePoints     int       `json:"outside_points"`
	ViolationCount    int       `json:"violation_count"`
	CompliancePercent float64   `json:"compliance_percent"`
	LowConfidence     bool      `json:"low_confidence"`
	Fingerprint       string    `json:"fingerprint"`
	PreviousHash      string    `json:"previous_block_hash"`
	Hash              string    `json:"block_hash"`
	Signature         string    `json:"signature,omitempty"`
	SignatureKeyID    string    `json:"signature_key_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Summary converts the block into what billing and the completing caller see.
func (b Block) Summary() walk.Summary {
	return walk.Summary{
		SessionID:         b.SessionID,
		DistanceKm:        b.DistanceM / 1000,
		DurationMinutes:   float64(b.DurationSec) / 60,
		PointCount:        b.PointCount,
		ViolationCount:    b.ViolationCount,
		CompliancePercent: b.CompliancePercent,
		LowConfidence:     b.LowConfidence,
		BlockHash:         b.Hash,
	}
}

// Stats are the figures derived from a session's ordered point stream.
type Stats struct {
	DistanceM         float64
	DurationSec       int64
	PointCount        int
	OutsidePoints     int
	ViolationCount    int
	CompliancePercent float64
	LowConfidence     bool
}

// Summarize aggregates the trail. violations is the session's edge-triggered
// counter; a walk with no points is vacuously compliant but low confidence.
func Summarize(points []walk.Point, start, end time.Time, violations int) Stats {
	coords := make([]geo.Coord, 0, len(points))
	outside := 0
	for _, p := range points {
		coords = append(coords, geo.Coord{Lat: p.Lat, Lng: p.Lng})
		if !p.InsidePerimeter {
			outside++
		}
	}

	s := Stats{
		DistanceM:      geo.PathLengthMeters(coords),
		PointCount:     len(points),
		OutsidePoints:  outside,
		ViolationCount: violations,
	}
	if end.After(start) {
		s.DurationSec = int64(end.Sub(start) / time.Second)
	}

	if s.PointCount == 0 {
		s.CompliancePercent = 100
		s.LowConfidence = true
		return s
	}
	pct := float64(s.PointCount-violations) / float64(s.PointCount) * 100
	s.CompliancePercent = math.Max(0, math.Min(100, pct))
	return s
}

// Fingerprint hashes the ordered coordinate list. It proves the whole list
// is unaltered; it cannot prove a subset.
func Fingerprint(points []walk.Point) string {
	h := sha256.New()
	for _, p := range points {
		fmt.Fprintf(h, "%s,%s;", formatFloat(p.Lat), formatFloat(p.Lng))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeHash hashes every content field of the block plus its link.
func ComputeHash(b Block) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%d|%s|%d|%d|%d|%s|%t|%s|%s|%s",
		b.Height,
		b.SessionID,
		formatTime(b.StartedAt),
		formatTime(b.EndedAt),
		b.DurationSec,
		formatFloat(b.DistanceM),
		b.PointCount,
		b.OutsidePoints,
		b.ViolationCount,
		formatFloat(b.CompliancePercent),
		b.LowConfidence,
		b.Fingerprint,
		b.PreviousHash,
		formatTime(b.CreatedAt),
	)
	return hex.EncodeToString(h.Sum(nil))
}

// Truncate normalizes a timestamp to the precision that is hashed and stored.
func Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func formatTime(t time.Time) string {
	return Truncate(t).Format(timeLayout)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
