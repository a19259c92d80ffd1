package audit

import (
	"testing"
	"time"

	"backend-walkguard/internal/walk"
)

func trail(coords ...[2]float64) []walk.Point {
	points := make([]walk.Point, 0, len(coords))
	for i, c := range coords {
		points = append(points, walk.Point{SessionID: "walk-1", Seq: int64(i + 1), Lat: c[0], Lng: c[1], InsidePerimeter: true})
	}
	return points
}

func TestSummarizeNoPoints(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := Summarize(nil, start, start.Add(30*time.Minute), 0)
	if s.PointCount != 0 || s.CompliancePercent != 100 || !s.LowConfidence {
		t.Fatalf("unexpected stats %+v", s)
	}
	if s.DurationSec != 1800 || s.DistanceM != 0 {
		t.Fatalf("unexpected duration or distance %+v", s)
	}
}

func TestSummarizeCompliance(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	points := trail([2]float64{32.0, 34.8}, [2]float64{32.0054, 34.8}, [2]float64{32.0054, 34.8}, [2]float64{32.002, 34.8})
	points[1].InsidePerimeter = false
	points[2].InsidePerimeter = false

	s := Summarize(points, start, start.Add(time.Hour), 1)
	if s.PointCount != 4 || s.ViolationCount != 1 || s.OutsidePoints != 2 {
		t.Fatalf("unexpected counts %+v", s)
	}
	if s.CompliancePercent != 75 || s.LowConfidence {
		t.Fatalf("unexpected compliance %+v", s)
	}
	if s.DistanceM < 970 || s.DistanceM > 990 {
		t.Fatalf("unexpected distance %v", s.DistanceM)
	}

	if got := Summarize(points[:1], start, start, 5).CompliancePercent; got != 0 {
		t.Fatalf("compliance should clamp at 0, got %v", got)
	}
}

func TestSummarizeEndBeforeStart(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if s := Summarize(nil, start, start.Add(-time.Minute), 0); s.DurationSec != 0 {
		t.Fatalf("expected zero duration, got %d", s.DurationSec)
	}
}

func TestFingerprintDetectsTampering(t *testing.T) {
	points := trail([2]float64{32.0, 34.8}, [2]float64{32.001, 34.8})
	original := Fingerprint(points)
	if len(original) != 64 {
		t.Fatalf("expected hex sha256, got %q", original)
	}
	if Fingerprint(points) != original {
		t.Fatalf("fingerprint must be deterministic")
	}

	points[1].Lat = 32.0011
	if Fingerprint(points) == original {
		t.Fatalf("fingerprint should change when a point moves")
	}

	swapped := trail([2]float64{32.001, 34.8}, [2]float64{32.0, 34.8})
	if Fingerprint(swapped) == original {
		t.Fatalf("fingerprint should depend on order")
	}
}

func TestComputeHashCoversFields(t *testing.T) {
	base := Block{
		Height:       1,
		SessionID:    "walk-1",
		StartedAt:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		EndedAt:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		DistanceM:    1234.5,
		PointCount:   10,
		Fingerprint:  "abc",
		PreviousHash: GenesisHash,
	}
	h := ComputeHash(base)

	mutations := []func(*Block){
		func(b *Block) { b.Height = 2 },
		func(b *Block) { b.SessionID = "walk-2" },
		func(b *Block) { b.EndedAt = b.EndedAt.Add(time.Second) },
		func(b *Block) { b.DistanceM = 1234.6 },
		func(b *Block) { b.PointCount = 11 },
		func(b *Block) { b.ViolationCount = 1 },
		func(b *Block) { b.CompliancePercent = 90 },
		func(b *Block) { b.LowConfidence = true },
		func(b *Block) { b.Fingerprint = "abd" },
		func(b *Block) { b.PreviousHash = "ff" },
	}
	for i, mutate := range mutations {
		b := base
		mutate(&b)
		if ComputeHash(b) == h {
			t.Fatalf("mutation %d did not change the hash", i)
		}
	}

	b := base
	b.StartedAt = b.StartedAt.Add(300 * time.Microsecond)
	if ComputeHash(b) != h {
		t.Fatalf("sub-millisecond precision should not be hashed")
	}
	b.Signature = "sig"
	if ComputeHash(b) != h {
		t.Fatalf("signature is not part of the hashed content")
	}
}

func TestBlockSummary(t *testing.T) {
	s := Block{SessionID: "walk-1", DistanceM: 2500, DurationSec: 1800, PointCount: 4, Hash: "h"}.Summary()
	if s.DistanceKm != 2.5 || s.DurationMinutes != 30 || s.BlockHash != "h" {
		t.Fatalf("unexpected summary %+v", s)
	}
}

func TestKeyring(t *testing.T) {
	if _, err := NewKeyring(nil, "k1"); err == nil {
		t.Fatalf("expected error for empty keys")
	}
	if _, err := NewKeyring(map[string][]byte{"k1": []byte("s")}, "k2"); err == nil {
		t.Fatalf("expected error for unknown active key")
	}
	none, err := KeyringFromSecret("", "k1")
	if err != nil || none != nil || none.ActiveKeyID() != "" {
		t.Fatalf("empty secret should disable signing")
	}

	k, err := KeyringFromSecret("secret", "k1")
	if err != nil || k.ActiveKeyID() != "k1" {
		t.Fatalf("keyring: %v", err)
	}
	sig, keyID, err := k.Sign("hash")
	if err != nil || keyID != "k1" || sig == "" {
		t.Fatalf("sign: %v", err)
	}
	if err := k.Verify("hash", sig, keyID); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := k.Verify("other", sig, keyID); err == nil {
		t.Fatalf("expected mismatch")
	}
	if err := k.Verify("hash", sig, "k9"); err == nil {
		t.Fatalf("expected unknown key error")
	}
}
