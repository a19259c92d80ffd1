package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"backend-walkguard/internal/db"
)

var (
	ErrChainAppendConflict = errors.New("audit chain append conflict")
	ErrAlreadySealed       = errors.New("session already sealed")
	ErrBlockNotFound       = errors.New("audit block not found")
)

// Store is the chain tip and the blocks behind it. Append only succeeds
// when the block extends the current tip.
type Store interface {
	Tip(ctx context.Context) (Block, bool, error)
	Append(ctx context.Context, b Block) error
	BySession(ctx context.Context, sessionID string) (Block, error)
	List(ctx context.Context, afterHeight int64, limit int) ([]Block, error)
}

const sessionConstraint = "audit_blocks_session_id_key"

const blockColumns = `height, session_id, started_at, ended_at, duration_sec, distance_m, point_count, outside_points,
	violation_count, compliance_percent, low_confidence, fingerprint, previous_block_hash, block_hash,
	signature, signature_key_id, created_at`

type PostgresStore struct {
	db db.Querier
}

func NewPostgresStore(db db.Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Tip(ctx context.Context) (Block, bool, error) {
	b, err := scanBlock(s.db.QueryRow(ctx, `SELECT `+blockColumns+` FROM audit_blocks ORDER BY height DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return Block{}, false, nil
	}
	if err != nil {
		return Block{}, false, fmt.Errorf("read chain tip: %w", err)
	}
	return b, true, nil
}

// Append relies on the unique height and previous hash to reject a block
// built on a stale tip.
func (s *PostgresStore) Append(ctx context.Context, b Block) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_blocks (`+blockColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, b.Height, b.SessionID, b.StartedAt, b.EndedAt, b.DurationSec, b.DistanceM, b.PointCount, b.OutsidePoints,
		b.ViolationCount, b.CompliancePercent, b.LowConfidence, b.Fingerprint, b.PreviousHash, b.Hash,
		b.Signature, b.SignatureKeyID, b.CreatedAt)
	if constraint, ok := db.UniqueViolation(err); ok {
		if constraint == sessionConstraint {
			return ErrAlreadySealed
		}
		return fmt.Errorf("%w: %s", ErrChainAppendConflict, constraint)
	}
	if err != nil {
		return fmt.Errorf("append block: %w", err)
	}
	return nil
}

func (s *PostgresStore) BySession(ctx context.Context, sessionID string) (Block, error) {
	b, err := scanBlock(s.db.QueryRow(ctx, `SELECT `+blockColumns+` FROM audit_blocks WHERE session_id=$1`, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Block{}, ErrBlockNotFound
	}
	return b, err
}

func (s *PostgresStore) List(ctx context.Context, afterHeight int64, limit int) ([]Block, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+blockColumns+`
		FROM audit_blocks WHERE height > $1
		ORDER BY height
		LIMIT $2
	`, afterHeight, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

func scanBlock(row pgx.Row) (Block, error) {
	var b Block
	err := row.Scan(&b.Height, &b.SessionID, &b.StartedAt, &b.EndedAt, &b.DurationSec, &b.DistanceM, &b.PointCount,
		&b.OutsidePoints, &b.ViolationCount, &b.CompliancePercent, &b.LowConfidence, &b.Fingerprint,
		&b.PreviousHash, &b.Hash, &b.Signature, &b.SignatureKeyID, &b.CreatedAt)
	if err != nil {
		return Block{}, err
	}
	b.StartedAt = b.StartedAt.UTC()
	b.EndedAt = b.EndedAt.UTC()
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}

// MemoryStore is an in-process chain with the same append rules as the
// database store.
type MemoryStore struct {
	mu       sync.RWMutex
	blocks   []Block
	sessions map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]int{}}
}

func (s *MemoryStore) Tip(context.Context) (Block, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.blocks) == 0 {
		return Block{}, false, nil
	}
	return s.blocks[len(s.blocks)-1], true, nil
}

func (s *MemoryStore) Append(_ context.Context, b Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[b.SessionID]; ok {
		return ErrAlreadySealed
	}
	wantHeight, wantPrev := int64(1), GenesisHash
	if n := len(s.blocks); n > 0 {
		wantHeight, wantPrev = s.blocks[n-1].Height+1, s.blocks[n-1].Hash
	}
	if b.Height != wantHeight || b.PreviousHash != wantPrev {
		return fmt.Errorf("%w: tip is at height %d", ErrChainAppendConflict, wantHeight-1)
	}
	s.sessions[b.SessionID] = len(s.blocks)
	s.blocks = append(s.blocks, b)
	return nil
}

func (s *MemoryStore) BySession(_ context.Context, sessionID string) (Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.sessions[sessionID]
	if !ok {
		return Block{}, ErrBlockNotFound
	}
	return s.blocks[i], nil
}

func (s *MemoryStore) List(_ context.Context, afterHeight int64, limit int) ([]Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Block
	for _, b := range s.blocks {
		if b.Height <= afterHeight {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, b)
	}
	return out, nil
}
