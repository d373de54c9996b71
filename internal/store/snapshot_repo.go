package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ibdm-lab/isu-engine/internal/domain"
)

// SnapshotRepo handles persistence for StateSnapshot records.
type SnapshotRepo struct{}

// Checksum returns the hex sha256 of a serialized state.
func Checksum(stateJSON string) string {
	sum := sha256.Sum256([]byte(stateJSON))
	return hex.EncodeToString(sum[:])
}

// Verify reports ErrSnapshotCorrupt when the stored checksum does not match
// the snapshot body.
func Verify(snap *domain.StateSnapshot) error {
	if got := Checksum(snap.StateJSON); got != snap.Checksum {
		return domain.NewEngineError(domain.ErrSnapshotCorrupt.Code,
			fmt.Sprintf("snapshot checksum mismatch for session %s turn %d", snap.SessionID, snap.Turn))
	}
	return nil
}

// SaveTx inserts a snapshot within an existing transaction. An empty
// checksum is filled in from the state body.
func (r *SnapshotRepo) SaveTx(ctx context.Context, tx *sql.Tx, snap domain.StateSnapshot) error {
	const q = `INSERT INTO state_snapshots (session_id, turn, state_json, checksum, created_at)
VALUES (?, ?, ?, ?, ?)`
	if snap.Checksum == "" {
		snap.Checksum = Checksum(snap.StateJSON)
	}
	_, err := tx.ExecContext(ctx, q,
		snap.SessionID,
		snap.Turn,
		snap.StateJSON,
		snap.Checksum,
		snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// GetLatest returns the most recent snapshot for a session.
// Returns nil if no snapshot exists.
func (r *SnapshotRepo) GetLatest(ctx context.Context, db *sql.DB, sessionID string) (*domain.StateSnapshot, error) {
	const q = `SELECT id, session_id, turn, state_json, checksum, created_at
FROM state_snapshots
WHERE session_id = ?
ORDER BY turn DESC, id DESC
LIMIT 1`

	var s domain.StateSnapshot
	err := db.QueryRowContext(ctx, q, sessionID).Scan(&s.ID, &s.SessionID, &s.Turn, &s.StateJSON, &s.Checksum, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest snapshot: %w", err)
	}
	return &s, nil
}
