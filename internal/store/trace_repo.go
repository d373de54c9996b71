package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ibdm-lab/isu-engine/internal/domain"
)

// TraceRepo handles persistence for RuleTrace entries.
type TraceRepo struct{}

// SaveTx inserts the rule firings of one turn within an existing transaction.
func (r *TraceRepo) SaveTx(ctx context.Context, tx *sql.Tx, traces []domain.RuleTrace) error {
	if len(traces) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO rule_traces (session_id, turn, seq, phase, rule, created_at)
VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare trace insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range traces {
		if _, err := stmt.ExecContext(ctx, t.SessionID, t.Turn, t.Seq, t.Phase, t.Rule, t.CreatedAt); err != nil {
			return fmt.Errorf("save trace %s: %w", t.Rule, err)
		}
	}
	return nil
}

// ListBySession returns the traces of a session ordered by turn and firing
// order. A turn of zero or less returns every turn.
func (r *TraceRepo) ListBySession(ctx context.Context, db *sql.DB, sessionID string, turn int) ([]domain.RuleTrace, error) {
	q := `SELECT id, session_id, turn, seq, phase, rule, created_at
FROM rule_traces
WHERE session_id = ?`
	args := []any{sessionID}
	if turn > 0 {
		q += ` AND turn = ?`
		args = append(args, turn)
	}
	q += ` ORDER BY turn ASC, seq ASC`

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	var traces []domain.RuleTrace
	for rows.Next() {
		var t domain.RuleTrace
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Turn, &t.Seq, &t.Phase, &t.Rule, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		traces = append(traces, t)
	}
	return traces, rows.Err()
}
