package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ibdm-lab/isu-engine/internal/domain"
)

// EventRepo handles persistence for DialogueEvent records.
type EventRepo struct{}

// AppendTx inserts a dialogue event within an existing transaction.
// Reusing a sequence number within a session fails with ErrDuplicateEvent.
func (r *EventRepo) AppendTx(ctx context.Context, tx *sql.Tx, event domain.DialogueEvent) error {
	const q = `INSERT INTO dialogue_events (session_id, seq_no, turn, event_type, speaker, payload_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	payload := event.PayloadJSON
	if payload == "" {
		payload = "{}"
	}
	_, err := tx.ExecContext(ctx, q,
		event.SessionID,
		event.SeqNo,
		event.Turn,
		event.EventType,
		event.Speaker,
		payload,
		event.CreatedAt,
	)
	if isUniqueViolation(err) {
		return domain.NewEngineError(domain.ErrDuplicateEvent.Code,
			fmt.Sprintf("duplicate event sequence number %d for session %s", event.SeqNo, event.SessionID))
	}
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListBySession returns events for a session with sequence numbers greater
// than sinceSeq, ordered by sequence number ascending.
func (r *EventRepo) ListBySession(ctx context.Context, db *sql.DB, sessionID string, sinceSeq int64) ([]domain.DialogueEvent, error) {
	const q = `SELECT id, session_id, seq_no, turn, event_type, speaker, payload_json, created_at
FROM dialogue_events
WHERE session_id = ? AND seq_no > ?
ORDER BY seq_no ASC`

	rows, err := db.QueryContext(ctx, q, sessionID, sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []domain.DialogueEvent
	for rows.Next() {
		var e domain.DialogueEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.SeqNo, &e.Turn, &e.EventType, &e.Speaker, &e.PayloadJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
