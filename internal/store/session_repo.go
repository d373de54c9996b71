package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ibdm-lab/isu-engine/internal/domain"
)

// SessionRepo handles persistence for Session headers.
type SessionRepo struct{}

const sessionColumns = `session_id, agent_id, domain_name, status, state_version, turn, last_event_seq, created_at_unix, updated_at_unix`

// CreateTx inserts a new session within an existing transaction.
func (r *SessionRepo) CreateTx(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	const q = `INSERT INTO sessions (` + sessionColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		s.SessionID,
		s.AgentID,
		s.DomainName,
		string(s.Status),
		s.StateVersion,
		s.Turn,
		s.LastEventSeq,
		s.CreatedAtUnix,
		s.UpdatedAtUnix,
	)
	if isUniqueViolation(err) {
		return domain.NewEngineError(domain.ErrDuplicateSession.Code, "session already exists: "+s.SessionID)
	}
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// UpdateTx updates a session within a transaction using optimistic locking.
// The update only succeeds if the stored state_version still equals
// s.StateVersion; the stored version is then incremented.
func (r *SessionRepo) UpdateTx(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	const q = `UPDATE sessions SET
		status = ?,
		state_version = state_version + 1,
		turn = ?,
		last_event_seq = ?,
		updated_at_unix = ?
	WHERE session_id = ? AND state_version = ?`

	res, err := tx.ExecContext(ctx, q,
		string(s.Status),
		s.Turn,
		s.LastEventSeq,
		s.UpdatedAtUnix,
		s.SessionID,
		s.StateVersion,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrOptimisticLock
	}
	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepo) GetByID(ctx context.Context, db *sql.DB, sessionID string) (*domain.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = ?`

	s, err := scanSession(db.QueryRowContext(ctx, q, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// List returns sessions with the given status, most recently updated first.
// An empty status lists every session.
func (r *SessionRepo) List(ctx context.Context, db *sql.DB, status domain.DialogueStatus) ([]domain.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY updated_at_unix DESC, session_id ASC`

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var s domain.Session
	var status string
	err := row.Scan(&s.SessionID, &s.AgentID, &s.DomainName, &status, &s.StateVersion,
		&s.Turn, &s.LastEventSeq, &s.CreatedAtUnix, &s.UpdatedAtUnix)
	if err != nil {
		return nil, err
	}
	s.Status = domain.DialogueStatus(status)
	return &s, nil
}
