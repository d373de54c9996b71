package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/ibdm-lab/isu-engine/internal/domain"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedSession inserts an active session so that rows referencing it satisfy
// the foreign keys.
func seedSession(t *testing.T, db *sql.DB, id string) domain.Session {
	t.Helper()
	s := domain.Session{
		SessionID:     id,
		AgentID:       "system",
		DomainName:    "travel",
		Status:        domain.DialogueActive,
		StateVersion:  1,
		CreatedAtUnix: 1000,
		UpdatedAtUnix: 1000,
	}
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := (&SessionRepo{}).CreateTx(context.Background(), tx, s); err != nil {
		tx.Rollback()
		t.Fatalf("CreateTx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return s
}

func TestNewDB(t *testing.T) {
	db := newTestDB(t)

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='table' ORDER BY name")
	if err != nil {
		t.Fatalf("query tables: %v", err)
	}
	defer rows.Close()

	expected := map[string]bool{
		"sessions":        true,
		"dialogue_events": true,
		"state_snapshots": true,
		"rule_traces":     true,
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan table name: %v", err)
		}
		delete(expected, name)
	}
	for tbl := range expected {
		t.Errorf("expected table %q not found", tbl)
	}
}

func TestNewDB_IdempotentMigration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db1, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("first NewDB: %v", err)
	}
	db1.Close()

	db2, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("second NewDB: %v", err)
	}
	db2.Close()
}
