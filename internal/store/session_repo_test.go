package store

import (
	"context"
	"errors"
	"testing"

	"github.com/ibdm-lab/isu-engine/internal/domain"
)

func TestSessionRepo_CreateAndGet(t *testing.T) {
	db := newTestDB(t)
	want := seedSession(t, db, "sess-1")

	got, err := (&SessionRepo{}).GetByID(context.Background(), db, "sess-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if *got != want {
		t.Errorf("GetByID = %+v, want %+v", *got, want)
	}
}

func TestSessionRepo_GetByID_NotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := (&SessionRepo{}).GetByID(context.Background(), db, "missing")
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionRepo_CreateDuplicate(t *testing.T) {
	db := newTestDB(t)
	s := seedSession(t, db, "sess-1")

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := (&SessionRepo{}).CreateTx(context.Background(), tx, s); !errors.Is(err, domain.ErrDuplicateSession) {
		t.Fatalf("expected ErrDuplicateSession, got %v", err)
	}
}

func TestSessionRepo_UpdateOptimisticLock(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &SessionRepo{}
	s := seedSession(t, db, "sess-1")

	s.Turn = 1
	s.LastEventSeq = 3
	s.UpdatedAtUnix = 2000
	tx, _ := db.Begin()
	if err := repo.UpdateTx(ctx, tx, s); err != nil {
		t.Fatalf("UpdateTx: %v", err)
	}
	tx.Commit()

	got, err := repo.GetByID(ctx, db, "sess-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.StateVersion != 2 || got.Turn != 1 || got.LastEventSeq != 3 {
		t.Errorf("after update: %+v", got)
	}

	// s still carries version 1, which is now stale.
	tx, _ = db.Begin()
	defer tx.Rollback()
	if err := repo.UpdateTx(ctx, tx, s); !errors.Is(err, domain.ErrOptimisticLock) {
		t.Fatalf("expected ErrOptimisticLock, got %v", err)
	}
}

func TestSessionRepo_ListByStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &SessionRepo{}
	seedSession(t, db, "sess-a")
	ended := seedSession(t, db, "sess-b")

	ended.Status = domain.DialogueEnded
	ended.UpdatedAtUnix = 5000
	tx, _ := db.Begin()
	if err := repo.UpdateTx(ctx, tx, ended); err != nil {
		t.Fatalf("UpdateTx: %v", err)
	}
	tx.Commit()

	all, err := repo.List(ctx, db, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 || all[0].SessionID != "sess-b" {
		t.Fatalf("List all = %+v", all)
	}

	active, err := repo.List(ctx, db, domain.DialogueActive)
	if err != nil {
		t.Fatalf("List active: %v", err)
	}
	if len(active) != 1 || active[0].SessionID != "sess-a" {
		t.Fatalf("List active = %+v", active)
	}
}
