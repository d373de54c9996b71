package store

import (
	"context"
	"errors"
	"testing"

	"github.com/ibdm-lab/isu-engine/internal/domain"
)

func TestEventRepo_AppendAndList(t *testing.T) {
	db := newTestDB(t)
	seedSession(t, db, "sess-1")
	ctx := context.Background()
	repo := &EventRepo{}

	events := []domain.DialogueEvent{
		{SessionID: "sess-1", SeqNo: 1, EventType: domain.EventSessionStarted, CreatedAt: 1000},
		{SessionID: "sess-1", SeqNo: 2, Turn: 1, EventType: domain.EventUserUtterance, Speaker: "user", PayloadJSON: `{"text":"hi"}`, CreatedAt: 1001},
		{SessionID: "sess-1", SeqNo: 3, Turn: 1, EventType: domain.EventSystemUtterance, Speaker: "system", PayloadJSON: `{"text":"Hello!"}`, CreatedAt: 1002},
	}
	for _, e := range events {
		tx, err := db.Begin()
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if err := repo.AppendTx(ctx, tx, e); err != nil {
			t.Fatalf("AppendTx seq=%d: %v", e.SeqNo, err)
		}
		tx.Commit()
	}

	got, err := repo.ListBySession(ctx, db, "sess-1", 0)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].PayloadJSON != "{}" {
		t.Errorf("empty payload stored as %q, want {}", got[0].PayloadJSON)
	}

	got, err = repo.ListBySession(ctx, db, "sess-1", 1)
	if err != nil {
		t.Fatalf("ListBySession sinceSeq=1: %v", err)
	}
	if len(got) != 2 || got[0].SeqNo != 2 || got[1].Speaker != "system" {
		t.Fatalf("since 1 = %+v", got)
	}

	got, err = repo.ListBySession(ctx, db, "other", 0)
	if err != nil {
		t.Fatalf("ListBySession other: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no events for other session, got %d", len(got))
	}
}

func TestEventRepo_DuplicateSeq(t *testing.T) {
	db := newTestDB(t)
	seedSession(t, db, "sess-1")
	ctx := context.Background()
	repo := &EventRepo{}
	e := domain.DialogueEvent{SessionID: "sess-1", SeqNo: 1, EventType: domain.EventSessionStarted, CreatedAt: 1000}

	tx, _ := db.Begin()
	if err := repo.AppendTx(ctx, tx, e); err != nil {
		t.Fatalf("first AppendTx: %v", err)
	}
	tx.Commit()

	tx, _ = db.Begin()
	defer tx.Rollback()
	if err := repo.AppendTx(ctx, tx, e); !errors.Is(err, domain.ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent, got %v", err)
	}
}

func TestEventRepo_RequiresSession(t *testing.T) {
	db := newTestDB(t)
	tx, _ := db.Begin()
	defer tx.Rollback()
	err := (&EventRepo{}).AppendTx(context.Background(), tx, domain.DialogueEvent{SessionID: "ghost", SeqNo: 1, EventType: "x", CreatedAt: 1})
	if err == nil {
		t.Fatal("expected foreign key violation for unknown session")
	}
}
