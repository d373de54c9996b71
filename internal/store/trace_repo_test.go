package store

import (
	"context"
	"testing"

	"github.com/ibdm-lab/isu-engine/internal/domain"
)

func TestTraceRepo_SaveAndList(t *testing.T) {
	db := newTestDB(t)
	seedSession(t, db, "sess-1")
	ctx := context.Background()
	repo := &TraceRepo{}

	turns := [][]domain.RuleTrace{
		{
			{SessionID: "sess-1", Turn: 1, Seq: 0, Phase: "interpretation", Rule: "interpret_greet", CreatedAt: 1},
			{SessionID: "sess-1", Turn: 1, Seq: 1, Phase: "selection", Rule: "select_greet", CreatedAt: 1},
		},
		{
			{SessionID: "sess-1", Turn: 2, Seq: 0, Phase: "integration", Rule: "issue_accommodation", CreatedAt: 2},
		},
	}
	for _, batch := range turns {
		tx, err := db.Begin()
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if err := repo.SaveTx(ctx, tx, batch); err != nil {
			t.Fatalf("SaveTx: %v", err)
		}
		tx.Commit()
	}

	tx, _ := db.Begin()
	if err := repo.SaveTx(ctx, tx, nil); err != nil {
		t.Fatalf("SaveTx empty: %v", err)
	}
	tx.Commit()

	all, err := repo.ListBySession(ctx, db, "sess-1", 0)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 traces, got %d", len(all))
	}
	if all[1].Rule != "select_greet" || all[2].Turn != 2 {
		t.Errorf("unexpected order: %+v", all)
	}

	second, err := repo.ListBySession(ctx, db, "sess-1", 2)
	if err != nil {
		t.Fatalf("ListBySession turn=2: %v", err)
	}
	if len(second) != 1 || second[0].Rule != "issue_accommodation" {
		t.Errorf("turn 2 traces = %+v", second)
	}
}
