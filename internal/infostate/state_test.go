package infostate

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ibdm-lab/isu-engine/internal/domain"
)

var (
	destQ  = domain.WhQuestion{Variable: "x", Pred: "dest_city"}
	dayQ   = domain.WhQuestion{Variable: "x", Pred: "depart_day"}
	classQ = domain.AltQuestion{Alternatives: []string{"economy", "business"}, Pred: "travel_class"}
)

func populated() *InformationState {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	st := New("system")
	st.Private.Plan = []*domain.Plan{{
		Type: domain.PlanTravelBooking, Text: "travel_booking", Status: domain.PlanActive,
		Subplans: []*domain.Plan{domain.NewFindout(destQ), domain.NewFindout(dayQ)},
	}}
	st.Private.Agenda = []domain.DialogueMove{{Type: domain.MoveAsk, Content: dayQ, Speaker: "system", Timestamp: at}}
	st.Private.Beliefs["channel"] = "web"
	st.Private.Beliefs["score"] = 0.5
	st.Private.Issues = []domain.Question{dayQ}
	st.Private.OverriddenQuestions = []domain.Question{domain.WhQuestion{Variable: "x", Pred: "special_requests", Optional: true}}
	st.Private.Actions = []domain.Action{{Name: "travel_booking", Parameters: map[string]string{"dest_city": "Paris"}, Status: domain.ActionPending}}
	answer := domain.DialogueMove{
		Type: domain.MoveAnswer, Content: domain.NewAnswer("Paris", destQ), Speaker: "user", Timestamp: at,
		Metadata: map[string]any{domain.MetaConfidence: 0.9, domain.MetaGroundingStatus: "ungrounded"},
	}
	st.Private.LastUtterance = &answer
	st.Shared.PushQUD(classQ)
	st.Shared.PushQUD(domain.YNQuestion{Proposition: "und", Parameters: map[string]string{"move_index": "0"}})
	st.Shared.AddCommitment("dest_city(Paris)")
	icm := domain.DialogueMove{
		Type: domain.MoveICM, Speaker: "system", FeedbackLevel: domain.LevelUnderstanding,
		Polarity: domain.PolarityInterrogative, TargetMoveIndex: domain.IntPtr(0), Timestamp: at,
	}
	st.Shared.Moves = []domain.DialogueMove{
		{Type: domain.MoveGreet, Speaker: "user", Timestamp: at},
		{Type: domain.MoveRequest, Content: domain.Text("travel_booking"), Speaker: "user", Timestamp: at},
		{Type: domain.MoveAsk, Content: destQ, Speaker: "system", Timestamp: at},
		answer,
		icm,
		{Type: domain.MoveAssert, Content: domain.Text("dest_city(Paris)"), Speaker: "user", Timestamp: at},
		{Type: domain.MoveInform, Content: domain.Text("Flights are available"), Speaker: "system", Timestamp: at},
		{Type: domain.MoveCommand, Content: domain.Data{"action": "book", "priority": 2.0}, Speaker: "user", Timestamp: at},
		{Type: domain.MoveAcknowledge, Speaker: "system", Timestamp: at},
		{Type: domain.MoveClarify, Content: dayQ, Speaker: "system", Timestamp: at},
		{Type: domain.MovePresentDocument, Content: domain.Data{"title": "NDA", "sections": []any{"parties", "term"}}, Speaker: "system", Timestamp: at},
		{Type: domain.MoveType("negotiate"), Content: domain.Text("counter offer"), Speaker: "user", Timestamp: at},
		{Type: domain.MoveQuit, Speaker: "user", Timestamp: at, Metadata: map[string]any{domain.MetaConfidence: 0.95}},
	}
	st.Shared.LastMoves = []domain.DialogueMove{icm}
	st.Control.Speaker = "system"
	st.Control.NextSpeaker = "user"
	return st
}

func TestQUDIsLIFO(t *testing.T) {
	st := New("system")
	if st.Shared.PopQUD() != nil || st.Shared.TopQUD() != nil {
		t.Fatal("empty QUD should yield nil")
	}
	st.Shared.PushQUD(destQ)
	st.Shared.PushQUD(dayQ)
	if got := st.Shared.TopQUD(); !domain.SameQuestion(got, dayQ) {
		t.Fatalf("top = %v, want %v", got, dayQ)
	}
	if got := st.Shared.PopQUD(); !domain.SameQuestion(got, dayQ) {
		t.Fatalf("pop = %v", got)
	}
	if st.Shared.QUDLen() != 1 || !domain.SameQuestion(st.Shared.QUD()[0], destQ) {
		t.Fatalf("remaining QUD = %v", st.Shared.QUD())
	}
}

func TestAgendaIsFIFO(t *testing.T) {
	st := New("system")
	st.Private.Enqueue(domain.DialogueMove{Type: domain.MoveGreet})
	st.Private.Enqueue(domain.DialogueMove{Type: domain.MoveAsk})
	first, _ := st.Private.Dequeue()
	second, _ := st.Private.Dequeue()
	_, ok := st.Private.Dequeue()
	if first.Type != domain.MoveGreet || second.Type != domain.MoveAsk || ok {
		t.Fatalf("dequeue order %s, %s, empty=%v", first.Type, second.Type, !ok)
	}
}

func TestCommitments(t *testing.T) {
	st := New("system")
	st.Shared.AddCommitment("travel_class(economy)")
	st.Shared.AddCommitment("dest_city(Paris)")
	st.Shared.AddCommitment("dest_city(Paris)")

	if diff := cmp.Diff([]string{"dest_city(Paris)", "travel_class(economy)"}, st.Shared.Commitments()); diff != "" {
		t.Fatalf("commitments mismatch (-want +got):\n%s", diff)
	}
	if c, ok := st.Shared.CommitmentFor("travel_class"); !ok || c != "travel_class(economy)" {
		t.Fatalf("CommitmentFor = %q, %v", c, ok)
	}
	if !st.Shared.RemoveCommitment("dest_city(Paris)") || st.Shared.RemoveCommitment("dest_city(Paris)") {
		t.Fatal("remove should report presence once")
	}
}

func TestIssuesByTopic(t *testing.T) {
	st := New("system")
	st.Private.Issues = []domain.Question{destQ, classQ}
	if !st.Private.HasIssue(domain.WhQuestion{Variable: "y", Pred: "travel_class"}) {
		t.Fatal("issue lookup should match by predicate")
	}
	st.Private.RemoveIssue(destQ)
	if len(st.Private.Issues) != 1 || st.Private.Issues[0].Predicate() != "travel_class" {
		t.Fatalf("issues = %v", st.Private.Issues)
	}
}

func TestMarkSubplan(t *testing.T) {
	st := populated()
	if !st.MarkSubplan(dayQ, domain.PlanCompleted) {
		t.Fatal("expected depart_day findout")
	}
	if st.Private.Plan[0].Subplans[1].Status != domain.PlanCompleted {
		t.Fatal("subplan status not updated")
	}
	if st.MarkSubplan(domain.WhQuestion{Pred: "unknown"}, domain.PlanCompleted) {
		t.Fatal("unknown question should not be found")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	st := populated()
	st.Context.Reaccommodation = &Reaccommodation{Question: classQ}
	st.Context.NeedsReutterance = domain.IntPtr(1)
	cl := st.Clone()

	cl.Private.Plan[0].Subplans[0].Status = domain.PlanCompleted
	cl.Private.Agenda[0].Speaker = "other"
	cl.Private.Beliefs["channel"] = "sms"
	cl.Private.Issues[0] = destQ
	cl.Private.Actions[0].Parameters["dest_city"] = "Rome"
	cl.Private.LastUtterance.Metadata[domain.MetaConfidence] = 0.1
	cl.Shared.PopQUD()
	cl.Shared.AddCommitment("depart_day(Friday)")
	cl.Shared.Moves[3].Metadata[domain.MetaGroundingStatus] = "grounded"
	cl.Context.Reaccommodation.Retracted = true
	*cl.Context.NeedsReutterance = 5

	orig := populated()
	opts := []cmp.Option{cmp.AllowUnexported(SharedIS{}), cmpopts.IgnoreFields(InformationState{}, "Context")}
	if diff := cmp.Diff(orig, st, opts...); diff != "" {
		t.Fatalf("mutating the clone changed the original (-want +got):\n%s", diff)
	}
	if st.Context.Reaccommodation.Retracted || *st.Context.NeedsReutterance != 1 {
		t.Fatal("clone shares phase context")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	st := populated()
	st.Context.Utterance = "not persisted"

	data, err := json.Marshal(st)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}

	st.Context = PhaseContext{}
	opts := []cmp.Option{cmp.AllowUnexported(SharedIS{}), cmpopts.EquateEmpty()}
	if diff := cmp.Diff(st, got, opts...); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_RejectsUnknownTags(t *testing.T) {
	data := []byte(`{"agent_id":"system","private":{"issues":[{"type":"HowQuestion"}]},"shared":{},"control":{}}`)
	_, err := Decode(data)
	if !errors.Is(err, domain.ErrUnknownQuestionType) {
		t.Fatalf("want ErrUnknownQuestionType, got %v", err)
	}

	_, err = Decode([]byte(`{"agent_id":`))
	if !errors.Is(err, domain.ErrMalformedState) {
		t.Fatalf("want ErrMalformedState, got %v", err)
	}
}

func TestChangedRegions(t *testing.T) {
	before := populated()
	after := before.Clone()
	if got := Changed(before, after); got != RegionNone {
		t.Fatalf("clone differs in %s", got)
	}
	after.Shared.PopQUD()
	after.Private.Issues = nil
	after.Context.Handled = true
	if got := Changed(before, after); got != RegionQUD|RegionIssues {
		t.Fatalf("Changed = %s", got)
	}
}

func TestCloneOfDrainedStateIsUnchanged(t *testing.T) {
	st := New("system")
	st.Shared.PushQUD(destQ)
	st.Shared.PopQUD()
	st.Private.Enqueue(domain.DialogueMove{Type: domain.MoveGreet})
	st.Private.Dequeue()
	st.Private.Issues = []domain.Question{dayQ}
	st.Private.RemoveIssue(dayQ)

	cl := st.Clone()
	if got := Changed(st, cl); got != RegionNone {
		t.Fatalf("clone of unchanged state differs in %s", got)
	}
	if cl.Shared.qud == nil || cl.Private.Issues == nil {
		t.Fatal("clone turned empty slices into nil")
	}

	// Nil and empty hold the same content.
	cl.Shared.qud = nil
	cl.Shared.commitments = nil
	if got := Changed(st, cl); got != RegionNone {
		t.Fatalf("nil and empty regions compared as %s", got)
	}
}
