package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/ibdm-lab/isu-engine/internal/domain"
	"github.com/ibdm-lab/isu-engine/internal/infostate"
	"github.com/ibdm-lab/isu-engine/internal/rules"
	"github.com/ibdm-lab/isu-engine/internal/taskdomain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newEngine(t *testing.T, dm *taskdomain.Model, opts ...func(*Config)) *Engine {
	t.Helper()
	cfg := Config{
		Domain: dm,
		Logger: zaptest.NewLogger(t),
		Clock:  func() time.Time { return fixedNow },
	}
	for _, o := range opts {
		o(&cfg)
	}
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

func texts(res *TurnResult) []string {
	out := make([]string, len(res.Outputs))
	for i, u := range res.Outputs {
		out[i] = u.Text
	}
	return out
}

func turn(t *testing.T, e *Engine, st *infostate.InformationState, utterance string) *TurnResult {
	t.Helper()
	res, err := e.ProcessInput(context.Background(), utterance, "user", st)
	require.NoError(t, err)
	return res
}

func TestNew_RequiresDomain(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, domain.ErrUnknownDomain)
}

func TestNew_StrictRulesLeavesSharedSetAlone(t *testing.T) {
	dm := taskdomain.NDADomain()
	shared, err := rules.NewDefaultRuleSet(dm, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	strict := newEngine(t, dm, func(c *Config) { c.Rules = shared; c.StrictRules = true })
	lax := newEngine(t, dm, func(c *Config) { c.Rules = shared })

	assert.True(t, strict.Rules.Strict)
	assert.False(t, lax.Rules.Strict)
	assert.False(t, shared.Strict)
	assert.Same(t, shared, lax.Rules)
	assert.Equal(t, shared.Len(rules.PhaseIntegration), strict.Rules.Len(rules.PhaseIntegration))
}

func TestProcessInput_NDADialogue(t *testing.T) {
	e := newEngine(t, taskdomain.NDADomain())
	st := e.InitialState()

	res := turn(t, e, st, "I need to draft an NDA")
	assert.Equal(t, []string{"Which parties are entering into this NDA?"}, texts(res))
	assert.Equal(t, "user", res.State.Control.NextSpeaker)
	assert.Equal(t, 1, res.State.Shared.QUDLen())
	assert.Len(t, res.State.Private.Issues, 4)
	assert.Equal(t, fixedNow, res.State.Shared.Moves[0].Timestamp)

	res = turn(t, e, res.State, "Acme Corp and Globex Inc")
	assert.Equal(t, []string{"Should the NDA be mutual or one-way?"}, texts(res))
	assert.True(t, res.State.Shared.HasCommitment("legal_entities(Acme Corp and Globex Inc)"))

	res = turn(t, e, res.State, "bilateral")
	assert.Equal(t,
		[]string{`Sorry, "bilateral" is not a valid answer. Should the NDA be mutual or one-way? Please choose one of: mutual, one-way.`},
		texts(res))
	assert.Equal(t, 1, res.State.Shared.QUDLen())

	for _, step := range []struct{ say, want string }{
		{"mutual", "What is the effective date of the agreement?"},
		{"January 1, 2027", "How long should the confidentiality obligations last?"},
		{"two years", "Which state's law should govern the agreement?"},
	} {
		res = turn(t, e, res.State, step.say)
		assert.Equal(t, []string{step.want}, texts(res), "after %q", step.say)
	}

	res = turn(t, e, res.State, "Delaware")
	require.Len(t, res.Outputs, 1)
	assert.Contains(t, res.Outputs[0].Text, "I have everything I need for nda drafting.")
	assert.Contains(t, res.Outputs[0].Text, "nda type: mutual")
	require.Len(t, res.State.Private.Actions, 1)
	assert.Equal(t, domain.ActionPending, res.State.Private.Actions[0].Status)
	assert.Equal(t, domain.PlanCompleted, res.State.Private.Plan[0].Status)
	assert.Len(t, res.State.Shared.Commitments(), 5)
}

func TestProcessInput_GreetingAndRequestInOneTurn(t *testing.T) {
	e := newEngine(t, taskdomain.NDADomain())
	res := turn(t, e, e.InitialState(), "Hello, I need to draft an NDA")

	assert.Equal(t, []domain.MoveType{domain.MoveGreet, domain.MoveRequest},
		[]domain.MoveType{res.Interpreted[0].Type, res.Interpreted[1].Type})
	assert.Equal(t, []string{"Hello! How can I help you?", "Which parties are entering into this NDA?"}, texts(res))

	var fired []string
	for _, f := range res.Trace {
		fired = append(fired, f.Rule)
	}
	assert.Subset(t, fired, []string{"interpret_greet", "interpret_task_request", "issue_accommodation", "select_greet", "local_question_accommodation"})
}

func TestProcessInput_MaxMovesPerTurn(t *testing.T) {
	e := newEngine(t, taskdomain.NDADomain(), func(c *Config) { c.MaxMovesPerTurn = 1 })
	res := turn(t, e, e.InitialState(), "Hello, I need to draft an NDA")
	assert.Equal(t, []string{"Hello! How can I help you?"}, texts(res))
	assert.Equal(t, "system", res.State.Control.NextSpeaker)
}

func TestProcessInput_Quit(t *testing.T) {
	e := newEngine(t, taskdomain.TravelDomain())
	res := turn(t, e, e.InitialState(), "goodbye")
	assert.Equal(t, []string{"Goodbye!"}, texts(res))
	assert.Equal(t, domain.DialogueEnded, res.State.Control.DialogueState)
	assert.Equal(t, "", res.State.Control.NextSpeaker)
}

func TestProcessInput_ReaccommodationAcrossTurns(t *testing.T) {
	e := newEngine(t, taskdomain.TravelDomain())
	st := e.InitialState()
	for _, say := range []string{"I want to book a flight", "London", "Paris", "Friday", "economy", "400 dollars"} {
		st = turn(t, e, st, say).State
	}
	require.True(t, st.Shared.HasCommitment("price_quote(400 dollars)"))

	res := turn(t, e, st, "skip")
	require.Len(t, res.Outputs, 1)
	assert.Contains(t, res.Outputs[0].Text, "travel class: economy")
	assert.Equal(t, 0, res.State.Shared.QUDLen())

	// Nothing is open, so "business" is recognised by its sort and revises
	// the travel class, which retracts the price quote.
	res = turn(t, e, res.State, "business")
	assert.True(t, res.State.Shared.HasCommitment("travel_class(business)"))
	_, quoted := res.State.Shared.CommitmentFor("price_quote")
	assert.False(t, quoted)
	assert.Equal(t, []string{"What price are you willing to pay?"}, texts(res))
	assert.Equal(t, "price_quote", res.State.Shared.TopQUD().Predicate())
}

func TestProcessInput_DoesNotModifyCallerState(t *testing.T) {
	e := newEngine(t, taskdomain.NDADomain())
	st := e.InitialState()
	before, err := json.Marshal(st)
	require.NoError(t, err)

	_ = turn(t, e, st, "I need to draft an NDA")

	after, err := json.Marshal(st)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestProcessInput_ResumesFromDecodedState(t *testing.T) {
	e := newEngine(t, taskdomain.NDADomain())
	res := turn(t, e, e.InitialState(), "I need to draft an NDA")

	data, err := json.Marshal(res.State)
	require.NoError(t, err)
	restored, err := infostate.Decode(data)
	require.NoError(t, err)

	live := turn(t, e, res.State, "Acme Corp")
	resumed := turn(t, e, restored, "Acme Corp")
	assert.Equal(t, texts(live), texts(resumed))
	assert.Equal(t, live.State.Shared.Commitments(), resumed.State.Shared.Commitments())
}

func TestProcessInput_ContextCancelled(t *testing.T) {
	e := newEngine(t, taskdomain.NDADomain())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.ProcessInput(ctx, "I need to draft an NDA", "user", e.InitialState())
	assert.ErrorIs(t, err, context.Canceled)
}

type stubNLU struct {
	moves []domain.DialogueMove
	err   error
}

func (s stubNLU) Interpret(context.Context, string, string, *infostate.InformationState) ([]domain.DialogueMove, error) {
	return s.moves, s.err
}

type stubNLG struct {
	text string
	err  error
}

func (s stubNLG) Generate(context.Context, domain.DialogueMove, *infostate.InformationState) (string, error) {
	return s.text, s.err
}

func TestProcessInput_ExternalComponents(t *testing.T) {
	request := domain.DialogueMove{
		Type:     domain.MoveRequest,
		Content:  domain.Text("please"),
		Metadata: map[string]any{domain.MetaTask: "travel_booking"},
	}

	t.Run("interpreter moves are integrated", func(t *testing.T) {
		e := newEngine(t, taskdomain.TravelDomain(), func(c *Config) {
			c.NLU = stubNLU{moves: []domain.DialogueMove{request}}
			c.NLG = stubNLG{text: "canned"}
		})
		res := turn(t, e, e.InitialState(), "anything")
		assert.Equal(t, []string{"canned"}, texts(res))
		assert.Equal(t, "user", res.State.Shared.Moves[0].Speaker)
		require.Len(t, res.State.Private.Plan, 1)
	})

	t.Run("interpreter failure", func(t *testing.T) {
		e := newEngine(t, taskdomain.TravelDomain(), func(c *Config) {
			c.NLU = stubNLU{err: errors.New("model offline")}
		})
		_, err := e.ProcessInput(context.Background(), "hi", "user", e.InitialState())
		assert.ErrorIs(t, err, domain.ErrInterpreter)
		assert.ErrorContains(t, err, "model offline")
	})

	t.Run("generator failure", func(t *testing.T) {
		e := newEngine(t, taskdomain.TravelDomain(), func(c *Config) {
			c.NLU = stubNLU{moves: []domain.DialogueMove{request}}
			c.NLG = stubNLG{err: errors.New("template missing")}
		})
		_, err := e.ProcessInput(context.Background(), "anything", "user", e.InitialState())
		assert.ErrorIs(t, err, domain.ErrGenerator)
	})
}

func TestSelectAction_AgendaFirst(t *testing.T) {
	e := newEngine(t, taskdomain.NDADomain())
	st := e.InitialState()
	queued := domain.DialogueMove{Type: domain.MoveInform, Content: domain.Text("queued"), Speaker: "system"}
	st.Private.Enqueue(queued)

	m, next, err := e.SelectAction(st)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "queued", m.Text())
	assert.Empty(t, next.Private.Agenda)
	assert.Len(t, st.Private.Agenda, 1)

	m, _, err = e.SelectAction(next)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestGenerate_Fallbacks(t *testing.T) {
	e := newEngine(t, taskdomain.NDADomain())
	st := e.InitialState()
	text, err := e.Generate(context.Background(), domain.DialogueMove{Type: domain.MoveQuit, Speaker: "system"}, st)
	require.NoError(t, err)
	assert.Equal(t, "Goodbye!", text)

	text, err = e.Generate(context.Background(), domain.DialogueMove{Type: domain.MoveInform, Content: domain.Text("Done."), Speaker: "system"}, st)
	require.NoError(t, err)
	assert.Equal(t, "Done.", text)
}
