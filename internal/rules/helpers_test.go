package rules

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ibdm-lab/isu-engine/internal/domain"
	"github.com/ibdm-lab/isu-engine/internal/infostate"
	"github.com/ibdm-lab/isu-engine/internal/taskdomain"
)

const (
	agent = "system"
	user  = "user"
)

func newRules(t *testing.T, dm *taskdomain.Model) (*Library, *RuleSet) {
	t.Helper()
	rs, err := NewDefaultRuleSet(dm, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return NewLibrary(dm, nil), rs
}

func newNDA(t *testing.T) (*Library, *RuleSet)    { return newRules(t, taskdomain.NDADomain()) }
func newTravel(t *testing.T) (*Library, *RuleSet) { return newRules(t, taskdomain.TravelDomain()) }

// integrate runs the integration fold for m the way the engine does.
func integrate(t *testing.T, rs *RuleSet, st *infostate.InformationState, m domain.DialogueMove) *infostate.InformationState {
	t.Helper()
	next := st.Clone()
	next.Context.BeginMove(m)
	out, err := rs.ApplyRules(PhaseIntegration, next)
	require.NoError(t, err)
	out.Context.EndMove()
	return out
}

// selectMove runs selection and pops the chosen move off the agenda.
func selectMove(t *testing.T, rs *RuleSet, st *infostate.InformationState) (*infostate.InformationState, *domain.DialogueMove) {
	t.Helper()
	out, fired, err := rs.ApplyFirstMatching(PhaseSelection, st)
	require.NoError(t, err)
	if !fired {
		return out, nil
	}
	m, ok := out.Private.Dequeue()
	if !ok {
		return out, nil
	}
	return out, &m
}

func interpret(t *testing.T, rs *RuleSet, st *infostate.InformationState, utterance string) []domain.DialogueMove {
	t.Helper()
	next := st.Clone()
	next.Context.Utterance = utterance
	next.Context.Speaker = user
	out, err := rs.ApplyRules(PhaseInterpretation, next)
	require.NoError(t, err)
	return out.Context.Interpreted
}

func generate(t *testing.T, rs *RuleSet, st *infostate.InformationState, m domain.DialogueMove) string {
	t.Helper()
	next := st.Clone()
	next.Context.BeginMove(m)
	out, err := rs.ApplyRules(PhaseGeneration, next)
	require.NoError(t, err)
	return out.Context.GeneratedText
}

func userRequest(text string) domain.DialogueMove {
	return domain.DialogueMove{Type: domain.MoveRequest, Content: domain.Text(text), Speaker: user}
}

func userAnswer(content any) domain.DialogueMove {
	return domain.DialogueMove{Type: domain.MoveAnswer, Content: domain.NewAnswer(content, nil), Speaker: user}
}

func userAnswerTo(content any, q domain.Question) domain.DialogueMove {
	return domain.DialogueMove{Type: domain.MoveAnswer, Content: domain.NewAnswer(content, q), Speaker: user}
}

func question(t *testing.T, l *Library, pred string) domain.Question {
	t.Helper()
	q, ok := l.Domain.Question(pred)
	require.True(t, ok, "no question for %s", pred)
	return q
}

func ruleNames(trace []infostate.FiredRule) []string {
	out := make([]string, len(trace))
	for i, f := range trace {
		out[i] = f.Rule
	}
	return out
}
