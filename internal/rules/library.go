package rules

import (
	"go.uber.org/zap"

	"github.com/ibdm-lab/isu-engine/internal/domain"
	"github.com/ibdm-lab/isu-engine/internal/grounding"
	"github.com/ibdm-lab/isu-engine/internal/infostate"
	"github.com/ibdm-lab/isu-engine/internal/taskdomain"
)

// Library builds the standard rule libraries over a domain model and a
// grounding policy. Both are injected; rules never look them up globally.
type Library struct {
	Domain *taskdomain.Model
	Policy *grounding.Policy
}

// NewLibrary returns a library for dm. A nil policy uses the defaults.
func NewLibrary(dm *taskdomain.Model, policy *grounding.Policy) *Library {
	if policy == nil {
		policy = grounding.DefaultPolicy()
	}
	return &Library{Domain: dm, Policy: policy}
}

// All returns every rule of every phase.
func (l *Library) All() []UpdateRule {
	var out []UpdateRule
	out = append(out, l.InterpretationRules()...)
	out = append(out, l.IntegrationRules()...)
	out = append(out, l.SelectionRules()...)
	out = append(out, l.GenerationRules()...)
	return out
}

// NewDefaultRuleSet returns a rule set loaded with the full library.
func NewDefaultRuleSet(dm *taskdomain.Model, policy *grounding.Policy, logger *zap.Logger) (*RuleSet, error) {
	rs := NewRuleSet(logger)
	if err := rs.AddAll(NewLibrary(dm, policy).All()); err != nil {
		return nil, err
	}
	return rs, nil
}

// IntegrationRules returns IBiS1 move integration, IBiS3 accommodation and
// IBiS2 ICM integration rules together, since they share one fold.
func (l *Library) IntegrationRules() []UpdateRule {
	var out []UpdateRule
	out = append(out, l.moveIntegrationRules()...)
	out = append(out, l.accommodationRules()...)
	out = append(out, l.icmIntegrationRules()...)
	return out
}

// currentMove returns the move being integrated.
func currentMove(st *infostate.InformationState) (domain.DialogueMove, bool) {
	if st.Context.CurrentMove == nil {
		return domain.DialogueMove{}, false
	}
	return *st.Context.CurrentMove, true
}

// pendingMove returns the move being integrated if no rule has handled its
// content yet.
func pendingMove(st *infostate.InformationState) (domain.DialogueMove, bool) {
	if st.Context.Handled {
		return domain.DialogueMove{}, false
	}
	return currentMove(st)
}

func fromUser(st *infostate.InformationState, m domain.DialogueMove) bool {
	return !st.IsAgent(m.Speaker)
}

func active(st *infostate.InformationState) bool {
	return st.Control.DialogueState == domain.DialogueActive
}

// lastUserMove returns the latest user move in the history if it is not ICM.
func lastUserMove(st *infostate.InformationState) (int, domain.DialogueMove, bool) {
	idx := st.Shared.LastMoveBy(func(s string) bool { return !st.IsAgent(s) })
	if idx < 0 {
		return -1, domain.DialogueMove{}, false
	}
	m := st.Shared.Moves[idx]
	if m.IsICM() {
		return -1, domain.DialogueMove{}, false
	}
	return idx, m, true
}

// targetOf resolves an ICM move's target index against the move history.
func targetOf(st *infostate.InformationState, m domain.DialogueMove) (int, bool) {
	if m.TargetMoveIndex == nil {
		return -1, false
	}
	idx := *m.TargetMoveIndex
	if idx < 0 || idx >= len(st.Shared.Moves) {
		return -1, false
	}
	return idx, true
}

func setMoveStatus(st *infostate.InformationState, idx int, s grounding.Status) {
	st.Shared.Moves[idx] = st.Shared.Moves[idx].WithMeta(domain.MetaGroundingStatus, string(s))
}

func agentMove(st *infostate.InformationState, mt domain.MoveType, content domain.MoveContent) domain.DialogueMove {
	return domain.DialogueMove{Type: mt, Content: content, Speaker: st.AgentID}
}

func agentICM(st *infostate.InformationState, level domain.ActionLevel, pol domain.Polarity, target int, content domain.MoveContent) domain.DialogueMove {
	m := agentMove(st, domain.MoveICM, content)
	m.FeedbackLevel = level
	m.Polarity = pol
	if target >= 0 {
		m.TargetMoveIndex = domain.IntPtr(target)
	}
	return m
}

// settled reports whether a predicate's question is committed or was skipped.
func (l *Library) settled(st *infostate.InformationState) func(string) bool {
	return func(pred string) bool {
		if _, ok := st.Shared.CommitmentFor(pred); ok {
			return true
		}
		for _, q := range st.Private.OverriddenQuestions {
			if q.Predicate() == pred {
				return true
			}
		}
		return false
	}
}

// canonical returns the domain's canonical question for q's predicate, or q.
func (l *Library) canonical(q domain.Question) domain.Question {
	if q == nil || q.Predicate() == "" {
		return q
	}
	if cq, ok := l.Domain.Question(q.Predicate()); ok {
		return cq
	}
	return q
}
