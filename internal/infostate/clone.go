package infostate

import "github.com/ibdm-lab/isu-engine/internal/domain"

// Clone returns a deep, independent copy of s. Questions are shared because
// they are immutable values.
func (s *InformationState) Clone() *InformationState {
	if s == nil {
		return nil
	}
	out := &InformationState{
		AgentID: s.AgentID,
		Control: s.Control,
		Context: s.Context.clone(),
	}

	out.Private.Plan = clonePlans(s.Private.Plan)
	out.Private.Agenda = cloneMoves(s.Private.Agenda)
	out.Private.Beliefs = domain.CloneMap(s.Private.Beliefs)
	if out.Private.Beliefs == nil {
		out.Private.Beliefs = make(map[string]any)
	}
	if s.Private.LastUtterance != nil {
		mv := s.Private.LastUtterance.Clone()
		out.Private.LastUtterance = &mv
	}
	out.Private.Issues = cloneQuestions(s.Private.Issues)
	out.Private.OverriddenQuestions = cloneQuestions(s.Private.OverriddenQuestions)
	if s.Private.Actions != nil {
		out.Private.Actions = make([]domain.Action, len(s.Private.Actions))
		for i, a := range s.Private.Actions {
			out.Private.Actions[i] = cloneAction(a)
		}
	}

	out.Shared.qud = cloneQuestions(s.Shared.qud)
	out.Shared.commitments = make(map[string]struct{}, len(s.Shared.commitments))
	for c := range s.Shared.commitments {
		out.Shared.commitments[c] = struct{}{}
	}
	out.Shared.LastMoves = cloneMoves(s.Shared.LastMoves)
	out.Shared.Moves = cloneMoves(s.Shared.Moves)
	return out
}

func clonePlans(ps []*domain.Plan) []*domain.Plan {
	if ps == nil {
		return nil
	}
	out := make([]*domain.Plan, len(ps), cap(ps))
	for i, p := range ps {
		out[i] = p.Clone()
	}
	return out
}

func cloneMoves(ms []domain.DialogueMove) []domain.DialogueMove {
	if ms == nil {
		return nil
	}
	out := make([]domain.DialogueMove, len(ms), cap(ms))
	for i, m := range ms {
		out[i] = m.Clone()
	}
	return out
}

func cloneQuestions(qs []domain.Question) []domain.Question {
	if qs == nil {
		return nil
	}
	return append(make([]domain.Question, 0, len(qs)), qs...)
}

func cloneAction(a domain.Action) domain.Action {
	out := a
	if a.Parameters != nil {
		out.Parameters = make(map[string]string, len(a.Parameters))
		for k, v := range a.Parameters {
			out.Parameters[k] = v
		}
	}
	return out
}
