package rules

import (
	"strconv"

	"github.com/ibdm-lab/isu-engine/internal/domain"
	"github.com/ibdm-lab/isu-engine/internal/grounding"
	"github.com/ibdm-lab/isu-engine/internal/infostate"
)

// Proposition and parameter used for the system's understanding checks.
const (
	UnderstandingProposition = "und"
	ParamMoveIndex           = "move_index"
)

func (l *Library) moveIntegrationRules() []UpdateRule {
	return []UpdateRule{
		{
			Name:         "reject_unperceived",
			Phase:        PhaseIntegration,
			Priority:     100,
			Writes:       infostate.RegionNone,
			Precondition: l.unperceived,
			Effect: func(st *infostate.InformationState) error {
				st.Context.Handled = true
				return nil
			},
		},
		{
			Name:         "integrate_understanding_confirmation",
			Phase:        PhaseIntegration,
			Priority:     90,
			Writes:       infostate.RegionQUD | infostate.RegionMoves | infostate.RegionCommitments | infostate.RegionIssues | infostate.RegionPlan | infostate.RegionControl | infostate.RegionAgenda,
			Precondition: l.confirmsUnderstanding,
			Effect:       l.integrateConfirmation,
		},
		{
			Name:         "integrate_answer",
			Phase:        PhaseIntegration,
			Priority:     50,
			Writes:       infostate.RegionQUD | infostate.RegionCommitments | infostate.RegionIssues | infostate.RegionPlan,
			Precondition: answersTopQUD,
			Effect:       l.integrateAnswer,
		},
		{
			Name:     "integrate_volunteered_answer",
			Phase:    PhaseIntegration,
			Priority: 45,
			Writes:   infostate.RegionIssues | infostate.RegionCommitments | infostate.RegionPlan,
			Precondition: func(st *infostate.InformationState) bool {
				_, ok := l.volunteeredIssue(st)
				return ok
			},
			Effect: l.integrateVolunteered,
		},
		{
			Name:     "integrate_user_ask",
			Phase:    PhaseIntegration,
			Priority: 40,
			Writes:   infostate.RegionQUD,
			Precondition: func(st *infostate.InformationState) bool {
				m, ok := pendingMove(st)
				if !ok || m.Type != domain.MoveAsk || !fromUser(st, m) {
					return false
				}
				_, isQ := m.Question()
				return isQ
			},
			Effect: func(st *infostate.InformationState) error {
				q, _ := st.Context.CurrentMove.Question()
				st.Shared.PushQUD(q)
				st.Context.Handled = true
				return nil
			},
		},
		{
			Name:     "integrate_own_ask",
			Phase:    PhaseIntegration,
			Priority: 35,
			Writes:   infostate.RegionQUD,
			Precondition: func(st *infostate.InformationState) bool {
				m, ok := pendingMove(st)
				if !ok || m.Type != domain.MoveAsk || fromUser(st, m) {
					return false
				}
				_, isQ := m.Question()
				return isQ
			},
			Effect: func(st *infostate.InformationState) error {
				q, _ := st.Context.CurrentMove.Question()
				if !domain.SameQuestion(st.Shared.TopQUD(), q) {
					st.Shared.PushQUD(q)
				}
				st.Context.Handled = true
				return nil
			},
		},
		{
			Name:     "integrate_greet",
			Phase:    PhaseIntegration,
			Priority: 30,
			Writes:   infostate.RegionNone,
			Precondition: func(st *infostate.InformationState) bool {
				m, ok := pendingMove(st)
				return ok && m.Type == domain.MoveGreet
			},
			Effect: func(st *infostate.InformationState) error {
				st.Context.Handled = true
				return nil
			},
		},
		{
			Name:     "integrate_quit",
			Phase:    PhaseIntegration,
			Priority: 29,
			Writes:   infostate.RegionControl | infostate.RegionAgenda,
			Precondition: func(st *infostate.InformationState) bool {
				m, ok := pendingMove(st)
				return ok && m.Type == domain.MoveQuit
			},
			Effect: l.integrateQuit,
		},
		{
			Name:     "record_move",
			Phase:    PhaseIntegration,
			Priority: 2,
			Writes:   infostate.RegionMoves,
			Precondition: func(st *infostate.InformationState) bool {
				m, ok := currentMove(st)
				return ok && !m.IsICM()
			},
			Effect: recordMove,
		},
		{
			Name:     "manage_turn",
			Phase:    PhaseIntegration,
			Priority: 0,
			Writes:   infostate.RegionControl,
			Precondition: func(st *infostate.InformationState) bool {
				_, ok := currentMove(st)
				return ok
			},
			Effect: manageTurn,
		},
	}
}

// unperceived holds for a user move whose confidence is too low to act on.
func (l *Library) unperceived(st *infostate.InformationState) bool {
	m, ok := pendingMove(st)
	if !ok || m.IsICM() || !fromUser(st, m) {
		return false
	}
	conf, ok := m.Confidence()
	return ok && l.Policy.SelectStrategy(m.Type, conf) == grounding.Pessimistic
}

// confirmationTarget returns the history index a pending understanding
// check refers to.
func confirmationTarget(st *infostate.InformationState) (int, bool) {
	yn, ok := st.Shared.TopQUD().(domain.YNQuestion)
	if !ok || yn.Proposition != UnderstandingProposition {
		return -1, false
	}
	idx, err := strconv.Atoi(yn.Parameters[ParamMoveIndex])
	if err != nil || idx < 0 || idx >= len(st.Shared.Moves) {
		return -1, false
	}
	return idx, true
}

func (l *Library) confirmsUnderstanding(st *infostate.InformationState) bool {
	m, ok := pendingMove(st)
	if !ok || m.IsICM() || !fromUser(st, m) {
		return false
	}
	a, ok := m.Answer()
	if !ok {
		return false
	}
	if _, ok := confirmationTarget(st); !ok {
		return false
	}
	_, ok = domain.NormalizeYesNo(a.Content)
	return ok
}

func (l *Library) integrateConfirmation(st *infostate.InformationState) error {
	idx, _ := confirmationTarget(st)
	a, _ := st.Context.CurrentMove.Answer()
	yes, _ := domain.NormalizeYesNo(a.Content)
	st.Shared.PopQUD()
	st.Context.Handled = true

	target := st.Shared.Moves[idx]
	if yes == "yes" {
		next, _ := grounding.Transition(grounding.StatusOf(target), domain.LevelAcceptance, domain.PolarityPositive)
		setMoveStatus(st, idx, next)
		if target.Type == domain.MoveQuit {
			st.Control.DialogueState = domain.DialogueEnded
			st.Private.Enqueue(agentMove(st, domain.MoveQuit, nil))
		}
		return nil
	}

	next, _ := grounding.Transition(grounding.StatusOf(target), domain.LevelUnderstanding, domain.PolarityNegative)
	setMoveStatus(st, idx, next)
	if c := target.MetaString(domain.MetaCommitment); c != "" {
		st.Shared.RemoveCommitment(c)
		if q, ok := l.Domain.GetQuestionFromCommitment(c); ok {
			st.Private.RemoveIssue(q)
			st.Private.Issues = append([]domain.Question{q}, st.Private.Issues...)
			st.MarkSubplan(q, domain.PlanActive)
		}
	}
	if task := target.MetaString(domain.MetaTask); task != "" {
		dropTaskPlans(st, domain.PlanType(task))
	}
	return nil
}

func dropTaskPlans(st *infostate.InformationState, typ domain.PlanType) {
	kept := st.Private.Plan[:0:0]
	for _, p := range st.Private.Plan {
		if p.Type != typ {
			kept = append(kept, p)
			continue
		}
		for _, q := range p.Findouts() {
			st.Private.RemoveIssue(q)
		}
	}
	st.Private.Plan = kept
}

// answersTopQUD holds for an answer addressed to the question on top of the
// QUD, or carrying no explicit question reference.
func answersTopQUD(st *infostate.InformationState) bool {
	m, ok := pendingMove(st)
	if !ok || m.IsICM() {
		return false
	}
	a, ok := m.Answer()
	if !ok {
		return false
	}
	top := st.Shared.TopQUD()
	if top == nil {
		return false
	}
	return a.QuestionRef == nil || domain.SameTopic(a.QuestionRef, top)
}

func (l *Library) integrateAnswer(st *infostate.InformationState) error {
	a, _ := st.Context.CurrentMove.Answer()
	top := st.Shared.TopQUD()
	st.Context.Handled = true

	if !l.Domain.Resolves(a, top) {
		st.Context.NeedsClarification = true
		st.Context.InvalidAnswer = domain.CloneValue(a.Content)
		st.Context.ClarificationQuestion = top
		return nil
	}

	st.Shared.PopQUD()
	prop := l.Domain.PropositionFor(top, a)
	if pred := top.Predicate(); pred != "" {
		if old, ok := st.Shared.CommitmentFor(pred); ok && old != prop {
			st.Shared.RemoveCommitment(old)
		}
	}
	st.Shared.AddCommitment(prop)
	st.Private.RemoveIssue(top)
	st.MarkSubplan(top, domain.PlanCompleted)
	st.Context.ClearClarification()
	st.Context.ProducedCommitment = prop
	return nil
}

// volunteeredIssue finds a pending issue the current answer resolves before
// it was asked: by explicit reference, or by the sort its value belongs to.
func (l *Library) volunteeredIssue(st *infostate.InformationState) (domain.Question, bool) {
	m, ok := pendingMove(st)
	if !ok || m.IsICM() {
		return nil, false
	}
	a, ok := m.Answer()
	if !ok || len(st.Private.Issues) == 0 {
		return nil, false
	}
	if a.QuestionRef != nil {
		i := domain.IndexOfQuestion(st.Private.Issues, a.QuestionRef)
		if i < 0 {
			return nil, false
		}
		q := st.Private.Issues[i]
		return q, l.Domain.Resolves(a, q)
	}
	for _, pred := range l.Domain.PredicatesForValue(a.Text()) {
		for _, q := range st.Private.Issues {
			if q.Predicate() == pred && l.Domain.Resolves(a, q) {
				return q, true
			}
		}
	}
	return nil, false
}

func (l *Library) integrateVolunteered(st *infostate.InformationState) error {
	q, _ := l.volunteeredIssue(st)
	a, _ := st.Context.CurrentMove.Answer()
	prop := l.Domain.PropositionFor(q, a)
	st.Private.RemoveIssue(q)
	st.Shared.AddCommitment(prop)
	st.MarkSubplan(q, domain.PlanCompleted)
	st.Context.ProducedCommitment = prop
	st.Context.Handled = true
	return nil
}

func (l *Library) integrateQuit(st *infostate.InformationState) error {
	m := *st.Context.CurrentMove
	st.Context.Handled = true
	if !fromUser(st, m) {
		st.Control.DialogueState = domain.DialogueEnded
		return nil
	}
	if conf, ok := m.Confidence(); ok && l.Policy.RequiresConfirmation(m.Type, conf) {
		// Ended once the understanding check is answered.
		return nil
	}
	st.Control.DialogueState = domain.DialogueEnded
	st.Private.Enqueue(agentMove(st, domain.MoveQuit, nil))
	return nil
}

func recordMove(st *infostate.InformationState) error {
	m := st.Context.CurrentMove.Clone()
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	if _, ok := m.Metadata[domain.MetaGroundingStatus]; !ok {
		m.Metadata[domain.MetaGroundingStatus] = string(grounding.Ungrounded)
	}
	if c := st.Context.ProducedCommitment; c != "" {
		m.Metadata[domain.MetaCommitment] = c
	}
	if t := st.Context.ProducedTask; t != "" {
		m.Metadata[domain.MetaTask] = t
	}
	appendHistory(st, m)
	if fromUser(st, m) {
		last := m.Clone()
		st.Private.LastUtterance = &last
	}
	return nil
}

// appendHistory adds m to the move history. LastMoves restarts whenever the
// speaker changes.
func appendHistory(st *infostate.InformationState, m domain.DialogueMove) {
	st.Shared.Moves = append(st.Shared.Moves, m)
	if n := len(st.Shared.LastMoves); n > 0 && st.Shared.LastMoves[n-1].Speaker != m.Speaker {
		st.Shared.LastMoves = nil
	}
	st.Shared.LastMoves = append(st.Shared.LastMoves, m.Clone())
}

func manageTurn(st *infostate.InformationState) error {
	m := *st.Context.CurrentMove
	st.Control.Speaker = m.Speaker
	if fromUser(st, m) {
		st.Control.NextSpeaker = st.AgentID
		return nil
	}
	switch {
	case m.Type == domain.MoveQuit || st.Control.DialogueState == domain.DialogueEnded:
		st.Control.NextSpeaker = ""
	case m.Type == domain.MoveAsk, m.Type == domain.MoveClarify:
		st.Control.NextSpeaker = st.Context.Speaker
	case m.IsICM() && (m.Polarity == domain.PolarityInterrogative || m.Polarity == domain.PolarityNegative):
		st.Control.NextSpeaker = st.Context.Speaker
	default:
		st.Control.NextSpeaker = st.AgentID
	}
	if st.Control.NextSpeaker == "" && st.Control.DialogueState != domain.DialogueEnded {
		st.Control.NextSpeaker = userSpeaker(st)
	}
	return nil
}

// userSpeaker returns the most recent non-agent speaker.
func userSpeaker(st *infostate.InformationState) string {
	if idx := st.Shared.LastMoveBy(func(s string) bool { return !st.IsAgent(s) }); idx >= 0 {
		return st.Shared.Moves[idx].Speaker
	}
	return "user"
}
