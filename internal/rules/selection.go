package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ibdm-lab/isu-engine/internal/domain"
	"github.com/ibdm-lab/isu-engine/internal/grounding"
	"github.com/ibdm-lab/isu-engine/internal/infostate"
)

// SelectionRules returns the rules that choose the system's next move. They
// are meant for ApplyFirstMatching: each enqueues at most one move.
func (l *Library) SelectionRules() []UpdateRule {
	return []UpdateRule{
		{
			Name:         "reutter_move",
			Phase:        PhaseSelection,
			Priority:     40,
			Writes:       infostate.RegionAgenda,
			Precondition: func(st *infostate.InformationState) bool { _, _, ok := reutterTarget(st); return ok },
			Effect: func(st *infostate.InformationState) error {
				idx, rephrase, _ := reutterTarget(st)
				m := st.Shared.Moves[idx].Clone()
				m.Metadata = nil
				if rephrase {
					m = m.WithMeta(domain.MetaRephrase, true)
				}
				st.Private.Enqueue(m)
				st.Context.NeedsReutterance = nil
				st.Context.NeedsRephrase = nil
				return nil
			},
		},
		{
			Name:         "select_icm_perception_negative",
			Phase:        PhaseSelection,
			Priority:     35,
			Writes:       infostate.RegionAgenda,
			Precondition: l.feedbackDue(grounding.Pessimistic),
			Effect: func(st *infostate.InformationState) error {
				idx, _, _ := lastUserMove(st)
				st.Private.Enqueue(agentICM(st, domain.LevelPerception, domain.PolarityNegative, idx, nil))
				return nil
			},
		},
		{
			Name:     "select_clarification",
			Phase:    PhaseSelection,
			Priority: 34,
			Writes:   infostate.RegionAgenda,
			Precondition: func(st *infostate.InformationState) bool {
				return active(st) && st.Context.NeedsClarification && st.Context.ClarificationQuestion != nil
			},
			Effect: l.selectClarification,
		},
		{
			Name:         "select_icm_understanding_check",
			Phase:        PhaseSelection,
			Priority:     33,
			Writes:       infostate.RegionAgenda,
			Precondition: l.feedbackDue(grounding.Cautious),
			Effect: func(st *infostate.InformationState) error {
				idx, m, _ := lastUserMove(st)
				st.Private.Enqueue(agentICM(st, domain.LevelUnderstanding, domain.PolarityInterrogative, idx, m.Content))
				return nil
			},
		},
		{
			Name:         "select_icm_acceptance",
			Phase:        PhaseSelection,
			Priority:     32,
			Writes:       infostate.RegionAgenda,
			Precondition: l.feedbackDue(grounding.Optimistic),
			Effect: func(st *infostate.InformationState) error {
				idx, _, _ := lastUserMove(st)
				st.Private.Enqueue(agentICM(st, domain.LevelAcceptance, domain.PolarityPositive, idx, nil))
				return nil
			},
		},
		{
			Name:     "select_required_reminder",
			Phase:    PhaseSelection,
			Priority: 28,
			Writes:   infostate.RegionAgenda,
			Precondition: func(st *infostate.InformationState) bool {
				return active(st) && st.Context.SkipRejected != nil
			},
			Effect: func(st *infostate.InformationState) error {
				q := st.Context.SkipRejected
				idx, _, _ := lastUserMove(st)
				m := agentICM(st, domain.LevelAcceptance, domain.PolarityNegative, idx, q)
				m.Metadata = map[string]any{
					domain.MetaICMType: "required",
					domain.MetaPrompt:  "This question is required and cannot be skipped. " + l.Domain.Describe(q),
				}
				st.Private.Enqueue(m)
				st.Context.SkipRejected = nil
				return nil
			},
		},
		{
			Name:     "answer_user_question",
			Phase:    PhaseSelection,
			Priority: 25,
			Writes:   infostate.RegionAgenda,
			Precondition: func(st *infostate.InformationState) bool {
				q, ok := userRaisedTop(st)
				if !ok || q.Predicate() == "" {
					return false
				}
				_, committed := st.Shared.CommitmentFor(q.Predicate())
				return committed
			},
			Effect: func(st *infostate.InformationState) error {
				q := st.Shared.TopQUD()
				c, _ := st.Shared.CommitmentFor(q.Predicate())
				p, _ := domain.ParseProposition(c)
				st.Private.Enqueue(agentMove(st, domain.MoveAnswer, domain.NewAnswer(p.Value(), q)))
				return nil
			},
		},
		{
			Name:     "decline_user_question",
			Phase:    PhaseSelection,
			Priority: 24,
			Writes:   infostate.RegionAgenda | infostate.RegionQUD,
			Precondition: func(st *infostate.InformationState) bool {
				_, ok := userRaisedTop(st)
				return ok
			},
			Effect: func(st *infostate.InformationState) error {
				q := st.Shared.PopQUD()
				m := agentMove(st, domain.MoveInform, domain.Text("I don't have that information yet."))
				m.Metadata = map[string]any{domain.MetaICMType: "unknown_answer", "question": q.String()}
				st.Private.Enqueue(m)
				return nil
			},
		},
		{
			Name:     "select_greet",
			Phase:    PhaseSelection,
			Priority: 22,
			Writes:   infostate.RegionAgenda,
			Precondition: func(st *infostate.InformationState) bool {
				if !active(st) || len(st.Shared.LastMoves) == 0 {
					return false
				}
				greeted := false
				for _, m := range st.Shared.LastMoves {
					if st.IsAgent(m.Speaker) {
						return false
					}
					greeted = greeted || m.Type == domain.MoveGreet
				}
				return greeted
			},
			Effect: func(st *infostate.InformationState) error {
				st.Private.Enqueue(agentMove(st, domain.MoveGreet, nil))
				return nil
			},
		},
		{
			Name:     "local_question_accommodation",
			Phase:    PhaseSelection,
			Priority: 20,
			Writes:   infostate.RegionIssues | infostate.RegionQUD | infostate.RegionAgenda,
			Precondition: func(st *infostate.InformationState) bool {
				_, ok := l.nextIssue(st)
				return ok
			},
			Effect: func(st *infostate.InformationState) error {
				i, _ := l.nextIssue(st)
				q := st.Private.Issues[i]
				st.Private.Issues = append(st.Private.Issues[:i:i], st.Private.Issues[i+1:]...)
				st.Shared.PushQUD(q)
				st.Private.Enqueue(agentMove(st, domain.MoveAsk, q))
				return nil
			},
		},
		{
			Name:         "task_completion",
			Phase:        PhaseSelection,
			Priority:     10,
			Writes:       infostate.RegionPlan | infostate.RegionActions | infostate.RegionAgenda,
			Precondition: func(st *infostate.InformationState) bool { return completedPlan(st) != nil },
			Effect:       l.completeTask,
		},
	}
}

func reutterTarget(st *infostate.InformationState) (int, bool, bool) {
	if !active(st) {
		return -1, false, false
	}
	ptr, rephrase := st.Context.NeedsReutterance, false
	if ptr == nil {
		ptr, rephrase = st.Context.NeedsRephrase, true
	}
	if ptr == nil || *ptr < 0 || *ptr >= len(st.Shared.Moves) || !st.IsAgent(st.Shared.Moves[*ptr].Speaker) {
		return -1, false, false
	}
	return *ptr, rephrase, true
}

// feedbackDue holds when the last user move carries a confidence score, has
// received no grounding feedback yet, and the policy picks strategy for it.
// Move types that demand confirmation get an understanding check even when
// confidence is high.
func (l *Library) feedbackDue(strategy grounding.Strategy) func(*infostate.InformationState) bool {
	return func(st *infostate.InformationState) bool {
		if !active(st) {
			return false
		}
		_, m, ok := lastUserMove(st)
		if !ok || grounding.StatusOf(m) != grounding.Ungrounded {
			return false
		}
		conf, ok := m.Confidence()
		if !ok {
			return false
		}
		got := l.Policy.SelectStrategy(m.Type, conf)
		confirm := l.Policy.RequiresConfirmation(m.Type, conf)
		switch strategy {
		case grounding.Pessimistic:
			return got == grounding.Pessimistic
		case grounding.Cautious:
			return got == grounding.Cautious || (got == grounding.Optimistic && confirm)
		default:
			return got == grounding.Optimistic && !confirm
		}
	}
}

func (l *Library) selectClarification(st *infostate.InformationState) error {
	q := st.Context.ClarificationQuestion
	invalid := st.Context.InvalidAnswer
	var prompt string
	if domain.IsEmptyValue(invalid) {
		prompt = "I didn't get an answer. " + l.Domain.Describe(q)
	} else {
		prompt = fmt.Sprintf("Sorry, %q is not a valid answer. %s", fmt.Sprint(invalid), l.Domain.Describe(q))
	}
	if alt, ok := q.(domain.AltQuestion); ok {
		prompt += " Please choose one of: " + strings.Join(alt.Alternatives, ", ") + "."
	}
	idx, _, _ := lastUserMove(st)
	m := agentICM(st, domain.LevelUnderstanding, domain.PolarityNegative, idx, q)
	m.Metadata = map[string]any{
		domain.MetaICMType:      "clarify",
		domain.MetaInvalidValue: domain.CloneValue(invalid),
		domain.MetaPrompt:       prompt,
	}
	st.Private.Enqueue(m)
	st.Context.ClearClarification()
	return nil
}

// userRaisedTop returns the QUD top when the user raised it with an ask.
func userRaisedTop(st *infostate.InformationState) (domain.Question, bool) {
	if !active(st) {
		return nil, false
	}
	top := st.Shared.TopQUD()
	if top == nil {
		return nil, false
	}
	for i := len(st.Shared.Moves) - 1; i >= 0; i-- {
		m := st.Shared.Moves[i]
		if m.Type != domain.MoveAsk {
			continue
		}
		if q, ok := m.Question(); ok && domain.SameQuestion(q, top) {
			return top, !st.IsAgent(m.Speaker)
		}
	}
	return nil, false
}

// nextIssue picks the first pending issue whose prerequisites are settled.
// Raising waits until the QUD is empty so only one question is open at a time.
func (l *Library) nextIssue(st *infostate.InformationState) (int, bool) {
	if !active(st) || st.Shared.QUDLen() > 0 || len(st.Private.Agenda) > 0 {
		return -1, false
	}
	settled := l.settled(st)
	for i, q := range st.Private.Issues {
		if q.Predicate() == "" || l.Domain.PrerequisitesMet(q.Predicate(), settled) {
			return i, true
		}
	}
	return -1, false
}

// completedPlan returns the first active task plan whose findouts are all
// settled while nothing remains open.
func completedPlan(st *infostate.InformationState) *domain.Plan {
	if !active(st) || st.Shared.QUDLen() > 0 || len(st.Private.Issues) > 0 {
		return nil
	}
	for _, p := range st.Private.Plan {
		if p.Status == domain.PlanActive && len(p.Findouts()) > 0 && p.FindoutsDone() {
			return p
		}
	}
	return nil
}

func (l *Library) completeTask(st *infostate.InformationState) error {
	p := completedPlan(st)
	p.Status = domain.PlanCompleted

	params := make(map[string]string)
	for _, q := range p.Findouts() {
		if c, ok := st.Shared.CommitmentFor(q.Predicate()); ok {
			prop, _ := domain.ParseProposition(c)
			params[q.Predicate()] = prop.Value()
		}
	}
	st.Private.Actions = append(st.Private.Actions, domain.Action{
		Name:       string(p.Type),
		Parameters: params,
		Status:     domain.ActionPending,
	})

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %s", strings.ReplaceAll(k, "_", " "), params[k])
	}
	summary := fmt.Sprintf("I have everything I need for %s.", strings.ReplaceAll(string(p.Type), "_", " "))
	if len(parts) > 0 {
		summary += " " + strings.Join(parts, "; ") + "."
	}
	m := agentMove(st, domain.MoveInform, domain.Text(summary))
	m.Metadata = map[string]any{domain.MetaTask: string(p.Type)}
	st.Private.Enqueue(m)
	return nil
}
