package rules

import (
	"strings"

	"github.com/ibdm-lab/isu-engine/internal/domain"
	"github.com/ibdm-lab/isu-engine/internal/infostate"
)

// skipPhrases are utterances that ask to move past the current question.
var skipPhrases = []string{
	"skip", "skip it", "skip this", "pass", "i don't know", "i dont know",
	"i do not know", "don't know", "dont know", "no idea", "not sure",
	"proceed anyway", "move on", "next question", "doesn't matter",
}

// IsSkipRequest reports whether the move asks to skip the question under
// discussion, either flagged by the interpreter or by its wording.
func IsSkipRequest(m domain.DialogueMove) bool {
	if m.MetaBool(domain.MetaSkip) {
		return true
	}
	text := strings.ToLower(strings.TrimSpace(m.Text()))
	text = strings.TrimRight(text, ".!?")
	if text == "" {
		return false
	}
	padded := " " + text + " "
	for _, p := range skipPhrases {
		if text == p || strings.HasPrefix(padded, " "+p+" ") || strings.HasPrefix(padded, " "+p+",") {
			return true
		}
	}
	return false
}

func skipTarget(st *infostate.InformationState) (domain.Question, bool) {
	m, ok := pendingMove(st)
	if !ok || !fromUser(st, m) || m.IsICM() || !IsSkipRequest(m) {
		return nil, false
	}
	top := st.Shared.TopQUD()
	return top, top != nil
}

func (l *Library) accommodationRules() []UpdateRule {
	return []UpdateRule{
		{
			Name:     "skip_optional_question",
			Phase:    PhaseIntegration,
			Priority: 80,
			Writes:   infostate.RegionQUD | infostate.RegionOverridden | infostate.RegionIssues | infostate.RegionPlan,
			Precondition: func(st *infostate.InformationState) bool {
				q, ok := skipTarget(st)
				return ok && !q.Required()
			},
			Effect: func(st *infostate.InformationState) error {
				q := st.Shared.PopQUD()
				if !st.IsOverridden(q) {
					st.Private.OverriddenQuestions = append(st.Private.OverriddenQuestions, q)
				}
				st.Private.RemoveIssue(q)
				st.MarkSubplan(q, domain.PlanCompleted)
				st.Context.Handled = true
				return nil
			},
		},
		{
			Name:     "reject_required_skip",
			Phase:    PhaseIntegration,
			Priority: 79,
			Writes:   infostate.RegionNone,
			Precondition: func(st *infostate.InformationState) bool {
				q, ok := skipTarget(st)
				return ok && q.Required()
			},
			Effect: func(st *infostate.InformationState) error {
				st.Context.SkipRejected = st.Shared.TopQUD()
				st.Context.Handled = true
				return nil
			},
		},
		{
			Name:         "issue_accommodation",
			Phase:        PhaseIntegration,
			Priority:     70,
			Writes:       infostate.RegionPlan | infostate.RegionIssues,
			Precondition: func(st *infostate.InformationState) bool { _, ok := l.requestedTask(st); return ok },
			Effect:       l.accommodateIssues,
		},
		{
			Name:     "reaccommodate_question",
			Phase:    PhaseIntegration,
			Priority: 60,
			Writes:   infostate.RegionIssues,
			Precondition: func(st *infostate.InformationState) bool {
				_, ok := l.conflict(st)
				return ok
			},
			Effect: func(st *infostate.InformationState) error {
				r, _ := l.conflict(st)
				if !st.Private.HasIssue(r.Question) && !domain.SameTopic(st.Shared.TopQUD(), r.Question) {
					st.Private.Issues = append(st.Private.Issues, r.Question)
				}
				st.Context.Reaccommodation = &r
				return nil
			},
		},
		{
			Name:     "retract_incompatible_commitment",
			Phase:    PhaseIntegration,
			Priority: 59,
			Writes:   infostate.RegionCommitments | infostate.RegionIssues | infostate.RegionQUD | infostate.RegionPlan,
			Precondition: func(st *infostate.InformationState) bool {
				r := st.Context.Reaccommodation
				return r != nil && !r.Retracted
			},
			Effect: func(st *infostate.InformationState) error {
				r := st.Context.Reaccommodation
				st.Shared.RemoveCommitment(r.OldCommitment)
				st.Shared.AddCommitment(r.NewCommitment)
				st.Private.RemoveIssue(r.Question)
				if domain.SameTopic(st.Shared.TopQUD(), r.Question) {
					st.Shared.PopQUD()
				}
				st.MarkSubplan(r.Question, domain.PlanCompleted)
				st.Context.ProducedCommitment = r.NewCommitment
				st.Context.Handled = true
				r.Retracted = true
				return nil
			},
		},
		{
			Name:     "cascade_dependent_retraction",
			Phase:    PhaseIntegration,
			Priority: 58,
			Writes:   infostate.RegionCommitments | infostate.RegionIssues | infostate.RegionPlan,
			Precondition: func(st *infostate.InformationState) bool {
				r := st.Context.Reaccommodation
				return r != nil && r.Retracted && !r.Cascaded
			},
			Effect: l.cascade,
		},
	}
}

// requestedTask returns the task a pending command or request asks for. A
// task named in metadata is returned even without a builder so that GetPlan
// reports the missing builder.
func (l *Library) requestedTask(st *infostate.InformationState) (string, bool) {
	m, ok := pendingMove(st)
	if !ok || (m.Type != domain.MoveCommand && m.Type != domain.MoveRequest) {
		return "", false
	}
	task := m.MetaString(domain.MetaTask)
	if task == "" {
		if data, isData := m.Content.(domain.Data); isData {
			task, _ = data[domain.MetaTask].(string)
		}
	}
	if task == "" {
		task, _ = l.Domain.TaskFor(m.Text())
	}
	if task == "" {
		return "", false
	}
	if taskActive(st, task) {
		return "", false
	}
	return task, true
}

func (l *Library) accommodateIssues(st *infostate.InformationState) error {
	task, _ := l.requestedTask(st)
	m := *st.Context.CurrentMove
	ctx := map[string]any{"speaker": m.Speaker, "utterance": m.Text()}
	plan, err := l.Domain.GetPlan(task, ctx)
	if err != nil {
		return err
	}
	st.Private.Plan = append(st.Private.Plan, plan)
	settled := l.settled(st)
	for _, q := range plan.Findouts() {
		if q.Predicate() != "" && settled(q.Predicate()) {
			if n := plan.FindByQuestion(q); n != nil {
				n.Status = domain.PlanCompleted
			}
			continue
		}
		if st.Private.HasIssue(q) || domain.IndexOfQuestion(st.Shared.QUD(), q) >= 0 {
			continue
		}
		st.Private.Issues = append(st.Private.Issues, q)
	}
	st.Context.ProducedTask = task
	st.Context.Handled = true
	return nil
}

// conflict detects an answer that contradicts an existing commitment for the
// same question.
func (l *Library) conflict(st *infostate.InformationState) (infostate.Reaccommodation, bool) {
	m, ok := pendingMove(st)
	if !ok || m.IsICM() || st.Context.Reaccommodation != nil {
		return infostate.Reaccommodation{}, false
	}
	a, ok := m.Answer()
	if !ok {
		return infostate.Reaccommodation{}, false
	}

	var q domain.Question
	top := st.Shared.TopQUD()
	switch {
	case a.QuestionRef != nil && a.QuestionRef.Predicate() != "":
		q = l.canonical(a.QuestionRef)
	case top != nil:
		if a.QuestionRef == nil && l.Domain.Resolves(a, top) {
			q = top
		}
	default:
		for _, pred := range l.Domain.PredicatesForValue(a.Text()) {
			if _, committed := st.Shared.CommitmentFor(pred); committed {
				if cq, ok := l.Domain.Question(pred); ok {
					q = cq
					break
				}
			}
		}
	}
	if q == nil || q.Predicate() == "" || !l.Domain.Resolves(a, q) {
		return infostate.Reaccommodation{}, false
	}
	old, ok := st.Shared.CommitmentFor(q.Predicate())
	if !ok {
		return infostate.Reaccommodation{}, false
	}
	next := l.Domain.PropositionFor(q, a)
	if !l.Domain.Incompatible(old, next) {
		return infostate.Reaccommodation{}, false
	}
	return infostate.Reaccommodation{Question: q, OldCommitment: old, NewCommitment: next}, true
}

func (l *Library) cascade(st *infostate.InformationState) error {
	r := st.Context.Reaccommodation
	for _, dep := range l.Domain.Dependents(r.Question.Predicate()) {
		c, ok := st.Shared.CommitmentFor(dep)
		if !ok {
			continue
		}
		st.Shared.RemoveCommitment(c)
		q, ok := l.Domain.Question(dep)
		if !ok {
			q = domain.WhQuestion{Variable: "x", Pred: dep}
		}
		if !st.Private.HasIssue(q) {
			st.Private.Issues = append(st.Private.Issues, q)
		}
		st.MarkSubplan(q, domain.PlanActive)
		// Reopening a findout reopens its finished task.
		for _, p := range st.Private.Plan {
			if p.Status == domain.PlanCompleted && p.FindByQuestion(q) != nil {
				p.Status = domain.PlanActive
			}
		}
	}
	r.Cascaded = true
	return nil
}
