package rules

import (
	"fmt"
	"strings"

	"github.com/ibdm-lab/isu-engine/internal/domain"
	"github.com/ibdm-lab/isu-engine/internal/infostate"
)

// GenerationRules render the move in Context.CurrentMove into
// Context.GeneratedText. The first rule to write text wins; later rules in
// the fold leave it alone.
func (l *Library) GenerationRules() []UpdateRule {
	gen := func(name string, priority int, match func(domain.DialogueMove) bool, render func(*infostate.InformationState, domain.DialogueMove) string) UpdateRule {
		return UpdateRule{
			Name:     name,
			Phase:    PhaseGeneration,
			Priority: priority,
			Writes:   infostate.RegionNone,
			Precondition: func(st *infostate.InformationState) bool {
				m, ok := currentMove(st)
				return ok && st.Context.GeneratedText == "" && match(m)
			},
			Effect: func(st *infostate.InformationState) error {
				st.Context.GeneratedText = render(st, *st.Context.CurrentMove)
				return nil
			},
		}
	}
	isICM := func(level domain.ActionLevel, pol domain.Polarity) func(domain.DialogueMove) bool {
		return func(m domain.DialogueMove) bool {
			return m.IsICM() && m.FeedbackLevel == level && m.Polarity == pol && m.MetaString(domain.MetaPrompt) == ""
		}
	}

	return []UpdateRule{
		gen("generate_prompt", 30,
			func(m domain.DialogueMove) bool { return m.MetaString(domain.MetaPrompt) != "" },
			func(_ *infostate.InformationState, m domain.DialogueMove) string { return m.MetaString(domain.MetaPrompt) }),
		gen("generate_rephrased_ask", 20,
			func(m domain.DialogueMove) bool { return m.Type == domain.MoveAsk && m.MetaBool(domain.MetaRephrase) },
			func(_ *infostate.InformationState, m domain.DialogueMove) string {
				q, _ := m.Question()
				return "Let me put it another way. " + l.Domain.Describe(q)
			}),
		gen("generate_ask", 10,
			func(m domain.DialogueMove) bool { _, ok := m.Question(); return m.Type == domain.MoveAsk && ok },
			func(_ *infostate.InformationState, m domain.DialogueMove) string {
				q, _ := m.Question()
				return l.Domain.Describe(q)
			}),
		gen("generate_greet", 10,
			func(m domain.DialogueMove) bool { return m.Type == domain.MoveGreet },
			func(*infostate.InformationState, domain.DialogueMove) string { return "Hello! How can I help you?" }),
		gen("generate_answer", 10,
			func(m domain.DialogueMove) bool {
				a, ok := m.Answer()
				return m.Type == domain.MoveAnswer && ok && a.QuestionRef != nil && a.QuestionRef.Predicate() != ""
			},
			func(_ *infostate.InformationState, m domain.DialogueMove) string {
				a, _ := m.Answer()
				return fmt.Sprintf("The %s is %s.", strings.ReplaceAll(a.QuestionRef.Predicate(), "_", " "), a.Text())
			}),
		gen("generate_icm_perception_negative", 10,
			isICM(domain.LevelPerception, domain.PolarityNegative),
			func(*infostate.InformationState, domain.DialogueMove) string { return "Pardon?" }),
		gen("generate_icm_perception_positive", 10,
			isICM(domain.LevelPerception, domain.PolarityPositive),
			func(*infostate.InformationState, domain.DialogueMove) string { return "I heard you." }),
		gen("generate_icm_understanding_positive", 10,
			isICM(domain.LevelUnderstanding, domain.PolarityPositive),
			func(*infostate.InformationState, domain.DialogueMove) string { return "I understand." }),
		gen("generate_icm_understanding_check", 10,
			isICM(domain.LevelUnderstanding, domain.PolarityInterrogative),
			l.renderUnderstandingCheck),
		gen("generate_icm_acceptance", 10,
			isICM(domain.LevelAcceptance, domain.PolarityPositive),
			func(*infostate.InformationState, domain.DialogueMove) string { return "Okay." }),
	}
}

// renderUnderstandingCheck paraphrases the target move for confirmation.
func (l *Library) renderUnderstandingCheck(st *infostate.InformationState, m domain.DialogueMove) string {
	idx, ok := targetOf(st, m)
	if !ok {
		return fmt.Sprintf("%s, is that correct?", m.Text())
	}
	target := st.Shared.Moves[idx]
	var gist string
	switch {
	case target.Type == domain.MoveQuit:
		gist = "You want to end the conversation"
	case target.MetaString(domain.MetaTask) != "":
		gist = "You want help with " + strings.ReplaceAll(target.MetaString(domain.MetaTask), "_", " ")
	case target.MetaString(domain.MetaCommitment) != "":
		if p, ok := domain.ParseProposition(target.MetaString(domain.MetaCommitment)); ok {
			gist = fmt.Sprintf("The %s is %s", strings.ReplaceAll(p.Predicate, "_", " "), p.Value())
		} else {
			gist = target.MetaString(domain.MetaCommitment)
		}
	default:
		gist = target.Text()
	}
	return gist + ", is that correct?"
}
