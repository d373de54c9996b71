package rules

import (
	"regexp"
	"strings"

	"github.com/ibdm-lab/isu-engine/internal/domain"
	"github.com/ibdm-lab/isu-engine/internal/infostate"
)

var (
	greetPattern    = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|greetings|good (morning|afternoon|evening))\b`)
	quitPattern     = regexp.MustCompile(`(?i)^\s*(bye|goodbye|quit|exit|see you|that's all|i'm done)\b`)
	pardonPattern   = regexp.MustCompile(`(?i)^\s*(pardon|what\?|sorry\?|come again|huh)`)
	rephrasePattern = regexp.MustCompile(`(?i)^\s*(i don't understand|what do you mean|i don't follow)`)
)

// InterpretationRules map Context.Utterance to moves in Context.Interpreted.
// They are a pattern-based stand-in for an external NLU component; most fire
// only when nothing has been interpreted yet.
func (l *Library) InterpretationRules() []UpdateRule {
	interp := func(name string, priority int, pre func(*infostate.InformationState) bool, build func(*infostate.InformationState) domain.DialogueMove) UpdateRule {
		return UpdateRule{
			Name:     name,
			Phase:    PhaseInterpretation,
			Priority: priority,
			Writes:   infostate.RegionNone,
			Precondition: func(st *infostate.InformationState) bool {
				return strings.TrimSpace(st.Context.Utterance) != "" && pre(st)
			},
			Effect: func(st *infostate.InformationState) error {
				st.Context.Interpreted = append(st.Context.Interpreted, build(st))
				return nil
			},
		}
	}
	nothingYet := func(st *infostate.InformationState) bool { return len(st.Context.Interpreted) == 0 }
	onlyGreeted := func(st *infostate.InformationState) bool {
		for _, m := range st.Context.Interpreted {
			if m.Type != domain.MoveGreet {
				return false
			}
		}
		return true
	}
	userMove := func(st *infostate.InformationState, mt domain.MoveType, content domain.MoveContent) domain.DialogueMove {
		return domain.DialogueMove{Type: mt, Content: content, Speaker: st.Context.Speaker}
	}

	return []UpdateRule{
		interp("interpret_greet", 90,
			func(st *infostate.InformationState) bool { return nothingYet(st) && greetPattern.MatchString(st.Context.Utterance) },
			func(st *infostate.InformationState) domain.DialogueMove {
				return userMove(st, domain.MoveGreet, domain.Text(st.Context.Utterance))
			}),
		interp("interpret_quit", 85,
			func(st *infostate.InformationState) bool { return nothingYet(st) && quitPattern.MatchString(st.Context.Utterance) },
			func(st *infostate.InformationState) domain.DialogueMove {
				return userMove(st, domain.MoveQuit, domain.Text(st.Context.Utterance))
			}),
		interp("interpret_perception_failure", 80,
			func(st *infostate.InformationState) bool {
				return nothingYet(st) && pardonPattern.MatchString(st.Context.Utterance) && lastAgentMove(st) >= 0
			},
			func(st *infostate.InformationState) domain.DialogueMove {
				m := userMove(st, domain.MoveICM, domain.Text(st.Context.Utterance))
				m.FeedbackLevel = domain.LevelPerception
				m.Polarity = domain.PolarityNegative
				m.TargetMoveIndex = domain.IntPtr(lastAgentMove(st))
				return m
			}),
		interp("interpret_understanding_failure", 79,
			func(st *infostate.InformationState) bool {
				return nothingYet(st) && rephrasePattern.MatchString(st.Context.Utterance) && lastAgentMove(st) >= 0
			},
			func(st *infostate.InformationState) domain.DialogueMove {
				m := userMove(st, domain.MoveICM, domain.Text(st.Context.Utterance))
				m.FeedbackLevel = domain.LevelUnderstanding
				m.Polarity = domain.PolarityNegative
				m.TargetMoveIndex = domain.IntPtr(lastAgentMove(st))
				return m
			}),
		interp("interpret_yes_no", 70,
			func(st *infostate.InformationState) bool {
				if !nothingYet(st) {
					return false
				}
				if _, ok := st.Shared.TopQUD().(domain.YNQuestion); !ok {
					return false
				}
				_, ok := domain.NormalizeYesNo(st.Context.Utterance)
				return ok
			},
			func(st *infostate.InformationState) domain.DialogueMove {
				yn, _ := domain.NormalizeYesNo(st.Context.Utterance)
				return userMove(st, domain.MoveAnswer, domain.NewAnswer(yn, st.Shared.TopQUD()))
			}),
		interp("interpret_task_request", 60,
			func(st *infostate.InformationState) bool {
				if !onlyGreeted(st) || st.Shared.QUDLen() > 0 {
					return false
				}
				task, ok := l.Domain.TaskFor(st.Context.Utterance)
				return ok && !taskActive(st, task)
			},
			func(st *infostate.InformationState) domain.DialogueMove {
				task, _ := l.Domain.TaskFor(st.Context.Utterance)
				m := userMove(st, domain.MoveRequest, domain.Text(st.Context.Utterance))
				m.Metadata = map[string]any{domain.MetaTask: task}
				return m
			}),
		interp("interpret_question", 50,
			func(st *infostate.InformationState) bool {
				if !nothingYet(st) || !strings.HasSuffix(strings.TrimSpace(st.Context.Utterance), "?") {
					return false
				}
				_, ok := l.questionFor(st.Context.Utterance)
				return ok
			},
			func(st *infostate.InformationState) domain.DialogueMove {
				q, _ := l.questionFor(st.Context.Utterance)
				return userMove(st, domain.MoveAsk, q)
			}),
		interp("interpret_answer", 40,
			func(st *infostate.InformationState) bool {
				if !nothingYet(st) {
					return false
				}
				return st.Shared.QUDLen() > 0 || len(l.Domain.PredicatesForValue(st.Context.Utterance)) > 0
			},
			func(st *infostate.InformationState) domain.DialogueMove {
				return userMove(st, domain.MoveAnswer, domain.NewAnswer(strings.TrimSpace(st.Context.Utterance), nil))
			}),
		interp("interpret_inform", 10,
			nothingYet,
			func(st *infostate.InformationState) domain.DialogueMove {
				return userMove(st, domain.MoveInform, domain.Text(st.Context.Utterance))
			}),
	}
}

func taskActive(st *infostate.InformationState, task string) bool {
	for _, p := range st.Private.Plan {
		if string(p.Type) == task && p.Status == domain.PlanActive {
			return true
		}
	}
	return false
}

func lastAgentMove(st *infostate.InformationState) int {
	return st.Shared.LastMoveBy(st.IsAgent)
}

// questionFor maps a user question to the canonical question of the domain
// predicate it mentions.
func (l *Library) questionFor(utterance string) (domain.Question, bool) {
	lower := " " + strings.ToLower(strings.TrimRight(strings.TrimSpace(utterance), "?")) + " "
	best := ""
	for _, pred := range l.Domain.Predicates() {
		phrase := " " + strings.ReplaceAll(pred, "_", " ")
		if strings.Contains(lower, phrase) && len(pred) > len(best) {
			best = pred
		}
	}
	if best == "" {
		return nil, false
	}
	return l.Domain.Question(best)
}
