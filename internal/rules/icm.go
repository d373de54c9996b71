package rules

import (
	"strconv"

	"github.com/ibdm-lab/isu-engine/internal/domain"
	"github.com/ibdm-lab/isu-engine/internal/grounding"
	"github.com/ibdm-lab/isu-engine/internal/infostate"
)

// icmMatch returns a precondition for a pending ICM move at one of levels with
// polarity that targets a move in the history.
func icmMatch(pol domain.Polarity, levels ...domain.ActionLevel) func(*infostate.InformationState) bool {
	return func(st *infostate.InformationState) bool {
		m, ok := pendingMove(st)
		if !ok || !m.IsICM() || m.Polarity != pol {
			return false
		}
		if _, ok := targetOf(st, m); !ok {
			return false
		}
		for _, lv := range levels {
			if m.FeedbackLevel == lv {
				return true
			}
		}
		return false
	}
}

// advanceTarget applies the current ICM move's evidence to its target.
func advanceTarget(st *infostate.InformationState) (int, bool) {
	m := *st.Context.CurrentMove
	idx, _ := targetOf(st, m)
	st.Context.Handled = true
	next, changed := grounding.Transition(grounding.StatusOf(st.Shared.Moves[idx]), m.FeedbackLevel, m.Polarity)
	if changed {
		setMoveStatus(st, idx, next)
	}
	return idx, changed
}

func (l *Library) icmIntegrationRules() []UpdateRule {
	positive := func(st *infostate.InformationState) error {
		advanceTarget(st)
		return nil
	}
	return []UpdateRule{
		{
			Name:         "icm_perception_positive",
			Phase:        PhaseIntegration,
			Priority:     25,
			Writes:       infostate.RegionMoves,
			Precondition: icmMatch(domain.PolarityPositive, domain.LevelContact, domain.LevelPerception),
			Effect:       positive,
		},
		{
			Name:         "icm_understanding_positive",
			Phase:        PhaseIntegration,
			Priority:     24,
			Writes:       infostate.RegionMoves,
			Precondition: icmMatch(domain.PolarityPositive, domain.LevelSemantic, domain.LevelUnderstanding),
			Effect:       positive,
		},
		{
			Name:         "icm_acceptance_positive",
			Phase:        PhaseIntegration,
			Priority:     23,
			Writes:       infostate.RegionMoves,
			Precondition: icmMatch(domain.PolarityPositive, domain.LevelAcceptance),
			Effect:       positive,
		},
		{
			Name:         "icm_perception_negative",
			Phase:        PhaseIntegration,
			Priority:     22,
			Writes:       infostate.RegionMoves,
			Precondition: icmMatch(domain.PolarityNegative, domain.LevelContact, domain.LevelPerception),
			Effect: func(st *infostate.InformationState) error {
				idx, changed := advanceTarget(st)
				if !changed {
					return nil
				}
				st.Shared.Moves[idx].Metadata[domain.MetaNeedsReutterance] = true
				if st.IsAgent(st.Shared.Moves[idx].Speaker) && fromUser(st, *st.Context.CurrentMove) {
					st.Context.NeedsReutterance = domain.IntPtr(idx)
				}
				return nil
			},
		},
		{
			Name:         "icm_understanding_negative",
			Phase:        PhaseIntegration,
			Priority:     21,
			Writes:       infostate.RegionMoves,
			Precondition: icmMatch(domain.PolarityNegative, domain.LevelSemantic, domain.LevelUnderstanding),
			Effect: func(st *infostate.InformationState) error {
				idx, changed := advanceTarget(st)
				if !changed {
					return nil
				}
				st.Shared.Moves[idx].Metadata[domain.MetaNeedsClarification] = true
				if st.IsAgent(st.Shared.Moves[idx].Speaker) && fromUser(st, *st.Context.CurrentMove) {
					st.Context.NeedsRephrase = domain.IntPtr(idx)
				}
				return nil
			},
		},
		{
			Name:     "icm_understanding_check",
			Phase:    PhaseIntegration,
			Priority: 20,
			Writes:   infostate.RegionQUD | infostate.RegionMoves,
			Precondition: func(st *infostate.InformationState) bool {
				m, ok := pendingMove(st)
				return ok && !fromUser(st, m) &&
					icmMatch(domain.PolarityInterrogative, domain.LevelSemantic, domain.LevelUnderstanding)(st)
			},
			Effect: func(st *infostate.InformationState) error {
				idx, _ := targetOf(st, *st.Context.CurrentMove)
				st.Shared.PushQUD(domain.YNQuestion{
					Proposition: UnderstandingProposition,
					Parameters:  map[string]string{ParamMoveIndex: strconv.Itoa(idx)},
				})
				if next, ok := grounding.Transition(grounding.StatusOf(st.Shared.Moves[idx]), domain.LevelPerception, domain.PolarityPositive); ok {
					setMoveStatus(st, idx, next)
				}
				st.Context.Handled = true
				return nil
			},
		},
		{
			Name:     "track_icm",
			Phase:    PhaseIntegration,
			Priority: 1,
			Writes:   infostate.RegionMoves,
			Precondition: func(st *infostate.InformationState) bool {
				m, ok := currentMove(st)
				return ok && m.IsICM()
			},
			Effect: func(st *infostate.InformationState) error {
				appendHistory(st, st.Context.CurrentMove.Clone())
				return nil
			},
		},
	}
}
