// Package rules implements information-state update rules and the rule set
// that applies them phase by phase.
package rules

import (
	"fmt"

	"github.com/ibdm-lab/isu-engine/internal/domain"
	"github.com/ibdm-lab/isu-engine/internal/infostate"
)

// Phase tags the engine phase a rule belongs to.
type Phase string

const (
	PhaseInterpretation Phase = "interpretation"
	PhaseIntegration    Phase = "integration"
	PhaseSelection      Phase = "selection"
	PhaseGeneration     Phase = "generation"
)

var validPhases = map[Phase]bool{
	PhaseInterpretation: true,
	PhaseIntegration:    true,
	PhaseSelection:      true,
	PhaseGeneration:     true,
}

// IsValidPhase reports whether p names one of the four engine phases.
func IsValidPhase(p Phase) bool {
	return validPhases[p]
}

// UpdateRule is a condition/effect pair. Precondition must not modify the
// state. Effect receives a private clone and edits it in place; the caller's
// state is never touched.
type UpdateRule struct {
	Name     string
	Phase    Phase
	Priority int
	// Writes declares the state regions Effect may change.
	Writes       infostate.Region
	Precondition func(st *infostate.InformationState) bool
	Effect       func(st *infostate.InformationState) error
}

// Applies reports whether the rule's precondition holds. A rule with no
// precondition always applies.
func (r UpdateRule) Applies(st *infostate.InformationState) bool {
	if r.Precondition == nil {
		return true
	}
	return r.Precondition(st)
}

// Apply runs the effect on a clone of st and returns the clone.
func (r UpdateRule) Apply(st *infostate.InformationState) (*infostate.InformationState, error) {
	next := st.Clone()
	if err := r.Effect(next); err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.Name, err)
	}
	return next, nil
}

func (r UpdateRule) validate() error {
	switch {
	case r.Name == "":
		return domain.NewEngineError(domain.ErrInvalidRule.Code, "rule name must be non-empty")
	case !IsValidPhase(r.Phase):
		return domain.NewEngineError(domain.ErrUnknownPhase.Code,
			fmt.Sprintf("%s: %q (rule %s)", domain.ErrUnknownPhase.Message, r.Phase, r.Name))
	case r.Effect == nil:
		return domain.NewEngineError(domain.ErrInvalidRule.Code,
			fmt.Sprintf("rule %s has no effect", r.Name))
	}
	return nil
}
