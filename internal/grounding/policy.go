// Package grounding decides how much evidence of mutual understanding a move
// needs and tracks each move's grounding status.
package grounding

import "github.com/ibdm-lab/isu-engine/internal/domain"

// Strategy is the grounding behaviour chosen for a move.
type Strategy string

const (
	// Optimistic assumes the move was understood and gives positive feedback.
	Optimistic Strategy = "optimistic"
	// Cautious asks the user to confirm understanding.
	Cautious Strategy = "cautious"
	// Pessimistic refuses to integrate and asks for a repeat.
	Pessimistic Strategy = "pessimistic"
)

// CautiousFloor is the confidence below which the strategy turns pessimistic.
const CautiousFloor = 0.5

// EvidenceRequirement is the per-move-type grounding policy.
type EvidenceRequirement struct {
	MinConfidence        float64            `yaml:"min_confidence" json:"min_confidence"`
	RequiresConfirmation bool               `yaml:"requires_confirmation" json:"requires_confirmation"`
	MinLevel             domain.ActionLevel `yaml:"min_level" json:"min_level"`
}

// DefaultRequirement applies to move types the policy does not list.
var DefaultRequirement = EvidenceRequirement{MinConfidence: 0.7, MinLevel: domain.LevelUnderstanding}

// Policy maps move types to evidence requirements.
type Policy struct {
	requirements map[domain.MoveType]EvidenceRequirement
	fallback     EvidenceRequirement
}

// DefaultPolicy returns the standard requirement table.
func DefaultPolicy() *Policy {
	return &Policy{
		fallback: DefaultRequirement,
		requirements: map[domain.MoveType]EvidenceRequirement{
			domain.MoveAnswer:  {MinConfidence: 0.7, MinLevel: domain.LevelUnderstanding},
			domain.MoveAsk:     {MinConfidence: 0.6, MinLevel: domain.LevelUnderstanding},
			domain.MoveRequest: {MinConfidence: 0.8, RequiresConfirmation: true, MinLevel: domain.LevelAcceptance},
			domain.MoveCommand: {MinConfidence: 0.8, RequiresConfirmation: true, MinLevel: domain.LevelAcceptance},
			domain.MoveQuit:    {MinConfidence: 0.9, RequiresConfirmation: true, MinLevel: domain.LevelAcceptance},
			domain.MoveGreet:   {MinConfidence: 0.3, MinLevel: domain.LevelPerception},
		},
	}
}

// Set overrides the requirement for a move type.
func (p *Policy) Set(mt domain.MoveType, req EvidenceRequirement) {
	p.requirements[mt] = req
}

// Requirement returns the requirement for mt, or the default.
func (p *Policy) Requirement(mt domain.MoveType) EvidenceRequirement {
	if p == nil {
		return DefaultRequirement
	}
	if req, ok := p.requirements[mt]; ok {
		return req
	}
	return p.fallback
}

// SelectStrategy picks the strategy for a move of type mt interpreted with the
// given confidence.
func (p *Policy) SelectStrategy(mt domain.MoveType, confidence float64) Strategy {
	req := p.Requirement(mt)
	switch {
	case confidence >= req.MinConfidence:
		return Optimistic
	case confidence >= CautiousFloor:
		return Cautious
	default:
		return Pessimistic
	}
}

// RequiresConfirmation reports whether a move must be explicitly confirmed,
// either because its type mandates it or because confidence is too low.
func (p *Policy) RequiresConfirmation(mt domain.MoveType, confidence float64) bool {
	req := p.Requirement(mt)
	return req.RequiresConfirmation || confidence < req.MinConfidence
}
