package grounding

import "github.com/ibdm-lab/isu-engine/internal/domain"

// Status is the grounding status of a tracked move.
type Status string

const (
	Ungrounded          Status = "ungrounded"
	Perceived           Status = "perceived"
	Understood          Status = "understood"
	Grounded            Status = "grounded"
	PerceptionFailed    Status = "perception_failed"
	UnderstandingFailed Status = "understanding_failed"
)

var rank = map[Status]int{
	Ungrounded: 0,
	Perceived:  1,
	Understood: 2,
	Grounded:   3,
}

// IsFailure reports whether s is one of the failure side branches.
func (s Status) IsFailure() bool {
	return s == PerceptionFailed || s == UnderstandingFailed
}

// StatusOf reads the grounding status from a move's metadata. Moves that were
// never tracked are ungrounded.
func StatusOf(m domain.DialogueMove) Status {
	if s := m.MetaString(domain.MetaGroundingStatus); s != "" {
		return Status(s)
	}
	return Ungrounded
}

// Transition applies ICM evidence at level with polarity to the current
// status. It reports false when the evidence may not change the status:
// positive evidence only moves forward (a failed move may recover), and
// negative evidence only reaches a move that is not yet grounded.
func Transition(cur Status, level domain.ActionLevel, polarity domain.Polarity) (Status, bool) {
	switch polarity {
	case domain.PolarityPositive:
		next, ok := positiveTarget(level)
		if !ok {
			return cur, false
		}
		if cur.IsFailure() || rank[next] > rank[cur] {
			return next, true
		}
		return cur, false

	case domain.PolarityNegative:
		switch level {
		case domain.LevelContact, domain.LevelPerception:
			if cur == Ungrounded || cur == Perceived || cur == PerceptionFailed {
				return PerceptionFailed, true
			}
		case domain.LevelSemantic, domain.LevelUnderstanding:
			if cur == Ungrounded || cur == Perceived || cur == UnderstandingFailed {
				return UnderstandingFailed, true
			}
		}
		return cur, false
	}
	return cur, false
}

func positiveTarget(level domain.ActionLevel) (Status, bool) {
	switch level {
	case domain.LevelContact, domain.LevelPerception:
		return Perceived, true
	case domain.LevelSemantic, domain.LevelUnderstanding:
		return Understood, true
	case domain.LevelAcceptance:
		return Grounded, true
	}
	return "", false
}
