package session

import (
	"fmt"

	"github.com/ibdm-lab/isu-engine/internal/domain"
)

// validTransitions defines the legal session status transitions.
// Each key is a source status, and the value is the set of valid targets.
var validTransitions = map[domain.DialogueStatus]map[domain.DialogueStatus]bool{
	domain.DialogueActive: {domain.DialoguePaused: true, domain.DialogueEnded: true},
	domain.DialoguePaused: {domain.DialogueActive: true, domain.DialogueEnded: true},
}

// IsValidTransition checks if a status transition is legal.
func IsValidTransition(from, to domain.DialogueStatus) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// ResolveAction maps a control action to its target status.
func ResolveAction(action string) (domain.DialogueStatus, error) {
	switch action {
	case "pause":
		return domain.DialoguePaused, nil
	case "resume":
		return domain.DialogueActive, nil
	case "end":
		return domain.DialogueEnded, nil
	default:
		return "", domain.NewEngineError(
			domain.ErrInvalidTransition.Code,
			fmt.Sprintf("unknown action: %s", action),
		)
	}
}

// checkTurnable rejects turns on sessions that are not active.
func checkTurnable(s *domain.Session) error {
	switch s.Status {
	case domain.DialogueActive:
		return nil
	case domain.DialoguePaused:
		return domain.ErrSessionPaused
	default:
		return domain.ErrSessionEnded
	}
}
