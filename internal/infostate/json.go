package infostate

import (
	"encoding/json"
	"fmt"

	"github.com/ibdm-lab/isu-engine/internal/domain"
)

type stateWire struct {
	AgentID string      `json:"agent_id"`
	Private privateWire `json:"private"`
	Shared  sharedWire  `json:"shared"`
	Control controlWire `json:"control"`
}

type privateWire struct {
	Plan                []*domain.Plan        `json:"plan"`
	Agenda              []domain.DialogueMove `json:"agenda"`
	Beliefs             map[string]any        `json:"beliefs"`
	LastUtterance       *domain.DialogueMove  `json:"last_utterance"`
	Issues              json.RawMessage       `json:"issues"`
	OverriddenQuestions json.RawMessage       `json:"overridden_questions"`
	Actions             []domain.Action       `json:"actions"`
}

type sharedWire struct {
	QUD         json.RawMessage       `json:"qud"`
	Commitments []string              `json:"commitments"`
	LastMoves   []domain.DialogueMove `json:"last_moves"`
	Moves       []domain.DialogueMove `json:"moves"`
}

type controlWire struct {
	Speaker       string                `json:"speaker"`
	NextSpeaker   string                `json:"next_speaker"`
	Initiative    domain.Initiative     `json:"initiative"`
	DialogueState domain.DialogueStatus `json:"dialogue_state"`
}

// MarshalJSON writes the persisted layout. Commitments are emitted sorted;
// the phase context is not persisted.
func (s *InformationState) MarshalJSON() ([]byte, error) {
	issues, err := marshalQuestions(s.Private.Issues)
	if err != nil {
		return nil, err
	}
	overridden, err := marshalQuestions(s.Private.OverriddenQuestions)
	if err != nil {
		return nil, err
	}
	qud, err := marshalQuestions(s.Shared.qud)
	if err != nil {
		return nil, err
	}
	beliefs := s.Private.Beliefs
	if beliefs == nil {
		beliefs = map[string]any{}
	}
	w := stateWire{
		AgentID: s.AgentID,
		Private: privateWire{
			Plan:                nonNilPlans(s.Private.Plan),
			Agenda:              nonNilMoves(s.Private.Agenda),
			Beliefs:             beliefs,
			LastUtterance:       s.Private.LastUtterance,
			Issues:              issues,
			OverriddenQuestions: overridden,
			Actions:             nonNilActions(s.Private.Actions),
		},
		Shared: sharedWire{
			QUD:         qud,
			Commitments: s.Shared.Commitments(),
			LastMoves:   nonNilMoves(s.Shared.LastMoves),
			Moves:       nonNilMoves(s.Shared.Moves),
		},
		Control: controlWire{
			Speaker:       s.Control.Speaker,
			NextSpeaker:   s.Control.NextSpeaker,
			Initiative:    s.Control.Initiative,
			DialogueState: s.Control.DialogueState,
		},
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads the persisted layout. Unknown question, content or
// value tags fail the whole decode.
func (s *InformationState) UnmarshalJSON(data []byte) error {
	var w stateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return domain.WrapEngineError(domain.ErrMalformedState.Code, domain.ErrMalformedState.Message, err)
	}
	issues, err := domain.DecodeQuestions(w.Private.Issues)
	if err != nil {
		return fmt.Errorf("private.issues: %w", err)
	}
	overridden, err := domain.DecodeQuestions(w.Private.OverriddenQuestions)
	if err != nil {
		return fmt.Errorf("private.overridden_questions: %w", err)
	}
	qud, err := domain.DecodeQuestions(w.Shared.QUD)
	if err != nil {
		return fmt.Errorf("shared.qud: %w", err)
	}

	out := New(w.AgentID)
	out.Private.Plan = w.Private.Plan
	out.Private.Agenda = w.Private.Agenda
	if w.Private.Beliefs != nil {
		out.Private.Beliefs = w.Private.Beliefs
	}
	out.Private.LastUtterance = w.Private.LastUtterance
	out.Private.Issues = issues
	out.Private.OverriddenQuestions = overridden
	out.Private.Actions = w.Private.Actions
	out.Shared.qud = qud
	for _, c := range w.Shared.Commitments {
		out.Shared.AddCommitment(c)
	}
	out.Shared.LastMoves = w.Shared.LastMoves
	out.Shared.Moves = w.Shared.Moves
	out.Control = ControlIS{
		Speaker:       w.Control.Speaker,
		NextSpeaker:   w.Control.NextSpeaker,
		Initiative:    w.Control.Initiative,
		DialogueState: w.Control.DialogueState,
	}
	*s = *out
	return nil
}

// Decode parses a persisted state.
func Decode(data []byte) (*InformationState, error) {
	if !json.Valid(data) {
		return nil, domain.NewEngineError(domain.ErrMalformedState.Code, domain.ErrMalformedState.Message+": invalid JSON")
	}
	s := &InformationState{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

func marshalQuestions(qs []domain.Question) (json.RawMessage, error) {
	if qs == nil {
		qs = []domain.Question{}
	}
	return json.Marshal(qs)
}

func nonNilPlans(ps []*domain.Plan) []*domain.Plan {
	if ps == nil {
		return []*domain.Plan{}
	}
	return ps
}

func nonNilMoves(ms []domain.DialogueMove) []domain.DialogueMove {
	if ms == nil {
		return []domain.DialogueMove{}
	}
	return ms
}

func nonNilActions(as []domain.Action) []domain.Action {
	if as == nil {
		return []domain.Action{}
	}
	return as
}
