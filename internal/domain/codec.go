package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Wire tags for the type-tagged JSON form of semantic values.
const (
	tagAnswer = "Answer"
	tagMove   = "DialogueMove"
	tagPlan   = "Plan"
	tagAction = "Action"
)

// Content kinds for DialogueMove and Plan content on the wire.
const (
	contentNone     = "none"
	contentQuestion = "question"
	contentAnswer   = "answer"
	contentText     = "text"
	contentData     = "data"
)

type questionWire struct {
	Type         QuestionKind      `json:"type"`
	Variable     string            `json:"variable,omitempty"`
	Predicate    string            `json:"predicate,omitempty"`
	Constraints  map[string]string `json:"constraints,omitempty"`
	Proposition  string            `json:"proposition,omitempty"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	Alternatives []string          `json:"alternatives,omitempty"`
	Required     *bool             `json:"required,omitempty"`
}

func boolPtr(b bool) *bool { return &b }

// MarshalJSON writes the tagged form {"type":"WhQuestion",...}.
func (q WhQuestion) MarshalJSON() ([]byte, error) {
	return json.Marshal(questionWire{
		Type:        KindWh,
		Variable:    q.Variable,
		Predicate:   q.Pred,
		Constraints: q.Constraints,
		Required:    boolPtr(!q.Optional),
	})
}

// MarshalJSON writes the tagged form {"type":"YNQuestion",...}.
func (q YNQuestion) MarshalJSON() ([]byte, error) {
	return json.Marshal(questionWire{
		Type:        KindYN,
		Proposition: q.Proposition,
		Parameters:  q.Parameters,
	})
}

// MarshalJSON writes the tagged form {"type":"AltQuestion",...}.
func (q AltQuestion) MarshalJSON() ([]byte, error) {
	alts := q.Alternatives
	if alts == nil {
		alts = []string{}
	}
	return json.Marshal(questionWire{
		Type:         KindAlt,
		Predicate:    q.Pred,
		Alternatives: alts,
		Required:     boolPtr(!q.Optional),
	})
}

// DecodeQuestion reconstructs a Question from its tagged form. A JSON null
// yields a nil Question; an unknown tag is an error naming the tag.
func DecodeQuestion(raw json.RawMessage) (Question, error) {
	if isNull(raw) {
		return nil, nil
	}
	var w questionWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode question: %w", err)
	}
	required := w.Required == nil || *w.Required
	switch w.Type {
	case KindWh:
		return WhQuestion{
			Variable:    w.Variable,
			Pred:        w.Predicate,
			Constraints: w.Constraints,
			Optional:    !required,
		}, nil
	case KindYN:
		return YNQuestion{Proposition: w.Proposition, Parameters: w.Parameters}, nil
	case KindAlt:
		return AltQuestion{
			Alternatives: w.Alternatives,
			Pred:         w.Predicate,
			Optional:     !required,
		}, nil
	default:
		return nil, NewEngineError(ErrUnknownQuestionType.Code,
			fmt.Sprintf("%s: %q", ErrUnknownQuestionType.Message, w.Type))
	}
}

// DecodeQuestions decodes a JSON array of tagged questions.
func DecodeQuestions(raw json.RawMessage) ([]Question, error) {
	if isNull(raw) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode question list: %w", err)
	}
	out := make([]Question, 0, len(items))
	for i, item := range items {
		q, err := DecodeQuestion(item)
		if err != nil {
			return nil, fmt.Errorf("question %d: %w", i, err)
		}
		out = append(out, q)
	}
	return out, nil
}

type answerWire struct {
	Type        string          `json:"type"`
	Content     any             `json:"content"`
	QuestionRef json.RawMessage `json:"question_ref,omitempty"`
	Certainty   *float64        `json:"certainty,omitempty"`
}

// MarshalJSON writes the tagged form {"type":"Answer",...}.
func (a Answer) MarshalJSON() ([]byte, error) {
	w := answerWire{Type: tagAnswer, Content: a.Content, Certainty: &a.Certainty}
	if a.QuestionRef != nil {
		ref, err := json.Marshal(a.QuestionRef)
		if err != nil {
			return nil, err
		}
		w.QuestionRef = ref
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads the tagged form; a missing certainty defaults to 1.0.
func (a *Answer) UnmarshalJSON(data []byte) error {
	var w answerWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	if w.Type != "" && w.Type != tagAnswer {
		return NewEngineError(ErrUnknownValueType.Code,
			fmt.Sprintf("%s: want %q, got %q", ErrUnknownValueType.Message, tagAnswer, w.Type))
	}
	ref, err := DecodeQuestion(w.QuestionRef)
	if err != nil {
		return err
	}
	a.Content = w.Content
	a.QuestionRef = ref
	a.Certainty = 1.0
	if w.Certainty != nil {
		a.Certainty = *w.Certainty
	}
	return nil
}

type moveWire struct {
	Type            string          `json:"type"`
	MoveType        MoveType        `json:"move_type"`
	ContentKind     string          `json:"content_kind"`
	Content         json.RawMessage `json:"content,omitempty"`
	Speaker         string          `json:"speaker"`
	FeedbackLevel   ActionLevel     `json:"feedback_level,omitempty"`
	Polarity        Polarity        `json:"polarity,omitempty"`
	TargetMoveIndex *int            `json:"target_move_index,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// MarshalJSON writes the tagged form {"type":"DialogueMove",...}.
func (m DialogueMove) MarshalJSON() ([]byte, error) {
	kind, raw, err := encodeContent(m.Content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(moveWire{
		Type:            tagMove,
		MoveType:        m.Type,
		ContentKind:     kind,
		Content:         raw,
		Speaker:         m.Speaker,
		FeedbackLevel:   m.FeedbackLevel,
		Polarity:        m.Polarity,
		TargetMoveIndex: m.TargetMoveIndex,
		Metadata:        m.Metadata,
		Timestamp:       m.Timestamp,
	})
}

// UnmarshalJSON reads the tagged form.
func (m *DialogueMove) UnmarshalJSON(data []byte) error {
	var w moveWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode move: %w", err)
	}
	if w.Type != "" && w.Type != tagMove {
		return NewEngineError(ErrUnknownValueType.Code,
			fmt.Sprintf("%s: want %q, got %q", ErrUnknownValueType.Message, tagMove, w.Type))
	}
	content, err := decodeContent(w.ContentKind, w.Content)
	if err != nil {
		return err
	}
	*m = DialogueMove{
		Type:            w.MoveType,
		Content:         content,
		Speaker:         w.Speaker,
		FeedbackLevel:   w.FeedbackLevel,
		Polarity:        w.Polarity,
		TargetMoveIndex: w.TargetMoveIndex,
		Metadata:        w.Metadata,
		Timestamp:       w.Timestamp,
	}
	return nil
}

func encodeContent(c MoveContent) (string, json.RawMessage, error) {
	var kind string
	switch c.(type) {
	case nil:
		return contentNone, nil, nil
	case Question:
		kind = contentQuestion
	case Answer:
		kind = contentAnswer
	case Text:
		kind = contentText
	case Data:
		kind = contentData
	default:
		return "", nil, NewEngineError(ErrUnknownContentKind.Code,
			fmt.Sprintf("%s: %T", ErrUnknownContentKind.Message, c))
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return "", nil, err
	}
	return kind, raw, nil
}

func decodeContent(kind string, raw json.RawMessage) (MoveContent, error) {
	switch kind {
	case contentNone, "":
		return nil, nil
	case contentQuestion:
		q, err := DecodeQuestion(raw)
		if err != nil {
			return nil, err
		}
		return q, nil
	case contentAnswer:
		var a Answer
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, err
		}
		return a, nil
	case contentText:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode text content: %w", err)
		}
		return Text(s), nil
	case contentData:
		var d map[string]any
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode data content: %w", err)
		}
		return Data(d), nil
	default:
		return nil, NewEngineError(ErrUnknownContentKind.Code,
			fmt.Sprintf("%s: %q", ErrUnknownContentKind.Message, kind))
	}
}

type planWire struct {
	Type        string            `json:"type"`
	PlanType    PlanType          `json:"plan_type"`
	ContentKind string            `json:"content_kind"`
	Content     json.RawMessage   `json:"content,omitempty"`
	Status      PlanStatus        `json:"status"`
	Subplans    []json.RawMessage `json:"subplans,omitempty"`
}

// MarshalJSON writes the tagged form {"type":"Plan",...}.
func (p *Plan) MarshalJSON() ([]byte, error) {
	w := planWire{Type: tagPlan, PlanType: p.Type, Status: p.Status, ContentKind: contentNone}
	var err error
	switch {
	case p.Question != nil:
		w.ContentKind = contentQuestion
		w.Content, err = json.Marshal(p.Question)
	case p.Text != "":
		w.ContentKind = contentText
		w.Content, err = json.Marshal(p.Text)
	}
	if err != nil {
		return nil, err
	}
	for _, sp := range p.Subplans {
		raw, err := json.Marshal(sp)
		if err != nil {
			return nil, err
		}
		w.Subplans = append(w.Subplans, raw)
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads the tagged form, recursing into subplans.
func (p *Plan) UnmarshalJSON(data []byte) error {
	var w planWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode plan: %w", err)
	}
	if w.Type != "" && w.Type != tagPlan {
		return NewEngineError(ErrUnknownValueType.Code,
			fmt.Sprintf("%s: want %q, got %q", ErrUnknownValueType.Message, tagPlan, w.Type))
	}
	*p = Plan{Type: w.PlanType, Status: w.Status}
	switch w.ContentKind {
	case contentNone, "":
	case contentQuestion:
		q, err := DecodeQuestion(w.Content)
		if err != nil {
			return err
		}
		p.Question = q
	case contentText:
		if err := json.Unmarshal(w.Content, &p.Text); err != nil {
			return fmt.Errorf("decode plan text: %w", err)
		}
	default:
		return NewEngineError(ErrUnknownContentKind.Code,
			fmt.Sprintf("%s: %q", ErrUnknownContentKind.Message, w.ContentKind))
	}
	for i, raw := range w.Subplans {
		sp := &Plan{}
		if err := json.Unmarshal(raw, sp); err != nil {
			return fmt.Errorf("subplan %d: %w", i, err)
		}
		p.Subplans = append(p.Subplans, sp)
	}
	return nil
}

type actionWire struct {
	Type       string            `json:"type"`
	Name       string            `json:"name"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Status     string            `json:"status"`
}

// MarshalJSON writes the tagged form {"type":"Action",...}.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(actionWire{Type: tagAction, Name: a.Name, Parameters: a.Parameters, Status: a.Status})
}

// UnmarshalJSON reads the tagged form.
func (a *Action) UnmarshalJSON(data []byte) error {
	var w actionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode action: %w", err)
	}
	if w.Type != "" && w.Type != tagAction {
		return NewEngineError(ErrUnknownValueType.Code,
			fmt.Sprintf("%s: want %q, got %q", ErrUnknownValueType.Message, tagAction, w.Type))
	}
	*a = Action{Name: w.Name, Parameters: w.Parameters, Status: w.Status}
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
