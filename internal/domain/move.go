package domain

import (
	"fmt"
	"time"
)

// MoveContent is the sealed sum of what a dialogue move can carry:
// a Question, an Answer, free Text, or structured Data.
type MoveContent interface {
	moveContent()
}

// Text is free-text move content.
type Text string

// Data is structured move content holding JSON-plain values.
type Data map[string]any

func (Text) moveContent() {}
func (Data) moveContent() {}

// Answer is a (possibly partial) answer to a question.
type Answer struct {
	Content     any
	QuestionRef Question
	// Certainty is the interpretation confidence in [0,1].
	Certainty float64
}

func (Answer) moveContent() {}

// NewAnswer returns a fully certain answer.
func NewAnswer(content any, ref Question) Answer {
	return Answer{Content: content, QuestionRef: ref, Certainty: 1.0}
}

func (a Answer) addressedTo(q Question) bool {
	return a.QuestionRef == nil || SameQuestion(a.QuestionRef, q)
}

// Text renders the answer content for display and verbose commitments.
func (a Answer) Text() string {
	switch v := a.Content.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Metadata keys shared between the rule libraries and the engine.
const (
	MetaConfidence         = "confidence"
	MetaGroundingStatus    = "grounding_status"
	MetaNeedsReutterance   = "needs_reutterance"
	MetaNeedsClarification = "needs_clarification"
	MetaCommitment         = "commitment"
	MetaTask               = "task"
	MetaICMType            = "icm_type"
	MetaInvalidValue       = "invalid_value"
	MetaPrompt             = "prompt"
	MetaRephrase           = "rephrase"
	MetaSkip               = "skip"
)

// DialogueMove is a single communicative act.
type DialogueMove struct {
	Type            MoveType
	Content         MoveContent
	Speaker         string
	FeedbackLevel   ActionLevel
	Polarity        Polarity
	TargetMoveIndex *int
	Metadata        map[string]any
	Timestamp       time.Time
}

// IsICM reports whether the move is interactive communication management.
func (m DialogueMove) IsICM() bool {
	return m.Type == MoveICM
}

// Question returns the move's question content, if any.
func (m DialogueMove) Question() (Question, bool) {
	q, ok := m.Content.(Question)
	return q, ok
}

// Answer returns the move's answer content, if any.
func (m DialogueMove) Answer() (Answer, bool) {
	a, ok := m.Content.(Answer)
	return a, ok
}

// Text returns a display rendering of the move content.
func (m DialogueMove) Text() string {
	switch c := m.Content.(type) {
	case nil:
		return ""
	case Text:
		return string(c)
	case Answer:
		return c.Text()
	case Question:
		return c.String()
	case Data:
		return fmt.Sprint(map[string]any(c))
	}
	return ""
}

// Confidence returns the interpretation confidence recorded in metadata.
func (m DialogueMove) Confidence() (float64, bool) {
	switch v := m.Metadata[MetaConfidence].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// MetaString reads a string metadata value.
func (m DialogueMove) MetaString(key string) string {
	s, _ := m.Metadata[key].(string)
	return s
}

// MetaBool reads a boolean metadata value.
func (m DialogueMove) MetaBool(key string) bool {
	b, _ := m.Metadata[key].(bool)
	return b
}

// Clone returns a copy whose metadata, target index and content can be
// modified without affecting m.
func (m DialogueMove) Clone() DialogueMove {
	out := m
	if m.TargetMoveIndex != nil {
		idx := *m.TargetMoveIndex
		out.TargetMoveIndex = &idx
	}
	if m.Metadata != nil {
		out.Metadata = CloneMap(m.Metadata)
	}
	switch c := m.Content.(type) {
	case Answer:
		c.Content = CloneValue(c.Content)
		out.Content = c
	case Data:
		out.Content = Data(CloneMap(c))
	}
	return out
}

// WithMeta returns a clone of m with key set in its metadata.
func (m DialogueMove) WithMeta(key string, value any) DialogueMove {
	out := m.Clone()
	if out.Metadata == nil {
		out.Metadata = make(map[string]any)
	}
	out.Metadata[key] = value
	return out
}

// IntPtr is a convenience for building TargetMoveIndex values.
func IntPtr(i int) *int {
	return &i
}

// CloneValue deep-copies JSON-plain values.
func CloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return CloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = CloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	}
	return v
}

// CloneMap deep-copies a JSON-plain map.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// Action is a task-level action the dialogue has committed to (IBiS4).
type Action struct {
	Name       string
	Parameters map[string]string
	Status     string
}

// Action statuses.
const (
	ActionPending  = "pending"
	ActionExecuted = "executed"
)
