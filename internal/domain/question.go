package domain

import (
	"fmt"
	"sort"
	"strings"
)

// QuestionKind is the closed set of question variants.
type QuestionKind string

const (
	KindWh  QuestionKind = "WhQuestion"
	KindYN  QuestionKind = "YNQuestion"
	KindAlt QuestionKind = "AltQuestion"
)

// Question is the sealed sum of WhQuestion, YNQuestion and AltQuestion.
// Questions are values: they are replaced, never edited, so sharing one
// between states is safe.
type Question interface {
	MoveContent
	Kind() QuestionKind
	// Predicate returns the semantic predicate, or "" when the question has none.
	Predicate() string
	// Required reports whether the question may not be skipped.
	Required() bool
	// ResolvesWith reports whether the answer is a direct, well-formed answer.
	ResolvesWith(a Answer) bool
	String() string
	isQuestion()
}

// WhQuestion asks for the value of a variable under a predicate.
type WhQuestion struct {
	Variable    string
	Pred        string
	Constraints map[string]string
	// Optional is the inverse of the required flag so the zero value is required.
	Optional bool
}

// YNQuestion asks whether a proposition holds.
type YNQuestion struct {
	Proposition string
	Parameters  map[string]string
}

// AltQuestion asks the user to pick one of a fixed list of alternatives.
type AltQuestion struct {
	Alternatives []string
	Pred         string
	Optional     bool
}

func (WhQuestion) isQuestion()  {}
func (YNQuestion) isQuestion()  {}
func (AltQuestion) isQuestion() {}

func (WhQuestion) moveContent()  {}
func (YNQuestion) moveContent()  {}
func (AltQuestion) moveContent() {}

func (WhQuestion) Kind() QuestionKind  { return KindWh }
func (YNQuestion) Kind() QuestionKind  { return KindYN }
func (AltQuestion) Kind() QuestionKind { return KindAlt }

func (q WhQuestion) Predicate() string  { return q.Pred }
func (q YNQuestion) Predicate() string  { return "" }
func (q AltQuestion) Predicate() string { return q.Pred }

func (q WhQuestion) Required() bool  { return !q.Optional }
func (q YNQuestion) Required() bool  { return true }
func (q AltQuestion) Required() bool { return !q.Optional }

// ResolvesWith accepts any non-empty content addressed to this question.
func (q WhQuestion) ResolvesWith(a Answer) bool {
	if !a.addressedTo(q) {
		return false
	}
	return !IsEmptyValue(a.Content)
}

// ResolvesWith accepts booleans and yes/no phrasings.
func (q YNQuestion) ResolvesWith(a Answer) bool {
	if !a.addressedTo(q) {
		return false
	}
	_, ok := NormalizeYesNo(a.Content)
	return ok
}

// ResolvesWith accepts content naming one of the alternatives.
func (q AltQuestion) ResolvesWith(a Answer) bool {
	if !a.addressedTo(q) {
		return false
	}
	_, ok := q.Match(a.Content)
	return ok
}

// Match finds the alternative named in v by case-insensitive substring match.
// When several alternatives match, the longest wins.
func (q AltQuestion) Match(v any) (string, bool) {
	text, ok := v.(string)
	if !ok {
		return "", false
	}
	lower := strings.ToLower(text)
	best := ""
	for _, alt := range q.Alternatives {
		if alt == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(alt)) && len(alt) > len(best) {
			best = alt
		}
	}
	return best, best != ""
}

func (q WhQuestion) String() string {
	v := q.Variable
	if v == "" {
		v = "x"
	}
	if len(q.Constraints) == 0 {
		return fmt.Sprintf("?%s.%s(%s)", v, q.Pred, v)
	}
	return fmt.Sprintf("?%s.%s(%s)[%s]", v, q.Pred, v, formatParams(q.Constraints))
}

func (q YNQuestion) String() string {
	if len(q.Parameters) == 0 {
		return "?" + q.Proposition
	}
	return fmt.Sprintf("?%s[%s]", q.Proposition, formatParams(q.Parameters))
}

func (q AltQuestion) String() string {
	alts := strings.Join(q.Alternatives, "|")
	if q.Pred == "" {
		return fmt.Sprintf("?set(%s)", alts)
	}
	return fmt.Sprintf("?%s(%s)", q.Pred, alts)
}

// SameQuestion reports structural equality between two questions.
func SameQuestion(a, b Question) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case WhQuestion:
		y, ok := b.(WhQuestion)
		return ok && x.Variable == y.Variable && x.Pred == y.Pred &&
			x.Optional == y.Optional && equalParams(x.Constraints, y.Constraints)
	case YNQuestion:
		y, ok := b.(YNQuestion)
		return ok && x.Proposition == y.Proposition && equalParams(x.Parameters, y.Parameters)
	case AltQuestion:
		y, ok := b.(AltQuestion)
		if !ok || x.Pred != y.Pred || x.Optional != y.Optional || len(x.Alternatives) != len(y.Alternatives) {
			return false
		}
		for i := range x.Alternatives {
			if x.Alternatives[i] != y.Alternatives[i] {
				return false
			}
		}
		return true
	}
	return false
}

// SameTopic reports whether two questions concern the same predicate. Questions
// without a predicate fall back to structural equality.
func SameTopic(a, b Question) bool {
	if a == nil || b == nil {
		return false
	}
	if a.Predicate() != "" && a.Predicate() == b.Predicate() {
		return true
	}
	return SameQuestion(a, b)
}

// IndexOfQuestion returns the position of q in qs by topic, or -1.
func IndexOfQuestion(qs []Question, q Question) int {
	for i, x := range qs {
		if SameTopic(x, q) {
			return i
		}
	}
	return -1
}

// NormalizeYesNo maps booleans and common phrasings to "yes" or "no".
func NormalizeYesNo(v any) (string, bool) {
	switch x := v.(type) {
	case bool:
		if x {
			return "yes", true
		}
		return "no", true
	case string:
		s := strings.ToLower(strings.TrimSpace(x))
		words := strings.FieldsFunc(s, func(r rune) bool {
			return r == ' ' || r == ',' || r == '.' || r == '!'
		})
		if len(words) == 0 {
			return "", false
		}
		switch words[0] {
		case "yes", "y", "yeah", "yep", "sure", "correct", "right", "ok", "okay", "affirmative", "true":
			return "yes", true
		case "no", "n", "nope", "nah", "incorrect", "wrong", "negative", "false":
			return "no", true
		}
	}
	return "", false
}

// IsEmptyValue reports whether v carries no usable answer content.
func IsEmptyValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

func formatParams(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + m[k]
	}
	return strings.Join(parts, ",")
}

func equalParams(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
