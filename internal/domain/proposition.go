package domain

import "strings"

// Proposition is a predicate applied to arguments, written pred(a, b).
type Proposition struct {
	Predicate string
	Args      []string
}

// String renders the proposition in its commitment form.
func (p Proposition) String() string {
	return p.Predicate + "(" + strings.Join(p.Args, ", ") + ")"
}

// ParseProposition reads a "pred(args)" commitment, or the older
// "pred: value" form. Verbose commitments with neither shape report ok=false.
func ParseProposition(s string) (Proposition, bool) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '(')
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return parseKeyValue(s)
	}
	pred := s[:open]
	if strings.ContainsAny(pred, " :?") {
		return Proposition{}, false
	}
	inner := s[open+1 : len(s)-1]
	var args []string
	if strings.TrimSpace(inner) != "" {
		for _, a := range strings.Split(inner, ",") {
			args = append(args, strings.TrimSpace(a))
		}
	}
	return Proposition{Predicate: pred, Args: args}, true
}

// Value returns the argument list as written, so a unary proposition whose
// value contains commas reads back intact.
func (p Proposition) Value() string {
	return strings.Join(p.Args, ", ")
}

func parseKeyValue(s string) (Proposition, bool) {
	pred, value, found := strings.Cut(s, ":")
	pred = strings.TrimSpace(pred)
	value = strings.TrimSpace(value)
	if !found || pred == "" || value == "" || strings.ContainsAny(pred, " ?()") {
		return Proposition{}, false
	}
	return Proposition{Predicate: pred, Args: []string{value}}, true
}
