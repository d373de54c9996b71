package taskdomain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ibdm-lab/isu-engine/internal/domain"
)

// Validate checks the model for dangling references and returns an error
// listing all violations if any are found.
func (m *Model) Validate() error {
	var violations []string

	if m.Name == "" {
		violations = append(violations, "Name must be non-empty")
	}

	for _, name := range sortedKeys(m.predicates) {
		spec := m.predicates[name]
		if spec.Arity < 0 {
			violations = append(violations, fmt.Sprintf("predicate %q has negative arity", name))
		}
		if spec.Arity > 0 && len(spec.ArgTypes) > spec.Arity {
			violations = append(violations, fmt.Sprintf("predicate %q has %d arg types for arity %d", name, len(spec.ArgTypes), spec.Arity))
		}
	}

	for _, pred := range sortedKeys(m.questions) {
		if _, ok := m.predicates[pred]; !ok {
			violations = append(violations, fmt.Sprintf("question for undeclared predicate %q", pred))
		}
	}

	for _, dep := range sortedKeys(m.dependencies) {
		if _, ok := m.predicates[dep]; !ok {
			violations = append(violations, fmt.Sprintf("dependency on undeclared predicate %q", dep))
		}
		for _, pre := range m.dependencies[dep] {
			if _, ok := m.predicates[pre]; !ok {
				violations = append(violations, fmt.Sprintf("predicate %q depends on undeclared %q", dep, pre))
			}
			if pre == dep {
				violations = append(violations, fmt.Sprintf("predicate %q depends on itself", dep))
			}
		}
	}
	for _, dep := range sortedKeys(m.dependencies) {
		for _, d := range m.Dependents(dep) {
			if d == dep {
				violations = append(violations, fmt.Sprintf("dependency cycle through %q", dep))
				break
			}
		}
	}

	for _, task := range m.taskOrder {
		plan, err := m.builders[task](nil)
		if err != nil {
			violations = append(violations, fmt.Sprintf("task %q builder failed: %v", task, err))
			continue
		}
		for _, q := range plan.Findouts() {
			if q.Predicate() == "" {
				continue
			}
			if _, ok := m.predicates[q.Predicate()]; !ok {
				violations = append(violations, fmt.Sprintf("task %q asks about undeclared predicate %q", task, q.Predicate()))
			}
		}
	}

	if len(violations) > 0 {
		msg := strings.Join(violations, "; ")
		return domain.NewEngineError(domain.ErrDomainInvalid.Code, msg)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
