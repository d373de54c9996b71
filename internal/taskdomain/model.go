// Package taskdomain provides the domain model the update rules consult:
// predicates and sorts for answer checking, plan builders for tasks, and
// dependencies between predicates.
package taskdomain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ibdm-lab/isu-engine/internal/domain"
)

// PredicateSpec describes a semantic predicate.
type PredicateSpec struct {
	Name        string
	Arity       int
	ArgTypes    []string
	Description string
}

// PlanBuilder builds the plan for a task from caller-supplied context.
type PlanBuilder func(ctx map[string]any) (*domain.Plan, error)

// Model is a dialogue domain. It is built once, then only read, so a single
// Model can serve any number of sessions.
type Model struct {
	Name string

	predicates   map[string]PredicateSpec
	sorts        map[string][]string
	questions    map[string]domain.Question
	builders     map[string]PlanBuilder
	triggers     map[string][]string
	taskOrder    []string
	dependencies map[string][]string
}

// NewModel creates an empty domain model.
func NewModel(name string) *Model {
	return &Model{
		Name:         name,
		predicates:   make(map[string]PredicateSpec),
		sorts:        make(map[string][]string),
		questions:    make(map[string]domain.Question),
		builders:     make(map[string]PlanBuilder),
		triggers:     make(map[string][]string),
		dependencies: make(map[string][]string),
	}
}

// AddPredicate registers a predicate.
func (m *Model) AddPredicate(spec PredicateSpec) {
	m.predicates[spec.Name] = spec
}

// Predicate looks up a predicate by name.
func (m *Model) Predicate(name string) (PredicateSpec, bool) {
	spec, ok := m.predicates[name]
	return spec, ok
}

// Predicates lists predicate names in sorted order.
func (m *Model) Predicates() []string {
	return sortedKeys(m.predicates)
}

// AddSort registers the individuals of a sort.
func (m *Model) AddSort(name string, individuals ...string) {
	m.sorts[name] = append(m.sorts[name], individuals...)
}

// Sort returns the individuals of a sort.
func (m *Model) Sort(name string) ([]string, bool) {
	s, ok := m.sorts[name]
	return s, ok
}

// AddQuestion registers the canonical question for its predicate. Plan
// builders and re-raising rules use it so re-raised questions equal the
// originally planned ones.
func (m *Model) AddQuestion(q domain.Question) {
	m.questions[q.Predicate()] = q
}

// Question returns the canonical question for a predicate.
func (m *Model) Question(pred string) (domain.Question, bool) {
	q, ok := m.questions[pred]
	return q, ok
}

// RegisterPlanBuilder binds a task name to a builder. Trigger phrases let the
// default interpreter recognize requests for the task.
func (m *Model) RegisterPlanBuilder(task string, build PlanBuilder, triggers ...string) {
	if _, exists := m.builders[task]; !exists {
		m.taskOrder = append(m.taskOrder, task)
	}
	m.builders[task] = build
	for _, t := range triggers {
		m.triggers[task] = append(m.triggers[task], strings.ToLower(t))
	}
}

// HasTask reports whether a plan builder is registered for task.
func (m *Model) HasTask(task string) bool {
	_, ok := m.builders[task]
	return ok
}

// Tasks lists registered tasks in registration order.
func (m *Model) Tasks() []string {
	return append([]string(nil), m.taskOrder...)
}

// TaskFor finds the first task whose trigger phrase occurs in the utterance.
func (m *Model) TaskFor(utterance string) (string, bool) {
	lower := " " + strings.ToLower(utterance) + " "
	for _, task := range m.taskOrder {
		for _, trig := range m.triggers[task] {
			if containsWord(lower, trig) {
				return task, true
			}
		}
	}
	return "", false
}

// GetPlan builds the plan for task. A task with no builder is an error:
// continuing would silently skip the whole plan.
func (m *Model) GetPlan(task string, ctx map[string]any) (*domain.Plan, error) {
	build, ok := m.builders[task]
	if !ok {
		return nil, domain.NewEngineError(domain.ErrNoPlanBuilder.Code,
			fmt.Sprintf("%s: %q in domain %q", domain.ErrNoPlanBuilder.Message, task, m.Name))
	}
	plan, err := build(ctx)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrPlanBuilderFailed.Code,
			fmt.Sprintf("%s: %q", domain.ErrPlanBuilderFailed.Message, task), err)
	}
	return plan, nil
}

// AddDependency declares that dependent can only be raised once prerequisite
// is committed, and that revising prerequisite invalidates dependent.
func (m *Model) AddDependency(dependent, prerequisite string) {
	m.dependencies[dependent] = append(m.dependencies[dependent], prerequisite)
}

// Prerequisites returns the direct prerequisites of pred.
func (m *Model) Prerequisites(pred string) []string {
	return append([]string(nil), m.dependencies[pred]...)
}

// Dependents returns every predicate that depends on pred, directly or
// transitively, in sorted order.
func (m *Model) Dependents(pred string) []string {
	seen := make(map[string]bool)
	queue := []string{pred}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for dep, prereqs := range m.dependencies {
			if seen[dep] {
				continue
			}
			for _, p := range prereqs {
				if p == cur {
					seen[dep] = true
					queue = append(queue, dep)
					break
				}
			}
		}
	}
	delete(seen, pred)
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// PrerequisitesMet reports whether every prerequisite of pred is settled,
// meaning committed or reported settled by the callback.
func (m *Model) PrerequisitesMet(pred string, settled func(prereq string) bool) bool {
	for _, p := range m.dependencies[pred] {
		if !settled(p) {
			return false
		}
	}
	return true
}

// Resolves checks that a is a direct answer to q and that its value fits the
// type of the question's predicate.
func (m *Model) Resolves(a domain.Answer, q domain.Question) bool {
	if q == nil || !q.ResolvesWith(a) {
		return false
	}
	spec, ok := m.predicates[q.Predicate()]
	if !ok || len(spec.ArgTypes) == 0 {
		return true
	}
	value, ok := m.ExtractValue(q, a)
	if !ok || strings.TrimSpace(value) == "" {
		return false
	}
	if individuals, isSort := m.sorts[spec.ArgTypes[0]]; isSort {
		_, member := matchIndividual(individuals, value)
		return member
	}
	return true
}

// ExtractValue pulls the semantic value out of an answer to q: the matching
// alternative for an AltQuestion, yes/no for a YNQuestion, the content as
// given for a WhQuestion.
func (m *Model) ExtractValue(q domain.Question, a domain.Answer) (string, bool) {
	switch x := q.(type) {
	case domain.AltQuestion:
		return x.Match(a.Content)
	case domain.YNQuestion:
		return domain.NormalizeYesNo(a.Content)
	case domain.WhQuestion:
		if domain.IsEmptyValue(a.Content) {
			return "", false
		}
		value := strings.TrimSpace(a.Text())
		if spec, ok := m.predicates[x.Pred]; ok && len(spec.ArgTypes) > 0 {
			if individuals, isSort := m.sorts[spec.ArgTypes[0]]; isSort {
				if canon, found := matchIndividual(individuals, value); found {
					return canon, true
				}
			}
		}
		return value, true
	}
	return "", false
}

// CreateProposition builds the clean commitment form "pred(value)".
func (m *Model) CreateProposition(pred, value string) string {
	return domain.Proposition{Predicate: pred, Args: []string{value}}.String()
}

// PropositionFor builds the commitment an answer to q produces. Questions
// without a predicate fall back to "question: answer".
func (m *Model) PropositionFor(q domain.Question, a domain.Answer) string {
	if q.Predicate() == "" {
		return fmt.Sprintf("%s: %s", q.String(), a.Text())
	}
	value, ok := m.ExtractValue(q, a)
	if !ok {
		value = a.Text()
	}
	return m.CreateProposition(q.Predicate(), value)
}

// Incompatible reports whether two propositions assign different values to
// the same predicate.
func (m *Model) Incompatible(p1, p2 string) bool {
	a, ok1 := domain.ParseProposition(p1)
	b, ok2 := domain.ParseProposition(p2)
	if !ok1 || !ok2 {
		return false
	}
	return a.Predicate == b.Predicate && !strings.EqualFold(a.Value(), b.Value())
}

// GetQuestionFromCommitment returns the question a commitment answers.
func (m *Model) GetQuestionFromCommitment(commitment string) (domain.Question, bool) {
	p, ok := domain.ParseProposition(commitment)
	if !ok {
		return nil, false
	}
	if q, ok := m.questions[p.Predicate]; ok {
		return q, true
	}
	if _, ok := m.predicates[p.Predicate]; ok {
		return domain.WhQuestion{Variable: "x", Pred: p.Predicate}, true
	}
	return nil, false
}

// PredicatesForValue lists predicates whose sort contains value. It lets
// rules place a bare answer such as "business" when no question is given.
func (m *Model) PredicatesForValue(value string) []string {
	var out []string
	for name, spec := range m.predicates {
		if len(spec.ArgTypes) == 0 {
			continue
		}
		if individuals, ok := m.sorts[spec.ArgTypes[0]]; ok {
			if _, found := matchIndividual(individuals, value); found {
				out = append(out, name)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Describe renders a question for a user, using the predicate description.
func (m *Model) Describe(q domain.Question) string {
	if q == nil {
		return ""
	}
	if spec, ok := m.predicates[q.Predicate()]; ok && spec.Description != "" {
		desc := spec.Description
		if strings.HasSuffix(desc, "?") {
			return desc
		}
		if alt, ok := q.(domain.AltQuestion); ok {
			return fmt.Sprintf("%s: %s?", desc, joinAlternatives(alt.Alternatives))
		}
		return fmt.Sprintf("What is the %s?", desc)
	}
	switch x := q.(type) {
	case domain.AltQuestion:
		return fmt.Sprintf("Would you like %s?", joinAlternatives(x.Alternatives))
	case domain.YNQuestion:
		return fmt.Sprintf("Is it the case that %s?", x.Proposition)
	case domain.WhQuestion:
		return fmt.Sprintf("What is the %s?", strings.ReplaceAll(x.Pred, "_", " "))
	}
	return q.String()
}

func joinAlternatives(alts []string) string {
	switch len(alts) {
	case 0:
		return ""
	case 1:
		return alts[0]
	}
	return strings.Join(alts[:len(alts)-1], ", ") + " or " + alts[len(alts)-1]
}

func matchIndividual(individuals []string, value string) (string, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, ind := range individuals {
		if strings.ToLower(ind) == v {
			return ind, true
		}
	}
	padded := " " + v + " "
	for _, ind := range individuals {
		if containsWord(padded, strings.ToLower(ind)) {
			return ind, true
		}
	}
	return "", false
}

func containsWord(padded, phrase string) bool {
	if phrase == "" {
		return false
	}
	idx := strings.Index(padded, phrase)
	for idx >= 0 {
		before := byte(' ')
		if idx > 0 {
			before = padded[idx-1]
		}
		end := idx + len(phrase)
		if !isWordByte(before) && (end >= len(padded) || !isWordByte(padded[end])) {
			return true
		}
		next := strings.Index(padded[idx+1:], phrase)
		if next < 0 {
			return false
		}
		idx += next + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}
