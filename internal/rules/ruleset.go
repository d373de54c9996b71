package rules

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ibdm-lab/isu-engine/internal/domain"
	"github.com/ibdm-lab/isu-engine/internal/infostate"
)

// RuleSet holds rules bucketed by phase. Each bucket is kept sorted by
// descending priority; equal priorities keep insertion order.
type RuleSet struct {
	rules  map[Phase][]UpdateRule
	logger *zap.Logger
	// Strict makes the set diff every rule application against the rule's
	// declared write regions and warn on undeclared writes.
	Strict bool
}

// NewRuleSet creates an empty rule set. A nil logger discards output.
func NewRuleSet(logger *zap.Logger) *RuleSet {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleSet{
		rules:  make(map[Phase][]UpdateRule),
		logger: logger,
	}
}

// Add validates r and inserts it into its phase bucket.
func (rs *RuleSet) Add(r UpdateRule) error {
	if err := r.validate(); err != nil {
		return err
	}
	for _, existing := range rs.rules[r.Phase] {
		if existing.Name == r.Name {
			return domain.NewEngineError(domain.ErrInvalidRule.Code,
				fmt.Sprintf("duplicate rule %s in phase %s", r.Name, r.Phase))
		}
	}
	bucket := append(rs.rules[r.Phase], r)
	sort.SliceStable(bucket, func(i, j int) bool {
		return bucket[i].Priority > bucket[j].Priority
	})
	rs.rules[r.Phase] = bucket
	return nil
}

// AddAll adds every rule, stopping at the first invalid one.
func (rs *RuleSet) AddAll(rules []UpdateRule) error {
	for _, r := range rules {
		if err := rs.Add(r); err != nil {
			return err
		}
	}
	return nil
}

// WithStrict returns a copy of the set with write auditing on. The copy
// shares the registered rules; rs itself is left as it was.
func (rs *RuleSet) WithStrict() *RuleSet {
	cp := *rs
	cp.Strict = true
	return &cp
}

// Rules returns the phase's rules in application order.
func (rs *RuleSet) Rules(phase Phase) []UpdateRule {
	return append([]UpdateRule(nil), rs.rules[phase]...)
}

// Len returns the number of rules in the phase.
func (rs *RuleSet) Len(phase Phase) int {
	return len(rs.rules[phase])
}

// ApplyRules folds every matching rule of the phase over st in priority
// order. Each rule sees the state produced by the rules before it. The
// first effect error stops the fold and is returned unchanged.
func (rs *RuleSet) ApplyRules(phase Phase, st *infostate.InformationState) (*infostate.InformationState, error) {
	if !IsValidPhase(phase) {
		return nil, domain.NewEngineError(domain.ErrUnknownPhase.Code,
			fmt.Sprintf("%s: %q", domain.ErrUnknownPhase.Message, phase))
	}
	cur := st.Clone()
	for _, r := range rs.rules[phase] {
		if !r.Applies(cur) {
			continue
		}
		next, err := rs.fire(r, cur)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// ApplyFirstMatching applies only the highest-priority rule whose
// precondition holds. It reports whether any rule fired.
func (rs *RuleSet) ApplyFirstMatching(phase Phase, st *infostate.InformationState) (*infostate.InformationState, bool, error) {
	if !IsValidPhase(phase) {
		return nil, false, domain.NewEngineError(domain.ErrUnknownPhase.Code,
			fmt.Sprintf("%s: %q", domain.ErrUnknownPhase.Message, phase))
	}
	for _, r := range rs.rules[phase] {
		if !r.Applies(st) {
			continue
		}
		next, err := rs.fire(r, st)
		if err != nil {
			return nil, false, err
		}
		return next, true, nil
	}
	return st.Clone(), false, nil
}

func (rs *RuleSet) fire(r UpdateRule, st *infostate.InformationState) (*infostate.InformationState, error) {
	next, err := r.Apply(st)
	if err != nil {
		return nil, err
	}
	next.Context.Trace = append(next.Context.Trace, infostate.FiredRule{Phase: string(r.Phase), Rule: r.Name})
	rs.logger.Debug("rule fired",
		zap.String("phase", string(r.Phase)),
		zap.String("rule", r.Name),
		zap.Int("priority", r.Priority),
	)
	if rs.Strict {
		if extra := infostate.Changed(st, next) &^ r.Writes; extra != infostate.RegionNone {
			rs.logger.Warn("rule wrote undeclared state regions",
				zap.String("rule", r.Name),
				zap.Stringer("declared", r.Writes),
				zap.Stringer("undeclared", extra),
			)
		}
	}
	return next, nil
}
