package infostate

import (
	"reflect"
	"strings"
)

// Region is a bit set naming parts of the state a rule may write.
type Region uint16

const (
	RegionPlan Region = 1 << iota
	RegionAgenda
	RegionBeliefs
	RegionIssues
	RegionOverridden
	RegionActions
	RegionQUD
	RegionCommitments
	RegionMoves
	RegionControl

	RegionNone Region = 0
	RegionAll  Region = RegionControl<<1 - 1
)

var regionNames = []struct {
	r    Region
	name string
}{
	{RegionPlan, "plan"},
	{RegionAgenda, "agenda"},
	{RegionBeliefs, "beliefs"},
	{RegionIssues, "issues"},
	{RegionOverridden, "overridden"},
	{RegionActions, "actions"},
	{RegionQUD, "qud"},
	{RegionCommitments, "commitments"},
	{RegionMoves, "moves"},
	{RegionControl, "control"},
}

func (r Region) String() string {
	if r == RegionNone {
		return "none"
	}
	var parts []string
	for _, rn := range regionNames {
		if r&rn.r != 0 {
			parts = append(parts, rn.name)
		}
	}
	return strings.Join(parts, "|")
}

// Changed returns the regions that differ between before and after. The
// phase context is scratch and never counts as a change.
func Changed(before, after *InformationState) Region {
	var r Region
	if !same(before.Private.Plan, after.Private.Plan) {
		r |= RegionPlan
	}
	if !same(before.Private.Agenda, after.Private.Agenda) {
		r |= RegionAgenda
	}
	if !same(before.Private.Beliefs, after.Private.Beliefs) {
		r |= RegionBeliefs
	}
	if !same(before.Private.Issues, after.Private.Issues) {
		r |= RegionIssues
	}
	if !same(before.Private.OverriddenQuestions, after.Private.OverriddenQuestions) {
		r |= RegionOverridden
	}
	if !same(before.Private.Actions, after.Private.Actions) {
		r |= RegionActions
	}
	if !same(before.Shared.qud, after.Shared.qud) {
		r |= RegionQUD
	}
	if !same(before.Shared.commitments, after.Shared.commitments) {
		r |= RegionCommitments
	}
	if !same(before.Shared.Moves, after.Shared.Moves) ||
		!same(before.Shared.LastMoves, after.Shared.LastMoves) ||
		!reflect.DeepEqual(before.Private.LastUtterance, after.Private.LastUtterance) {
		r |= RegionMoves
	}
	if before.Control != after.Control {
		r |= RegionControl
	}
	return r
}

// same compares two slices or maps, treating nil and empty as equal.
func same(a, b any) bool {
	if reflect.ValueOf(a).Len() == 0 && reflect.ValueOf(b).Len() == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
