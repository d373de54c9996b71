package domain

import (
	"fmt"
	"strings"
)

// Plan is a node in a task plan tree. A plan owns its subplans exclusively.
// Content is either a Question (findout/raise) or free text.
type Plan struct {
	Type     PlanType
	Question Question
	Text     string
	Status   PlanStatus
	Subplans []*Plan
}

// NewFindout builds an active findout node for q.
func NewFindout(q Question) *Plan {
	return &Plan{Type: PlanFindout, Question: q, Status: PlanActive}
}

// Clone deep-copies the plan tree.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	out := &Plan{Type: p.Type, Question: p.Question, Text: p.Text, Status: p.Status}
	if p.Subplans != nil {
		out.Subplans = make([]*Plan, len(p.Subplans))
		for i, sp := range p.Subplans {
			out.Subplans[i] = sp.Clone()
		}
	}
	return out
}

// Walk visits p and every descendant depth-first until fn returns false.
func (p *Plan) Walk(fn func(*Plan) bool) bool {
	if p == nil {
		return true
	}
	if !fn(p) {
		return false
	}
	for _, sp := range p.Subplans {
		if !sp.Walk(fn) {
			return false
		}
	}
	return true
}

// Findouts returns the questions of every findout node, in plan order.
func (p *Plan) Findouts() []Question {
	var qs []Question
	p.Walk(func(n *Plan) bool {
		if n.Type == PlanFindout && n.Question != nil {
			qs = append(qs, n.Question)
		}
		return true
	})
	return qs
}

// FindByQuestion returns the first node whose question shares q's topic.
func (p *Plan) FindByQuestion(q Question) *Plan {
	var found *Plan
	p.Walk(func(n *Plan) bool {
		if n.Question != nil && SameTopic(n.Question, q) {
			found = n
			return false
		}
		return true
	})
	return found
}

// FindoutsDone reports whether every findout node is completed.
func (p *Plan) FindoutsDone() bool {
	done := true
	p.Walk(func(n *Plan) bool {
		if n.Type == PlanFindout && n.Status != PlanCompleted {
			done = false
			return false
		}
		return true
	})
	return done
}

func (p *Plan) String() string {
	if p == nil {
		return "<nil>"
	}
	content := p.Text
	if p.Question != nil {
		content = p.Question.String()
	}
	if len(p.Subplans) == 0 {
		return fmt.Sprintf("%s(%s)[%s]", p.Type, content, p.Status)
	}
	parts := make([]string, len(p.Subplans))
	for i, sp := range p.Subplans {
		parts[i] = sp.String()
	}
	return fmt.Sprintf("%s(%s)[%s]{%s}", p.Type, content, p.Status, strings.Join(parts, "; "))
}
