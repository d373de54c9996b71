// Package infostate holds the Information State: the private, shared and
// control records the update rules read and write.
package infostate

import (
	"sort"

	"github.com/ibdm-lab/isu-engine/internal/domain"
)

// PrivateIS is the part of the state only the agent has access to.
type PrivateIS struct {
	// Plan is the plan stack; index 0 is the current focus.
	Plan []*domain.Plan
	// Agenda is a FIFO queue of moves ready to be uttered.
	Agenda        []domain.DialogueMove
	Beliefs       map[string]any
	LastUtterance *domain.DialogueMove
	// Issues holds accommodated questions not yet raised on the QUD.
	Issues              []domain.Question
	OverriddenQuestions []domain.Question
	Actions             []domain.Action
}

// SharedIS is the part of the state both participants believe in.
type SharedIS struct {
	// qud is a LIFO stack: the last element is the top. Access it only through
	// the stack methods.
	qud         []domain.Question
	commitments map[string]struct{}
	// LastMoves are the moves since the last change of speaker.
	LastMoves []domain.DialogueMove
	// Moves is the full move history; ICM target indices point into it.
	Moves []domain.DialogueMove
}

// ControlIS records turn-taking and dialogue status.
type ControlIS struct {
	Speaker       string
	NextSpeaker   string
	Initiative    domain.Initiative
	DialogueState domain.DialogueStatus
}

// InformationState is the complete dialogue state. It is a value: engine
// operations take one and return another, and Clone gives an independent copy.
type InformationState struct {
	AgentID string
	Private PrivateIS
	Shared  SharedIS
	Control ControlIS
	// Context is transient scratch shared by rules within one turn. It is
	// never persisted.
	Context PhaseContext
}

// New returns the initial state for an agent.
func New(agentID string) *InformationState {
	return &InformationState{
		AgentID: agentID,
		Private: PrivateIS{Beliefs: make(map[string]any)},
		Shared:  SharedIS{commitments: make(map[string]struct{})},
		Control: ControlIS{
			Initiative:    domain.InitiativeMixed,
			DialogueState: domain.DialogueActive,
		},
	}
}

// PushQUD puts q on top of the QUD.
func (s *SharedIS) PushQUD(q domain.Question) {
	s.qud = append(s.qud, q)
}

// PopQUD removes and returns the top question, or nil when the QUD is empty.
func (s *SharedIS) PopQUD() domain.Question {
	if len(s.qud) == 0 {
		return nil
	}
	top := s.qud[len(s.qud)-1]
	s.qud = s.qud[:len(s.qud)-1]
	return top
}

// TopQUD returns the top question without removing it, or nil.
func (s *SharedIS) TopQUD() domain.Question {
	if len(s.qud) == 0 {
		return nil
	}
	return s.qud[len(s.qud)-1]
}

// QUDLen returns the depth of the QUD.
func (s *SharedIS) QUDLen() int {
	return len(s.qud)
}

// QUD returns a bottom-to-top copy of the stack for inspection.
func (s *SharedIS) QUD() []domain.Question {
	return append([]domain.Question(nil), s.qud...)
}

// AddCommitment records a proposition as mutually believed.
func (s *SharedIS) AddCommitment(p string) {
	if s.commitments == nil {
		s.commitments = make(map[string]struct{})
	}
	s.commitments[p] = struct{}{}
}

// RemoveCommitment retracts a proposition. It reports whether it was present.
func (s *SharedIS) RemoveCommitment(p string) bool {
	if _, ok := s.commitments[p]; !ok {
		return false
	}
	delete(s.commitments, p)
	return true
}

// HasCommitment reports whether p is committed.
func (s *SharedIS) HasCommitment(p string) bool {
	_, ok := s.commitments[p]
	return ok
}

// Commitments returns the committed propositions in sorted order.
func (s *SharedIS) Commitments() []string {
	out := make([]string, 0, len(s.commitments))
	for c := range s.commitments {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// CommitmentFor returns the commitment whose predicate is pred.
func (s *SharedIS) CommitmentFor(pred string) (string, bool) {
	for _, c := range s.Commitments() {
		if p, ok := domain.ParseProposition(c); ok && p.Predicate == pred {
			return c, true
		}
	}
	return "", false
}

// LastMoveBy returns the index in Moves of the latest move whose speaker
// satisfies match, or -1.
func (s *SharedIS) LastMoveBy(match func(speaker string) bool) int {
	for i := len(s.Moves) - 1; i >= 0; i-- {
		if match(s.Moves[i].Speaker) {
			return i
		}
	}
	return -1
}

// ActivePlan returns the first plan in the stack that is still active.
func (p *PrivateIS) ActivePlan() *domain.Plan {
	for _, pl := range p.Plan {
		if pl.Status == domain.PlanActive {
			return pl
		}
	}
	return nil
}

// Enqueue appends a move to the agenda.
func (p *PrivateIS) Enqueue(m domain.DialogueMove) {
	p.Agenda = append(p.Agenda, m)
}

// Dequeue pops the head of the agenda.
func (p *PrivateIS) Dequeue() (domain.DialogueMove, bool) {
	if len(p.Agenda) == 0 {
		return domain.DialogueMove{}, false
	}
	head := p.Agenda[0]
	p.Agenda = p.Agenda[1:]
	return head, true
}

// HasIssue reports whether an issue with the same topic as q is pending.
func (p *PrivateIS) HasIssue(q domain.Question) bool {
	return domain.IndexOfQuestion(p.Issues, q) >= 0
}

// RemoveIssue drops the pending issue sharing q's topic, if any.
func (p *PrivateIS) RemoveIssue(q domain.Question) bool {
	i := domain.IndexOfQuestion(p.Issues, q)
	if i < 0 {
		return false
	}
	p.Issues = append(p.Issues[:i:i], p.Issues[i+1:]...)
	return true
}

// IsAgent reports whether speaker is this state's agent.
func (s *InformationState) IsAgent(speaker string) bool {
	return speaker == s.AgentID
}

// IsOverridden reports whether q was skipped by the user.
func (s *InformationState) IsOverridden(q domain.Question) bool {
	return domain.IndexOfQuestion(s.Private.OverriddenQuestions, q) >= 0
}

// MarkSubplan sets the status of the plan node for q in every plan tree.
// It reports whether a node was found.
func (s *InformationState) MarkSubplan(q domain.Question, status domain.PlanStatus) bool {
	found := false
	for _, pl := range s.Private.Plan {
		if n := pl.FindByQuestion(q); n != nil && n != pl {
			n.Status = status
			found = true
		}
	}
	return found
}
