package infostate

import "github.com/ibdm-lab/isu-engine/internal/domain"

// PhaseContext is the typed scratch channel rules use to talk to later rules
// and later phases of the same turn. It lives beside the persistent records,
// never inside the belief map.
type PhaseContext struct {
	// Interpretation.
	Utterance   string
	Speaker     string
	Interpreted []domain.DialogueMove

	// Per-move integration scratch, reset before each move.
	CurrentMove        *domain.DialogueMove
	Handled            bool
	ProducedCommitment string
	ProducedTask       string
	Reaccommodation    *Reaccommodation

	// Signals from integration to selection.
	NeedsClarification    bool
	InvalidAnswer         any
	ClarificationQuestion domain.Question
	SkipRejected          domain.Question
	NeedsReutterance      *int
	NeedsRephrase         *int

	// Generation output.
	GeneratedText string

	// Trace of every rule fired this turn, in order.
	Trace []FiredRule
}

// Reaccommodation tracks a belief revision through Rules 4.6 to 4.8.
type Reaccommodation struct {
	Question      domain.Question
	OldCommitment string
	NewCommitment string
	Retracted     bool
	Cascaded      bool
}

// FiredRule names a rule that fired and the phase it fired in.
type FiredRule struct {
	Phase string
	Rule  string
}

// BeginMove clears per-move scratch and installs m as the move to integrate.
func (c *PhaseContext) BeginMove(m domain.DialogueMove) {
	mv := m.Clone()
	c.CurrentMove = &mv
	c.Handled = false
	c.ProducedCommitment = ""
	c.ProducedTask = ""
	c.Reaccommodation = nil
}

// EndMove drops the current move once integration is finished.
func (c *PhaseContext) EndMove() {
	c.CurrentMove = nil
	c.Handled = false
	c.ProducedCommitment = ""
	c.ProducedTask = ""
	c.Reaccommodation = nil
}

// ClearClarification drops the invalid-answer signal.
func (c *PhaseContext) ClearClarification() {
	c.NeedsClarification = false
	c.InvalidAnswer = nil
	c.ClarificationQuestion = nil
}

func (c PhaseContext) clone() PhaseContext {
	out := c
	if c.Interpreted != nil {
		out.Interpreted = make([]domain.DialogueMove, len(c.Interpreted))
		for i, m := range c.Interpreted {
			out.Interpreted[i] = m.Clone()
		}
	}
	if c.CurrentMove != nil {
		mv := c.CurrentMove.Clone()
		out.CurrentMove = &mv
	}
	if c.Reaccommodation != nil {
		r := *c.Reaccommodation
		out.Reaccommodation = &r
	}
	out.InvalidAnswer = domain.CloneValue(c.InvalidAnswer)
	if c.NeedsReutterance != nil {
		out.NeedsReutterance = domain.IntPtr(*c.NeedsReutterance)
	}
	if c.NeedsRephrase != nil {
		out.NeedsRephrase = domain.IntPtr(*c.NeedsRephrase)
	}
	out.Trace = append([]FiredRule(nil), c.Trace...)
	return out
}
