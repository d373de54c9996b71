// Package engine implements the dialogue move engine: it threads an
// information state through interpretation, integration, selection and
// generation using a rule set. The engine holds no dialogue state of its own.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ibdm-lab/isu-engine/internal/domain"
	"github.com/ibdm-lab/isu-engine/internal/grounding"
	"github.com/ibdm-lab/isu-engine/internal/infostate"
	"github.com/ibdm-lab/isu-engine/internal/rules"
	"github.com/ibdm-lab/isu-engine/internal/taskdomain"
)

// DefaultMaxMovesPerTurn bounds how many moves the system utters per turn.
const DefaultMaxMovesPerTurn = 4

// Interpreter turns an utterance into dialogue moves. External NLU plugs in
// here; when none is set the engine uses its interpretation rules.
type Interpreter interface {
	Interpret(ctx context.Context, utterance, speaker string, st *infostate.InformationState) ([]domain.DialogueMove, error)
}

// Generator renders a move as text. When none is set the engine uses its
// generation rules.
type Generator interface {
	Generate(ctx context.Context, move domain.DialogueMove, st *infostate.InformationState) (string, error)
}

// Config holds engine construction parameters.
type Config struct {
	AgentID         string
	Domain          *taskdomain.Model
	Policy          *grounding.Policy
	Rules           *rules.RuleSet
	NLU             Interpreter
	NLG             Generator
	Logger          *zap.Logger
	MaxMovesPerTurn int
	StrictRules     bool
	Clock           func() time.Time
}

// Engine is the dialogue move engine.
type Engine struct {
	AgentID         string
	Domain          *taskdomain.Model
	Rules           *rules.RuleSet
	NLU             Interpreter
	NLG             Generator
	Logger          *zap.Logger
	MaxMovesPerTurn int
	Clock           func() time.Time
}

// Utterance is one system output of a turn.
type Utterance struct {
	Move domain.DialogueMove
	Text string
}

// TurnResult is everything a turn produced.
type TurnResult struct {
	State       *infostate.InformationState
	Interpreted []domain.DialogueMove
	Outputs     []Utterance
	Trace       []infostate.FiredRule
}

// New creates an engine. Without an explicit rule set it loads the standard
// library over cfg.Domain.
func New(cfg Config) (*Engine, error) {
	if cfg.AgentID == "" {
		cfg.AgentID = "system"
	}
	if cfg.Domain == nil {
		return nil, domain.NewEngineError(domain.ErrUnknownDomain.Code, "engine requires a domain model")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxMovesPerTurn <= 0 {
		cfg.MaxMovesPerTurn = DefaultMaxMovesPerTurn
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	rs := cfg.Rules
	if rs == nil {
		var err error
		rs, err = rules.NewDefaultRuleSet(cfg.Domain, cfg.Policy, cfg.Logger.Named("rules"))
		if err != nil {
			return nil, fmt.Errorf("load rules: %w", err)
		}
	}
	if cfg.StrictRules && !rs.Strict {
		rs = rs.WithStrict()
	}
	return &Engine{
		AgentID:         cfg.AgentID,
		Domain:          cfg.Domain,
		Rules:           rs,
		NLU:             cfg.NLU,
		NLG:             cfg.NLG,
		Logger:          cfg.Logger,
		MaxMovesPerTurn: cfg.MaxMovesPerTurn,
		Clock:           cfg.Clock,
	}, nil
}

// InitialState returns a fresh state for this engine's agent.
func (e *Engine) InitialState() *infostate.InformationState {
	return infostate.New(e.AgentID)
}

// Interpret maps an utterance to moves. The returned state carries the
// interpretation trace; the caller's state is not modified.
func (e *Engine) Interpret(ctx context.Context, utterance, speaker string, st *infostate.InformationState) ([]domain.DialogueMove, *infostate.InformationState, error) {
	if e.NLU != nil {
		moves, err := e.NLU.Interpret(ctx, utterance, speaker, st)
		if err != nil {
			return nil, nil, domain.WrapEngineError(domain.ErrInterpreter.Code, domain.ErrInterpreter.Message, err)
		}
		return moves, st.Clone(), nil
	}
	next := st.Clone()
	next.Context.Utterance = utterance
	next.Context.Speaker = speaker
	next.Context.Interpreted = nil
	next, err := e.Rules.ApplyRules(rules.PhaseInterpretation, next)
	if err != nil {
		return nil, nil, err
	}
	moves := make([]domain.DialogueMove, len(next.Context.Interpreted))
	for i, m := range next.Context.Interpreted {
		moves[i] = m.Clone()
	}
	return moves, next, nil
}

// Integrate folds every matching integration rule over st for move.
func (e *Engine) Integrate(move domain.DialogueMove, st *infostate.InformationState) (*infostate.InformationState, error) {
	next := st.Clone()
	next.Context.BeginMove(move)
	next, err := e.Rules.ApplyRules(rules.PhaseIntegration, next)
	if err != nil {
		return nil, err
	}
	next.Context.EndMove()
	return next, nil
}

// SelectAction picks the system's next move. Agenda items always win;
// otherwise the first matching selection rule may fill the agenda. A nil move
// means the system has nothing to say.
func (e *Engine) SelectAction(st *infostate.InformationState) (*domain.DialogueMove, *infostate.InformationState, error) {
	next := st.Clone()
	if m, ok := next.Private.Dequeue(); ok {
		return &m, next, nil
	}
	next, fired, err := e.Rules.ApplyFirstMatching(rules.PhaseSelection, next)
	if err != nil {
		return nil, nil, err
	}
	if !fired {
		return nil, next, nil
	}
	if m, ok := next.Private.Dequeue(); ok {
		return &m, next, nil
	}
	return nil, next, nil
}

// Generate renders move as text.
func (e *Engine) Generate(ctx context.Context, move domain.DialogueMove, st *infostate.InformationState) (string, error) {
	if e.NLG != nil {
		text, err := e.NLG.Generate(ctx, move, st)
		if err != nil {
			return "", domain.WrapEngineError(domain.ErrGenerator.Code, domain.ErrGenerator.Message, err)
		}
		return text, nil
	}
	scratch := st.Clone()
	scratch.Context.BeginMove(move)
	scratch.Context.GeneratedText = ""
	out, err := e.Rules.ApplyRules(rules.PhaseGeneration, scratch)
	if err != nil {
		return "", err
	}
	if out.Context.GeneratedText != "" {
		return out.Context.GeneratedText, nil
	}
	return fallbackText(move), nil
}

func fallbackText(m domain.DialogueMove) string {
	switch m.Type {
	case domain.MoveGreet:
		return "Hello!"
	case domain.MoveQuit:
		return "Goodbye!"
	case domain.MoveAsk:
		return "Question: " + m.Text()
	case domain.MoveAnswer:
		return "Answer: " + m.Text()
	}
	return m.Text()
}

// ProcessInput runs one full turn: interpret the utterance, integrate each
// move, then while it is the system's turn select, generate and integrate
// its own moves. The caller's state is never modified.
func (e *Engine) ProcessInput(ctx context.Context, utterance, speaker string, st *infostate.InformationState) (*TurnResult, error) {
	start := st.Clone()
	start.Context = infostate.PhaseContext{}

	moves, next, err := e.Interpret(ctx, utterance, speaker, start)
	if err != nil {
		return nil, err
	}
	next.Context.Speaker = speaker

	for _, m := range moves {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m = e.stamp(m, speaker)
		if next, err = e.Integrate(m, next); err != nil {
			return nil, fmt.Errorf("integrate %s: %w", m.Type, err)
		}
	}

	var outputs []Utterance
	for i := 0; i < e.MaxMovesPerTurn && next.Control.NextSpeaker == e.AgentID; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var move *domain.DialogueMove
		move, next, err = e.SelectAction(next)
		if err != nil {
			return nil, fmt.Errorf("select: %w", err)
		}
		if move == nil {
			break
		}
		m := e.stamp(*move, e.AgentID)
		text, err := e.Generate(ctx, m, next)
		if err != nil {
			return nil, err
		}
		if next, err = e.Integrate(m, next); err != nil {
			return nil, fmt.Errorf("integrate own %s: %w", m.Type, err)
		}
		outputs = append(outputs, Utterance{Move: m, Text: text})
	}

	e.Logger.Debug("turn processed",
		zap.String("speaker", speaker),
		zap.Int("moves_in", len(moves)),
		zap.Int("moves_out", len(outputs)),
		zap.Int("rules_fired", len(next.Context.Trace)),
		zap.Int("qud_depth", next.Shared.QUDLen()),
	)
	return &TurnResult{
		State:       next,
		Interpreted: moves,
		Outputs:     outputs,
		Trace:       append([]infostate.FiredRule(nil), next.Context.Trace...),
	}, nil
}

func (e *Engine) stamp(m domain.DialogueMove, speaker string) domain.DialogueMove {
	if m.Speaker == "" {
		m.Speaker = speaker
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = e.Clock().UTC()
	}
	return m
}
