package provider

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ibdm-lab/isu-engine/internal/domain"
	"github.com/ibdm-lab/isu-engine/internal/infostate"
)

// Target names the process a component talks to: either a fixed Proc, or a
// provider looked up through Launcher on every call so that a process that
// exited is restarted.
type Target struct {
	Proc     *Process
	Launcher *Launcher
	Name     string
}

func (t Target) process() (*Process, error) {
	if t.Launcher != nil {
		return t.Launcher.Get(t.Name)
	}
	if t.Proc == nil {
		return nil, domain.NewEngineError(domain.ErrProviderUnavailable.Code, "no provider process")
	}
	return t.Proc, nil
}

// Interpreter sends utterances to a process for interpretation.
type Interpreter struct {
	Target
}

// Interpret asks the process for the moves in utterance. The open questions
// and commitments are sent along as context.
func (i Interpreter) Interpret(ctx context.Context, utterance, speaker string, st *infostate.InformationState) ([]domain.DialogueMove, error) {
	req := Request{Type: MsgInterpret, Utterance: utterance, Speaker: speaker}
	if st != nil {
		req.QUD = st.Shared.QUD()
		req.Commitments = st.Shared.Commitments()
	}
	p, err := i.process()
	if err != nil {
		return nil, err
	}
	resp, err := p.Call(ctx, req, MsgMoves)
	if err != nil {
		return nil, err
	}
	return resp.Moves, nil
}

// Generator sends system moves to a process for rendering.
type Generator struct {
	Target
}

// Generate asks the process to render move.
func (g Generator) Generate(ctx context.Context, move domain.DialogueMove, st *infostate.InformationState) (string, error) {
	p, err := g.process()
	if err != nil {
		return "", err
	}
	resp, err := p.Call(ctx, Request{Type: MsgGenerate, Move: &move}, MsgText)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Launcher starts registered components on demand and keeps one process per
// name, so an interpreter and generator naming the same provider share it.
type Launcher struct {
	registry *Registry
	logger   *zap.Logger
	mu       sync.Mutex
	running  map[string]*Process
}

// NewLauncher creates a launcher backed by registry.
func NewLauncher(registry *Registry, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{
		registry: registry,
		logger:   logger,
		running:  make(map[string]*Process),
	}
}

// Get returns the running process for name, starting it if needed.
func (l *Launcher) Get(name string) (*Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p, ok := l.running[name]; ok {
		select {
		case <-p.Done():
			_ = p.Stop()
			delete(l.running, name)
			l.logger.Info("restarting provider", zap.String("provider", name))
		default:
			return p, nil
		}
	}
	spec, err := l.registry.Get(name)
	if err != nil {
		return nil, err
	}
	p, err := Start(spec, l.logger)
	if err != nil {
		return nil, err
	}
	l.running[name] = p
	return p, nil
}

// StopAll terminates every running process.
func (l *Launcher) StopAll() {
	l.mu.Lock()
	running := l.running
	l.running = make(map[string]*Process)
	l.mu.Unlock()

	for name, p := range running {
		if err := p.Stop(); err != nil {
			l.logger.Debug("stop provider", zap.String("provider", name), zap.Error(err))
		}
	}
}
