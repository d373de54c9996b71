package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ibdm-lab/isu-engine/internal/domain"
)

const (
	lineChannelBuffer = 16
	maxLineBytes      = 1 << 20
	waitDelay         = 2 * time.Second
)

// Message types on the wire.
const (
	MsgInterpret = "interpret"
	MsgGenerate  = "generate"
	MsgMoves     = "moves"
	MsgText      = "text"
	MsgError     = "error"
)

// Request is one line written to the process. Processes should echo ID in
// their reply; replies without an ID are taken as answering the latest
// request.
type Request struct {
	ID          int64                `json:"id"`
	Type        string               `json:"type"`
	Utterance   string               `json:"utterance,omitempty"`
	Speaker     string               `json:"speaker,omitempty"`
	QUD         []domain.Question    `json:"qud,omitempty"`
	Commitments []string             `json:"commitments,omitempty"`
	Move        *domain.DialogueMove `json:"move,omitempty"`
}

// Response is one line read back from the process.
type Response struct {
	ID    int64                 `json:"id,omitempty"`
	Type  string                `json:"type"`
	Moves []domain.DialogueMove `json:"moves,omitempty"`
	Text  string                `json:"text,omitempty"`
	Error string                `json:"error,omitempty"`
}

// Process is a running component. Calls are serialized: the protocol is one
// request in flight per process.
type Process struct {
	Spec     Spec
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   io.ReadCloser
	lines    chan []byte
	done     chan struct{}
	doneOnce sync.Once
	stop     chan struct{}
	stopOnce sync.Once
	callMu   sync.Mutex
	seq      atomic.Int64
	logger   *zap.Logger
}

// Start launches the process described by spec and begins reading its
// stdout.
func Start(spec Spec, logger *zap.Logger) (*Process, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cmd := exec.Command(spec.Command, spec.Args...)
	if len(spec.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range spec.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	cmd.Stderr = os.Stderr
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe for %s: %w", spec.Name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe for %s: %w", spec.Name, err)
	}

	p := &Process{
		Spec:   spec,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		lines:  make(chan []byte, lineChannelBuffer),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
		logger: logger.With(zap.String("provider", spec.Name)),
	}
	if err := cmd.Start(); err != nil {
		return nil, domain.WrapEngineError(domain.ErrProviderUnavailable.Code,
			fmt.Sprintf("start %s", spec.Name), err)
	}
	go p.readStdout()
	p.logger.Info("provider started", zap.Int("pid", cmd.Process.Pid))
	return p, nil
}

// Stop kills the process with everything it spawned and waits for it so no
// zombie is left behind.
func (p *Process) Stop() error {
	if p.cmd.Process == nil {
		return nil
	}
	p.stopOnce.Do(func() { close(p.stop) })
	err := killProcessGroup(p.cmd)
	// Wait reports the kill signal; only the reap matters here.
	_ = p.cmd.Wait()
	p.markDone()
	return err
}

// Done is closed once the process output ends.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

func (p *Process) markDone() {
	p.doneOnce.Do(func() {
		close(p.done)
	})
}

func (p *Process) readStdout() {
	defer p.markDone()
	defer close(p.lines)

	scanner := bufio.NewScanner(p.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		select {
		case p.lines <- append([]byte(nil), line...):
		case <-p.stop:
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		select {
		case <-p.stop:
		default:
			p.logger.Warn("provider output ended", zap.Error(err))
		}
	}
}

// Call writes req and waits for the matching reply of type want. A reply of
// type "error" is returned as ErrProviderProtocol carrying its message.
func (p *Process) Call(ctx context.Context, req Request, want string) (Response, error) {
	p.callMu.Lock()
	defer p.callMu.Unlock()

	req.ID = p.seq.Add(1)
	line, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode %s request: %w", req.Type, err)
	}
	if _, err := p.stdin.Write(append(line, '\n')); err != nil {
		return Response{}, domain.WrapEngineError(domain.ErrProviderUnavailable.Code,
			fmt.Sprintf("write to %s", p.Spec.Name), err)
	}

	for {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case raw, ok := <-p.lines:
			if !ok {
				return Response{}, domain.NewEngineError(domain.ErrProviderUnavailable.Code,
					fmt.Sprintf("%s exited", p.Spec.Name))
			}
			var resp Response
			if err := json.Unmarshal(raw, &resp); err != nil {
				return Response{}, domain.WrapEngineError(domain.ErrProviderProtocol.Code,
					fmt.Sprintf("decode reply from %s", p.Spec.Name), err)
			}
			if resp.ID != 0 && resp.ID != req.ID {
				p.logger.Debug("dropping stale reply", zap.Int64("id", resp.ID), zap.Int64("want", req.ID))
				continue
			}
			switch resp.Type {
			case want:
				return resp, nil
			case MsgError:
				return Response{}, domain.NewEngineError(domain.ErrProviderProtocol.Code,
					fmt.Sprintf("%s: %s", p.Spec.Name, resp.Error))
			default:
				return Response{}, domain.NewEngineError(domain.ErrProviderProtocol.Code,
					fmt.Sprintf("%s replied %q to %s, want %q", p.Spec.Name, resp.Type, req.Type, want))
			}
		}
	}
}
