package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ibdm-lab/isu-engine/internal/config"
	"github.com/ibdm-lab/isu-engine/internal/domain"
	"github.com/ibdm-lab/isu-engine/internal/engine"
	"github.com/ibdm-lab/isu-engine/internal/session"
	"github.com/ibdm-lab/isu-engine/internal/taskdomain"
)

// turnFunc runs one user utterance and returns the system outputs and
// whether the dialogue has ended.
type turnFunc func(ctx context.Context, utterance string) ([]string, bool, error)

func newChatCmd() *cobra.Command {
	var persist bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the dialogue manager on the terminal",
		Long: `Reads utterances from stdin, one per line, and prints the system's replies.

With --persist the dialogue is stored as a session in the configured database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			var (
				turn    turnFunc
				cleanup func()
			)
			if persist {
				turn, cleanup, err = persistentTurns(ctx, cfg, cmd.ErrOrStderr())
			} else {
				turn, cleanup, err = memoryTurns(cfg)
			}
			if err != nil {
				return err
			}
			defer cleanup()
			return runChat(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), turn)
		},
	}
	cmd.Flags().BoolVar(&persist, "persist", false, "store the dialogue in the session database")
	return cmd
}

// memoryTurns runs the engine directly over an in-memory state.
func memoryTurns(cfg *config.Config) (turnFunc, func(), error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	model, err := taskdomain.DefaultRegistry().Get(cfg.Domain)
	if err != nil {
		return nil, nil, err
	}
	nlu, nlg, stop, err := startComponents(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	eng, err := engine.New(engine.Config{
		AgentID:         cfg.AgentID,
		Domain:          model,
		Policy:          cfg.Policy(),
		NLU:             nlu,
		NLG:             nlg,
		MaxMovesPerTurn: cfg.MaxMovesPerTurn,
		StrictRules:     cfg.StrictRules,
		Logger:          logger.Named("engine"),
	})
	if err != nil {
		stop()
		return nil, nil, err
	}
	st := eng.InitialState()
	return func(ctx context.Context, utterance string) ([]string, bool, error) {
		res, err := eng.ProcessInput(ctx, utterance, session.UserSpeaker, st)
		if err != nil {
			return nil, false, err
		}
		st = res.State
		texts := make([]string, len(res.Outputs))
		for i, u := range res.Outputs {
			texts[i] = u.Text
		}
		return texts, st.Control.DialogueState == domain.DialogueEnded, nil
	}, stop, nil
}

// persistentTurns runs each turn through a stored session.
func persistentTurns(ctx context.Context, cfg *config.Config, errOut io.Writer) (turnFunc, func(), error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	mgr, closeDB, err := newManager(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	s, err := mgr.Start(ctx, cfg.Domain)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	fmt.Fprintf(errOut, "session %s\n", s.SessionID)
	return func(ctx context.Context, utterance string) ([]string, bool, error) {
		out, err := mgr.Turn(ctx, s.SessionID, utterance)
		if err != nil {
			return nil, false, err
		}
		return out.Texts(), out.Session.Status == domain.DialogueEnded, nil
	}, closeDB, nil
}

// runChat is the read-reply loop. Blank lines are ignored; turn errors are
// reported and the loop continues.
func runChat(ctx context.Context, in io.Reader, out io.Writer, turn turnFunc) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(out, "> ")
			continue
		}
		texts, ended, err := turn(ctx, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		for _, t := range texts {
			fmt.Fprintf(out, "system: %s\n", t)
		}
		if ended {
			return nil
		}
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}
