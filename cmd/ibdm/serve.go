package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ibdm-lab/isu-engine/internal/config"
	"github.com/ibdm-lab/isu-engine/internal/engine"
	"github.com/ibdm-lab/isu-engine/internal/guard"
	"github.com/ibdm-lab/isu-engine/internal/ipc"
	"github.com/ibdm-lab/isu-engine/internal/provider"
	"github.com/ibdm-lab/isu-engine/internal/session"
	"github.com/ibdm-lab/isu-engine/internal/store"
)

func newServeCmd() *cobra.Command {
	var listenAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve dialogue sessions over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides config)")
	return cmd
}

// startComponents launches the configured external interpreter and
// generator. Either is nil when not configured, leaving the built-in rules
// in charge.
func startComponents(cfg *config.Config, logger *zap.Logger) (engine.Interpreter, engine.Generator, func(), error) {
	var (
		nlu engine.Interpreter
		nlg engine.Generator
	)
	if cfg.NLU == "" && cfg.NLG == "" {
		return nil, nil, func() {}, nil
	}
	reg, err := cfg.ProviderRegistry()
	if err != nil {
		return nil, nil, nil, err
	}
	launcher := provider.NewLauncher(reg, logger.Named("provider"))
	if cfg.NLU != "" {
		if _, err := launcher.Get(cfg.NLU); err != nil {
			launcher.StopAll()
			return nil, nil, nil, fmt.Errorf("start interpreter: %w", err)
		}
		nlu = provider.Interpreter{Target: provider.Target{Launcher: launcher, Name: cfg.NLU}}
	}
	if cfg.NLG != "" {
		if _, err := launcher.Get(cfg.NLG); err != nil {
			launcher.StopAll()
			return nil, nil, nil, fmt.Errorf("start generator: %w", err)
		}
		nlg = provider.Generator{Target: provider.Target{Launcher: launcher, Name: cfg.NLG}}
	}
	return nlu, nlg, launcher.StopAll, nil
}

// newManager wires the store, guard, components and engine template into a
// session manager.
func newManager(cfg *config.Config, logger *zap.Logger) (*session.Manager, func(), error) {
	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	nlu, nlg, stop, err := startComponents(cfg, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	mgr, err := session.NewManager(db, session.Config{
		Engine: engine.Config{
			AgentID:         cfg.AgentID,
			Policy:          cfg.Policy(),
			NLU:             nlu,
			NLG:             nlg,
			MaxMovesPerTurn: cfg.MaxMovesPerTurn,
			StrictRules:     cfg.StrictRules,
			Logger:          logger.Named("engine"),
		},
		Guard: guard.NewGuard(guard.GuardConfig{
			MaxTurns:           cfg.MaxTurns,
			RateLimitPerMinute: cfg.RateLimitPerMinute,
		}),
		CacheSize: cfg.SessionCacheSize,
		Logger:    logger.Named("session"),
	})
	if err != nil {
		stop()
		db.Close()
		return nil, nil, err
	}
	return mgr, func() {
		stop()
		db.Close()
	}, nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	mgr, closeDB, err := newManager(cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	if _, err := mgr.EngineFor(cfg.Domain); err != nil {
		return fmt.Errorf("default domain: %w", err)
	}

	handler := &ipc.Handler{
		Sessions:      mgr,
		DefaultDomain: cfg.Domain,
		Logger:        logger.Named("ipc"),
		Version:       version,
	}
	srv := ipc.NewServer(handler, cfg.ListenAddr)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("ibdm listening",
		zap.String("url", formatListenURL(cfg.ListenAddr)),
		zap.String("db_path", cfg.DBPath),
		zap.String("domain", cfg.Domain),
	)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// formatListenURL turns a listen address into a URL a browser can open.
func formatListenURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}
