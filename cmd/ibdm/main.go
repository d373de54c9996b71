// Package main is the entry point for the ibdm dialogue server.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ibdm-lab/isu-engine/internal/config"
	"github.com/ibdm-lab/isu-engine/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath string
	domainName string
	verbose    bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ibdm",
		Short: "Issue-based dialogue manager",
		Long: `ibdm runs information-state update dialogues over a task domain.

It serves dialogue sessions over HTTP and websockets, or chats on the terminal.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (YAML or JSON)")
	root.PersistentFlags().StringVar(&domainName, "domain", "", "dialogue domain (overrides config)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newServeCmd(), newChatCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ibdm %s (commit=%s, built=%s)\n", version, commit, date)
		},
	}
}

// loadConfig resolves the config path: --config flag > IBDM_CONFIG env >
// ibdm.yaml next to the executable or in the working directory > defaults.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("IBDM_CONFIG")
	}
	if path == "" {
		path = discoverConfig()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if domainName != "" {
		cfg.Domain = domainName
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Log)
}

// discoverConfig looks for ibdm.yaml next to the executable, then in the cwd.
func discoverConfig() string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "ibdm.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if _, err := os.Stat("ibdm.yaml"); err == nil {
		return "ibdm.yaml"
	}
	return ""
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
