// Package cli defines Cobra command definitions for the slipway CLI.
// This file contains the root command, version flag, and shared setup.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/slipway-dev/slipway/internal/bus"
	"github.com/slipway-dev/slipway/internal/config"
	"github.com/slipway-dev/slipway/internal/engine"
	"github.com/slipway-dev/slipway/internal/log"
	"github.com/slipway-dev/slipway/internal/store"
)

var (
	verbose bool
	version = "dev" // set via ldflags at build time
)

var rootCmd = &cobra.Command{
	Use:   "slipway",
	Short: "Session orchestrator for Claude CLI tasks",
	Long: `Slipway runs development tasks as supervised Claude sessions.
Each session spawns one Claude process, streams its structured output,
persists the transcript, and records how the run ended.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Print raw stream events instead of formatted messages")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// env bundles the shared runtime pieces a command needs.
type env struct {
	root   string
	cfg    *config.Config
	st     *store.Store
	bus    *bus.Bus
	logger *log.Logger
	sup    *engine.Supervisor
}

// openEnv reads the config from the working directory and wires up the
// store, bus, logger, and supervisor. Boot reconciliation runs inside
// the supervisor constructor, so stale running sessions are corrected
// before any command acts.
func openEnv() (*env, error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}

	cfg, err := config.ReadConfig(root)
	if err != nil {
		return nil, fmt.Errorf("reading config (run 'slipway init' first): %w", err)
	}

	dbPath := cfg.Database.Path
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(root, dbPath)
	}
	st, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	logger, err := log.NewLogger(root)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	b := bus.New(cfg.Bus.BufferSize)
	sup, err := engine.New(cfg.Engine, st, b, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &env{root: root, cfg: cfg, st: st, bus: b, logger: logger, sup: sup}, nil
}

func (e *env) close() {
	e.st.Close()
}
