// Package commands wires the CLI surface: sync, validate, plan-id, map-sync,
// clean, runs, policies, and init. Commands load the JSON config, build the
// telemetry stack, and drive the engine; all provider lifecycle (Setup and
// Teardown) lives here, never inside the engine.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/planpilot/planpilot/pkg/engine"
)

// Exit codes. Input problems (config, plan load, validation) are separated
// from environment problems (auth, capabilities) so wrapper scripts can tell
// "fix your files" apart from "fix your credentials".
const (
	exitFailure     = 1
	exitInputError  = 2
	exitEnvironment = 3
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// defaultConfigPath is tried when --config is not given.
const defaultConfigPath = "planpilot.json"

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps an error from Execute onto a process exit code using the
// error taxonomy codes.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch {
	case engine.HasCode(err, engine.ErrCodeConfig),
		engine.HasCode(err, engine.ErrCodePlanLoad),
		engine.HasCode(err, engine.ErrCodePlanValidation),
		engine.HasCode(err, engine.ErrCodePlanSelection):
		return exitInputError
	case engine.HasCode(err, engine.ErrCodeAuth),
		engine.HasCode(err, engine.ErrCodeCapability):
		return exitEnvironment
	default:
		return exitFailure
	}
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "planpilot",
		Short: "PlanPilot - sync hierarchical plans to issue trackers",
		Long: `PlanPilot reconciles a local plan of epics, stories, and tasks against an
external issue tracker. Items are identified by an embedded marker block, so
repeated syncs converge instead of duplicating work.

Features:
  - Canonical plan hashing for stable plan identity
  - Marker-based discovery (no state file required)
  - Phased concurrent reconciliation with relation roll-up
  - Policy gates via Rego rules
  - Run history and observability`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanIDCommand())
	rootCmd.AddCommand(newSyncCommand())
	rootCmd.AddCommand(newMapSyncCommand())
	rootCmd.AddCommand(newCleanCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newPoliciesCommand())

	return rootCmd
}
