package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/planpilot/planpilot/pkg/config"
	"github.com/planpilot/planpilot/pkg/engine"
	"github.com/planpilot/planpilot/pkg/plan"
	"github.com/planpilot/planpilot/pkg/providers"
	"github.com/planpilot/planpilot/pkg/providers/dryrun"
	_ "github.com/planpilot/planpilot/pkg/providers/github" // register the github adapter
	"github.com/planpilot/planpilot/pkg/stores"
	"github.com/planpilot/planpilot/pkg/telemetry"
)

// loadConfig reads the configured (or default) config file.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// telemetrySettings resolves the observability settings for a command
// invocation. The config's observability file is used when present;
// --verbose lowers the log level to debug either way.
func telemetrySettings(cfg *config.Config) (*telemetry.Config, error) {
	tcfg := telemetry.DefaultConfig()
	if cfg != nil && cfg.ObservabilityPath != "" {
		loaded, err := telemetry.LoadConfig(cfg.ObservabilityPath)
		if err != nil {
			return nil, err
		}
		tcfg = loaded
	}
	if verbose {
		tcfg.Logging.Level = "debug"
	}
	return tcfg, nil
}

// newTelemetry builds the observability stack for a command invocation.
func newTelemetry(cfg *config.Config) (*telemetry.Telemetry, error) {
	tcfg, err := telemetrySettings(cfg)
	if err != nil {
		return nil, err
	}
	return telemetry.New(tcfg)
}

// loadPlan runs the full plan pipeline: load, validate under the configured
// mode, and finalize (stamp the canonical plan ID).
func loadPlan(cfg *config.Config, logger zerolog.Logger) (*engine.Plan, error) {
	loader, err := plan.NewLoader()
	if err != nil {
		return nil, err
	}
	p, err := loader.WithLogger(logger).Load(plan.Paths{
		Unified: cfg.PlanPaths.Unified,
		Epics:   cfg.PlanPaths.Epics,
		Stories: cfg.PlanPaths.Stories,
		Tasks:   cfg.PlanPaths.Tasks,
	})
	if err != nil {
		return nil, err
	}
	if err := plan.Validate(p, plan.Mode(cfg.ValidationMode)); err != nil {
		return nil, err
	}
	if err := plan.Finalize(p); err != nil {
		return nil, err
	}
	return p, nil
}

// openProvider instantiates and sets up the configured provider. With dryRun
// the in-memory provider replaces the configured one regardless of config.
// The returned teardown must be called once the provider is no longer needed.
func openProvider(ctx context.Context, cfg *config.Config, logger zerolog.Logger, dryRun bool) (engine.Provider, func(), error) {
	name := cfg.Provider
	if dryRun {
		name = dryrun.Name
	}
	provider, err := providers.New(name, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := provider.Setup(ctx); err != nil {
		return nil, nil, err
	}
	teardown := func() {
		if err := provider.Teardown(context.Background()); err != nil {
			logger.Warn().Err(err).Str("provider", name).Msg("provider teardown failed")
		}
	}
	return provider, teardown, nil
}

// openStore opens and migrates the run-history database.
func openStore(ctx context.Context, cfg *config.Config) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.HistoryPath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printf writes formatted text to stdout.
func printf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, format, args...)
}
