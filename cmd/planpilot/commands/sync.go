package commands

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/planpilot/planpilot/pkg/config"
	"github.com/planpilot/planpilot/pkg/engine"
	"github.com/planpilot/planpilot/pkg/policy"
	"github.com/planpilot/planpilot/pkg/render"
	"github.com/planpilot/planpilot/pkg/stores"
	"github.com/planpilot/planpilot/pkg/telemetry"
)

// syncDebounce coalesces bursts of plan-file events into one re-sync.
const syncDebounce = 500 * time.Millisecond

type syncOptions struct {
	dryRun      bool
	noHistory   bool
	watch       bool
	metricsAddr string
}

func newSyncCommand() *cobra.Command {
	var opts syncOptions

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the plan against the issue tracker",
		Long: `Sync loads the plan, validates it, gates it through the configured
policies, and reconciles it against the tracker: existing items are found by
their marker blocks and updated in place, missing ones are created, and
relations are converged. A successful run writes the sync map.

With --dry-run the whole pipeline executes against an in-memory provider and
nothing is written, remotely or locally.

With --watch the command keeps running and re-syncs, debounced, whenever the
plan files or the config file change. Errors in individual runs are logged
and the watcher keeps going.`,
		Example: `  # Sync the plan in the default config
  planpilot sync

  # Rehearse without touching the tracker
  planpilot sync --dry-run

  # Keep syncing on plan changes, with metrics exposed
  planpilot sync --watch --metrics-addr :9464

  # Sync without recording run history
  planpilot sync --no-history`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "run against an in-memory provider; write nothing")
	cmd.Flags().BoolVar(&opts.noHistory, "no-history", false, "skip recording the run in the history database")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "keep running and re-sync when plan or config files change")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides observability config)")

	return cmd
}

func runSync(ctx context.Context, opts syncOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tcfg, err := telemetrySettings(cfg)
	if err != nil {
		return err
	}
	if opts.metricsAddr != "" {
		tcfg.Metrics.Enabled = true
		tcfg.Metrics.ListenAddress = opts.metricsAddr
	}
	tel, err := telemetry.New(tcfg)
	if err != nil {
		return err
	}
	defer tel.Shutdown(context.Background())

	tel.Metrics.Serve(func(err error) {
		tel.Logger.Error().Err(err).Msg("metrics server failed")
	})

	if opts.watch {
		return watchAndSync(ctx, cfg, tel, opts)
	}
	return syncOnce(ctx, cfg, tel, opts)
}

// watchAndSync runs one sync, then re-runs it whenever a plan file or the
// config file changes, until the context is cancelled. The config is
// re-loaded before every run so edits to it take effect too.
func watchAndSync(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, opts syncOptions) error {
	logger := tel.Logger
	runOnce := func() {
		fresh, err := loadConfig()
		if err != nil {
			logger.Error().Err(err).Msg("config reload failed")
			return
		}
		if err := syncOnce(ctx, fresh, tel, opts); err != nil {
			logger.Error().Err(err).Msg("sync failed")
		}
	}
	runOnce()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return engine.NewConfigError("failed to create plan watcher", err)
	}
	defer watcher.Close()

	targets, err := watchTargets(cfg)
	if err != nil {
		return err
	}
	dirs := make(map[string]struct{})
	for _, path := range targets {
		dirs[filepath.Dir(path)] = struct{}{}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			logger.Warn().Err(err).Str("dir", dir).Msg("cannot watch directory")
		}
	}
	watched := make(map[string]struct{}, len(targets))
	for _, path := range targets {
		watched[path] = struct{}{}
	}
	logger.Info().Strs("files", targets).Msg("watching plan files")

	trigger := make(chan struct{}, 1)
	var resync *time.Timer
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if _, ok := watched[filepath.Clean(event.Name)]; !ok {
				continue
			}
			logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("plan file changed")

			if resync != nil {
				resync.Stop()
			}
			resync = time.AfterFunc(syncDebounce, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("plan watcher error")

		case <-trigger:
			runOnce()
		}
	}
}

// watchTargets lists the files whose changes should re-trigger a sync: the
// config file itself plus every configured plan file.
func watchTargets(cfg *config.Config) ([]string, error) {
	absConfig, err := filepath.Abs(configPath)
	if err != nil {
		return nil, engine.NewConfigError("failed to resolve config path "+configPath, err)
	}
	candidates := []string{
		absConfig,
		cfg.PlanPaths.Unified,
		cfg.PlanPaths.Epics,
		cfg.PlanPaths.Stories,
		cfg.PlanPaths.Tasks,
	}
	targets := make([]string, 0, len(candidates))
	for _, path := range candidates {
		if path != "" {
			targets = append(targets, filepath.Clean(path))
		}
	}
	return targets, nil
}

func syncOnce(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, opts syncOptions) error {
	logger := tel.Logger

	p, err := loadPlan(cfg, logger)
	if err != nil {
		return err
	}

	policyWarnings, err := gatePlan(ctx, cfg, tel, p)
	if err != nil {
		return err
	}

	provider, teardown, err := openProvider(ctx, cfg, logger, opts.dryRun)
	if err != nil {
		return err
	}
	defer teardown()

	engineCfg := cfg.EngineConfig()
	engineCfg.DryRun = opts.dryRun

	var (
		store *stores.SQLiteStore
		run   *stores.SyncRun
	)
	if !opts.noHistory {
		store, err = openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		run = stores.NewSyncRun(stores.RunKindSync, p.ID, cfg.Target, opts.dryRun)
		if err := store.RecordRun(ctx, run); err != nil {
			return err
		}
		recordEvent(ctx, store, logger, run.ID, stores.EventSyncStarted, nil, "sync started")
	}

	eng := engine.New(provider, render.New(), engineCfg).
		WithLogger(logger).
		WithMetrics(tel.Metrics).
		WithTracer(tel.Tracer)

	started := time.Now()
	tel.Metrics.RecordSyncStarted(string(stores.RunKindSync))
	_ = tel.Events.PublishSyncStarted(string(stores.RunKindSync), p.ID, cfg.Target)

	result, err := eng.Sync(ctx, p)
	duration := time.Since(started)
	if err != nil {
		tel.Metrics.RecordSyncCompleted(string(stores.RunStatusFailed), duration)
		_ = tel.Events.PublishSyncFailed(p.ID, err.Error())
		if run != nil {
			finishRunFailed(ctx, store, logger, run, err)
		}
		return err
	}
	tel.Metrics.RecordSyncCompleted(string(stores.RunStatusSucceeded), duration)
	_ = tel.Events.PublishSyncCompleted(p.ID, result.TotalCreated(), reconciledCount(result), duration)

	result.Warnings = append(result.Warnings, policyWarnings...)

	if !opts.dryRun {
		if err := config.WriteSyncMap(cfg.SyncPath, result.SyncMap); err != nil {
			if run != nil {
				finishRunFailed(ctx, store, logger, run, err)
			}
			return err
		}
	}

	if run != nil {
		run.Status = stores.RunStatusSucceeded
		run.EpicsCreated = result.ItemsCreated[engine.ItemTypeEpic]
		run.StoriesCreated = result.ItemsCreated[engine.ItemTypeStory]
		run.TasksCreated = result.ItemsCreated[engine.ItemTypeTask]
		run.ItemsUpdated = reconciledCount(result)
		run.Warnings = len(result.Warnings)
		if err := store.FinishRun(ctx, run); err != nil {
			logger.Warn().Err(err).Str("run_id", run.ID).Msg("failed to finish run record")
		}
		recordEvent(ctx, store, logger, run.ID, stores.EventSyncCompleted, nil, "sync completed")
	}

	return printSyncResult(cfg, p, result, duration)
}

// gatePlan evaluates every configured policy against the plan. Blocking
// violations abort before the provider is ever contacted; non-blocking ones
// come back as warnings for the sync result.
func gatePlan(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, p *engine.Plan) ([]string, error) {
	gate, err := policy.NewEngine(tel.Logger)
	if err != nil {
		return nil, err
	}
	if len(cfg.PolicyPaths) > 0 {
		if err := gate.LoadUserPolicies(ctx, cfg.PolicyPaths); err != nil {
			return nil, err
		}
	}
	result, err := gate.EvaluatePlan(ctx, p)
	if err != nil {
		return nil, err
	}

	for _, v := range result.Violations {
		tel.Metrics.RecordPolicyViolations(v.Policy, string(v.Severity), 1)
		_ = tel.Events.PublishPolicyViolation(p.ID, v.ItemID, v.Policy, v.Message, string(v.Severity))
	}

	if blocking := result.Blocking(); len(blocking) > 0 {
		msgs := make([]string, len(blocking))
		for i, v := range blocking {
			msgs[i] = v.String()
		}
		return nil, engine.NewPermanentError(
			"policy gate rejected the plan: "+strings.Join(msgs, "; "), nil,
		).WithCode(engine.ErrCodePlanValidation)
	}
	return result.Warnings(), nil
}

// reconciledCount is the number of plan items that already existed remotely
// and were updated rather than created.
func reconciledCount(result *engine.SyncResult) int {
	return len(result.SyncMap.Entries) - result.TotalCreated()
}

func recordEvent(ctx context.Context, store *stores.SQLiteStore, logger zerolog.Logger, runID, kind string, itemID *string, message string) {
	err := store.AppendEvent(ctx, &stores.RunEvent{
		RunID:   runID,
		Kind:    kind,
		ItemID:  itemID,
		Message: message,
	})
	if err != nil {
		logger.Warn().Err(err).Str("run_id", runID).Msg("failed to record run event")
	}
}

func finishRunFailed(ctx context.Context, store *stores.SQLiteStore, logger zerolog.Logger, run *stores.SyncRun, cause error) {
	msg := cause.Error()
	run.Status = stores.RunStatusFailed
	run.Error = &msg
	if err := store.FinishRun(ctx, run); err != nil {
		logger.Warn().Err(err).Str("run_id", run.ID).Msg("failed to finish run record")
	}
	recordEvent(ctx, store, logger, run.ID, stores.EventSyncFailed, nil, msg)
}

func printSyncResult(cfg *config.Config, p *engine.Plan, result *engine.SyncResult, duration time.Duration) error {
	if jsonOutput {
		return printJSON(result)
	}

	mode := "sync"
	if result.DryRun {
		mode = "dry-run sync"
	}
	printf("%s of plan %s complete in %s\n", mode, p.ID, duration.Round(time.Millisecond))
	printf("  created: %d epics, %d stories, %d tasks\n",
		result.ItemsCreated[engine.ItemTypeEpic],
		result.ItemsCreated[engine.ItemTypeStory],
		result.ItemsCreated[engine.ItemTypeTask])
	printf("  reconciled: %d existing items\n", reconciledCount(result))
	if !result.DryRun {
		printf("  sync map: %s\n", cfg.SyncPath)
	}
	for _, w := range result.Warnings {
		printf("  warning: %s\n", w)
	}
	return nil
}
