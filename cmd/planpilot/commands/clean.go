package commands

import (
	"github.com/spf13/cobra"

	"github.com/planpilot/planpilot/pkg/engine"
	"github.com/planpilot/planpilot/pkg/stores"
)

func newCleanCommand() *cobra.Command {
	var (
		planID string
		all    bool
		apply  bool
	)

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete tracker items created from a plan",
		Long: `Clean discovers tracker items carrying marker blocks and deletes them,
leaf first, so parents never outlive their children. Without --apply it only
reports what would be deleted.

The target plan defaults to the local plan files' ID; --plan-id selects a
different plan and --all removes items from every plan.`,
		Example: `  # Preview what clean would delete for the local plan
  planpilot clean

  # Delete the local plan's items
  planpilot clean --apply

  # Delete every marker-carrying item, regardless of plan
  planpilot clean --all --apply`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tel, err := newTelemetry(cfg)
			if err != nil {
				return err
			}
			defer tel.Shutdown(ctx)
			logger := tel.Logger

			if !all && planID == "" {
				p, err := loadPlan(cfg, logger)
				if err != nil {
					return err
				}
				planID = p.ID
			}

			provider, teardown, err := openProvider(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer teardown()

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			run := stores.NewSyncRun(stores.RunKindClean, planID, cfg.Target, !apply)
			if err := store.RecordRun(ctx, run); err != nil {
				return err
			}

			planner := engine.NewCleanPlanner(provider, cfg.EngineConfig()).WithLogger(logger)
			result, err := planner.Run(ctx, engine.CleanOptions{
				PlanID: planID,
				All:    all,
				Apply:  apply,
			})
			if err != nil {
				finishRunFailed(ctx, store, logger, run, err)
				return err
			}

			run.Status = stores.RunStatusSucceeded
			run.ItemsDeleted = result.Deleted
			if err := store.FinishRun(ctx, run); err != nil {
				logger.Warn().Err(err).Str("run_id", run.ID).Msg("failed to finish run record")
			}

			if jsonOutput {
				return printJSON(result)
			}
			if result.DryRun {
				printf("clean (dry run): %d items would be deleted\n", result.Planned)
				if result.Planned > 0 {
					printf("  pass --apply to delete them\n")
				}
				return nil
			}
			printf("clean: deleted %d of %d items in %d pass(es)\n",
				result.Deleted, result.Planned, result.Passes)
			return nil
		},
	}

	cmd.Flags().StringVar(&planID, "plan-id", "", "plan ID to clean (defaults to the local plan's ID)")
	cmd.Flags().BoolVar(&all, "all", false, "clean items from every plan")
	cmd.Flags().BoolVar(&apply, "apply", false, "actually delete; without it clean only reports")

	return cmd
}
