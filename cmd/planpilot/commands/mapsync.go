package commands

import (
	"github.com/spf13/cobra"

	"github.com/planpilot/planpilot/pkg/config"
	"github.com/planpilot/planpilot/pkg/engine"
)

func newMapSyncCommand() *cobra.Command {
	var (
		planID string
		write  bool
	)

	cmd := &cobra.Command{
		Use:   "map-sync",
		Short: "Rebuild the sync map from remote marker blocks",
		Long: `Map-sync queries the tracker for items carrying marker blocks and
rebuilds the sync map from what it finds. It is read-only on the tracker;
the local map is only replaced with --write.

When the tracker holds items from several plans, the plan must be selected
explicitly with --plan-id; the error lists the candidates.`,
		Example: `  # Show how the remote state differs from the local map
  planpilot map-sync

  # Rebuild the map for a specific plan and persist it
  planpilot map-sync --plan-id abc123def456 --write`,
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

			local, err := config.ReadSyncMap(cfg.SyncPath)
			if err != nil {
				return err
			}

			provider, teardown, err := openProvider(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer teardown()

			planner := engine.NewMapSyncPlanner(provider, cfg.EngineConfig()).WithLogger(logger)
			result, err := planner.Run(ctx, engine.MapSyncOptions{
				PlanID:   planID,
				Target:   cfg.Target,
				BoardURL: cfg.BoardURL,
				Local:    local,
			})
			if err != nil {
				return err
			}

			if write {
				if err := config.WriteSyncMap(cfg.SyncPath, result.SyncMap); err != nil {
					return err
				}
			}

			if jsonOutput {
				return printJSON(result)
			}
			printf("plan %s: %d items mapped remotely\n", result.PlanID, len(result.SyncMap.Entries))
			printf("  added: %d, updated: %d, removed: %d\n",
				len(result.Added), len(result.Updated), len(result.Removed))
			for _, id := range result.Added {
				printf("  + %s\n", id)
			}
			for _, id := range result.Updated {
				printf("  ~ %s\n", id)
			}
			for _, id := range result.Removed {
				printf("  - %s\n", id)
			}
			if write {
				printf("  sync map written to %s\n", cfg.SyncPath)
			} else if len(result.Added)+len(result.Updated)+len(result.Removed) > 0 {
				printf("  (local map unchanged; pass --write to persist)\n")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&planID, "plan-id", "", "plan ID to rebuild the map for")
	cmd.Flags().BoolVar(&write, "write", false, "replace the local sync map with the rebuilt one")

	return cmd
}
