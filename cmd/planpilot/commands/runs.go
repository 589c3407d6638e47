package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/planpilot/planpilot/pkg/stores"
)

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run history",
	}
	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	return cmd
}

func newRunsListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Example: `  planpilot runs list
  planpilot runs list --limit 5 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(runs)
			}
			if len(runs) == 0 {
				printf("no runs recorded\n")
				return nil
			}
			for _, run := range runs {
				printf("%s  %-8s %-9s plan=%s created=%d updated=%d deleted=%d%s\n",
					run.StartedAt.Format(time.RFC3339),
					run.Kind, run.Status, run.PlanID,
					run.EpicsCreated+run.StoriesCreated+run.TasksCreated,
					run.ItemsUpdated, run.ItemsDeleted,
					dryRunSuffix(run))
				printf("  id: %s\n", run.ID)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")

	return cmd
}

func newRunsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "show <run-id>",
		Short:   "Show one run and its events",
		Example: `  planpilot runs show 2f0b5c4e-7d21-4a6f-9c1e-8d3a5b6c7d8e`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			events, err := store.ListEvents(ctx, run.ID)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(map[string]interface{}{"run": run, "events": events})
			}

			printf("run %s (%s)%s\n", run.ID, run.Kind, dryRunSuffix(run))
			printf("  plan:    %s\n", run.PlanID)
			printf("  target:  %s\n", run.Target)
			printf("  status:  %s\n", run.Status)
			printf("  started: %s\n", run.StartedAt.Format(time.RFC3339))
			if run.FinishedAt != nil {
				printf("  finished: %s (%s)\n",
					run.FinishedAt.Format(time.RFC3339),
					run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
			}
			printf("  created: %d epics, %d stories, %d tasks\n",
				run.EpicsCreated, run.StoriesCreated, run.TasksCreated)
			printf("  updated: %d, deleted: %d, warnings: %d\n",
				run.ItemsUpdated, run.ItemsDeleted, run.Warnings)
			if run.Error != nil {
				printf("  error: %s\n", *run.Error)
			}
			for _, ev := range events {
				item := ""
				if ev.ItemID != nil {
					item = " [" + *ev.ItemID + "]"
				}
				printf("  %s  %s%s: %s\n", ev.Timestamp.Format(time.RFC3339), ev.Kind, item, ev.Message)
			}
			return nil
		},
	}
}

func dryRunSuffix(run *stores.SyncRun) string {
	if run.DryRun {
		return " (dry run)"
	}
	return ""
}
