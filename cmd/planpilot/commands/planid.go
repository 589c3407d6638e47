package commands

import (
	"github.com/spf13/cobra"
)

func newPlanIDCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plan-id",
		Short: "Print the canonical plan ID",
		Long: `Plan-id loads and validates the plan, computes the canonical hash over
its items, and prints it. The same plan content always yields the same ID,
regardless of file layout or item order.`,
		Example: `  planpilot plan-id
  planpilot plan-id --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tel, err := newTelemetry(cfg)
			if err != nil {
				return err
			}
			defer tel.Shutdown(cmd.Context())

			p, err := loadPlan(cfg, tel.Logger)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(map[string]string{"plan_id": p.ID})
			}
			printf("%s\n", p.ID)
			return nil
		},
	}
}
