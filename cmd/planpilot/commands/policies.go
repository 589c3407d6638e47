package commands

import (
	"github.com/spf13/cobra"

	"github.com/planpilot/planpilot/pkg/policy"
)

func newPoliciesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "List the policies the sync gate will evaluate",
		Long: `Policies lists the builtin policies plus any user policies from the
configured policy paths, with their severities. Blocking severities (error,
critical) abort a sync; the rest surface as warnings.`,
		Example: `  planpilot policies
  planpilot policies --json`,
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

			gate, err := policy.NewEngine(tel.Logger)
			if err != nil {
				return err
			}
			if len(cfg.PolicyPaths) > 0 {
				if err := gate.LoadUserPolicies(ctx, cfg.PolicyPaths); err != nil {
					return err
				}
			}

			policies := gate.ListPolicies()
			if jsonOutput {
				return printJSON(policies)
			}
			for _, p := range policies {
				state := "enabled"
				if !p.Enabled {
					state = "disabled"
				}
				printf("%-24s %-8s %-8s %s\n", p.Name, p.Severity, state, p.Description)
			}
			return nil
		},
	}
}
