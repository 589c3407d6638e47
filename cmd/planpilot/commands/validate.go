package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/planpilot/planpilot/pkg/engine"
	"github.com/planpilot/planpilot/pkg/plan"
	"github.com/planpilot/planpilot/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the plan files without touching the tracker",
		Long: `Validate loads the plan files, runs every schema and referential check,
evaluates the configured policies, and reports all findings at once, without
contacting the tracker. Strict mode requires every parent and dependency
reference to resolve inside the plan; partial mode tolerates unresolved
references. Policy violations of error or critical severity make the command
fail the same way sync would.`,
		Example: `  # Validate under the configured mode
  planpilot validate

  # Tolerate unresolved references
  planpilot validate --mode partial`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if mode != "" {
				cfg.ValidationMode = mode
			}
			tel, err := newTelemetry(cfg)
			if err != nil {
				return err
			}
			defer tel.Shutdown(cmd.Context())

			p, err := loadPlan(cfg, tel.Logger)
			if err != nil {
				if issues := engine.ValidationIssues(err); issues != nil && jsonOutput {
					_ = printJSON(map[string]interface{}{"valid": false, "issues": issues})
				}
				return err
			}

			gate, err := policy.NewEngine(tel.Logger)
			if err != nil {
				return err
			}
			if len(cfg.PolicyPaths) > 0 {
				if err := gate.LoadUserPolicies(cmd.Context(), cfg.PolicyPaths); err != nil {
					return err
				}
			}
			report, err := gate.EvaluatePlan(cmd.Context(), p)
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := printJSON(map[string]interface{}{
					"valid":      true,
					"plan_id":    p.ID,
					"items":      len(p.Items),
					"mode":       cfg.ValidationMode,
					"violations": report.Violations,
				}); err != nil {
					return err
				}
			} else {
				printf("plan is valid: %d items, plan ID %s (%s mode)\n", len(p.Items), p.ID, cfg.ValidationMode)
				for _, v := range report.Violations {
					printf("  %s: %s\n", v.Severity, v.String())
				}
			}

			if blocking := report.Blocking(); len(blocking) > 0 {
				msgs := make([]string, len(blocking))
				for i, v := range blocking {
					msgs[i] = v.String()
				}
				return engine.NewPermanentError(
					"policy gate rejected the plan: "+strings.Join(msgs, "; "), nil,
				).WithCode(engine.ErrCodePlanValidation)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "validation mode override (strict or partial)")

	// Reject bad --mode values before loading anything.
	cmd.PreRunE = func(*cobra.Command, []string) error {
		if mode != "" && !plan.Mode(mode).Valid() {
			return engine.NewConfigError("invalid validation mode "+mode, nil)
		}
		return nil
	}

	return cmd
}
