package commands

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/planpilot/planpilot/pkg/engine"
)

const sampleConfig = `{
  "provider": "github",
  "target": "owner/repo",
  "auth": "gh-cli",
  "plan_paths": {
    "unified": "planpilot.plan.json"
  },
  "validation_mode": "strict",
  "observability_path": "observability.yaml"
}
`

const samplePlan = `{
  "items": [
    {
      "id": "EPIC1",
      "type": "EPIC",
      "title": "Example epic",
      "goal": "Describe the outcome this epic delivers."
    },
    {
      "id": "S1",
      "type": "STORY",
      "title": "Example story",
      "parent_id": "EPIC1",
      "acceptance_criteria": ["Replace with a verifiable criterion."]
    },
    {
      "id": "T1",
      "type": "TASK",
      "title": "Example task",
      "parent_id": "S1",
      "estimate": {"tshirt": "S"},
      "verification": {"commands": ["make test"]}
    }
  ]
}
`

const sampleObservability = `service_name: planpilot
environment: development
logging:
  level: info
  format: console
tracing:
  enabled: false
metrics:
  enabled: false
`

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Scaffold a new planpilot project",
		Long: `Init writes a starter config, a sample plan, and an observability file
into the target directory (default: the current one), and initializes the
run-history database. Existing files are left alone unless --force is given.`,
		Example: `  planpilot init
  planpilot init ./my-project --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return engine.NewConfigError("failed to create project directory "+dir, err)
			}

			files := []struct {
				name    string
				content string
			}{
				{defaultConfigPath, sampleConfig},
				{"planpilot.plan.json", samplePlan},
				{"observability.yaml", sampleObservability},
			}
			for _, f := range files {
				path := filepath.Join(dir, f.name)
				if !force {
					if _, err := os.Stat(path); err == nil {
						printf("skipping %s (exists)\n", path)
						continue
					}
				}
				if err := os.WriteFile(path, []byte(f.content), 0o644); err != nil {
					return engine.NewConfigError("failed to write "+path, err)
				}
				printf("wrote %s\n", path)
			}

			// Initialize the history database so the first sync does not
			// have to.
			prevConfigPath := configPath
			configPath = filepath.Join(dir, defaultConfigPath)
			defer func() { configPath = prevConfigPath }()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			printf("initialized history database at %s\n", cfg.HistoryPath)

			printf("\nNext steps:\n")
			printf("  1. Edit %s and set your tracker target\n", filepath.Join(dir, defaultConfigPath))
			printf("  2. Replace the sample items in planpilot.plan.json\n")
			printf("  3. Run: planpilot validate && planpilot sync --dry-run\n")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")

	return cmd
}
