package dryrun

import (
	"github.com/rs/zerolog"

	"github.com/planpilot/planpilot/pkg/config"
	"github.com/planpilot/planpilot/pkg/engine"
	"github.com/planpilot/planpilot/pkg/providers"
)

// Name is the registry name of the dry-run provider.
const Name = "dryrun"

func init() {
	providers.Register(Name, func(_ *config.Config, logger zerolog.Logger) (engine.Provider, error) {
		return New().WithLogger(logger), nil
	})
}
