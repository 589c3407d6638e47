package github

import (
	"github.com/rs/zerolog"

	"github.com/planpilot/planpilot/pkg/config"
	"github.com/planpilot/planpilot/pkg/engine"
	"github.com/planpilot/planpilot/pkg/providers"
)

// Name is the registry name of the GitHub provider.
const Name = "github"

func init() {
	providers.Register(Name, func(cfg *config.Config, logger zerolog.Logger) (engine.Provider, error) {
		return New(cfg, logger), nil
	})
}
