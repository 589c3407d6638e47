package github

import (
	"os"
	"os/exec"
	"strings"

	"github.com/planpilot/planpilot/pkg/config"
	"github.com/planpilot/planpilot/pkg/engine"
)

// CommandExecutor runs a command and returns its combined output. Injectable
// so tests never shell out.
type CommandExecutor func(name string, args ...string) ([]byte, error)

// defaultExecutor runs commands through os/exec.
var defaultExecutor CommandExecutor = func(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// resolveToken produces the API token for the configured auth strategy.
func resolveToken(cfg *config.Config, executor CommandExecutor) (string, error) {
	switch cfg.Auth {
	case config.AuthGHCLI:
		output, err := executor("gh", "auth", "token")
		if err != nil {
			return "", engine.NewAuthenticationError(
				"gh auth token failed (is the gh CLI installed and logged in?): "+
					strings.TrimSpace(string(output)), err)
		}
		token := strings.TrimSpace(string(output))
		if token == "" {
			return "", engine.NewAuthenticationError("gh auth token returned no token", nil)
		}
		return token, nil

	case config.AuthEnv:
		if token := os.Getenv("GITHUB_TOKEN"); token != "" {
			return token, nil
		}
		if token := os.Getenv("GH_TOKEN"); token != "" {
			return token, nil
		}
		return "", engine.NewAuthenticationError("neither GITHUB_TOKEN nor GH_TOKEN is set", nil)

	case config.AuthToken:
		if cfg.Token == "" {
			return "", engine.NewAuthenticationError("config auth is \"token\" but no token is set", nil)
		}
		return cfg.Token, nil

	default:
		return "", engine.NewAuthenticationError("unknown auth strategy "+cfg.Auth, nil)
	}
}
