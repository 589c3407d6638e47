package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDebounce coalesces bursts of file events into one reload.
const reloadDebounce = 500 * time.Millisecond

// Loader reads user policies from .rego and .json files and can watch
// their paths for changes.
type Loader struct {
	logger  zerolog.Logger
	watcher *fsnotify.Watcher
}

// NewLoader creates a policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
	}
}

// LoadFromPaths loads policies from a list of file or directory paths.
// Directories are walked recursively; files inside them that fail to
// parse are skipped with a warning, while an explicitly named file that
// fails to parse is an error.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat policy path %s: %w", path, err)
		}

		if info.IsDir() {
			policies, err := l.loadDirectory(path)
			if err != nil {
				return nil, err
			}
			all = append(all, policies...)
			continue
		}

		policy, err := l.loadFile(path)
		if err != nil {
			return nil, err
		}
		all = append(all, *policy)
	}

	l.logger.Info().
		Int("total", len(all)).
		Int("sources", len(paths)).
		Msg("policies loaded")

	return all, nil
}

func (l *Loader) loadDirectory(dir string) ([]Policy, error) {
	var policies []Policy

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !policyFile(path) {
			return nil
		}

		policy, err := l.loadFile(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("skipping unparseable policy file")
			return nil
		}
		policies = append(policies, *policy)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk policy directory %s: %w", dir, err)
	}

	return policies, nil
}

func (l *Loader) loadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var policy *Policy
	switch {
	case strings.HasSuffix(path, ".rego"):
		policy = parseRegoFile(path, data)
	case strings.HasSuffix(path, ".json"):
		policy, err = parseJSONFile(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported policy file type: %s", path)
	}

	l.logger.Debug().Str("path", path).Str("policy", policy.Name).Msg("policy file loaded")
	return policy, nil
}

// parseRegoFile wraps raw Rego in a Policy named after the file, with a
// description taken from the leading comment block.
func parseRegoFile(path string, data []byte) *Policy {
	return &Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: leadingComment(string(data)),
		Rego:        string(data),
		Severity:    SeverityWarning,
		Enabled:     true,
	}
}

// parseJSONFile decodes a full policy definition, including severity.
func parseJSONFile(data []byte) (*Policy, error) {
	var policy Policy
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, err
	}
	if policy.Name == "" {
		return nil, fmt.Errorf("policy definition has no name")
	}
	if policy.Rego == "" {
		return nil, fmt.Errorf("policy %s has no rego source", policy.Name)
	}
	if policy.Severity == "" {
		policy.Severity = SeverityWarning
	}
	return &policy, nil
}

// leadingComment collects the comment lines before the first directive.
func leadingComment(src string) string {
	var b strings.Builder
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if trimmed != "" {
				break
			}
			continue
		}
		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if comment == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(comment)
	}
	return b.String()
}

func policyFile(path string) bool {
	return strings.HasSuffix(path, ".rego") || strings.HasSuffix(path, ".json")
}

// Watch re-loads the given paths whenever a policy file under them is
// written or created, debounced, and hands the result to apply. It
// returns after starting the background watcher; cancel the context or
// call Close to stop it.
func (l *Loader) Watch(ctx context.Context, paths []string, apply func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}
	l.watcher = watcher

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("cannot watch policy path")
			continue
		}
		if info.IsDir() {
			err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					return watcher.Add(p)
				}
				return nil
			})
		} else {
			err = watcher.Add(path)
		}
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("cannot watch policy path")
		}
	}

	go l.watchLoop(ctx, paths, apply)

	l.logger.Info().Int("paths", len(paths)).Msg("watching policy paths")
	return nil
}

func (l *Loader) watchLoop(ctx context.Context, paths []string, apply func([]Policy) error) {
	var reload *time.Timer

	for {
		select {
		case <-ctx.Done():
			_ = l.watcher.Close()
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !policyFile(event.Name) {
				continue
			}
			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("policy file changed")

			if reload != nil {
				reload.Stop()
			}
			reload = time.AfterFunc(reloadDebounce, func() {
				policies, err := l.LoadFromPaths(ctx, paths)
				if err != nil {
					l.logger.Error().Err(err).Msg("policy reload failed")
					return
				}
				if err := apply(policies); err != nil {
					l.logger.Error().Err(err).Msg("failed to apply reloaded policies")
					return
				}
				l.logger.Info().Int("count", len(policies)).Msg("policies reloaded")
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("policy watcher error")
		}
	}
}

// Close stops watching, if a watch was started.
func (l *Loader) Close() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}
