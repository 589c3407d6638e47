// Package config loads and validates the tool configuration file. The config
// is a single JSON object; all paths inside it are resolved relative to the
// config file's directory at load time, so callers never re-resolve.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/planpilot/planpilot/pkg/engine"
)

// Auth strategy identifiers.
const (
	AuthGHCLI = "gh-cli"
	AuthEnv   = "env"
	AuthToken = "token"
)

// Validation mode identifiers, mirrored by the plan validator.
const (
	ValidationStrict  = "strict"
	ValidationPartial = "partial"
)

// Create-type strategies for providers that can classify items natively.
const (
	CreateTypeIssueType = "issue-type"
	CreateTypeLabel     = "label"
	CreateTypeNone      = "none"
)

// Defaults applied before validation.
const (
	DefaultSyncPath    = "planpilot.sync.json"
	DefaultHistoryPath = ".planpilot/history.db"
)

// PlanPaths names the plan input files. Either Unified is set, or any subset
// of the per-type paths; the loader rejects a mix.
type PlanPaths struct {
	// Epics, Stories, and Tasks are per-type plan files.
	Epics   string `json:"epics,omitempty"`
	Stories string `json:"stories,omitempty"`
	Tasks   string `json:"tasks,omitempty"`

	// Unified is a single file holding all items with explicit types.
	Unified string `json:"unified,omitempty"`
}

// unified and perType report which mode the paths select.
func (p PlanPaths) unified() bool { return p.Unified != "" }
func (p PlanPaths) perType() bool {
	return p.Epics != "" || p.Stories != "" || p.Tasks != ""
}

// FieldConfig maps board workflow fields. Status, priority, and iteration
// are written once at creation and never reconciled afterwards; they belong
// to the humans working the board.
type FieldConfig struct {
	// Status is the initial status option name for created items.
	Status string `json:"status,omitempty"`

	// Priority is the initial priority option name.
	Priority string `json:"priority,omitempty"`

	// Iteration is the initial iteration name.
	Iteration string `json:"iteration,omitempty"`

	// SizeField is the board field receiving the size value.
	SizeField string `json:"size_field,omitempty"`

	// SizeFromTShirt maps the plan's t-shirt estimate into SizeField.
	SizeFromTShirt bool `json:"size_from_tshirt,omitempty"`

	// CreateTypeStrategy selects how item types reach the tracker:
	// native issue types, a type label, or not at all.
	CreateTypeStrategy string `json:"create_type_strategy,omitempty" validate:"omitempty,oneof=issue-type label none"`

	// CreateTypeMap maps plan item types to tracker type names or labels.
	CreateTypeMap map[string]string `json:"create_type_map,omitempty"`
}

// Config is the decoded configuration file.
type Config struct {
	// Provider selects the provider adapter by registry name.
	Provider string `json:"provider" validate:"required"`

	// Target is the adapter-specific target (e.g. "owner/repo").
	Target string `json:"target,omitempty"`

	// Auth selects the auth strategy.
	Auth string `json:"auth,omitempty" validate:"omitempty,oneof=gh-cli env token"`

	// Token is the inline token, used only with Auth == "token".
	Token string `json:"token,omitempty"`

	// BoardURL is the project board URL.
	BoardURL string `json:"board_url,omitempty" validate:"omitempty,url"`

	// PlanPaths names the plan input files.
	PlanPaths PlanPaths `json:"plan_paths"`

	// ValidationMode is "strict" or "partial".
	ValidationMode string `json:"validation_mode,omitempty" validate:"omitempty,oneof=strict partial"`

	// SyncPath is where the sync map is written after a successful run.
	SyncPath string `json:"sync_path,omitempty"`

	// Label is applied to every created item and drives discovery.
	Label string `json:"label,omitempty"`

	// MaxConcurrent bounds in-flight provider calls within a phase.
	MaxConcurrent int `json:"max_concurrent,omitempty" validate:"omitempty,min=1"`

	// FieldConfig maps board workflow fields.
	FieldConfig FieldConfig `json:"field_config,omitempty"`

	// PolicyPaths lists extra policy files or directories.
	PolicyPaths []string `json:"policy_paths,omitempty"`

	// HistoryPath locates the run-history database.
	HistoryPath string `json:"history_path,omitempty"`

	// ObservabilityPath locates the optional observability settings file.
	ObservabilityPath string `json:"observability_path,omitempty"`

	// Dir is the config file's directory, the base for relative paths.
	Dir string `json:"-"`
}

// Load reads, defaults, resolves, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewConfigError("failed to read config file "+path, err)
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, engine.NewConfigError("failed to parse config file "+path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, engine.NewConfigError("failed to resolve config path "+path, err)
	}
	cfg.Dir = filepath.Dir(abs)
	cfg.applyDefaults()
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills zero values before validation.
func (c *Config) applyDefaults() {
	if c.Auth == "" {
		c.Auth = AuthGHCLI
	}
	if c.ValidationMode == "" {
		c.ValidationMode = ValidationStrict
	}
	if c.Label == "" {
		c.Label = engine.DefaultLabel
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = engine.DefaultMaxConcurrent
	}
	if c.SyncPath == "" {
		c.SyncPath = DefaultSyncPath
	}
	if c.HistoryPath == "" {
		c.HistoryPath = DefaultHistoryPath
	}
}

// resolvePaths anchors every relative path at the config directory.
func (c *Config) resolvePaths() {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(c.Dir, *p)
		}
	}
	resolve(&c.PlanPaths.Epics)
	resolve(&c.PlanPaths.Stories)
	resolve(&c.PlanPaths.Tasks)
	resolve(&c.PlanPaths.Unified)
	resolve(&c.SyncPath)
	resolve(&c.HistoryPath)
	resolve(&c.ObservabilityPath)
	for i := range c.PolicyPaths {
		resolve(&c.PolicyPaths[i])
	}
}

// Validate checks field constraints and the cross-field rules: plan path
// modes are mutually exclusive, at least one plan file is named, and a token
// is present exactly when the token strategy is selected.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return engine.NewConfigError(formatFieldErrors(err), err)
	}

	switch {
	case c.PlanPaths.unified() && c.PlanPaths.perType():
		return engine.NewConfigError("plan_paths: unified and per-type paths are mutually exclusive", nil)
	case !c.PlanPaths.unified() && !c.PlanPaths.perType():
		return engine.NewConfigError("plan_paths: no plan files configured", nil)
	}

	if c.Auth == AuthToken && c.Token == "" {
		return engine.NewConfigError(`auth "token" requires a non-empty token`, nil)
	}
	if c.Auth != AuthToken && c.Token != "" {
		return engine.NewConfigError(fmt.Sprintf("token is set but auth is %q", c.Auth), nil)
	}
	return nil
}

// EngineConfig projects the engine-relevant knobs.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		Label:         c.Label,
		Target:        c.Target,
		BoardURL:      c.BoardURL,
		MaxConcurrent: c.MaxConcurrent,
	}
}

// formatFieldErrors renders validator findings into one readable message.
func formatFieldErrors(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return "invalid configuration"
	}
	msgs := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		msgs[i] = fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag())
	}
	return "invalid configuration: " + strings.Join(msgs, ", ")
}
