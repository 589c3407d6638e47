// Package policy gates plan syncs behind OPA policies. An engine holds
// compiled Rego policies (builtins plus user policies loaded from
// configured paths) and evaluates them against a plan before any
// provider call; violations at error or critical severity block the
// sync, everything below flows into the sync result as warnings.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/planpilot/planpilot/pkg/engine"
)

// compiledPolicy pairs a policy with its prepared deny query.
type compiledPolicy struct {
	policy  Policy
	query   rego.PreparedEvalQuery
	builtin bool
}

// Engine compiles and evaluates policies. Safe for concurrent use.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

// NewEngine returns an engine with the builtin policies compiled.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	for _, p := range BuiltinPolicies() {
		if err := e.compile(context.Background(), p, true); err != nil {
			return nil, fmt.Errorf("failed to compile builtin policy %s: %w", p.Name, err)
		}
	}
	return e, nil
}

// LoadUserPolicies loads and compiles policies from the given file or
// directory paths, replacing any previously loaded user policies.
// Builtins are untouched.
func (e *Engine) LoadUserPolicies(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return engine.NewConfigError("failed to load policies", err)
	}
	return e.SetUserPolicies(ctx, policies)
}

// SetUserPolicies replaces the user policy set with the given policies.
func (e *Engine) SetUserPolicies(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for name, cp := range e.policies {
		if !cp.builtin {
			delete(e.policies, name)
		}
	}
	for _, p := range policies {
		if err := e.compile(ctx, p, false); err != nil {
			return engine.NewConfigError(
				fmt.Sprintf("failed to compile policy %s", p.Name), err)
		}
	}

	e.logger.Info().Int("count", len(policies)).Msg("user policies loaded")
	return nil
}

// compile parses the policy source and prepares its deny query. The
// caller holds the write lock except during construction.
func (e *Engine) compile(ctx context.Context, p Policy, builtin bool) error {
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	if !p.Severity.Valid() {
		return fmt.Errorf("unknown severity %q", p.Severity)
	}

	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	// Package path renders as data.<pkg>, so the deny set lives at
	// data.<pkg>.deny.
	query, err := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[p.Name] = &compiledPolicy{policy: p, query: query, builtin: builtin}
	e.logger.Debug().Str("policy", p.Name).Bool("builtin", builtin).Msg("policy compiled")
	return nil
}

// EvaluatePlan runs every enabled policy against the plan. A policy
// whose evaluation fails contributes a warning violation instead of
// aborting the whole gate.
func (e *Engine) EvaluatePlan(ctx context.Context, p *engine.Plan) (*Result, error) {
	input, err := planInput(p)
	if err != nil {
		return nil, engine.NewSyncError("failed to project plan for policy evaluation", err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)

	start := time.Now()
	var violations []Violation
	for _, name := range names {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}

		rs, err := cp.query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			if ctx.Err() != nil {
				return nil, engine.NewCancelledError(ctx.Err())
			}
			e.logger.Warn().Err(err).Str("policy", name).Msg("policy evaluation failed")
			violations = append(violations, Violation{
				Policy:   name,
				Message:  fmt.Sprintf("evaluation failed: %v", err),
				Severity: SeverityWarning,
			})
			continue
		}
		violations = append(violations, e.extractViolations(cp.policy, rs)...)
	}

	sort.Slice(violations, func(i, j int) bool {
		if violations[i].Policy != violations[j].Policy {
			return violations[i].Policy < violations[j].Policy
		}
		if violations[i].ItemID != violations[j].ItemID {
			return violations[i].ItemID < violations[j].ItemID
		}
		return violations[i].Message < violations[j].Message
	})

	allowed := true
	for i := range violations {
		if violations[i].Severity.Blocking() {
			allowed = false
			break
		}
	}

	e.logger.Debug().
		Str("plan_id", p.ID).
		Int("violations", len(violations)).
		Bool("allowed", allowed).
		Dur("duration", time.Since(start)).
		Msg("plan policy evaluation completed")

	return &Result{Allowed: allowed, Violations: violations}, nil
}

// extractViolations turns deny set entries into violations. Entries are
// either bare strings or objects carrying message, severity, rule, and
// item_id keys.
func (e *Engine) extractViolations(p Policy, rs rego.ResultSet) []Violation {
	var out []Violation
	for _, result := range rs {
		for _, expr := range result.Expressions {
			entries, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, entry := range entries {
				out = append(out, violationFromEntry(p, entry))
			}
		}
	}
	return out
}

func violationFromEntry(p Policy, entry interface{}) Violation {
	v := Violation{Policy: p.Name, Severity: p.Severity}

	switch val := entry.(type) {
	case string:
		v.Message = val
	case map[string]interface{}:
		if msg, ok := val["message"].(string); ok {
			v.Message = msg
		}
		if rule, ok := val["rule"].(string); ok {
			v.Rule = rule
		}
		if id, ok := val["item_id"].(string); ok {
			v.ItemID = id
		}
		if sev, ok := val["severity"].(string); ok && Severity(sev).Valid() {
			v.Severity = Severity(sev)
		}
	default:
		v.Message = fmt.Sprintf("%v", entry)
	}
	return v
}

// ListPolicies returns the loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		out = append(out, cp.policy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// planInput projects a plan into the document policies evaluate against:
// {"plan_id": ..., "items": [...]} with items in their canonical JSON
// shape.
func planInput(p *engine.Plan) (map[string]interface{}, error) {
	raw, err := json.Marshal(p.Items)
	if err != nil {
		return nil, err
	}
	var items []interface{}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	if items == nil {
		// Keep an empty plan as [] rather than null so count() and
		// iteration behave in rules.
		items = []interface{}{}
	}
	return map[string]interface{}{
		"plan_id": p.ID,
		"items":   items,
	}, nil
}
