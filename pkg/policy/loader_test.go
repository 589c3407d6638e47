package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

const sampleRego = `# Flags every plan with no items.
# Empty plans are usually a loading mistake.

package planpilot.non_empty

import rego.v1

deny contains msg if {
	count(input.items) == 0
	msg := "plan has no items"
}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadFromPathsRegoFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "non-empty.rego", sampleRego)

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}

	if len(policies) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(policies))
	}
	p := policies[0]
	if p.Name != "non-empty" {
		t.Errorf("name = %q, want non-empty (from the filename)", p.Name)
	}
	if p.Severity != SeverityWarning {
		t.Errorf("severity = %q, want the warning default", p.Severity)
	}
	if !p.Enabled {
		t.Error("loaded policies start enabled")
	}
	if !strings.Contains(p.Description, "Flags every plan with no items.") {
		t.Errorf("description %q missing leading comment", p.Description)
	}
}

func TestLoadFromPathsJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "freeze.json", `{
		"name": "freeze",
		"description": "blocks all plans",
		"severity": "error",
		"enabled": true,
		"rego": "package planpilot.freeze\n\nimport rego.v1\n\ndeny contains msg if {\n\tmsg := \"frozen\"\n}\n"
	}`)

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}

	if len(policies) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(policies))
	}
	if policies[0].Severity != SeverityError {
		t.Errorf("severity = %q, want error from the definition", policies[0].Severity)
	}
}

func TestLoadFromDirectorySkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.rego", sampleRego)
	writeFile(t, dir, "bad.json", "{not json")
	writeFile(t, dir, "notes.txt", "ignored entirely")

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}

	if len(policies) != 1 || policies[0].Name != "good" {
		t.Fatalf("expected only the good policy, got %v", policies)
	}
}

func TestLoadExplicitBadFileFails(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.json", "{not json")

	loader := NewLoader(zerolog.Nop())
	if _, err := loader.LoadFromPaths(context.Background(), []string{path}); err == nil {
		t.Fatal("expected an error for an explicitly named bad file")
	}
}

func TestLoadMissingPathFails(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	_, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(t.TempDir(), "absent")})
	if err == nil {
		t.Fatal("expected an error for a missing path")
	}
}

func TestJSONPolicyRequiresNameAndRego(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(zerolog.Nop())

	noName := writeFile(t, dir, "noname.json", `{"rego": "package planpilot.x"}`)
	if _, err := loader.LoadFromPaths(context.Background(), []string{noName}); err == nil {
		t.Error("expected an error for a definition without a name")
	}

	noRego := writeFile(t, dir, "norego.json", `{"name": "x"}`)
	if _, err := loader.LoadFromPaths(context.Background(), []string{noRego}); err == nil {
		t.Error("expected an error for a definition without rego source")
	}
}

func TestLoadedUserPoliciesEvaluate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "non-empty.rego", sampleRego)

	e := newTestEngine(t)
	if err := e.LoadUserPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadUserPolicies: %v", err)
	}

	result, err := e.EvaluatePlan(context.Background(), planOf())
	if err != nil {
		t.Fatalf("EvaluatePlan: %v", err)
	}
	got := violationsFor(result, "non-empty")
	if len(got) != 1 || got[0].Message != "plan has no items" {
		t.Fatalf("expected the non-empty violation, got %v", result.Violations)
	}
}
