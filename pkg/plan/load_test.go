package plan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/planpilot/planpilot/pkg/engine"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	loader, err := NewLoader()
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}
	return loader
}

const unifiedPlan = `{
  "items": [
    {"id": "E1", "type": "EPIC", "title": "Widget", "goal": "Widget exists",
     "requirements": ["frame"], "acceptance_criteria": ["QA pass"]},
    {"id": "S1", "type": "STORY", "title": "Frame", "goal": "Frame assembled",
     "parent_id": "E1", "requirements": ["bolts"], "acceptance_criteria": ["holds"]},
    {"id": "T1", "type": "TASK", "title": "Bolts", "goal": "Bolts delivered",
     "parent_id": "S1", "requirements": ["quote"], "acceptance_criteria": ["in stock"],
     "estimate": {"tshirt": "S", "hours": 2}}
  ]
}`

func TestLoadUnified(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "plan.json", unifiedPlan)

	p, err := newTestLoader(t).Load(Paths{Unified: path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(p.Items) != 3 {
		t.Fatalf("Load() loaded %d items, want 3", len(p.Items))
	}
	task := p.ItemByID("T1")
	if task == nil || task.Type != engine.ItemTypeTask {
		t.Fatalf("ItemByID(T1) = %+v", task)
	}
	if task.Estimate.IsZero() || task.Estimate.TShirt != "S" {
		t.Errorf("estimate = %+v", task.Estimate)
	}
}

func TestLoadUnifiedRequiresType(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "plan.json",
		`{"items": [{"id": "E1", "title": "Widget"}]}`)

	_, err := newTestLoader(t).Load(Paths{Unified: path})
	if err == nil {
		t.Fatal("Load() expected an error for a typeless unified item")
	}
	if !engine.HasCode(err, engine.ErrCodePlanLoad) {
		t.Errorf("Load() = %v, want code %s", err, engine.ErrCodePlanLoad)
	}
}

func TestLoadPerTypeFiles(t *testing.T) {
	dir := t.TempDir()
	epics := writeFile(t, dir, "epics.json",
		`[{"id": "E1", "title": "Widget", "goal": "g", "requirements": ["r"], "acceptance_criteria": ["a"]}]`)
	stories := writeFile(t, dir, "stories.json",
		`[{"id": "S1", "title": "Frame", "goal": "g", "parent_id": "E1", "requirements": ["r"], "acceptance_criteria": ["a"]}]`)
	tasks := writeFile(t, dir, "tasks.json",
		`[{"id": "T1", "title": "Bolts", "goal": "g", "parent_id": "S1", "requirements": ["r"], "acceptance_criteria": ["a"]}]`)

	p, err := newTestLoader(t).Load(Paths{Epics: epics, Stories: stories, Tasks: tasks})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	for id, want := range map[string]engine.ItemType{
		"E1": engine.ItemTypeEpic,
		"S1": engine.ItemTypeStory,
		"T1": engine.ItemTypeTask,
	} {
		item := p.ItemByID(id)
		if item == nil {
			t.Fatalf("item %s not loaded", id)
		}
		if item.Type != want {
			t.Errorf("item %s type = %s, want %s", id, item.Type, want)
		}
	}
}

func TestLoadFileRoleOverridesStatedType(t *testing.T) {
	dir := t.TempDir()
	tasks := writeFile(t, dir, "tasks.json",
		`[{"id": "T1", "type": "EPIC", "title": "Bolts"}]`)

	p, err := newTestLoader(t).Load(Paths{Tasks: tasks})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := p.ItemByID("T1").Type; got != engine.ItemTypeTask {
		t.Errorf("type = %s, want TASK from file role", got)
	}
}

func TestLoadRejectsMixedModes(t *testing.T) {
	dir := t.TempDir()
	unified := writeFile(t, dir, "plan.json", unifiedPlan)
	tasks := writeFile(t, dir, "tasks.json", `[]`)

	_, err := newTestLoader(t).Load(Paths{Unified: unified, Tasks: tasks})
	if err == nil {
		t.Fatal("Load() expected an error for mixed modes")
	}
}

func TestLoadRejectsEmptyPlan(t *testing.T) {
	dir := t.TempDir()
	tasks := writeFile(t, dir, "tasks.json", `[]`)

	_, err := newTestLoader(t).Load(Paths{Tasks: tasks})
	if err == nil {
		t.Fatal("Load() expected an error for an empty plan")
	}
	if !strings.Contains(err.Error(), "no items") {
		t.Errorf("Load() = %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := newTestLoader(t).Load(Paths{Unified: filepath.Join(t.TempDir(), "absent.json")})
	if err == nil {
		t.Fatal("Load() expected an error for a missing file")
	}
	if !engine.HasCode(err, engine.ErrCodePlanLoad) {
		t.Errorf("Load() = %v, want code %s", err, engine.ErrCodePlanLoad)
	}
}

func TestLoadSchemaFindingsAreAggregated(t *testing.T) {
	dir := t.TempDir()
	tasks := writeFile(t, dir, "tasks.json",
		`[{"id": "", "title": "no id"},
		  {"id": "T2", "title": 42},
		  {"id": "T3", "title": "fine", "surprise": true}]`)

	_, err := newTestLoader(t).Load(Paths{Tasks: tasks})
	if err == nil {
		t.Fatal("Load() expected schema errors")
	}
	if !strings.Contains(err.Error(), "3 plan records") {
		t.Errorf("Load() = %v, want all three findings reported", err)
	}
}

func TestLoadStarlarkItemsGlobal(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, dir, "tasks.star", `
items = [
    item(id = "T%d" % i, title = "Task %d" % i, goal = "g",
         requirements = ["r"], acceptance_criteria = ["a"])
    for i in range(3)
]
`)

	p, err := newTestLoader(t).Load(Paths{Tasks: script})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(p.Items) != 3 {
		t.Fatalf("Load() loaded %d items, want 3", len(p.Items))
	}
	if p.ItemByID("T1") == nil {
		t.Error("item T1 not loaded from script")
	}
}

func TestLoadStarlarkPlanFunction(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, dir, "plan.star", `
def plan():
    return [
        {"id": "E1", "type": "EPIC", "title": "Widget", "goal": "g",
         "requirements": ["r"], "acceptance_criteria": ["a"],
         "estimate": {"tshirt": "L", "hours": 16.0}},
    ]
`)

	p, err := newTestLoader(t).Load(Paths{Unified: script})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	epic := p.ItemByID("E1")
	if epic == nil {
		t.Fatal("epic not loaded from plan()")
	}
	if epic.Estimate.IsZero() || epic.Estimate.Hours != 16 {
		t.Errorf("estimate = %+v", epic.Estimate)
	}
}

func TestLoadStarlarkWithoutExports(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, dir, "plan.star", `x = 1`)

	_, err := newTestLoader(t).Load(Paths{Unified: script})
	if err == nil {
		t.Fatal("Load() expected an error for a script with no exports")
	}
	if !strings.Contains(err.Error(), "neither an items list nor a plan() function") {
		t.Errorf("Load() = %v", err)
	}
}
