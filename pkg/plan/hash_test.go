package plan

import (
	"regexp"
	"testing"

	"github.com/planpilot/planpilot/pkg/engine"
)

func baseItems() []*engine.PlanItem {
	return []*engine.PlanItem{
		{
			ID:                 "E1",
			Type:               engine.ItemTypeEpic,
			Title:              "Build the widget",
			Goal:               "Widget exists",
			Requirements:       []string{"widget frame"},
			AcceptanceCriteria: []string{"frame passes QA"},
		},
		{
			ID:                 "S1",
			Type:               engine.ItemTypeStory,
			Title:              "Frame assembly",
			Goal:               "Frame assembled",
			ParentID:           "E1",
			Requirements:       []string{"bolts"},
			AcceptanceCriteria: []string{"frame holds"},
		},
		{
			ID:                 "T1",
			Type:               engine.ItemTypeTask,
			Title:              "Order bolts",
			Goal:               "Bolts delivered",
			ParentID:           "S1",
			Requirements:       []string{"supplier quote"},
			AcceptanceCriteria: []string{"bolts in stock"},
		},
	}
}

func TestHashShape(t *testing.T) {
	id, err := Hash(baseItems())
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !regexp.MustCompile(`^[0-9a-f]{12}$`).MatchString(id) {
		t.Errorf("Hash() = %q, want 12 lowercase hex characters", id)
	}
}

func TestHashIgnoresItemOrder(t *testing.T) {
	items := baseItems()
	want, err := Hash(items)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	reversed := []*engine.PlanItem{items[2], items[0], items[1]}
	got, err := Hash(reversed)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if got != want {
		t.Errorf("hash changed with load order: %q vs %q", got, want)
	}
}

func TestHashTreatsAbsentAndEmptyAlike(t *testing.T) {
	absent := baseItems()
	want, err := Hash(absent)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	empty := baseItems()
	empty[0].Risks = []string{}
	empty[0].SubItemIDs = []string{}
	empty[1].Estimate = &engine.Estimate{}
	empty[1].Verification = &engine.Verification{Commands: []string{}}
	empty[2].SpecRef = &engine.SpecRef{}
	empty[2].Scope = &engine.Scope{InScope: []string{}}

	got, err := Hash(empty)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if got != want {
		t.Errorf("empty optionals changed the hash: %q vs %q", got, want)
	}
}

func TestHashSensitiveToContent(t *testing.T) {
	items := baseItems()
	before, err := Hash(items)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	items[2].Title = "Order more bolts"
	after, err := Hash(items)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if before == after {
		t.Error("hash did not change when a title changed")
	}
}

func TestHashSensitiveToPopulatedOptionals(t *testing.T) {
	items := baseItems()
	before, err := Hash(items)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	items[2].Estimate = &engine.Estimate{TShirt: "M", Hours: 4}
	after, err := Hash(items)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if before == after {
		t.Error("hash did not change when an estimate was added")
	}
}

func TestHashStableAcrossCalls(t *testing.T) {
	first, err := Hash(baseItems())
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	second, err := Hash(baseItems())
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if first != second {
		t.Errorf("Hash() is not deterministic: %q vs %q", first, second)
	}
}

func TestFinalizeStampsID(t *testing.T) {
	p := engine.NewPlan(baseItems())
	if err := Finalize(p); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if len(p.ID) != planIDLength {
		t.Errorf("plan ID = %q, want %d characters", p.ID, planIDLength)
	}
}
