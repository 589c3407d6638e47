package engine_test

import (
	"context"
	"testing"

	"github.com/planpilot/planpilot/pkg/engine"
	"github.com/planpilot/planpilot/pkg/providers/dryrun"
)

func newCleanPlanner(provider *dryrun.Provider) *engine.CleanPlanner {
	return engine.NewCleanPlanner(provider, engine.Config{})
}

func TestCleanDryRunOnlyCounts(t *testing.T) {
	provider := dryrun.New()
	seedMarked(provider, "aaa111aaa111", "E1", "EPIC", "")
	seedMarked(provider, "aaa111aaa111", "S1", "STORY", "E1")

	result, err := newCleanPlanner(provider).Run(context.Background(), engine.CleanOptions{
		PlanID: "aaa111aaa111",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.DryRun || result.Planned != 2 || result.Deleted != 0 {
		t.Errorf("result = %+v, want 2 planned, 0 deleted, dry run", result)
	}
	if provider.ItemCount() != 2 {
		t.Errorf("items = %d, dry run must not delete", provider.ItemCount())
	}
}

func TestCleanDeletesOnePlanOnly(t *testing.T) {
	provider := dryrun.New()
	seedMarked(provider, "aaa111aaa111", "E1", "EPIC", "")
	seedMarked(provider, "aaa111aaa111", "S1", "STORY", "E1")
	other := seedMarked(provider, "bbb222bbb222", "E1", "EPIC", "")

	result, err := newCleanPlanner(provider).Run(context.Background(), engine.CleanOptions{
		PlanID: "aaa111aaa111",
		Apply:  true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Deleted != 2 || result.Passes != 1 {
		t.Errorf("result = %+v, want 2 deleted in 1 pass", result)
	}
	if provider.ItemCount() != 1 {
		t.Errorf("items = %d, want the other plan's item to survive", provider.ItemCount())
	}
	if _, err := provider.GetItem(context.Background(), other.ID); err != nil {
		t.Errorf("other plan's item was deleted: %v", err)
	}
}

func TestCleanAllDeletesEveryPlan(t *testing.T) {
	provider := dryrun.New()
	seedMarked(provider, "aaa111aaa111", "E1", "EPIC", "")
	seedMarked(provider, "bbb222bbb222", "E1", "EPIC", "")

	result, err := newCleanPlanner(provider).Run(context.Background(), engine.CleanOptions{
		All:   true,
		Apply: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Deleted != 2 {
		t.Errorf("deleted = %d, want 2", result.Deleted)
	}
	if provider.ItemCount() != 0 {
		t.Errorf("items = %d, want 0", provider.ItemCount())
	}
}

func TestCleanSkipsUnmarkedItems(t *testing.T) {
	provider := dryrun.New()
	seedMarked(provider, "aaa111aaa111", "E1", "EPIC", "")
	provider.Seed(engine.CreateItemInput{
		Title:  "hand-made issue",
		Body:   "just a labeled issue, no metadata",
		Labels: []string{engine.DefaultLabel},
	})

	result, err := newCleanPlanner(provider).Run(context.Background(), engine.CleanOptions{
		All:   true,
		Apply: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Deleted != 1 {
		t.Errorf("deleted = %d, want 1", result.Deleted)
	}
	if provider.ItemCount() != 1 {
		t.Errorf("items = %d, the unmarked item must survive", provider.ItemCount())
	}
}

func TestCleanDeletesChildrenBeforeParents(t *testing.T) {
	provider := dryrun.New()
	provider.EnforceParentConstraint()
	e1 := seedMarked(provider, "aaa111aaa111", "E1", "EPIC", "")
	s1 := seedMarked(provider, "aaa111aaa111", "S1", "STORY", "E1")
	if err := provider.SetParent(context.Background(), s1, e1); err != nil {
		t.Fatalf("SetParent: %v", err)
	}

	result, err := newCleanPlanner(provider).Run(context.Background(), engine.CleanOptions{
		PlanID: "aaa111aaa111",
		Apply:  true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The marker parent links put S1 first, so one pass suffices even with
	// the tracker refusing to delete parents with children.
	if result.Deleted != 2 || result.Passes != 1 {
		t.Errorf("result = %+v, want 2 deleted in 1 pass", result)
	}
}

func TestCleanRetriesWhenOrderingIsUnknowable(t *testing.T) {
	provider := dryrun.New()
	provider.EnforceParentConstraint()
	// Marker blocks carry no parent links, so ordering falls back to item ID
	// and the parent (A) comes first. Its delete fails until B is gone.
	a := seedMarked(provider, "aaa111aaa111", "A", "EPIC", "")
	b := seedMarked(provider, "aaa111aaa111", "B", "STORY", "")
	if err := provider.SetParent(context.Background(), b, a); err != nil {
		t.Fatalf("SetParent: %v", err)
	}

	result, err := newCleanPlanner(provider).Run(context.Background(), engine.CleanOptions{
		PlanID: "aaa111aaa111",
		Apply:  true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Deleted != 2 || result.Passes != 2 {
		t.Errorf("result = %+v, want 2 deleted in 2 passes", result)
	}
	if provider.ItemCount() != 0 {
		t.Errorf("items = %d, want 0", provider.ItemCount())
	}
}

func TestCleanNoProgressFails(t *testing.T) {
	provider := dryrun.New()
	provider.EnforceParentConstraint()
	// The child is not labeled, so it is never a candidate; the parent's
	// delete can never succeed.
	parent := seedMarked(provider, "aaa111aaa111", "E1", "EPIC", "")
	children := provider.Seed(engine.CreateItemInput{Title: "outside child", Body: "no marker"})
	if err := provider.SetParent(context.Background(), children[0], parent); err != nil {
		t.Fatalf("SetParent: %v", err)
	}

	_, err := newCleanPlanner(provider).Run(context.Background(), engine.CleanOptions{
		PlanID: "aaa111aaa111",
		Apply:  true,
	})
	if !engine.HasCode(err, engine.ErrCodeSync) {
		t.Fatalf("err = %v, want a no-progress sync error", err)
	}
}

func TestCleanRequiresDiscoveryCapability(t *testing.T) {
	provider := dryrun.New()
	provider.SetCapabilities(engine.Capabilities{})

	_, err := newCleanPlanner(provider).Run(context.Background(), engine.CleanOptions{All: true})
	if !engine.HasCode(err, engine.ErrCodeCapability) {
		t.Fatalf("err = %v, want a capability error", err)
	}
}
