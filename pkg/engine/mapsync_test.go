package engine_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/planpilot/planpilot/pkg/engine"
	"github.com/planpilot/planpilot/pkg/marker"
	"github.com/planpilot/planpilot/pkg/providers/dryrun"
)

func seedMarked(provider *dryrun.Provider, planID, itemID, itemType, parentID string) *engine.Item {
	block := marker.Block{PlanID: planID, ItemID: itemID, ItemType: itemType, ParentID: parentID}
	items := provider.Seed(engine.CreateItemInput{
		Title:    itemID,
		Body:     block.Render() + "\n## Goal\n\nbody of " + itemID + "\n",
		ItemType: engine.ItemType(itemType),
		Labels:   []string{engine.DefaultLabel},
	})
	return items[0]
}

func newMapSyncPlanner(provider *dryrun.Provider) *engine.MapSyncPlanner {
	return engine.NewMapSyncPlanner(provider, engine.Config{})
}

func TestDiscoverPlanIDs(t *testing.T) {
	provider := dryrun.New()
	seedMarked(provider, "bbb222bbb222", "E1", "EPIC", "")
	seedMarked(provider, "aaa111aaa111", "E1", "EPIC", "")
	seedMarked(provider, "aaa111aaa111", "S1", "STORY", "E1")

	ids, err := newMapSyncPlanner(provider).DiscoverPlanIDs(context.Background())
	if err != nil {
		t.Fatalf("DiscoverPlanIDs: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"aaa111aaa111", "bbb222bbb222"}) {
		t.Errorf("plan IDs = %v", ids)
	}
}

func TestMapSyncAutoSelectsSinglePlan(t *testing.T) {
	provider := dryrun.New()
	seedMarked(provider, "aaa111aaa111", "E1", "EPIC", "")

	result, err := newMapSyncPlanner(provider).Run(context.Background(), engine.MapSyncOptions{
		Target: "acme/widgets",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.PlanID != "aaa111aaa111" {
		t.Errorf("plan ID = %s", result.PlanID)
	}
	if result.SyncMap.Target != "acme/widgets" {
		t.Errorf("target = %s", result.SyncMap.Target)
	}
}

func TestMapSyncSeveralPlansNeedExplicitSelection(t *testing.T) {
	provider := dryrun.New()
	seedMarked(provider, "aaa111aaa111", "E1", "EPIC", "")
	seedMarked(provider, "bbb222bbb222", "E1", "EPIC", "")

	_, err := newMapSyncPlanner(provider).Run(context.Background(), engine.MapSyncOptions{})
	if !engine.HasCode(err, engine.ErrCodePlanSelection) {
		t.Fatalf("err = %v, want a plan-selection error", err)
	}
	candidates := engine.PlanCandidates(err)
	if !reflect.DeepEqual(candidates, []string{"aaa111aaa111", "bbb222bbb222"}) {
		t.Errorf("candidates = %v", candidates)
	}
}

func TestMapSyncNoPlansFound(t *testing.T) {
	_, err := newMapSyncPlanner(dryrun.New()).Run(context.Background(), engine.MapSyncOptions{})
	if err == nil {
		t.Fatal("expected an error with no plans discovered")
	}
}

func TestMapSyncRebuildsAndDiffs(t *testing.T) {
	provider := dryrun.New()
	e1 := seedMarked(provider, "aaa111aaa111", "E1", "EPIC", "")
	s1 := seedMarked(provider, "aaa111aaa111", "S1", "STORY", "E1")
	seedMarked(provider, "bbb222bbb222", "E1", "EPIC", "") // other plan, must not leak in

	local := engine.NewSyncMap("aaa111aaa111", "acme/widgets", "")
	local.Entries["E1"] = engine.SyncEntry{ID: "stale-id", Key: "stale", ItemType: engine.ItemTypeEpic}
	local.Entries["GONE"] = engine.SyncEntry{ID: "gone-id", Key: "gone"}

	result, err := newMapSyncPlanner(provider).Run(context.Background(), engine.MapSyncOptions{
		PlanID: "aaa111aaa111",
		Target: "acme/widgets",
		Local:  local,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.SyncMap.Entries) != 2 {
		t.Fatalf("rebuilt map has %d entries, want 2", len(result.SyncMap.Entries))
	}
	if result.SyncMap.Entries["E1"].ID != e1.ID || result.SyncMap.Entries["S1"].ID != s1.ID {
		t.Errorf("entries = %+v", result.SyncMap.Entries)
	}
	if !reflect.DeepEqual(result.Added, []string{"S1"}) {
		t.Errorf("added = %v", result.Added)
	}
	if !reflect.DeepEqual(result.Updated, []string{"E1"}) {
		t.Errorf("updated = %v", result.Updated)
	}
	if !reflect.DeepEqual(result.Removed, []string{"GONE"}) {
		t.Errorf("removed = %v", result.Removed)
	}
}

func TestMapSyncRequiresDiscoveryCapability(t *testing.T) {
	provider := dryrun.New()
	provider.SetCapabilities(engine.Capabilities{})

	_, err := newMapSyncPlanner(provider).DiscoverPlanIDs(context.Background())
	if !engine.HasCode(err, engine.ErrCodeCapability) {
		t.Fatalf("err = %v, want a capability error", err)
	}
}
