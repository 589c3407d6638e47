package engine

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/planpilot/planpilot/pkg/marker"
)

// MapSyncOptions controls one map-sync run.
type MapSyncOptions struct {
	// PlanID selects the plan explicitly. When empty, a single discovered
	// candidate auto-selects; several candidates fail with a plan-selection
	// error carrying the candidate list.
	PlanID string

	// Target and BoardURL are copied into the rebuilt sync map.
	Target   string
	BoardURL string

	// Local is the current local sync map, used to derive the diff. May be
	// nil when no local map exists yet.
	Local *SyncMap
}

// MapSyncPlanner rebuilds a sync map from remote marker blocks. It is
// read-only: it never mutates the provider, and writing the rebuilt map to
// disk is the caller's concern.
type MapSyncPlanner struct {
	provider Provider
	cfg      Config
	logger   zerolog.Logger
}

// NewMapSyncPlanner creates a planner over an already-set-up provider.
func NewMapSyncPlanner(provider Provider, cfg Config) *MapSyncPlanner {
	return &MapSyncPlanner{provider: provider, cfg: cfg.normalized(), logger: zerolog.Nop()}
}

// WithLogger attaches a logger.
func (p *MapSyncPlanner) WithLogger(logger zerolog.Logger) *MapSyncPlanner {
	p.logger = logger.With().Str("component", "map-sync").Logger()
	return p
}

// DiscoverPlanIDs returns the distinct plan IDs found in marker blocks of
// items carrying the configured label, sorted.
func (p *MapSyncPlanner) DiscoverPlanIDs(ctx context.Context) ([]string, error) {
	if !p.provider.Capabilities().DiscoveryByBodyContains {
		return nil, NewCapabilityError(CapabilityDiscoveryByBodyContains)
	}

	found, err := p.provider.SearchItems(ctx, ItemSearchFilters{
		Labels:       []string{p.cfg.Label},
		BodyContains: marker.KeyPlanID + ":",
	})
	if err != nil {
		return nil, NewSyncError("plan discovery search failed", err)
	}

	seen := make(map[string]bool)
	var ids []string
	for _, item := range found {
		block, err := marker.Parse(item.Body)
		if err != nil || seen[block.PlanID] {
			continue
		}
		seen[block.PlanID] = true
		ids = append(ids, block.PlanID)
	}
	sort.Strings(ids)
	return ids, nil
}

// Run discovers the chosen plan's items and rebuilds the sync map, then
// diffs it against the local map.
func (p *MapSyncPlanner) Run(ctx context.Context, opts MapSyncOptions) (*MapSyncResult, error) {
	planID := opts.PlanID
	if planID == "" {
		candidates, err := p.DiscoverPlanIDs(ctx)
		if err != nil {
			return nil, err
		}
		switch len(candidates) {
		case 0:
			return nil, NewSyncError("no plans found under label "+p.cfg.Label, nil)
		case 1:
			planID = candidates[0]
		default:
			return nil, NewPlanSelectionError(candidates)
		}
	}

	remote, err := p.discoverPlanItems(ctx, planID)
	if err != nil {
		return nil, err
	}

	rebuilt := NewSyncMap(planID, opts.Target, opts.BoardURL)
	for itemID, item := range remote {
		rebuilt.Entries[itemID] = ToSyncEntry(item)
	}

	result := &MapSyncResult{PlanID: planID, SyncMap: rebuilt}
	result.Added, result.Updated, result.Removed = diffSyncMaps(opts.Local, rebuilt)
	p.logger.Info().
		Str("plan_id", planID).
		Int("entries", len(rebuilt.Entries)).
		Int("added", len(result.Added)).
		Int("updated", len(result.Updated)).
		Int("removed", len(result.Removed)).
		Msg("sync map rebuilt from remote")
	return result, nil
}

func (p *MapSyncPlanner) discoverPlanItems(ctx context.Context, planID string) (map[string]*Item, error) {
	found, err := p.provider.SearchItems(ctx, ItemSearchFilters{
		Labels:       []string{p.cfg.Label},
		BodyContains: marker.DiscoveryToken(planID),
	})
	if err != nil {
		return nil, NewSyncError("item discovery search failed", err)
	}

	items := make(map[string]*Item)
	for _, item := range found {
		block, err := marker.Parse(item.Body)
		if err != nil || block.PlanID != planID {
			continue
		}
		items[block.ItemID] = item
	}
	return items, nil
}

// diffSyncMaps computes added, updated, and removed item IDs from local to
// remote, each sorted.
func diffSyncMaps(local, remote *SyncMap) (added, updated, removed []string) {
	localEntries := map[string]SyncEntry{}
	if local != nil {
		localEntries = local.Entries
	}
	for id, entry := range remote.Entries {
		existing, ok := localEntries[id]
		switch {
		case !ok:
			added = append(added, id)
		case existing != entry:
			updated = append(updated, id)
		}
	}
	for id := range localEntries {
		if _, ok := remote.Entries[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(added)
	sort.Strings(updated)
	sort.Strings(removed)
	return added, updated, removed
}
