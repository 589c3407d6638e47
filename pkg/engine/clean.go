package engine

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/planpilot/planpilot/pkg/marker"
)

// CleanOptions controls one clean run.
type CleanOptions struct {
	// PlanID limits deletion to one plan's items. Ignored when All is set.
	PlanID string

	// All selects every labeled item regardless of plan.
	All bool

	// Apply enables destructive calls. Without it the planner only reports
	// the planned deletion count.
	Apply bool
}

// cleanCandidate pairs a discovered item with its parsed marker block. The
// block supplies the parent link when no plan is loaded (all-plans mode).
type cleanCandidate struct {
	item  *Item
	block *marker.Block
}

// CleanPlanner deletes previously-synced items, children before parents,
// in multiple passes. A pass that deletes at least one item earns a retry of
// the remainder; a pass with no progress fails with the first provider
// error, so transient relation constraints (a tracker refusing to delete a
// parent that still has children) resolve themselves without special-casing.
type CleanPlanner struct {
	provider Provider
	cfg      Config
	logger   zerolog.Logger
}

// NewCleanPlanner creates a planner over an already-set-up provider.
func NewCleanPlanner(provider Provider, cfg Config) *CleanPlanner {
	return &CleanPlanner{provider: provider, cfg: cfg.normalized(), logger: zerolog.Nop()}
}

// WithLogger attaches a logger.
func (p *CleanPlanner) WithLogger(logger zerolog.Logger) *CleanPlanner {
	p.logger = logger.With().Str("component", "clean").Logger()
	return p
}

// Run discovers deletion candidates and executes the leaf-first multi-pass
// deletion. The pass count is bounded: every retried pass deleted at least
// one item, so at most len(candidates)+1 passes run.
func (p *CleanPlanner) Run(ctx context.Context, opts CleanOptions) (*CleanResult, error) {
	candidates, err := p.discover(ctx, opts)
	if err != nil {
		return nil, err
	}

	result := &CleanResult{Planned: len(candidates), DryRun: !opts.Apply}
	if !opts.Apply {
		p.logger.Info().Int("planned", result.Planned).Msg("clean dry run, no deletions issued")
		return result, nil
	}

	remaining := orderLeafFirst(candidates)
	for len(remaining) > 0 {
		result.Passes++
		var failed []cleanCandidate
		var firstErr error
		for _, candidate := range remaining {
			if err := ctx.Err(); err != nil {
				return result, NewCancelledError(err)
			}
			if err := p.provider.DeleteItem(ctx, candidate.item.ID); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				failed = append(failed, candidate)
				continue
			}
			result.Deleted++
			p.logger.Debug().
				Str("item_id", candidate.block.ItemID).
				Str("key", candidate.item.Key).
				Int("pass", result.Passes).
				Msg("item deleted")
		}
		if len(failed) == len(remaining) {
			return result, NewSyncError("clean made no progress", firstErr)
		}
		remaining = failed
	}

	p.logger.Info().
		Int("deleted", result.Deleted).
		Int("passes", result.Passes).
		Msg("clean complete")
	return result, nil
}

// discover finds deletion candidates by marker. Plan mode filters the search
// by the plan's discovery token; all-plans mode takes every labeled item
// with a parseable marker block. Labeled items without a marker are left
// alone: they were not created by a sync run.
func (p *CleanPlanner) discover(ctx context.Context, opts CleanOptions) ([]cleanCandidate, error) {
	if !p.provider.Capabilities().DiscoveryByBodyContains {
		return nil, NewCapabilityError(CapabilityDiscoveryByBodyContains)
	}

	filters := ItemSearchFilters{Labels: []string{p.cfg.Label}}
	if opts.All {
		filters.BodyContains = marker.KeyPlanID + ":"
	} else {
		filters.BodyContains = marker.DiscoveryToken(opts.PlanID)
	}

	found, err := p.provider.SearchItems(ctx, filters)
	if err != nil {
		return nil, NewSyncError("clean discovery search failed", err)
	}

	var candidates []cleanCandidate
	for _, item := range found {
		block, err := marker.Parse(item.Body)
		if err != nil {
			p.logger.Warn().Str("key", item.Key).Msg("labeled item has no marker block, skipping")
			continue
		}
		if !opts.All && block.PlanID != opts.PlanID {
			continue
		}
		candidates = append(candidates, cleanCandidate{item: item, block: block})
	}
	return candidates, nil
}

// orderLeafFirst sorts candidates children-before-parents using the parent
// links carried in their marker blocks: deepest first, ties by item ID. A
// parent link pointing outside the candidate set contributes no depth.
func orderLeafFirst(candidates []cleanCandidate) []cleanCandidate {
	byID := make(map[string]cleanCandidate, len(candidates))
	for _, candidate := range candidates {
		byID[planKey(candidate.block)] = candidate
	}

	depth := func(candidate cleanCandidate) int {
		d := 0
		block := candidate.block
		for block.ParentID != "" {
			parent, ok := byID[block.PlanID+"/"+block.ParentID]
			if !ok || d > len(candidates) {
				break
			}
			d++
			block = parent.block
		}
		return d
	}

	ordered := append([]cleanCandidate(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool {
		di, dj := depth(ordered[i]), depth(ordered[j])
		if di != dj {
			return di > dj
		}
		return ordered[i].block.ItemID < ordered[j].block.ItemID
	})
	return ordered
}

// planKey namespaces an item ID by its plan so all-plans mode does not
// conflate items from different plans that reuse IDs.
func planKey(block *marker.Block) string {
	return block.PlanID + "/" + block.ItemID
}
