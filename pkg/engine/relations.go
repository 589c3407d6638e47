package engine

import (
	"fmt"
	"sort"
)

// relationEdge is one blocked-by edge: Source is blocked by Target.
type relationEdge struct {
	Source string
	Target string
}

// relationPlan is the desired relation state for a plan: the parent of each
// item and the full blocked-by edge set after roll-up and cycle filtering.
type relationPlan struct {
	// parents maps a child item ID to its parent item ID.
	parents map[string]string

	// blockers maps an item ID to its blocker item IDs, sorted.
	blockers map[string][]string

	// warnings records skipped cyclic edges and omitted unresolved
	// references, in deterministic order.
	warnings []string
}

// hasParents reports whether any item carries a parent relation.
func (rp *relationPlan) hasParents() bool {
	return len(rp.parents) > 0
}

// hasBlockers reports whether any item carries a blocked-by relation.
func (rp *relationPlan) hasBlockers() bool {
	return len(rp.blockers) > 0
}

// planRelations computes the desired relation state for a plan.
//
// Direct edges come from each item's depends_on list; references that do not
// resolve to a loaded item are omitted and recorded as warnings (partial
// validation mode tolerates them). Roll-up then derives parent-level edges in
// two passes: task-level edges whose endpoints live under different stories
// add a story edge, and story-level edges (direct plus rolled-up) whose
// endpoints live under different epics add an epic edge. Finally the combined
// edge set runs through the cycle guard.
func planRelations(plan *Plan) *relationPlan {
	rp := &relationPlan{
		parents:  make(map[string]string),
		blockers: make(map[string][]string),
	}

	var direct []relationEdge
	for _, item := range plan.SortedItems() {
		if item.ParentID != "" {
			if plan.ItemByID(item.ParentID) != nil {
				rp.parents[item.ID] = item.ParentID
			} else {
				rp.warnings = append(rp.warnings, fmt.Sprintf(
					"item %s: parent %s is not part of the plan; relation omitted", item.ID, item.ParentID))
			}
		}
		for _, dep := range item.DependsOn {
			if plan.ItemByID(dep) == nil {
				rp.warnings = append(rp.warnings, fmt.Sprintf(
					"item %s: dependency %s is not part of the plan; relation omitted", item.ID, dep))
				continue
			}
			direct = append(direct, relationEdge{Source: item.ID, Target: dep})
		}
	}

	edges := dedupeEdges(direct)
	edges = append(edges, rollUp(plan, edges, ItemTypeTask)...)
	edges = dedupeEdges(edges)
	edges = append(edges, rollUp(plan, edges, ItemTypeStory)...)
	edges = dedupeEdges(edges)

	accepted, cycleWarnings := filterCycles(edges)
	rp.warnings = append(rp.warnings, cycleWarnings...)

	for _, edge := range accepted {
		rp.blockers[edge.Source] = append(rp.blockers[edge.Source], edge.Target)
	}
	for id := range rp.blockers {
		sort.Strings(rp.blockers[id])
	}
	return rp
}

// rollUp derives parent-level edges from the edges whose source sits at the
// given level. An edge rolls up when both endpoints have parents and those
// parents differ; an edge between siblings stays at its own level.
func rollUp(plan *Plan, edges []relationEdge, level ItemType) []relationEdge {
	var rolled []relationEdge
	for _, edge := range edges {
		source := plan.ItemByID(edge.Source)
		target := plan.ItemByID(edge.Target)
		if source == nil || target == nil || source.Type != level || target.Type != level {
			continue
		}
		if source.ParentID == "" || target.ParentID == "" || source.ParentID == target.ParentID {
			continue
		}
		if plan.ItemByID(source.ParentID) == nil || plan.ItemByID(target.ParentID) == nil {
			continue
		}
		rolled = append(rolled, relationEdge{Source: source.ParentID, Target: target.ParentID})
	}
	return rolled
}

// dedupeEdges removes duplicate and self-referential edges, preserving a
// deterministic (source, target) order.
func dedupeEdges(edges []relationEdge) []relationEdge {
	seen := make(map[relationEdge]bool, len(edges))
	var out []relationEdge
	for _, edge := range edges {
		if edge.Source == edge.Target || seen[edge] {
			continue
		}
		seen[edge] = true
		out = append(out, edge)
	}
	sortEdges(out)
	return out
}

func sortEdges(edges []relationEdge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})
}

// filterCycles accepts edges one by one in (source, target) order, skipping
// any edge that would close a cycle against the already-accepted set. For a
// two-item cycle this drops the edge whose source sorts greater; in general
// the insertion order makes the choice deterministic. Skipped edges become
// warnings, not errors.
func filterCycles(edges []relationEdge) ([]relationEdge, []string) {
	sortEdges(edges)

	adjacency := make(map[string][]string)
	var accepted []relationEdge
	var warnings []string
	for _, edge := range edges {
		if reaches(adjacency, edge.Target, edge.Source) {
			warnings = append(warnings, fmt.Sprintf(
				"dependency cycle: edge %s blocked-by %s skipped", edge.Source, edge.Target))
			continue
		}
		adjacency[edge.Source] = append(adjacency[edge.Source], edge.Target)
		accepted = append(accepted, edge)
	}
	return accepted, warnings
}

// reaches reports whether to is reachable from from over the adjacency set.
func reaches(adjacency map[string][]string, from, to string) bool {
	if from == to {
		return true
	}
	visited := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range adjacency[node] {
			if next == to {
				return true
			}
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}
