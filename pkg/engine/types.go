package engine

import (
	"context"
	"sort"
)

// ItemType identifies the hierarchy level of a plan item.
type ItemType string

const (
	// ItemTypeEpic is the top of the hierarchy. Epics have no parent.
	ItemTypeEpic ItemType = "EPIC"

	// ItemTypeStory sits under an epic.
	ItemTypeStory ItemType = "STORY"

	// ItemTypeTask is a leaf under a story.
	ItemTypeTask ItemType = "TASK"
)

// ItemTypes returns the known types in level order (EPIC, STORY, TASK).
func ItemTypes() []ItemType {
	return []ItemType{ItemTypeEpic, ItemTypeStory, ItemTypeTask}
}

// Ordinal returns the sort ordinal for level ordering: EPIC < STORY < TASK.
// Unknown types sort last.
func (t ItemType) Ordinal() int {
	switch t {
	case ItemTypeEpic:
		return 0
	case ItemTypeStory:
		return 1
	case ItemTypeTask:
		return 2
	default:
		return 3
	}
}

// ParentType returns the type one level above. The second return is false
// for epics (no parent level) and unknown types.
func (t ItemType) ParentType() (ItemType, bool) {
	switch t {
	case ItemTypeStory:
		return ItemTypeEpic, true
	case ItemTypeTask:
		return ItemTypeStory, true
	default:
		return "", false
	}
}

// Valid reports whether t is one of the three known types.
func (t ItemType) Valid() bool {
	return t == ItemTypeEpic || t == ItemTypeStory || t == ItemTypeTask
}

// Estimate is an optional sizing annotation on a plan item.
type Estimate struct {
	// TShirt is a coarse size class (e.g. "S", "M", "L").
	TShirt string `json:"tshirt,omitempty"`

	// Hours is an optional effort estimate in hours.
	Hours float64 `json:"hours,omitempty"`
}

// IsZero reports semantic emptiness: an all-empty estimate is treated the
// same as an absent one by the hasher and the renderer.
func (e *Estimate) IsZero() bool {
	return e == nil || (e.TShirt == "" && e.Hours == 0)
}

// Verification describes how completion of an item is checked.
type Verification struct {
	// Commands are shell commands whose success verifies the item.
	Commands []string `json:"commands,omitempty"`

	// CIChecks are names of CI checks that must pass.
	CIChecks []string `json:"ci_checks,omitempty"`

	// Evidence lists artifacts to capture (logs, screenshots, links).
	Evidence []string `json:"evidence,omitempty"`

	// ManualSteps are verification steps performed by hand.
	ManualSteps []string `json:"manual_steps,omitempty"`
}

// IsZero reports semantic emptiness.
func (v *Verification) IsZero() bool {
	return v == nil || (len(v.Commands) == 0 && len(v.CIChecks) == 0 &&
		len(v.Evidence) == 0 && len(v.ManualSteps) == 0)
}

// SpecRef points back into the document the item was derived from.
type SpecRef struct {
	// URL locates the source document.
	URL string `json:"url,omitempty"`

	// Section names the section within the document.
	Section string `json:"section,omitempty"`

	// Quote is the supporting excerpt.
	Quote string `json:"quote,omitempty"`
}

// IsZero reports semantic emptiness.
func (s *SpecRef) IsZero() bool {
	return s == nil || (s.URL == "" && s.Section == "" && s.Quote == "")
}

// Scope bounds what an item does and does not cover.
type Scope struct {
	// InScope lists included work.
	InScope []string `json:"in_scope,omitempty"`

	// OutScope lists explicitly excluded work.
	OutScope []string `json:"out_scope,omitempty"`
}

// IsZero reports semantic emptiness.
func (s *Scope) IsZero() bool {
	return s == nil || (len(s.InScope) == 0 && len(s.OutScope) == 0)
}

// PlanItem is a single flat record representing an epic, a story, or a task.
type PlanItem struct {
	// ID is globally unique within a plan.
	ID string `json:"id"`

	// Type is the hierarchy level.
	Type ItemType `json:"type"`

	// Title is the non-empty item title.
	Title string `json:"title"`

	// Goal states what done looks like.
	Goal string `json:"goal,omitempty"`

	// Requirements are the concrete requirements, in order.
	Requirements []string `json:"requirements,omitempty"`

	// AcceptanceCriteria are the acceptance criteria, in order.
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`

	// SuccessMetrics are measurable outcomes.
	SuccessMetrics []string `json:"success_metrics,omitempty"`

	// Assumptions lists assumptions the item rests on.
	Assumptions []string `json:"assumptions,omitempty"`

	// Risks lists known risks.
	Risks []string `json:"risks,omitempty"`

	// Motivation is optional free-form background.
	Motivation string `json:"motivation,omitempty"`

	// ParentID references the containing item. Epics never carry one.
	ParentID string `json:"parent_id,omitempty"`

	// SubItemIDs is the projection of the inverse parent graph. When both
	// sides are present they must agree.
	SubItemIDs []string `json:"sub_item_ids,omitempty"`

	// DependsOn lists the IDs of items that block this one.
	DependsOn []string `json:"depends_on,omitempty"`

	// Estimate is optional sizing.
	Estimate *Estimate `json:"estimate,omitempty"`

	// Verification is the optional verification recipe.
	Verification *Verification `json:"verification,omitempty"`

	// SpecRef optionally points at the originating document.
	SpecRef *SpecRef `json:"spec_ref,omitempty"`

	// Scope optionally bounds the item.
	Scope *Scope `json:"scope,omitempty"`
}

// Plan is an ordered set of plan items plus the computed plan ID.
// Plans are built by the loader and read-only afterwards.
type Plan struct {
	// Items holds the plan items in load order.
	Items []*PlanItem

	// ID is the 12-hex-character canonical plan hash. Set by the hasher.
	ID string

	index map[string]*PlanItem
}

// NewPlan builds a plan over the given items and indexes them by ID.
// Duplicate IDs keep the first occurrence in the index; the validator
// reports the duplication.
func NewPlan(items []*PlanItem) *Plan {
	p := &Plan{Items: items, index: make(map[string]*PlanItem, len(items))}
	for _, item := range items {
		if _, exists := p.index[item.ID]; !exists {
			p.index[item.ID] = item
		}
	}
	return p
}

// ItemByID returns the item with the given ID, or nil.
func (p *Plan) ItemByID(id string) *PlanItem {
	return p.index[id]
}

// SortedItems returns the items ordered by (type ordinal, id). The backing
// slice is copied; the plan itself is not reordered.
func (p *Plan) SortedItems() []*PlanItem {
	items := make([]*PlanItem, len(p.Items))
	copy(items, p.Items)
	SortPlanItems(items)
	return items
}

// ItemsOfType returns the items of one type, ordered by ID.
func (p *Plan) ItemsOfType(t ItemType) []*PlanItem {
	var items []*PlanItem
	for _, item := range p.Items {
		if item.Type == t {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

// Children returns the items whose ParentID is the given ID, ordered by
// (type ordinal, id).
func (p *Plan) Children(parentID string) []*PlanItem {
	var children []*PlanItem
	for _, item := range p.Items {
		if item.ParentID == parentID {
			children = append(children, item)
		}
	}
	SortPlanItems(children)
	return children
}

// SortPlanItems orders items in place by (type ordinal, id).
func SortPlanItems(items []*PlanItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Type.Ordinal() != items[j].Type.Ordinal() {
			return items[i].Type.Ordinal() < items[j].Type.Ordinal()
		}
		return items[i].ID < items[j].ID
	})
}

// Item is a work item returned by a provider. The read-only identity fields
// are provider-assigned; relation operations delegate to the owning provider
// through the bound handle. An Item does not outlive provider teardown.
type Item struct {
	// ID is the opaque provider identifier.
	ID string `json:"id"`

	// Key is the human-readable short reference (e.g. "#42").
	Key string `json:"key"`

	// URL locates the item in the external system.
	URL string `json:"url,omitempty"`

	// Title is the current remote title.
	Title string `json:"title,omitempty"`

	// Body is the current remote body.
	Body string `json:"body,omitempty"`

	// ItemType is the remote type classification, when known.
	ItemType ItemType `json:"item_type,omitempty"`

	provider Provider
}

// BindProvider attaches the owning provider. Providers call this on every
// Item they return.
func (it *Item) BindProvider(p Provider) {
	it.provider = p
}

// Provider returns the owning provider handle, or nil for an unbound item.
func (it *Item) Provider() Provider {
	return it.provider
}

// SetParent makes parent the hierarchical parent of this item.
func (it *Item) SetParent(ctx context.Context, parent *Item) error {
	if it.provider == nil {
		return NewPermanentError("item is not bound to a provider", nil).WithResource(it.ID)
	}
	return it.provider.SetParent(ctx, it, parent)
}

// AddDependency marks this item as blocked by the given item.
func (it *Item) AddDependency(ctx context.Context, blocker *Item) error {
	if it.provider == nil {
		return NewPermanentError("item is not bound to a provider", nil).WithResource(it.ID)
	}
	return it.provider.AddDependency(ctx, it, blocker)
}

// ReconcileRelations converges the item's remote parent and blocker set to
// exactly the given arguments. Idempotent: a second call with the same
// arguments issues no writes.
func (it *Item) ReconcileRelations(ctx context.Context, parent *Item, blockers []*Item) error {
	if it.provider == nil {
		return NewPermanentError("item is not bound to a provider", nil).WithResource(it.ID)
	}
	return it.provider.ReconcileRelations(ctx, it, parent, blockers)
}

// SyncEntry records the external identity of one plan item.
type SyncEntry struct {
	// ID is the opaque provider identifier.
	ID string `json:"id"`

	// Key is the human-readable short reference.
	Key string `json:"key"`

	// URL locates the item.
	URL string `json:"url,omitempty"`

	// ItemType is the plan-side type of the item.
	ItemType ItemType `json:"item_type,omitempty"`
}

// ToSyncEntry projects an Item into a SyncEntry.
func ToSyncEntry(item *Item) SyncEntry {
	return SyncEntry{ID: item.ID, Key: item.Key, URL: item.URL, ItemType: item.ItemType}
}

// SyncMap maps plan item IDs to their external identities. It is a cache for
// human consumption and downstream tooling; discovery never consults it.
type SyncMap struct {
	// PlanID is the canonical plan hash the entries belong to.
	PlanID string `json:"plan_id"`

	// Target is the provider target (e.g. "owner/repo").
	Target string `json:"target"`

	// BoardURL is the project board URL, when configured.
	BoardURL string `json:"board_url,omitempty"`

	// Entries maps plan item ID to external identity.
	Entries map[string]SyncEntry `json:"entries"`
}

// NewSyncMap creates an empty sync map for the given plan and target.
func NewSyncMap(planID, target, boardURL string) *SyncMap {
	return &SyncMap{
		PlanID:   planID,
		Target:   target,
		BoardURL: boardURL,
		Entries:  make(map[string]SyncEntry),
	}
}

// SyncResult is the outcome of a sync run.
type SyncResult struct {
	// SyncMap holds the external identity for every plan item.
	SyncMap *SyncMap `json:"sync_map"`

	// ItemsCreated counts the items created during upsert, by type.
	// Reused items do not count.
	ItemsCreated map[ItemType]int `json:"items_created"`

	// DryRun reports whether the run executed against the dry-run provider.
	DryRun bool `json:"dry_run"`

	// Warnings collects non-fatal findings (skipped cyclic edges, omitted
	// partial-mode references).
	Warnings []string `json:"warnings,omitempty"`
}

// TotalCreated sums ItemsCreated across types.
func (r *SyncResult) TotalCreated() int {
	total := 0
	for _, n := range r.ItemsCreated {
		total += n
	}
	return total
}

// MapSyncResult is the outcome of the read-only map-sync flow.
type MapSyncResult struct {
	// PlanID is the plan the sync map was rebuilt for.
	PlanID string `json:"plan_id"`

	// SyncMap is the map reconstructed from remote marker blocks.
	SyncMap *SyncMap `json:"sync_map"`

	// Added lists item IDs present remotely but absent from the local map.
	Added []string `json:"added,omitempty"`

	// Updated lists item IDs whose local entry differs from the remote one.
	Updated []string `json:"updated,omitempty"`

	// Removed lists item IDs present locally but absent remotely.
	Removed []string `json:"removed,omitempty"`
}

// CleanResult is the outcome of the clean planner.
type CleanResult struct {
	// Planned is the number of items selected for deletion.
	Planned int `json:"planned"`

	// Deleted is the number of items actually deleted.
	Deleted int `json:"deleted"`

	// Passes is the number of deletion passes performed.
	Passes int `json:"passes"`

	// DryRun reports whether destructive calls were suppressed.
	DryRun bool `json:"dry_run"`
}

// CreateItemInput is the provider-agnostic create request.
type CreateItemInput struct {
	// Title is the item title.
	Title string `json:"title"`

	// Body is the full rendered body, marker block included.
	Body string `json:"body"`

	// ItemType is the plan-side type.
	ItemType ItemType `json:"item_type,omitempty"`

	// Labels are applied to the new item.
	Labels []string `json:"labels,omitempty"`

	// Size is an optional size value (the plan's t-shirt estimate).
	Size string `json:"size,omitempty"`
}

// UpdateItemInput is the provider-agnostic update request. Nil fields are
// left untouched. Labels are additive: the provider unions them with the
// existing set and never removes labels it did not add.
type UpdateItemInput struct {
	// Title replaces the title when non-nil.
	Title *string `json:"title,omitempty"`

	// Body replaces the body when non-nil.
	Body *string `json:"body,omitempty"`

	// ItemType re-asserts the type when non-nil.
	ItemType *ItemType `json:"item_type,omitempty"`

	// Labels are added to the existing label set.
	Labels []string `json:"labels,omitempty"`

	// Size re-asserts the size value when non-nil.
	Size *string `json:"size,omitempty"`
}

// ItemSearchFilters selects items during discovery.
type ItemSearchFilters struct {
	// Labels restricts results to items carrying every listed label.
	Labels []string `json:"labels,omitempty"`

	// BodyContains restricts results to items whose body contains the
	// given substring.
	BodyContains string `json:"body_contains,omitempty"`
}

// Capability names advertised by providers.
const (
	// CapabilityDiscoveryByBodyContains: search can filter on body substrings.
	// Required by every sync run; there is no sync-map fallback.
	CapabilityDiscoveryByBodyContains = "discovery_by_body_contains"

	// CapabilitySupportsParentRelation: items can carry a hierarchical parent.
	CapabilitySupportsParentRelation = "supports_parent_relation"

	// CapabilitySupportsDependencyRelation: items can carry blocked-by edges.
	CapabilitySupportsDependencyRelation = "supports_dependency_relation"

	// CapabilitySupportsIssueTypes: the tracker distinguishes item types natively.
	CapabilitySupportsIssueTypes = "supports_issue_types"
)

// Capabilities describes what a provider supports. Populated during Setup
// and read-only afterwards.
type Capabilities struct {
	// DiscoveryByBodyContains reports body-substring search support.
	DiscoveryByBodyContains bool `json:"discovery_by_body_contains"`

	// SupportsParentRelation reports parent/child relation support.
	SupportsParentRelation bool `json:"supports_parent_relation"`

	// SupportsDependencyRelation reports blocked-by relation support.
	SupportsDependencyRelation bool `json:"supports_dependency_relation"`

	// SupportsIssueTypes reports native item type support.
	SupportsIssueTypes bool `json:"supports_issue_types"`
}

// Has reports whether the named capability is present.
func (c Capabilities) Has(name string) bool {
	switch name {
	case CapabilityDiscoveryByBodyContains:
		return c.DiscoveryByBodyContains
	case CapabilitySupportsParentRelation:
		return c.SupportsParentRelation
	case CapabilitySupportsDependencyRelation:
		return c.SupportsDependencyRelation
	case CapabilitySupportsIssueTypes:
		return c.SupportsIssueTypes
	default:
		return false
	}
}

// Missing returns the subset of required capability names that are absent.
func (c Capabilities) Missing(required ...string) []string {
	var missing []string
	for _, name := range required {
		if !c.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// ChildRef is one rendered child reference: short key plus title.
type ChildRef struct {
	// Key is the child's human-readable reference.
	Key string `json:"key"`

	// Title is the child's title.
	Title string `json:"title"`
}

// DependencyRef is one rendered dependency reference.
type DependencyRef struct {
	// ID is the plan item ID of the dependency.
	ID string `json:"id"`

	// Ref is the dependency's human-readable reference, empty when the
	// dependency is not resolvable (partial mode).
	Ref string `json:"ref,omitempty"`
}

// RenderContext carries the cross-item references available to a renderer.
// During upsert only the parent may be resolved; during enrich the full
// context is supplied. Sub-items arrive ordered by (type, id) and
// dependencies sorted by dependency ID.
type RenderContext struct {
	// PlanID is the canonical plan hash, embedded in the marker block.
	PlanID string `json:"plan_id"`

	// ParentRef is the parent's short reference, when resolved.
	ParentRef string `json:"parent_ref,omitempty"`

	// SubItems lists resolved children in render order.
	SubItems []ChildRef `json:"sub_items,omitempty"`

	// Dependencies lists resolved dependencies in render order.
	Dependencies []DependencyRef `json:"dependencies,omitempty"`
}

// Config carries the engine-level knobs for a sync run.
type Config struct {
	// Label is applied to every created item and used for discovery.
	Label string `json:"label"`

	// Target is the provider target, recorded in the sync map.
	Target string `json:"target,omitempty"`

	// BoardURL is the project board URL, recorded in the sync map.
	BoardURL string `json:"board_url,omitempty"`

	// MaxConcurrent bounds in-flight provider calls within a phase.
	MaxConcurrent int `json:"max_concurrent"`

	// DryRun marks the run as side-effect free (the provider is expected
	// to be the in-memory one).
	DryRun bool `json:"dry_run"`
}

// Default engine settings.
const (
	DefaultLabel         = "planpilot"
	DefaultMaxConcurrent = 5
)

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{Label: DefaultLabel, MaxConcurrent: DefaultMaxConcurrent}
}

// normalized returns a copy with defaults applied to zero values.
func (c Config) normalized() Config {
	if c.Label == "" {
		c.Label = DefaultLabel
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	return c
}
