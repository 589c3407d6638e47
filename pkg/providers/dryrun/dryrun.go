// Package dryrun provides an in-memory Provider implementation. It satisfies
// the full provider contract without external I/O, records every intended
// operation in an op log, and can be seeded with pre-existing items, which
// makes it both the dry-run backend for sync runs and the test double for
// the engine.
package dryrun

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/planpilot/planpilot/pkg/engine"
)

// Op kinds recorded in the op log.
const (
	OpSearch         = "search"
	OpCreate         = "create"
	OpUpdate         = "update"
	OpGet            = "get"
	OpDelete         = "delete"
	OpReconcile      = "reconcile"
	OpRelationAdd    = "relation_add"
	OpRelationRemove = "relation_remove"
)

// Op is one recorded provider operation.
type Op struct {
	// Kind is one of the Op* constants.
	Kind string

	// ItemID is the provider item ID the operation touched, when applicable.
	ItemID string

	// Changed reports whether the operation actually altered state. An
	// update that rewrote identical content, or a reconcile that needed no
	// add/remove, records false.
	Changed bool
}

// storedItem is the provider-side state of one item.
type storedItem struct {
	id       string
	key      string
	url      string
	title    string
	body     string
	itemType engine.ItemType
	labels   map[string]bool
	size     string
	parent   string          // provider ID of the hierarchical parent
	blockers map[string]bool // provider IDs of blocked-by items
}

// Provider is the in-memory provider. Safe for concurrent use after Setup.
type Provider struct {
	mu     sync.Mutex
	logger zerolog.Logger

	setup   bool
	nextID  int
	items   map[string]*storedItem
	ops     []Op
	caps    engine.Capabilities
	created int

	// enforceParentConstraint makes DeleteItem refuse to delete an item
	// that still has children, mimicking trackers with relation
	// constraints. The clean planner's multi-pass retry absorbs this.
	enforceParentConstraint bool

	// pendingCreateFailure injects one partial-create failure into the next
	// CreateItem call.
	pendingCreateFailure *createFailure
}

type createFailure struct {
	completedSteps []string
	assignIdentity bool
	retryable      bool
}

// New creates an empty dry-run provider.
func New() *Provider {
	return &Provider{
		items:  make(map[string]*storedItem),
		logger: zerolog.Nop(),
		caps: engine.Capabilities{
			DiscoveryByBodyContains:    true,
			SupportsParentRelation:     true,
			SupportsDependencyRelation: true,
			SupportsIssueTypes:         true,
		},
	}
}

// WithLogger attaches a logger.
func (p *Provider) WithLogger(logger zerolog.Logger) *Provider {
	p.logger = logger.With().Str("component", "provider").Str("provider", "dryrun").Logger()
	return p
}

// SetCapabilities overrides the advertised capabilities. Tests use this to
// exercise capability gating.
func (p *Provider) SetCapabilities(caps engine.Capabilities) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.caps = caps
}

// EnforceParentConstraint makes deletes of items with remaining children
// fail with a conflict error.
func (p *Provider) EnforceParentConstraint() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enforceParentConstraint = true
}

// FailNextCreate arms a partial-create failure for the next CreateItem call.
// When assignIdentity is true the failure carries the identity the item
// would have had, and the item is left behind in provider state, exactly as
// a tracker that created the issue but failed a later step would.
func (p *Provider) FailNextCreate(completedSteps []string, assignIdentity, retryable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingCreateFailure = &createFailure{
		completedSteps: completedSteps,
		assignIdentity: assignIdentity,
		retryable:      retryable,
	}
}

// Seed inserts items into provider state without recording ops, as if a
// previous run created them.
func (p *Provider) Seed(inputs ...engine.CreateItemInput) []*engine.Item {
	p.mu.Lock()
	defer p.mu.Unlock()

	var seeded []*engine.Item
	for _, input := range inputs {
		stored := p.store(input)
		seeded = append(seeded, p.toItem(stored))
	}
	return seeded
}

// Ops returns a copy of the op log.
func (p *Provider) Ops() []Op {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Op(nil), p.ops...)
}

// CountOps returns how many logged ops have the given kind.
func (p *Provider) CountOps(kind string) int {
	n := 0
	for _, op := range p.Ops() {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

// ChangedOps returns how many logged ops of the given kind altered state.
func (p *Provider) ChangedOps(kind string) int {
	n := 0
	for _, op := range p.Ops() {
		if op.Kind == kind && op.Changed {
			n++
		}
	}
	return n
}

// ItemCount returns the number of items in provider state.
func (p *Provider) ItemCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Relations returns the provider IDs of the current parent and blockers of
// an item, blockers sorted. Tests assert convergence through this.
func (p *Provider) Relations(id string) (parent string, blockers []string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	stored, ok := p.items[id]
	if !ok {
		return "", nil, notFound(id)
	}
	for blocker := range stored.blockers {
		blockers = append(blockers, blocker)
	}
	sort.Strings(blockers)
	return stored.parent, blockers, nil
}

// Labels returns an item's label set, sorted.
func (p *Provider) Labels(id string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	stored, ok := p.items[id]
	if !ok {
		return nil, notFound(id)
	}
	var labels []string
	for label := range stored.labels {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels, nil
}

// Setup marks the provider ready. No external state to resolve.
func (p *Provider) Setup(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setup = true
	return nil
}

// Teardown releases nothing but flips the ready flag.
func (p *Provider) Teardown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setup = false
	return nil
}

// Capabilities reports the configured capability set.
func (p *Provider) Capabilities() engine.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.caps
}

// SearchItems serves matches from provider state: every filter label must be
// present and the body must contain the filter substring.
func (p *Provider) SearchItems(ctx context.Context, filters engine.ItemSearchFilters) ([]*engine.Item, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ops = append(p.ops, Op{Kind: OpSearch})

	var ids []string
	for id := range p.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var matches []*engine.Item
	for _, id := range ids {
		stored := p.items[id]
		if !hasAllLabels(stored.labels, filters.Labels) {
			continue
		}
		if filters.BodyContains != "" && !strings.Contains(stored.body, filters.BodyContains) {
			continue
		}
		matches = append(matches, p.toItem(stored))
	}
	return matches, nil
}

// CreateItem stores a new item under a synthetic dry-run identity.
func (p *Provider) CreateItem(ctx context.Context, input engine.CreateItemInput) (*engine.Item, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if failure := p.pendingCreateFailure; failure != nil {
		p.pendingCreateFailure = nil
		info := engine.PartialCreateInfo{
			CompletedSteps: failure.completedSteps,
			Retryable:      failure.retryable,
		}
		if failure.assignIdentity {
			stored := p.store(input)
			info.CreatedItemID = stored.id
			info.CreatedItemKey = stored.key
			info.CreatedItemURL = stored.url
		}
		p.ops = append(p.ops, Op{Kind: OpCreate, ItemID: info.CreatedItemID})
		return nil, engine.NewPartialCreateError("create failed mid-sequence", info, nil)
	}

	stored := p.store(input)
	p.ops = append(p.ops, Op{Kind: OpCreate, ItemID: stored.id, Changed: true})
	p.logger.Debug().Str("key", stored.key).Str("title", stored.title).Msg("dry-run create")
	return p.toItem(stored), nil
}

// UpdateItem applies non-nil fields. Labels union with the existing set;
// nothing is ever removed here.
func (p *Provider) UpdateItem(ctx context.Context, id string, input engine.UpdateItemInput) (*engine.Item, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.items[id]
	if !ok {
		return nil, notFound(id)
	}

	changed := false
	if input.Title != nil && stored.title != *input.Title {
		stored.title = *input.Title
		changed = true
	}
	if input.Body != nil && stored.body != *input.Body {
		stored.body = *input.Body
		changed = true
	}
	if input.ItemType != nil && stored.itemType != *input.ItemType {
		stored.itemType = *input.ItemType
		changed = true
	}
	if input.Size != nil && stored.size != *input.Size {
		stored.size = *input.Size
		changed = true
	}
	for _, label := range input.Labels {
		if !stored.labels[label] {
			stored.labels[label] = true
			changed = true
		}
	}

	p.ops = append(p.ops, Op{Kind: OpUpdate, ItemID: id, Changed: changed})
	return p.toItem(stored), nil
}

// GetItem fetches one item.
func (p *Provider) GetItem(ctx context.Context, id string) (*engine.Item, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.items[id]
	if !ok {
		return nil, notFound(id)
	}
	p.ops = append(p.ops, Op{Kind: OpGet, ItemID: id})
	return p.toItem(stored), nil
}

// DeleteItem removes an item. With the parent constraint enabled, an item
// that still has children fails with a conflict, as some trackers do.
func (p *Provider) DeleteItem(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.items[id]; !ok {
		return notFound(id)
	}
	if p.enforceParentConstraint {
		for _, other := range p.items {
			if other.parent == id {
				p.ops = append(p.ops, Op{Kind: OpDelete, ItemID: id})
				return engine.NewConflictError(
					fmt.Sprintf("item %s still has children", id), nil).WithResource(id)
			}
		}
	}

	delete(p.items, id)
	for _, other := range p.items {
		if other.parent == id {
			other.parent = ""
		}
		delete(other.blockers, id)
	}
	p.ops = append(p.ops, Op{Kind: OpDelete, ItemID: id, Changed: true})
	return nil
}

// SetParent sets the hierarchical parent of item.
func (p *Provider) SetParent(ctx context.Context, item, parent *engine.Item) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.items[item.ID]
	if !ok {
		return notFound(item.ID)
	}
	if parent != nil {
		if _, ok := p.items[parent.ID]; !ok {
			return notFound(parent.ID)
		}
		stored.parent = parent.ID
	} else {
		stored.parent = ""
	}
	p.ops = append(p.ops, Op{Kind: OpRelationAdd, ItemID: item.ID, Changed: true})
	return nil
}

// AddDependency marks item blocked by blocker.
func (p *Provider) AddDependency(ctx context.Context, item, blocker *engine.Item) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.items[item.ID]
	if !ok {
		return notFound(item.ID)
	}
	if _, ok := p.items[blocker.ID]; !ok {
		return notFound(blocker.ID)
	}
	stored.blockers[blocker.ID] = true
	p.ops = append(p.ops, Op{Kind: OpRelationAdd, ItemID: item.ID, Changed: true})
	return nil
}

// ReconcileRelations converges item's parent and blocker set, issuing only
// the adds and removes needed. A reconcile against already-converged state
// records a single unchanged reconcile op and nothing else.
func (p *Provider) ReconcileRelations(ctx context.Context, item, parent *engine.Item, blockers []*engine.Item) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.items[item.ID]
	if !ok {
		return notFound(item.ID)
	}

	changed := false

	wantParent := ""
	if parent != nil {
		wantParent = parent.ID
	}
	if stored.parent != wantParent {
		stored.parent = wantParent
		p.ops = append(p.ops, Op{Kind: OpRelationAdd, ItemID: item.ID, Changed: true})
		changed = true
	}

	want := make(map[string]bool, len(blockers))
	for _, blocker := range blockers {
		want[blocker.ID] = true
	}
	for blockerID := range stored.blockers {
		if !want[blockerID] {
			delete(stored.blockers, blockerID)
			p.ops = append(p.ops, Op{Kind: OpRelationRemove, ItemID: item.ID, Changed: true})
			changed = true
		}
	}
	for blockerID := range want {
		if !stored.blockers[blockerID] {
			stored.blockers[blockerID] = true
			p.ops = append(p.ops, Op{Kind: OpRelationAdd, ItemID: item.ID, Changed: true})
			changed = true
		}
	}

	p.ops = append(p.ops, Op{Kind: OpReconcile, ItemID: item.ID, Changed: changed})
	return nil
}

// store inserts a new item under the next synthetic identity. Caller holds
// the mutex.
func (p *Provider) store(input engine.CreateItemInput) *storedItem {
	p.nextID++
	id := fmt.Sprintf("dry-run-%d", p.nextID)
	stored := &storedItem{
		id:       id,
		key:      fmt.Sprintf("dry-run-%d", p.nextID),
		url:      "dryrun://items/" + id,
		title:    input.Title,
		body:     input.Body,
		itemType: input.ItemType,
		labels:   make(map[string]bool, len(input.Labels)),
		size:     input.Size,
		blockers: make(map[string]bool),
	}
	for _, label := range input.Labels {
		stored.labels[label] = true
	}
	p.items[id] = stored
	return stored
}

// toItem projects stored state into a provider-bound Item. Caller holds the
// mutex.
func (p *Provider) toItem(stored *storedItem) *engine.Item {
	item := &engine.Item{
		ID:       stored.id,
		Key:      stored.key,
		URL:      stored.url,
		Title:    stored.title,
		Body:     stored.body,
		ItemType: stored.itemType,
	}
	item.BindProvider(p)
	return item
}

func hasAllLabels(have map[string]bool, want []string) bool {
	for _, label := range want {
		if !have[label] {
			return false
		}
	}
	return true
}

func notFound(id string) error {
	return engine.NewProviderError(engine.ErrorClassPermanent,
		fmt.Sprintf("item %s not found", id), nil).WithResource(id)
}
