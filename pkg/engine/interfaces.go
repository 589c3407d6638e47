package engine

import (
	"context"
)

// Provider adapts an external issue tracker. Life-cycle: Setup, many
// operations, Teardown. Providers own per-call retries, backoff, and
// rate-limit coordination; the engine never retries on their behalf.
// Implementations must tolerate concurrent calls after Setup.
type Provider interface {
	// Setup resolves the target, verifies authentication, fetches board and
	// field identifiers, and caches them in provider-private state. It fails
	// with a capability error when a required capability is absent.
	Setup(ctx context.Context) error

	// Teardown releases provider resources. Items returned by the provider
	// must not be used afterwards.
	Teardown(ctx context.Context) error

	// Capabilities reports what the provider supports. Valid after Setup.
	Capabilities() Capabilities

	// SearchItems returns every item matching the filters. Implementations
	// paginate internally; a truncated result is a provider error.
	SearchItems(ctx context.Context, filters ItemSearchFilters) ([]*Item, error)

	// CreateItem creates an item, atomically from the caller's perspective:
	// whatever multi-step setup the tracker requires (create, set type, add
	// to board, set fields) happens inside this call. A failure mid-sequence
	// surfaces as a partial-create error carrying any assigned identity so a
	// later run can discover and complete the item.
	CreateItem(ctx context.Context, input CreateItemInput) (*Item, error)

	// UpdateItem applies the non-nil fields of input to the item. Labels are
	// additive. Board workflow fields (status, priority, iteration) are never
	// written here.
	UpdateItem(ctx context.Context, id string, input UpdateItemInput) (*Item, error)

	// GetItem fetches a single item by provider ID.
	GetItem(ctx context.Context, id string) (*Item, error)

	// DeleteItem destroys an item. Only the clean planner calls this.
	DeleteItem(ctx context.Context, id string) error

	// SetParent makes parent the hierarchical parent of item.
	SetParent(ctx context.Context, item, parent *Item) error

	// AddDependency marks item as blocked by blocker.
	AddDependency(ctx context.Context, item, blocker *Item) error

	// ReconcileRelations converges item's remote parent and blocker set to
	// exactly the given arguments, issuing only the add/remove calls needed.
	// Idempotent.
	ReconcileRelations(ctx context.Context, item, parent *Item, blockers []*Item) error
}

// Renderer produces item bodies. Implementations must be pure functions of
// their inputs: byte-stable output, no suspension, no I/O. Every rendered
// body starts with the verbatim marker block.
type Renderer interface {
	Render(item *PlanItem, rc RenderContext) string
}
