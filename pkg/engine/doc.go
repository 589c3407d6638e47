// Package engine provides the core types, interfaces, and orchestrator for
// the planpilot plan-to-tracker synchronization engine.
//
// # Overview
//
// planpilot reconciles a declarative plan (a hierarchy of epics, stories,
// and tasks with parent and blocked-by relations) against an external issue
// tracker. A sync run moves through five phases with strict barriers:
//
//  1. Discovery - Locate previously-created items by their marker blocks
//  2. Upsert    - Create missing items level by level (EPIC, STORY, TASK)
//  3. Enrich    - Re-render every body with resolved cross-references
//  4. Relate    - Converge parent/child and blocked-by relations
//  5. Result    - Assemble the SyncResult (map, counters, warnings)
//
// Re-running a sync is safe: identical plans produce identical external
// state, and a modified plan applies a minimum diff.
//
// # Core Domain Types
//
//   - PlanItem: one epic, story, or task with relations and optional fields
//   - Plan: the ordered item set plus its canonical 12-hex plan ID
//   - Item: a provider-owned work item with relation operations
//   - SyncEntry / SyncMap: external identity cache keyed by plan item ID
//   - SyncResult / MapSyncResult / CleanResult: flow outcomes
//
// # Provider Interface
//
// Providers adapt concrete trackers behind capability descriptors:
//
//	type Provider interface {
//	    Setup(ctx context.Context) error
//	    Teardown(ctx context.Context) error
//	    Capabilities() Capabilities
//	    SearchItems(ctx context.Context, filters ItemSearchFilters) ([]*Item, error)
//	    CreateItem(ctx context.Context, input CreateItemInput) (*Item, error)
//	    ...
//	}
//
// Discovery requires the discovery_by_body_contains capability; the engine
// never falls back to the sync map for identity. The marker block embedded
// at the top of every body is the sole identity signal.
//
// # Concurrency
//
// Within a phase, independent provider calls run concurrently under one
// counting semaphore of width Config.MaxConcurrent (default 5). Phase
// boundaries enforce happens-before ordering. Level ordering (epic, story,
// task) is strict within upsert and within relate.
//
// # Error Classification
//
// Errors are classified for retry logic (transient, throttled, conflict,
// permanent) and carry a taxonomy code (plan load, validation, config,
// authentication, capability, provider, partial create, sync). Use the
// helpers to inspect them:
//
//	if engine.IsRetryable(err) {
//	    // Provider may retry internally
//	}
//	if info, ok := engine.PartialCreateDetails(err); ok {
//	    // A later run discovers info.CreatedItemKey by its marker
//	}
package engine
