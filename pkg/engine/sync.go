package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/planpilot/planpilot/pkg/marker"
	"github.com/planpilot/planpilot/pkg/telemetry"
)

// Engine orchestrates one sync run: discover, upsert, enrich, relate, result.
// The provider must be set up before Sync is called; the engine never calls
// Setup or Teardown itself.
type Engine struct {
	provider Provider
	renderer Renderer
	cfg      Config
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
}

// New creates an engine over an already-set-up provider and a renderer.
// Zero config fields fall back to defaults.
func New(provider Provider, renderer Renderer, cfg Config) *Engine {
	return &Engine{
		provider: provider,
		renderer: renderer,
		cfg:      cfg.normalized(),
		logger:   zerolog.Nop(),
	}
}

// WithLogger attaches a logger. Engine log lines carry the component field.
func (e *Engine) WithLogger(logger zerolog.Logger) *Engine {
	e.logger = logger.With().Str("component", "engine").Logger()
	return e
}

// WithMetrics attaches a metrics collector.
func (e *Engine) WithMetrics(m *telemetry.Metrics) *Engine {
	e.metrics = m
	return e
}

// WithTracer attaches a tracer. Each phase runs under its own span.
func (e *Engine) WithTracer(t *telemetry.Tracer) *Engine {
	e.tracer = t
	return e
}

// syncState is the per-run mutable state. The mutex guards syncMap, items,
// and the created counters during the concurrent phases; everything else is
// written before the workers start.
type syncState struct {
	mu      sync.Mutex
	syncMap *SyncMap
	items   map[string]*Item
	created map[ItemType]int
	updated int
	sem     *semaphore
}

func (st *syncState) entry(itemID string) (SyncEntry, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	entry, ok := st.syncMap.Entries[itemID]
	return entry, ok
}

func (st *syncState) record(itemID string, item *Item, created bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.syncMap.Entries[itemID] = ToSyncEntry(item)
	st.items[itemID] = item
	if created {
		st.created[item.ItemType]++
	}
}

// Sync runs the full reconciliation pipeline for a hashed plan. The returned
// SyncResult carries the rebuilt sync map, per-type creation counters, and
// any warnings (skipped cyclic edges, omitted unresolved references).
func (e *Engine) Sync(ctx context.Context, plan *Plan) (*SyncResult, error) {
	if plan == nil || plan.ID == "" {
		return nil, NewSyncError("plan is nil or has no plan ID", nil)
	}

	e.logger.Info().
		Str("plan_id", plan.ID).
		Int("items", len(plan.Items)).
		Bool("dry_run", e.cfg.DryRun).
		Msg("sync run starting")

	relations := planRelations(plan)

	state := &syncState{
		syncMap: NewSyncMap(plan.ID, e.cfg.Target, e.cfg.BoardURL),
		items:   make(map[string]*Item, len(plan.Items)),
		created: make(map[ItemType]int, 3),
		sem:     newSemaphore(e.cfg.MaxConcurrent),
	}
	for _, t := range ItemTypes() {
		state.created[t] = 0
	}

	existing, err := e.discover(ctx, plan)
	if err != nil {
		return nil, err
	}
	if err := e.upsert(ctx, plan, existing, state); err != nil {
		return nil, err
	}
	if err := e.enrich(ctx, plan, state); err != nil {
		return nil, err
	}
	if err := e.relate(ctx, plan, relations, state); err != nil {
		return nil, err
	}

	result := &SyncResult{
		SyncMap:      state.syncMap,
		ItemsCreated: state.created,
		DryRun:       e.cfg.DryRun,
		Warnings:     relations.warnings,
	}
	e.logger.Info().
		Str("plan_id", plan.ID).
		Int("created", result.TotalCreated()).
		Int("warnings", len(result.Warnings)).
		Msg("sync run complete")
	return result, nil
}

// discover locates previously-created items by their marker blocks. The
// marker is the sole identity signal: the engine never consults a sync map
// to decide whether an item exists.
func (e *Engine) discover(ctx context.Context, plan *Plan) (map[string]*Item, error) {
	ctx, finish := e.startPhase(ctx, "discover", plan.ID)
	existing, err := e.discoverByMarker(ctx, plan.ID, func(itemID string) bool {
		return plan.ItemByID(itemID) != nil
	})
	finish(err)
	if err != nil {
		return nil, err
	}
	e.logger.Debug().Int("existing", len(existing)).Msg("discovery complete")
	return existing, nil
}

// discoverByMarker searches for items carrying the configured label and the
// plan's discovery token, parses each body's marker block, and indexes the
// items whose PLAN_ID matches and whose ITEM_ID passes the accept filter.
// Foreign or unparseable bodies are skipped: other plans may share the label.
func (e *Engine) discoverByMarker(ctx context.Context, planID string, accept func(itemID string) bool) (map[string]*Item, error) {
	if !e.provider.Capabilities().DiscoveryByBodyContains {
		return nil, NewCapabilityError(CapabilityDiscoveryByBodyContains)
	}

	filters := ItemSearchFilters{
		Labels:       []string{e.cfg.Label},
		BodyContains: marker.DiscoveryToken(planID),
	}
	found, err := e.provider.SearchItems(ctx, filters)
	if err != nil {
		return nil, NewSyncError("discovery search failed", err)
	}

	existing := make(map[string]*Item)
	for _, item := range found {
		block, err := marker.Parse(item.Body)
		if err != nil || block.PlanID != planID {
			continue
		}
		if accept != nil && !accept(block.ItemID) {
			continue
		}
		existing[block.ItemID] = item
	}
	return existing, nil
}

// upsert walks the levels in order (EPIC, STORY, TASK), creating every item
// discovery did not find. A level completes entirely before the next begins,
// so a story's parent epic always has an entry before the story renders.
func (e *Engine) upsert(ctx context.Context, plan *Plan, existing map[string]*Item, state *syncState) error {
	ctx, finish := e.startPhase(ctx, "upsert", plan.ID)
	err := e.upsertLevels(ctx, plan, existing, state)
	finish(err)
	if err != nil {
		return err
	}

	if e.metrics != nil {
		for t, n := range state.created {
			e.metrics.RecordItemsCreated(string(t), n)
		}
	}
	return nil
}

func (e *Engine) upsertLevels(ctx context.Context, plan *Plan, existing map[string]*Item, state *syncState) error {
	for _, level := range ItemTypes() {
		items := plan.ItemsOfType(level)
		if len(items) == 0 {
			continue
		}
		err := e.forEachItem(ctx, state.sem, items, func(ctx context.Context, item *PlanItem) error {
			return e.upsertItem(ctx, plan, item, existing, state)
		})
		if err != nil {
			return wrapPhaseError("upsert", err)
		}
		e.logger.Debug().Str("level", string(level)).Int("items", len(items)).Msg("upsert level complete")
	}
	return nil
}

func (e *Engine) upsertItem(ctx context.Context, plan *Plan, item *PlanItem, existing map[string]*Item, state *syncState) error {
	if found, ok := existing[item.ID]; ok {
		state.record(item.ID, found, false)
		return nil
	}

	// Preliminary context: the parent level is fully settled, children and
	// dependencies are not; enrich fills those in.
	rc := RenderContext{PlanID: plan.ID}
	if item.ParentID != "" {
		if entry, ok := state.entry(item.ParentID); ok {
			rc.ParentRef = entry.Key
		}
	}

	input := CreateItemInput{
		Title:    item.Title,
		Body:     e.renderer.Render(item, rc),
		ItemType: item.Type,
		Labels:   []string{e.cfg.Label},
	}
	if !item.Estimate.IsZero() {
		input.Size = item.Estimate.TShirt
	}

	created, err := e.provider.CreateItem(ctx, input)
	if err != nil {
		return err
	}
	state.record(item.ID, created, true)
	e.logger.Debug().Str("item_id", item.ID).Str("key", created.Key).Msg("item created")
	return nil
}

// enrich re-renders every body with the full cross-reference context and
// updates the remote item. Every item goes through enrich, referenced or
// not, so marker blocks are canonical after each successful run. Labels on
// the update are additive; the provider never strips foreign labels.
func (e *Engine) enrich(ctx context.Context, plan *Plan, state *syncState) error {
	ctx, finish := e.startPhase(ctx, "enrich", plan.ID)
	err := e.forEachItem(ctx, state.sem, plan.SortedItems(), func(ctx context.Context, item *PlanItem) error {
		return e.enrichItem(ctx, plan, item, state)
	})
	finish(err)
	if err != nil {
		return wrapPhaseError("enrich", err)
	}

	if e.metrics != nil {
		e.metrics.RecordItemsUpdated(state.updated)
	}
	return nil
}

func (e *Engine) enrichItem(ctx context.Context, plan *Plan, item *PlanItem, state *syncState) error {
	entry, ok := state.entry(item.ID)
	if !ok {
		return NewSyncError(fmt.Sprintf("item %s has no sync entry after upsert", item.ID), nil)
	}

	body := e.renderer.Render(item, e.fullContext(plan, item, state))
	input := UpdateItemInput{
		Title:    &item.Title,
		Body:     &body,
		ItemType: &item.Type,
		Labels:   []string{e.cfg.Label},
	}
	if !item.Estimate.IsZero() {
		input.Size = &item.Estimate.TShirt
	}

	if _, err := e.provider.UpdateItem(ctx, entry.ID, input); err != nil {
		return err
	}
	state.mu.Lock()
	state.updated++
	state.mu.Unlock()
	return nil
}

// fullContext builds the enrich-time render context: parent reference,
// children ordered by (type, id), and dependencies sorted by dependency ID.
// Dependencies outside the loaded plan are omitted.
func (e *Engine) fullContext(plan *Plan, item *PlanItem, state *syncState) RenderContext {
	rc := RenderContext{PlanID: plan.ID}
	if item.ParentID != "" {
		if entry, ok := state.entry(item.ParentID); ok {
			rc.ParentRef = entry.Key
		}
	}
	for _, child := range plan.Children(item.ID) {
		if entry, ok := state.entry(child.ID); ok {
			rc.SubItems = append(rc.SubItems, ChildRef{Key: entry.Key, Title: child.Title})
		}
	}
	deps := append([]string(nil), item.DependsOn...)
	sort.Strings(deps)
	for _, dep := range deps {
		if plan.ItemByID(dep) == nil {
			continue
		}
		ref := DependencyRef{ID: dep}
		if entry, ok := state.entry(dep); ok {
			ref.Ref = entry.Key
		}
		rc.Dependencies = append(rc.Dependencies, ref)
	}
	return rc
}

// relate converges parent and blocked-by relations level by level. The
// provider computes the diff against remote relations, so re-running an
// unchanged plan issues zero relation writes.
func (e *Engine) relate(ctx context.Context, plan *Plan, relations *relationPlan, state *syncState) error {
	caps := e.provider.Capabilities()
	if relations.hasParents() && !caps.SupportsParentRelation {
		return NewCapabilityError(CapabilitySupportsParentRelation)
	}
	if relations.hasBlockers() && !caps.SupportsDependencyRelation {
		return NewCapabilityError(CapabilitySupportsDependencyRelation)
	}

	ctx, finish := e.startPhase(ctx, "relate", plan.ID)
	err := e.relateLevels(ctx, plan, relations, state)
	finish(err)
	if err != nil {
		return err
	}
	return nil
}

func (e *Engine) relateLevels(ctx context.Context, plan *Plan, relations *relationPlan, state *syncState) error {
	for _, level := range ItemTypes() {
		var items []*PlanItem
		for _, item := range plan.ItemsOfType(level) {
			if _, ok := relations.parents[item.ID]; ok {
				items = append(items, item)
				continue
			}
			if len(relations.blockers[item.ID]) > 0 {
				items = append(items, item)
			}
		}
		if len(items) == 0 {
			continue
		}
		err := e.forEachItem(ctx, state.sem, items, func(ctx context.Context, item *PlanItem) error {
			return e.relateItem(ctx, item, relations, state)
		})
		if err != nil {
			return wrapPhaseError("relate", err)
		}
	}
	return nil
}

func (e *Engine) relateItem(ctx context.Context, item *PlanItem, relations *relationPlan, state *syncState) error {
	state.mu.Lock()
	self := state.items[item.ID]
	var parent *Item
	if parentID, ok := relations.parents[item.ID]; ok {
		parent = state.items[parentID]
	}
	var blockers []*Item
	for _, blockerID := range relations.blockers[item.ID] {
		if blocker := state.items[blockerID]; blocker != nil {
			blockers = append(blockers, blocker)
		}
	}
	state.mu.Unlock()

	if self == nil {
		return NewSyncError(fmt.Sprintf("item %s has no provider item after upsert", item.ID), nil)
	}
	return self.ReconcileRelations(ctx, parent, blockers)
}

// forEachItem runs fn for every item concurrently under the run semaphore
// and returns the first error. On error or cancellation, in-flight calls
// settle before the phase reports; no new work starts.
func (e *Engine) forEachItem(ctx context.Context, sem *semaphore, items []*PlanItem, fn func(context.Context, *PlanItem) error) error {
	var wg sync.WaitGroup
	errs := make(chan error, len(items))

	for _, item := range items {
		if err := sem.Acquire(ctx); err != nil {
			break
		}
		wg.Add(1)
		go func(item *PlanItem) {
			defer wg.Done()
			defer sem.Release()
			if err := fn(ctx, item); err != nil {
				errs <- err
			}
		}(item)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return NewCancelledError(err)
	}
	return nil
}

// wrapPhaseError wraps a phase failure in a sync error unless the failure is
// already a capability or cancellation error, which callers classify as
// setup-level.
func wrapPhaseError(phase string, err error) error {
	if err == nil {
		return nil
	}
	if HasCode(err, ErrCodeCapability) || HasCode(err, ErrCodeCancelled) {
		return err
	}
	return NewSyncError(fmt.Sprintf("sync failed during %s", phase), err)
}

// startPhase opens a tracing span and a timer for one phase. The returned
// finish func records the phase outcome.
func (e *Engine) startPhase(ctx context.Context, phase, planID string) (context.Context, func(error)) {
	started := time.Now()
	var span trace.Span
	if e.tracer != nil {
		ctx, span = e.tracer.StartPhaseSpan(ctx, phase, planID)
	}
	return ctx, func(err error) {
		if e.metrics != nil {
			e.metrics.RecordPhaseDuration(phase, time.Since(started))
		}
		if span != nil {
			if err != nil {
				telemetry.RecordError(span, err)
			} else {
				telemetry.RecordSuccess(span)
			}
			span.End()
		}
		e.logger.Debug().Str("phase", phase).Dur("elapsed", time.Since(started)).Err(err).Msg("phase settled")
	}
}
