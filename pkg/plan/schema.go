package plan

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/planpilot/planpilot/pkg/engine"
)

// schemaGate validates raw plan item records against the builtin CUE schema
// before they are decoded into typed structs. The gate catches shape errors
// (wrong types, unknown keys, malformed enums) with precise messages; the
// validator handles the relational rules afterwards.
type schemaGate struct {
	ctx    *cue.Context
	schema cue.Value
	mu     sync.Mutex
}

// builtinPlanItemSchema is the closed schema for one plan item record. The
// type field stays optional here: multi-file loading assigns it from the
// file role and the unified loader enforces its presence separately. The
// requiredness of goal, requirements, and acceptance_criteria is a
// validator rule, not a schema rule, so partial inputs still load.
const builtinPlanItemSchema = `
#PlanItem: {
	// ID is unique across the whole plan.
	id: string & !=""

	// Type is the hierarchy level.
	type?: "EPIC" | "STORY" | "TASK"

	// Title is the item title.
	title: string & !=""

	goal?:                string
	requirements?:        [...string]
	acceptance_criteria?: [...string]
	success_metrics?:     [...string]
	assumptions?:         [...string]
	risks?:               [...string]
	motivation?:          string
	parent_id?:           string
	sub_item_ids?:        [...string]
	depends_on?:          [...string]

	estimate?: {
		tshirt?: string
		hours?:  number
	}

	verification?: {
		commands?:     [...string]
		ci_checks?:    [...string]
		evidence?:     [...string]
		manual_steps?: [...string]
	}

	spec_ref?: {
		url?:     string
		section?: string
		quote?:   string
	}

	scope?: {
		in_scope?:  [...string]
		out_scope?: [...string]
	}
}
`

// newSchemaGate compiles the builtin schema once.
func newSchemaGate() (*schemaGate, error) {
	ctx := cuecontext.New()
	compiled := ctx.CompileString(builtinPlanItemSchema)
	if err := compiled.Err(); err != nil {
		return nil, engine.NewPlanLoadError("failed to compile builtin plan schema", err)
	}
	schema := compiled.LookupPath(cue.ParsePath("#PlanItem"))
	if err := schema.Err(); err != nil {
		return nil, engine.NewPlanLoadError("builtin plan schema has no #PlanItem", err)
	}
	return &schemaGate{ctx: ctx, schema: schema}, nil
}

// validateItem unifies one raw record with the schema. The cue.Context is
// not safe for concurrent use, hence the mutex; plan loading is not a hot
// path.
func (g *schemaGate) validateItem(raw map[string]interface{}) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	encoded := g.ctx.Encode(raw)
	if err := encoded.Err(); err != nil {
		return fmt.Errorf("failed to encode item: %w", err)
	}
	unified := g.schema.Unify(encoded)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return err
	}
	return nil
}
