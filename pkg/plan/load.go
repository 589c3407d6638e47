// Package plan loads, validates, and fingerprints plans. A plan is a flat
// list of epic, story, and task records read from JSON files or evaluated
// from Starlark scripts; every record passes the CUE schema gate before it
// is decoded. The canonical hash over the loaded items is the plan's
// identity everywhere downstream.
package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/planpilot/planpilot/pkg/engine"
)

// Paths names the plan input files. Either Unified is set, or any subset of
// the per-type paths; mixing the two modes is an error.
type Paths struct {
	// Unified is the path of a single file holding all items, each with an
	// explicit type.
	Unified string

	// Epics, Stories, and Tasks are per-type files. The file role assigns
	// the item type; a type stated inside a record is ignored.
	Epics   string
	Stories string
	Tasks   string
}

// roles returns the per-type paths in level order with their assigned types.
func (p Paths) roles() []struct {
	path string
	typ  engine.ItemType
} {
	return []struct {
		path string
		typ  engine.ItemType
	}{
		{p.Epics, engine.ItemTypeEpic},
		{p.Stories, engine.ItemTypeStory},
		{p.Tasks, engine.ItemTypeTask},
	}
}

// Loader reads plan files into an engine.Plan. Construction compiles the
// schema; a Loader is reusable across plans.
type Loader struct {
	gate   *schemaGate
	star   *starlarkEvaluator
	logger zerolog.Logger
}

// NewLoader creates a loader with the builtin schema.
func NewLoader() (*Loader, error) {
	gate, err := newSchemaGate()
	if err != nil {
		return nil, err
	}
	return &Loader{gate: gate, star: newStarlarkEvaluator(), logger: zerolog.Nop()}, nil
}

// WithLogger attaches a logger.
func (l *Loader) WithLogger(logger zerolog.Logger) *Loader {
	l.logger = logger.With().Str("component", "plan-loader").Logger()
	return l
}

// Load reads the plan files, gates every record through the schema, and
// returns the plan in load order. The returned plan has no ID yet; call
// Finalize (or Hash) after validation.
func (l *Loader) Load(paths Paths) (*engine.Plan, error) {
	unified := paths.Unified != ""
	perType := paths.Epics != "" || paths.Stories != "" || paths.Tasks != ""
	switch {
	case unified && perType:
		return nil, engine.NewPlanLoadError("a unified plan file excludes per-type plan files", nil)
	case !unified && !perType:
		return nil, engine.NewPlanLoadError("no plan files configured", nil)
	}

	var records []rawItem
	if unified {
		loaded, err := l.loadUnified(paths.Unified)
		if err != nil {
			return nil, err
		}
		records = loaded
	} else {
		for _, role := range paths.roles() {
			if role.path == "" {
				continue
			}
			loaded, err := l.loadTyped(role.path, role.typ)
			if err != nil {
				return nil, err
			}
			records = append(records, loaded...)
		}
	}

	if len(records) == 0 {
		return nil, engine.NewPlanLoadError("plan contains no items", nil)
	}

	items, err := l.decodeRecords(records)
	if err != nil {
		return nil, err
	}
	l.logger.Debug().Int("items", len(items)).Msg("plan loaded")
	return engine.NewPlan(items), nil
}

// rawItem is one undecoded record plus where it came from, for error context.
type rawItem struct {
	record map[string]interface{}
	origin string
}

// loadUnified reads a single file of items with explicit types.
func (l *Loader) loadUnified(path string) ([]rawItem, error) {
	raw, err := l.readRecords(path, true)
	if err != nil {
		return nil, err
	}
	items := make([]rawItem, 0, len(raw))
	for i, record := range raw {
		origin := fmt.Sprintf("%s item %d", filepath.Base(path), i)
		if _, ok := record["type"]; !ok {
			return nil, engine.NewPlanLoadError(origin+": unified plan items must state a type", nil)
		}
		items = append(items, rawItem{record: record, origin: origin})
	}
	return items, nil
}

// loadTyped reads a per-type file and stamps the file role onto each record.
func (l *Loader) loadTyped(path string, typ engine.ItemType) ([]rawItem, error) {
	raw, err := l.readRecords(path, false)
	if err != nil {
		return nil, err
	}
	items := make([]rawItem, 0, len(raw))
	for i, record := range raw {
		// The file role is authoritative; a stated type is overwritten.
		record["type"] = string(typ)
		items = append(items, rawItem{
			record: record,
			origin: fmt.Sprintf("%s item %d", filepath.Base(path), i),
		})
	}
	return items, nil
}

// readRecords reads one file into raw records. Starlark scripts export items
// directly; JSON files hold either a bare array or, in unified mode, an
// object with an items key.
func (l *Loader) readRecords(path string, unified bool) ([]map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewPlanLoadError("failed to read plan file "+path, err)
	}

	if strings.HasSuffix(path, ".star") {
		return l.star.evaluate(filepath.Base(path), data)
	}

	if unified {
		var doc struct {
			Items []map[string]interface{} `json:"items"`
		}
		if err := decodeStrict(data, &doc); err != nil {
			return nil, engine.NewPlanLoadError("failed to parse plan file "+path, err)
		}
		return doc.Items, nil
	}

	var items []map[string]interface{}
	if err := decodeStrict(data, &items); err != nil {
		return nil, engine.NewPlanLoadError("failed to parse plan file "+path, err)
	}
	return items, nil
}

// decodeRecords gates every record through the schema, then decodes into
// typed items. Schema findings are collected across the whole plan so one
// load reports every malformed record.
func (l *Loader) decodeRecords(records []rawItem) ([]*engine.PlanItem, error) {
	var findings []string
	items := make([]*engine.PlanItem, 0, len(records))
	for _, raw := range records {
		if err := l.gate.validateItem(raw.record); err != nil {
			findings = append(findings, fmt.Sprintf("%s: %v", raw.origin, err))
			continue
		}
		item, err := decodeItem(raw.record)
		if err != nil {
			findings = append(findings, fmt.Sprintf("%s: %v", raw.origin, err))
			continue
		}
		items = append(items, item)
	}
	if len(findings) > 0 {
		return nil, engine.NewPlanLoadError(
			fmt.Sprintf("%d plan records failed schema validation:\n  %s",
				len(findings), strings.Join(findings, "\n  ")), nil)
	}
	return items, nil
}

// decodeItem converts one gated record into a typed item via a JSON
// round-trip, so the struct tags stay the single source of field naming.
func decodeItem(record map[string]interface{}) (*engine.PlanItem, error) {
	encoded, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	var item engine.PlanItem
	if err := json.Unmarshal(encoded, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// decodeStrict decodes JSON rejecting unknown top-level fields and trailing
// content.
func decodeStrict(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing content after plan document")
	}
	return nil
}
