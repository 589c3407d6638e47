package plan

import (
	"fmt"

	"github.com/planpilot/planpilot/pkg/engine"
)

// Mode selects how unresolved cross-references are treated.
type Mode string

const (
	// ModeStrict requires every parent_id and depends_on entry to resolve
	// to a loaded item.
	ModeStrict Mode = "strict"

	// ModePartial tolerates unresolved references; the engine later omits
	// them from rendered context and relation edges.
	ModePartial Mode = "partial"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeStrict || m == ModePartial
}

// Validate checks the plan's relational integrity. Issues are collected
// across all items and returned as one aggregated validation error, so a
// single run reports everything that is wrong.
func Validate(p *engine.Plan, mode Mode) error {
	if !mode.Valid() {
		return engine.NewConfigError(fmt.Sprintf("unknown validation mode %q", mode), nil)
	}

	var issues []engine.ValidationIssue
	flag := func(itemID, field, format string, args ...interface{}) {
		issues = append(issues, engine.ValidationIssue{
			ItemID:  itemID,
			Field:   field,
			Message: fmt.Sprintf(format, args...),
		})
	}

	seen := make(map[string]bool, len(p.Items))
	for _, item := range p.Items {
		if seen[item.ID] {
			flag(item.ID, "id", "duplicate item ID")
		}
		seen[item.ID] = true

		if !item.Type.Valid() {
			flag(item.ID, "type", "unknown item type %q", item.Type)
		}
		if item.Title == "" {
			flag(item.ID, "title", "title is required")
		}
		if item.Goal == "" {
			flag(item.ID, "goal", "goal is required")
		}
		if len(item.Requirements) == 0 {
			flag(item.ID, "requirements", "at least one requirement is required")
		}
		if len(item.AcceptanceCriteria) == 0 {
			flag(item.ID, "acceptance_criteria", "at least one acceptance criterion is required")
		}

		validateParent(p, item, mode, flag)

		if mode == ModeStrict {
			for _, dep := range item.DependsOn {
				if p.ItemByID(dep) == nil {
					flag(item.ID, "depends_on", "dependency %q is not part of the plan", dep)
				}
			}
		}
	}

	if len(issues) > 0 {
		return engine.NewPlanValidationError(issues)
	}
	return nil
}

// validateParent checks one item's parent link: epics carry none, resolved
// parents sit exactly one level up and list the child in sub_item_ids, and
// strict mode rejects unresolved links.
func validateParent(p *engine.Plan, item *engine.PlanItem, mode Mode, flag func(itemID, field, format string, args ...interface{})) {
	if item.Type == engine.ItemTypeEpic {
		if item.ParentID != "" {
			flag(item.ID, "parent_id", "epics must not have a parent")
		}
		return
	}
	if item.ParentID == "" {
		return
	}

	parent := p.ItemByID(item.ParentID)
	if parent == nil {
		if mode == ModeStrict {
			flag(item.ID, "parent_id", "parent %q is not part of the plan", item.ParentID)
		}
		return
	}

	if want, ok := item.Type.ParentType(); ok && parent.Type != want {
		flag(item.ID, "parent_id", "parent %q is a %s, expected a %s", item.ParentID, parent.Type, want)
	}

	// sub_item_ids is a projection of the inverse parent graph; when the
	// parent states one, both sides must agree.
	if len(parent.SubItemIDs) > 0 && !containsString(parent.SubItemIDs, item.ID) {
		flag(item.ID, "parent_id", "parent %q does not list this item in sub_item_ids", item.ParentID)
	}
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
