package plan

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/planpilot/planpilot/pkg/engine"
)

// planIDLength is the hex-character length of a plan ID.
const planIDLength = 12

// Hash computes the canonical plan ID: a 12-hex-character prefix of the
// SHA-256 over the canonical JSON form of the items. Two semantically
// equivalent plans hash identically regardless of file layout, source key
// order, or absent-versus-empty optional fields.
func Hash(items []*engine.PlanItem) (string, error) {
	sorted := make([]*engine.PlanItem, len(items))
	copy(sorted, items)
	engine.SortPlanItems(sorted)

	canonical := make([]map[string]interface{}, len(sorted))
	for i, item := range sorted {
		canonical[i] = canonicalItem(item)
	}

	// encoding/json emits map keys alphabetically and compact arrays; the
	// encoder is used directly so HTML escaping stays off.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(canonical); err != nil {
		return "", engine.NewPlanLoadError("failed to canonicalize plan", err)
	}

	sum := sha256.Sum256(bytes.TrimRight(buf.Bytes(), "\n"))
	return hex.EncodeToString(sum[:])[:planIDLength], nil
}

// Finalize computes and stamps the plan ID.
func Finalize(p *engine.Plan) error {
	id, err := Hash(p.Items)
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}

// canonicalItem produces the canonical key/value form of one item: keys
// whose value is empty (empty string, empty list, zero number, or a
// semantically empty sub-struct) are omitted entirely, so missing and empty
// hash the same.
func canonicalItem(item *engine.PlanItem) map[string]interface{} {
	out := make(map[string]interface{})

	putString := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	putList := func(key string, values []string) {
		if len(values) > 0 {
			out[key] = values
		}
	}

	putString("id", item.ID)
	putString("type", string(item.Type))
	putString("title", item.Title)
	putString("goal", item.Goal)
	putString("motivation", item.Motivation)
	putString("parent_id", item.ParentID)
	putList("requirements", item.Requirements)
	putList("acceptance_criteria", item.AcceptanceCriteria)
	putList("success_metrics", item.SuccessMetrics)
	putList("assumptions", item.Assumptions)
	putList("risks", item.Risks)
	putList("sub_item_ids", item.SubItemIDs)
	putList("depends_on", item.DependsOn)

	if !item.Estimate.IsZero() {
		estimate := make(map[string]interface{})
		if item.Estimate.TShirt != "" {
			estimate["tshirt"] = item.Estimate.TShirt
		}
		if item.Estimate.Hours != 0 {
			estimate["hours"] = item.Estimate.Hours
		}
		out["estimate"] = estimate
	}

	if !item.Verification.IsZero() {
		verification := make(map[string]interface{})
		if len(item.Verification.Commands) > 0 {
			verification["commands"] = item.Verification.Commands
		}
		if len(item.Verification.CIChecks) > 0 {
			verification["ci_checks"] = item.Verification.CIChecks
		}
		if len(item.Verification.Evidence) > 0 {
			verification["evidence"] = item.Verification.Evidence
		}
		if len(item.Verification.ManualSteps) > 0 {
			verification["manual_steps"] = item.Verification.ManualSteps
		}
		out["verification"] = verification
	}

	if !item.SpecRef.IsZero() {
		ref := make(map[string]interface{})
		if item.SpecRef.URL != "" {
			ref["url"] = item.SpecRef.URL
		}
		if item.SpecRef.Section != "" {
			ref["section"] = item.SpecRef.Section
		}
		if item.SpecRef.Quote != "" {
			ref["quote"] = item.SpecRef.Quote
		}
		out["spec_ref"] = ref
	}

	if !item.Scope.IsZero() {
		scope := make(map[string]interface{})
		if len(item.Scope.InScope) > 0 {
			scope["in_scope"] = item.Scope.InScope
		}
		if len(item.Scope.OutScope) > 0 {
			scope["out_scope"] = item.Scope.OutScope
		}
		out["scope"] = scope
	}

	return out
}
