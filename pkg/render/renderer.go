// Package render implements the default Markdown body renderer. Bodies open
// with the verbatim metadata marker block and continue with one section per
// non-empty plan item field; empty fields produce no section at all.
// Rendering is a pure function of its inputs: identical item and context
// yield byte-identical output.
package render

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/planpilot/planpilot/pkg/engine"
	"github.com/planpilot/planpilot/pkg/marker"
)

const bodyTemplate = `{{.Marker}}
## Goal

{{.Goal}}
{{if .Motivation}}
## Motivation

{{.Motivation}}
{{end}}{{if .Requirements}}
## Requirements

{{range .Requirements}}- {{.}}
{{end}}{{end}}{{if .AcceptanceCriteria}}
## Acceptance Criteria

{{range .AcceptanceCriteria}}- [ ] {{.}}
{{end}}{{end}}{{if .SuccessMetrics}}
## Success Metrics

{{range .SuccessMetrics}}- {{.}}
{{end}}{{end}}{{if .Assumptions}}
## Assumptions

{{range .Assumptions}}- {{.}}
{{end}}{{end}}{{if .Risks}}
## Risks

{{range .Risks}}- {{.}}
{{end}}{{end}}{{if .Estimate}}
## Estimate

{{.Estimate}}
{{end}}{{if .Verification}}
## Verification

{{range .Verification}}- {{.}}
{{end}}{{end}}{{if .InScope}}
## In Scope

{{range .InScope}}- {{.}}
{{end}}{{end}}{{if .OutScope}}
## Out of Scope

{{range .OutScope}}- {{.}}
{{end}}{{end}}{{if .SpecRef}}
## Spec Reference

{{.SpecRef}}
{{end}}{{if .ParentRef}}
---
Parent: {{.ParentRef}}
{{end}}{{if .SubItems}}
## Sub-Items

{{range .SubItems}}- {{.Key}} {{.Title}}
{{end}}{{end}}{{if .Dependencies}}
## Blocked By

{{range .Dependencies}}- {{if .Ref}}{{.Ref}} ({{.ID}}){{else}}{{.ID}}{{end}}
{{end}}{{end}}`

// bodyData is the flattened, pre-formatted template input.
type bodyData struct {
	Marker             string
	Goal               string
	Motivation         string
	Requirements       []string
	AcceptanceCriteria []string
	SuccessMetrics     []string
	Assumptions        []string
	Risks              []string
	Estimate           string
	Verification       []string
	InScope            []string
	OutScope           []string
	SpecRef            string
	ParentRef          string
	SubItems           []engine.ChildRef
	Dependencies       []engine.DependencyRef
}

// MarkdownRenderer is the default engine.Renderer.
type MarkdownRenderer struct {
	tmpl *template.Template
}

// New creates the default renderer.
func New() *MarkdownRenderer {
	return &MarkdownRenderer{
		tmpl: template.Must(template.New("body").Parse(bodyTemplate)),
	}
}

// Render produces the full item body, marker block first.
func (r *MarkdownRenderer) Render(item *engine.PlanItem, rc engine.RenderContext) string {
	block := marker.Block{
		PlanID:   rc.PlanID,
		ItemID:   item.ID,
		ItemType: string(item.Type),
		ParentID: item.ParentID,
	}

	data := bodyData{
		Marker:             block.Render(),
		Goal:               item.Goal,
		Motivation:         item.Motivation,
		Requirements:       item.Requirements,
		AcceptanceCriteria: item.AcceptanceCriteria,
		SuccessMetrics:     item.SuccessMetrics,
		Assumptions:        item.Assumptions,
		Risks:              item.Risks,
		Estimate:           formatEstimate(item.Estimate),
		Verification:       formatVerification(item.Verification),
		SpecRef:            formatSpecRef(item.SpecRef),
		ParentRef:          rc.ParentRef,
		SubItems:           rc.SubItems,
		Dependencies:       rc.Dependencies,
	}
	if !item.Scope.IsZero() {
		data.InScope = item.Scope.InScope
		data.OutScope = item.Scope.OutScope
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		// The template executes over a plain value struct; execution cannot
		// fail at runtime. Keep the marker contract intact regardless.
		return block.Render()
	}
	return buf.String()
}

func formatEstimate(e *engine.Estimate) string {
	if e.IsZero() {
		return ""
	}
	switch {
	case e.TShirt != "" && e.Hours > 0:
		return fmt.Sprintf("%s (%g h)", e.TShirt, e.Hours)
	case e.TShirt != "":
		return e.TShirt
	default:
		return fmt.Sprintf("%g h", e.Hours)
	}
}

func formatVerification(v *engine.Verification) []string {
	if v.IsZero() {
		return nil
	}
	var lines []string
	for _, cmd := range v.Commands {
		lines = append(lines, "Run `"+cmd+"`")
	}
	for _, check := range v.CIChecks {
		lines = append(lines, "CI check: "+check)
	}
	for _, evidence := range v.Evidence {
		lines = append(lines, "Evidence: "+evidence)
	}
	for _, step := range v.ManualSteps {
		lines = append(lines, "Manual: "+step)
	}
	return lines
}

func formatSpecRef(s *engine.SpecRef) string {
	if s.IsZero() {
		return ""
	}
	out := s.URL
	if s.Section != "" {
		if out != "" {
			out += " - " + s.Section
		} else {
			out = s.Section
		}
	}
	if s.Quote != "" {
		out += "\n\n> " + s.Quote
	}
	return out
}
