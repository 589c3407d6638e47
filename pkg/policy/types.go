package policy

// Severity ranks how serious a policy violation is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the known severity levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Blocking reports whether a violation at this severity aborts a sync.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is one Rego policy ready for compilation. The Rego source must
// declare a package and a deny rule; the deny set drives violations.
type Policy struct {
	// Name identifies the policy in violations and logs.
	Name string `json:"name"`

	// Description is a short human summary.
	Description string `json:"description,omitempty"`

	// Rego holds the policy source.
	Rego string `json:"rego"`

	// Severity is the default severity for deny entries that do not
	// carry their own.
	Severity Severity `json:"severity,omitempty"`

	// Enabled policies are evaluated; disabled ones are kept but skipped.
	Enabled bool `json:"enabled"`
}

// Violation is one deny entry produced by evaluating a policy against a plan.
type Violation struct {
	// Policy is the name of the policy that produced the entry.
	Policy string `json:"policy"`

	// Rule optionally names the rule inside the policy.
	Rule string `json:"rule,omitempty"`

	// Message describes what was violated.
	Message string `json:"message"`

	// Severity of this violation.
	Severity Severity `json:"severity"`

	// ItemID is the offending plan item, when the rule names one.
	ItemID string `json:"item_id,omitempty"`
}

// Result is the outcome of evaluating every enabled policy against a plan.
type Result struct {
	// Allowed is false when any violation has a blocking severity.
	Allowed bool `json:"allowed"`

	// Violations holds every deny entry, blocking or not, in
	// deterministic order.
	Violations []Violation `json:"violations,omitempty"`
}

// Blocking returns the violations whose severity aborts a sync.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// Warnings formats the non-blocking violations for surfacing in a sync
// result.
func (r *Result) Warnings() []string {
	var out []string
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			continue
		}
		out = append(out, formatViolation(v))
	}
	return out
}

// String renders a violation as "policy <name> [<item>]: <message>".
func (v Violation) String() string {
	msg := "policy " + v.Policy
	if v.ItemID != "" {
		msg += " [" + v.ItemID + "]"
	}
	return msg + ": " + v.Message
}

func formatViolation(v Violation) string { return v.String() }
