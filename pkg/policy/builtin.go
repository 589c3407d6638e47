package policy

// Builtin policies ship with the tool and run on every evaluation. They
// encode plan hygiene rules that are advisory by default: all of them
// emit warnings, so they never block a sync on their own.

const taskEstimateRego = `package planpilot.task_estimate

import rego.v1

# Tasks should carry an estimate so the plan can be sized.
deny contains violation if {
	some item in input.items
	item.type == "TASK"
	not item.estimate
	violation := {
		"rule": "task-estimate",
		"message": sprintf("task %s has no estimate", [item.id]),
		"severity": "warning",
		"item_id": item.id,
	}
}
`

const verificationRequiredRego = `package planpilot.verification_required

import rego.v1

# Tasks should state how they are verified, either by commands or CI checks.
deny contains violation if {
	some item in input.items
	item.type == "TASK"
	not has_verification(item)
	violation := {
		"rule": "verification-required",
		"message": sprintf("task %s has no verification commands or CI checks", [item.id]),
		"severity": "warning",
		"item_id": item.id,
	}
}

has_verification(item) if {
	count(object.get(item, ["verification", "commands"], [])) > 0
}

has_verification(item) if {
	count(object.get(item, ["verification", "ci_checks"], [])) > 0
}
`

const idConventionRego = `package planpilot.id_convention

import rego.v1

# Item IDs start with an uppercase prefix followed by alphanumerics,
# underscores, or dashes.
deny contains violation if {
	some item in input.items
	not regex.match("^[A-Z]+[0-9A-Za-z_-]*$", item.id)
	violation := {
		"rule": "id-convention",
		"message": sprintf("item ID %q does not follow the naming convention", [item.id]),
		"severity": "warning",
		"item_id": item.id,
	}
}
`

const dependencyFaninRego = `package planpilot.dependency_fanin

import rego.v1

max_blockers := 8

# Items blocked by too many others usually signal a plan that needs
# restructuring.
deny contains violation if {
	some item in input.items
	count(object.get(item, "depends_on", [])) > max_blockers
	violation := {
		"rule": "dependency-fanin",
		"message": sprintf("item %s depends on %d items (limit %d)", [item.id, count(item.depends_on), max_blockers]),
		"severity": "warning",
		"item_id": item.id,
	}
}
`

// BuiltinPolicies returns the policies that ship with the tool.
func BuiltinPolicies() []Policy {
	return []Policy{
		{
			Name:        "task-estimate",
			Description: "Tasks should carry an estimate",
			Rego:        taskEstimateRego,
			Severity:    SeverityWarning,
			Enabled:     true,
		},
		{
			Name:        "verification-required",
			Description: "Tasks should state verification commands or CI checks",
			Rego:        verificationRequiredRego,
			Severity:    SeverityWarning,
			Enabled:     true,
		},
		{
			Name:        "id-convention",
			Description: "Item IDs follow the uppercase-prefix naming convention",
			Rego:        idConventionRego,
			Severity:    SeverityWarning,
			Enabled:     true,
		},
		{
			Name:        "dependency-fanin",
			Description: "Items should not be blocked by more than eight others",
			Rego:        dependencyFaninRego,
			Severity:    SeverityWarning,
			Enabled:     true,
		},
	}
}
