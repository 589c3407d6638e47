package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func enabledMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := NewMetrics(MetricsConfig{
		Enabled:       true,
		ListenAddress: ":0",
		Path:          "/metrics",
		Namespace:     "planpilot",
	})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func TestMetricsCounters(t *testing.T) {
	m := enabledMetrics(t)

	m.RecordSyncStarted("sync")
	if got := testutil.ToFloat64(m.activeSyncs); got != 1 {
		t.Errorf("active syncs = %v, want 1", got)
	}

	m.RecordItemsCreated("EPIC", 1)
	m.RecordItemsCreated("TASK", 5)
	m.RecordItemsUpdated(3)
	m.RecordItemsDeleted(2)
	m.RecordProviderCall("github", "create_item")
	m.RecordProviderError("github", "create_item")
	m.RecordRelationOp("set-parent")
	m.RecordPolicyViolations("task-estimate", "warning", 4)

	if got := testutil.ToFloat64(m.itemsCreated.WithLabelValues("TASK")); got != 5 {
		t.Errorf("tasks created = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.itemsUpdated); got != 3 {
		t.Errorf("items updated = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.itemsDeleted); got != 2 {
		t.Errorf("items deleted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.providerErrors.WithLabelValues("github", "create_item")); got != 1 {
		t.Errorf("provider errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.policyViolations.WithLabelValues("task-estimate", "warning")); got != 4 {
		t.Errorf("policy violations = %v, want 4", got)
	}

	m.RecordSyncCompleted("succeeded", 2*time.Second)
	if got := testutil.ToFloat64(m.activeSyncs); got != 0 {
		t.Errorf("active syncs after completion = %v, want 0", got)
	}
}

func TestMetricsIgnoreNonPositiveCounts(t *testing.T) {
	m := enabledMetrics(t)

	m.RecordItemsCreated("TASK", 0)
	m.RecordItemsUpdated(-1)
	if got := testutil.ToFloat64(m.itemsCreated.WithLabelValues("TASK")); got != 0 {
		t.Errorf("tasks created = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.itemsUpdated); got != 0 {
		t.Errorf("items updated = %v, want 0", got)
	}
}

func TestDisabledMetricsAreNoOps(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	// None of these may panic on the nil collectors.
	m.RecordSyncStarted("sync")
	m.RecordSyncCompleted("failed", time.Second)
	m.RecordPhaseDuration("upsert", time.Millisecond)
	m.RecordItemsCreated("EPIC", 1)
	m.RecordItemsUpdated(1)
	m.RecordItemsDeleted(1)
	m.RecordProviderCall("dryrun", "search_items")
	m.RecordProviderError("dryrun", "search_items")
	m.RecordRelationOp("add-dependency")
	m.RecordPolicyViolations("id-convention", "warning", 1)
	m.Serve(nil)
}
