package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides the Prometheus metric set. A disabled config yields a
// no-op instance, so callers never nil-check individual collectors.
type Metrics struct {
	config MetricsConfig

	// Sync metrics
	syncsStarted   *prometheus.CounterVec
	syncsCompleted *prometheus.CounterVec
	syncDuration   *prometheus.HistogramVec
	phaseDuration  *prometheus.HistogramVec
	activeSyncs    prometheus.Gauge

	// Item metrics
	itemsCreated *prometheus.CounterVec
	itemsUpdated prometheus.Counter
	itemsDeleted prometheus.Counter

	// Provider metrics
	providerCalls  *prometheus.CounterVec
	providerErrors *prometheus.CounterVec

	// Relation metrics
	relationOps *prometheus.CounterVec

	// Policy metrics
	policyViolations *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector on its own registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		syncsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "syncs_started_total",
				Help:      "Total number of sync runs started",
			},
			[]string{"kind"},
		),
		syncsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "syncs_completed_total",
				Help:      "Total number of sync runs completed",
			},
			[]string{"status"},
		),
		syncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_duration_seconds",
				Help:      "Duration of sync runs in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of sync phases in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"phase"},
		),
		activeSyncs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_syncs",
				Help:      "Current number of running syncs",
			},
		),

		itemsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_created_total",
				Help:      "Total number of items created, by type",
			},
			[]string{"type"},
		),
		itemsUpdated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_updated_total",
				Help:      "Total number of items updated",
			},
		),
		itemsDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_deleted_total",
				Help:      "Total number of items deleted",
			},
		),

		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Total number of provider calls",
			},
			[]string{"provider", "operation"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of provider call failures",
			},
			[]string{"provider", "operation"},
		),

		relationOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relation_operations_total",
				Help:      "Total number of relation operations applied",
			},
			[]string{"kind"},
		),

		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of policy violations found",
			},
			[]string{"policy", "severity"},
		),
	}

	registry.MustRegister(
		m.syncsStarted,
		m.syncsCompleted,
		m.syncDuration,
		m.phaseDuration,
		m.activeSyncs,
		m.itemsCreated,
		m.itemsUpdated,
		m.itemsDeleted,
		m.providerCalls,
		m.providerErrors,
		m.relationOps,
		m.policyViolations,
	)

	return m, nil
}

// RecordSyncStarted counts a started run and raises the active gauge.
func (m *Metrics) RecordSyncStarted(kind string) {
	if m.syncsStarted == nil {
		return
	}
	m.syncsStarted.WithLabelValues(kind).Inc()
	m.activeSyncs.Inc()
}

// RecordSyncCompleted counts a finished run and lowers the active gauge.
func (m *Metrics) RecordSyncCompleted(status string, duration time.Duration) {
	if m.syncsCompleted == nil {
		return
	}
	m.syncsCompleted.WithLabelValues(status).Inc()
	m.syncDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeSyncs.Dec()
}

// RecordPhaseDuration records the elapsed time of one sync phase.
func (m *Metrics) RecordPhaseDuration(phase string, duration time.Duration) {
	if m.phaseDuration == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordItemsCreated adds created items of one type.
func (m *Metrics) RecordItemsCreated(itemType string, n int) {
	if m.itemsCreated == nil || n <= 0 {
		return
	}
	m.itemsCreated.WithLabelValues(itemType).Add(float64(n))
}

// RecordItemsUpdated adds updated items.
func (m *Metrics) RecordItemsUpdated(n int) {
	if m.itemsUpdated == nil || n <= 0 {
		return
	}
	m.itemsUpdated.Add(float64(n))
}

// RecordItemsDeleted adds deleted items.
func (m *Metrics) RecordItemsDeleted(n int) {
	if m.itemsDeleted == nil || n <= 0 {
		return
	}
	m.itemsDeleted.Add(float64(n))
}

// RecordProviderCall counts one provider call.
func (m *Metrics) RecordProviderCall(provider, operation string) {
	if m.providerCalls == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, operation).Inc()
}

// RecordProviderError counts one failed provider call.
func (m *Metrics) RecordProviderError(provider, operation string) {
	if m.providerErrors == nil {
		return
	}
	m.providerErrors.WithLabelValues(provider, operation).Inc()
}

// RecordRelationOp counts one applied relation operation (set-parent,
// add-dependency, remove-dependency).
func (m *Metrics) RecordRelationOp(kind string) {
	if m.relationOps == nil {
		return
	}
	m.relationOps.WithLabelValues(kind).Inc()
}

// RecordPolicyViolations adds violations found for one policy at one
// severity.
func (m *Metrics) RecordPolicyViolations(policy, severity string, n int) {
	if m.policyViolations == nil || n <= 0 {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Add(float64(n))
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics endpoint on the configured address. It
// returns immediately; the server runs until the process exits.
func (m *Metrics) Serve(logErr func(error)) {
	if !m.config.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logErr != nil {
				logErr(err)
			}
		}
	}()
}
