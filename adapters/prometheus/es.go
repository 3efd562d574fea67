package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/youngsunkr/khala-go/core/es"
	"github.com/youngsunkr/khala-go/core/metrics"
)

// esMetrics implements es.ESMetrics using Prometheus.
type esMetrics struct {
	// Store metrics
	storeAppendDuration   *prometheus.HistogramVec
	storeLoadDuration     *prometheus.HistogramVec
	eventsAppended        *prometheus.CounterVec
	concurrencyConflicts  *prometheus.CounterVec
	duplicateUniqueValues *prometheus.CounterVec

	// Publisher metrics
	publishDuration *prometheus.HistogramVec
	eventsPublished *prometheus.CounterVec
	publishFailures *prometheus.CounterVec

	// Corrector metrics
	correctionsApplied *prometheus.CounterVec

	// Repository metrics
	repoSaveDuration *prometheus.HistogramVec
	repoFindDuration *prometheus.HistogramVec
}

// NewESMetrics creates a new Prometheus implementation of ESMetrics.
func NewESMetrics(reg prometheus.Registerer) es.ESMetrics {
	m := &esMetrics{
		storeAppendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "khala_es_store_append_duration_seconds",
			Help:    "Event store append latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		storeLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "khala_es_store_load_duration_seconds",
			Help:    "Event store load latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "khala_es_events_appended_total",
			Help: "Total number of events appended",
		}, []string{"aggregate_type"}),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "khala_es_concurrency_conflicts_total",
			Help: "Total number of optimistic lock failures",
		}, []string{"aggregate_type"}),

		duplicateUniqueValues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "khala_es_duplicate_unique_values_total",
			Help: "Total number of appends refused by a uniqueness claim",
		}, []string{"aggregate_type"}),

		publishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "khala_es_publish_duration_seconds",
			Help:    "Outbox publish latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "khala_es_events_published_total",
			Help: "Total number of events published to the bus",
		}, []string{"aggregate_type"}),

		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "khala_es_publish_failures_total",
			Help: "Total number of failed publish attempts",
		}, []string{"aggregate_type"}),

		correctionsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "khala_es_corrections_applied_total",
			Help: "Total number of reconciliation actions applied",
		}, []string{"aggregate_type", "kind"}),

		repoSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "khala_es_repo_save_duration_seconds",
			Help:    "Repository save latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		repoFindDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "khala_es_repo_find_duration_seconds",
			Help:    "Repository find latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),
	}

	reg.MustRegister(
		m.storeAppendDuration,
		m.storeLoadDuration,
		m.eventsAppended,
		m.concurrencyConflicts,
		m.duplicateUniqueValues,
		m.publishDuration,
		m.eventsPublished,
		m.publishFailures,
		m.correctionsApplied,
		m.repoSaveDuration,
		m.repoFindDuration,
	)

	return m
}

func (m *esMetrics) StoreAppendDuration(aggType string) metrics.Timer {
	return newTimer(m.storeAppendDuration.WithLabelValues(aggType))
}

func (m *esMetrics) StoreLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.storeLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) EventsAppended(aggType string, count int) {
	m.eventsAppended.WithLabelValues(aggType).Add(float64(count))
}

func (m *esMetrics) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) DuplicateUniqueValue(aggType string) {
	m.duplicateUniqueValues.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) PublishDuration(aggType string) metrics.Timer {
	return newTimer(m.publishDuration.WithLabelValues(aggType))
}

func (m *esMetrics) EventsPublished(aggType string, count int) {
	m.eventsPublished.WithLabelValues(aggType).Add(float64(count))
}

func (m *esMetrics) PublishFailure(aggType string) {
	m.publishFailures.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) CorrectionApplied(aggType string, kind string) {
	m.correctionsApplied.WithLabelValues(aggType, kind).Inc()
}

func (m *esMetrics) RepoSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.repoSaveDuration.WithLabelValues(aggType))
}

func (m *esMetrics) RepoFindDuration(aggType string) metrics.Timer {
	return newTimer(m.repoFindDuration.WithLabelValues(aggType))
}

var _ es.ESMetrics = (*esMetrics)(nil)
