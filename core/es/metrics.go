package es

import "github.com/youngsunkr/khala-go/core/metrics"

// ESMetrics defines the metrics surface of the persistence core. All methods
// return a Timer or increment counters; implementations must be thread-safe.
type ESMetrics interface {
	// Store operations
	StoreAppendDuration(aggType string) metrics.Timer
	StoreLoadDuration(aggType string) metrics.Timer
	EventsAppended(aggType string, count int)
	ConcurrencyConflict(aggType string)
	DuplicateUniqueValue(aggType string)

	// Publisher
	PublishDuration(aggType string) metrics.Timer
	EventsPublished(aggType string, count int)
	PublishFailure(aggType string)

	// Corrector
	CorrectionApplied(aggType string, kind string)

	// Repository
	RepoSaveDuration(aggType string) metrics.Timer
	RepoFindDuration(aggType string) metrics.Timer
}

// nopESMetrics is a no-op implementation of ESMetrics.
type nopESMetrics struct{}

func (nopESMetrics) StoreAppendDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) StoreLoadDuration(string) metrics.Timer   { return metrics.NopTimer() }
func (nopESMetrics) EventsAppended(string, int)               {}
func (nopESMetrics) ConcurrencyConflict(string)               {}
func (nopESMetrics) DuplicateUniqueValue(string)              {}

func (nopESMetrics) PublishDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) EventsPublished(string, int)          {}
func (nopESMetrics) PublishFailure(string)                {}

func (nopESMetrics) CorrectionApplied(string, string) {}

func (nopESMetrics) RepoSaveDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) RepoFindDuration(string) metrics.Timer { return metrics.NopTimer() }

// NopESMetrics returns a no-op ESMetrics implementation.
func NopESMetrics() ESMetrics { return nopESMetrics{} }
