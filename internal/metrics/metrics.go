// Package metrics defines the Prometheus collectors for a collector run.
// All metrics are prefixed with "tvcollector_".
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Source and parse metrics
var (
	SourceFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvcollector_source_fetches_total",
			Help: "Source fetch attempts by result (ok, not_modified, error)",
		},
		[]string{"result"},
	)

	EntriesParsedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tvcollector_entries_parsed_total",
			Help: "Playlist entries produced by the parser",
		},
	)

	ParseSkippedLinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvcollector_parse_skipped_lines_total",
			Help: "Playlist lines dropped by the parser by reason (orphaned, unterminated, unclassified)",
		},
		[]string{"reason"},
	)
)

// Validation metrics
var (
	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvcollector_probes_total",
			Help: "Liveness checks by outcome (active, inactive, timeout, rejected)",
		},
		[]string{"outcome"},
	)

	ProbeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tvcollector_probe_duration_seconds",
			Help:    "Wall time of a single liveness check including fallbacks",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		},
	)

	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tvcollector_cache_hits_total",
			Help: "URLs accepted from the validation cache without a probe",
		},
	)

	CacheRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tvcollector_cache_records",
			Help: "Validation records held after the last batch",
		},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tvcollector_validation_batch_duration_seconds",
			Help:    "Wall time of a validation batch",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)

	BudgetExceededTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tvcollector_validation_budget_exceeded_total",
			Help: "Validation batches cut short by the time budget",
		},
	)
)

// Output metrics
var (
	ChannelsPublished = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tvcollector_channels_published",
			Help: "Channels written by the last run",
		},
	)

	DuplicatesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tvcollector_duplicates_dropped_total",
			Help: "Entries dropped because an earlier entry claimed the same key",
		},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvcollector_runs_total",
			Help: "Pipeline runs by result (ok, error)",
		},
		[]string{"result"},
	)

	LastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tvcollector_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		},
	)
)

// WriteTextfile dumps the default registry in the node_exporter textfile format.
// A no-op when path is "".
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("metrics: write textfile: %w", err)
	}
	return nil
}
