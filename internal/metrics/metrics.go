// Package metrics provides Prometheus metrics for the river.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "svn_river"

// Tick error kinds used as label values.
const (
	ErrorKindHead       = "head"
	ErrorKindCheckpoint = "checkpoint"
	ErrorKindFetch      = "fetch"
	ErrorKindAssemble   = "assemble"
	ErrorKindSink       = "sink"
	ErrorKindMarker     = "marker"
)

var (
	// RevisionsBehind is head minus checkpoint after the last tick.
	// Labels: identity
	RevisionsBehind = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "revisions_behind",
			Help:      "Number of revisions between the checkpoint and the repository head",
		},
		[]string{"identity"},
	)

	// CheckpointRevision is the last checkpointed revision.
	// Labels: identity
	CheckpointRevision = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkpoint_revision",
			Help:      "Last revision fully processed",
		},
		[]string{"identity"},
	)

	// WindowsProcessed counts windows whose checkpoint was advanced.
	// Labels: identity, mode (incremental, cold)
	WindowsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_processed_total",
			Help:      "Total number of revision windows processed",
		},
		[]string{"identity", "mode"},
	)

	// DocumentsSubmitted counts sink writes accepted, by collection.
	// Labels: collection (revision, document, checkpoint)
	DocumentsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_submitted_total",
			Help:      "Total number of documents accepted by the sink",
		},
		[]string{"collection"},
	)

	// EntriesFiltered counts entries whose content was not extracted.
	// Labels: reason (pattern, oversized)
	EntriesFiltered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_filtered_total",
			Help:      "Total number of changed entries filtered out of content extraction",
		},
		[]string{"reason"},
	)

	// TickErrors counts ticks that ended without advancing the checkpoint.
	// Labels: kind (head, checkpoint, fetch, assemble, sink, marker)
	TickErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_errors_total",
			Help:      "Total number of failed ticks by failure kind",
		},
		[]string{"kind"},
	)

	// TickDuration tracks how long ticks take.
	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of sync ticks in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
	)
)

// ObserveProgress updates the checkpoint and lag gauges of an identity.
func ObserveProgress(identity string, checkpoint, head int64) {
	CheckpointRevision.WithLabelValues(identity).Set(float64(checkpoint))
	behind := head - checkpoint
	if behind < 0 {
		behind = 0
	}
	RevisionsBehind.WithLabelValues(identity).Set(float64(behind))
}
