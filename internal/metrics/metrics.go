// Package metrics defines the Prometheus metrics exported by hwbench.
//
// All metrics are registered on the default registry via promauto and are
// served by prometheusx when the client runs with -metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Artifact metrics
var (
	// ArtifactAcquisitions counts Acquire calls by outcome. Possible result
	// values are "cached", "downloaded", "http-status", "transport" and
	// "checksum".
	ArtifactAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hwbench_artifact_acquisitions_total",
			Help: "Number of artifact acquisitions, by result.",
		},
		[]string{"result"},
	)

	ArtifactBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hwbench_artifact_downloaded_bytes_total",
			Help: "Number of artifact bytes fetched from the network.",
		},
	)

	ArchiveEntriesExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hwbench_archive_entries_extracted_total",
			Help: "Number of archive entries extracted, by format.",
		},
		[]string{"format"},
	)
)

// Ramp metrics
var (
	RampSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hwbench_ramp_steps_total",
			Help: "Number of attempted ramp steps, by outcome.",
		},
		[]string{"outcome"},
	)

	RampMaxStreams = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hwbench_ramp_max_streams",
			Help:    "Largest sustainable concurrency found by each ramp.",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		},
	)

	WorkerStepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hwbench_worker_step_duration_seconds",
			Help:    "Wall time of a single worker invocation.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
)
