// Package observability provides observability utilities
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics must be global for registration
var (
	// StepsTotal tracks the total number of pipeline steps executed
	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_steps_total",
			Help: "Total number of pipeline steps executed",
		},
		[]string{"table", "step", "status"}, // status: success, failed, cached
	)

	// StepDuration measures step execution duration in seconds
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "strata_step_duration_seconds",
			Help:    "Step execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
		},
		[]string{"table", "step"},
	)

	// TablesTotal tracks per-table pipeline outcomes
	TablesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_tables_total",
			Help: "Per-table pipeline outcomes",
		},
		[]string{"status"}, // status: done, quality_flagged, failed
	)

	// BatchRows tracks rows processed and errored by the batch loader
	BatchRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_batch_rows_total",
			Help: "Rows processed and errored by the batch loader",
		},
		[]string{"table", "result"}, // result: processed, errored
	)

	// RetriesTotal tracks step retry attempts
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_retries_total",
			Help: "Step retry attempts",
		},
		[]string{"table", "step"},
	)

	// WatermarkTimestamp tracks the last stored watermark as a unix timestamp
	WatermarkTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strata_watermark_timestamp",
			Help: "Last stored watermark (unix timestamp, when parseable)",
		},
		[]string{"table"},
	)
)
