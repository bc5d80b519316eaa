package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Metrics names.
	MetricNameChecks          = "doublezero_rewards_worker_checks_total"
	MetricNameEpochsProcessed = "doublezero_rewards_worker_epochs_processed_total"
	MetricNameFailures        = "doublezero_rewards_worker_failures_total"
	MetricNameSkips           = "doublezero_rewards_worker_skips_total"
	MetricNameProcessDuration = "doublezero_rewards_worker_process_duration_seconds"
	MetricNameConsecFailures  = "doublezero_rewards_worker_consecutive_failures"

	// Labels.
	LabelSkipReason = "reason"

	// Skip reasons.
	SkipReasonAlreadyProcessed = "already_processed"
	SkipReasonRootExists       = "root_exists"
	SkipReasonNoEpoch          = "no_epoch"
	SkipReasonDryRun           = "dry_run"
)

var (
	MetricChecks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameChecks,
			Help: "Number of worker scheduler ticks",
		},
	)

	MetricEpochsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameEpochsProcessed,
			Help: "Number of epochs whose rewards were calculated and posted",
		},
	)

	MetricFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameFailures,
			Help: "Number of failed reward processing attempts",
		},
	)

	MetricSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameSkips,
			Help: "Number of ticks that processed nothing, by reason",
		},
		[]string{LabelSkipReason},
	)

	MetricProcessDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    MetricNameProcessDuration,
			Help:    "Duration of reward processing attempts in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	MetricConsecutiveFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricNameConsecFailures,
			Help: "Current number of consecutive processing failures",
		},
	)
)
