// Package metrics exposes Prometheus instruments for ingestion, rollups and
// the live dashboard widgets.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes for EventsTotal.
const (
	OutcomeRecorded = "recorded"
	OutcomeSkipped  = "skipped"
	OutcomeInvalid  = "invalid"
	OutcomeFailed   = "failed"
)

var (
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_events_total",
			Help: "Events handled by the recorder by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	BotEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tally_bot_events_total",
			Help: "Recorded events classified as bot traffic",
		},
	)

	RollupRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_rollup_runs_total",
			Help: "Rollup executions by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	RollupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tally_rollup_duration_seconds",
			Help:    "Wall time of successful rollup runs",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
	)

	RollupRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tally_rollup_rows",
			Help: "Rows written by the last successful rollup per summary table",
		},
		[]string{"granularity"},
	)

	LiveQueryFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_live_query_fallbacks_total",
			Help: "Live widget queries answered with empty results after a failure",
		},
		[]string{"query"},
	)

	LiveBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tally_live_breaker_open",
			Help: "1 while the live widget circuit breaker is open",
		},
	)
)

func RecordEvent(eventType, outcome string) {
	EventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func RecordRollup(trigger string, err error, elapsed time.Duration, monthly, yearly, allTime int64) {
	if err != nil {
		RollupRunsTotal.WithLabelValues(trigger, "error").Inc()
		return
	}
	RollupRunsTotal.WithLabelValues(trigger, "success").Inc()
	RollupDuration.Observe(elapsed.Seconds())
	RollupRows.WithLabelValues("monthly").Set(float64(monthly))
	RollupRows.WithLabelValues("yearly").Set(float64(yearly))
	RollupRows.WithLabelValues("all_time").Set(float64(allTime))
}
