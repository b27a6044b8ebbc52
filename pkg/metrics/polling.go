package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Poll outcome labels.
const (
	PollOutcomeSucceeded   = "succeeded"
	PollOutcomeFailed      = "failed"
	PollOutcomeDeactivated = "deactivated"
)

// PollingMetrics records scheduler tick and per-record outcomes.
type PollingMetrics struct {
	tickDuration  prometheus.Histogram
	selected      prometheus.Counter
	outcomes      *prometheus.CounterVec
	deactivations *prometheus.CounterVec
	skippedTicks  prometheus.Counter
}

// NewPollingMetrics registers the polling metrics on the provided registerer.
func NewPollingMetrics(reg prometheus.Registerer) *PollingMetrics {
	if reg == nil {
		return &PollingMetrics{}
	}
	tickDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "polling_tick_duration_seconds",
		Help:    "Duration of polling scheduler ticks in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	selected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "polling_records_selected_total",
		Help: "Polling records selected as due across all ticks.",
	})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "polling_record_outcomes_total",
		Help: "Per-record polling outcomes.",
	}, []string{"outcome"})
	deactivations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "polling_deactivations_total",
		Help: "Polling records deactivated, by stop reason.",
	}, []string{"reason"})
	skippedTicks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "polling_ticks_skipped_total",
		Help: "Ticks skipped because another replica held the polling lock.",
	})
	reg.MustRegister(tickDuration, selected, outcomes, deactivations, skippedTicks)
	return &PollingMetrics{
		tickDuration:  tickDuration,
		selected:      selected,
		outcomes:      outcomes,
		deactivations: deactivations,
		skippedTicks:  skippedTicks,
	}
}

// ObserveTick records a completed tick and the number of records it selected.
func (p *PollingMetrics) ObserveTick(duration time.Duration, selected int) {
	if p == nil || p.tickDuration == nil {
		return
	}
	p.tickDuration.Observe(duration.Seconds())
	p.selected.Add(float64(selected))
}

// IncOutcome increments the outcome counter.
func (p *PollingMetrics) IncOutcome(outcome string) {
	if p == nil || p.outcomes == nil {
		return
	}
	p.outcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncDeactivation increments the deactivation counter for the given reason.
func (p *PollingMetrics) IncDeactivation(reason string) {
	if p == nil || p.deactivations == nil {
		return
	}
	p.deactivations.WithLabelValues(normalizeLabel(reason)).Inc()
}

// IncSkippedTick counts a tick lost to another replica.
func (p *PollingMetrics) IncSkippedTick() {
	if p == nil || p.skippedTicks == nil {
		return
	}
	p.skippedTicks.Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
