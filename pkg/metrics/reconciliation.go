package metrics

import "github.com/prometheus/client_golang/prometheus"

// Reconcile sources.
const (
	SourcePoll    = "poll"
	SourceWebhook = "webhook"
	SourceConfirm = "confirm"
	SourceManual  = "manual"
)

// ReconciliationMetrics records status transitions, side effects and webhook traffic.
type ReconciliationMetrics struct {
	transitions *prometheus.CounterVec
	sideEffects *prometheus.CounterVec
	webhooks    *prometheus.CounterVec
}

// NewReconciliationMetrics registers the reconciliation metrics on the provided registerer.
func NewReconciliationMetrics(reg prometheus.Registerer) *ReconciliationMetrics {
	if reg == nil {
		return &ReconciliationMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transaction_transitions_total",
		Help: "Transaction status transitions applied, by source.",
	}, []string{"from", "to", "source"})
	sideEffects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "success_side_effects_total",
		Help: "Success side effects dispatched, by step and result.",
	}, []string{"step", "result"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Gateway webhook events received, by type and result.",
	}, []string{"type", "result"})
	reg.MustRegister(transitions, sideEffects, webhooks)
	return &ReconciliationMetrics{
		transitions: transitions,
		sideEffects: sideEffects,
		webhooks:    webhooks,
	}
}

// IncTransition counts an applied status change.
func (r *ReconciliationMetrics) IncTransition(from, to, source string) {
	if r == nil || r.transitions == nil {
		return
	}
	r.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to), normalizeLabel(source)).Inc()
}

// IncSideEffect counts a side effect step (upgrade, email) and its result.
func (r *ReconciliationMetrics) IncSideEffect(step, result string) {
	if r == nil || r.sideEffects == nil {
		return
	}
	r.sideEffects.WithLabelValues(normalizeLabel(step), normalizeLabel(result)).Inc()
}

// IncWebhook counts a webhook delivery.
func (r *ReconciliationMetrics) IncWebhook(eventType, result string) {
	if r == nil || r.webhooks == nil {
		return
	}
	r.webhooks.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}
