package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics counts money movements and the side effects around them.
// A nil receiver is a no-op so services can run without a registry.
type SettlementMetrics struct {
	postings     *prometheus.CounterVec
	settlements  *prometheus.CounterVec
	effects      *prometheus.CounterVec
	seqFallbacks *prometheus.CounterVec
}

// NewSettlementMetrics registers the settlement metrics on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_postings_total",
		Help: "Wallet ledger postings by entry type, source and outcome.",
	}, []string{"type", "source", "outcome"})
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_settlements_total",
		Help: "Order settlement attempts by payment method and outcome.",
	}, []string{"method", "outcome"})
	effects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_effects_total",
		Help: "Outbox effect dispatches by effect and outcome.",
	}, []string{"effect", "outcome"})
	seqFallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sequence_fallback_ids_total",
		Help: "Identifiers issued from the timestamp fallback after exhausted retries.",
	}, []string{"scope"})
	reg.MustRegister(postings, settlements, effects, seqFallbacks)
	return &SettlementMetrics{
		postings:     postings,
		settlements:  settlements,
		effects:      effects,
		seqFallbacks: seqFallbacks,
	}
}

// IncPosting records one ledger posting attempt.
func (m *SettlementMetrics) IncPosting(entryType, source, outcome string) {
	if m == nil || m.postings == nil {
		return
	}
	m.postings.WithLabelValues(normalizeLabel(entryType), normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

// IncSettlement records the outcome of placing or verifying an order.
func (m *SettlementMetrics) IncSettlement(method, outcome string) {
	if m == nil || m.settlements == nil {
		return
	}
	m.settlements.WithLabelValues(normalizeLabel(method), normalizeLabel(outcome)).Inc()
}

// IncEffect records one effect dispatch.
func (m *SettlementMetrics) IncEffect(effect, outcome string) {
	if m == nil || m.effects == nil {
		return
	}
	m.effects.WithLabelValues(normalizeLabel(effect), normalizeLabel(outcome)).Inc()
}

// IncSequenceFallback records a fallback identifier.
func (m *SettlementMetrics) IncSequenceFallback(scope string) {
	if m == nil || m.seqFallbacks == nil {
		return
	}
	m.seqFallbacks.WithLabelValues(normalizeLabel(scope)).Inc()
}
