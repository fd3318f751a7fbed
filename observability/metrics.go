package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics aggregates the engine-level counters exposed to
// operators. All observation methods are nil-safe so engines can run without
// a sink.
type SettlementMetrics struct {
	ordersSettled prometheus.Counter
	intentActions *prometheus.CounterVec
	feeCredits    *prometheus.CounterVec
	feeClaims     *prometheus.CounterVec
}

var (
	settlementOnce     sync.Once
	settlementRegistry *SettlementMetrics
)

// Settlement returns the process-wide settlement metrics registry.
func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementRegistry = &SettlementMetrics{
			ordersSettled: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "settlement_orders_settled_total",
				Help: "Count of matched order pairs settled.",
			}),
			intentActions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "settlement_intent_actions_total",
				Help: "Count of intent lifecycle transitions by action.",
			}, []string{"action"}),
			feeCredits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "settlement_fee_credits_total",
				Help: "Count of fee accrual credits by token.",
			}, []string{"token"}),
			feeClaims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "settlement_fee_claims_total",
				Help: "Count of fee claims by token.",
			}, []string{"token"}),
		}
		prometheus.MustRegister(
			settlementRegistry.ordersSettled,
			settlementRegistry.intentActions,
			settlementRegistry.feeCredits,
			settlementRegistry.feeClaims,
		)
	})
	return settlementRegistry
}

func (m *SettlementMetrics) ObserveOrderSettled() {
	if m == nil {
		return
	}
	m.ordersSettled.Inc()
}

func (m *SettlementMetrics) ObserveIntent(action string) {
	if m == nil {
		return
	}
	if action == "" {
		action = "unknown"
	}
	m.intentActions.WithLabelValues(action).Inc()
}

func (m *SettlementMetrics) ObserveFeeCredit(token string) {
	if m == nil {
		return
	}
	if token == "" {
		token = "unknown"
	}
	m.feeCredits.WithLabelValues(token).Inc()
}

func (m *SettlementMetrics) ObserveFeeClaim(token string) {
	if m == nil {
		return
	}
	if token == "" {
		token = "unknown"
	}
	m.feeClaims.WithLabelValues(token).Inc()
}
