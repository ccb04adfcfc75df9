package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Control-core metrics. Everything here is registered on the default
// registry and exposed via promhttp on the admin server.
var (
	IntentSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custos",
		Subsystem: "intent",
		Name:      "submissions_total",
		Help:      "Intent submissions by type and resulting status.",
	}, []string{"type", "status"})

	PendingApprovals = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "custos",
		Subsystem: "intent",
		Name:      "pending_approvals",
		Help:      "Intents currently waiting for human approval.",
	})

	BudgetCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custos",
		Subsystem: "budget",
		Name:      "cycles_total",
		Help:      "Budget broadcast cycles by trigger.",
	}, []string{"trigger"})

	PhaseNotional = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "custos",
		Subsystem: "budget",
		Name:      "phase_max_notional",
		Help:      "Most recent notional cap per phase.",
	}, []string{"phase", "state"})

	BreakerActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "custos",
		Subsystem: "risk",
		Name:      "breaker_active",
		Help:      "1 when the circuit breaker is tripped.",
	})

	ReconcileConfidence = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "custos",
		Subsystem: "ledger",
		Name:      "reconcile_confidence",
		Help:      "Reconciliation trust scalar in [0,1].",
	})

	LedgerPosts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "custos",
		Subsystem: "ledger",
		Name:      "posts_total",
		Help:      "Ledger postings by outcome (posted, duplicate, failed).",
	}, []string{"outcome"})
)
