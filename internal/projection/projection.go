package projection

import (
	"sync"
	"time"

	"custos/internal/budget"
	"custos/internal/intent"
	"custos/internal/ledger"
	"custos/internal/risk"
	"custos/internal/types"
)

// Snapshot is one consistent read-model view over every control subsystem.
// Consumers poll it; nothing in here is authoritative state.
type Snapshot struct {
	GeneratedAt time.Time `json:"generated_at"`

	Posture map[string]any `json:"posture,omitempty"`

	Breaker types.CircuitBreakerState `json:"breaker"`

	Budgets     []types.PhaseBudget `json:"budgets"`
	Policy      types.RiskPolicy    `json:"policy"`
	BudgetCycle time.Time           `json:"budget_cycle"`

	ReconcileConfidence float64                `json:"reconcile_confidence"`
	ReconcileStatus     ledger.ReconcileStatus `json:"reconcile_status"`
	DriftReports        []ledger.DriftReport   `json:"drift_reports,omitempty"`

	PendingApprovals int                     `json:"pending_approvals"`
	Intents          []*types.OperatorIntent `json:"intents,omitempty"`
}

// PostureSource abstracts the lockfile posture for the read model.
type PostureSource interface {
	State() map[string]any
}

// Projection aggregates live component state on demand. It holds no copy
// of its own beyond the last snapshot handed out.
type Projection struct {
	gateway *intent.Gateway
	engine  *budget.Engine
	breaker *risk.Breaker
	recon   *ledger.Reconciler
	posture PostureSource

	mu   sync.Mutex
	last Snapshot

	nowFn func() time.Time
}

func New(gw *intent.Gateway, eng *budget.Engine, br *risk.Breaker, rec *ledger.Reconciler, posture PostureSource) *Projection {
	return &Projection{
		gateway: gw,
		engine:  eng,
		breaker: br,
		recon:   rec,
		posture: posture,
		nowFn:   time.Now,
	}
}

// Snapshot assembles a fresh view. includeIntents controls whether the full
// intent history rides along; dashboards polling at high frequency leave it
// off.
func (p *Projection) Snapshot(includeIntents bool) Snapshot {
	snap := Snapshot{GeneratedAt: p.nowFn()}
	if p.posture != nil {
		snap.Posture = p.posture.State()
	}
	if p.breaker != nil {
		snap.Breaker = p.breaker.State()
	}
	if p.engine != nil {
		snap.Budgets, snap.Policy, snap.BudgetCycle = p.engine.Snapshot()
	}
	if p.recon != nil {
		snap.ReconcileConfidence = p.recon.Confidence()
		snap.ReconcileStatus = p.recon.Status()
		snap.DriftReports = p.recon.LastReports()
	}
	if p.gateway != nil {
		snap.PendingApprovals = p.gateway.PendingApprovalCount()
		if includeIntents {
			snap.Intents = p.gateway.Intents()
		}
	}
	p.mu.Lock()
	p.last = snap
	p.mu.Unlock()
	return snap
}

// Last returns the most recently assembled snapshot without refreshing.
func (p *Projection) Last() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}
