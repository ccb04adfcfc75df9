package ledger

import (
	"sync"
	"time"

	"custos/internal/logger"
	"custos/internal/metrics"

	"github.com/shopspring/decimal"
)

// ReconcileStatus summarizes how much the shadow ledger can be trusted.
type ReconcileStatus string

const (
	StatusHealthy  ReconcileStatus = "HEALTHY"
	StatusDegraded ReconcileStatus = "DEGRADED"
	StatusHalt     ReconcileStatus = "HALT"
)

// DriftReport is one account comparison between the venue-reported balance
// and the shadow ledger's expectation.
type DriftReport struct {
	AccountID string          `json:"account_id"`
	Observed  decimal.Decimal `json:"observed"`
	Shadow    decimal.Decimal `json:"shadow"`
	Drift     float64         `json:"drift"`
	CheckedAt time.Time       `json:"checked_at"`
}

// Reconciler maintains a confidence scalar in [0,1] that decays with
// observed drift and recovers slowly across clean passes. Asymmetry is
// deliberate: trust is lost fast and regained cell by cell.
type Reconciler struct {
	mu         sync.Mutex
	confidence float64
	tolerance  float64
	recovery   float64

	haltBelow    float64
	degradeBelow float64

	lastReports []DriftReport
	lastRun     time.Time
	nowFn       func() time.Time
}

func NewReconciler(tolerance, recovery float64) *Reconciler {
	if tolerance <= 0 {
		tolerance = 0.05
	}
	if recovery <= 0 {
		recovery = 0.01
	}
	return &Reconciler{
		confidence:   1.0,
		tolerance:    tolerance,
		recovery:     recovery,
		haltBelow:    0.5,
		degradeBelow: 0.8,
		nowFn:        time.Now,
	}
}

// Observation pairs a venue-reported balance with the shadow expectation.
type Observation struct {
	AccountID string
	Observed  decimal.Decimal
	Shadow    decimal.Decimal
}

// Reconcile compares one batch of observations, updates the confidence
// scalar and returns the resulting status. A pass with every account inside
// tolerance is clean and earns a small recovery step; each account outside
// tolerance charges twice its drift.
func (r *Reconciler) Reconcile(obs []Observation) ReconcileStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFn()
	r.lastRun = now
	r.lastReports = r.lastReports[:0]

	clean := true
	for _, o := range obs {
		d := drift(o.Observed, o.Shadow)
		r.lastReports = append(r.lastReports, DriftReport{
			AccountID: o.AccountID,
			Observed:  o.Observed,
			Shadow:    o.Shadow,
			Drift:     d,
			CheckedAt: now,
		})
		if d > r.tolerance {
			clean = false
			r.confidence -= 2 * d
			if r.confidence < 0 {
				r.confidence = 0
			}
			logger.Warnf("reconcile: %s drifted %.4f (observed=%s shadow=%s), confidence now %.2f",
				o.AccountID, d, o.Observed, o.Shadow, r.confidence)
		}
	}
	if clean && len(obs) > 0 {
		r.confidence += r.recovery
		if r.confidence > 1 {
			r.confidence = 1
		}
	}
	metrics.ReconcileConfidence.Set(r.confidence)
	return r.statusLocked()
}

// Confidence returns the current trust scalar.
func (r *Reconciler) Confidence() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.confidence
}

// Status returns the current status without running a pass.
func (r *Reconciler) Status() ReconcileStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

// LastReports returns the drift reports from the most recent pass.
func (r *Reconciler) LastReports() []DriftReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DriftReport, len(r.lastReports))
	copy(out, r.lastReports)
	return out
}

func (r *Reconciler) statusLocked() ReconcileStatus {
	switch {
	case r.confidence < r.haltBelow:
		return StatusHalt
	case r.confidence < r.degradeBelow:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// drift is the relative deviation of the observed balance from the shadow
// expectation, with the denominator floored at one to keep near-zero
// accounts from exploding the ratio.
func drift(observed, shadow decimal.Decimal) float64 {
	denom := shadow.Abs()
	if denom.LessThan(decimal.New(1, 0)) {
		denom = decimal.New(1, 0)
	}
	d, _ := observed.Sub(shadow).Abs().Div(denom).Float64()
	return d
}
