package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PhaseState is the posture granted to a single trading phase for one
// budget generation.
type PhaseState string

const (
	PhaseActive    PhaseState = "ACTIVE"
	PhaseThrottled PhaseState = "THROTTLED"
	PhaseCloseOnly PhaseState = "CLOSE_ONLY"
	PhaseHalted    PhaseState = "HALTED"
)

// Regime classifies current market behaviour for budget scaling.
type Regime string

const (
	RegimeCrash            Regime = "CRASH"
	RegimeVolatileBreakout Regime = "VOLATILE_BREAKOUT"
	RegimeMeanReversion    Regime = "MEAN_REVERSION"
	RegimeNormal           Regime = "NORMAL"
)

// PhaseBudget is a time-bounded risk allowance for one phase, re-issued in
// full every broadcast cycle. A consumer holding a budget with ExpiresAt in
// the past must fail closed to HALTED.
type PhaseBudget struct {
	PhaseID      string          `json:"phase_id"`
	BudgetID     string          `json:"budget_id"`
	Timestamp    time.Time       `json:"timestamp"`
	ExpiresAt    time.Time       `json:"expires_at"`
	State        PhaseState      `json:"state"`
	MaxNotional  decimal.Decimal `json:"max_notional"`
	MaxLeverage  decimal.Decimal `json:"max_leverage"`
	MaxDrawdown  decimal.Decimal `json:"max_drawdown"`
	MaxOrderRate int             `json:"max_order_rate"`
	Reason       string          `json:"reason"`
}

// Stale reports whether the budget must no longer be honored.
func (b PhaseBudget) Stale(now time.Time) bool {
	return b.ExpiresAt.Before(now)
}

// ExecutionQualityReport is sampled over a rolling 60s window by the
// execution layer and fed into the budget loop.
type ExecutionQualityReport struct {
	AvgSlippageBps float64   `json:"avg_slippage_bps"`
	FillRate       float64   `json:"fill_rate"`
	RejectRate     float64   `json:"reject_rate"`
	LatencyMs      float64   `json:"latency_ms"`
	SampledAt      time.Time `json:"sampled_at"`
}
