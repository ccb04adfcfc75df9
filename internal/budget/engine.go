package budget

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"custos/internal/alloc"
	"custos/internal/bus"
	"custos/internal/config"
	"custos/internal/ledger"
	"custos/internal/logger"
	"custos/internal/metrics"
	"custos/internal/risk"
	"custos/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bus topics for outbound publications. Every cycle re-issues full state,
// so transient delivery is acceptable.
const (
	TopicPhaseBudget = "budget.phase"
	TopicRiskPolicy  = "risk.policy"
)

// EquitySource supplies live account equity and realized daily P&L.
type EquitySource interface {
	Equity() decimal.Decimal
	DailyPnL() decimal.Decimal
}

// Options are the tunable thresholds of the control loop.
type Options struct {
	Interval             time.Duration
	BudgetTTL            time.Duration
	SlippageThresholdBps float64
	RejectRateThreshold  float64
	MaxDailyLoss         decimal.Decimal
	MaxOrderRate         int
	SymbolWhitelist      []string
	MaxSlippageBps       int
	MaxStalenessMs       int64
}

// Engine is the periodic budget and risk-policy control loop. Each cycle
// reads equity, regime, breaker and reconciliation state, derives one
// PhaseBudget per phase and one global RiskPolicy, and publishes both.
type Engine struct {
	opts    Options
	alloc   alloc.Model
	regime  RegimeSource
	equity  EquitySource
	breaker *risk.Breaker
	recon   *ledger.Reconciler
	bus     *bus.Bus
	limits  *config.LimitWatcher

	running atomic.Bool

	mu          sync.Mutex
	quality     types.ExecutionQualityReport
	overrides   map[string]types.PhaseState
	lastBudgets []types.PhaseBudget
	lastPolicy  types.RiskPolicy
	lastCycle   time.Time

	nowFn func() time.Time
}

func NewEngine(opts Options, model alloc.Model, regime RegimeSource, equity EquitySource, breaker *risk.Breaker, recon *ledger.Reconciler, b *bus.Bus, limits *config.LimitWatcher) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.BudgetTTL <= 0 {
		opts.BudgetTTL = 3 * opts.Interval
	}
	if opts.MaxOrderRate <= 0 {
		opts.MaxOrderRate = 20
	}
	return &Engine{
		opts:      opts,
		alloc:     model,
		regime:    regime,
		equity:    equity,
		breaker:   breaker,
		recon:     recon,
		bus:       b,
		limits:    limits,
		overrides: make(map[string]types.PhaseState),
		nowFn:     time.Now,
	}
}

// Run drives the periodic broadcast until the context is cancelled. Ticks
// are single-flight: a tick arriving while a cycle is still in progress is
// skipped, never queued, so budget generations cannot overlap.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()
	e.tryBroadcast("startup")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tryBroadcast("periodic")
		}
	}
}

// SubmitQuality feeds one execution-quality sample. A sample beyond twice
// a threshold is critical and forces an out-of-cycle broadcast so the
// degradation is visible before the next tick.
func (e *Engine) SubmitQuality(report types.ExecutionQualityReport) {
	e.mu.Lock()
	e.quality = report
	e.mu.Unlock()

	slipThr, rejThr, _, _ := e.thresholds()
	if report.AvgSlippageBps > 2*slipThr || report.RejectRate > 2*rejThr {
		logger.Warnf("budget: critical quality sample (slippage=%.1fbps reject=%.2f), broadcasting now",
			report.AvgSlippageBps, report.RejectRate)
		e.tryBroadcast("critical_quality")
	}
}

// SetPhaseOverride pins one phase to a more restrictive state until
// cleared. Overrides apply on top of the computed global state; they can
// only restrict, never widen.
func (e *Engine) SetPhaseOverride(phase string, state types.PhaseState) {
	e.mu.Lock()
	e.overrides[phase] = state
	e.mu.Unlock()
}

// ClearPhaseOverride lifts a manual restriction.
func (e *Engine) ClearPhaseOverride(phase string) {
	e.mu.Lock()
	delete(e.overrides, phase)
	e.mu.Unlock()
}

// Snapshot returns the budgets and policy from the most recent cycle.
func (e *Engine) Snapshot() ([]types.PhaseBudget, types.RiskPolicy, time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.PhaseBudget, len(e.lastBudgets))
	copy(out, e.lastBudgets)
	return out, e.lastPolicy, e.lastCycle
}

func (e *Engine) tryBroadcast(trigger string) {
	if !e.running.CompareAndSwap(false, true) {
		logger.Warnf("budget: %s tick skipped, previous cycle still running", trigger)
		return
	}
	defer e.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("budget: cycle panic (%s): %v", trigger, r)
		}
	}()
	metrics.BudgetCycles.WithLabelValues(trigger).Inc()
	e.cycle()
}

// Broadcast runs one out-of-cycle generation, subject to the same
// single-flight gate as periodic ticks. A call overlapping a running cycle
// publishes nothing and returns the previous snapshot.
func (e *Engine) Broadcast() ([]types.PhaseBudget, types.RiskPolicy) {
	if !e.running.CompareAndSwap(false, true) {
		logger.Warnf("budget: broadcast skipped, previous cycle still running")
		e.mu.Lock()
		budgets := make([]types.PhaseBudget, len(e.lastBudgets))
		copy(budgets, e.lastBudgets)
		policy := e.lastPolicy
		e.mu.Unlock()
		return budgets, policy
	}
	defer e.running.Store(false)
	return e.cycle()
}

// cycle computes and publishes one budget generation. Callers hold the
// single-flight gate.
func (e *Engine) cycle() ([]types.PhaseBudget, types.RiskPolicy) {
	now := e.nowFn()
	equity := e.equity.Equity()
	dailyPnL := e.equity.DailyPnL()
	regime := e.regime.Classify()
	maxLev := e.alloc.MaxLeverage(equity)
	weights := e.alloc.Weights(equity)
	e.mu.Lock()
	quality := e.quality
	overrides := make(map[string]types.PhaseState, len(e.overrides))
	for k, v := range e.overrides {
		overrides[k] = v
	}
	e.mu.Unlock()

	slipThr, rejThr, maxDailyLoss, levOverride := e.thresholds()
	if levOverride.IsPositive() && levOverride.LessThan(maxLev) {
		maxLev = levOverride
	}

	state, penalty, reason := e.globalState(regime, dailyPnL, maxDailyLoss, quality, slipThr, rejThr)

	budgets := make([]types.PhaseBudget, 0, len(weights))
	for phase, weight := range weights {
		b := types.PhaseBudget{
			PhaseID:      phase,
			BudgetID:     uuid.NewString(),
			Timestamp:    now,
			ExpiresAt:    now.Add(e.opts.BudgetTTL),
			State:        state,
			MaxNotional:  equity.Mul(maxLev).Mul(decimal.NewFromFloat(weight)).Mul(decimal.NewFromFloat(penalty)),
			MaxLeverage:  maxLev,
			MaxDrawdown:  maxDailyLoss.Mul(decimal.NewFromFloat(weight)),
			MaxOrderRate: e.orderRate(state),
			Reason:       reason,
		}
		if over, ok := overrides[phase]; ok && restrictiveness(over) > restrictiveness(b.State) {
			b.State = over
			b.MaxOrderRate = e.orderRate(over)
			b.Reason = "OPERATOR_OVERRIDE"
			switch over {
			case types.PhaseThrottled:
				b.MaxNotional = b.MaxNotional.Div(decimal.NewFromInt(2))
			case types.PhaseCloseOnly, types.PhaseHalted:
				b.MaxNotional = decimal.Zero
			}
		}
		if weight == 0 {
			b.State = types.PhaseHalted
			b.MaxNotional = decimal.Zero
			b.MaxOrderRate = 0
			b.Reason = "ZERO_WEIGHT"
		}
		budgets = append(budgets, b)
	}

	policy := e.derivePolicy(regime, state, equity, maxLev, maxDailyLoss)

	e.mu.Lock()
	e.lastBudgets = budgets
	e.lastPolicy = policy
	e.lastCycle = now
	e.mu.Unlock()

	for _, b := range budgets {
		notional, _ := b.MaxNotional.Float64()
		metrics.PhaseNotional.WithLabelValues(b.PhaseID, string(b.State)).Set(notional)
	}
	if e.breakerActive() {
		metrics.BreakerActive.Set(1)
	} else {
		metrics.BreakerActive.Set(0)
	}

	if e.bus != nil {
		for _, b := range budgets {
			e.bus.Publish(TopicPhaseBudget, b)
		}
		e.bus.Publish(TopicRiskPolicy, policy)
	}
	logger.Debugf("budget: cycle complete regime=%s state=%s penalty=%.2f phases=%d",
		regime, state, penalty, len(budgets))
	return budgets, policy
}

// globalState applies the decision precedence: CRASH beats the daily-loss
// halt, which beats execution-quality throttling. Quality thresholds apply
// independently and compound.
func (e *Engine) globalState(regime types.Regime, dailyPnL, maxDailyLoss decimal.Decimal, q types.ExecutionQualityReport, slipThr, rejThr float64) (types.PhaseState, float64, string) {
	if regime == types.RegimeCrash {
		return types.PhaseCloseOnly, 0, "REGIME_CRASH"
	}
	if !maxDailyLoss.IsZero() && dailyPnL.LessThan(maxDailyLoss.Abs().Neg()) {
		return types.PhaseCloseOnly, 0, "GLOBAL_RISK_HALT"
	}
	state, penalty := types.PhaseActive, 1.0
	var reasons []string
	if slipThr > 0 && q.AvgSlippageBps > slipThr {
		penalty *= 0.5
		state = types.PhaseThrottled
		reasons = append(reasons, "SLIPPAGE_DEGRADED")
	}
	if rejThr > 0 && q.RejectRate > rejThr {
		penalty *= 0.5
		state = types.PhaseThrottled
		reasons = append(reasons, "REJECT_RATE_DEGRADED")
	}
	if len(reasons) == 0 {
		return state, penalty, "OK"
	}
	return state, penalty, strings.Join(reasons, "+")
}

func (e *Engine) derivePolicy(regime types.Regime, state types.PhaseState, equity, maxLev, maxDailyLoss decimal.Decimal) types.RiskPolicy {
	policy := types.RiskPolicy{
		CurrentState:           types.RiskNormal,
		MaxPositionNotional:    equity.Mul(maxLev),
		MaxAccountLeverage:     maxLev,
		MaxDailyLoss:           maxDailyLoss,
		MaxOpenOrdersPerSymbol: e.opts.MaxOrderRate,
		SymbolWhitelist:        e.opts.SymbolWhitelist,
		MaxSlippageBps:         e.opts.MaxSlippageBps,
		MaxStalenessMs:         e.opts.MaxStalenessMs,
	}
	switch {
	case regime == types.RegimeCrash:
		policy.CurrentState = types.RiskEmergency
	case regime == types.RegimeVolatileBreakout, regime == types.RegimeMeanReversion:
		policy.CurrentState = types.RiskCautious
	case state == types.PhaseCloseOnly, e.breakerActive(), e.reconDegraded():
		policy.CurrentState = types.RiskDefensive
	}
	if policy.CurrentState == types.RiskEmergency {
		policy.MaxPositionNotional = decimal.Zero
		policy.MaxOpenOrdersPerSymbol = 0
	}
	return policy
}

func (e *Engine) breakerActive() bool {
	return e.breaker != nil && e.breaker.State().Active
}

func (e *Engine) reconDegraded() bool {
	return e.recon != nil && e.recon.Status() != ledger.StatusHealthy
}

func restrictiveness(s types.PhaseState) int {
	switch s {
	case types.PhaseHalted:
		return 3
	case types.PhaseCloseOnly:
		return 2
	case types.PhaseThrottled:
		return 1
	default:
		return 0
	}
}

func (e *Engine) orderRate(state types.PhaseState) int {
	switch state {
	case types.PhaseThrottled:
		return e.opts.MaxOrderRate / 2
	case types.PhaseCloseOnly, types.PhaseHalted:
		return 0
	default:
		return e.opts.MaxOrderRate
	}
}

// thresholds resolves the effective limits, applying hot-reload overrides
// when the watcher has nonzero values.
func (e *Engine) thresholds() (slipThr, rejThr float64, maxDailyLoss, maxLev decimal.Decimal) {
	slipThr = e.opts.SlippageThresholdBps
	rejThr = e.opts.RejectRateThreshold
	maxDailyLoss = e.opts.MaxDailyLoss
	if e.limits == nil {
		return
	}
	over := e.limits.Snapshot()
	if over.SlippageThresholdBps > 0 {
		slipThr = over.SlippageThresholdBps
	}
	if over.RejectRateThreshold > 0 {
		rejThr = over.RejectRateThreshold
	}
	if over.MaxDailyLoss > 0 {
		maxDailyLoss = decimal.NewFromFloat(over.MaxDailyLoss)
	}
	if over.MaxLeverage > 0 {
		maxLev = decimal.NewFromFloat(over.MaxLeverage)
	}
	return
}
