package budget

import (
	"testing"
	"time"

	"custos/internal/alloc"
	"custos/internal/bus"
	"custos/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEquity struct {
	equity decimal.Decimal
	pnl    decimal.Decimal
}

func (s stubEquity) Equity() decimal.Decimal   { return s.equity }
func (s stubEquity) DailyPnL() decimal.Decimal { return s.pnl }

func testModel() alloc.Model {
	return alloc.NewStaticModel([]alloc.Tier{
		{
			MinEquity:   decimal.Zero,
			MaxLeverage: decimal.NewFromInt(10),
			Weights:     map[string]float64{"trend": 0.5, "scalp": 0.3, "parked": 0},
		},
	})
}

func testOptions() Options {
	return Options{
		Interval:             10 * time.Second,
		BudgetTTL:            30 * time.Second,
		SlippageThresholdBps: 25,
		RejectRateThreshold:  0.10,
		MaxDailyLoss:         decimal.NewFromInt(5000),
		MaxOrderRate:         20,
		MaxSlippageBps:       50,
		MaxStalenessMs:       3000,
	}
}

func newTestEngine(regime types.Regime, pnl int64) *Engine {
	eq := stubEquity{equity: decimal.NewFromInt(100_000), pnl: decimal.NewFromInt(pnl)}
	return NewEngine(testOptions(), testModel(), StaticRegime(regime), eq, nil, nil, nil, nil)
}

func budgetFor(t *testing.T, budgets []types.PhaseBudget, phase string) types.PhaseBudget {
	t.Helper()
	for _, b := range budgets {
		if b.PhaseID == phase {
			return b
		}
	}
	t.Fatalf("no budget for phase %s", phase)
	return types.PhaseBudget{}
}

func TestZeroWeightPhaseAlwaysHalted(t *testing.T) {
	e := newTestEngine(types.RegimeNormal, 0)
	budgets, _ := e.Broadcast()

	parked := budgetFor(t, budgets, "parked")
	assert.Equal(t, types.PhaseHalted, parked.State)
	assert.True(t, parked.MaxNotional.IsZero())
	assert.Equal(t, "ZERO_WEIGHT", parked.Reason)

	trend := budgetFor(t, budgets, "trend")
	assert.Equal(t, types.PhaseActive, trend.State)
}

func TestCrashForcesCloseOnlyWithZeroPenalty(t *testing.T) {
	e := newTestEngine(types.RegimeCrash, 0)
	budgets, policy := e.Broadcast()

	for _, b := range budgets {
		if b.PhaseID == "parked" {
			assert.Equal(t, types.PhaseHalted, b.State)
			continue
		}
		assert.Equal(t, types.PhaseCloseOnly, b.State)
		assert.True(t, b.MaxNotional.IsZero(), "crash penalty zeroes the cap")
		assert.Equal(t, "REGIME_CRASH", b.Reason)
	}
	assert.Equal(t, types.RiskEmergency, policy.CurrentState)
	assert.True(t, policy.MaxPositionNotional.IsZero())
	assert.Zero(t, policy.MaxOpenOrdersPerSymbol)
}

func TestDailyLossBreachHalts(t *testing.T) {
	e := newTestEngine(types.RegimeNormal, -6000)
	budgets, policy := e.Broadcast()

	trend := budgetFor(t, budgets, "trend")
	assert.Equal(t, types.PhaseCloseOnly, trend.State)
	assert.Equal(t, "GLOBAL_RISK_HALT", trend.Reason)
	assert.True(t, trend.MaxNotional.IsZero())
	assert.Equal(t, types.RiskDefensive, policy.CurrentState)
}

func TestCrashBeatsDailyLoss(t *testing.T) {
	e := newTestEngine(types.RegimeCrash, -6000)
	budgets, _ := e.Broadcast()
	assert.Equal(t, "REGIME_CRASH", budgetFor(t, budgets, "trend").Reason)
}

func TestPhaseCapArithmetic(t *testing.T) {
	e := newTestEngine(types.RegimeNormal, 0)
	budgets, _ := e.Broadcast()

	// equity 100k * leverage 10 * weight 0.5 * penalty 1
	trend := budgetFor(t, budgets, "trend")
	assert.True(t, trend.MaxNotional.Equal(decimal.NewFromInt(500_000)),
		"got %s", trend.MaxNotional)
	assert.True(t, trend.MaxLeverage.Equal(decimal.NewFromInt(10)))
}

func TestSlippageThrottlesHalf(t *testing.T) {
	e := newTestEngine(types.RegimeNormal, 0)
	e.mu.Lock()
	e.quality = types.ExecutionQualityReport{AvgSlippageBps: 30}
	e.mu.Unlock()

	budgets, _ := e.Broadcast()
	trend := budgetFor(t, budgets, "trend")
	assert.Equal(t, types.PhaseThrottled, trend.State)
	assert.True(t, trend.MaxNotional.Equal(decimal.NewFromInt(250_000)), "got %s", trend.MaxNotional)
	assert.Equal(t, 10, trend.MaxOrderRate)
	assert.Contains(t, trend.Reason, "SLIPPAGE_DEGRADED")
}

func TestSlippageAndRejectCompoundToQuarter(t *testing.T) {
	e := newTestEngine(types.RegimeNormal, 0)
	e.mu.Lock()
	e.quality = types.ExecutionQualityReport{AvgSlippageBps: 30, RejectRate: 0.2}
	e.mu.Unlock()

	budgets, _ := e.Broadcast()
	trend := budgetFor(t, budgets, "trend")
	assert.Equal(t, types.PhaseThrottled, trend.State)
	assert.True(t, trend.MaxNotional.Equal(decimal.NewFromInt(125_000)), "got %s", trend.MaxNotional)
	assert.Contains(t, trend.Reason, "SLIPPAGE_DEGRADED")
	assert.Contains(t, trend.Reason, "REJECT_RATE_DEGRADED")
}

func TestVolatileRegimeIsCautious(t *testing.T) {
	e := newTestEngine(types.RegimeVolatileBreakout, 0)
	_, policy := e.Broadcast()
	assert.Equal(t, types.RiskCautious, policy.CurrentState)
	assert.False(t, policy.MaxPositionNotional.IsZero())
}

func TestBudgetExpiryWindow(t *testing.T) {
	e := newTestEngine(types.RegimeNormal, 0)
	budgets, _ := e.Broadcast()

	trend := budgetFor(t, budgets, "trend")
	assert.False(t, trend.Stale(trend.Timestamp))
	assert.False(t, trend.Stale(trend.Timestamp.Add(29*time.Second)))
	assert.True(t, trend.Stale(trend.Timestamp.Add(31*time.Second)))
	assert.NotEmpty(t, trend.BudgetID)
}

func TestEachCycleIssuesFreshBudgetIDs(t *testing.T) {
	e := newTestEngine(types.RegimeNormal, 0)
	first, _ := e.Broadcast()
	second, _ := e.Broadcast()
	assert.NotEqual(t, budgetFor(t, first, "trend").BudgetID, budgetFor(t, second, "trend").BudgetID)
}

func TestCriticalQualitySampleBroadcastsImmediately(t *testing.T) {
	b := bus.New()
	eq := stubEquity{equity: decimal.NewFromInt(100_000)}
	e := NewEngine(testOptions(), testModel(), StaticRegime(types.RegimeNormal), eq, nil, nil, b, nil)

	var policies []types.RiskPolicy
	b.Subscribe(TopicRiskPolicy, func(_ string, payload any) {
		policies = append(policies, payload.(types.RiskPolicy))
	})

	// Below twice the threshold: no out-of-cycle broadcast.
	e.SubmitQuality(types.ExecutionQualityReport{AvgSlippageBps: 30})
	assert.Empty(t, policies)

	// 2x threshold breach broadcasts without waiting for the ticker.
	e.SubmitQuality(types.ExecutionQualityReport{AvgSlippageBps: 60})
	require.Len(t, policies, 1)

	budgets, _, _ := e.Snapshot()
	assert.NotEmpty(t, budgets)
}

func TestPhaseOverrideRestricts(t *testing.T) {
	e := newTestEngine(types.RegimeNormal, 0)
	e.SetPhaseOverride("trend", types.PhaseThrottled)

	budgets, _ := e.Broadcast()
	trend := budgetFor(t, budgets, "trend")
	assert.Equal(t, types.PhaseThrottled, trend.State)
	assert.Equal(t, "OPERATOR_OVERRIDE", trend.Reason)
	assert.True(t, trend.MaxNotional.Equal(decimal.NewFromInt(250_000)), "got %s", trend.MaxNotional)

	e.ClearPhaseOverride("trend")
	budgets, _ = e.Broadcast()
	assert.Equal(t, types.PhaseActive, budgetFor(t, budgets, "trend").State)
}

func TestPhaseOverrideCannotWiden(t *testing.T) {
	e := newTestEngine(types.RegimeCrash, 0)
	e.SetPhaseOverride("trend", types.PhaseThrottled)

	budgets, _ := e.Broadcast()
	assert.Equal(t, types.PhaseCloseOnly, budgetFor(t, budgets, "trend").State)
}

func TestNegativeDailyLossLimitStillHalts(t *testing.T) {
	opts := testOptions()
	opts.MaxDailyLoss = decimal.NewFromInt(-5000)
	eq := stubEquity{equity: decimal.NewFromInt(100_000), pnl: decimal.NewFromInt(-6000)}
	e := NewEngine(opts, testModel(), StaticRegime(types.RegimeNormal), eq, nil, nil, nil, nil)

	budgets, _ := e.Broadcast()
	trend := budgetFor(t, budgets, "trend")
	assert.Equal(t, types.PhaseCloseOnly, trend.State)
	assert.Equal(t, "GLOBAL_RISK_HALT", trend.Reason)
}

func TestPolicyCarriesSymbolWhitelist(t *testing.T) {
	opts := testOptions()
	opts.SymbolWhitelist = []string{"BTC/USDT", "ETH/USDT"}
	eq := stubEquity{equity: decimal.NewFromInt(100_000)}
	e := NewEngine(opts, testModel(), StaticRegime(types.RegimeNormal), eq, nil, nil, nil, nil)

	_, policy := e.Broadcast()
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, policy.SymbolWhitelist)
}

func TestBroadcastObeysSingleFlightGate(t *testing.T) {
	b := bus.New()
	eq := stubEquity{equity: decimal.NewFromInt(100_000)}
	e := NewEngine(testOptions(), testModel(), StaticRegime(types.RegimeNormal), eq, nil, nil, b, nil)

	var published int
	b.Subscribe(TopicRiskPolicy, func(_ string, _ any) { published++ })

	first, _ := e.Broadcast()
	require.Equal(t, 1, published)

	e.running.Store(true)
	budgets, _ := e.Broadcast()
	e.running.Store(false)

	assert.Equal(t, 1, published, "a broadcast during a running cycle must not publish")
	assert.Equal(t, budgetFor(t, first, "trend").BudgetID, budgetFor(t, budgets, "trend").BudgetID,
		"skipped broadcast returns the previous generation")
}

func TestOverlappingCycleIsSkipped(t *testing.T) {
	e := newTestEngine(types.RegimeNormal, 0)
	e.running.Store(true)
	e.tryBroadcast("periodic")

	_, _, last := e.Snapshot()
	assert.True(t, last.IsZero(), "tick during a running cycle must be dropped")
}
