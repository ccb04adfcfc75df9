package risk

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"custos/internal/logger"
	"custos/internal/types"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"
)

// GuardianConfig holds the pre-trade evaluation caps.
type GuardianConfig struct {
	MaxLeverage       float64
	MaxCorrelation    float64
	MaxPortfolioDelta float64
	PriceHistory      int
	CorrelationWindow int
	Benchmark         string
	MaxStaleness      time.Duration
}

// RiskMetrics is the evidence attached to every CheckSignal decision.
type RiskMetrics struct {
	ProjectedLeverage float64 `json:"projected_leverage"`
	MaxCorrelation    float64 `json:"max_correlation"`
	PortfolioDelta    float64 `json:"portfolio_delta"`
	PortfolioBeta     float64 `json:"portfolio_beta"`
}

// Decision is the outcome of a pre-trade check.
type Decision struct {
	Approved     bool            `json:"approved"`
	Reason       string          `json:"reason,omitempty"`
	AdjustedSize decimal.Decimal `json:"adjusted_size"`
	Metrics      RiskMetrics     `json:"metrics"`
}

// Guardian keeps bounded rolling price history per symbol and evaluates a
// single trade intent against leverage, correlation and delta caps.
// Correlation and beta results are cached under order-independent keys and
// invalidated exactly when a price for an implicated symbol arrives.
type Guardian struct {
	cfg       GuardianConfig
	staleness *StalenessMonitor

	mu        sync.Mutex
	prices    map[string][]float64
	equity    decimal.Decimal
	corrCache map[string]float64
	betaCache map[string]float64
}

func NewGuardian(cfg GuardianConfig, staleness *StalenessMonitor) *Guardian {
	if cfg.PriceHistory <= 0 {
		cfg.PriceHistory = 500
	}
	if cfg.CorrelationWindow <= 0 {
		cfg.CorrelationWindow = 60
	}
	if cfg.Benchmark == "" {
		cfg.Benchmark = "BTC/USDT"
	}
	return &Guardian{
		cfg:       cfg,
		staleness: staleness,
		prices:    make(map[string][]float64),
		corrCache: make(map[string]float64),
		betaCache: make(map[string]float64),
	}
}

// SetEquity updates the account equity used for leverage projection.
func (g *Guardian) SetEquity(equity decimal.Decimal) {
	g.mu.Lock()
	g.equity = equity
	g.mu.Unlock()
}

// AddPrice appends a price observation and invalidates every cached result
// that involves the symbol.
func (g *Guardian) AddPrice(venue, symbol string, price float64, at time.Time) {
	if g.staleness != nil {
		g.staleness.Update(venue, symbol, at)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	series := append(g.prices[symbol], price)
	if len(series) > g.cfg.PriceHistory {
		series = series[len(series)-g.cfg.PriceHistory:]
	}
	g.prices[symbol] = series

	for key := range g.corrCache {
		if corrKeyInvolves(key, symbol) {
			delete(g.corrCache, key)
		}
	}
	if symbol == g.cfg.Benchmark {
		// Every beta is measured against the benchmark, so a benchmark
		// price implicates every cached entry.
		g.betaCache = make(map[string]float64)
		return
	}
	for key := range g.betaCache {
		if betaKeyInvolves(key, symbol) {
			delete(g.betaCache, key)
		}
	}
}

func corrKeyInvolves(key, symbol string) bool {
	a, b, _ := strings.Cut(key, "|")
	return a == symbol || b == symbol
}

func betaKeyInvolves(key, symbol string) bool {
	for _, part := range strings.Split(key, ",") {
		if strings.HasPrefix(part, symbol+":") {
			return true
		}
	}
	return false
}

func corrKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// Correlation returns the rolling correlation between two symbols over the
// configured window. Insufficient history yields zero.
func (g *Guardian) Correlation(a, b string) float64 {
	if a == b {
		return 1
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.correlationLocked(a, b)
}

func (g *Guardian) correlationLocked(a, b string) float64 {
	key := corrKey(a, b)
	if v, ok := g.corrCache[key]; ok {
		return v
	}
	sa, sb := g.prices[a], g.prices[b]
	n := len(sa)
	if len(sb) < n {
		n = len(sb)
	}
	if n < g.cfg.CorrelationWindow {
		return 0
	}
	sa, sb = sa[len(sa)-n:], sb[len(sb)-n:]
	series := talib.Correl(sa, sb, g.cfg.CorrelationWindow)
	v := series[len(series)-1]
	g.corrCache[key] = v
	return v
}

// PortfolioBeta returns the notional-weighted beta of the given positions
// against the benchmark symbol.
func (g *Guardian) PortfolioBeta(positions []types.Position) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.portfolioBetaLocked(positions)
}

func (g *Guardian) portfolioBetaLocked(positions []types.Position) float64 {
	if len(positions) == 0 {
		return 0
	}
	key := positionSignature(positions)
	if v, ok := g.betaCache[key]; ok {
		return v
	}

	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.Notional())
	}
	if total.IsZero() {
		return 0
	}
	bench := g.prices[g.cfg.Benchmark]
	beta := 0.0
	for _, p := range positions {
		series := g.prices[p.Symbol]
		n := len(series)
		if len(bench) < n {
			n = len(bench)
		}
		var symBeta float64
		switch {
		case p.Symbol == g.cfg.Benchmark:
			symBeta = 1
		case n >= g.cfg.CorrelationWindow:
			out := talib.Beta(series[len(series)-n:], bench[len(bench)-n:], g.cfg.CorrelationWindow)
			symBeta = out[len(out)-1]
		default:
			symBeta = 0
		}
		weight, _ := p.Notional().Div(total).Float64()
		beta += float64(p.Direction) * symBeta * weight
	}
	g.betaCache[key] = beta
	return beta
}

// positionSignature builds an order-independent cache key so equivalent
// portfolios share a cache entry.
func positionSignature(positions []types.Position) string {
	parts := make([]string, 0, len(positions))
	for _, p := range positions {
		parts = append(parts, fmt.Sprintf("%s:%d:%s", p.Symbol, p.Direction, p.Size.String()))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// CheckSignal evaluates one trade intent against the caps. The returned
// decision carries the metrics used so rejections are auditable.
func (g *Guardian) CheckSignal(sig types.Signal, positions []types.Position) Decision {
	now := time.Now()
	if g.staleness != nil && g.cfg.MaxStaleness > 0 && sig.Venue != "" {
		if g.staleness.IsStale(sig.Venue, sig.Symbol, g.cfg.MaxStaleness, now) {
			return Decision{Reason: fmt.Sprintf("market data stale for %s on %s", sig.Symbol, sig.Venue)}
		}
	}
	if !sig.Size.IsPositive() || !sig.Price.IsPositive() {
		return Decision{Reason: "invalid size or price"}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	metrics := RiskMetrics{PortfolioBeta: g.portfolioBetaLocked(positions)}

	held := decimal.Zero
	delta := decimal.Zero
	for _, p := range positions {
		held = held.Add(p.Notional())
		delta = delta.Add(p.Notional().Mul(decimal.NewFromInt(int64(p.Direction))))
	}
	addNotional := sig.Size.Mul(sig.Price).Abs()

	if !g.equity.IsPositive() {
		return Decision{Reason: "equity unknown", Metrics: metrics}
	}

	// Correlation against every held symbol, worst pair wins.
	for _, p := range positions {
		if p.Symbol == sig.Symbol {
			continue
		}
		c := g.correlationLocked(sig.Symbol, p.Symbol)
		if c > metrics.MaxCorrelation {
			metrics.MaxCorrelation = c
		}
	}
	if g.cfg.MaxCorrelation > 0 && metrics.MaxCorrelation > g.cfg.MaxCorrelation {
		logger.Warnf("guardian: reject %s, correlation %.3f above cap %.3f",
			sig.SignalID, metrics.MaxCorrelation, g.cfg.MaxCorrelation)
		return Decision{Reason: "correlation cap exceeded", Metrics: metrics}
	}

	// Portfolio delta after the trade.
	projDelta := delta.Add(addNotional.Mul(decimal.NewFromInt(int64(sig.Direction))))
	metrics.PortfolioDelta, _ = projDelta.Div(g.equity).Float64()
	if g.cfg.MaxPortfolioDelta > 0 && abs(metrics.PortfolioDelta) > g.cfg.MaxPortfolioDelta {
		logger.Warnf("guardian: reject %s, portfolio delta %.3f above cap %.3f",
			sig.SignalID, metrics.PortfolioDelta, g.cfg.MaxPortfolioDelta)
		return Decision{Reason: "portfolio delta cap exceeded", Metrics: metrics}
	}

	// Projected leverage; partially fill when headroom allows a smaller size.
	projLeverage, _ := held.Add(addNotional).Div(g.equity).Float64()
	metrics.ProjectedLeverage = projLeverage
	adjusted := sig.Size
	if g.cfg.MaxLeverage > 0 && projLeverage > g.cfg.MaxLeverage {
		headroom := decimal.NewFromFloat(g.cfg.MaxLeverage).Mul(g.equity).Sub(held)
		if !headroom.IsPositive() {
			logger.Warnf("guardian: reject %s, leverage %.2fx above cap %.2fx with no headroom",
				sig.SignalID, projLeverage, g.cfg.MaxLeverage)
			return Decision{Reason: "leverage cap exceeded", Metrics: metrics}
		}
		adjusted = headroom.Div(sig.Price.Abs())
		logger.Infof("guardian: downsizing %s from %s to %s to fit leverage cap",
			sig.SignalID, sig.Size, adjusted)
	}

	return Decision{Approved: true, AdjustedSize: adjusted, Metrics: metrics}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
