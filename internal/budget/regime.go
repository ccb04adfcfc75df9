package budget

import (
	"sync"

	"custos/internal/types"

	"github.com/markcheno/go-talib"
)

// RegimeSource classifies current market behaviour.
type RegimeSource interface {
	Classify() types.Regime
}

// Detector derives the regime from a rolling close series on a benchmark
// symbol. Crash detection dominates; breakout and mean-reversion checks are
// only advisory scaling hints.
type Detector struct {
	mu      sync.Mutex
	closes  []float64
	maxLen  int
	window  int
	rsiLen  int
	crash   float64
	forced  types.Regime
	forcing bool
}

// NewDetector builds a detector over a lookback window. crashDrop is the
// fractional fall over the window that flags CRASH (0.1 = 10%).
func NewDetector(window int, crashDrop float64) *Detector {
	if window < 10 {
		window = 10
	}
	if crashDrop <= 0 {
		crashDrop = 0.10
	}
	return &Detector{
		maxLen: window * 4,
		window: window,
		rsiLen: 14,
		crash:  crashDrop,
	}
}

// AddClose appends one benchmark close.
func (d *Detector) AddClose(price float64) {
	if price <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes = append(d.closes, price)
	if len(d.closes) > d.maxLen {
		d.closes = d.closes[len(d.closes)-d.maxLen:]
	}
}

// Force pins the regime, overriding classification until ClearForce. Used
// by the SET_MODE operator path.
func (d *Detector) Force(r types.Regime) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forced = r
	d.forcing = true
}

func (d *Detector) ClearForce() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forcing = false
}

// Classify returns the current regime. Not enough history reads as NORMAL.
func (d *Detector) Classify() types.Regime {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.forcing {
		return d.forced
	}
	if len(d.closes) < d.window {
		return types.RegimeNormal
	}

	roc := talib.Roc(d.closes, d.window-1)
	if last := roc[len(roc)-1]; last <= -d.crash*100 {
		return types.RegimeCrash
	}

	upper, _, lower := talib.BBands(d.closes, d.window, 2, 2, talib.SMA)
	price := d.closes[len(d.closes)-1]
	if price > upper[len(upper)-1] || price < lower[len(lower)-1] {
		return types.RegimeVolatileBreakout
	}

	if len(d.closes) > d.rsiLen {
		rsi := talib.Rsi(d.closes, d.rsiLen)
		if last := rsi[len(rsi)-1]; last >= 70 || last <= 30 {
			return types.RegimeMeanReversion
		}
	}
	return types.RegimeNormal
}

// StaticRegime always reports the same regime. Test and bootstrap helper.
type StaticRegime types.Regime

func (s StaticRegime) Classify() types.Regime { return types.Regime(s) }
