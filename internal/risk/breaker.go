package risk

import (
	"sync"
	"time"

	"custos/internal/logger"
	"custos/internal/types"

	"github.com/shopspring/decimal"
)

// BreakerConfig holds the trip thresholds.
type BreakerConfig struct {
	MaxDailyDrawdown     float64
	ConsecutiveLossLimit int
	ConsecutiveLossWin   time.Duration
	MinEquity            decimal.Decimal
	Cooldown             time.Duration
}

type breakerPhase int

const (
	phaseClosed breakerPhase = iota
	phaseTripped
	phaseHalfOpen
)

// Breaker is the independent trip detector. It shares no call path with the
// budget loop or the gateway; both observe its state through State().
type Breaker struct {
	mu  sync.Mutex
	cfg BreakerConfig

	phase     breakerPhase
	kind      types.BreakerKind
	reason    string
	trippedAt time.Time

	dayStart      time.Time
	dayOpenEquity decimal.Decimal
	equity        decimal.Decimal
	drawdown      float64
	lossTimes     []time.Time

	nowFn  func() time.Time
	onTrip func(types.CircuitBreakerState)
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg, nowFn: time.Now}
}

// OnTrip registers a callback fired once per trip, outside the breaker lock.
func (b *Breaker) OnTrip(fn func(types.CircuitBreakerState)) {
	b.mu.Lock()
	b.onTrip = fn
	b.mu.Unlock()
}

// ObserveEquity feeds a fresh equity mark. Drawdown is measured against the
// first mark of the current UTC day.
func (b *Breaker) ObserveEquity(equity decimal.Decimal) {
	b.mu.Lock()
	now := b.nowFn().UTC()
	day := now.Truncate(24 * time.Hour)
	if b.dayStart.IsZero() || day.After(b.dayStart) {
		b.dayStart = day
		b.dayOpenEquity = equity
		b.drawdown = 0
	}
	b.equity = equity

	if b.dayOpenEquity.IsPositive() {
		dd, _ := b.dayOpenEquity.Sub(equity).Div(b.dayOpenEquity).Float64()
		if dd > b.drawdown {
			b.drawdown = dd
		}
	}

	b.maybeCoolLocked(now)

	var fire *types.CircuitBreakerState
	switch {
	case b.cfg.MaxDailyDrawdown > 0 && b.drawdown >= b.cfg.MaxDailyDrawdown:
		fire = b.tripLocked(now, "daily drawdown limit breached")
	case b.cfg.MinEquity.IsPositive() && equity.LessThan(b.cfg.MinEquity):
		fire = b.tripLocked(now, "equity below floor")
	case b.phase == phaseHalfOpen:
		// Clean observation while probing: close fully.
		b.phase = phaseClosed
		b.reason = ""
		logger.Infof("breaker: half-open probe clean, closing")
	}
	cb := b.onTrip
	b.mu.Unlock()

	if fire != nil && cb != nil {
		cb(*fire)
	}
}

// ObserveTrade feeds a realized trade result.
func (b *Breaker) ObserveTrade(pnl decimal.Decimal) {
	b.mu.Lock()
	now := b.nowFn().UTC()
	b.maybeCoolLocked(now)

	var fire *types.CircuitBreakerState
	if pnl.IsNegative() {
		b.lossTimes = append(b.lossTimes, now)
		b.pruneLossesLocked(now)
		if b.cfg.ConsecutiveLossLimit > 0 && len(b.lossTimes) >= b.cfg.ConsecutiveLossLimit {
			fire = b.tripLocked(now, "consecutive loss limit breached")
		}
	} else {
		b.lossTimes = b.lossTimes[:0]
		if b.phase == phaseHalfOpen {
			b.phase = phaseClosed
			b.reason = ""
			logger.Infof("breaker: half-open probe clean, closing")
		}
	}
	cb := b.onTrip
	b.mu.Unlock()

	if fire != nil && cb != nil {
		cb(*fire)
	}
}

// TripSoft records a manual or advisory trip that throttles rather than
// halts. A later clean observation clears it like a HARD trip.
func (b *Breaker) TripSoft(reason string) {
	b.mu.Lock()
	now := b.nowFn().UTC()
	var fire *types.CircuitBreakerState
	if b.phase == phaseClosed {
		b.phase = phaseTripped
		b.kind = types.BreakerSoft
		b.reason = reason
		b.trippedAt = now
		logger.Warnf("breaker: SOFT trip: %s", reason)
		st := b.stateLocked()
		fire = &st
	}
	cb := b.onTrip
	b.mu.Unlock()

	if fire != nil && cb != nil {
		cb(*fire)
	}
}

// State returns the externally observable breaker state, applying the
// cooldown transition if it is due.
func (b *Breaker) State() types.CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeCoolLocked(b.nowFn().UTC())
	return b.stateLocked()
}

func (b *Breaker) stateLocked() types.CircuitBreakerState {
	st := types.CircuitBreakerState{
		Active:            b.phase == phaseTripped,
		DailyDrawdown:     b.drawdown,
		ConsecutiveLosses: len(b.lossTimes),
		EquityLevel:       b.equity,
	}
	if b.phase == phaseTripped {
		st.Kind = b.kind
		st.Reason = b.reason
		st.TriggeredAt = b.trippedAt
	}
	return st
}

func (b *Breaker) tripLocked(now time.Time, reason string) *types.CircuitBreakerState {
	if b.phase == phaseTripped {
		return nil
	}
	b.phase = phaseTripped
	b.kind = types.BreakerHard
	b.reason = reason
	b.trippedAt = now
	logger.Errorf("breaker: HARD trip: %s (drawdown=%.4f losses=%d equity=%s)",
		reason, b.drawdown, len(b.lossTimes), b.equity)
	st := b.stateLocked()
	return &st
}

func (b *Breaker) maybeCoolLocked(now time.Time) {
	if b.phase == phaseTripped && b.cfg.Cooldown > 0 && now.Sub(b.trippedAt) >= b.cfg.Cooldown {
		b.phase = phaseHalfOpen
		logger.Infof("breaker: cooldown elapsed, entering half-open")
	}
}

func (b *Breaker) pruneLossesLocked(now time.Time) {
	if b.cfg.ConsecutiveLossWin <= 0 {
		return
	}
	cutoff := now.Add(-b.cfg.ConsecutiveLossWin)
	kept := b.lossTimes[:0]
	for _, t := range b.lossTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.lossTimes = kept
}
