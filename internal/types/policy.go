package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskState is the global enforcement posture.
type RiskState string

const (
	RiskNormal    RiskState = "NORMAL"
	RiskCautious  RiskState = "CAUTIOUS"
	RiskDefensive RiskState = "DEFENSIVE"
	RiskEmergency RiskState = "EMERGENCY"
)

// RiskPolicy is the global enforcement envelope re-published every budget
// cycle. Emergency forces MaxPositionNotional and MaxOpenOrdersPerSymbol
// to zero.
type RiskPolicy struct {
	CurrentState           RiskState       `json:"current_state"`
	MaxPositionNotional    decimal.Decimal `json:"max_position_notional"`
	MaxAccountLeverage     decimal.Decimal `json:"max_account_leverage"`
	MaxDailyLoss           decimal.Decimal `json:"max_daily_loss"`
	MaxOpenOrdersPerSymbol int             `json:"max_open_orders_per_symbol"`
	SymbolWhitelist        []string        `json:"symbol_whitelist"`
	MaxSlippageBps         int             `json:"max_slippage_bps"`
	MaxStalenessMs         int64           `json:"max_staleness_ms"`
}

type BreakerKind string

const (
	BreakerHard BreakerKind = "HARD"
	BreakerSoft BreakerKind = "SOFT"
)

// CircuitBreakerState is the externally observable trip state.
type CircuitBreakerState struct {
	Active            bool            `json:"active"`
	Kind              BreakerKind     `json:"type,omitempty"`
	Reason            string          `json:"reason,omitempty"`
	TriggeredAt       time.Time       `json:"triggered_at,omitempty"`
	DailyDrawdown     float64         `json:"daily_drawdown"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	EquityLevel       decimal.Decimal `json:"equity_level"`
}
