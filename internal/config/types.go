package config

// Config is the top-level configuration for the control core.
type Config struct {
	App      AppConfig      `toml:"app"`
	Store    StoreConfig    `toml:"store"`
	Gateway  GatewayConfig  `toml:"gateway"`
	Budget   BudgetConfig   `toml:"budget"`
	Guardian GuardianConfig `toml:"guardian"`
	Breaker  BreakerConfig  `toml:"breaker"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Limits   LimitsConfig   `toml:"limits"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

type StoreConfig struct {
	DBPath      string `toml:"db_path"`
	AuditDBPath string `toml:"audit_db_path"`
}

type GatewayConfig struct {
	DefaultTTLSeconds int `toml:"default_ttl_seconds"`
	// ApprovalRequired extends the built-in critical set (FLATTEN,
	// OVERRIDE_RISK) with additional intent types gated behind a human.
	ApprovalRequired []string `toml:"approval_required"`
	// SigningKeys maps key id -> shared secret for the HMAC verifier used
	// in local runs; production deployments plug in an external key store.
	SigningKeys map[string]string `toml:"signing_keys"`
	PostureFile string            `toml:"posture_file"`
	HaltFile    string            `toml:"halt_file"`
}

type BudgetConfig struct {
	BroadcastIntervalSeconds int      `toml:"broadcast_interval_seconds"`
	BudgetTTLSeconds         int      `toml:"budget_ttl_seconds"`
	SlippageThresholdBps     float64  `toml:"slippage_threshold_bps"`
	RejectRateThreshold      float64  `toml:"reject_rate_threshold"`
	MaxDailyLoss             float64  `toml:"max_daily_loss"`
	MaxOrderRate             int      `toml:"max_order_rate"`
	Phases                   []string `toml:"phases"`
	// SymbolWhitelist restricts the published risk policy to these symbols.
	// Empty means unrestricted.
	SymbolWhitelist []string `toml:"symbol_whitelist"`
}

type GuardianConfig struct {
	MaxLeverage       float64 `toml:"max_leverage"`
	MaxCorrelation    float64 `toml:"max_correlation"`
	MaxPortfolioDelta float64 `toml:"max_portfolio_delta"`
	PriceHistory      int     `toml:"price_history"`
	CorrelationWindow int     `toml:"correlation_window"`
	MaxStalenessMs    int64   `toml:"max_staleness_ms"`
}

type BreakerConfig struct {
	MaxDailyDrawdown       float64 `toml:"max_daily_drawdown"`
	ConsecutiveLossLimit   int     `toml:"consecutive_loss_limit"`
	ConsecutiveLossWindowS int     `toml:"consecutive_loss_window_seconds"`
	MinEquity              float64 `toml:"min_equity"`
	CooldownMinutes        int     `toml:"cooldown_minutes"`
}

type LedgerConfig struct {
	DriftTolerance    float64 `toml:"drift_tolerance"`
	RecoveryIncrement float64 `toml:"recovery_increment"`
	AlertMaxRetries   int     `toml:"alert_max_retries"`
}

// LimitsConfig points at the hot-reloadable risk-limit overrides file.
type LimitsConfig struct {
	OverridesPath string `toml:"overrides_path"`
}
