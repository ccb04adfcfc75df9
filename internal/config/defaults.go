package config

const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9982"
	defaultDBPath            = "/data/db/custos.db"
	defaultAuditDBPath       = "/data/db/custos-audit.db"
	defaultGatewayTTL        = 300
	defaultPostureFile       = "/data/run/execution.armed"
	defaultHaltFile          = "/data/run/system.halt"
	defaultBroadcastInterval = 10
	defaultBudgetTTL         = 30
	defaultSlippageBps       = 25.0
	defaultRejectRate        = 0.10
	defaultMaxOrderRate      = 20
	defaultMaxLeverage       = 10.0
	defaultMaxCorrelation    = 0.85
	defaultMaxDelta          = 3.0
	defaultPriceHistory      = 500
	defaultCorrelationWindow = 60
	defaultStalenessMs       = 5000
	defaultMaxDrawdown       = 0.05
	defaultLossLimit         = 5
	defaultLossWindowS       = 3600
	defaultCooldownMinutes   = 30
	defaultDriftTolerance    = 0.05
	defaultRecoveryIncrement = 0.01
	defaultAlertRetries      = 3
)

// applyDefaults fills zero-valued fields. Fields where an explicit zero is
// meaningful (max_daily_loss, min_equity) are left alone.
func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = defaultAppEnv
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = defaultAppLogLevel
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = defaultAppHTTPAddr
	}
	if c.Store.DBPath == "" {
		c.Store.DBPath = defaultDBPath
	}
	if c.Store.AuditDBPath == "" {
		c.Store.AuditDBPath = defaultAuditDBPath
	}
	if c.Gateway.DefaultTTLSeconds <= 0 {
		c.Gateway.DefaultTTLSeconds = defaultGatewayTTL
	}
	if c.Gateway.PostureFile == "" {
		c.Gateway.PostureFile = defaultPostureFile
	}
	if c.Gateway.HaltFile == "" {
		c.Gateway.HaltFile = defaultHaltFile
	}
	if c.Budget.BroadcastIntervalSeconds <= 0 {
		c.Budget.BroadcastIntervalSeconds = defaultBroadcastInterval
	}
	if c.Budget.BudgetTTLSeconds <= 0 {
		c.Budget.BudgetTTLSeconds = defaultBudgetTTL
	}
	if c.Budget.SlippageThresholdBps <= 0 {
		c.Budget.SlippageThresholdBps = defaultSlippageBps
	}
	if c.Budget.RejectRateThreshold <= 0 {
		c.Budget.RejectRateThreshold = defaultRejectRate
	}
	if c.Budget.MaxOrderRate <= 0 {
		c.Budget.MaxOrderRate = defaultMaxOrderRate
	}
	if c.Guardian.MaxLeverage <= 0 {
		c.Guardian.MaxLeverage = defaultMaxLeverage
	}
	if c.Guardian.MaxCorrelation <= 0 {
		c.Guardian.MaxCorrelation = defaultMaxCorrelation
	}
	if c.Guardian.MaxPortfolioDelta <= 0 {
		c.Guardian.MaxPortfolioDelta = defaultMaxDelta
	}
	if c.Guardian.PriceHistory <= 0 {
		c.Guardian.PriceHistory = defaultPriceHistory
	}
	if c.Guardian.CorrelationWindow <= 0 {
		c.Guardian.CorrelationWindow = defaultCorrelationWindow
	}
	if c.Guardian.MaxStalenessMs <= 0 {
		c.Guardian.MaxStalenessMs = defaultStalenessMs
	}
	if c.Breaker.MaxDailyDrawdown <= 0 {
		c.Breaker.MaxDailyDrawdown = defaultMaxDrawdown
	}
	if c.Breaker.ConsecutiveLossLimit <= 0 {
		c.Breaker.ConsecutiveLossLimit = defaultLossLimit
	}
	if c.Breaker.ConsecutiveLossWindowS <= 0 {
		c.Breaker.ConsecutiveLossWindowS = defaultLossWindowS
	}
	if c.Breaker.CooldownMinutes <= 0 {
		c.Breaker.CooldownMinutes = defaultCooldownMinutes
	}
	if c.Ledger.DriftTolerance <= 0 {
		c.Ledger.DriftTolerance = defaultDriftTolerance
	}
	if c.Ledger.RecoveryIncrement <= 0 {
		c.Ledger.RecoveryIncrement = defaultRecoveryIncrement
	}
	if c.Ledger.AlertMaxRetries <= 0 {
		c.Ledger.AlertMaxRetries = defaultAlertRetries
	}
}
