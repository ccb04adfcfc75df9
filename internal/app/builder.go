package app

import (
	"context"
	"fmt"
	"time"

	"custos/internal/alloc"
	"custos/internal/audit"
	"custos/internal/budget"
	"custos/internal/bus"
	"custos/internal/config"
	"custos/internal/intent"
	"custos/internal/ledger"
	"custos/internal/logger"
	"custos/internal/notify"
	"custos/internal/projection"
	"custos/internal/risk"
	"custos/internal/store/sqlite"
	adminhttp "custos/internal/transport/http/admin"
	"custos/internal/types"

	"github.com/shopspring/decimal"
)

// AppBuilder assembles the control core from configuration. Execution-layer
// collaborators (flattener, balances, account) are optional and plug in
// before Build.
type AppBuilder struct {
	cfg       *config.Config
	flattener PositionFlattener
	balances  BalanceSource
	account   AccountSource
	notifier  notify.Notifier
}

func NewAppBuilder(cfg *config.Config) *AppBuilder {
	return &AppBuilder{cfg: cfg}
}

func (b *AppBuilder) WithFlattener(f PositionFlattener) *AppBuilder {
	b.flattener = f
	return b
}

func (b *AppBuilder) WithBalanceSource(s BalanceSource) *AppBuilder {
	b.balances = s
	return b
}

func (b *AppBuilder) WithAccountSource(s AccountSource) *AppBuilder {
	b.account = s
	return b
}

func (b *AppBuilder) WithNotifier(n notify.Notifier) *AppBuilder {
	b.notifier = n
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	notifier := b.notifier
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}

	st, err := sqlite.NewSqliteStore(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var auditor audit.Sink = audit.Discard{}
	var auditSink *audit.SqliteSink
	if cfg.Store.AuditDBPath != "" {
		auditSink, err = audit.NewSqliteSink(cfg.Store.AuditDBPath)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		auditor = auditSink
	}

	verifier := intent.NewHMACVerifier(cfg.Gateway.SigningKeys)
	posture := intent.NewPosture(cfg.Gateway.PostureFile, cfg.Gateway.HaltFile)

	approvalTypes := make([]types.IntentType, 0, len(cfg.Gateway.ApprovalRequired))
	for _, t := range cfg.Gateway.ApprovalRequired {
		approvalTypes = append(approvalTypes, types.IntentType(t))
	}
	gateway := intent.NewGateway(verifier, st, auditor, notifier,
		time.Duration(cfg.Gateway.DefaultTTLSeconds)*time.Second, approvalTypes)
	if err := gateway.Hydrate(ctx); err != nil {
		return nil, err
	}

	staleness := risk.NewStalenessMonitor()
	guardian := risk.NewGuardian(risk.GuardianConfig{
		MaxLeverage:       cfg.Guardian.MaxLeverage,
		MaxCorrelation:    cfg.Guardian.MaxCorrelation,
		MaxPortfolioDelta: cfg.Guardian.MaxPortfolioDelta,
		PriceHistory:      cfg.Guardian.PriceHistory,
		CorrelationWindow: cfg.Guardian.CorrelationWindow,
		MaxStaleness:      time.Duration(cfg.Guardian.MaxStalenessMs) * time.Millisecond,
	}, staleness)

	breaker := risk.NewBreaker(risk.BreakerConfig{
		MaxDailyDrawdown:     cfg.Breaker.MaxDailyDrawdown,
		ConsecutiveLossLimit: cfg.Breaker.ConsecutiveLossLimit,
		ConsecutiveLossWin:   time.Duration(cfg.Breaker.ConsecutiveLossWindowS) * time.Second,
		MinEquity:            decimal.NewFromFloat(cfg.Breaker.MinEquity),
		Cooldown:             time.Duration(cfg.Breaker.CooldownMinutes) * time.Minute,
	})
	breaker.OnTrip(func(state types.CircuitBreakerState) {
		notifier.Notify("breaker_trip", state)
	})

	reconciler := ledger.NewReconciler(cfg.Ledger.DriftTolerance, cfg.Ledger.RecoveryIncrement)
	poster := ledger.NewPoster(st, notifier, auditor, cfg.Ledger.AlertMaxRetries)

	detector := budget.NewDetector(20, 0.10)
	model := alloc.DefaultModel(cfg.Budget.Phases)
	msgBus := bus.New()

	var limits *config.LimitWatcher
	if cfg.Limits.OverridesPath != "" {
		limits, err = config.NewLimitWatcher(cfg.Limits.OverridesPath)
		if err != nil {
			logger.Warnf("limit overrides unavailable (%s): %v", cfg.Limits.OverridesPath, err)
			limits = nil
		}
	}

	account := b.account
	if account == nil {
		account = staticAccount{equity: decimal.Zero}
	}

	engine := budget.NewEngine(budget.Options{
		Interval:             time.Duration(cfg.Budget.BroadcastIntervalSeconds) * time.Second,
		BudgetTTL:            time.Duration(cfg.Budget.BudgetTTLSeconds) * time.Second,
		SlippageThresholdBps: cfg.Budget.SlippageThresholdBps,
		RejectRateThreshold:  cfg.Budget.RejectRateThreshold,
		MaxDailyLoss:         decimal.NewFromFloat(cfg.Budget.MaxDailyLoss),
		MaxOrderRate:         cfg.Budget.MaxOrderRate,
		SymbolWhitelist:      cfg.Budget.SymbolWhitelist,
		MaxSlippageBps:       int(cfg.Budget.SlippageThresholdBps * 2),
		MaxStalenessMs:       cfg.Guardian.MaxStalenessMs,
	}, model, detector, account, breaker, reconciler, msgBus, limits)

	registerExecutors(gateway, executorDeps{
		posture:       posture,
		engine:        engine,
		detector:      detector,
		reconciler:    reconciler,
		flattener:     b.flattener,
		balances:      b.balances,
		overridesPath: cfg.Limits.OverridesPath,
	})

	// Fills arrive over a durable message log and may be out of order or
	// replayed; the sequencer restores ordering and the poster's
	// correlation-id check makes replay harmless.
	fills := bus.NewSequencer(1, 1024, func(seq uint64, payload any) {
		fill, ok := payload.(types.Fill)
		if !ok {
			logger.Warnf("fill intake: unexpected payload at seq %d", seq)
			return
		}
		poster.PostFill(context.Background(), fill)
	})

	proj := projection.New(gateway, engine, breaker, reconciler, posture)

	router := adminhttp.NewRouter(gateway, engine, proj, auditor)
	server, err := adminhttp.NewServer(adminhttp.ServerConfig{
		Addr:   cfg.App.HTTPAddr,
		Router: router,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:        cfg,
		gateway:    gateway,
		posture:    posture,
		guardian:   guardian,
		staleness:  staleness,
		breaker:    breaker,
		reconciler: reconciler,
		poster:     poster,
		detector:   detector,
		engine:     engine,
		projection: proj,
		server:     server,
		bus:        msgBus,
		fills:      fills,
		auditSink:  auditSink,
		balances:   b.balances,
	}, nil
}
