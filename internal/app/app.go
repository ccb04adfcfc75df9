package app

import (
	"context"
	"fmt"
	"time"

	"custos/internal/audit"
	"custos/internal/budget"
	"custos/internal/bus"
	"custos/internal/config"
	"custos/internal/intent"
	"custos/internal/ledger"
	"custos/internal/logger"
	"custos/internal/projection"
	"custos/internal/risk"
	"custos/internal/scheduler"
	adminhttp "custos/internal/transport/http/admin"
	"custos/internal/types"

	"golang.org/x/sync/errgroup"
)

// App orchestrates the control core: it owns the gateway, the budget loop,
// the reconciliation schedule and the admin HTTP surface.
type App struct {
	cfg        *config.Config
	gateway    *intent.Gateway
	posture    *intent.Posture
	guardian   *risk.Guardian
	staleness  *risk.StalenessMonitor
	breaker    *risk.Breaker
	reconciler *ledger.Reconciler
	poster     *ledger.Poster
	detector   *budget.Detector
	engine     *budget.Engine
	projection *projection.Projection
	server     *adminhttp.Server
	bus        *bus.Bus
	fills      *bus.Sequencer
	auditSink  *audit.SqliteSink
	balances   BalanceSource
}

// NewApp builds the application from configuration without starting it.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run starts every long-lived loop and blocks until ctx is cancelled or a
// component fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("admin http server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		a.engine.Run(ctx)
		return nil
	})

	if a.balances != nil {
		group.Go(func() error {
			sched := scheduler.NewAlignedScheduler(ctx, time.Minute, 5*time.Second)
			sched.RunImmediately = true
			sched.Start(a.runReconcile)
			return nil
		})
	}

	group.Go(func() error {
		<-ctx.Done()
		a.close()
		return nil
	})

	logger.Infof("custos started http=%s phases=%v", a.server.Addr(), a.cfg.Budget.Phases)
	return group.Wait()
}

func (a *App) runReconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	obs, err := a.balances.Balances(ctx)
	if err != nil {
		logger.Errorf("reconcile: balance fetch failed: %v", err)
		return
	}
	status := a.reconciler.Reconcile(obs)
	if status != ledger.StatusHealthy {
		logger.Warnf("reconcile: status %s confidence=%.2f", status, a.reconciler.Confidence())
	}
}

// OfferFill feeds one sequenced fill event into the posting pipeline.
// Gaps are buffered, replays dropped.
func (a *App) OfferFill(fill types.Fill) bool {
	return a.fills.Offer(fill.Sequence, fill)
}

// Gateway exposes the intent gateway for embedding callers and harnesses.
func (a *App) Gateway() *intent.Gateway {
	if a == nil {
		return nil
	}
	return a.gateway
}

// Guardian exposes the pre-trade checker for the execution layer.
func (a *App) Guardian() *risk.Guardian {
	if a == nil {
		return nil
	}
	return a.guardian
}

func (a *App) close() {
	a.gateway.Close()
	if a.auditSink != nil {
		if err := a.auditSink.Close(); err != nil {
			logger.Warnf("audit sink close: %v", err)
		}
	}
}
