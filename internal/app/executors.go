package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"custos/internal/budget"
	"custos/internal/intent"
	"custos/internal/ledger"
	"custos/internal/logger"
	"custos/internal/pkg/convert"
	"custos/internal/types"

	"gopkg.in/yaml.v3"
)

// executorDeps bundles everything the built-in intent executors touch.
type executorDeps struct {
	posture       *intent.Posture
	engine        *budget.Engine
	detector      *budget.Detector
	reconciler    *ledger.Reconciler
	flattener     PositionFlattener
	balances      BalanceSource
	overridesPath string
}

// registerExecutors binds the built-in executors for every supported
// intent type.
func registerExecutors(gw *intent.Gateway, deps executorDeps) {
	gw.RegisterExecutor(types.IntentArm, deps.armExecutor)
	gw.RegisterExecutor(types.IntentDisarm, deps.disarmExecutor)
	gw.RegisterExecutor(types.IntentFlatten, deps.flattenExecutor)
	gw.RegisterExecutor(types.IntentOverrideRisk, deps.overrideRiskExecutor)
	gw.RegisterExecutor(types.IntentSetMode, deps.setModeExecutor)
	gw.RegisterExecutor(types.IntentThrottlePhase, deps.throttlePhaseExecutor)
	gw.RegisterExecutor(types.IntentRunReconcile, deps.runReconcileExecutor)
}

func (d executorDeps) armExecutor(_ context.Context, in *types.OperatorIntent) (*types.IntentReceipt, error) {
	prior := d.posture.State()
	if err := d.posture.Arm(in.OperatorID, in.Reason); err != nil {
		return nil, err
	}
	return &types.IntentReceipt{
		Effect:     "trading armed",
		PriorState: prior,
		NewState:   d.posture.State(),
	}, nil
}

func (d executorDeps) disarmExecutor(_ context.Context, in *types.OperatorIntent) (*types.IntentReceipt, error) {
	prior := d.posture.State()
	if err := d.posture.Disarm(); err != nil {
		return nil, err
	}
	return &types.IntentReceipt{
		Effect:     "trading disarmed",
		PriorState: prior,
		NewState:   d.posture.State(),
	}, nil
}

// flattenExecutor disarms first so no new entries race the close-out, then
// hands off to the execution layer.
func (d executorDeps) flattenExecutor(ctx context.Context, in *types.OperatorIntent) (*types.IntentReceipt, error) {
	prior := d.posture.State()
	if err := d.posture.Disarm(); err != nil {
		return nil, err
	}
	closed := 0
	if d.flattener != nil {
		n, err := d.flattener.FlattenAll(ctx, in.Reason)
		if err != nil {
			return nil, fmt.Errorf("flatten failed after disarm: %w", err)
		}
		closed = n
	} else {
		logger.Warnf("flatten intent %s: no execution layer registered, disarm only", in.ID)
	}
	return &types.IntentReceipt{
		Effect:     fmt.Sprintf("flattened %d positions", closed),
		PriorState: prior,
		NewState:   d.posture.State(),
	}, nil
}

// overrideRiskExecutor writes the supplied limits into the hot-reload
// overrides file; the limit watcher picks the change up from disk, so the
// override survives a restart and is visible to every consumer.
func (d executorDeps) overrideRiskExecutor(_ context.Context, in *types.OperatorIntent) (*types.IntentReceipt, error) {
	if d.overridesPath == "" {
		return nil, fmt.Errorf("no overrides file configured")
	}
	allowed := map[string]bool{
		"max_daily_loss":         true,
		"slippage_threshold_bps": true,
		"reject_rate_threshold":  true,
		"max_leverage":           true,
	}
	out := make(map[string]any, len(in.Params))
	for k, v := range in.Params {
		if !allowed[k] {
			return nil, fmt.Errorf("unknown risk limit %q", k)
		}
		val := convert.ToFloat64(v)
		if val <= 0 {
			return nil, fmt.Errorf("risk limit %q must be a positive number", k)
		}
		out[k] = val
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no limits supplied")
	}
	b, err := yaml.Marshal(out)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(d.overridesPath, b, 0o644); err != nil {
		return nil, fmt.Errorf("write overrides: %w", err)
	}
	return &types.IntentReceipt{
		Effect:   fmt.Sprintf("risk limits overridden (%d values)", len(out)),
		NewState: out,
	}, nil
}

func (d executorDeps) setModeExecutor(_ context.Context, in *types.OperatorIntent) (*types.IntentReceipt, error) {
	mode, _ := in.Params["mode"].(string)
	mode = strings.ToUpper(strings.TrimSpace(mode))
	switch mode {
	case "AUTO":
		d.detector.ClearForce()
	case string(types.RegimeCrash), string(types.RegimeVolatileBreakout),
		string(types.RegimeMeanReversion), string(types.RegimeNormal):
		d.detector.Force(types.Regime(mode))
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
	d.engine.Broadcast()
	return &types.IntentReceipt{
		Effect:   "regime mode set to " + mode,
		NewState: map[string]any{"mode": mode},
	}, nil
}

func (d executorDeps) throttlePhaseExecutor(_ context.Context, in *types.OperatorIntent) (*types.IntentReceipt, error) {
	phase, _ := in.Params["phase"].(string)
	if phase == "" {
		return nil, fmt.Errorf("phase required")
	}
	state := types.PhaseThrottled
	if s, ok := in.Params["state"].(string); ok && s != "" {
		state = types.PhaseState(strings.ToUpper(s))
	}
	switch state {
	case types.PhaseActive:
		d.engine.ClearPhaseOverride(phase)
	case types.PhaseThrottled, types.PhaseCloseOnly, types.PhaseHalted:
		d.engine.SetPhaseOverride(phase, state)
	default:
		return nil, fmt.Errorf("unknown phase state %q", state)
	}
	d.engine.Broadcast()
	return &types.IntentReceipt{
		Effect:   fmt.Sprintf("phase %s set to %s", phase, state),
		NewState: map[string]any{"phase": phase, "state": string(state)},
	}, nil
}

func (d executorDeps) runReconcileExecutor(ctx context.Context, _ *types.OperatorIntent) (*types.IntentReceipt, error) {
	if d.balances == nil {
		return nil, fmt.Errorf("no balance source registered")
	}
	obs, err := d.balances.Balances(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}
	status := d.reconciler.Reconcile(obs)
	return &types.IntentReceipt{
		Effect: fmt.Sprintf("reconciled %d accounts, status %s", len(obs), status),
		NewState: map[string]any{
			"status":     string(status),
			"confidence": d.reconciler.Confidence(),
		},
	}, nil
}
