package intent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"custos/internal/audit"
	"custos/internal/logger"
	"custos/internal/metrics"
	"custos/internal/notify"
	"custos/internal/store"
	"custos/internal/types"
)

// Executor performs the side effect for one intent type. Executors must be
// idempotent; the gateway never retries one, a failed execution lands the
// intent in UNVERIFIED and must be resubmitted with a fresh idempotency key.
type Executor func(ctx context.Context, in *types.OperatorIntent) (*types.IntentReceipt, error)

// Decision is the structured outcome returned to operator tooling. Callers
// branch on Status/Err, not on control-flow failures.
type Decision struct {
	Status  types.IntentStatus   `json:"status"`
	Receipt *types.IntentReceipt `json:"receipt,omitempty"`
	Err     string               `json:"error,omitempty"`
}

// Gateway is the single entry point for operator commands. It owns every
// intent record and its TTL timer; all status transitions go through the
// gateway's mutex so a competing transition observing a stale status fails
// with INVALID_STATUS instead of overwriting.
type Gateway struct {
	mu        sync.Mutex
	intents   map[string]*types.OperatorIntent
	byKey     map[string]string
	timers    map[string]*time.Timer
	executors map[types.IntentType]Executor

	verifier   Verifier
	store      store.IntentStore
	auditor    audit.Sink
	notifier   notify.Notifier
	approval   map[types.IntentType]bool
	defaultTTL time.Duration

	nowFn func() time.Time
}

func NewGateway(verifier Verifier, st store.IntentStore, auditor audit.Sink, notifier notify.Notifier, defaultTTL time.Duration, approvalRequired []types.IntentType) *Gateway {
	if auditor == nil {
		auditor = audit.Discard{}
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	approval := map[types.IntentType]bool{
		types.IntentFlatten:      true,
		types.IntentOverrideRisk: true,
	}
	for _, t := range approvalRequired {
		approval[t] = true
	}
	return &Gateway{
		intents:    make(map[string]*types.OperatorIntent),
		byKey:      make(map[string]string),
		timers:     make(map[string]*time.Timer),
		executors:  make(map[types.IntentType]Executor),
		verifier:   verifier,
		store:      st,
		auditor:    auditor,
		notifier:   notifier,
		approval:   approval,
		defaultTTL: defaultTTL,
		nowFn:      time.Now,
	}
}

// RegisterExecutor binds the side effect for one intent type. Last
// registration wins.
func (g *Gateway) RegisterExecutor(t types.IntentType, exec Executor) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.executors[t] = exec
}

// SubmitIntent runs the full submission pipeline: schema-level checks,
// signature verification, idempotency lookup, then either approval gating
// or direct dispatch.
func (g *Gateway) SubmitIntent(ctx context.Context, in *types.OperatorIntent) Decision {
	dec := g.submit(ctx, in)
	if in != nil {
		metrics.IntentSubmissions.WithLabelValues(string(in.Type), string(dec.Status)).Inc()
	}
	return dec
}

func (g *Gateway) submit(ctx context.Context, in *types.OperatorIntent) Decision {
	if in == nil || in.ID == "" || in.IdempotencyKey == "" {
		return Decision{Err: ErrInvalidSchema.Error()}
	}
	if in.Reason == "" {
		return Decision{Err: ErrReasonRequired.Error()}
	}
	if in.SubmittedAt.IsZero() {
		in.SubmittedAt = g.nowFn()
	}
	if in.TTLSeconds <= 0 {
		in.TTLSeconds = int(g.defaultTTL / time.Second)
	}

	payload, err := canonicalPayload(in)
	if err != nil {
		return Decision{Err: ErrInvalidSchema.Error()}
	}
	ok, verr := g.verifier.Verify(payload, in.Signature, in.OperatorID)
	if verr != nil || !ok {
		code := ErrInvalidSignature
		if verr != nil {
			code = ErrUnauthorizedKey
		}
		g.recordRejectedSignature(in, code.Error())
		return Decision{Status: types.StatusRejectedSignature, Err: code.Error()}
	}

	g.mu.Lock()
	if priorID, hit := g.byKey[in.IdempotencyKey]; hit {
		prior := g.intents[priorID]
		dec := Decision{Status: types.StatusIdempotentHit, Receipt: cloneReceipt(prior.Receipt)}
		g.mu.Unlock()
		logger.Debugf("intent %s: idempotency hit on key %s (prior %s)", in.ID, in.IdempotencyKey, priorID)
		return dec
	}
	if _, exists := g.intents[in.ID]; exists {
		g.mu.Unlock()
		logger.Warnf("intent %s: id already in use, submission refused", in.ID)
		return Decision{Err: ErrDuplicateID.Error()}
	}
	in.Status = types.StatusReceived
	g.intents[in.ID] = in
	g.byKey[in.IdempotencyKey] = in.ID
	g.recordLocked(in, "received")

	if g.approval[in.Type] {
		in.Status = types.StatusPendingApproval
		g.armTimerLocked(in)
		g.recordLocked(in, "pending_approval")
		g.mu.Unlock()
		g.notifier.Notify("intent_pending_approval", map[string]any{
			"intent_id": in.ID, "type": string(in.Type), "operator_id": in.OperatorID,
		})
		return Decision{Status: types.StatusPendingApproval}
	}

	in.Status = types.StatusAccepted
	g.recordLocked(in, "accepted")
	g.mu.Unlock()
	return g.dispatch(ctx, in.ID)
}

// ApproveIntent moves a gated intent to ACCEPTED and dispatches it. Only
// valid from PENDING_APPROVAL; anything else is INVALID_STATUS with no
// mutation.
func (g *Gateway) ApproveIntent(ctx context.Context, id, approverID string) (Decision, error) {
	g.mu.Lock()
	in, ok := g.intents[id]
	if !ok {
		g.mu.Unlock()
		return Decision{}, ErrIntentNotFound
	}
	if in.Status != types.StatusPendingApproval {
		g.mu.Unlock()
		return Decision{}, ErrInvalidStatus
	}
	g.cancelTimerLocked(id)
	in.Status = types.StatusAccepted
	in.ApproverID = approverID
	g.recordLocked(in, "accepted")
	g.mu.Unlock()

	return g.dispatch(ctx, id), nil
}

// RejectIntent terminates a gated intent. Reason is mandatory audit text.
func (g *Gateway) RejectIntent(id, approverID, reason string) error {
	if reason == "" {
		return ErrReasonRequired
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.intents[id]
	if !ok {
		return ErrIntentNotFound
	}
	if in.Status != types.StatusPendingApproval {
		return ErrInvalidStatus
	}
	g.cancelTimerLocked(id)
	in.ApproverID = approverID
	in.RejectionReason = reason
	in.Receipt = &types.IntentReceipt{Error: fmt.Sprintf("Rejected by %s: %s", approverID, reason)}
	g.terminateLocked(in, types.StatusRejected, "rejected")
	return nil
}

// GetIntent returns a copy of the intent record for inspection.
func (g *Gateway) GetIntent(id string) (*types.OperatorIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	return in.Clone(), nil
}

// PendingApprovalCount is a live counter for dashboard polling.
func (g *Gateway) PendingApprovalCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, in := range g.intents {
		if in.Status == types.StatusPendingApproval {
			n++
		}
	}
	return n
}

// Intents returns copies of every known record, newest first by submission.
func (g *Gateway) Intents() []*types.OperatorIntent {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*types.OperatorIntent, 0, len(g.intents))
	for _, in := range g.intents {
		out = append(out, in.Clone())
	}
	return out
}

// Hydrate restores persisted intents after a restart. Pending approvals get
// their TTL timers re-armed against the original submission time; ones
// already past their deadline expire immediately.
func (g *Gateway) Hydrate(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	loaded, err := g.store.LoadIntents(ctx)
	if err != nil {
		return fmt.Errorf("hydrate intents: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.nowFn()
	for _, in := range loaded {
		g.intents[in.ID] = in
		g.byKey[in.IdempotencyKey] = in.ID
		if in.Status != types.StatusPendingApproval {
			continue
		}
		deadline := in.SubmittedAt.Add(time.Duration(in.TTLSeconds) * time.Second)
		if !deadline.After(now) {
			g.expireLocked(in)
			continue
		}
		id := in.ID
		g.timers[id] = time.AfterFunc(deadline.Sub(now), func() { g.expire(id) })
	}
	logger.Infof("intent gateway hydrated %d records", len(loaded))
	return nil
}

// Close cancels all outstanding timers. Pending intents stay pending; they
// are re-armed on the next Hydrate.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, t := range g.timers {
		t.Stop()
		delete(g.timers, id)
	}
}

func (g *Gateway) dispatch(ctx context.Context, id string) Decision {
	g.mu.Lock()
	in, ok := g.intents[id]
	if !ok {
		g.mu.Unlock()
		return Decision{Err: ErrIntentNotFound.Error()}
	}
	exec := g.executors[in.Type]
	if exec == nil {
		in.Receipt = &types.IntentReceipt{Error: ErrNoExecutor.Error()}
		g.terminateLocked(in, types.StatusUnverified, "unverified")
		dec := Decision{Status: in.Status, Receipt: cloneReceipt(in.Receipt), Err: ErrNoExecutor.Error()}
		g.mu.Unlock()
		return dec
	}
	in.Status = types.StatusExecuting
	g.recordLocked(in, "executing")
	snapshot := in.Clone()
	g.mu.Unlock()

	receipt, err := runExecutor(ctx, exec, snapshot)

	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		in.Receipt = &types.IntentReceipt{Error: err.Error()}
		g.terminateLocked(in, types.StatusUnverified, "unverified")
		logger.Errorf("intent %s (%s) execution failed: %v", in.ID, in.Type, err)
		return Decision{Status: in.Status, Receipt: cloneReceipt(in.Receipt)}
	}
	in.Receipt = receipt
	g.terminateLocked(in, types.StatusVerified, "verified")
	return Decision{Status: in.Status, Receipt: cloneReceipt(in.Receipt)}
}

// runExecutor contains executor panics; a panicking executor is a failed
// execution, never a gateway crash.
func runExecutor(ctx context.Context, exec Executor, in *types.OperatorIntent) (receipt *types.IntentReceipt, err error) {
	defer func() {
		if r := recover(); r != nil {
			receipt, err = nil, fmt.Errorf("executor panic: %v", r)
		}
	}()
	return exec(ctx, in)
}

func (g *Gateway) expire(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.intents[id]
	if !ok || in.Status != types.StatusPendingApproval {
		return
	}
	g.expireLocked(in)
}

func (g *Gateway) expireLocked(in *types.OperatorIntent) {
	in.Receipt = &types.IntentReceipt{Error: fmt.Sprintf("TTL expired after %ds without approval", in.TTLSeconds)}
	g.terminateLocked(in, types.StatusUnverified, "ttl_expired")
}

// terminateLocked applies a terminal transition: timer cancellation and the
// status write happen under the same lock, so a late-firing timer re-checks
// the status and finds the intent already resolved.
func (g *Gateway) terminateLocked(in *types.OperatorIntent, to types.IntentStatus, event string) {
	g.cancelTimerLocked(in.ID)
	in.Status = to
	now := g.nowFn()
	in.ResolvedAt = &now
	g.recordLocked(in, event)
}

func (g *Gateway) armTimerLocked(in *types.OperatorIntent) {
	id := in.ID
	g.timers[id] = time.AfterFunc(time.Duration(in.TTLSeconds)*time.Second, func() { g.expire(id) })
}

func (g *Gateway) cancelTimerLocked(id string) {
	if t, ok := g.timers[id]; ok {
		t.Stop()
		delete(g.timers, id)
	}
}

// recordLocked audits and persists one transition. Exactly one audit record
// per transition; persistence failures are logged, the in-memory record is
// authoritative.
func (g *Gateway) recordLocked(in *types.OperatorIntent, event string) {
	if err := g.auditor.Append(audit.Record{
		Timestamp: g.nowFn(),
		Kind:      "intent." + event,
		SubjectID: in.ID,
		Actor:     in.OperatorID,
		Detail:    string(in.Status),
	}); err != nil {
		logger.Warnf("intent %s: audit append failed: %v", in.ID, err)
	}
	pending := 0
	for _, rec := range g.intents {
		if rec.Status == types.StatusPendingApproval {
			pending++
		}
	}
	metrics.PendingApprovals.Set(float64(pending))
	if g.store != nil {
		if err := g.store.SaveIntent(context.Background(), in); err != nil {
			logger.Errorf("intent %s: persist failed: %v", in.ID, err)
		}
	}
}

// recordRejectedSignature keeps an audit trail of failed verifications. A
// submission that failed verification is untrusted; it must never displace a
// record already stored under the same id.
func (g *Gateway) recordRejectedSignature(in *types.OperatorIntent, code string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.intents[in.ID]; exists {
		logger.Warnf("intent %s: rejected signature reusing an existing id, record untouched", in.ID)
		return
	}
	in.Status = types.StatusRejectedSignature
	in.Receipt = &types.IntentReceipt{Error: code}
	now := g.nowFn()
	in.ResolvedAt = &now
	g.intents[in.ID] = in
	g.recordLocked(in, "rejected_signature")
}

func cloneReceipt(r *types.IntentReceipt) *types.IntentReceipt {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}
