package intent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"custos/internal/store"
	"custos/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVerifier() *HMACVerifier {
	return NewHMACVerifier(map[string]string{"alice": "s3cret", "bob": "hunter2"})
}

func signedIntent(t *testing.T, v *HMACVerifier, typ types.IntentType, id string) *types.OperatorIntent {
	t.Helper()
	in := &types.OperatorIntent{
		ID:             id,
		IdempotencyKey: "key-" + id,
		Version:        1,
		Type:           typ,
		Params:         map[string]any{"venue": "binance"},
		OperatorID:     "alice",
		Reason:         "routine ops",
		TTLSeconds:     60,
	}
	payload, err := canonicalPayload(in)
	require.NoError(t, err)
	sig, err := v.Sign(payload, "alice")
	require.NoError(t, err)
	in.Signature = sig
	return in
}

func okExecutor(calls *atomic.Int64) Executor {
	return func(_ context.Context, in *types.OperatorIntent) (*types.IntentReceipt, error) {
		if calls != nil {
			calls.Add(1)
		}
		return &types.IntentReceipt{Effect: "done: " + string(in.Type)}, nil
	}
}

func newTestGateway(t *testing.T) (*Gateway, *HMACVerifier) {
	t.Helper()
	v := testVerifier()
	g := NewGateway(v, nil, nil, nil, time.Minute, nil)
	t.Cleanup(g.Close)
	return g, v
}

func TestCriticalTypesAreGated(t *testing.T) {
	g, v := newTestGateway(t)
	g.RegisterExecutor(types.IntentFlatten, okExecutor(nil))
	g.RegisterExecutor(types.IntentOverrideRisk, okExecutor(nil))

	for i, typ := range []types.IntentType{types.IntentFlatten, types.IntentOverrideRisk} {
		in := signedIntent(t, v, typ, "crit-"+string(rune('a'+i)))
		dec := g.SubmitIntent(context.Background(), in)
		assert.Equal(t, types.StatusPendingApproval, dec.Status)
	}
	assert.Equal(t, 2, g.PendingApprovalCount())
}

func TestConfiguredApprovalTypesAreGated(t *testing.T) {
	v := testVerifier()
	g := NewGateway(v, nil, nil, nil, time.Minute, []types.IntentType{types.IntentSetMode})
	defer g.Close()

	dec := g.SubmitIntent(context.Background(), signedIntent(t, v, types.IntentSetMode, "mode-1"))
	assert.Equal(t, types.StatusPendingApproval, dec.Status)
}

func TestNonCriticalTypesBypassApproval(t *testing.T) {
	g, v := newTestGateway(t)
	var calls atomic.Int64
	g.RegisterExecutor(types.IntentArm, okExecutor(&calls))

	dec := g.SubmitIntent(context.Background(), signedIntent(t, v, types.IntentArm, "arm-1"))
	assert.Equal(t, types.StatusVerified, dec.Status)
	require.NotNil(t, dec.Receipt)
	assert.Equal(t, "done: ARM", dec.Receipt.Effect)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, 0, g.PendingApprovalCount())
}

func TestApproveDispatchesExecutor(t *testing.T) {
	g, v := newTestGateway(t)
	var calls atomic.Int64
	g.RegisterExecutor(types.IntentFlatten, okExecutor(&calls))

	g.SubmitIntent(context.Background(), signedIntent(t, v, types.IntentFlatten, "flat-1"))
	dec, err := g.ApproveIntent(context.Background(), "flat-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, types.StatusVerified, dec.Status)
	assert.Equal(t, int64(1), calls.Load())

	got, err := g.GetIntent("flat-1")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.ApproverID)
	assert.NotNil(t, got.ResolvedAt)
}

func TestApproveOutsidePendingIsInvalidStatus(t *testing.T) {
	g, v := newTestGateway(t)
	g.RegisterExecutor(types.IntentArm, okExecutor(nil))

	g.SubmitIntent(context.Background(), signedIntent(t, v, types.IntentArm, "arm-2"))
	before, err := g.GetIntent("arm-2")
	require.NoError(t, err)

	_, err = g.ApproveIntent(context.Background(), "arm-2", "bob")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	after, err := g.GetIntent("arm-2")
	require.NoError(t, err)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Receipt, after.Receipt)
	assert.Empty(t, after.ApproverID)
}

func TestApproveUnknownIntent(t *testing.T) {
	g, _ := newTestGateway(t)
	_, err := g.ApproveIntent(context.Background(), "nope", "bob")
	assert.ErrorIs(t, err, ErrIntentNotFound)
}

func TestRejectRequiresReason(t *testing.T) {
	g, v := newTestGateway(t)
	g.SubmitIntent(context.Background(), signedIntent(t, v, types.IntentFlatten, "flat-2"))

	assert.ErrorIs(t, g.RejectIntent("flat-2", "bob", ""), ErrReasonRequired)
	require.NoError(t, g.RejectIntent("flat-2", "bob", "not during rollover"))

	got, err := g.GetIntent("flat-2")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, got.Status)
	assert.Equal(t, "Rejected by bob: not during rollover", got.Receipt.Error)
	assert.Equal(t, 0, g.PendingApprovalCount())
}

func TestRejectOutsidePendingIsInvalidStatus(t *testing.T) {
	g, v := newTestGateway(t)
	g.SubmitIntent(context.Background(), signedIntent(t, v, types.IntentFlatten, "flat-3"))
	require.NoError(t, g.RejectIntent("flat-3", "bob", "no"))
	assert.ErrorIs(t, g.RejectIntent("flat-3", "bob", "again"), ErrInvalidStatus)
}

func TestIdempotencyHitReturnsPriorReceipt(t *testing.T) {
	g, v := newTestGateway(t)
	var calls atomic.Int64
	g.RegisterExecutor(types.IntentArm, okExecutor(&calls))

	first := signedIntent(t, v, types.IntentArm, "arm-3")
	g.SubmitIntent(context.Background(), first)

	dup := signedIntent(t, v, types.IntentArm, "arm-3-retry")
	dup.IdempotencyKey = first.IdempotencyKey
	payload, _ := canonicalPayload(dup)
	dup.Signature, _ = v.Sign(payload, "alice")

	dec := g.SubmitIntent(context.Background(), dup)
	assert.Equal(t, types.StatusIdempotentHit, dec.Status)
	require.NotNil(t, dec.Receipt)
	assert.Equal(t, "done: ARM", dec.Receipt.Effect)
	assert.Equal(t, int64(1), calls.Load(), "duplicate must not re-execute")
}

func TestBadSignatureRejected(t *testing.T) {
	g, v := newTestGateway(t)
	in := signedIntent(t, v, types.IntentDisarm, "dis-1")
	in.Signature = "deadbeef"

	dec := g.SubmitIntent(context.Background(), in)
	assert.Equal(t, types.StatusRejectedSignature, dec.Status)
	assert.Equal(t, ErrInvalidSignature.Error(), dec.Err)
}

func TestReusedIDWithBadSignatureCannotClobberPending(t *testing.T) {
	g, v := newTestGateway(t)
	g.RegisterExecutor(types.IntentFlatten, okExecutor(nil))

	dec := g.SubmitIntent(context.Background(), signedIntent(t, v, types.IntentFlatten, "victim-1"))
	require.Equal(t, types.StatusPendingApproval, dec.Status)
	require.Equal(t, 1, g.PendingApprovalCount())

	forged := signedIntent(t, v, types.IntentDisarm, "victim-1")
	forged.IdempotencyKey = "key-forged"
	forged.Signature = "deadbeef"

	dec = g.SubmitIntent(context.Background(), forged)
	assert.Equal(t, types.StatusRejectedSignature, dec.Status)

	got, err := g.GetIntent("victim-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPendingApproval, got.Status, "unverified submission must not displace the record")
	assert.Equal(t, types.IntentFlatten, got.Type)
	assert.Equal(t, 1, g.PendingApprovalCount())

	_, err = g.ApproveIntent(context.Background(), "victim-1", "bob")
	require.NoError(t, err, "original approval path must survive the collision")
}

func TestReusedIDWithFreshKeyIsRefused(t *testing.T) {
	g, v := newTestGateway(t)
	g.RegisterExecutor(types.IntentFlatten, okExecutor(nil))

	g.SubmitIntent(context.Background(), signedIntent(t, v, types.IntentFlatten, "dup-1"))

	again := signedIntent(t, v, types.IntentFlatten, "dup-1")
	again.IdempotencyKey = "key-dup-1-second"
	payload, _ := canonicalPayload(again)
	again.Signature, _ = v.Sign(payload, "alice")

	dec := g.SubmitIntent(context.Background(), again)
	assert.Equal(t, ErrDuplicateID.Error(), dec.Err)
	assert.Empty(t, dec.Status)

	got, err := g.GetIntent("dup-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPendingApproval, got.Status)
}

func TestTamperedParamsRejected(t *testing.T) {
	g, v := newTestGateway(t)
	in := signedIntent(t, v, types.IntentDisarm, "dis-2")
	in.Params["venue"] = "okx"

	dec := g.SubmitIntent(context.Background(), in)
	assert.Equal(t, types.StatusRejectedSignature, dec.Status)
}

func TestUnknownOperatorKeyRejected(t *testing.T) {
	g, v := newTestGateway(t)
	in := signedIntent(t, v, types.IntentDisarm, "dis-3")
	in.OperatorID = "mallory"

	dec := g.SubmitIntent(context.Background(), in)
	assert.Equal(t, types.StatusRejectedSignature, dec.Status)
	assert.Equal(t, ErrUnauthorizedKey.Error(), dec.Err)
}

func TestMissingReasonRejected(t *testing.T) {
	g, v := newTestGateway(t)
	in := signedIntent(t, v, types.IntentArm, "arm-4")
	in.Reason = ""

	dec := g.SubmitIntent(context.Background(), in)
	assert.Empty(t, dec.Status)
	assert.Equal(t, ErrReasonRequired.Error(), dec.Err)
}

func TestExecutorFailureLandsUnverified(t *testing.T) {
	g, v := newTestGateway(t)
	g.RegisterExecutor(types.IntentArm, func(context.Context, *types.OperatorIntent) (*types.IntentReceipt, error) {
		return nil, errors.New("venue unreachable")
	})

	dec := g.SubmitIntent(context.Background(), signedIntent(t, v, types.IntentArm, "arm-5"))
	assert.Equal(t, types.StatusUnverified, dec.Status)
	require.NotNil(t, dec.Receipt)
	assert.Contains(t, dec.Receipt.Error, "venue unreachable")
}

func TestExecutorPanicContained(t *testing.T) {
	g, v := newTestGateway(t)
	g.RegisterExecutor(types.IntentArm, func(context.Context, *types.OperatorIntent) (*types.IntentReceipt, error) {
		panic("boom")
	})

	dec := g.SubmitIntent(context.Background(), signedIntent(t, v, types.IntentArm, "arm-6"))
	assert.Equal(t, types.StatusUnverified, dec.Status)
	assert.Contains(t, dec.Receipt.Error, "executor panic")
}

func TestMissingExecutorLandsUnverified(t *testing.T) {
	g, v := newTestGateway(t)

	dec := g.SubmitIntent(context.Background(), signedIntent(t, v, types.IntentRunReconcile, "rec-1"))
	assert.Equal(t, types.StatusUnverified, dec.Status)
	assert.Equal(t, ErrNoExecutor.Error(), dec.Receipt.Error)
}

func TestTTLExpiryMarksUnverified(t *testing.T) {
	g, v := newTestGateway(t)

	in := signedIntent(t, v, types.IntentFlatten, "flat-ttl")
	in.TTLSeconds = 1
	payload, _ := canonicalPayload(in)
	in.Signature, _ = v.Sign(payload, "alice")

	dec := g.SubmitIntent(context.Background(), in)
	require.Equal(t, types.StatusPendingApproval, dec.Status)

	time.Sleep(300 * time.Millisecond)
	got, err := g.GetIntent("flat-ttl")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPendingApproval, got.Status, "must not expire before the TTL")

	require.Eventually(t, func() bool {
		got, err := g.GetIntent("flat-ttl")
		return err == nil && got.Status == types.StatusUnverified
	}, 3*time.Second, 50*time.Millisecond)

	got, err = g.GetIntent("flat-ttl")
	require.NoError(t, err)
	assert.Contains(t, got.Receipt.Error, "TTL expired")
	assert.Equal(t, 0, g.PendingApprovalCount())
}

func TestApprovalCancelsTTLTimer(t *testing.T) {
	g, v := newTestGateway(t)
	g.RegisterExecutor(types.IntentFlatten, okExecutor(nil))

	in := signedIntent(t, v, types.IntentFlatten, "flat-fast")
	in.TTLSeconds = 1
	payload, _ := canonicalPayload(in)
	in.Signature, _ = v.Sign(payload, "alice")

	g.SubmitIntent(context.Background(), in)
	_, err := g.ApproveIntent(context.Background(), "flat-fast", "bob")
	require.NoError(t, err)

	time.Sleep(1500 * time.Millisecond)
	got, err := g.GetIntent("flat-fast")
	require.NoError(t, err)
	assert.Equal(t, types.StatusVerified, got.Status, "expiry must not fire after resolution")
}

func TestPendingApprovalCountReconciles(t *testing.T) {
	g, v := newTestGateway(t)
	g.RegisterExecutor(types.IntentFlatten, okExecutor(nil))
	g.RegisterExecutor(types.IntentArm, okExecutor(nil))

	g.SubmitIntent(context.Background(), signedIntent(t, v, types.IntentFlatten, "p-1"))
	g.SubmitIntent(context.Background(), signedIntent(t, v, types.IntentOverrideRisk, "p-2"))
	g.SubmitIntent(context.Background(), signedIntent(t, v, types.IntentArm, "p-3"))
	assert.Equal(t, 2, g.PendingApprovalCount())

	_, err := g.ApproveIntent(context.Background(), "p-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, g.PendingApprovalCount())

	require.NoError(t, g.RejectIntent("p-2", "bob", "nope"))
	assert.Equal(t, 0, g.PendingApprovalCount())
}

func TestConcurrentApprovalsRaceSafely(t *testing.T) {
	g, v := newTestGateway(t)
	var calls atomic.Int64
	g.RegisterExecutor(types.IntentFlatten, okExecutor(&calls))

	g.SubmitIntent(context.Background(), signedIntent(t, v, types.IntentFlatten, "race-1"))

	var wg sync.WaitGroup
	var wins atomic.Int64
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.ApproveIntent(context.Background(), "race-1", "bob"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load(), "exactly one approval may win")
	assert.Equal(t, int64(1), calls.Load(), "executor runs once")
}

type memIntentStore struct {
	mu      sync.Mutex
	records map[string]*types.OperatorIntent
}

func newMemIntentStore() *memIntentStore {
	return &memIntentStore{records: make(map[string]*types.OperatorIntent)}
}

func (m *memIntentStore) SaveIntent(_ context.Context, in *types.OperatorIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[in.ID] = in.Clone()
	return nil
}

func (m *memIntentStore) LoadIntents(_ context.Context) ([]*types.OperatorIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.OperatorIntent, 0, len(m.records))
	for _, in := range m.records {
		out = append(out, in.Clone())
	}
	return out, nil
}

var _ store.IntentStore = (*memIntentStore)(nil)

func TestHydrateRestoresAndExpires(t *testing.T) {
	st := newMemIntentStore()
	v := testVerifier()

	stale := signedIntent(t, v, types.IntentFlatten, "old-1")
	stale.Status = types.StatusPendingApproval
	stale.SubmittedAt = time.Now().Add(-10 * time.Minute)
	stale.TTLSeconds = 60
	require.NoError(t, st.SaveIntent(context.Background(), stale))

	fresh := signedIntent(t, v, types.IntentFlatten, "new-1")
	fresh.Status = types.StatusPendingApproval
	fresh.SubmittedAt = time.Now()
	fresh.TTLSeconds = 600
	require.NoError(t, st.SaveIntent(context.Background(), fresh))

	done := signedIntent(t, v, types.IntentArm, "done-1")
	done.Status = types.StatusVerified
	require.NoError(t, st.SaveIntent(context.Background(), done))

	g := NewGateway(v, st, nil, nil, time.Minute, nil)
	defer g.Close()
	require.NoError(t, g.Hydrate(context.Background()))

	old, err := g.GetIntent("old-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusUnverified, old.Status)
	assert.Contains(t, old.Receipt.Error, "TTL expired")

	assert.Equal(t, 1, g.PendingApprovalCount())

	kept, err := g.GetIntent("done-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusVerified, kept.Status)
}
