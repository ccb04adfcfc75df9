package adminhttp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"custos/internal/intent"
	"custos/internal/projection"
	"custos/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, secret, id string, typ types.IntentType, params map[string]any, operator string) string {
	t.Helper()
	tuple := struct {
		ID         string           `json:"id"`
		Type       types.IntentType `json:"type"`
		Params     map[string]any   `json:"params"`
		OperatorID string           `json:"operator_id"`
	}{id, typ, params, operator}
	payload, err := json.Marshal(tuple)
	require.NoError(t, err)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func wireIntent(t *testing.T, id string, typ types.IntentType) []byte {
	t.Helper()
	params := map[string]any{"scope": "all"}
	body := map[string]any{
		"id":              id,
		"idempotency_key": "key-" + id,
		"version":         1,
		"type":            string(typ),
		"params":          params,
		"operator_id":     "alice",
		"reason":          "drill",
		"ttl_seconds":     60,
		"signature":       sign(t, "s3cret", id, typ, params, "alice"),
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return raw
}

func newTestRouter(t *testing.T) (*gin.Engine, *intent.Gateway) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	verifier := intent.NewHMACVerifier(map[string]string{"alice": "s3cret"})
	gw := intent.NewGateway(verifier, nil, nil, nil, time.Minute, nil)
	t.Cleanup(gw.Close)
	gw.RegisterExecutor(types.IntentArm, func(_ context.Context, _ *types.OperatorIntent) (*types.IntentReceipt, error) {
		return &types.IntentReceipt{Effect: "armed"}, nil
	})

	proj := projection.New(gw, nil, nil, nil, nil)
	r := NewRouter(gw, nil, proj, nil)
	engine := gin.New()
	r.Register(engine.Group("/api"))
	return engine, gw
}

func do(engine *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestSubmitCriticalIntentPends(t *testing.T) {
	engine, gw := newTestRouter(t)

	w := do(engine, http.MethodPost, "/api/intents", wireIntent(t, "web-1", types.IntentFlatten))
	require.Equal(t, http.StatusOK, w.Code)

	var dec intent.Decision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dec))
	assert.Equal(t, types.StatusPendingApproval, dec.Status)
	assert.Equal(t, 1, gw.PendingApprovalCount())
}

func TestSubmitRejectsBadSignature(t *testing.T) {
	engine, _ := newTestRouter(t)

	raw := wireIntent(t, "web-2", types.IntentFlatten)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	body["signature"] = "deadbeef"
	bad, _ := json.Marshal(body)

	w := do(engine, http.MethodPost, "/api/intents", bad)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSubmitRejectsInvalidSchema(t *testing.T) {
	engine, _ := newTestRouter(t)
	w := do(engine, http.MethodPost, "/api/intents", []byte(`{"id": "x"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApproveAndRejectFlow(t *testing.T) {
	engine, gw := newTestRouter(t)

	do(engine, http.MethodPost, "/api/intents", wireIntent(t, "web-3", types.IntentFlatten))
	do(engine, http.MethodPost, "/api/intents", wireIntent(t, "web-4", types.IntentOverrideRisk))
	require.Equal(t, 2, gw.PendingApprovalCount())

	w := do(engine, http.MethodPost, "/api/intents/web-3/approve", []byte(`{"approver_id":"bob"}`))
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(engine, http.MethodPost, "/api/intents/web-4/reject", []byte(`{"approver_id":"bob","reason":"not now"}`))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, gw.PendingApprovalCount())

	// Approving a resolved intent conflicts.
	w = do(engine, http.MethodPost, "/api/intents/web-4/approve", []byte(`{"approver_id":"bob"}`))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestApproveUnknownIntentIs404(t *testing.T) {
	engine, _ := newTestRouter(t)
	w := do(engine, http.MethodPost, "/api/intents/ghost/approve", []byte(`{"approver_id":"bob"}`))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPendingCountEndpoint(t *testing.T) {
	engine, _ := newTestRouter(t)
	do(engine, http.MethodPost, "/api/intents", wireIntent(t, "web-5", types.IntentFlatten))

	w := do(engine, http.MethodGet, "/api/intents/pending/count", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, 1, out["pending"])
}

func TestStateEndpoint(t *testing.T) {
	engine, _ := newTestRouter(t)
	do(engine, http.MethodPost, "/api/intents", wireIntent(t, "web-6", types.IntentFlatten))

	w := do(engine, http.MethodGet, "/api/state?include_intents=true", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var snap projection.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, 1, snap.PendingApprovals)
	assert.Len(t, snap.Intents, 1)
}
