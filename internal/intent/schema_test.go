package intent

import (
	"testing"

	"custos/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validWire = `{
  "id": "in-1",
  "idempotency_key": "k-1",
  "version": 1,
  "type": "FLATTEN",
  "params": {"scope": "all"},
  "operator_id": "alice",
  "reason": "breaker tripped",
  "submitted_at": "2026-03-01T12:00:00Z",
  "ttl_seconds": 120,
  "signature": "abc123"
}`

func TestParseWireValid(t *testing.T) {
	in, err := ParseWire([]byte(validWire))
	require.NoError(t, err)
	assert.Equal(t, "in-1", in.ID)
	assert.Equal(t, types.IntentFlatten, in.Type)
	assert.Equal(t, "alice", in.OperatorID)
	assert.Equal(t, 120, in.TTLSeconds)
	assert.Equal(t, "all", in.Params["scope"])
	assert.Equal(t, 2026, in.SubmittedAt.Year())
}

func TestParseWireMissingRequiredField(t *testing.T) {
	_, err := ParseWire([]byte(`{"id": "in-2", "type": "ARM"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSchema)
}

func TestParseWireEmptyReason(t *testing.T) {
	raw := `{"id":"in-3","idempotency_key":"k-3","type":"ARM","operator_id":"alice","reason":"","signature":"x"}`
	_, err := ParseWire([]byte(raw))
	assert.ErrorIs(t, err, ErrInvalidSchema)
}

func TestParseWireMalformedJSON(t *testing.T) {
	_, err := ParseWire([]byte(`{"id": `))
	assert.ErrorIs(t, err, ErrInvalidSchema)
}

func TestParseWireNegativeTTL(t *testing.T) {
	raw := `{"id":"in-4","idempotency_key":"k-4","type":"ARM","operator_id":"alice","reason":"r","signature":"x","ttl_seconds":-5}`
	_, err := ParseWire([]byte(raw))
	assert.ErrorIs(t, err, ErrInvalidSchema)
}
