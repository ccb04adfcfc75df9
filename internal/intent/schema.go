package intent

import (
	"encoding/json"
	"fmt"
	"time"

	"custos/internal/types"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

const wireSchema = `{
  "type": "object",
  "required": ["id", "idempotency_key", "type", "operator_id", "reason", "signature"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "idempotency_key": {"type": "string", "minLength": 1},
    "version": {"type": "integer", "minimum": 1},
    "type": {"type": "string", "minLength": 1},
    "params": {"type": "object"},
    "operator_id": {"type": "string", "minLength": 1},
    "reason": {"type": "string", "minLength": 1},
    "submitted_at": {"type": "string"},
    "ttl_seconds": {"type": "integer", "minimum": 0},
    "signature": {"type": "string", "minLength": 1}
  }
}`

var compiledWireSchema = jsonschema.MustCompileString("intent.json", wireSchema)

// ValidateWire checks a raw submission against the intent wire schema.
func ValidateWire(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if err := compiledWireSchema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return nil
}

// ParseWire validates and decodes a raw submission into an intent record.
func ParseWire(raw []byte) (*types.OperatorIntent, error) {
	if err := ValidateWire(raw); err != nil {
		return nil, err
	}
	in := &types.OperatorIntent{
		ID:             gjson.GetBytes(raw, "id").String(),
		IdempotencyKey: gjson.GetBytes(raw, "idempotency_key").String(),
		Version:        int(gjson.GetBytes(raw, "version").Int()),
		Type:           types.IntentType(gjson.GetBytes(raw, "type").String()),
		OperatorID:     gjson.GetBytes(raw, "operator_id").String(),
		Reason:         gjson.GetBytes(raw, "reason").String(),
		Signature:      gjson.GetBytes(raw, "signature").String(),
		TTLSeconds:     int(gjson.GetBytes(raw, "ttl_seconds").Int()),
	}
	if p := gjson.GetBytes(raw, "params"); p.Exists() {
		params := make(map[string]any)
		if err := json.Unmarshal([]byte(p.Raw), &params); err != nil {
			return nil, fmt.Errorf("%w: params: %v", ErrInvalidSchema, err)
		}
		in.Params = params
	}
	if ts := gjson.GetBytes(raw, "submitted_at").String(); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			in.SubmittedAt = t
		}
	}
	return in, nil
}
