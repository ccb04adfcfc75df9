package intent

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"custos/internal/types"
)

// Verifier checks an intent signature against the key registered for the
// submitting operator. Implementations fail closed: an unknown key id is a
// rejection, never an error that escapes the gateway.
type Verifier interface {
	Verify(payload []byte, signature, keyID string) (bool, error)
}

// HMACVerifier signs the canonical intent tuple with a per-operator shared
// secret. Good enough for a single-org deployment; swap for asymmetric keys
// when operators stop sharing an ops vault.
type HMACVerifier struct {
	keys map[string]string
}

func NewHMACVerifier(keys map[string]string) *HMACVerifier {
	cp := make(map[string]string, len(keys))
	for id, secret := range keys {
		cp[id] = secret
	}
	return &HMACVerifier{keys: cp}
}

func (v *HMACVerifier) Verify(payload []byte, signature, keyID string) (bool, error) {
	secret, ok := v.keys[keyID]
	if !ok {
		return false, ErrUnauthorizedKey
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature)), nil
}

// Sign computes the signature an operator client would attach. Used by
// tests and the local CLI.
func (v *HMACVerifier) Sign(payload []byte, keyID string) (string, error) {
	secret, ok := v.keys[keyID]
	if !ok {
		return "", ErrUnauthorizedKey
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// canonicalPayload serializes the signed tuple deterministically. Map keys
// are sorted by encoding/json, so equal intents always produce equal bytes.
func canonicalPayload(in *types.OperatorIntent) ([]byte, error) {
	tuple := struct {
		ID         string           `json:"id"`
		Type       types.IntentType `json:"type"`
		Params     map[string]any   `json:"params"`
		OperatorID string           `json:"operator_id"`
	}{in.ID, in.Type, in.Params, in.OperatorID}
	b, err := json.Marshal(tuple)
	if err != nil {
		return nil, fmt.Errorf("canonicalize intent %s: %w", in.ID, err)
	}
	return b, nil
}
