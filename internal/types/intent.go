package types

import (
	"time"
)

// IntentType identifies the privileged action an operator is requesting.
type IntentType string

const (
	IntentArm           IntentType = "ARM"
	IntentDisarm        IntentType = "DISARM"
	IntentFlatten       IntentType = "FLATTEN"
	IntentOverrideRisk  IntentType = "OVERRIDE_RISK"
	IntentSetMode       IntentType = "SET_MODE"
	IntentThrottlePhase IntentType = "THROTTLE_PHASE"
	IntentRunReconcile  IntentType = "RUN_RECONCILE"
)

type IntentStatus string

const (
	StatusReceived          IntentStatus = "RECEIVED"
	StatusRejectedSignature IntentStatus = "REJECTED_SIGNATURE"
	StatusIdempotentHit     IntentStatus = "IDEMPOTENT_HIT"
	StatusPendingApproval   IntentStatus = "PENDING_APPROVAL"
	StatusAccepted          IntentStatus = "ACCEPTED"
	StatusExecuting         IntentStatus = "EXECUTING"
	StatusVerified          IntentStatus = "VERIFIED"
	StatusUnverified        IntentStatus = "UNVERIFIED"
	StatusRejected          IntentStatus = "REJECTED"
)

// Terminal reports whether no further transition may leave this status.
func (s IntentStatus) Terminal() bool {
	switch s {
	case StatusVerified, StatusUnverified, StatusRejected, StatusRejectedSignature, StatusIdempotentHit:
		return true
	}
	return false
}

// OperatorIntent is a signed, auditable request for a privileged action.
// Created once on submission and mutated only by the gateway's transition
// functions; retained forever for audit.
type OperatorIntent struct {
	ID             string         `json:"id"`
	IdempotencyKey string         `json:"idempotency_key"`
	Version        int            `json:"version"`
	Type           IntentType     `json:"type"`
	Params         map[string]any `json:"params,omitempty"`
	OperatorID     string         `json:"operator_id"`
	Reason         string         `json:"reason"`
	Signature      string         `json:"signature"`
	SubmittedAt    time.Time      `json:"submitted_at"`
	TTLSeconds     int            `json:"ttl_seconds"`

	Status          IntentStatus   `json:"status"`
	ApproverID      string         `json:"approver_id,omitempty"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
	Receipt         *IntentReceipt `json:"receipt,omitempty"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
}

// IntentReceipt records the outcome of executing an intent.
type IntentReceipt struct {
	Effect     string         `json:"effect"`
	PriorState map[string]any `json:"prior_state,omitempty"`
	NewState   map[string]any `json:"new_state,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Clone returns a deep enough copy for handing out of the gateway's lock.
func (in *OperatorIntent) Clone() *OperatorIntent {
	if in == nil {
		return nil
	}
	cp := *in
	if in.Params != nil {
		cp.Params = make(map[string]any, len(in.Params))
		for k, v := range in.Params {
			cp.Params[k] = v
		}
	}
	if in.Receipt != nil {
		r := *in.Receipt
		cp.Receipt = &r
	}
	if in.ResolvedAt != nil {
		t := *in.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}
