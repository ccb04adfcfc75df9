package audit

import "time"

// Record is one append-only audit event: an intent transition or a posted
// ledger transaction.
type Record struct {
	Timestamp time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	SubjectID string    `json:"subject_id"`
	Actor     string    `json:"actor,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Sink is the durable audit collaborator. The core guarantees it calls
// Append exactly once per transition; durability is the sink's concern.
type Sink interface {
	Append(rec Record) error
}

// Discard drops all records. Used in tests.
type Discard struct{}

func (Discard) Append(Record) error { return nil }
