package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careledger/careledger/internal/platform/crypto"
)

// Action classifies what the audited request did.
type Action string

const (
	ActionCreate    Action = "CREATE"
	ActionRead      Action = "READ"
	ActionUpdate    Action = "UPDATE"
	ActionDelete    Action = "DELETE"
	ActionLogin     Action = "LOGIN"
	ActionLogout    Action = "LOGOUT"
	ActionExport    Action = "EXPORT"
	ActionEmergency Action = "EMERGENCY"
)

// Valid reports whether a is one of the recognized audit actions.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete,
		ActionLogin, ActionLogout, ActionExport, ActionEmergency:
		return true
	}
	return false
}

// Actor identifies who performed an audited action. Events reference the
// actor by id only so the ledger survives deletion of the referenced user.
type Actor struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	IPAddress string `json:"ip_address"`
	SessionID string `json:"session_id"`
}

// Event is one immutable entry in the hash-chained audit ledger. Events are
// created only by Ledger.Append and are never updated or deleted; the
// migration DDL additionally blocks UPDATE/DELETE at the storage layer.
//
// Hash is computed as SHA-256(hash_previous || canonical encoding of the
// event's deterministic fields); HashPrevious is empty for the first event.
// The encrypted envelopes and the random id stay outside the hash so that
// replaying identical drafts reproduces identical chain hashes; the plaintext
// digests OldValueHash and NewValueHash bind the values into the chain
// instead.
type Event struct {
	ID              uuid.UUID        `db:"id" json:"id"`
	Seq             int64            `db:"seq" json:"seq"`
	Timestamp       time.Time        `db:"ts" json:"timestamp"`
	ActorID         string           `db:"actor_id" json:"actor_id"`
	ActorRole       string           `db:"actor_role" json:"actor_role"`
	IPAddress       string           `db:"ip_address" json:"ip_address"`
	Action          Action           `db:"action" json:"action"`
	ResourceType    string           `db:"resource_type" json:"resource_type"`
	ResourceID      string           `db:"resource_id" json:"resource_id"`
	Endpoint        string           `db:"endpoint" json:"endpoint"`
	HTTPMethod      string           `db:"http_method" json:"http_method"`
	StatusCode      int              `db:"status_code" json:"status_code"`
	OldValue        *crypto.Envelope `db:"old_value" json:"old_value,omitempty"`
	NewValue        *crypto.Envelope `db:"new_value" json:"new_value,omitempty"`
	OldValueHash    string           `db:"old_value_hash" json:"old_value_hash,omitempty"`
	NewValueHash    string           `db:"new_value_hash" json:"new_value_hash,omitempty"`
	ClinicalContext string           `db:"clinical_context" json:"clinical_context"`
	SessionID       string           `db:"session_id" json:"session_id"`
	HashPrevious    string           `db:"hash_previous" json:"hash_previous"`
	Hash            string           `db:"hash" json:"hash"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
}

// Draft is the caller-facing shape of an event before it is chained. Old and
// new values arrive as plaintext and are encrypted during Append; they never
// reach the repository unencrypted.
type Draft struct {
	Timestamp       time.Time `json:"timestamp"`
	Actor           Actor     `json:"actor"`
	Action          Action    `json:"action"`
	ResourceType    string    `json:"resource_type"`
	ResourceID      string    `json:"resource_id"`
	Endpoint        string    `json:"endpoint"`
	HTTPMethod      string    `json:"http_method"`
	StatusCode      int       `json:"status_code"`
	OldValue        []byte    `json:"old_value,omitempty"`
	NewValue        []byte    `json:"new_value,omitempty"`
	ClinicalContext string    `json:"clinical_context"`
}

// Head identifies the current end of the chain. The zero value means the
// ledger is empty.
type Head struct {
	Seq  int64  `json:"seq"`
	Hash string `json:"hash"`
}

// ChainConflictError is returned when the optimistic-concurrency append loop
// exhausts its retries. It indicates contention beyond expected bounds and
// must be alerted on, never swallowed.
type ChainConflictError struct {
	Attempts int
}

func (e *ChainConflictError) Error() string {
	return fmt.Sprintf("audit append lost the chain head race %d times", e.Attempts)
}

// VerifyResult is the outcome of re-verifying a single event.
type VerifyResult struct {
	Seq          int64  `json:"seq"`
	EventID      uuid.UUID `json:"event_id"`
	StoredHash   string `json:"stored_hash"`
	ComputedHash string `json:"computed_hash"`
	HashOK       bool   `json:"hash_ok"`
	LinkOK       bool   `json:"link_ok"`
}

// OK reports whether the event passed both the recomputation check and the
// predecessor-link check.
func (r VerifyResult) OK() bool { return r.HashOK && r.LinkOK }

// IntegrityReport summarizes a verification pass over a chain range.
type IntegrityReport struct {
	FromSeq         int64  `json:"from_seq"`
	ToSeq           int64  `json:"to_seq"`
	Checked         int64  `json:"checked"`
	Valid           bool   `json:"valid"`
	FirstDivergence *int64 `json:"first_divergence,omitempty"`
}
