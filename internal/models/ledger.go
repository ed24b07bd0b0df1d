package models

import "time"

type EntryKind string

const (
	EntryCharge  EntryKind = "charge"
	EntryHold    EntryKind = "hold"
	EntryRelease EntryKind = "release"
	EntryRefund  EntryKind = "refund"
	EntryPayout  EntryKind = "payout"
	EntryFee     EntryKind = "fee"
)

func (k EntryKind) Valid() bool {
	switch k {
	case EntryCharge, EntryHold, EntryRelease, EntryRefund, EntryPayout, EntryFee:
		return true
	}
	return false
}

type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryCompleted EntryStatus = "completed"
	EntryFailed    EntryStatus = "failed"
)

func (s EntryStatus) Valid() bool {
	return s == EntryPending || s == EntryCompleted || s == EntryFailed
}

// Reserved ledger parties. Every other party is a user id.
const (
	PartyEscrow   = "escrow"
	PartyPlatform = "platform"
	PartyExternal = "external"
)

// GenesisHash is the prev_hash of the first entry in every task chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// LedgerEntry is one immutable money movement tied to a task.
// Entries of a task form a hash chain ordered by Seq.
type LedgerEntry struct {
	ID        string      `json:"id"`
	TaskID    string      `json:"task_id"`
	Seq       uint64      `json:"seq"`
	FromParty string      `json:"from_party"`
	ToParty   string      `json:"to_party"`
	Kind      EntryKind   `json:"kind"`
	Amount    Amount      `json:"amount"`
	Currency  string      `json:"currency"`
	Status    EntryStatus `json:"status"`
	Reference string      `json:"reference,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	PrevHash  string      `json:"prev_hash"`
	Hash      string      `json:"hash"`
	Signature string      `json:"signature"`
}

// HashPayload is the canonical content covered by Hash.
func (e *LedgerEntry) HashPayload() map[string]interface{} {
	return map[string]interface{}{
		"id":         e.ID,
		"task_id":    e.TaskID,
		"seq":        e.Seq,
		"from_party": e.FromParty,
		"to_party":   e.ToParty,
		"kind":       string(e.Kind),
		"amount":     int64(e.Amount),
		"currency":   e.Currency,
		"status":     string(e.Status),
		"reference":  e.Reference,
		"created_at": e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
